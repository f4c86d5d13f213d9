// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netclient

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/internet-of-plants/iop-core/internal/certstore"
	"github.com/internet-of-plants/iop-core/internal/hwfacade"
	"github.com/internet-of-plants/iop-core/internal/logging"
)

func newConnectedFacade(t *testing.T) *hwfacade.Sim {
	t.Helper()
	f := hwfacade.NewSim(time.Unix(0, 0), "aa:bb:cc:dd:ee:ff")
	require.NoError(t, f.ConnectStation(context.Background(), hwfacade.Credentials{}))
	return f
}

func newClient(t *testing.T, srv *httptest.Server, facade hwfacade.Facade) *Client {
	t.Helper()
	certs, err := certstore.New(nil)
	require.NoError(t, err)
	c, err := Setup(srv.URL, facade, logging.New("test", logging.NoLog), certs, time.Second)
	require.NoError(t, err)
	return c
}

func TestSetup_RejectsSchemelessURI(t *testing.T) {
	certs, _ := certstore.New(nil)
	_, err := Setup("iop.example.com", hwfacade.NewSim(time.Unix(0, 0), "x"), logging.New("t", logging.NoLog), certs, time.Second)
	assert.Error(t, err)
}

func TestHTTPRequest_NotConnectedShortCircuits(t *testing.T) {
	f := hwfacade.NewSim(time.Unix(0, 0), "aa:bb:cc:dd:ee:ff")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request must not reach the server when disconnected")
	}))
	defer srv.Close()

	c := newClient(t, srv, f)
	resp, err := c.HTTPGet(context.Background(), "tok", "/v1/update")
	require.NoError(t, err)
	assert.Equal(t, ConnectionIssues, resp.Status)
}

func TestHTTPRequest_StatusMapping(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := newConnectedFacade(t)
	c := newClient(t, srv, f)

	resp, err := c.HTTPPost(context.Background(), "mytoken", "/v1/event", []byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, Forbidden, resp.Status)
	assert.Equal(t, "Basic mytoken", gotAuth, "the Authorization header must be the literal token, not base64-encoded Basic auth")
}

func TestHTTPRequest_OversizedBodyIsBrokenServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("x"), maxBodyBytes+1))
	}))
	defer srv.Close()

	f := newConnectedFacade(t)
	c := newClient(t, srv, f)

	resp, err := c.HTTPGet(context.Background(), "tok", "/v1/update")
	require.NoError(t, err)
	assert.Equal(t, BrokenServer, resp.Status)
}

func TestHTTPRequest_UpgradeHookFiresOnVersionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("LATEST_VERSION", "some-other-hash")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newConnectedFacade(t)
	c := newClient(t, srv, f)

	fired := false
	c.SetUpgradeHook(func() { fired = true })

	_, err := c.HTTPGet(context.Background(), "tok", "/v1/update")
	require.NoError(t, err)
	assert.True(t, fired)
}

func TestHTTPRequest_UpgradeHookSkippedOnMatchingVersion(t *testing.T) {
	f := newConnectedFacade(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("LATEST_VERSION", f.FirmwareHash())
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newClient(t, srv, f)
	fired := false
	c.SetUpgradeHook(func() { fired = true })

	_, err := c.HTTPGet(context.Background(), "tok", "/v1/update")
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestAddIdentityHeaders_SetOnEveryRequest(t *testing.T) {
	var gotMAC, gotDriver string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMAC = r.Header.Get("MAC_ADDRESS")
		gotDriver = r.Header.Get("DRIVER")
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newConnectedFacade(t)
	c := newClient(t, srv, f)

	_, err := c.HTTPGet(context.Background(), "tok", "/v1/update")
	require.NoError(t, err)
	assert.Equal(t, f.MacAddress(), gotMAC)
	assert.Equal(t, "sim", gotDriver)
}
