// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/internet-of-plants/iop-core/internal/certstore"
	"github.com/internet-of-plants/iop-core/internal/hwfacade"
	"github.com/internet-of-plants/iop-core/internal/interrupt"
	"github.com/internet-of-plants/iop-core/internal/logging"
	"github.com/internet-of-plants/iop-core/internal/netclient"
	"github.com/internet-of-plants/iop-core/internal/panicpipe"
	"github.com/internet-of-plants/iop-core/internal/sensors"
	"github.com/internet-of-plants/iop-core/internal/store"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *hwfacade.Sim, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)

	f := hwfacade.NewSim(time.Unix(0, 0), "aa:bb:cc:dd:ee:ff")
	require.NoError(t, f.ConnectStation(context.Background(), hwfacade.Credentials{}))

	log := logging.New("test", logging.NoLog)
	certs, err := certstore.New(nil)
	require.NoError(t, err)
	net, err := netclient.Setup(srv.URL, f, log, certs, time.Second)
	require.NoError(t, err)

	q := interrupt.New(f, log)
	c := New(net, f, log, q)
	return c, f, srv.Close
}

func validToken() store.AuthToken {
	var tok store.AuthToken
	copy(tok[:], strings.Repeat("a", 64))
	return tok
}

func TestAuthenticate_EmptyFieldsAreForbidden(t *testing.T) {
	c, _, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("must not contact the server with empty credentials")
	})
	defer closeSrv()

	_, status := c.Authenticate(context.Background(), "", "pw")
	assert.Equal(t, netclient.Forbidden, status)
}

func TestAuthenticate_Success(t *testing.T) {
	want := validToken()
	c, _, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(want[:])
	})
	defer closeSrv()

	got, status := c.Authenticate(context.Background(), "a@b.com", "pw")
	require.Equal(t, netclient.Ok, status)
	assert.Equal(t, want, got)
}

func TestAuthenticate_MalformedTokenIsBrokenServer(t *testing.T) {
	c, _, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("too short"))
	})
	defer closeSrv()

	_, status := c.Authenticate(context.Background(), "a@b.com", "pw")
	assert.Equal(t, netclient.BrokenServer, status)
}

func TestRegisterEvent_PostsSensorReading(t *testing.T) {
	var body map[string]any
	c, _, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	})
	defer closeSrv()

	reading := sensors.Reading{AirTempC: 21.5, AirHumidityPct: 55}
	status := c.RegisterEvent(context.Background(), validToken(), reading)

	assert.Equal(t, netclient.Ok, status)
	assert.Equal(t, 21.5, body["airTempC"])
}

func TestReportPanic_HalvesMessageOnOverflow(t *testing.T) {
	var gotMsg string
	c, _, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var decoded struct {
			Msg string `json:"msg"`
		}
		json.NewDecoder(r.Body).Decode(&decoded)
		gotMsg = decoded.Msg
		w.WriteHeader(http.StatusOK)
	})
	defer closeSrv()

	huge := strings.Repeat("x", DefaultJSONCapacity*2)
	data := panicpipe.Data{Msg: huge, Point: panicpipe.Point{File: "main.go", Line: 1, Func: "run"}}

	class := c.ReportPanic(context.Background(), validToken(), data)
	assert.Equal(t, panicpipe.ClassOk, class)
	assert.Less(t, len(gotMsg), len(huge))
}

func TestReportPanic_ClassifiesForbidden(t *testing.T) {
	c, _, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	defer closeSrv()

	class := c.ReportPanic(context.Background(), validToken(), panicpipe.Data{Msg: "oops"})
	assert.Equal(t, panicpipe.ClassForbidden, class)
}

func TestUpgrade_NoUpdateOnEmptyPayload(t *testing.T) {
	c, _, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	})
	defer closeSrv()

	outcome := c.Upgrade(context.Background(), validToken())
	assert.Equal(t, panicpipe.UpgradeNoUpdate, outcome)
}

func TestUpgrade_FailedOnServerError(t *testing.T) {
	c, _, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer closeSrv()

	outcome := c.Upgrade(context.Background(), validToken())
	assert.Equal(t, panicpipe.UpgradeFailed, outcome)
}

func TestRegisterLog_BearerAuthenticated(t *testing.T) {
	var gotAuth, gotBody string
	c, _, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		buf := make([]byte, 64)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusOK)
	})
	defer closeSrv()

	status := c.RegisterLog(context.Background(), validToken(), "hello")
	assert.Equal(t, netclient.Ok, status)
	assert.Equal(t, "Basic "+validToken().String(), gotAuth)
	assert.Equal(t, "hello", gotBody)
}

func TestRemoteLogSink_NoTokenReturnsError(t *testing.T) {
	c, _, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("must not make a request without a token")
	})
	defer closeSrv()

	sink := NewRemoteLogSink(c, func() (store.AuthToken, bool) { return store.AuthToken{}, false })
	err := sink.RegisterLog("hello")
	assert.ErrorIs(t, err, errRegisterLogNoToken)
}

func TestRemoteLogSink_ForwardsToRegisterLog(t *testing.T) {
	called := false
	c, _, closeSrv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	defer closeSrv()

	tok := validToken()
	sink := NewRemoteLogSink(c, func() (store.AuthToken, bool) { return tok, true })
	err := sink.RegisterLog("hello")
	require.NoError(t, err)
	assert.True(t, called)
}
