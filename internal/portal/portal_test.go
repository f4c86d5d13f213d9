// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package portal

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/internet-of-plants/iop-core/internal/apiclient"
	"github.com/internet-of-plants/iop-core/internal/certstore"
	"github.com/internet-of-plants/iop-core/internal/hwfacade"
	"github.com/internet-of-plants/iop-core/internal/interrupt"
	"github.com/internet-of-plants/iop-core/internal/logging"
	"github.com/internet-of-plants/iop-core/internal/netclient"
	"github.com/internet-of-plants/iop-core/internal/store"
)

func newTestPortal(t *testing.T, handler http.HandlerFunc) (*Portal, *hwfacade.Sim, *store.Store, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)

	facade := hwfacade.NewSim(time.Unix(0, 0), "aa:bb:cc:dd:ee:ff")
	log := logging.New("test", logging.NoLog)
	certs, err := certstore.New(nil)
	require.NoError(t, err)
	nc, err := netclient.Setup(srv.URL, facade, log, certs, time.Second)
	require.NoError(t, err)

	q := interrupt.New(facade, log)
	api := apiclient.New(nc, facade, log, q)

	st, err := store.Setup(filepath.Join(t.TempDir(), "state.bin"))
	require.NoError(t, err)

	return New(facade, api, st, log), facade, st, srv.Close
}

func TestConnect_ConnectsStation(t *testing.T) {
	p, facade, _, closeSrv := newTestPortal(t, func(w http.ResponseWriter, r *http.Request) {})
	defer closeSrv()

	err := p.connect(context.Background(), "myssid", "mypassword")
	require.NoError(t, err)
	assert.Equal(t, hwfacade.StationConnected, facade.StationStatus())
}

func TestConnect_DisconnectsBeforeRetryingWhileConnecting(t *testing.T) {
	p, facade, _, closeSrv := newTestPortal(t, func(w http.ResponseWriter, r *http.Request) {})
	defer closeSrv()

	facade.ForceStationStatus(hwfacade.StationConnecting)
	err := p.connect(context.Background(), "myssid", "mypassword")
	require.NoError(t, err)
	assert.Equal(t, hwfacade.StationConnected, facade.StationStatus())
}

func TestAuthenticate_SuccessReturnsToken(t *testing.T) {
	var want store.AuthToken
	copy(want[:], []byte("deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbe01"))

	p, _, _, closeSrv := newTestPortal(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(want[:])
	})
	defer closeSrv()

	tok, ok := p.authenticate(context.Background(), "a@b.com", "pw")
	require.True(t, ok)
	assert.Equal(t, want, tok)
}

func TestAuthenticate_ForbiddenReturnsFalse(t *testing.T) {
	p, _, _, closeSrv := newTestPortal(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	defer closeSrv()

	_, ok := p.authenticate(context.Background(), "a@b.com", "wrongpw")
	assert.False(t, ok)
}

func TestHandleForm_RendersBothFieldsetsWhenNothingSet(t *testing.T) {
	p, _, _, closeSrv := newTestPortal(t, func(w http.ResponseWriter, r *http.Request) {})
	defer closeSrv()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	p.handleForm(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, "WiFi credentials")
	assert.Contains(t, body, "Internet of Plants account")
}

func TestHandleForm_OmitsWifiFieldsetWhenConnected(t *testing.T) {
	p, facade, _, closeSrv := newTestPortal(t, func(w http.ResponseWriter, r *http.Request) {})
	defer closeSrv()
	require.NoError(t, facade.ConnectStation(context.Background(), hwfacade.Credentials{}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	p.handleForm(rec, req)

	assert.NotContains(t, rec.Body.String(), "WiFi credentials")
}

func TestHandleForm_OmitsIopFieldsetWhenTokenPresent(t *testing.T) {
	p, _, st, closeSrv := newTestPortal(t, func(w http.ResponseWriter, r *http.Request) {})
	defer closeSrv()

	var tok store.AuthToken
	copy(tok[:], []byte("deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbe01"))
	_, err := st.SetToken(tok)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	p.handleForm(rec, req)

	assert.NotContains(t, rec.Body.String(), "Internet of Plants account")
}

func TestHandleSubmit_StashesPendingSubmission(t *testing.T) {
	p, _, _, closeSrv := newTestPortal(t, func(w http.ResponseWriter, r *http.Request) {})
	defer closeSrv()

	form := "ssid=myssid&password=mypassword&iopEmail=a%40b.com&iopPassword=pw"
	req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	p.handleSubmit(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, p.hasPendng)
	assert.Equal(t, "myssid", p.pending.wifiSSID)
	assert.Equal(t, "a@b.com", p.pending.iopEmail)
}

type fakeDNSWriter struct {
	written *dns.Msg
}

func (f *fakeDNSWriter) LocalAddr() net.Addr         { return &net.UDPAddr{} }
func (f *fakeDNSWriter) RemoteAddr() net.Addr        { return &net.UDPAddr{} }
func (f *fakeDNSWriter) WriteMsg(m *dns.Msg) error    { f.written = m; return nil }
func (f *fakeDNSWriter) Write(b []byte) (int, error) { return len(b), nil }
func (f *fakeDNSWriter) Close() error                { return nil }
func (f *fakeDNSWriter) TsigStatus() error           { return nil }
func (f *fakeDNSWriter) TsigTimersOnly(bool)         {}
func (f *fakeDNSWriter) Hijack()                     {}

func TestServeDNS_AnswersEveryQueryWithAPAddress(t *testing.T) {
	p, _, _, closeSrv := newTestPortal(t, func(w http.ResponseWriter, r *http.Request) {})
	defer closeSrv()

	req := new(dns.Msg)
	req.SetQuestion("captive.example.com.", dns.TypeA)

	w := &fakeDNSWriter{}
	p.serveDNS(w, req)

	require.NotNil(t, w.written)
	require.Len(t, w.written.Answer, 1)
	a, ok := w.written.Answer[0].(*dns.A)
	require.True(t, ok)
	assert.Equal(t, net.IP(apIP[:]).To4(), a.A.To4())
}
