// Package portal implements the Captive Portal / Credentials Server of
// spec.md §4.8: an AP + DNS hijack + HTTP form that collects WiFi SSID/PSK
// and IoP email/password, authenticating each as it arrives.
package portal

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/miekg/dns"

	"github.com/internet-of-plants/iop-core/internal/apiclient"
	"github.com/internet-of-plants/iop-core/internal/hwfacade"
	"github.com/internet-of-plants/iop-core/internal/logging"
	"github.com/internet-of-plants/iop-core/internal/netclient"
	"github.com/internet-of-plants/iop-core/internal/store"
)

// apIP is the AP's static address (spec.md §6: "AP 192.168.1.1, netmask
// 255.255.255.0").
var apIP = [4]byte{192, 168, 1, 1}

// staticLeaseIP is the single address handed to joining clients; the
// portal only ever expects one owner interacting with it at a time.
var staticLeaseIP = net.IPv4(192, 168, 1, 2)

const (
	httpPort = 80
	dnsPort  = 53

	// connectTimeout bounds how long connect() waits for a station result
	// (spec.md §4.8: "wait up to an implementation-defined timeout").
	connectTimeout = 20 * time.Second
)

// submission is the per-request slot the HTTP form handler stashes
// non-empty fields into (spec.md §4.8 "setup()").
type submission struct {
	wifiSSID, wifiPSK     string
	iopEmail, iopPassword string
}

// Portal is the Captive Portal / Credentials Server.
type Portal struct {
	facade hwfacade.Facade
	api    *apiclient.Client
	store  *store.Store
	log    *logging.Logger

	mu        sync.Mutex
	open      bool
	apSSID    string
	apPSK     string
	pending   submission
	hasPendng bool

	httpServer *http.Server
	dnsServer  *dns.Server
	dhcpConn   net.PacketConn
	dhcpDone   chan struct{}
}

// New constructs a Portal. Route registration happens lazily, each time the
// portal transitions to Open: every transition builds a fresh router.
func New(facade hwfacade.Facade, api *apiclient.Client, st *store.Store, log *logging.Logger) *Portal {
	return &Portal{facade: facade, api: api, store: st, log: log}
}

// SetAccessPointCredentials must be called before Serve (spec.md §4.8).
func (p *Portal) SetAccessPointCredentials(ssid, psk string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.apSSID = ssid
	p.apPSK = psk
}

// IsOpen reports whether the portal is currently in the Open state.
func (p *Portal) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// openPortal transitions Closed -> Open: AP up, HTTP server on port 80, DNS
// hijack on port 53, DHCP handing out the single static lease.
func (p *Portal) openPortal() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open {
		return nil
	}

	if err := p.facade.StartAccessPoint(p.apSSID, p.apPSK, apIP); err != nil {
		return err
	}

	router := mux.NewRouter()
	router.HandleFunc("/submit", p.handleSubmit).Methods(http.MethodPost)
	router.PathPrefix("/").HandlerFunc(p.handleForm).Methods(http.MethodGet)

	p.httpServer = &http.Server{Addr: apAddr(httpPort), Handler: router}
	go func() {
		if err := p.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			p.log.Warn("portal: HTTP server exited: ", err.Error())
		}
	}()

	p.dnsServer = &dns.Server{Addr: apAddr(dnsPort), Net: "udp", Handler: dns.HandlerFunc(p.serveDNS)}
	go func() {
		if err := p.dnsServer.ListenAndServe(); err != nil {
			p.log.Warn("portal: DNS server exited: ", err.Error())
		}
	}()

	if err := p.startDHCP(); err != nil {
		p.log.Warn("portal: DHCP server failed to start: ", err.Error())
	}

	p.open = true
	p.log.Info("portal: open")
	return nil
}

// close tears down the Open state, returning whether it was open.
func (p *Portal) close() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return false
	}

	if p.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = p.httpServer.Shutdown(ctx)
		cancel()
		p.httpServer = nil
	}
	if p.dnsServer != nil {
		_ = p.dnsServer.Shutdown()
		p.dnsServer = nil
	}
	p.stopDHCP()

	_ = p.facade.StopAccessPoint()
	p.open = false
	p.log.Info("portal: closed")
	return true
}

// Close is the exported form of close for callers outside the package
// (spec.md §4.8 "close() -> bool").
func (p *Portal) Close() bool { return p.close() }

// Serve ensures Open state, then reacts to whatever form submission has
// arrived since the last call: a WiFi pair triggers a station connect
// attempt; an IoP pair, once the station is connected, triggers
// authenticate. Returns a token on successful authentication.
func (p *Portal) Serve(ctx context.Context) (store.AuthToken, bool) {
	if err := p.openPortal(); err != nil {
		p.log.Error("portal: failed to open: ", err.Error())
		return store.AuthToken{}, false
	}

	p.mu.Lock()
	sub := p.pending
	hasSub := p.hasPendng
	p.hasPendng = false
	p.mu.Unlock()

	if !hasSub {
		return store.AuthToken{}, false
	}

	if sub.wifiSSID != "" {
		if err := p.connect(ctx, sub.wifiSSID, sub.wifiPSK); err != nil {
			p.log.Warn("portal: station connect failed: ", err.Error())
		}
	}

	if sub.iopEmail != "" && p.facade.StationStatus() == hwfacade.StationConnected {
		return p.authenticate(ctx, sub.iopEmail, sub.iopPassword)
	}

	return store.AuthToken{}, false
}

// connect implements spec.md §4.8's connect(ssid, psk) procedure.
func (p *Portal) connect(ctx context.Context, ssid, psk string) error {
	if p.facade.StationStatus() == hwfacade.StationConnecting {
		unlock := p.facade.InterruptLock()
		p.facade.DisconnectStation()
		unlock()
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	creds := credentialsFromStrings(ssid, psk)
	err := p.facade.ConnectStation(ctx, creds)
	p.log.Info("portal: station status after connect attempt: ", strconv.Itoa(int(p.facade.StationStatus())))
	return err
}

// authenticate implements spec.md §4.8's "Authenticate procedure inside the
// portal." The original's "switch to STA mode, then back to AP+STA" step
// has no analogue here: hwfacade.Facade models station and AP as
// independent, simultaneously-available interfaces, so there is no mode
// toggle to perform.
func (p *Portal) authenticate(ctx context.Context, email, password string) (store.AuthToken, bool) {
	token, status := p.api.Authenticate(ctx, email, password)
	switch status {
	case netclient.Ok:
		return token, true
	case netclient.Forbidden:
		p.log.Warn("portal: authenticate: forbidden")
		return store.AuthToken{}, false
	default:
		p.log.Warn("portal: authenticate: ", status.String())
		return store.AuthToken{}, false
	}
}

func apAddr(port int) string {
	return net.JoinHostPort(net.IP(apIP[:]).String(), strconv.Itoa(port))
}

func credentialsFromStrings(ssid, psk string) hwfacade.Credentials {
	var c hwfacade.Credentials
	copy(c.SSID[:], ssid)
	copy(c.PSK[:], psk)
	return c
}
