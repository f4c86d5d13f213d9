// Package netclient implements the Network Client of spec.md §4.5: a
// one-shot HTTP(S) request engine against a configured base URI, with
// identity/telemetry header injection, upgrade-header detection, and a
// response size cap.
package netclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	ioperrors "github.com/internet-of-plants/iop-core/internal/errors"
	"github.com/internet-of-plants/iop-core/internal/certstore"
	"github.com/internet-of-plants/iop-core/internal/hwfacade"
	"github.com/internet-of-plants/iop-core/internal/logging"
)

// maxBodyBytes is the response size cap of spec.md §4.5 step 8.
const maxBodyBytes = 2048

// DefaultTimeout is the per-request timeout of spec.md §5 ("60 seconds,
// configurable").
const DefaultTimeout = 60 * time.Second

// UpgradeHook is the process-wide, replaceable callback spec.md §4.5
// describes: invoked at most once per request when a LATEST_VERSION header
// differs from the running firmware hash. The default is a no-op.
type UpgradeHook func()

// Client is the Network Client (spec.md §4.5). Only one request is ever
// in flight at a time (spec.md §5: "the loop never starts a second request
// before the first completes"), so Client carries no internal concurrency
// beyond what net/http already serializes per caller.
type Client struct {
	baseURI *url.URL
	facade  hwfacade.Facade
	log     *logging.Logger
	http    *http.Client

	mu          sync.Mutex
	upgradeHook UpgradeHook
}

// Setup validates baseURI, installs certs into the TLS engine, and returns a
// ready Client. Whether TLS is used follows baseURI's scheme alone: with an
// https URI and nil certs, TLS still runs against the host's default roots;
// plain HTTP is used only for an http URI. Idempotent in the sense that calling it again with a fresh
// Client is always safe; there is no shared mutable setup state to corrupt.
func Setup(baseURI string, facade hwfacade.Facade, log *logging.Logger, certs *certstore.Store, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURI)
	if err != nil || u.Scheme == "" {
		return nil, ioperrors.Errorf(ioperrors.KindInvariant, "netclient: base URI %q has no scheme", baseURI)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := &http.Transport{}
	if u.Scheme == "https" {
		tlsCfg := &tls.Config{}
		certs.InstallInto(tlsCfg)
		transport.TLSClientConfig = tlsCfg
	}

	c := &Client{
		baseURI:     u,
		facade:      facade,
		log:         log,
		http:        &http.Client{Transport: transport, Timeout: timeout},
		upgradeHook: func() {},
	}
	return c, nil
}

// SetUpgradeHook replaces the process-wide upgrade hook.
func (c *Client) SetUpgradeHook(hook UpgradeHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hook == nil {
		hook = func() {}
	}
	c.upgradeHook = hook
}

// HTTPPost issues an authenticated POST.
func (c *Client) HTTPPost(ctx context.Context, token string, path string, data []byte) (Response, error) {
	return c.HTTPRequest(ctx, http.MethodPost, &token, path, data)
}

// HTTPPostAnonymous issues an unauthenticated POST.
func (c *Client) HTTPPostAnonymous(ctx context.Context, path string, data []byte) (Response, error) {
	return c.HTTPRequest(ctx, http.MethodPost, nil, path, data)
}

// HTTPPut issues an authenticated PUT.
func (c *Client) HTTPPut(ctx context.Context, token string, path string, data []byte) (Response, error) {
	return c.HTTPRequest(ctx, http.MethodPut, &token, path, data)
}

// HTTPGet issues an authenticated GET.
func (c *Client) HTTPGet(ctx context.Context, token string, path string) (Response, error) {
	return c.HTTPRequest(ctx, http.MethodGet, &token, path, nil)
}

// HTTPRequest is the underlying primitive every typed helper calls through
// (spec.md §4.5).
func (c *Client) HTTPRequest(ctx context.Context, method string, token *string, path string, data []byte) (Response, error) {
	if c.facade.StationStatus() != hwfacade.StationConnected {
		return Response{Status: ConnectionIssues}, nil
	}

	target := *c.baseURI
	target.Path = target.Path + path

	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return Response{Status: ConnectionIssues}, nil
	}

	if token != nil {
		// Historical quirk preserved exactly (spec.md §6/Design Notes §9):
		// "Basic " + raw token, not real HTTP Basic auth.
		req.Header.Set("Authorization", "Basic "+*token)
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.addIdentityHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("netclient: request failed: ", err.Error())
		return Response{Status: ConnectionIssues}, nil
	}
	defer resp.Body.Close()

	if latest := resp.Header.Get("LATEST_VERSION"); latest != "" && latest != c.facade.FirmwareHash() {
		c.mu.Lock()
		hook := c.upgradeHook
		c.mu.Unlock()
		hook()
	}

	declared := resp.ContentLength
	if declared > maxBodyBytes {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return Response{Status: BrokenServer}, nil
	}

	limited := io.LimitReader(resp.Body, maxBodyBytes+1)
	payload, err := io.ReadAll(limited)
	if err != nil {
		return Response{Status: ConnectionIssues}, nil
	}
	if len(payload) > maxBodyBytes {
		return Response{Status: BrokenServer}, nil
	}

	status, raw := classify(resp.StatusCode)
	if status == -1 {
		c.log.Warn("netclient: unrecognized status code ", strconv.Itoa(raw))
		return Response{}, fmt.Errorf("netclient: unrecognized status code %d", raw)
	}

	return Response{Status: status, Payload: payload}, nil
}

// classify maps a raw HTTP status code to a NetworkStatus per spec.md
// §4.5's table. status == -1 signals "unknown, bubble the raw code."
func classify(code int) (status Status, raw int) {
	switch code {
	case http.StatusOK, http.StatusNotModified:
		// 304 is the "no update available" response to GET /v1/update
		// (spec.md §6); it is not an error, just an empty-payload Ok.
		return Ok, code
	case http.StatusForbidden:
		return Forbidden, code
	case http.StatusInternalServerError, http.StatusNotFound, http.StatusNotAcceptable:
		return BrokenServer, code
	default:
		return -1, code
	}
}

func (c *Client) addIdentityHeaders(req *http.Request) {
	mem := c.facade.MemStats()
	req.Header.Set("MAC_ADDRESS", c.facade.MacAddress())
	req.Header.Set("VERSION", c.facade.FirmwareHash())
	req.Header.Set("FREE_STACK", strconv.FormatUint(mem.FreeStack, 10))
	req.Header.Set("FREE_DRAM", strconv.FormatUint(mem.FreeDRAM, 10))
	req.Header.Set("BIGGEST_DRAM_BLOCK", strconv.FormatUint(mem.BiggestDRAMBlock, 10))
	req.Header.Set("FREE_IRAM", strconv.FormatUint(mem.FreeIRAM, 10))
	req.Header.Set("BIGGEST_IRAM_BLOCK", strconv.FormatUint(mem.BiggestIRAMBlock, 10))
	req.Header.Set("VCC", strconv.FormatFloat(float64(c.facade.VCC()), 'f', 2, 32))
	req.Header.Set("TIME_RUNNING", strconv.FormatInt(c.facade.Now().UnixMilli(), 10))
	req.Header.Set("ORIGIN", c.baseURI.String())
	req.Header.Set("DRIVER", c.facade.Platform())
}
