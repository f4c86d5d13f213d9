// Package apiclient implements the typed operations of spec.md §4.7 on top
// of the Network Client: authenticate, registerEvent, reportPanic,
// registerLog, upgrade.
package apiclient

import (
	"context"

	ioperrors "github.com/internet-of-plants/iop-core/internal/errors"
	"github.com/internet-of-plants/iop-core/internal/hwfacade"
	"github.com/internet-of-plants/iop-core/internal/interrupt"
	"github.com/internet-of-plants/iop-core/internal/logging"
	"github.com/internet-of-plants/iop-core/internal/netclient"
	"github.com/internet-of-plants/iop-core/internal/panicpipe"
	"github.com/internet-of-plants/iop-core/internal/sensors"
	"github.com/internet-of-plants/iop-core/internal/store"
)

// Client wraps netclient.Client with the five endpoints spec.md §4.7/§6
// describe. It also implements panicpipe.Reporter, so the same value can be
// handed to panicpipe.Pipeline.SetReporter once both are constructed.
type Client struct {
	net   *netclient.Client
	log   *logging.Logger
	queue *interrupt.Queue
}

// New constructs a Client and performs the setup spec.md §4.7 describes:
// installing the upgrade hook (schedules MustUpgrade) and the
// WiFi-connected hook (schedules WifiConnected).
func New(net *netclient.Client, facade hwfacade.Facade, log *logging.Logger, queue *interrupt.Queue) *Client {
	c := &Client{net: net, log: log, queue: queue}

	net.SetUpgradeHook(func() {
		queue.Schedule(interrupt.MustUpgrade)
	})
	facade.OnStationConnected(func() {
		queue.Schedule(interrupt.WifiConnected)
	})

	return c
}

// Authenticate implements spec.md §4.7's authenticate endpoint. An empty
// email or password short-circuits to Forbidden without making a request.
func (c *Client) Authenticate(ctx context.Context, email, password string) (store.AuthToken, netclient.Status) {
	if email == "" || password == "" {
		return store.AuthToken{}, netclient.Forbidden
	}

	body, ok := buildEnvelope(c.log, "authenticate", DefaultJSONCapacity, struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}{email, password})
	if !ok {
		return store.AuthToken{}, netclient.BrokenClient
	}

	resp, err := c.net.HTTPPostAnonymous(ctx, "/v1/user/login", body)
	if err != nil {
		return store.AuthToken{}, netclient.BrokenClient
	}
	if resp.Status != netclient.Ok {
		return store.AuthToken{}, resp.Status
	}

	if len(resp.Payload) != 64 {
		return store.AuthToken{}, netclient.BrokenServer
	}
	var token store.AuthToken
	copy(token[:], resp.Payload)
	if !token.Printable() {
		return store.AuthToken{}, netclient.BrokenServer
	}
	return token, netclient.Ok
}

// RegisterEvent implements spec.md §4.7's registerEvent endpoint.
func (c *Client) RegisterEvent(ctx context.Context, token store.AuthToken, reading sensors.Reading) netclient.Status {
	body, ok := buildEnvelope(c.log, "registerEvent", DefaultJSONCapacity, struct {
		AirTempC           float32 `json:"airTempC"`
		AirHumidityPct     float32 `json:"airHumidityPct"`
		AirHeatIndexC      float32 `json:"airHeatIndexC"`
		SoilTempC          float32 `json:"soilTempC"`
		SoilResistivityRaw uint16  `json:"soilResistivityRaw"`
	}{reading.AirTempC, reading.AirHumidityPct, reading.AirHeatIndexC, reading.SoilTempC, reading.SoilResistivityRaw})
	if !ok {
		return netclient.BrokenClient
	}

	resp, err := c.net.HTTPPost(ctx, token.String(), "/v1/event", body)
	if err != nil {
		return netclient.BrokenClient
	}
	return resp.Status
}

// ReportPanic implements spec.md §4.4/§4.7's reportPanic endpoint. The fixed
// JSON envelope capacity means a long panic message can overflow the
// document; per spec.md §8, the message is halved and re-encoded until it
// fits. If halving reaches zero length and the envelope still doesn't fit
// (file/line/func alone exceed capacity, which can only be a firmware bug),
// the panicker itself panics.
func (c *Client) ReportPanic(ctx context.Context, token store.AuthToken, data panicpipe.Data) panicpipe.Classification {
	msg := data.Msg
	var body []byte
	for {
		var ok bool
		body, ok = buildEnvelope(c.log, "reportPanic", DefaultJSONCapacity, struct {
			File string `json:"file"`
			Line uint32 `json:"line"`
			Func string `json:"func"`
			Msg  string `json:"msg"`
		}{data.Point.File, data.Point.Line, data.Point.Func, msg})
		if ok {
			break
		}
		if len(msg) == 0 {
			panic("apiclient: reportPanic envelope exceeds capacity with an empty message")
		}
		msg = msg[:len(msg)/2]
	}

	resp, err := c.net.HTTPPost(ctx, token.String(), "/v1/panic", body)
	if err != nil {
		return panicpipe.ClassTransient
	}
	return classifyStatus(resp.Status)
}

// Upgrade implements spec.md §4.4/§4.7's upgrade endpoint: GET /v1/update,
// distinguishing "no update available" (an Ok response with an empty body,
// which also covers the server's 304) from a new image to apply.
func (c *Client) Upgrade(ctx context.Context, token store.AuthToken) panicpipe.UpgradeOutcome {
	resp, err := c.net.HTTPGet(ctx, token.String(), "/v1/update")
	if err != nil {
		c.log.Warn("apiclient: upgrade: request failed")
		return panicpipe.UpgradeFailed
	}
	if resp.Status != netclient.Ok {
		c.log.Warn("apiclient: upgrade: server returned ", resp.Status.String())
		return panicpipe.UpgradeFailed
	}
	if len(resp.Payload) == 0 {
		return panicpipe.UpgradeNoUpdate
	}

	if err := applyUpgrade(resp.Payload); err != nil {
		c.log.Error("apiclient: upgrade: apply failed: ", err.Error())
		return panicpipe.UpgradeFailed
	}
	return panicpipe.UpgradeApplied
}

// classifyStatus buckets a raw netclient.Status into the transient/fatal
// classification the panic pipeline's terminal policy needs.
func classifyStatus(s netclient.Status) panicpipe.Classification {
	switch s {
	case netclient.Ok:
		return panicpipe.ClassOk
	case netclient.Forbidden:
		return panicpipe.ClassForbidden
	case netclient.ConnectionIssues, netclient.BrokenServer:
		return panicpipe.ClassTransient
	default:
		return panicpipe.ClassFatal
	}
}

// RegisterLog implements spec.md §4.7/§6's registerLog endpoint: raw text
// body, no JSON envelope, bearer-authenticated.
func (c *Client) RegisterLog(ctx context.Context, token store.AuthToken, text string) netclient.Status {
	resp, err := c.net.HTTPPost(ctx, token.String(), "/v1/log", []byte(text))
	if err != nil {
		return netclient.ConnectionIssues
	}
	return resp.Status
}

// remoteLogSink adapts Client.RegisterLog to logging.RemoteSink: the
// Logger only knows how to call RegisterLog(text); the current token has to
// be fetched lazily, since logging may start before a token exists and the
// sink must not cache a token across renewal.
type remoteLogSink struct {
	client  *Client
	tokenFn func() (store.AuthToken, bool)
}

// NewRemoteLogSink builds the logging.RemoteSink used to arm a Logger's
// remote mirroring. Each RegisterLog call fetches the current token through
// tokenFn and fails without a request when there is none.
func NewRemoteLogSink(c *Client, tokenFn func() (store.AuthToken, bool)) logging.RemoteSink {
	return &remoteLogSink{client: c, tokenFn: tokenFn}
}

func (r *remoteLogSink) RegisterLog(text string) error {
	token, ok := r.tokenFn()
	if !ok {
		return errRegisterLogNoToken
	}
	if status := r.client.RegisterLog(context.Background(), token, text); status != netclient.Ok {
		return errRegisterLogFailed
	}
	return nil
}

var (
	errRegisterLogNoToken = ioperrors.New(ioperrors.KindUnavailable, "apiclient: registerLog: no auth token")
	errRegisterLogFailed  = ioperrors.New(ioperrors.KindUnavailable, "apiclient: registerLog: request failed")
)
