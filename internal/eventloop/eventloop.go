// Package eventloop implements the Event Loop of spec.md §4.9: the single
// goroutine that drains the interrupt queue, drives WiFi/IoP credential
// acquisition, and runs the registered periodic tasks once connected and
// authenticated.
package eventloop

import (
	"context"
	"time"

	"github.com/internet-of-plants/iop-core/internal/apiclient"
	"github.com/internet-of-plants/iop-core/internal/config"
	"github.com/internet-of-plants/iop-core/internal/hwfacade"
	"github.com/internet-of-plants/iop-core/internal/interrupt"
	"github.com/internet-of-plants/iop-core/internal/logging"
	"github.com/internet-of-plants/iop-core/internal/netclient"
	"github.com/internet-of-plants/iop-core/internal/panicpipe"
	"github.com/internet-of-plants/iop-core/internal/portal"
	"github.com/internet-of-plants/iop-core/internal/sensors"
	"github.com/internet-of-plants/iop-core/internal/store"
	"github.com/internet-of-plants/iop-core/internal/telemetry"
)

// Cadences named in spec.md §4.9's field list. nextHandleConnectionLost
// doubles as the "once per minute, open a captive portal round" gate for
// both the not-connected and connected-without-token branches: both
// converge on the same steady-state behavior (retry a fresh provisioning
// round at a fixed interval), so one timer serves both.
const (
	ntpSyncInterval          = 6 * time.Hour
	credentialRetryInterval  = 1 * time.Hour
	connectionLostInterval   = 1 * time.Minute
	yieldLogInterval         = 10 * time.Second
	defaultMeasurementPeriod = 180 * time.Second
)

// Task is a plain periodic callback, independent of authentication state.
type Task func(ctx context.Context, l *Loop)

// AuthenticatedTask is a periodic callback that only runs while a token is
// present; it is handed the token so it never has to re-fetch it.
type AuthenticatedTask func(ctx context.Context, l *Loop, token store.AuthToken)

type scheduledTask struct {
	nextDue  time.Time
	interval time.Duration
	fn       Task
}

type scheduledAuthTask struct {
	nextDue  time.Time
	interval time.Duration
	fn       AuthenticatedTask
}

// Loop is the process-wide Event Loop (spec.md §4.9).
type Loop struct {
	facade  hwfacade.Facade
	store   *store.Store
	log     *logging.Logger
	queue   *interrupt.Queue
	api     *apiclient.Client
	portal  *portal.Portal
	cfg     config.Config
	metrics *telemetry.Metrics

	apSSID string
	apPSK  string

	nextNTPSync              time.Time
	nextTryStoredWifi        time.Time
	nextTryHardcodedWifi     time.Time
	nextTryHardcodedIop      time.Time
	nextHandleConnectionLost time.Time
	nextYieldLog             time.Time

	tasks              []scheduledTask
	authenticatedTasks []scheduledAuthTask
}

// New constructs a Loop. apSSID/apPSK are the credentials the captive
// portal advertises while Open (spec.md §4.8 "setAccessPointCredentials").
// metrics may be nil, in which case the loop runs without instrumentation
// (used by tests that don't care about telemetry).
func New(facade hwfacade.Facade, st *store.Store, log *logging.Logger, queue *interrupt.Queue, api *apiclient.Client, prt *portal.Portal, cfg config.Config, metrics *telemetry.Metrics, apSSID, apPSK string) *Loop {
	now := facade.Now()
	return &Loop{
		facade:  facade,
		store:   st,
		log:     log,
		queue:   queue,
		api:     api,
		portal:  prt,
		cfg:     cfg,
		metrics: metrics,
		apSSID:  apSSID,
		apPSK:   apPSK,

		nextNTPSync:              now,
		nextTryStoredWifi:        now,
		nextTryHardcodedWifi:     now,
		nextTryHardcodedIop:      now,
		nextHandleConnectionLost: now,
		nextYieldLog:             now,
	}
}

// RegisterTask adds a plain periodic task, due immediately on the next
// iteration and thereafter every interval.
func (l *Loop) RegisterTask(interval time.Duration, fn Task) {
	l.tasks = append(l.tasks, scheduledTask{nextDue: l.facade.Now(), interval: interval, fn: fn})
}

// RegisterAuthenticatedTask adds a periodic task that only runs while a
// token is present.
func (l *Loop) RegisterAuthenticatedTask(interval time.Duration, fn AuthenticatedTask) {
	l.authenticatedTasks = append(l.authenticatedTasks, scheduledAuthTask{nextDue: l.facade.Now(), interval: interval, fn: fn})
}

// RegisterMeasurementTask wires the default sensor-sampling task described
// in spec.md §4.9/§6: read the sensors, registerEvent, and drop the token
// on Forbidden (spec.md §7: "the Event Loop is the sole consumer that
// mutates state on Forbidden").
func (l *Loop) RegisterMeasurementTask(sens sensors.Sensors) {
	interval := l.cfg.SamplingInterval
	if interval <= 0 {
		interval = defaultMeasurementPeriod
	}
	l.RegisterAuthenticatedTask(interval, func(ctx context.Context, l *Loop, token store.AuthToken) {
		reading := sens.Measure()
		status := l.api.RegisterEvent(ctx, token, reading)
		if status == netclient.Ok && l.metrics != nil {
			l.metrics.MeasurementsSent.Inc()
		}
		if status == netclient.Forbidden {
			if err := l.store.RemoveToken(); err != nil {
				l.log.Error("eventloop: remove token after forbidden: ", err.Error())
			}
		}
	})
}

// Run drives iterations forever until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	for ctx.Err() == nil {
		l.runIteration(ctx)
		l.facade.Yield()
	}
}

// RunIterations drives exactly n iterations; used by tests that need
// deterministic progress instead of Run's unbounded loop.
func (l *Loop) RunIterations(ctx context.Context, n int) {
	for i := 0; i < n && ctx.Err() == nil; i++ {
		l.runIteration(ctx)
	}
}

// runIteration is the one-iteration algorithm of spec.md §4.9.
func (l *Loop) runIteration(ctx context.Context) {
	if l.metrics != nil {
		l.metrics.LoopIterations.Inc()
		l.metrics.FreeHeapBytes.Set(float64(l.facade.MemStats().FreeDRAM))
	}

	for {
		ev := l.queue.Deschedule()
		if ev == interrupt.None {
			break
		}
		l.handleInterrupt(ctx, ev)
	}

	now := l.facade.Now()
	token, hasToken := l.store.GetToken()
	connected := l.facade.StationStatus() == hwfacade.StationConnected

	if connected && hasToken && l.portal.IsOpen() {
		l.portal.Close()
	}

	ran := false
	switch {
	case connected && !l.nextNTPSync.After(now):
		if err := l.facade.SyncNTP(ctx); err != nil {
			l.log.Warn("eventloop: NTP sync failed: ", err.Error())
		}
		l.nextNTPSync = now.Add(ntpSyncInterval)
		ran = true
	case connected && !hasToken:
		l.runIopCredentialsStrategy(ctx, now)
		ran = true
	case !connected:
		l.runNotConnectedStrategy(ctx, now)
		ran = true
	default:
		if l.runAuthenticatedTasks(ctx, now, token) {
			ran = true
		}
	}

	if l.runTasks(ctx, now) {
		ran = true
	}

	if !ran && !l.nextYieldLog.After(now) {
		l.log.Trace("eventloop: idle")
		l.nextYieldLog = now.Add(yieldLogInterval)
	}
}

// handleInterrupt implements spec.md §4.9's interrupt handlers.
func (l *Loop) handleInterrupt(ctx context.Context, ev interrupt.Event) {
	switch ev {
	case interrupt.FactoryReset:
		if err := l.store.RemoveWifi(); err != nil {
			l.log.Error("eventloop: factory reset: remove wifi: ", err.Error())
		}
		if err := l.store.RemoveToken(); err != nil {
			l.log.Error("eventloop: factory reset: remove token: ", err.Error())
		}
		l.facade.DisconnectStation()
		l.log.Warn("eventloop: factory reset")
	case interrupt.MustUpgrade:
		token, ok := l.store.GetToken()
		if !ok {
			return
		}
		if l.metrics != nil {
			l.metrics.UpgradesAttempted.Inc()
		}
		switch l.api.Upgrade(ctx, token) {
		case panicpipe.UpgradeApplied:
			// Never reached: a successful upgrade execs into the new image.
		case panicpipe.UpgradeFailed:
			l.log.Warn("eventloop: upgrade attempt failed")
		case panicpipe.UpgradeNoUpdate:
		}
	case interrupt.WifiConnected:
		creds, ok := l.facade.CurrentStationConfig()
		if !ok {
			return
		}
		stored, hasStored := l.store.GetWifi()
		if !hasStored || stored != creds {
			if _, err := l.store.SetWifi(creds); err != nil {
				l.log.Error("eventloop: persist wifi after connect: ", err.Error())
			}
		}
	case interrupt.None:
	}
}

// runNotConnectedStrategy implements spec.md §4.9's "Not-connected
// strategy": prefer stored credentials (hourly), else hardcoded
// credentials (hourly), else open a captive portal round (once a minute).
func (l *Loop) runNotConnectedStrategy(ctx context.Context, now time.Time) {
	if creds, ok := l.store.GetWifi(); ok && !l.nextTryStoredWifi.After(now) {
		l.nextTryStoredWifi = now.Add(credentialRetryInterval)
		if err := l.facade.ConnectStation(ctx, creds); err != nil {
			l.log.Warn("eventloop: stored wifi connect failed: ", err.Error())
		}
		return
	}

	if creds, ok := l.cfg.HardcodedWifiCredentials(); ok && !l.nextTryHardcodedWifi.After(now) {
		l.nextTryHardcodedWifi = now.Add(credentialRetryInterval)
		if err := l.facade.ConnectStation(ctx, creds); err != nil {
			l.log.Warn("eventloop: hardcoded wifi connect failed: ", err.Error())
		}
		return
	}

	if !l.nextHandleConnectionLost.After(now) {
		l.nextHandleConnectionLost = now.Add(connectionLostInterval)
		l.portal.SetAccessPointCredentials(l.apSSID, l.apPSK)
		if token, ok := l.portal.Serve(ctx); ok {
			if _, err := l.store.SetToken(token); err != nil {
				l.log.Error("eventloop: persist token from portal: ", err.Error())
			}
		}
	}
}

// runIopCredentialsStrategy implements spec.md §4.9's credentials
// acquisition path taken once the link is up but no token exists: try
// hardcoded IoP credentials hourly, else open a captive portal round.
func (l *Loop) runIopCredentialsStrategy(ctx context.Context, now time.Time) {
	if hw := l.cfg.HardcodedIop; hw != nil && !l.nextTryHardcodedIop.After(now) {
		l.nextTryHardcodedIop = now.Add(credentialRetryInterval)
		if token, status := l.api.Authenticate(ctx, hw.Name, hw.Password); status == netclient.Ok {
			if _, err := l.store.SetToken(token); err != nil {
				l.log.Error("eventloop: persist token from hardcoded auth: ", err.Error())
			}
		} else {
			if l.metrics != nil {
				l.metrics.AuthFailures.Inc()
			}
			l.log.Warn("eventloop: hardcoded IoP auth failed: ", status.String())
		}
		return
	}

	if !l.nextHandleConnectionLost.After(now) {
		l.nextHandleConnectionLost = now.Add(connectionLostInterval)
		l.portal.SetAccessPointCredentials(l.apSSID, l.apPSK)
		if token, ok := l.portal.Serve(ctx); ok {
			if _, err := l.store.SetToken(token); err != nil {
				l.log.Error("eventloop: persist token from portal: ", err.Error())
			}
		}
	}
}

func (l *Loop) runAuthenticatedTasks(ctx context.Context, now time.Time, token store.AuthToken) bool {
	ran := false
	for i := range l.authenticatedTasks {
		t := &l.authenticatedTasks[i]
		if t.nextDue.After(now) {
			continue
		}
		t.fn(ctx, l, token)
		t.nextDue = now.Add(t.interval)
		ran = true
	}
	return ran
}

func (l *Loop) runTasks(ctx context.Context, now time.Time) bool {
	ran := false
	for i := range l.tasks {
		t := &l.tasks[i]
		if t.nextDue.After(now) {
			continue
		}
		t.fn(ctx, l)
		t.nextDue = now.Add(t.interval)
		ran = true
	}
	return ran
}
