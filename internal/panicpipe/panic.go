// Package panicpipe implements the panic/self-recovery pipeline described
// in spec.md §4.4: on a fatal assertion, log, optionally report to the
// server, attempt one upgrade, and deep-sleep/reset.
package panicpipe

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/internet-of-plants/iop-core/internal/hwfacade"
	"github.com/internet-of-plants/iop-core/internal/logging"
	"github.com/internet-of-plants/iop-core/internal/store"
)

// Point is the code-point a panic was raised from.
type Point struct {
	File string
	Line uint32
	Func string
}

// Data is one panic occurrence (spec.md §3).
type Data struct {
	Msg   string
	Point Point
}

// Reporter is the narrow API Client contract the pipeline needs. Defined
// here (rather than imported from apiclient) to avoid an import cycle:
// apiclient.Client itself uses a Logger, and the Logger's remote hook is
// armed/disarmed by code that also knows about panics.
type Reporter interface {
	ReportPanic(ctx context.Context, token store.AuthToken, data Data) Classification
	Upgrade(ctx context.Context, token store.AuthToken) UpgradeOutcome
}

// Classification is the transient/fatal bucketing the terminal policy
// needs from a ReportPanic/Upgrade attempt, independent of the full
// NetworkStatus enum (kept local so panicpipe does not depend on
// netclient; apiclient maps netclient statuses onto it).
type Classification int

const (
	ClassOk Classification = iota
	ClassForbidden
	ClassTransient // ConnectionIssues or BrokenServer: retry later
	ClassFatal     // BrokenClient: a contract violation
)

// UpgradeOutcome mirrors spec.md §3's UpgradeStatus.
type UpgradeOutcome int

const (
	UpgradeNoUpdate UpgradeOutcome = iota
	UpgradeFailed
	// UpgradeApplied is never actually observed by the caller: a
	// successful upgrade execs into the new image and does not return
	// (spec.md §4.4 step 2). It exists only so tests can assert intent.
	UpgradeApplied
)

// Pipeline is the process-wide panic hook surface (spec.md §4.4: four
// replaceable callbacks). Constructed once at startup and injected into
// every component that might panic, per spec.md Design Notes §9's
// preference for construction-time injection over hidden globals.
type Pipeline struct {
	facade hwfacade.Facade
	log    *logging.Logger
	store  *store.Store
	api    Reporter
	hist   *History

	reentering atomic.Bool
}

// New constructs a Pipeline. api may be nil until the API Client is wired
// up during setup; Trigger tolerates a nil api by skipping reportPanic.
func New(facade hwfacade.Facade, log *logging.Logger, st *store.Store, api Reporter, stateDir string) *Pipeline {
	return &Pipeline{
		facade: facade,
		log:    log,
		store:  st,
		api:    api,
		hist:   loadHistory(stateDir),
	}
}

// SetReporter wires the API Client once it exists (it is constructed after
// the Pipeline, since the API Client itself wants a Logger that may need to
// reach the Pipeline on assertion failures).
func (p *Pipeline) SetReporter(api Reporter) { p.api = api }

// Trigger is the panic entry point (spec.md §4.4 "entry"): a reentrancy
// guard that, if already panicking, logs a REENTRY line and deep-sleeps
// indefinitely; otherwise it runs the full terminal policy.
func (p *Pipeline) Trigger(data Data) {
	if !p.reentering.CompareAndSwap(false, true) {
		p.log.CritTrace("REENTRY during panic: ", data.Msg)
		p.facade.DeepSleep(0)
		return
	}
	defer p.reentering.Store(false)

	p.facade.Sleep(1 * time.Second)
	p.log.Crit("PANIC at ", data.Point.Func, " (", data.Point.File, "): ", data.Msg)
	p.hist.record(data)

	p.runTerminalPolicy(data)
}

// runTerminalPolicy reports the panic and attempts one upgrade when WiFi
// credentials, a token, a live link and a Reporter are all present, then
// deep-sleeps once for a duration chosen by the device's state. It runs a single pass:
// when DeepSleep returns, the policy is not started again.
func (p *Pipeline) runTerminalPolicy(data Data) {
	ctx := context.Background()

	token, hasToken := p.store.GetToken()
	_, hasWifi := p.store.GetWifi()
	linkUp := p.facade.StationStatus() == hwfacade.StationConnected

	transient := false

	if hasWifi && hasToken && linkUp && p.api != nil {
		switch p.api.ReportPanic(ctx, token, data) {
		case ClassTransient:
			transient = true
		case ClassFatal:
			// A contract violation reporting the panic itself; there is
			// nothing further to do but continue the policy.
		}

		switch p.api.Upgrade(ctx, token) {
		case UpgradeApplied:
			return // device reboots into the new image; never reached in practice
		case UpgradeFailed:
			transient = true
		case UpgradeNoUpdate:
		}
	}

	switch {
	case !hasWifi || !hasToken:
		p.facade.DeepSleep(0) // indefinite: no credentials to recover with
	case !linkUp:
		p.facade.DeepSleep(1 * time.Hour)
	case transient:
		p.facade.DeepSleep(10 * time.Minute)
	default:
		p.facade.DeepSleep(10 * time.Minute)
	}
}

// Reentering reports whether the pipeline is currently inside Trigger, for
// tests asserting the reentry guard.
func (p *Pipeline) Reentering() bool { return p.reentering.Load() }
