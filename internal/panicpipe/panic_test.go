// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package panicpipe

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/internet-of-plants/iop-core/internal/hwfacade"
	"github.com/internet-of-plants/iop-core/internal/logging"
	"github.com/internet-of-plants/iop-core/internal/store"
)

type fakeReporter struct {
	reportClass  Classification
	upgradeOut   UpgradeOutcome
	reportCalled bool
	upgradeCalled bool
}

func (f *fakeReporter) ReportPanic(ctx context.Context, token store.AuthToken, data Data) Classification {
	f.reportCalled = true
	return f.reportClass
}

func (f *fakeReporter) Upgrade(ctx context.Context, token store.AuthToken) UpgradeOutcome {
	f.upgradeCalled = true
	return f.upgradeOut
}

func newTestPipeline(t *testing.T, api Reporter, hasWifi, hasToken, linkUp bool) (*Pipeline, *hwfacade.Sim, *store.Store) {
	t.Helper()
	facade := hwfacade.NewSim(time.Unix(0, 0), "aa:bb:cc:dd:ee:ff")
	st, err := store.Setup(filepath.Join(t.TempDir(), "state.bin"))
	require.NoError(t, err)

	if hasWifi {
		var creds hwfacade.Credentials
		copy(creds.SSID[:], "home")
		_, err := st.SetWifi(creds)
		require.NoError(t, err)
	}
	if hasToken {
		var tok store.AuthToken
		copy(tok[:], "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbe01")
		_, err := st.SetToken(tok)
		require.NoError(t, err)
	}
	if linkUp {
		require.NoError(t, facade.ConnectStation(context.Background(), hwfacade.Credentials{}))
	}

	log := logging.New("test", logging.NoLog)
	return New(facade, log, st, api, ""), facade, st
}

func TestTrigger_NoCredentialsDeepSleepsIndefinitely(t *testing.T) {
	p, facade, _ := newTestPipeline(t, nil, false, false, false)
	p.Trigger(Data{Msg: "boom"})

	sleeping, dur := facade.WasDeepSleeping()
	assert.True(t, sleeping)
	assert.Equal(t, time.Duration(0), dur)
}

func TestTrigger_LinkDownSleepsAnHour(t *testing.T) {
	p, facade, _ := newTestPipeline(t, nil, true, true, false)
	p.Trigger(Data{Msg: "boom"})

	sleeping, dur := facade.WasDeepSleeping()
	assert.True(t, sleeping)
	assert.Equal(t, time.Hour, dur)
}

func TestTrigger_ReportsAndUpgradesWhenFullyConnected(t *testing.T) {
	reporter := &fakeReporter{reportClass: ClassOk, upgradeOut: UpgradeNoUpdate}
	p, facade, _ := newTestPipeline(t, reporter, true, true, true)
	p.Trigger(Data{Msg: "boom"})

	assert.True(t, reporter.reportCalled)
	assert.True(t, reporter.upgradeCalled)
	sleeping, dur := facade.WasDeepSleeping()
	assert.True(t, sleeping)
	assert.Equal(t, 10*time.Minute, dur)
}

func TestTrigger_ReentrancyGuardDeepSleepsForever(t *testing.T) {
	p, facade, _ := newTestPipeline(t, nil, false, false, false)
	p.reentering.Store(true)

	p.Trigger(Data{Msg: "nested"})

	sleeping, dur := facade.WasDeepSleeping()
	assert.True(t, sleeping)
	assert.Equal(t, time.Duration(0), dur)
	assert.True(t, p.Reentering(), "the guard itself must still read true: Trigger never touched it on the reentrant path")
}

func TestTrigger_UpgradeAppliedReturnsWithoutSleeping(t *testing.T) {
	reporter := &fakeReporter{reportClass: ClassOk, upgradeOut: UpgradeApplied}
	p, facade, _ := newTestPipeline(t, reporter, true, true, true)
	p.Trigger(Data{Msg: "boom"})

	sleeping, _ := facade.WasDeepSleeping()
	assert.False(t, sleeping, "a successful upgrade execs into the new image before reaching the deep-sleep switch")
}
