// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/internet-of-plants/iop-core/internal/hwfacade"
)

func TestSetup_FreshFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bin")
	s, err := Setup(path)
	require.NoError(t, err)

	_, hasToken := s.GetToken()
	_, hasWifi := s.GetWifi()
	assert.False(t, hasToken)
	assert.False(t, hasWifi)
}

func TestSetToken_PersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bin")
	s, err := Setup(path)
	require.NoError(t, err)

	var token AuthToken
	copy(token[:], "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbe01")

	changed, err := s.SetToken(token)
	require.NoError(t, err)
	assert.True(t, changed)

	reloaded, err := Setup(path)
	require.NoError(t, err)
	got, ok := reloaded.GetToken()
	require.True(t, ok)
	assert.Equal(t, token, got)
}

func TestSetToken_IdempotentNoWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bin")
	s, err := Setup(path)
	require.NoError(t, err)

	var token AuthToken
	copy(token[:], "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbe01")

	changed, err := s.SetToken(token)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.SetToken(token)
	require.NoError(t, err)
	assert.False(t, changed, "re-setting the same token must not report a change")
}

func TestRemoveToken_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bin")
	s, err := Setup(path)
	require.NoError(t, err)

	require.NoError(t, s.RemoveToken())
	require.NoError(t, s.RemoveToken())

	_, ok := s.GetToken()
	assert.False(t, ok)
}

func TestSetWifi_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bin")
	s, err := Setup(path)
	require.NoError(t, err)

	var creds hwfacade.Credentials
	copy(creds.SSID[:], "myhouse")
	copy(creds.PSK[:], "hunter22hunter22")

	changed, err := s.SetWifi(creds)
	require.NoError(t, err)
	assert.True(t, changed)

	got, ok := s.GetWifi()
	require.True(t, ok)
	assert.Equal(t, creds, got)
}

func TestLoadCaches_CorruptTokenCleared(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bin")
	s, err := Setup(path)
	require.NoError(t, err)

	s.region[authSlotOff] = authMagic
	for i := authSlotOff + 1; i < authSlotOff+authSlotLen; i++ {
		s.region[i] = 0xff // not printable ASCII
	}
	s.loadCaches()

	_, ok := s.GetToken()
	assert.False(t, ok, "a non-printable token slot must be treated as empty")
}

func TestRegionSize_MeetsMinimum(t *testing.T) {
	assert.GreaterOrEqual(t, RegionSize(), 160)
}
