// Package hwfacade is the platform-neutral hardware contract the rest of
// the control-plane core consumes (spec.md §4.2). Everything below this
// interface — GPIO, ADC, the radio, flash — is deliberately out of scope
// for the core (spec.md §1); the core only ever calls through Facade.
package hwfacade

import (
	"context"
	"time"
)

// Edge is a GPIO edge direction.
type Edge int

const (
	RisingEdge Edge = iota
	FallingEdge
)

// GpioMode is a pin direction/mode.
type GpioMode int

const (
	ModeInput GpioMode = iota
	ModeOutput
	ModeInputPullup
)

// StationStatus collapses the spec's flagged "two sources of truth for WiFi
// connected" (spec.md Open Questions) into one enum returned by one query.
type StationStatus int

const (
	StationIdle StationStatus = iota
	StationConnecting
	StationConnected
	StationDisconnected
)

// Credentials is a WiFi SSID/PSK pair as carried across the façade boundary.
// Fixed-width to mirror spec.md §3's NetworkName/NetworkPassword byte
// layout; callers treat the contents as opaque blobs, not text.
type Credentials struct {
	SSID [32]byte
	PSK  [64]byte
}

// Empty reports whether both fields are all-zero.
func (c Credentials) Empty() bool {
	return c == Credentials{}
}

// MemStats is the free-memory telemetry spec.md §4.2/§4.5 requires on every
// request (FREE_STACK, FREE_DRAM, BIGGEST_DRAM_BLOCK, FREE_IRAM,
// BIGGEST_IRAM_BLOCK).
type MemStats struct {
	FreeStack        uint64
	FreeDRAM         uint64
	BiggestDRAMBlock uint64
	FreeIRAM         uint64
	BiggestIRAMBlock uint64
}

// Facade is the full hardware contract (spec.md §4.2).
type Facade interface {
	// Now returns the façade's current time: the system wall clock on Host,
	// the mock clock on Sim. It is not measured from boot.
	Now() time.Time
	Sleep(d time.Duration)
	Yield()
	// DeepSleep suspends the device for d; d == 0 means indefinitely, until
	// an external reset.
	DeepSleep(d time.Duration)

	MacAddress() string
	FirmwareHash() string
	Platform() string

	MemStats() MemStats
	VCC() float32

	SyncNTP(ctx context.Context) error

	GpioMode(pin int, mode GpioMode)
	GpioRead(pin int) bool
	// GpioOnEdge registers handler to run (in ISR context: no allocation,
	// no blocking, no non-trace logging) whenever pin transitions edge.
	GpioOnEdge(pin int, edge Edge, handler func())

	// InterruptLock enters a scoped interrupt-disable critical section and
	// returns the unlock function; callers must defer it so the guard is
	// released on every exit path (spec.md Design Notes §9).
	InterruptLock() (unlock func())

	// OnStationConnected registers a callback invoked whenever the radio's
	// station interface transitions to connected. The API Client uses
	// this during setup to schedule a WifiConnected interrupt (spec.md
	// §4.7/§4.9); at most one handler is retained.
	OnStationConnected(handler func())

	// StationStatus is the single collapsed query for "is the radio's
	// station interface connected" (spec.md Open Questions).
	StationStatus() StationStatus
	// ConnectStation begins a station connection attempt and blocks up to
	// an implementation-defined timeout for a result (spec.md §4.8
	// "connect procedure").
	ConnectStation(ctx context.Context, creds Credentials) error
	DisconnectStation()
	// CurrentStationConfig returns the credentials currently associated
	// with the radio, if connected.
	CurrentStationConfig() (Credentials, bool)

	StartAccessPoint(ssid, psk string, ip [4]byte) error
	StopAccessPoint() error
}
