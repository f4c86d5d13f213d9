package hwfacade

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/internet-of-plants/iop-core/internal/clock"
)

// Sim is a fully in-memory Facade used by every test and by cmd/iop-sim
// (SPEC_FULL.md §4.2). It mirrors the teacher's internal/kernel simulator
// provider: deterministic, clock-driven, no real syscalls.
type Sim struct {
	mu sync.Mutex

	clk  *clock.Mock
	mac  string
	hash string

	station       StationStatus
	stationCreds  Credentials
	apOpen        bool
	connectResult error

	deepSleeping  bool
	deepSleptFor  time.Duration
	sleepTotal    time.Duration
	ntpSyncCount  int
	edgeHandlers  map[int]map[Edge]func()
	gpioLevel     map[int]bool

	onConnected func()
}

// NewSim constructs a Sim façade fixed at t0, identified by mac.
func NewSim(t0 time.Time, mac string) *Sim {
	sum := md5.Sum([]byte(mac))
	return &Sim{
		clk:          clock.NewMock(t0),
		mac:          mac,
		hash:         hex.EncodeToString(sum[:]), // 32 hex chars
		edgeHandlers: make(map[int]map[Edge]func()),
		gpioLevel:    make(map[int]bool),
	}
}

// Clock exposes the underlying mock clock so tests can advance time.
func (s *Sim) Clock() *clock.Mock { return s.clk }

func (s *Sim) Now() time.Time { return s.clk.Now() }

func (s *Sim) Sleep(d time.Duration) {
	s.mu.Lock()
	s.sleepTotal += d
	s.mu.Unlock()
	s.clk.Advance(d)
}

func (s *Sim) Yield() {}

func (s *Sim) DeepSleep(d time.Duration) {
	s.mu.Lock()
	s.deepSleeping = true
	s.deepSleptFor = d
	s.mu.Unlock()
	if d > 0 {
		s.clk.Advance(d)
	}
}

// WasDeepSleeping reports whether DeepSleep was called and for how long,
// for test assertions. Not part of the Facade interface.
func (s *Sim) WasDeepSleeping() (bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deepSleeping, s.deepSleptFor
}

func (s *Sim) MacAddress() string  { return s.mac }
func (s *Sim) FirmwareHash() string { return s.hash }
func (s *Sim) Platform() string     { return "sim" }

func (s *Sim) MemStats() MemStats {
	return MemStats{
		FreeStack:        4096,
		FreeDRAM:         32 * 1024,
		BiggestDRAMBlock: 16 * 1024,
		FreeIRAM:         8 * 1024,
		BiggestIRAMBlock: 4 * 1024,
	}
}

func (s *Sim) VCC() float32 { return 3.3 }

func (s *Sim) SyncNTP(ctx context.Context) error {
	s.mu.Lock()
	s.ntpSyncCount++
	s.mu.Unlock()
	return nil
}

// NTPSyncCount reports how many times SyncNTP has been called.
func (s *Sim) NTPSyncCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ntpSyncCount
}

func (s *Sim) GpioMode(pin int, mode GpioMode) {}

func (s *Sim) GpioRead(pin int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gpioLevel[pin]
}

func (s *Sim) GpioOnEdge(pin int, edge Edge, handler func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.edgeHandlers[pin] == nil {
		s.edgeHandlers[pin] = make(map[Edge]func())
	}
	s.edgeHandlers[pin][edge] = handler
}

// SetGpio drives pin to level, firing the registered handler for the edge
// that transition represents, if any. Test-only helper.
func (s *Sim) SetGpio(pin int, level bool) {
	s.mu.Lock()
	prev := s.gpioLevel[pin]
	s.gpioLevel[pin] = level
	var handler func()
	if prev != level {
		edge := FallingEdge
		if level {
			edge = RisingEdge
		}
		if handlers, ok := s.edgeHandlers[pin]; ok {
			handler = handlers[edge]
		}
	}
	s.mu.Unlock()
	if handler != nil {
		handler()
	}
}

func (s *Sim) InterruptLock() (unlock func()) {
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Sim) OnStationConnected(handler func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnected = handler
}

func (s *Sim) StationStatus() StationStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.station
}

func (s *Sim) ConnectStation(ctx context.Context, creds Credentials) error {
	s.mu.Lock()
	s.station = StationConnecting
	s.mu.Unlock()

	if s.connectResult != nil {
		s.mu.Lock()
		s.station = StationDisconnected
		s.mu.Unlock()
		return s.connectResult
	}

	s.mu.Lock()
	s.stationCreds = creds
	s.station = StationConnected
	handler := s.onConnected
	s.mu.Unlock()
	if handler != nil {
		handler()
	}
	return nil
}

// SetConnectResult configures the error ConnectStation returns on its next
// invocation (nil means succeed). Test-only helper.
func (s *Sim) SetConnectResult(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectResult = err
}

// ForceStationStatus overrides the station status directly, for tests that
// want to simulate the radio dropping without going through ConnectStation.
func (s *Sim) ForceStationStatus(status StationStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.station = status
}

func (s *Sim) DisconnectStation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.station = StationDisconnected
	s.stationCreds = Credentials{}
}

func (s *Sim) CurrentStationConfig() (Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.station != StationConnected {
		return Credentials{}, false
	}
	return s.stationCreds, true
}

func (s *Sim) StartAccessPoint(ssid, psk string, ip [4]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(psk) > 0 && len(psk) < 8 {
		return fmt.Errorf("hwfacade: AP PSK too short")
	}
	s.apOpen = true
	return nil
}

func (s *Sim) StopAccessPoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apOpen = false
	return nil
}

// AccessPointOpen reports whether the AP is currently started. Test-only.
func (s *Sim) AccessPointOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apOpen
}

var _ Facade = (*Sim)(nil)
