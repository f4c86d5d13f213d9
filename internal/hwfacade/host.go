package hwfacade

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"runtime"
	"sync"
	"time"
)

// Host backs Facade onto the real operating system: used by cmd/iop-cored.
// There is no real radio or GPIO controller on a development host, so the
// station/AP/GPIO surface here is a best-effort shim suitable for running
// the control plane against a real upstream server from a workstation or a
// single-board Linux computer acting as the device; a true microcontroller
// target would replace this file alone.
type Host struct {
	mu sync.Mutex

	mac  string
	hash string

	station      StationStatus
	stationCreds Credentials

	edgeHandlers map[int]map[Edge]func()
	onConnected  func()
}

// NewHost constructs a Host façade, caching the MAC address and firmware
// hash for the process lifetime (spec.md §4.2: "both cached").
func NewHost() (*Host, error) {
	mac, err := firstHardwareMAC()
	if err != nil {
		return nil, fmt.Errorf("hwfacade: determine MAC address: %w", err)
	}

	hash, err := executableMD5()
	if err != nil {
		return nil, fmt.Errorf("hwfacade: hash running executable: %w", err)
	}

	return &Host{
		mac:          mac,
		hash:         hash,
		edgeHandlers: make(map[int]map[Edge]func()),
	}, nil
}

func firstHardwareMAC() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	for _, iface := range ifaces {
		if len(iface.HardwareAddr) == 6 && iface.HardwareAddr.String() != "00:00:00:00:00:00" {
			return iface.HardwareAddr.String(), nil
		}
	}
	return "02:00:00:00:00:01", nil // locally administered fallback
}

func executableMD5() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	f, err := os.Open(exe)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	buf := make([]byte, 64*1024)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if rerr != nil {
			break
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (h *Host) Now() time.Time { return time.Now() }

func (h *Host) Sleep(d time.Duration) { time.Sleep(d) }

func (h *Host) Yield() { runtime.Gosched() }

func (h *Host) DeepSleep(d time.Duration) {
	if d == 0 {
		select {} // indefinite, until external reset
	}
	time.Sleep(d)
}

func (h *Host) MacAddress() string   { return h.mac }
func (h *Host) FirmwareHash() string { return h.hash }
func (h *Host) Platform() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}

func (h *Host) MemStats() MemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemStats{
		FreeStack:        m.StackInuse,
		FreeDRAM:         m.HeapIdle - m.HeapReleased,
		BiggestDRAMBlock: m.HeapIdle,
		FreeIRAM:         m.StackSys,
		BiggestIRAMBlock: m.StackSys,
	}
}

func (h *Host) VCC() float32 { return 3.3 }

func (h *Host) SyncNTP(ctx context.Context) error {
	// Real NTP sync is an out-of-scope HAL primitive (spec.md §1); on a
	// host OS the system clock is already disciplined by the platform.
	return nil
}

func (h *Host) GpioMode(pin int, mode GpioMode) {}

func (h *Host) GpioRead(pin int) bool { return false }

func (h *Host) GpioOnEdge(pin int, edge Edge, handler func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.edgeHandlers[pin] == nil {
		h.edgeHandlers[pin] = make(map[Edge]func())
	}
	h.edgeHandlers[pin][edge] = handler
}

func (h *Host) InterruptLock() (unlock func()) {
	h.mu.Lock()
	return h.mu.Unlock
}

func (h *Host) OnStationConnected(handler func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onConnected = handler
}

func (h *Host) StationStatus() StationStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.station
}

func (h *Host) ConnectStation(ctx context.Context, creds Credentials) error {
	h.mu.Lock()
	h.station = StationConnecting
	h.mu.Unlock()

	// A real implementation drives the radio driver here and waits for
	// WiFi.waitForConnectResult() (spec.md §4.8). On a host NIC we treat
	// "has a default route" as connected.
	connected := hasDefaultRoute()

	h.mu.Lock()
	if !connected {
		h.station = StationDisconnected
		h.mu.Unlock()
		return fmt.Errorf("hwfacade: no network reachability")
	}
	h.stationCreds = creds
	h.station = StationConnected
	handler := h.onConnected
	h.mu.Unlock()
	if handler != nil {
		handler()
	}
	return nil
}

func hasDefaultRoute() bool {
	conn, err := net.DialTimeout("udp", "1.1.1.1:80", 2*time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (h *Host) DisconnectStation() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.station = StationDisconnected
	h.stationCreds = Credentials{}
}

func (h *Host) CurrentStationConfig() (Credentials, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.station != StationConnected {
		return Credentials{}, false
	}
	return h.stationCreds, true
}

func (h *Host) StartAccessPoint(ssid, psk string, ip [4]byte) error {
	// Real AP-mode bring-up belongs to the radio driver, out of scope here
	// (spec.md §1). Host builds only run the portal's HTTP/DNS/DHCP
	// surface bound to the loopback/LAN interface already up.
	return nil
}

func (h *Host) StopAccessPoint() error { return nil }

var _ Facade = (*Host)(nil)
