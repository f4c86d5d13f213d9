// Package store implements the Persistent Store described in spec.md §4.1:
// a fixed-layout byte region holding a WiFi credential slot and an auth
// token slot, each guarded by a magic byte so a slot is only ever
// observable as fully-written or fully-empty.
package store

import (
	"os"
	"path/filepath"
	"sync"

	ioperrors "github.com/internet-of-plants/iop-core/internal/errors"
	"github.com/internet-of-plants/iop-core/internal/hwfacade"
)

const (
	wifiMagic = byte(125)
	authMagic = byte(126)

	ssidLen = 32
	pskLen  = 64

	wifiSlotOff = 0
	wifiSlotLen = 1 + ssidLen + pskLen // 97

	authSlotOff = wifiSlotOff + wifiSlotLen
	authSlotLen = 1 + 64 // 65

	regionSize = authSlotOff + authSlotLen // 162, spec.md requires >= 160
)

// AuthToken is a fixed 64-byte, all-printable-ASCII token (spec.md §3).
type AuthToken [64]byte

// Printable reports whether every byte is printable US-ASCII.
func (t AuthToken) Printable() bool {
	for _, b := range t {
		if b < 0x20 || b > 0x7e {
			return false
		}
	}
	return true
}

func (t AuthToken) String() string { return string(t[:]) }

// Store is the durable key/value surface for the two known slots. It is
// accessed only from the Event Loop's goroutine, never from interrupt
// context (spec.md §5).
type Store struct {
	mu   sync.Mutex
	path string

	region [regionSize]byte

	tokenOK bool
	token   AuthToken
	wifiOK  bool
	wifi    hwfacade.Credentials
}

// Setup initializes the backing region at boot (spec.md §4.1 "setup(size)"),
// reading any existing file at path or creating a fresh empty region.
func Setup(path string) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(data) != regionSize {
			// Treat a foreign-sized file as corrupt: start empty rather
			// than risk misreading the magic byte layout.
			break
		}
		copy(s.region[:], data)
	case os.IsNotExist(err):
		// fresh device: empty region is the correct initial state.
	default:
		return nil, ioperrors.Wrap(err, ioperrors.KindUnavailable, "store: read backing region")
	}

	s.loadCaches()
	return s, nil
}

func (s *Store) loadCaches() {
	if s.region[wifiSlotOff] == wifiMagic {
		var c hwfacade.Credentials
		copy(c.SSID[:], s.region[wifiSlotOff+1:wifiSlotOff+1+ssidLen])
		copy(c.PSK[:], s.region[wifiSlotOff+1+ssidLen:wifiSlotOff+wifiSlotLen])
		s.wifi = c
		s.wifiOK = true
	}

	if s.region[authSlotOff] == authMagic {
		var t AuthToken
		copy(t[:], s.region[authSlotOff+1:authSlotOff+authSlotLen])
		if t.Printable() {
			s.token = t
			s.tokenOK = true
		} else {
			// Corrupt: clear the slot in the in-memory region so the next
			// commit persists the cleared state (spec.md §4.1).
			s.region[authSlotOff] = 0
			for i := authSlotOff + 1; i < authSlotOff+authSlotLen; i++ {
				s.region[i] = 0
			}
		}
	}
}

// commit atomically rewrites the backing file: write to a temp file in the
// same directory, then rename over the target. A crash mid-write leaves the
// original file untouched (spec.md §4.1 invariant: "a slot is observable
// only in two states"). Grounded on the teacher's
// internal/config.SecureWriteFile temp-file-then-rename discipline.
func (s *Store) commit() error {
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return ioperrors.Wrap(err, ioperrors.KindUnavailable, "store: create state dir")
		}
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return ioperrors.Wrap(err, ioperrors.KindUnavailable, "store: open temp file")
	}
	if _, err := f.Write(s.region[:]); err != nil {
		f.Close()
		os.Remove(tmp)
		return ioperrors.Wrap(err, ioperrors.KindUnavailable, "store: write temp file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return ioperrors.Wrap(err, ioperrors.KindUnavailable, "store: sync temp file")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return ioperrors.Wrap(err, ioperrors.KindUnavailable, "store: close temp file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return ioperrors.Wrap(err, ioperrors.KindUnavailable, "store: rename temp file")
	}
	return nil
}

// GetToken returns the persisted auth token, if any (spec.md §4.1).
func (s *Store) GetToken() (AuthToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.tokenOK
}

// SetToken persists t, returning whether the underlying storage actually
// changed (idempotence: spec.md §4.1 "if the slot already contains t, no
// write is issued").
func (s *Store) SetToken(t AuthToken) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tokenOK && s.token == t {
		return false, nil
	}

	s.region[authSlotOff] = authMagic
	copy(s.region[authSlotOff+1:authSlotOff+authSlotLen], t[:])

	if err := s.commit(); err != nil {
		return false, ioperrors.Wrap(err, ioperrors.KindInvariant, "store: persist token")
	}

	s.token = t
	s.tokenOK = true
	return true, nil
}

// RemoveToken clears the token slot if it is currently set; a second call
// with nothing set issues no write (spec.md §4.1/§8).
func (s *Store) RemoveToken() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tokenOK && s.region[authSlotOff] != authMagic {
		return nil
	}

	s.region[authSlotOff] = 0
	for i := authSlotOff + 1; i < authSlotOff+authSlotLen; i++ {
		s.region[i] = 0
	}

	if err := s.commit(); err != nil {
		return ioperrors.Wrap(err, ioperrors.KindInvariant, "store: clear token")
	}

	s.token = AuthToken{}
	s.tokenOK = false
	return nil
}

// GetWifi returns the persisted WiFi credential pair, if any.
func (s *Store) GetWifi() (hwfacade.Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wifi, s.wifiOK
}

// SetWifi persists creds, comparing both SSID and PSK blobs before writing
// (spec.md §4.1).
func (s *Store) SetWifi(creds hwfacade.Credentials) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wifiOK && s.wifi == creds {
		return false, nil
	}

	s.region[wifiSlotOff] = wifiMagic
	copy(s.region[wifiSlotOff+1:wifiSlotOff+1+ssidLen], creds.SSID[:])
	copy(s.region[wifiSlotOff+1+ssidLen:wifiSlotOff+wifiSlotLen], creds.PSK[:])

	if err := s.commit(); err != nil {
		return false, ioperrors.Wrap(err, ioperrors.KindInvariant, "store: persist wifi")
	}

	s.wifi = creds
	s.wifiOK = true
	return true, nil
}

// RemoveWifi clears the WiFi slot if set; idempotent.
func (s *Store) RemoveWifi() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.wifiOK && s.region[wifiSlotOff] != wifiMagic {
		return nil
	}

	s.region[wifiSlotOff] = 0
	for i := wifiSlotOff + 1; i < wifiSlotOff+wifiSlotLen; i++ {
		s.region[i] = 0
	}

	if err := s.commit(); err != nil {
		return ioperrors.Wrap(err, ioperrors.KindInvariant, "store: clear wifi")
	}

	s.wifi = hwfacade.Credentials{}
	s.wifiOK = false
	return nil
}

// RegionSize is exported for tests that want to assert the on-disk layout.
func RegionSize() int { return regionSize }
