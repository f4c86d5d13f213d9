// Package certstore implements the read-only trust-anchor bundle described
// in spec.md §4.6: a set of (certificate, DN hash) pairs queried by the TLS
// engine during handshake, keyed by a 32-byte hashed distinguished name.
package certstore

import (
	"crypto/sha256"
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"fmt"
)

// Anchor is one trust-anchor bundle entry.
type Anchor struct {
	Cert   *x509.Certificate
	DNHash [32]byte
}

// Store is the read-only, process-wide certificate bundle. Opens no
// dynamic state by itself (spec.md §4.6).
type Store struct {
	anchors []Anchor
}

// New builds a Store from DER-encoded certificates, hashing each
// certificate's raw subject to produce its lookup key.
func New(pemCerts [][]byte) (*Store, error) {
	s := &Store{}
	for i, pemCert := range pemCerts {
		cert, err := x509.ParseCertificate(pemCert)
		if err != nil {
			return nil, fmt.Errorf("certstore: parse bundle entry %d: %w", i, err)
		}
		s.anchors = append(s.anchors, Anchor{
			Cert:   cert,
			DNHash: sha256.Sum256(cert.RawSubject),
		})
	}
	return s, nil
}

// Lookup performs the constant-time linear scan spec.md §4.6 describes,
// returning the matching anchor's certificate, or nil on no match.
func (s *Store) Lookup(dnHash [32]byte) *x509.Certificate {
	for _, a := range s.anchors {
		if subtle.ConstantTimeCompare(a.DNHash[:], dnHash[:]) == 1 {
			return a.Cert
		}
	}
	return nil
}

// Len reports how many anchors the bundle holds.
func (s *Store) Len() int { return len(s.anchors) }

// InstallInto installs the bundle into cfg.RootCAs, the one-time
// installation spec.md §4.6 requires during Network Client setup. When s is
// nil or empty (TLS disabled build, spec.md §4.6), the config is left
// untouched, so a TLS connection falls back to the system default roots.
func (s *Store) InstallInto(cfg *tls.Config) {
	if s == nil || len(s.anchors) == 0 {
		return
	}
	pool := x509.NewCertPool()
	for _, a := range s.anchors {
		pool.AddCert(a.Cert)
	}
	cfg.RootCAs = pool
}
