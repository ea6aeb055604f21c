// Package certinfo contains pure functions for inspecting TLS certificates.
// This is part of the Functional Core - all functions are pure with no I/O.
// Callers read certificate files themselves and pass the PEM bytes in;
// "no certificate" is modelled as Bundle{Exists: false}, never as an error.
package certinfo

import (
	"crypto/x509"
	"encoding/pem"
	"time"
)

// RenewalThresholdDays is how close to expiry a certificate may get before it
// is considered due for renewal.
const RenewalThresholdDays = 30

// =============================================================================
// Bundle
// =============================================================================

// Bundle describes the state of a deployment's server certificate.
type Bundle struct {
	Exists          bool      `json:"exists"`
	Valid           bool      `json:"valid"`
	ExpiresAt       time.Time `json:"expires_at,omitempty"`
	DaysUntilExpiry int       `json:"days_until_expiry"`
	Subjects        []string  `json:"subjects,omitempty"`
	IsSelfSigned    bool      `json:"is_self_signed"`
	IsTrusted       bool      `json:"is_trusted"`
}

// =============================================================================
// Parsing
// =============================================================================

// ParseBundle derives a Bundle from PEM-encoded certificate bytes.
//
// A nil or empty input yields Bundle{Exists: false}. Unparseable input yields
// Exists=true, Valid=false. The clock is a parameter so expiry logic stays
// deterministic under test.
func ParseBundle(certPEM []byte, now time.Time) Bundle {
	if len(certPEM) == 0 {
		return Bundle{}
	}

	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return Bundle{Exists: true}
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return Bundle{Exists: true}
	}

	b := Bundle{
		Exists:       true,
		ExpiresAt:    cert.NotAfter,
		IsSelfSigned: cert.Issuer.String() == cert.Subject.String(),
	}
	b.Valid = now.After(cert.NotBefore) && now.Before(cert.NotAfter)
	b.DaysUntilExpiry = int(cert.NotAfter.Sub(now).Hours() / 24)

	// A certificate signed by a local CA (mkcert's root, for instance) is
	// trusted by the host store; a self-signed leaf is not.
	b.IsTrusted = !b.IsSelfSigned

	if cn := cert.Subject.CommonName; cn != "" {
		b.Subjects = append(b.Subjects, cn)
	}
	b.Subjects = append(b.Subjects, cert.DNSNames...)
	for _, ip := range cert.IPAddresses {
		b.Subjects = append(b.Subjects, ip.String())
	}

	return b
}

// =============================================================================
// Renewal Policy
// =============================================================================

// NeedsRenewal reports whether a certificate should be re-issued: missing,
// invalid, or within RenewalThresholdDays of expiry.
func (b Bundle) NeedsRenewal() bool {
	if !b.Exists || !b.Valid {
		return true
	}
	return b.DaysUntilExpiry <= RenewalThresholdDays
}
