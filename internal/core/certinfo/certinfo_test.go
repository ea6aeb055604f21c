package certinfo

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// selfSignedPEM issues a throwaway self-signed certificate valid for the
// given window, covering localhost and 127.0.0.1.
func selfSignedPEM(t *testing.T, notBefore, notAfter time.Time) []byte {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost", Organization: []string{"ddalab"}},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		DNSNames:     []string{"localhost", "*.ddalab.local"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

// =============================================================================
// ParseBundle Tests
// =============================================================================

func TestParseBundle_Missing(t *testing.T) {
	b := ParseBundle(nil, time.Now())
	assert.False(t, b.Exists)
	assert.False(t, b.Valid)
	assert.True(t, b.NeedsRenewal())
}

func TestParseBundle_Garbage(t *testing.T) {
	b := ParseBundle([]byte("not a certificate"), time.Now())
	assert.True(t, b.Exists)
	assert.False(t, b.Valid)
	assert.True(t, b.NeedsRenewal())
}

func TestParseBundle_ValidSelfSigned(t *testing.T) {
	now := time.Now()
	b := ParseBundle(selfSignedPEM(t, now.Add(-time.Hour), now.Add(365*24*time.Hour)), now)

	assert.True(t, b.Exists)
	assert.True(t, b.Valid)
	assert.True(t, b.IsSelfSigned)
	assert.False(t, b.IsTrusted)
	assert.Contains(t, b.Subjects, "localhost")
	assert.Contains(t, b.Subjects, "*.ddalab.local")
	assert.Contains(t, b.Subjects, "127.0.0.1")
}

func TestParseBundle_Expired(t *testing.T) {
	now := time.Now()
	b := ParseBundle(selfSignedPEM(t, now.Add(-48*time.Hour), now.Add(-24*time.Hour)), now)

	assert.True(t, b.Exists)
	assert.False(t, b.Valid)
	assert.True(t, b.NeedsRenewal())
}

// =============================================================================
// NeedsRenewal Tests
// =============================================================================

func TestNeedsRenewal_NearExpiry(t *testing.T) {
	now := time.Now()
	// 365-day certificate issued 335 days ago: 30 days left.
	issued := now.Add(-335 * 24 * time.Hour)
	b := ParseBundle(selfSignedPEM(t, issued, issued.Add(365*24*time.Hour)), now)

	assert.True(t, b.Valid)
	assert.True(t, b.NeedsRenewal())
}

func TestNeedsRenewal_Fresh(t *testing.T) {
	now := time.Now()
	// 365-day certificate issued 10 days ago: plenty of time left.
	issued := now.Add(-10 * 24 * time.Hour)
	b := ParseBundle(selfSignedPEM(t, issued, issued.Add(365*24*time.Hour)), now)

	assert.True(t, b.Valid)
	assert.False(t, b.NeedsRenewal())
}
