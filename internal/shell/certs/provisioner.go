// Package certs provisions the deployment's TLS certificate pair.
//
// Issuance prefers mkcert, whose root CA is trusted by the host certificate
// store. If mkcert is missing the provisioner tries to install it through the
// platform package manager and retries once; if that fails too, it falls back
// to a self-signed certificate covering the same name set. Certificate
// trouble never aborts provisioning - the caller downgrades it to a warning.
package certs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/ddalab/deployctl/internal/core/certinfo"
	"github.com/ddalab/deployctl/internal/shell/runner"
)

// Fixed artifact names inside the deployment directory.
const (
	CertsDirName = "certs"
	CertFileName = "server.crt"
	KeyFileName  = "server.key"
)

// certificateHosts is the fixed domain/IP set every issued certificate must
// cover: local browser access, loopback v4/v6, the local wildcard domain and
// the container-to-host bridge name.
var certificateHosts = []string{
	"localhost",
	"127.0.0.1",
	"::1",
	"*.ddalab.local",
	"host.docker.internal",
}

// =============================================================================
// Provisioner
// =============================================================================

// Provisioner issues and inspects the deployment's certificate pair.
type Provisioner struct {
	runner runner.Runner
	logger *slog.Logger
	now    func() time.Time
}

// NewProvisioner creates a certificate provisioner.
func NewProvisioner(r runner.Runner, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		runner: r,
		logger: logger.With("component", "certs"),
		now:    time.Now,
	}
}

// CertPath returns the server certificate path for a deployment directory.
func CertPath(dir string) string {
	return filepath.Join(dir, CertsDirName, CertFileName)
}

// KeyPath returns the server key path for a deployment directory.
func KeyPath(dir string) string {
	return filepath.Join(dir, CertsDirName, KeyFileName)
}

// =============================================================================
// Inspection
// =============================================================================

// GetCertificateInfo inspects the deployment's certificate. A missing file is
// a valid non-error state: Bundle{Exists: false}.
func (p *Provisioner) GetCertificateInfo(dir string) certinfo.Bundle {
	pemBytes, err := os.ReadFile(CertPath(dir))
	if err != nil {
		return certinfo.Bundle{}
	}
	return certinfo.ParseBundle(pemBytes, p.now())
}

// NeedsRenewal reports whether the deployment's certificate should be
// re-issued.
func (p *Provisioner) NeedsRenewal(dir string) bool {
	return p.GetCertificateInfo(dir).NeedsRenewal()
}

// =============================================================================
// Issuance Chain
// =============================================================================

// EnsureCertificates runs the issuance fallback chain and returns the
// resulting bundle. The returned error is advisory: a bundle with
// Exists=true is usable even when err != nil (degraded trust).
func (p *Provisioner) EnsureCertificates(ctx context.Context, dir string) (certinfo.Bundle, error) {
	if err := os.MkdirAll(filepath.Join(dir, CertsDirName), 0o755); err != nil {
		return certinfo.Bundle{}, fmt.Errorf("create certs directory: %w", err)
	}

	// Step 1: mkcert, if available.
	if _, err := p.runner.LookPath("mkcert"); err == nil {
		if err := p.GenerateTrustedCertificates(ctx, dir); err == nil {
			return p.GetCertificateInfo(dir), nil
		} else {
			p.logger.Warn("mkcert issuance failed", "error", err)
		}
	} else {
		// Step 2: try to install mkcert, then retry once.
		p.logger.Info("mkcert not found, attempting install")
		if err := p.installMkcert(ctx); err != nil {
			p.logger.Warn("mkcert install failed", "error", err)
		} else if err := p.GenerateTrustedCertificates(ctx, dir); err == nil {
			return p.GetCertificateInfo(dir), nil
		} else {
			p.logger.Warn("mkcert issuance failed after install", "error", err)
		}
	}

	// Step 3: self-signed fallback.
	p.logger.Warn("falling back to self-signed certificates")
	if err := p.GenerateSelfSignedCertificates(dir); err != nil {
		return p.GetCertificateInfo(dir), fmt.Errorf("self-signed fallback: %w", err)
	}
	return p.GetCertificateInfo(dir), nil
}

// GenerateTrustedCertificates issues a certificate through mkcert. An
// existing pair is backed up first. mkcert's known-benign failure - the root
// installs but a browser certificate database (certutil/Firefox) cannot be
// updated - is absorbed by re-checking that the emitted files parse as a
// valid certificate.
func (p *Provisioner) GenerateTrustedCertificates(ctx context.Context, dir string) error {
	if err := p.backupExisting(dir); err != nil {
		return err
	}

	// Idempotent: installs the root CA only when missing.
	if res, err := runner.RunWithRetry(ctx, p.runner, runner.Command{
		Name: "mkcert", Args: []string{"-install"},
	}); err != nil && !isBenignTrustStoreFailure(res.Stderr) {
		return fmt.Errorf("install mkcert root: %w", err)
	}

	args := append([]string{
		"-cert-file", CertPath(dir),
		"-key-file", KeyPath(dir),
	}, certificateHosts...)

	res, err := runner.RunWithRetry(ctx, p.runner, runner.Command{Name: "mkcert", Args: args})
	if err != nil {
		if isBenignTrustStoreFailure(res.Stderr) && p.filesParseValid(dir) {
			p.logger.Info("ignoring benign trust-store warning from mkcert")
		} else {
			return fmt.Errorf("issue certificate: %w", err)
		}
	}

	if err := os.Chmod(CertPath(dir), 0o644); err != nil {
		return err
	}
	return os.Chmod(KeyPath(dir), 0o600)
}

// installMkcert attempts a platform package-manager install of mkcert.
func (p *Provisioner) installMkcert(ctx context.Context) error {
	var cmd runner.Command
	switch runtime.GOOS {
	case "darwin":
		cmd = runner.Command{Name: "brew", Args: []string{"install", "mkcert"}}
	case "linux":
		cmd = runner.Command{Name: "apt-get", Args: []string{"install", "-y", "mkcert"}}
	case "windows":
		cmd = runner.Command{Name: "choco", Args: []string{"install", "-y", "mkcert"}}
	default:
		return fmt.Errorf("%w: no installer for %s", runner.ErrToolUnavailable, runtime.GOOS)
	}

	if _, err := p.runner.LookPath(cmd.Name); err != nil {
		return err
	}
	_, err := p.runner.Run(ctx, cmd)
	return err
}

// isBenignTrustStoreFailure matches mkcert's Firefox/NSS certutil failure,
// which leaves the emitted certificate files intact and valid.
func isBenignTrustStoreFailure(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "certutil") || strings.Contains(s, "firefox")
}

// filesParseValid re-checks that the emitted cert parses and the key exists.
func (p *Provisioner) filesParseValid(dir string) bool {
	if _, err := os.Stat(KeyPath(dir)); err != nil {
		return false
	}
	info := p.GetCertificateInfo(dir)
	return info.Exists && info.Valid
}

// =============================================================================
// Backups
// =============================================================================

// backupExisting renames an existing cert/key pair with a timestamp suffix.
// Existing certificates are never silently destroyed.
func (p *Provisioner) backupExisting(dir string) error {
	suffix := ".backup." + p.now().Format("20060102-150405")
	for _, path := range []string{CertPath(dir), KeyPath(dir)} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := os.Rename(path, path+suffix); err != nil {
			return fmt.Errorf("backup %s: %w", filepath.Base(path), err)
		}
		p.logger.Info("backed up existing certificate file", "file", filepath.Base(path)+suffix)
	}
	return nil
}
