// Package engine wires the pure decision logic under internal/core to the
// adapters under internal/shell. It owns the provisioning pipeline, the
// deployment validator, the persisted setup state and the lifecycle
// supervisor.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ddalab/deployctl/internal/core/certinfo"
	"github.com/ddalab/deployctl/internal/core/composecfg"
	"github.com/ddalab/deployctl/internal/core/envfile"
	"github.com/ddalab/deployctl/internal/shell/history"
)

// Provisioning phase names, in execution order.
const (
	PhaseMaterialize = "materialize"
	PhaseConfigure   = "configure"
	PhaseDirectories = "directories"
	PhaseSecurity    = "security"
	PhaseValidate    = "validate"
)

// pinnedPlatform is forced onto the main service so image pulls resolve the
// same architecture everywhere, including Apple Silicon hosts under
// emulation.
const pinnedPlatform = "linux/amd64"

// CertProvisioner is the certificate collaborator of the pipeline.
type CertProvisioner interface {
	EnsureCertificates(ctx context.Context, dir string) (certinfo.Bundle, error)
	NeedsRenewal(dir string) bool
}

// Pipeline runs the ordered provisioning phases against a target directory.
// Every phase is idempotent: re-running Setup over a healthy deployment is a
// no-op apart from refreshed configuration values.
type Pipeline struct {
	certs     CertProvisioner
	history   *history.Store // optional
	sink      ProgressSink
	logger    *slog.Logger
	statePath string
}

// PipelineConfig holds the pipeline's collaborators.
type PipelineConfig struct {
	Certs     CertProvisioner
	History   *history.Store
	Sink      ProgressSink
	Logger    *slog.Logger
	StatePath string
}

// NewPipeline creates a provisioning pipeline.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Sink == nil {
		cfg.Sink = NopSink{}
	}
	return &Pipeline{
		certs:     cfg.Certs,
		history:   cfg.History,
		sink:      cfg.Sink,
		logger:    cfg.Logger.With("component", "pipeline"),
		statePath: cfg.StatePath,
	}
}

// =============================================================================
// Setup
// =============================================================================

// Setup provisions targetDir from scratch or re-provisions it in place. It
// runs the five phases in order and stops at the first failure. Only the
// materialize phase rolls back (by deleting a directory it created itself);
// later phases leave partial work in place for the next attempt to complete.
func (p *Pipeline) Setup(ctx context.Context, targetDir string, cfg UserConfig) Result {
	targetDir, err := filepath.Abs(targetDir)
	if err != nil {
		return p.fail("", fmt.Errorf("resolve target: %w", err))
	}
	if err := cfg.Normalize(targetDir); err != nil {
		return p.fail("", err)
	}

	created, err := ensureTargetDir(targetDir)
	if err != nil {
		return p.fail(PhaseMaterialize, err)
	}

	lock, err := acquireLock(targetDir)
	if err != nil {
		return p.fail("", err)
	}
	defer lock.release()

	runID := uuid.NewString()
	p.recordRunStart(ctx, runID, targetDir)
	p.logger.Info("provisioning started", "run_id", runID, "target", targetDir, "fresh", created)

	phases := []struct {
		name string
		fn   func(context.Context) error
	}{
		{PhaseMaterialize, func(ctx context.Context) error { return p.materialize(targetDir, created) }},
		{PhaseConfigure, func(ctx context.Context) error { return p.configure(targetDir, &cfg) }},
		{PhaseDirectories, func(ctx context.Context) error { return p.ensureDirectories(targetDir, &cfg) }},
		{PhaseSecurity, func(ctx context.Context) error { return p.setupSecurity(ctx, targetDir) }},
		{PhaseValidate, func(ctx context.Context) error { return p.validate(targetDir) }},
	}

	for _, phase := range phases {
		p.notify(ProgressInfo, phase.name, "running "+phase.name)
		p.recordPhase(ctx, runID, phase.name, history.PhaseStarted, "")

		if err := phase.fn(ctx); err != nil {
			err = &PhaseError{Phase: phase.name, Err: err}
			p.recordPhase(ctx, runID, phase.name, history.PhaseFailed, err.Error())
			p.notify(ProgressError, phase.name, err.Error())

			if phase.name == PhaseMaterialize && created {
				p.logger.Warn("rolling back created directory", "target", targetDir)
				os.RemoveAll(targetDir)
			}

			p.recordRunFinish(ctx, runID, false, err.Error())
			provisioningRuns.WithLabelValues("failure").Inc()
			phaseFailures.WithLabelValues(phase.name).Inc()
			return p.fail(phase.name, err)
		}

		p.recordPhase(ctx, runID, phase.name, history.PhaseSucceeded, "")
		p.notify(ProgressSuccess, phase.name, phase.name+" complete")
	}

	p.persistState(targetDir, cfg)
	p.recordRunFinish(ctx, runID, true, "")
	provisioningRuns.WithLabelValues("success").Inc()
	p.logger.Info("provisioning complete", "run_id", runID, "target", targetDir)

	return Result{Success: true, Message: "deployment ready", SetupPath: targetDir}
}

// EnsureValidSetup checks the deployment and repairs it. A structurally
// valid directory only receives in-place fixups (platform pin, certificate
// renewal); an invalid one goes through the full pipeline again.
func (p *Pipeline) EnsureValidSetup(ctx context.Context, targetDir string, cfg UserConfig) Result {
	targetDir, err := filepath.Abs(targetDir)
	if err != nil {
		return p.fail("", fmt.Errorf("resolve target: %w", err))
	}

	v := ValidateDeployment(targetDir)
	if !v.Valid {
		p.logger.Info("deployment invalid, re-provisioning",
			"target", targetDir, "missing_files", v.MissingFiles, "missing_dirs", v.MissingDirs)
		return p.Setup(ctx, targetDir, cfg)
	}

	if err := p.applyFixups(ctx, targetDir); err != nil {
		p.notify(ProgressWarning, PhaseValidate, err.Error())
	}
	return Result{Success: true, Message: "deployment valid", SetupPath: targetDir}
}

// applyFixups performs the cheap in-place repairs on a valid deployment.
func (p *Pipeline) applyFixups(ctx context.Context, dir string) error {
	composePath := filepath.Join(dir, ComposeFileName)
	raw, err := os.ReadFile(composePath)
	if err != nil {
		return fmt.Errorf("read compose file: %w", err)
	}

	patched, changed, err := composecfg.PinPlatform(string(raw), composecfg.ConsolidatedServiceName, pinnedPlatform)
	if err != nil {
		return fmt.Errorf("pin platform: %w", err)
	}
	if changed {
		if err := os.WriteFile(composePath, []byte(patched), 0o644); err != nil {
			return fmt.Errorf("write compose file: %w", err)
		}
		p.logger.Info("pinned service platform", "service", composecfg.ConsolidatedServiceName, "platform", pinnedPlatform)
	}

	if p.certs != nil && p.certs.NeedsRenewal(dir) {
		p.logger.Info("certificate near expiry, renewing")
		if _, err := p.certs.EnsureCertificates(ctx, dir); err != nil {
			return fmt.Errorf("renew certificates: %w", err)
		}
	}
	return nil
}

// =============================================================================
// Phases
// =============================================================================

// artifactWhitelist lists entries a pre-existing target directory may contain
// without being considered foreign.
var artifactWhitelist = func() map[string]bool {
	w := map[string]bool{
		EnvExampleFileName: true,
		LockFileName:       true,
		".gitignore":       true,
		".DS_Store":        true,
	}
	for _, f := range requiredFiles {
		w[f] = true
	}
	for _, d := range deploymentDirs {
		w[d] = true
	}
	return w
}()

// ensureTargetDir creates the target if needed and reports whether it did.
func ensureTargetDir(dir string) (created bool, err error) {
	if _, statErr := os.Stat(dir); statErr == nil {
		return false, nil
	} else if !os.IsNotExist(statErr) {
		return false, statErr
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create target directory: %w", err)
	}
	return true, nil
}

// materialize writes the static templates. A pre-existing directory must
// contain only deployment artifacts; anything foreign aborts before a single
// byte is written.
func (p *Pipeline) materialize(dir string, created bool) error {
	if !created {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if artifactWhitelist[e.Name()] {
				continue
			}
			// Timestamped backups from earlier runs are our own artifacts.
			if strings.Contains(e.Name(), ".backup.") {
				continue
			}
			return fmt.Errorf("%w: found %q", ErrDirectoryNotEmpty, e.Name())
		}
	}

	for src, dst := range staticAssets {
		wrote, err := writeAsset(dir, src, dst)
		if err != nil {
			return err
		}
		if wrote {
			p.logger.Debug("materialized template", "file", dst)
		}
	}
	return nil
}

// configure merges the user's selections into the environment file and
// rewrites a legacy multi-service compose layout to the consolidated one.
func (p *Pipeline) configure(dir string, cfg *UserConfig) error {
	if cfg.DBPassword == "" {
		cfg.DBPassword = randomSecret()
	}
	if cfg.MinioPassword == "" {
		cfg.MinioPassword = randomSecret()
	}

	envPath := filepath.Join(dir, EnvFileName)
	existing, err := os.ReadFile(envPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read env file: %w", err)
	}
	if len(existing) == 0 {
		// Seed from the example so first-time users keep its comments.
		existing, _ = assetsFS.ReadFile("assets/env.example")
	}

	merged := envfile.Merge(string(existing), []envfile.Var{
		{Key: "DDALAB_DATA_DIR", Value: cfg.DataLocation},
		{Key: "DDALAB_ALLOWED_DIRS", Value: cfg.allowedDirsValue()},
		{Key: "WEB_PORT", Value: cfg.WebPort},
		{Key: "API_PORT", Value: cfg.APIPort},
		{Key: "DB_PASSWORD", Value: cfg.DBPassword},
		{Key: "MINIO_PASSWORD", Value: cfg.MinioPassword},
		{Key: "TRAEFIK_ACME_EMAIL", Value: cfg.NotificationEmail},
	})
	if err := os.WriteFile(envPath, []byte(merged), 0o644); err != nil {
		return fmt.Errorf("write env file: %w", err)
	}

	return p.modernizeCompose(dir)
}

// modernizeCompose replaces a legacy web/api compose layout with the
// consolidated single-service definition, keeping a timestamped backup of
// the old file. Detection keys on service names, so the rewrite is safe to
// repeat.
func (p *Pipeline) modernizeCompose(dir string) error {
	composePath := filepath.Join(dir, ComposeFileName)
	raw, err := os.ReadFile(composePath)
	if err != nil {
		return fmt.Errorf("read compose file: %w", err)
	}

	legacy, err := composecfg.IsLegacyLayout(string(raw))
	if err != nil {
		return fmt.Errorf("inspect compose file: %w", err)
	}
	if !legacy {
		return composecfg.Validate(string(raw))
	}

	backup := composePath + ".backup." + time.Now().Format("20060102-150405")
	if err := os.Rename(composePath, backup); err != nil {
		return fmt.Errorf("back up legacy compose file: %w", err)
	}

	template, err := consolidatedComposeTemplate()
	if err != nil {
		return err
	}
	if err := os.WriteFile(composePath, template, 0o644); err != nil {
		return fmt.Errorf("write consolidated compose file: %w", err)
	}

	p.logger.Info("rewrote legacy compose layout", "backup", filepath.Base(backup))
	return nil
}

// ensureDirectories creates the fixed directory set plus the data location.
func (p *Pipeline) ensureDirectories(dir string, cfg *UserConfig) error {
	for _, d := range deploymentDirs {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	if err := os.MkdirAll(cfg.DataLocation, 0o755); err != nil {
		return fmt.Errorf("create data location: %w", err)
	}
	return nil
}

// securityState is the marker file recording that security setup ran.
type securityState struct {
	Mode        string    `json:"mode"`
	CreatedAt   time.Time `json:"created_at"`
	LastApplied time.Time `json:"last_applied"`
}

// setupSecurity writes the security marker and provisions certificates.
// Certificate trouble is downgraded to a warning: the deployment works over
// an untrusted pair, it never blocks setup.
func (p *Pipeline) setupSecurity(ctx context.Context, dir string) error {
	statePath := filepath.Join(dir, SecurityStateFileName)

	st := securityState{Mode: "local-tls", CreatedAt: time.Now().UTC()}
	if raw, err := os.ReadFile(statePath); err == nil {
		var prev securityState
		if json.Unmarshal(raw, &prev) == nil && !prev.CreatedAt.IsZero() {
			st.CreatedAt = prev.CreatedAt
		}
	}
	st.LastApplied = time.Now().UTC()

	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(statePath, raw, 0o600); err != nil {
		return fmt.Errorf("write security state: %w", err)
	}

	if p.certs == nil {
		return nil
	}
	if info, err := p.certs.EnsureCertificates(ctx, dir); err != nil {
		p.notify(ProgressWarning, PhaseSecurity, "certificate provisioning degraded: "+err.Error())
		p.logger.Warn("certificate provisioning degraded", "error", err, "usable", info.Exists)
	} else if !info.IsTrusted {
		p.notify(ProgressWarning, PhaseSecurity, "using self-signed certificates; browsers will warn")
	}
	return nil
}

// validate is the final structural check. It reports failure without rolling
// anything back: a later Setup or EnsureValidSetup completes the repair.
func (p *Pipeline) validate(dir string) error {
	v := ValidateDeployment(dir)
	if !v.Valid {
		return fmt.Errorf("%w: missing files %v, missing dirs %v",
			ErrSetupIncomplete, v.MissingFiles, v.MissingDirs)
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func (p *Pipeline) fail(phase string, err error) Result {
	p.logger.Error("provisioning failed", "phase", phase, "error", err)
	return Result{Success: false, Message: err.Error()}
}

func (p *Pipeline) notify(kind, phase, message string) {
	p.sink.Notify(Progress{Message: message, Phase: phase, Type: kind})
}

// persistState saves the setup record. Persistence failures are logged,
// never returned: the directory itself is the source of truth.
func (p *Pipeline) persistState(targetDir string, cfg UserConfig) {
	if p.statePath == "" {
		return
	}

	st, err := LoadState(p.statePath)
	if err != nil {
		p.logger.Warn("state file unreadable, starting fresh", "error", err)
	}
	st.SetupComplete = true
	st.SetupPath = targetDir
	st.DataLocation = cfg.DataLocation
	st.ProjectLocation = targetDir
	if st.CurrentSite == "" {
		st.CurrentSite = defaultSite
	}
	st.UserSelections = cfg
	st.InstallationSuccess = true

	if raw, err := os.ReadFile(filepath.Join(targetDir, EnvFileName)); err == nil {
		st.ParsedEnvEntries = envfile.Parse(string(raw))
	}

	if err := SaveState(p.statePath, st); err != nil {
		p.logger.Warn("state persistence failed", "error", err)
	}
}

// History recording is best effort; the store may be absent entirely.

func (p *Pipeline) recordRunStart(ctx context.Context, runID, targetDir string) {
	if p.history == nil {
		return
	}
	if err := p.history.RecordRunStart(ctx, runID, targetDir); err != nil {
		p.logger.Warn("history write failed", "error", err)
	}
}

func (p *Pipeline) recordPhase(ctx context.Context, runID, phase, status, message string) {
	if p.history == nil {
		return
	}
	if err := p.history.RecordPhase(ctx, runID, phase, status, message); err != nil {
		p.logger.Warn("history write failed", "error", err)
	}
}

func (p *Pipeline) recordRunFinish(ctx context.Context, runID string, success bool, message string) {
	if p.history == nil {
		return
	}
	if err := p.history.RecordRunFinish(ctx, runID, success, message); err != nil {
		p.logger.Warn("history write failed", "error", err)
	}
}

// randomSecret returns a random 32-hex-char secret for generated passwords.
func randomSecret() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand read failures are not survivable in any useful way
		panic(err)
	}
	return hex.EncodeToString(buf[:])
}
