package engine

import (
	"os"
	"path/filepath"
)

// requiredFiles are the artifacts a valid deployment directory must contain.
var requiredFiles = []string{
	ComposeFileName,
	EnvFileName,
	TraefikFileName,
	PrometheusFileName,
	SecurityStateFileName,
}

// requiredDirs are the directories a valid deployment directory must contain.
// This is a subset of deploymentDirs: log and script directories are created
// but their absence does not invalidate a deployment.
var requiredDirs = []string{"data", "dynamic", "certs"}

// Validation is the structural check result for one deployment directory.
type Validation struct {
	Valid        bool     `json:"valid"`
	MissingFiles []string `json:"missing_files,omitempty"`
	MissingDirs  []string `json:"missing_dirs,omitempty"`
}

// ValidateDeployment checks the directory against the fixed artifact
// contract. It only reads the filesystem and never repairs anything; use
// EnsureValidSetup for self-healing.
func ValidateDeployment(dir string) Validation {
	v := Validation{Valid: true}

	for _, name := range requiredFiles {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || info.IsDir() {
			v.Valid = false
			v.MissingFiles = append(v.MissingFiles, name)
		}
	}
	for _, name := range requiredDirs {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || !info.IsDir() {
			v.Valid = false
			v.MissingDirs = append(v.MissingDirs, name)
		}
	}

	// Certificate files are deliberately not part of the structural check:
	// certificate trouble degrades a deployment, it never invalidates one.
	// Renewal and re-issuance are handled by EnsureValidSetup's fixups.

	return v
}
