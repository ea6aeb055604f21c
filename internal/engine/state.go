package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// StateVersion is the current persisted state schema version. Older files are
// migrated in place on load; unknown fields from newer writers are dropped.
const StateVersion = 2

// defaultSite is the site a migrated state file points at when the writer
// predates multi-site support.
const defaultSite = "localhost"

// ProvisioningState is the persisted record of the last setup. It is a
// convenience cache: losing it never invalidates a deployment, the directory
// contents remain the source of truth.
type ProvisioningState struct {
	Version             int               `json:"version"`
	SetupComplete       bool              `json:"setup_complete"`
	SetupPath           string            `json:"setup_path"`
	DataLocation        string            `json:"data_location"`
	ProjectLocation     string            `json:"project_location"`
	CurrentSite         string            `json:"current_site"`
	UserSelections      UserConfig        `json:"user_selections"`
	ParsedEnvEntries    map[string]string `json:"parsed_env_entries"`
	InstallationSuccess bool              `json:"installation_success"`
	LastUpdated         time.Time         `json:"last_updated"`
}

// LoadState reads persisted state from path. A missing file returns a fresh
// zero state. Any stored version is accepted and migrated forward; a state
// file is never rejected as too old.
func LoadState(path string) (ProvisioningState, error) {
	var st ProvisioningState

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		st.migrate()
		return st, nil
	}
	if err != nil {
		return st, &PersistenceError{Path: path, Err: err}
	}

	if err := json.Unmarshal(raw, &st); err != nil {
		// A corrupt state file is discarded, not fatal.
		st = ProvisioningState{}
		st.migrate()
		return st, &PersistenceError{Path: path, Err: err}
	}

	st.migrate()
	return st, nil
}

// SaveState writes the state atomically (write to a temp file, then rename).
func SaveState(path string, st ProvisioningState) error {
	st.Version = StateVersion
	st.LastUpdated = time.Now().UTC()

	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return &PersistenceError{Path: path, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &PersistenceError{Path: path, Err: err}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	return nil
}

// migrate lifts a state loaded from an older schema to the current one.
// Version 0/1 files predate the env-entry cache; missing maps are filled so
// callers never see nil.
func (st *ProvisioningState) migrate() {
	if st.ParsedEnvEntries == nil {
		st.ParsedEnvEntries = make(map[string]string)
	}
	if st.Version < 2 && st.SetupPath != "" && st.DataLocation == "" {
		st.DataLocation = filepath.Join(st.SetupPath, "data")
	}
	if st.ProjectLocation == "" {
		st.ProjectLocation = st.SetupPath
	}
	if st.CurrentSite == "" {
		st.CurrentSite = defaultSite
	}
	st.Version = StateVersion
}
