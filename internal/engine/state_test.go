package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadState_MissingFileIsFresh(t *testing.T) {
	st, err := LoadState(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	assert.False(t, st.SetupComplete)
	assert.NotNil(t, st.ParsedEnvEntries)
	assert.Equal(t, StateVersion, st.Version)
}

func TestSaveState_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	st := ProvisioningState{
		SetupComplete:   true,
		SetupPath:       "/srv/ddalab",
		DataLocation:    "/srv/ddalab/data",
		ProjectLocation: "/srv/ddalab",
		CurrentSite:     "ddalab.example.org",
		ParsedEnvEntries: map[string]string{
			"WEB_PORT": "3000",
		},
	}
	require.NoError(t, SaveState(path, st))

	loaded, err := LoadState(path)
	require.NoError(t, err)
	assert.True(t, loaded.SetupComplete)
	assert.Equal(t, "/srv/ddalab", loaded.SetupPath)
	assert.Equal(t, "/srv/ddalab", loaded.ProjectLocation)
	assert.Equal(t, "ddalab.example.org", loaded.CurrentSite)
	assert.Equal(t, "3000", loaded.ParsedEnvEntries["WEB_PORT"])
	assert.Equal(t, StateVersion, loaded.Version)
	assert.False(t, loaded.LastUpdated.IsZero())
}

func TestLoadState_CorruptFileIsDiscarded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	st, err := LoadState(path)
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	// The returned state is still usable.
	assert.False(t, st.SetupComplete)
	assert.NotNil(t, st.ParsedEnvEntries)
}

func TestLoadState_MigratesOldVersions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	// A version-0 file from before the env cache and data location existed.
	old := `{"setup_complete": true, "setup_path": "/srv/ddalab"}`
	require.NoError(t, os.WriteFile(path, []byte(old), 0o600))

	st, err := LoadState(path)
	require.NoError(t, err)
	assert.True(t, st.SetupComplete)
	assert.Equal(t, StateVersion, st.Version)
	assert.Equal(t, filepath.Join("/srv/ddalab", "data"), st.DataLocation)
	assert.Equal(t, "/srv/ddalab", st.ProjectLocation)
	assert.Equal(t, defaultSite, st.CurrentSite)
	assert.NotNil(t, st.ParsedEnvEntries)
}

func TestSaveState_WritesPrivateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, SaveState(path, ProvisioningState{}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
