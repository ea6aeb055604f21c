package engine

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed all:assets
var assetsFS embed.FS

// staticAssets maps embedded templates to their destination inside a
// deployment directory.
var staticAssets = map[string]string{
	"assets/docker-compose.yml": ComposeFileName,
	"assets/traefik.yml":        TraefikFileName,
	"assets/prometheus.yml":     PrometheusFileName,
	"assets/env.example":        EnvExampleFileName,
	"assets/dynamic/tls.yml":    filepath.Join("dynamic", "tls.yml"),
}

// writeAsset materializes one embedded template. Existing files are left
// alone so repeated runs never clobber user edits.
func writeAsset(dir, src, dst string) (bool, error) {
	path := filepath.Join(dir, dst)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	raw, err := assetsFS.ReadFile(src)
	if err != nil {
		return false, fmt.Errorf("read embedded %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", dst, err)
	}
	return true, nil
}

// consolidatedComposeTemplate returns the embedded compose definition, used
// both for fresh setups and when rewriting a legacy multi-service layout.
func consolidatedComposeTemplate() ([]byte, error) {
	return assetsFS.ReadFile("assets/docker-compose.yml")
}
