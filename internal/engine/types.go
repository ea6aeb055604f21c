package engine

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Fixed artifact names inside a deployment directory.
const (
	ComposeFileName       = "docker-compose.yml"
	EnvFileName           = ".env"
	EnvExampleFileName    = ".env.example"
	TraefikFileName       = "traefik.yml"
	PrometheusFileName    = "prometheus.yml"
	SecurityStateFileName = ".security-state.json"
	LockFileName          = ".provision.lock"
)

// Directories every deployment carries.
var deploymentDirs = []string{"data", "dynamic", "certs", "traefik-logs", "scripts"}

// Default host ports.
const (
	DefaultWebPort = "3000"
	DefaultAPIPort = "8001"
)

// BindMount is one host directory exposed to the deployment.
type BindMount struct {
	HostPath      string `json:"host_path"`
	ContainerPath string `json:"container_path"`
	Permission    string `json:"permission"` // "ro" or "rw"
}

// String renders the mount in host:container:perm form, which is how the
// environment file carries the list.
func (m BindMount) String() string {
	return m.HostPath + ":" + m.ContainerPath + ":" + m.Permission
}

// UserConfig is the user-supplied deployment configuration.
type UserConfig struct {
	WebPort           string      `json:"web_port"`
	APIPort           string      `json:"api_port"`
	DataLocation      string      `json:"data_location"`
	AllowedDirs       []BindMount `json:"allowed_dirs"`
	DBPassword        string      `json:"-"`
	MinioPassword     string      `json:"-"`
	NotificationEmail string      `json:"notification_email"`
}

// Normalize fills defaults relative to the setup target and validates the
// mount list. The primary data mount must be the single writable entry.
func (c *UserConfig) Normalize(targetDir string) error {
	if c.WebPort == "" {
		c.WebPort = DefaultWebPort
	}
	if c.APIPort == "" {
		c.APIPort = DefaultAPIPort
	}
	if c.DataLocation == "" {
		c.DataLocation = filepath.Join(targetDir, "data")
	}
	if !filepath.IsAbs(c.DataLocation) {
		c.DataLocation = filepath.Join(targetDir, c.DataLocation)
	}

	if len(c.AllowedDirs) == 0 {
		c.AllowedDirs = []BindMount{{
			HostPath:      c.DataLocation,
			ContainerPath: "/app/data",
			Permission:    "rw",
		}}
	}

	writable := 0
	for i, m := range c.AllowedDirs {
		switch m.Permission {
		case "rw":
			writable++
		case "ro":
		default:
			return fmt.Errorf("%w: mount %d has permission %q, want ro or rw",
				ErrInvalidConfig, i, m.Permission)
		}
		if m.HostPath == "" || m.ContainerPath == "" {
			return fmt.Errorf("%w: mount %d is missing a path", ErrInvalidConfig, i)
		}
	}
	if writable != 1 {
		return fmt.Errorf("%w: need exactly one writable mount, got %d", ErrInvalidConfig, writable)
	}
	return nil
}

// allowedDirsValue renders the mount list for the environment file.
func (c *UserConfig) allowedDirsValue() string {
	parts := make([]string, 0, len(c.AllowedDirs))
	for _, m := range c.AllowedDirs {
		parts = append(parts, m.String())
	}
	return strings.Join(parts, ",")
}

// Result is the outcome of a provisioning run.
type Result struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	SetupPath string `json:"setup_path,omitempty"`
}
