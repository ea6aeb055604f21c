// Package dockerprobe checks readiness of the deployed compose project
// through the Docker SDK. It is the health-probe collaborator of the
// lifecycle supervisor: a probe is stricter than "process started" - every
// container of the project must be running and, when it defines a health
// check, report healthy.
package dockerprobe

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

// composeProjectLabel is the label docker compose stamps on every container
// it manages.
const composeProjectLabel = "com.docker.compose.project"

// Probe inspects the containers of one compose project.
type Probe struct {
	cli     *client.Client
	project string
	logger  *slog.Logger
}

// NewProbe creates a probe for the named compose project. If host is empty
// the default Docker host from the environment is used.
func NewProbe(host, project string, logger *slog.Logger) (*Probe, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	return &Probe{
		cli:     cli,
		project: project,
		logger:  logger.With("component", "dockerprobe", "project", project),
	}, nil
}

// Close releases the underlying Docker client.
func (p *Probe) Close() error {
	return p.cli.Close()
}

// ServicesReady reports whether every container of the compose project is
// running and healthy. No containers at all means not ready.
func (p *Probe) ServicesReady(ctx context.Context) (bool, error) {
	containers, err := p.cli.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", composeProjectLabel+"="+p.project),
		),
	})
	if err != nil {
		return false, fmt.Errorf("list containers: %w", err)
	}
	if len(containers) == 0 {
		return false, nil
	}

	for _, c := range containers {
		inspect, err := p.cli.ContainerInspect(ctx, c.ID)
		if err != nil {
			return false, fmt.Errorf("inspect container %s: %w", c.ID[:12], err)
		}
		if inspect.State == nil || !inspect.State.Running {
			p.logger.Debug("container not running", "container", containerName(c.Names), "state", c.State)
			return false, nil
		}
		if inspect.State.Health != nil && inspect.State.Health.Status != "healthy" {
			p.logger.Debug("container not healthy",
				"container", containerName(c.Names), "health", inspect.State.Health.Status)
			return false, nil
		}
	}

	return true, nil
}

func containerName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	name := names[0]
	if len(name) > 0 && name[0] == '/' {
		name = name[1:]
	}
	return name
}
