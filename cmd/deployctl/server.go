package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ddalab/deployctl/internal/engine"
	"github.com/ddalab/deployctl/internal/shell/certs"
	"github.com/ddalab/deployctl/internal/shell/dockerprobe"
	"github.com/ddalab/deployctl/internal/shell/history"
	"github.com/ddalab/deployctl/internal/shell/runner"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitDockerError     = 3
	ExitHTTPServerError = 4
)

// =============================================================================
// Server
// =============================================================================

// Server is the deployctl control-plane process.
type Server struct {
	config     *Config
	httpServer *http.Server
	history    *history.Store
	probe      *dockerprobe.Probe
	supervisor *engine.Supervisor
	logger     *slog.Logger
}

// NewServer creates a new server with the given config.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	var hist *history.Store
	if cfg.History.Enabled {
		var err error
		hist, err = history.Open(cfg.History.DSN, logger)
		if err != nil {
			return nil, &ServerError{
				Op:       "NewServer",
				Err:      err,
				ExitCode: ExitDatabaseError,
			}
		}
	}

	// The probe is optional: without a reachable Docker daemon the lifecycle
	// still works, it just never reports healthy.
	probe, err := dockerprobe.NewProbe(cfg.Docker.Host, cfg.Deploy.Project, logger)
	if err != nil {
		logger.Warn("docker probe unavailable, health checks disabled", "error", err)
		probe = nil
	}

	execRunner := runner.NewExecRunner(cfg.Runner.Timeout, logger)
	certProvisioner := certs.NewProvisioner(execRunner, logger)

	pipeline := engine.NewPipeline(engine.PipelineConfig{
		Certs:     certProvisioner,
		History:   hist,
		Sink:      engine.LogSink{Logger: logger},
		Logger:    logger,
		StatePath: cfg.Deploy.StateFile,
	})

	supervisor := engine.NewSupervisor(engine.SupervisorConfig{
		Runner:        execRunner,
		Prober:        proberOrNil(probe),
		History:       hist,
		Logger:        logger,
		Dir:           cfg.Deploy.TargetDir,
		Project:       cfg.Deploy.Project,
		ProbeInterval: cfg.Deploy.ProbeInterval,
	})

	handler := engine.Setup(engine.ServerConfig{
		Pipeline:   pipeline,
		Supervisor: supervisor,
		History:    hist,
		Certs:      certProvisioner,
		Logger:     logger,
		TargetDir:  cfg.Deploy.TargetDir,
		DefaultConfig: engine.UserConfig{
			WebPort:           cfg.Deploy.WebPort,
			APIPort:           cfg.Deploy.APIPort,
			DataLocation:      cfg.Deploy.DataDir,
			NotificationEmail: cfg.Deploy.NotificationEmail,
		},
		Version: Version,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		config:     cfg,
		httpServer: httpServer,
		history:    hist,
		probe:      probe,
		supervisor: supervisor,
		logger:     logger,
	}, nil
}

// proberOrNil avoids handing the supervisor a typed nil.
func proberOrNil(p *dockerprobe.Probe) engine.Prober {
	if p == nil {
		return nil
	}
	return p
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	s.supervisor.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		s.shutdown(ctx)
		return &ServerError{
			Op:       "Start",
			Err:      err,
			ExitCode: ExitHTTPServerError,
		}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	s.shutdown(ctx)
	return nil
}

// shutdown stops the HTTP server, the supervisor and the adapters.
func (s *Server) shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http shutdown failed", "error", err)
	}

	s.supervisor.Shutdown()

	if s.probe != nil {
		if err := s.probe.Close(); err != nil {
			s.logger.Error("docker probe close failed", "error", err)
		}
	}
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			s.logger.Error("history close failed", "error", err)
		}
	}

	s.logger.Info("shutdown complete")
}

// =============================================================================
// Errors
// =============================================================================

// ServerError carries the failing operation and the process exit code.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
