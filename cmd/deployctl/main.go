package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	targetDir := flag.String("target", "", "Deployment directory (overrides config)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("deployctl %s (built %s)\n", Version, BuildTime)
		os.Exit(ExitSuccess)
	}

	os.Exit(run(*configPath, *targetDir))
}

func run(configPath, targetDir string) int {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}
	if targetDir != "" {
		cfg.Deploy.TargetDir = targetDir
	}

	logger := SetupLogger(cfg)
	logger.Info("starting deployctl",
		"version", Version,
		"target", cfg.Deploy.TargetDir,
		"project", cfg.Deploy.Project,
	)

	server, err := NewServer(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		return exitCodeFor(err)
	}

	if err := server.Start(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		return exitCodeFor(err)
	}
	return ExitSuccess
}

// exitCodeFor maps a server error to the process exit code.
func exitCodeFor(err error) int {
	var sErr *ServerError
	if errors.As(err, &sErr) {
		return sErr.ExitCode
	}
	return ExitConfigError
}
