// Sovereign - control plane for gated, audited operations
package main

import (
	"context"
	"os"
	"time"

	"github.com/mbd888/sovereign/internal/config"
	"github.com/mbd888/sovereign/internal/logging"
	"github.com/mbd888/sovereign/internal/server"
	"github.com/mbd888/sovereign/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Bootstrap logger until the configured one is known
	logger := logging.New("info", "text")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting sovereign",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	for _, w := range cfg.Warnings {
		logger.Warn("config", "warning", w)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"domain", cfg.Domain,
		"audit_enabled", cfg.AuditEnabled,
		"approval_enabled", cfg.ApprovalEnabled,
		"notify_provider", cfg.NotifyProvider,
	)

	ctx := context.Background()

	shutdownTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Error("tracing shutdown error", "error", err)
		}
	}()

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
