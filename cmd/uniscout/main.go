// Command uniscout runs the multi-radio discovery engine behind an HTTP/SSE API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/unicro/uniscout/internal/api"
	"github.com/unicro/uniscout/internal/audit"
	"github.com/unicro/uniscout/internal/auth"
	"github.com/unicro/uniscout/internal/config"
	"github.com/unicro/uniscout/internal/logger"
	"github.com/unicro/uniscout/internal/scan"
	"github.com/unicro/uniscout/internal/telemetry"
	"github.com/unicro/uniscout/internal/tracer"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default $"+config.EnvConfigPath+")")
	issueFor := flag.String("issue-token", "", "print an HS256 controller token for this subject and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of tokens printed by -issue-token")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(api.Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "uniscout: %v\n", err)
		os.Exit(1)
	}

	if *issueFor != "" {
		if err := issueToken(cfg.Auth, *issueFor, *tokenTTL); err != nil {
			fmt.Fprintf(os.Stderr, "uniscout: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "uniscout: %v\n", err)
		os.Exit(1)
	}
}

func issueToken(cfg config.AuthConfig, subject string, ttl time.Duration) error {
	if cfg.Secret == "" {
		return errors.New("-issue-token needs auth.secret (HS256)")
	}
	claims := auth.LocalClaims
	claims.Subject = subject
	token, err := auth.Issue(cfg.Secret, claims, ttl)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func run(cfg *config.Config) error {
	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = closeLog() }()
	slog.SetDefault(log)

	log.Info("starting uniscout", "version", api.Version, "address", cfg.Server.Address)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(flushCtx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	var auditLogger *audit.Logger
	if cfg.Audit.Enabled {
		auditLogger, err = audit.NewLogger(cfg.Audit)
		if err != nil {
			return fmt.Errorf("audit: %w", err)
		}
		defer func() { _ = auditLogger.Close() }()
		log.Info("audit log opened", "path", auditLogger.FilePath())
	}

	hub := telemetry.NewHub(cfg.Telemetry, log.With("component", "telemetry"))
	defer hub.Stop()

	factory, err := newProviderFactory(cfg.Providers, log.With("component", "provider"))
	if err != nil {
		return err
	}

	orchestrator := scan.New(cfg.Scan, factory,
		scan.WithPublisher(hub),
		scan.WithAuditLogger(auditLogger),
		scan.WithLogger(log.With("component", "scan")),
		scan.WithPlatform(cfg.Providers.Platform),
	)
	hub.SetSnapshotSource(func() map[string]interface{} {
		status := orchestrator.Status()
		return map[string]interface{}{
			"status":  status,
			"devices": orchestrator.Snapshot(),
		}
	})

	opts := []api.Option{
		api.WithLogger(log.With("component", "api")),
		api.WithStopTimeout(cfg.Scan.StopTimeout),
	}
	if cfg.Auth.Enabled {
		verifier, err := auth.NewVerifierFromConfig(cfg.Auth)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		opts = append(opts, api.WithAuth(auth.NewMiddleware(verifier)))
		log.Info("bearer authentication enabled", "algorithm", cfg.Auth.Algorithm)
	}
	server := api.NewServer(cfg.Server, orchestrator, hub, opts...)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Scan.StopTimeout)
	defer cancel()
	if err := orchestrator.Stop(stopCtx); err != nil {
		log.Warn("scan stop failed", "error", err)
	}

	hub.Stop()
	if err := server.Stop(context.Background()); err != nil {
		log.Warn("api shutdown failed", "error", err)
	}

	log.Info("uniscout stopped")
	return nil
}
