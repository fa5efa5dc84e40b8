package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rescuebox/rescuebox/internal/cli"
	"github.com/rescuebox/rescuebox/internal/core"
	"github.com/rescuebox/rescuebox/internal/db"
	httpsvr "github.com/rescuebox/rescuebox/internal/http"
	mcpsvr "github.com/rescuebox/rescuebox/internal/mcp"
	"github.com/rescuebox/rescuebox/internal/plugins/extcmd"
	"github.com/rescuebox/rescuebox/internal/plugins/fileutils"
	"github.com/rescuebox/rescuebox/internal/registry"
)

var (
	version   = ""
	gitCommit = ""
	buildTime = ""
)

func main() {
	args := os.Args[1:]
	serving := len(args) > 0 && args[0] == "serve"

	// Command line runs keep stdout for command output.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	if serving {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := setup(logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer app.close()

	env := cli.Env{
		Host:   app.host,
		Exec:   app.exec,
		Signer: app.signer,
		Policy: app.policy,
		Serve:  app.serve,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
	if err := cli.Run(ctx, env, args); err != nil {
		var usage cli.UsageError
		if errors.As(err, &usage) {
			fmt.Fprintf(os.Stderr, "error: %s\n\n%s", usage.Message, cli.Usage())
			app.close()
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		app.close()
		os.Exit(1)
	}
}

type app struct {
	logger   *slog.Logger
	host     *registry.Host
	exec     *core.Executor
	policy   *core.Policy
	signer   *core.ReceiptSigner
	history  *core.HistoryService
	database *db.DB
	httpAddr string
	mcpAddr  string
}

func setup(logger *slog.Logger) (*app, error) {
	profileName := strings.TrimSpace(os.Getenv("RESCUEBOX_PROFILE"))
	profile, err := core.LoadProfile(profileName)
	if err != nil {
		return nil, fmt.Errorf("invalid RESCUEBOX_PROFILE: %w", err)
	}
	logger.Info("profile loaded", "profile", profile.Name)

	a := &app{
		logger:   logger,
		httpAddr: envOrDefault("RESCUEBOX_HTTP_LISTEN", "0.0.0.0:8000"),
		mcpAddr:  "0.0.0.0:8090",
	}
	if v, ok := os.LookupEnv("RESCUEBOX_MCP_LISTEN"); ok {
		a.mcpAddr = strings.TrimSpace(v)
	}

	a.policy = core.NewPolicy(os.Getenv("PLUGIN_ALLOWLIST"))
	forbiddenPrefixes := envOrDefault("PATH_POLICY_FORBIDDEN_PREFIXES", profile.PathPolicyForbiddenPrefixes)
	a.policy.SetPathPolicy(forbiddenPrefixes)

	timeoutSecs, err := envInt("PLUGIN_TIMEOUT_SECONDS", profile.PluginTimeoutSeconds, 1)
	if err != nil {
		return nil, err
	}
	throttleMS, err := envInt("STREAM_THROTTLE_MS", profile.StreamThrottleMS, 0)
	if err != nil {
		return nil, err
	}
	maxConcurrent, err := envInt("MAX_CONCURRENT_INVOCATIONS", profile.MaxConcurrentInvocations, 0)
	if err != nil {
		return nil, err
	}
	mode, err := core.ParseConcurrencyMode(envOrDefault("CONCURRENCY_MODE", profile.ConcurrencyMode))
	if err != nil {
		return nil, err
	}

	if key := os.Getenv("RECEIPT_SIGNING_KEY"); key != "" {
		a.signer, err = core.NewReceiptSigner([]byte(key), 0)
		if err != nil {
			return nil, fmt.Errorf("invalid RECEIPT_SIGNING_KEY: %w", err)
		}
	}

	var recorder core.Recorder
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		a.database, err = db.New(databaseURL)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		store, err := core.NewArtifactStore(a.database, envOrDefault("ARTIFACTS_DIR", "artifacts"))
		if err != nil {
			a.close()
			return nil, fmt.Errorf("artifact store init failed: %w", err)
		}
		recorder = core.NewAuditService(a.database, store, a.signer)
		a.history = core.NewHistoryService(a.database, store)
	}

	throttle := time.Duration(throttleMS) * time.Millisecond
	if throttleMS == 0 {
		throttle = -1
	}
	a.exec = core.NewExecutor(core.ExecutorConfig{
		Mode:           mode,
		MaxConcurrent:  maxConcurrent,
		StreamThrottle: throttle,
		Recorder:       recorder,
		Logger:         logger,
	})

	a.host = registry.NewHost(version)
	if err := a.host.Add(fileutils.New(a.policy)); err != nil {
		a.close()
		return nil, err
	}
	runner := extcmd.NewRunner(extcmd.Config{Timeout: time.Duration(timeoutSecs) * time.Second})
	installed, err := extcmd.Install(a.host, os.Getenv("PLUGIN_DIR"), runner, logger)
	if err != nil {
		a.close()
		return nil, err
	}

	logger.Info("effective config",
		"profile", profile.Name,
		"path_policy_forbidden_prefixes", forbiddenPrefixes,
		"plugin_timeout_seconds", timeoutSecs,
		"stream_throttle_ms", throttleMS,
		"concurrency_mode", string(mode),
		"max_concurrent_invocations", maxConcurrent,
		"external_plugins", installed,
		"audit", a.database != nil,
		"receipts", a.signer != nil,
	)
	return a, nil
}

func (a *app) close() {
	if a.database != nil {
		a.database.Close()
		a.database = nil
	}
}

// serve runs the HTTP server and, unless RESCUEBOX_MCP_LISTEN is empty, the
// MCP server until ctx is cancelled or one of them fails.
func (a *app) serve(ctx context.Context) error {
	httpServer := httpsvr.NewServer(a.httpAddr, a.host, a.exec, a.policy, a.history, a.logger, httpsvr.BuildInfo{
		Version:   version,
		GitCommit: gitCommit,
		BuildTime: buildTime,
	})
	var mcpServer *mcpsvr.Server
	if a.mcpAddr != "" {
		mcpServer = mcpsvr.NewServer(a.mcpAddr, a.host, a.exec, a.policy, a.logger, version)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- httpServer.ListenAndServe() }()
	if mcpServer != nil {
		go func() { errCh <- mcpServer.ListenAndServe() }()
	}
	a.logger.Info("serving", "http", a.httpAddr, "mcp", mcpServer != nil)

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down", "reason", context.Cause(ctx).Error())
	case serveErr = <-errCh:
		a.logger.Error("server error", "err", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	httpServer.Shutdown(shutdownCtx)
	if mcpServer != nil {
		mcpServer.Shutdown(shutdownCtx)
	}
	a.logger.Info("shutdown complete")
	return serveErr
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback, min int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return v, nil
}
