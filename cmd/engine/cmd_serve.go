package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oobe/engine/internal/bus"
	"github.com/oobe/engine/internal/diag"
	"github.com/oobe/engine/internal/engineconfig"
	"github.com/oobe/engine/internal/httpgw"
	"github.com/oobe/engine/internal/orchestrator"
	"github.com/oobe/engine/internal/planloader"
	"github.com/oobe/engine/internal/pluginhost"
	"github.com/oobe/engine/internal/registry"
	"github.com/oobe/engine/internal/session"
	"go.uber.org/zap"
)

// shutdownTimeout bounds graceful shutdown of the HTTP dispatcher and
// the bus listener. Shutdown does not release plugin bindings; they
// stay loaded until the process exits.
const shutdownTimeout = 30 * time.Second

func runServe(configPath string) error {
	cfg, viperCfg, err := engineconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := engineconfig.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("engine starting", zap.String("version", version))
	if f := viperCfg.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded", zap.String("source", f))
	} else {
		logger.Warn("no configuration file found, using defaults")
	}

	planStore, err := planloader.LoadFile(cfg.Plan.BasePath)
	if err != nil {
		return fmt.Errorf("load base execution plan: %w", err)
	}
	logger.Info("execution plan loaded",
		zap.String("path", cfg.Plan.BasePath),
		zap.String("plan_version", planStore.Version()),
	)

	host := pluginhost.NewHost(cfg.PluginHost.ArtifactDir, logger.Named("pluginhost"))
	reg := registry.New(logger.Named("registry"))

	eventBus := bus.New(logger.Named("bus"), diag.BusDroppedMessages)
	socketHandler := bus.NewSocketHandler(eventBus, logger.Named("bus"))
	busServer := &http.Server{
		Addr:    cfg.Bus.Addr(),
		Handler: socketHandler,
	}

	updater := planloader.NewUpdater(planStore, eventBus, logger.Named("planloader"))
	stopUpdater := updater.Start()
	defer stopUpdater()
	planHandler := planloader.NewHandler(planStore)

	jwtSecret := cfg.Auth.JWTSigningKey
	if jwtSecret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return fmt.Errorf("generate JWT secret: %w", err)
		}
		jwtSecret = hex.EncodeToString(b)
		logger.Info("using auto-generated JWT secret (normal for first run; set auth.jwt_signing_key in config to persist sessions across restarts)")
	}
	tokens := session.NewTokenService([]byte(jwtSecret), cfg.Auth.TokenTTL)

	creds := make([]session.Credential, len(cfg.Auth.APIKeys))
	for i, k := range cfg.Auth.APIKeys {
		creds[i] = session.Credential{APIKey: k.APIKey, SecretHash: k.SecretHash}
	}
	gate := session.New(creds, tokens, logger.Named("session"))
	sessionHandler := session.NewHandler(gate, logger.Named("session"))

	diagStore, err := diag.Open(context.Background(), cfg.Diag.DBPath)
	if err != nil {
		return fmt.Errorf("open diagnostics database: %w", err)
	}
	defer diagStore.Close()

	eventLog := diag.NewEventLog(diagStore, logger.Named("diag"))
	eventLog.Start(eventBus)
	defer eventLog.Stop()
	diagHandler := diag.NewHandler(eventLog)

	orch := orchestrator.New(planStore, host, reg, eventBus, logger.Named("orchestrator"))

	metricsPoller := diag.NewMetricsPoller(
		func() int { return len(reg.All()) },
		orch,
		eventBus,
		cfg.Diag.MetricsInterval,
	)

	readyCheck := httpgw.ReadinessChecker(func(ctx context.Context) error { return nil })

	gw := httpgw.New(
		cfg.HTTP.Addr(),
		reg,
		logger.Named("httpgw"),
		readyCheck,
		sessionHandler,
		session.Middleware(gate),
		cfg.HTTP.ShellDir,
		cfg.DevMode,
		planHandler,
		diagHandler,
	)

	bootCtx, bootCancel := context.WithCancel(context.Background())
	defer bootCancel()

	metricsPoller.Start(bootCtx)
	defer metricsPoller.Stop()

	orch.Boot(bootCtx)
	defer orch.Shutdown()

	go func() {
		if err := gw.Start(); err != nil {
			logger.Error("HTTP dispatcher error", zap.Error(err))
		}
	}()
	logger.Info("HTTP dispatcher listening", zap.String("addr", cfg.HTTP.Addr()))

	go func() {
		if err := busServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("bus listener error", zap.Error(err))
		}
	}()
	logger.Info("event bus listening", zap.String("addr", cfg.Bus.Addr()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case event := <-orch.Handoff():
		logger.Info("execution plan handoff reached", zap.String("event", event))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := gw.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP dispatcher shutdown error", zap.Error(err))
	}
	if err := busServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("bus listener shutdown error", zap.Error(err))
	}

	logger.Info("engine stopped")
	return nil
}
