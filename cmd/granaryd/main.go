package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"granary/config"
	"granary/core/events"
	"granary/core/journal"
	"granary/core/state"
	"granary/crypto"
	"granary/gateway"
	"granary/history"
	"granary/native/yield"
	"granary/observability/logging"
	"granary/observability/metrics"
	"granary/observability/otel"
	"granary/rpc"
	"granary/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis YAML file (overrides config GenesisFile)")
	allowMigrateFlag := flag.Bool("allow-migrate", false, "Allow starting with a mismatched state schema (manual migrations only)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.SetupWithFile("granaryd", cfg.Logging.Env, logging.FileConfig{
		Directory:  cfg.Logging.Directory,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: telemetryService(cfg),
			Environment: cfg.Telemetry.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Metrics:     true,
			Traces:      true,
		})
		if err != nil {
			logger.Error("Failed to initialise telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("Telemetry shutdown failed", slog.Any("error", err))
			}
		}()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		panic(fmt.Sprintf("Failed to prepare data directory: %v", err))
	}

	db, err := storage.NewLevelDB(cfg.StatePath())
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	manager := state.NewManager(db)
	applied, err := manager.GenesisApplied()
	if err != nil {
		panic(fmt.Sprintf("Failed to read genesis marker: %v", err))
	}
	if !applied {
		genesisPath := strings.TrimSpace(*genesisFlag)
		if genesisPath == "" {
			genesisPath = strings.TrimSpace(cfg.GenesisFile)
		}
		if genesisPath == "" {
			logger.Error("First boot requires a genesis file; set GenesisFile or pass --genesis")
			os.Exit(1)
		}
		gen, err := config.LoadGenesis(genesisPath)
		if err != nil {
			panic(fmt.Sprintf("Failed to load genesis: %v", err))
		}
		if err := manager.ApplyGenesis(gen); err != nil {
			panic(fmt.Sprintf("Failed to apply genesis: %v", err))
		}
		if err := manager.SetStateVersion(state.StateVersion); err != nil {
			panic(fmt.Sprintf("Failed to record state version: %v", err))
		}
		logger.Info("Applied genesis document", "path", genesisPath, "network", gen.NetworkName)
	}
	if err := state.EnsureStateVersion(db, *allowMigrateFlag); err != nil {
		if errors.Is(err, state.ErrStateVersionMismatch) {
			logger.Error("State schema mismatch; run migrations or pass --allow-migrate", slog.Any("error", err))
			os.Exit(1)
		}
		panic(fmt.Sprintf("Failed to verify state version: %v", err))
	}

	jrnl, err := journal.Open(cfg.JournalPath())
	if err != nil {
		panic(fmt.Sprintf("Failed to open event journal: %v", err))
	}
	defer jrnl.Close()

	archive, err := history.Open(cfg.HistoryPath())
	if err != nil {
		panic(fmt.Sprintf("Failed to open history archive: %v", err))
	}
	defer archive.Close()

	module := crypto.ModuleAddress(state.YieldModuleName)
	engine := yield.NewEngine(rateModelFor(cfg.RateModel))
	engine.SetState(state.NewYieldState(manager))
	engine.SetPrincipalLedger(state.NewTokenLedger(manager, cfg.PrincipalToken, module))
	engine.SetRewardLedger(state.NewTokenLedger(manager, cfg.RewardToken, module))
	engine.SetSequenceFunc(func() uint64 {
		seq, err := manager.BumpSequence()
		if err != nil {
			logger.Error("Failed to bump sequence", slog.Any("error", err))
			return 0
		}
		return seq
	})

	sinkErr := func(err error) {
		logger.Warn("Event sink failure", slog.Any("error", err))
	}
	engine.SetEmitter(events.NewMultiEmitter(
		journal.NewSink(jrnl, sinkErr),
		history.NewSink(archive, sinkErr),
		metrics.Yield(),
	))

	// Roll the accumulators forward once at boot. This also stamps a
	// genesis-configured rate model with the boot clock so the first reward
	// delivery measures elapsed time from startup.
	if _, err := engine.SyncPool(); err != nil {
		logger.Warn("Initial pool sync failed", slog.Any("error", err))
	}

	authToken := strings.TrimSpace(os.Getenv(cfg.RPCTokenEnv))
	if authToken == "" {
		logger.Warn("RPC auth token not set; mutating methods will be rejected", "env", cfg.RPCTokenEnv)
	}
	rpcServer := rpc.NewServer(engine, jrnl, archive, authToken, logger)

	errCh := make(chan error, 2)
	go func() {
		if err := rpcServer.Start(cfg.RPCAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("rpc server: %w", err)
		}
	}()

	if strings.TrimSpace(cfg.GatewayAddress) != "" {
		opsHandler := gateway.New(gateway.Config{
			Engine:        engine,
			Journal:       jrnl,
			Archive:       archive,
			Authenticator: gatewayAuth(cfg, logger),
			RateLimiter: gateway.NewRateLimiter(gateway.RateLimit{
				RequestsPerMinute: cfg.Gateway.RequestsPerMinute,
				Burst:             cfg.Gateway.Burst,
			}),
			Logger: logger,
		})
		opsServer := &http.Server{
			Addr:              cfg.GatewayAddress,
			Handler:           opsHandler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("Starting ops gateway", "addr", cfg.GatewayAddress)
			if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("ops gateway: %w", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = opsServer.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("granaryd started",
		"network", cfg.NetworkName,
		"rpc", cfg.RPCAddress,
		"rateModel", cfg.RateModel,
		"principalToken", cfg.PrincipalToken,
		"rewardToken", cfg.RewardToken,
	)

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		logger.Error("Server failure", slog.Any("error", err))
	}
}

func rateModelFor(kind string) yield.RateModel {
	if kind == yield.RateModelDepleting {
		return yield.DepletingModel{}
	}
	return yield.SmoothedModel{}
}

func telemetryService(cfg *config.Config) string {
	if name := strings.TrimSpace(cfg.Telemetry.ServiceName); name != "" {
		return name
	}
	return "granaryd"
}

func gatewayAuth(cfg *config.Config, logger *slog.Logger) *gateway.Authenticator {
	if !cfg.Gateway.AuthEnabled {
		return nil
	}
	secret := strings.TrimSpace(os.Getenv(cfg.Gateway.JWTSecretEnv))
	if secret == "" {
		logger.Warn("Gateway auth enabled but secret env is empty; requests will be rejected", "env", cfg.Gateway.JWTSecretEnv)
	}
	return gateway.NewAuthenticator(gateway.AuthConfig{
		Enabled:    true,
		HMACSecret: secret,
		Issuer:     cfg.Gateway.JWTIssuer,
		Audience:   cfg.Gateway.JWTAudience,
	}, logger)
}
