package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"votingsync/api"
	"votingsync/config"
	"votingsync/coordinator"
	"votingsync/gateway/contract"
	"votingsync/gateway/wallet"
	"votingsync/observability/logging"
	telemetry "votingsync/observability/otel"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to votingsyncd configuration (.yaml or .toml)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Service, cfg.Environment, loggingOptions(cfg.Logging))

	if err := run(cfg, logger); err != nil {
		logger.Error("votingsyncd exited", "error", err)
		os.Exit(1)
	}
}

func loggingOptions(cfg config.LoggingConfig) logging.Options {
	return logging.Options{
		Level:      cfg.Level,
		File:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Service,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	provider, ledger, closeBackends, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackends()

	walletGateway := wallet.NewGateway(provider, cfg.Network, logger)
	coord := coordinator.New(walletGateway, ledger,
		coordinator.WithLogger(logger),
		coordinator.WithNotificationTTL(cfg.Coordinator.NotificationTTL.Duration),
		coordinator.WithConfirmationTimeout(cfg.Coordinator.ConfirmationTimeout.Duration),
		coordinator.WithEventBuffer(cfg.Coordinator.EventBuffer),
	)
	defer coord.Stop()

	runErr := make(chan error, 1)
	go func() { runErr <- coord.Run(ctx) }()

	if err := coord.Resume(ctx); err != nil {
		logger.Info("no wallet session to resume", "error", err)
	}

	router := api.NewRouter(coord, api.Options{
		Logger:         logger,
		AllowedOrigins: cfg.API.AllowedOrigins,
		WriteLimit: api.RateLimit{
			RatePerSecond: cfg.API.RateLimit.RatePerSecond,
			Burst:         cfg.API.RateLimit.Burst,
		},
	})
	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           otelhttp.NewHandler(router, cfg.Service),
		ReadHeaderTimeout: cfg.API.ReadTimeout.Duration,
		ReadTimeout:       cfg.API.ReadTimeout.Duration,
		WriteTimeout:      cfg.API.WriteTimeout.Duration,
	}

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", listener.Addr().String(),
			"chain_id", cfg.Network.ChainID,
			"contract", cfg.Contract.Address,
			"simulation", cfg.Simulation.Enabled)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var failure error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		failure = fmt.Errorf("serve: %w", err)
	case err := <-runErr:
		if !errors.Is(err, context.Canceled) && !errors.Is(err, coordinator.ErrStopped) {
			failure = fmt.Errorf("coordinator: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	return failure
}

// openBackends returns the wallet provider and the contract gateway, either
// dialled from the configured endpoint or built in memory.
func openBackends(ctx context.Context, cfg config.Config, logger *slog.Logger) (wallet.Provider, contract.Gateway, func(), error) {
	if cfg.Simulation.Enabled {
		sim := cfg.Simulation
		provider := wallet.NewMemoryProvider(cfg.Network.ChainID, config.Addresses(sim.Accounts)...)
		ledger := contract.NewMemoryLedger(config.Addresses([]string{sim.Admin})[0], sim.ElectionName, sim.MaxVotesPerVoter)
		ledger.Seed(sim.Candidates, config.Addresses(sim.Voters)...)
		logger.Warn("running in simulation mode",
			"accounts", len(sim.Accounts),
			"voters", len(sim.Voters),
			"candidates", len(sim.Candidates))
		return provider, ledger, func() {}, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	provider, err := wallet.Dial(dialCtx, cfg.Wallet.Endpoint,
		wallet.WithPollInterval(cfg.Wallet.PollInterval.Duration),
		wallet.WithLogger(logger),
	)
	if err != nil {
		return nil, nil, nil, err
	}
	node := ethclient.NewClient(provider.Client())
	client, err := contract.NewClient(cfg.ContractAddress(), node, provider,
		contract.WithReceiptSource(contract.ClientReceipts{Client: node}),
		contract.WithBatchCaller(provider.Client()),
		contract.WithPollInterval(cfg.Contract.ReceiptPoll.Duration),
	)
	if err != nil {
		provider.Close()
		return nil, nil, nil, fmt.Errorf("bind contract: %w", err)
	}
	return provider, client, provider.Close, nil
}
