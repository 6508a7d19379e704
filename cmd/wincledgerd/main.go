package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"wincledger/auth"
	"wincledger/config"
	"wincledger/export"
	"wincledger/gateway"
	"wincledger/ledger"
	"wincledger/ledger/models"
	"wincledger/observability"
	"wincledger/observability/logging"
	telemetry "wincledger/observability/otel"
	"wincledger/pipeline"
	"wincledger/pricing"
	"wincledger/sweeper"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to wincledgerd configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("wincledgerd: load config: %v", err)
	}

	logger := logging.Setup("wincledgerd", cfg.Environment, logging.Options{
		FilePath:   cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "wincledgerd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Otel.Endpoint,
		Insecure:    cfg.Otel.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Otel.Headers),
		Metrics:     cfg.Otel.MetricsEnable,
		Traces:      cfg.Otel.TracesEnabled,
	})
	if err != nil {
		log.Fatalf("wincledgerd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	store, err := ledger.Open(cfg.Database.WriterDSN(),
		ledger.WithLogger(logger),
		ledger.WithMetrics(observability.Ledger()))
	if err != nil {
		log.Fatalf("wincledgerd: open ledger: %v", err)
	}

	sources, err := buildGateways(cfg.Gateways)
	if err != nil {
		log.Fatalf("wincledgerd: build gateways: %v", err)
	}

	priceOpts := []pricing.Option{pricing.WithCatalogTTL(cfg.Pricing.CatalogTTL.Duration)}
	if cfg.Pricing.MaxDiscount > 0 {
		priceOpts = append(priceOpts, pricing.WithMaxDiscount(cfg.Pricing.MaxDiscount))
	}
	pricer := pricing.New(store, priceOpts...)
	exporter := export.New(store, export.Config{OutputDir: cfg.Export.OutputDir}, logger)

	var nonces auth.NonceStore
	if cfg.Auth.NonceStoreDir != "" {
		nonces, err = auth.NewLevelDBNonceStore(cfg.Auth.NonceStoreDir)
		if err != nil {
			log.Fatalf("wincledgerd: open nonce store: %v", err)
		}
	} else {
		nonces = auth.NewMemoryNonceStore()
	}
	defer nonces.Close()
	var authSvc *auth.Service
	if cfg.Auth.JWTSecret != "" {
		issuer, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, nil)
		if err != nil {
			log.Fatalf("wincledgerd: token issuer: %v", err)
		}
		authSvc = auth.NewService(nonces, issuer, nil)
	} else {
		logger.Warn("jwt secret not configured, signature auth disabled")
	}

	worker := pipeline.New(store, sources, pipeline.Config{
		Interval:    cfg.Pipeline.Interval.Duration,
		GatewayRate: cfg.Pipeline.GatewayRate,
		SettleAge:   tokenDurations(cfg.Pipeline.SettleAges),
		MaxLifetime: tokenDurations(cfg.Pipeline.MaxLifetime),
		Sinks:       tokenStrings(cfg.Pipeline.Sinks),
	}, logger)
	sweep := sweeper.New(store, sweeper.Config{Interval: cfg.Sweeper.Interval.Duration}, logger)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go worker.Run(rootCtx)
	go sweep.Run(rootCtx)

	router := newAdminRouter(adminDeps{
		store:    store,
		pricer:   pricer,
		auth:     authSvc,
		exporter: exporter,
		log:      logger,
	})

	server := &http.Server{
		Addr:              cfg.AdminListen,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-rootCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("wincledgerd started", "admin_listen", cfg.AdminListen)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("wincledgerd: admin server error: %v", err)
		os.Exit(1)
	}
}

// buildGateways wires one chain adapter per configured token type.
func buildGateways(cfg config.GatewayConfig) (gateway.Registry, error) {
	registry := gateway.Registry{}
	if cfg.Arweave.Endpoint != "" {
		registry[models.TokenArweave] = gateway.NewArweaveSource(cfg.Arweave.Endpoint, cfg.Arweave.MinConfirmations, nil)
	}
	evm := []struct {
		token models.TokenType
		chain config.ChainConfig
	}{
		{models.TokenEthereum, cfg.Ethereum},
		{models.TokenBaseEth, cfg.BaseEth},
		{models.TokenMatic, cfg.Matic},
		{models.TokenPol, cfg.Matic},
	}
	for _, entry := range evm {
		if entry.chain.Endpoint == "" {
			continue
		}
		source, err := gateway.DialEthereumSource(entry.chain.Endpoint, entry.chain.ChainID, entry.chain.MinConfirmations)
		if err != nil {
			return nil, err
		}
		registry[entry.token] = source
	}
	if cfg.Solana.Endpoint != "" {
		registry[models.TokenSolana] = gateway.NewSolanaSource(cfg.Solana.Endpoint, nil)
	}
	if cfg.Kyve.Endpoint != "" {
		registry[models.TokenKyve] = gateway.NewKyveSource(cfg.Kyve.Endpoint, cfg.Kyve.MinConfirmations, nil)
	}
	if cfg.CuURL != "" && cfg.ArioProcessID != "" {
		registry[models.TokenArio] = gateway.NewArioSource(cfg.CuURL, cfg.ArioProcessID, nil)
	}
	return registry, nil
}

func tokenDurations(raw map[string]config.Duration) map[models.TokenType]time.Duration {
	out := make(map[models.TokenType]time.Duration, len(raw))
	for token, d := range raw {
		out[models.TokenType(strings.TrimSpace(token))] = d.Duration
	}
	return out
}

func tokenStrings(raw map[string]string) map[models.TokenType]string {
	out := make(map[models.TokenType]string, len(raw))
	for token, v := range raw {
		out[models.TokenType(strings.TrimSpace(token))] = v
	}
	return out
}
