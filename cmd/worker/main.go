package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tpotp2p/internal/chain"
	"tpotp2p/internal/config"
	"tpotp2p/internal/db"
	"tpotp2p/internal/notify"
	"tpotp2p/internal/release"
	"tpotp2p/internal/settlement"
	"tpotp2p/internal/store"
	"tpotp2p/internal/verify"
	"tpotp2p/internal/worker"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer pool.Close()

	st := store.NewPostgres(pool)

	registry, err := chain.FromConfig(cfg.Chains)
	if err != nil {
		logger.Fatal("chain registry init failed", zap.Error(err))
	}

	feeRate, err := decimal.NewFromString(cfg.Orders.FeeRate)
	if err != nil {
		logger.Fatal("invalid fee rate", zap.Error(err))
	}
	tolerance, err := decimal.NewFromString(cfg.Orders.EscrowTolerance)
	if err != nil {
		logger.Fatal("invalid escrow tolerance", zap.Error(err))
	}

	verifier := verify.NewEngine(registry, cfg.Escrow.ChainID, cfg.Escrow.Account, cfg.Escrow.TokenMint, tolerance, logger)
	signer := release.NewSignerClient(cfg.Escrow.SignerEndpoint, logger)

	kinds := make(map[string]config.ChainKind, len(cfg.Chains))
	for id, cc := range cfg.Chains {
		kinds[id] = cc.Kind
	}
	controller := settlement.New(st, verifier, signer, notify.Nop{}, settlement.Config{
		FeeRate:        feeRate,
		TokenDecimals:  cfg.Escrow.TokenDecimals,
		QuoteDecimals:  cfg.Orders.QuoteDecimals,
		Expiry:         time.Duration(cfg.Orders.ExpiryHours) * time.Hour,
		PaymentTimeout: time.Duration(cfg.Orders.PaymentTimeoutMinutes) * time.Minute,
		ArbiterWallet:  cfg.Orders.ArbiterWallet,
		ChainKinds:     kinds,
	}, logger)

	w := &worker.Worker{
		Controller: controller,
		Interval:   time.Duration(cfg.Worker.IntervalSeconds) * time.Second,
		Logger:     logger,
	}

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		cancel()
	}()

	logger.Info("worker started", zap.Int64("interval_seconds", cfg.Worker.IntervalSeconds))
	w.Run(ctx)
}
