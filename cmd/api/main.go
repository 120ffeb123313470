package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tpotp2p/internal/chain"
	"tpotp2p/internal/config"
	"tpotp2p/internal/db"
	internalhttp "tpotp2p/internal/http"
	"tpotp2p/internal/notify"
	"tpotp2p/internal/release"
	"tpotp2p/internal/settlement"
	"tpotp2p/internal/store"
	"tpotp2p/internal/verify"
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

	ctx := context.Background()
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
	hub := notify.NewHub(logger)

	kinds := make(map[string]config.ChainKind, len(cfg.Chains))
	for id, cc := range cfg.Chains {
		kinds[id] = cc.Kind
	}
	controller := settlement.New(st, verifier, signer, hub, settlement.Config{
		FeeRate:        feeRate,
		TokenDecimals:  cfg.Escrow.TokenDecimals,
		QuoteDecimals:  cfg.Orders.QuoteDecimals,
		Expiry:         time.Duration(cfg.Orders.ExpiryHours) * time.Hour,
		PaymentTimeout: time.Duration(cfg.Orders.PaymentTimeoutMinutes) * time.Minute,
		ArbiterWallet:  cfg.Orders.ArbiterWallet,
		ChainKinds:     kinds,
	}, logger)

	h := internalhttp.NewHandler(controller, logger)
	srv := internalhttp.NewServer(h, hub)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router,
	}

	go func() {
		logger.Info("api listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}
