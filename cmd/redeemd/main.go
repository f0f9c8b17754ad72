package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/deleguard/deleguard/internal/config"
	"github.com/deleguard/deleguard/internal/delegation"
	"github.com/deleguard/deleguard/internal/enforcer"
	"github.com/deleguard/deleguard/internal/engine"
	"github.com/deleguard/deleguard/internal/ledger"
	"github.com/deleguard/deleguard/internal/queue"
	"github.com/deleguard/deleguard/internal/server"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	// ── Ledger + execution sink ───────────────────────────────────────────────
	led := ledger.NewRedis(rdb)
	disp := engine.NewDispatcher(led)
	for _, asset := range cfg.AssetAddresses() {
		disp.RegisterToken(asset)
		log.Info("asset registered", zap.String("asset", asset.Hex()))
	}

	// ── Enforcer registry ─────────────────────────────────────────────────────
	reg := enforcer.NewRegistry()
	reg.Register(enforcer.NewAllowedTargets())
	reg.Register(enforcer.NewAllowedMethods())
	reg.Register(enforcer.NewAllowedRedeemers())
	reg.Register(enforcer.NewAllowedCalldata())
	reg.Register(enforcer.NewExactCalldata())
	reg.Register(enforcer.NewExactExecution())
	reg.Register(enforcer.NewExactExecutionBatch())
	reg.Register(enforcer.NewArgsEquality())
	reg.Register(enforcer.NewNoPayload())
	reg.Register(enforcer.NewValueCap())
	reg.Register(enforcer.NewTimestamp())
	reg.Register(enforcer.NewLimitedCalls(rdb))
	reg.Register(enforcer.NewTransferAmount(rdb))
	reg.Register(enforcer.NewValueAllowance(rdb))
	reg.Register(enforcer.NewStreamingAllowance(rdb))
	reg.Register(enforcer.NewPeriodicAllowance(rdb))
	reg.Register(enforcer.NewBalanceChange(rdb, led))
	reg.Register(enforcer.NewMultiOpBalanceChange(rdb, led))
	reg.Register(enforcer.NewPayment(rdb, led))
	reg.Register(enforcer.NewSwapOffer(rdb, led))
	reg.Register(enforcer.NewLogicalOr(reg))

	// ── Redemption engine ─────────────────────────────────────────────────────
	dom := delegation.Domain{
		Name:    cfg.Engine.DomainName,
		Version: cfg.Engine.DomainVersion,
		Engine:  cfg.EngineAddress(),
	}
	mgr := engine.NewManager(cfg.EngineAddress(), reg, disp, rdb, engine.ECDSAVerifier{Domain: dom}, log)

	// ── Async worker ──────────────────────────────────────────────────────────
	go queue.Run(ctx, rdb, mgr, log)

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := gin.New()
	r.Use(gin.Recovery())
	server.NewHandler(mgr, led, rdb, log, cfg.Auth.Disabled).Register(r)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("engine", cfg.EngineAddress().Hex()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}
