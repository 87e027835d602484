// Package main запускает HTTP-сервер сервиса заказов.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vchat-meme-blip/aiburger/internal/audit"
	"github.com/vchat-meme-blip/aiburger/internal/catalog"
	"github.com/vchat-meme-blip/aiburger/internal/config"
	"github.com/vchat-meme-blip/aiburger/internal/delivery"
	"github.com/vchat-meme-blip/aiburger/internal/engine"
	"github.com/vchat-meme-blip/aiburger/internal/handler"
	"github.com/vchat-meme-blip/aiburger/internal/realtime"
	"github.com/vchat-meme-blip/aiburger/internal/repository"
	"github.com/vchat-meme-blip/aiburger/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	var store repository.Store
	if cfg.DatabaseURI != "" {
		store, err = repository.NewPostgresStore(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
	} else {
		sugar.Infow("no database configured, using in-memory store")
		store = repository.NewMemoryStore()
	}

	var transport realtime.Transport
	if cfg.RedisAddress != "" {
		signer := realtime.NewTokenSigner(cfg.RealtimeSecret)
		transport = realtime.NewRedisTransport(cfg.RedisAddress, cfg.RealtimePublicURL, signer)
	} else {
		sugar.Infow("no realtime transport configured, notifications disabled")
	}

	dispatcher := realtime.NewDispatcher(4, 256, logger)
	broadcaster := realtime.NewBroadcaster(transport, dispatcher, logger)

	menu := catalog.NewStaticCatalog()
	rng := engine.SystemRand{}

	svc := service.NewService(store, menu, broadcaster, rng, logger)
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var auditor engine.Recorder
	if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 {
		publisher, err := audit.NewKafkaPublisher(brokers, cfg.AuditTopic)
		if err != nil {
			sugar.Fatalw("kafka initialization error", "error", err.Error())
		}
		defer publisher.Close()

		pool := audit.NewPool(audit.PoolConfig{
			BatchSize:     32,
			FlushInterval: 5 * time.Second,
			QueueSize:     512,
		}, logger, publisher)
		pool.Start(ctx, 2)
		defer pool.Wait()

		auditor = pool
	}

	var pickups engine.PickupRegistrar
	if cfg.DeliveryAddress != "" {
		pickups = delivery.NewClient(cfg.DeliveryAddress, cfg.DeliveryClientID, cfg.DeliverySecret)
	}

	statusEngine := engine.New(store, broadcaster, pickups, auditor, rng, cfg.TickInterval, logger)

	h := handler.NewHandler(svc, broadcaster, logger)
	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Запуск машины статусов
	g.Go(func() error {
		statusEngine.Run(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting aiburger server", "addr", cfg.RunAddress, "tick", cfg.TickInterval.String())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}

	// Пул рассылки останавливается после машины статусов: до этого момента
	// незавершённый тик ещё может ставить задачи рассылки.
	dispatcher.Close()
}
