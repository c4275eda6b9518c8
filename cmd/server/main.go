package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grafana/pyroscope-go"
	"github.com/redis/go-redis/v9"
	"github.com/trogers1052/stock-backtester/internal/api"
	"github.com/trogers1052/stock-backtester/internal/config"
	"github.com/trogers1052/stock-backtester/internal/database"
	"github.com/trogers1052/stock-backtester/internal/kafka"
	"github.com/trogers1052/stock-backtester/internal/marketdata"
	"github.com/trogers1052/stock-backtester/internal/service"
	"github.com/yanun0323/logs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	if cfg.Profiling.ServerAddress != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.Profiling.ApplicationName,
			ServerAddress:   cfg.Profiling.ServerAddress,
			Tags: map[string]string{
				"service": "backtester",
			},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	db, err := database.New(cfg.Database.ConnectionString())
	if err != nil {
		fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(cfg.Migrations); err != nil {
		fatalf("failed to migrate database: %v", err)
	}
	logs.Info("database ready")

	var provider marketdata.Provider = db
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		if err := client.Ping(ctx).Err(); err != nil {
			logs.Errorf("redis unavailable at %s, market data cache disabled: %v", cfg.Redis.Addr, err)
		} else {
			provider = marketdata.NewRedisCache(db, client, cfg.Redis.TTL)
			logs.Infof("market data cache enabled at %s (ttl %s)", cfg.Redis.Addr, cfg.Redis.TTL)
		}
	}

	var producer *kafka.Producer
	var publisher service.EventPublisher
	var queue api.RunQueue
	if len(cfg.Kafka.Brokers) > 0 {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic)
		defer producer.Close()
		publisher = producer

		requests := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.RequestsTopic)
		defer requests.Close()
		queue = requests
	}

	svc := service.NewBacktestService(provider, db, db, publisher, service.Defaults{
		Commission:  cfg.Backtest.Commission,
		Slippage:    cfg.Backtest.Slippage,
		InitialCash: cfg.Backtest.InitialCash,
	})

	consumerDone := make(chan struct{})
	if len(cfg.Kafka.Brokers) > 0 {
		consumer := kafka.NewRunRequestConsumer(cfg.Kafka.Brokers, cfg.Kafka.RequestsTopic, cfg.Kafka.GroupID, svc)
		go func() {
			defer close(consumerDone)
			if err := consumer.Start(ctx); err != nil {
				logs.Errorf("run request consumer stopped: %v", err)
			}
		}()
	} else {
		close(consumerDone)
		logs.Info("kafka disabled: no brokers configured")
	}

	handler := api.NewHandler(svc, queue, cfg.Backtest.ListLimit)
	server := &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:           api.SetupRoutes(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logs.Infof("http server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Errorf("http server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logs.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logs.Errorf("http server shutdown: %v", err)
	}
	<-consumerDone
}

func fatalf(format string, args ...interface{}) {
	logs.Errorf(format, args...)
	os.Exit(1)
}
