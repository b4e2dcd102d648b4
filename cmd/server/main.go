package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"fenrir/config"
	"fenrir/infra/kafka"
	"fenrir/infra/outbox"
	"fenrir/jobs/publisher"
	"fenrir/metrics"
	"fenrir/service"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}
	log.Info("configuration loaded", zap.String("config", cfg.String()))

	metrics.Init()
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.Server.MetricsAddr, nil); err != nil {
			log.Warn("metrics listener stopped", zap.Error(err))
		}
	}()

	pubDeps := publisher.Deps{Log: log.Named("publisher")}
	if cfg.Kafka.Enabled {
		box, err := outbox.Open(cfg.Outbox.Dir)
		if err != nil {
			log.Fatal("outbox open failed", zap.String("dir", cfg.Outbox.Dir), zap.Error(err))
		}
		defer box.Close()

		trades, err := publisher.NewSyncProducer(cfg.Kafka.Brokers)
		if err != nil {
			log.Fatal("trade producer init failed", zap.Error(err))
		}

		market := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.MarketDataTopic)
		defer market.Close()

		pubDeps.Outbox = box
		pubDeps.Trades = trades
		pubDeps.Market = market
		pubDeps.TradeTopic = cfg.Kafka.TradesTopic
		pubDeps.FlushInterval = cfg.Outbox.FlushInterval
	}

	svc := service.New(service.Deps{
		Config:    cfg,
		Publisher: pubDeps,
		Log:       log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutdown signal received")
	cancel()
	svc.Close()
}
