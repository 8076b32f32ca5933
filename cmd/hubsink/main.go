package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaykit/hubsink/pkg/config"
	"github.com/relaykit/hubsink/pkg/listener"
	"github.com/relaykit/hubsink/pkg/logger"
	"github.com/relaykit/hubsink/pkg/publisher"
	"github.com/relaykit/hubsink/pkg/retry"
	"github.com/relaykit/hubsink/pkg/sink"
	"github.com/relaykit/hubsink/pkg/transport"
)

const shutdownGrace = 15 * time.Second

func main() {
	configPath := flag.String("config", config.DefaultConfigPath, "path to the hubsink config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := config.NewFileConfigManagerWithPath(*configPath)
	cfg, err := manager.GetConfig(ctx)
	if err != nil {
		logger.Initialize()
		logger.For(logger.ComponentCore).Fatalf("Loading config: %s", err)
	}

	logger.InitializeWith(logger.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer func() {
		_ = logger.Sync()
	}()

	log := logger.For(logger.ComponentCore)
	log.Infof("Starting hubsink, hub %q over %s", cfg.Hub.Hub, cfg.Hub.Transport)

	snk, err := buildSink(ctx, cfg)
	if err != nil {
		log.Fatalf("Building sink: %s", err)
	}
	log.Infof("Sink %s ready", snk.ID())

	srv := listener.New(listener.Config{
		Addr:  cfg.Listener.Addr,
		Token: cfg.Listener.Token,
	}, snk)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Errorf("Listener stopped: %s", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("Listener shutdown: %s", err)
	}

	// Completes the sink: one bounded final flush, then dispose
	snk.OnCompleted()

	stats := snk.Stats()
	log.Infof("hubsink stopped: %d received, %d published, %d dropped",
		stats.Received, stats.Published, stats.Dropped)
}

// buildSink wires the configured transport into a sink. The kafka transport
// is connected here so a broker problem surfaces at startup, not at the
// first flush.
func buildSink(ctx context.Context, cfg config.Config) (*sink.Sink, error) {
	buffering := publisher.Settings{
		BufferingCount:     cfg.Buffer.Count,
		BufferingInterval:  cfg.Buffer.IntervalDuration,
		MaxBufferSize:      cfg.Buffer.MaxEntries,
		MaxBatchBytes:      cfg.Buffer.MaxBatchBytes,
		OnCompletedTimeout: cfg.Buffer.OnCompletedTimeoutDuration,
	}
	policy := retry.Policy{
		MaxAttempts:  uint64(cfg.Retry.MaxAttempts),
		InitialDelay: cfg.Retry.InitialDelayDuration,
		MaxDelay:     cfg.Retry.MaxDelayDuration,
	}

	switch cfg.Hub.Transport {
	case config.TransportKafka:
		sender, err := transport.NewKafkaSender(transport.KafkaConfig{
			Brokers:   cfg.Hub.Brokers,
			Hub:       cfg.Hub.Hub,
			Publisher: cfg.Hub.Publisher,
		})
		if err != nil {
			return nil, err
		}
		if err := sender.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connecting hub broker: %w", err)
		}
		return sink.New(sink.Config{
			Hub:       cfg.Hub.Hub,
			Publisher: cfg.Hub.Publisher,
			Buffering: buffering,
			Retry:     policy,
		}, sink.WithSender(sender))
	default:
		return sink.New(sink.Config{
			Endpoint:       cfg.Hub.Endpoint,
			Hub:            cfg.Hub.Hub,
			Publisher:      cfg.Hub.Publisher,
			Token:          cfg.Hub.Token,
			RequestTimeout: cfg.Hub.RequestTimeoutDuration,
			Buffering:      buffering,
			Retry:          policy,
		})
	}
}
