package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/metrics"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume index and delete events from Kafka",
		Long: `serve consumes the ingest and delete topics until interrupted. Each
stored document is announced on the completion topic. Metrics and health
probes are served when metrics are enabled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts.cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	m := metrics.New(nil)
	a, err := openApp(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Error("closing segment", "error", err)
		}
	}()

	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, a.health.Routes())
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(sctx)
		}()
	}
	a.segment.StartFlushLoop(ctx, cfg.Segment.FlushInterval)

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
	defer producer.Close()
	handlers := consumer.New(a.segment, a.loader, consumer.Options{
		HandlerTimeout: cfg.Kafka.HandlerTimeout,
		Completed:      producer,
	})

	g, gctx := errgroup.WithContext(ctx)
	for topic, handler := range map[string]kafka.MessageHandler{
		cfg.Kafka.Topics.DocumentIngest: handlers.HandleIndex,
		cfg.Kafka.Topics.URLDelete:      handlers.HandleDelete,
	} {
		if topic == "" {
			continue
		}
		c := kafka.NewConsumer(cfg.Kafka, topic, handler)
		c.OnResult = consumer.ResultRecorder(m)
		g.Go(func() error { return c.Start(gctx) })
	}

	slog.Info("segmentd ready, consuming from kafka",
		"ingest", cfg.Kafka.Topics.DocumentIngest,
		"delete", cfg.Kafka.Topics.URLDelete,
		"group", cfg.Kafka.ConsumerGroup,
	)
	err = g.Wait()
	slog.Info("segmentd stopped")
	return err
}
