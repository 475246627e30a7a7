package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/fulltext"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/loader"
	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/redis"
)

// app is the composition root shared by all commands.
type app struct {
	cfg     *config.Config
	segment *indexer.Segment
	loader  *loader.HTTPLoader
	health  *health.Checker
	closers []func() error
}

// openApp builds the fulltext store, the segment with both reference
// stores connected, and the loader. m may be nil.
func openApp(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (a *app, err error) {
	a = &app{cfg: cfg, health: health.NewChecker()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	store, err := a.openFulltext(ctx)
	if err != nil {
		return nil, err
	}
	opts := indexer.OptionsFromConfig(cfg.Segment, cfg.Fulltext)
	opts.Metrics = m
	a.segment = indexer.New(store, opts)
	a.closers = append(a.closers, a.segment.Close)

	fileSize := min(cfg.Segment.TargetFileSize, cfg.Segment.MaxFileSize)
	if err := a.segment.ConnectRWI(cfg.Segment.EntityCacheMaxSize, fileSize); err != nil {
		return nil, err
	}
	if err := a.segment.ConnectCitation(cfg.Segment.WriteBufferSize/index.CitationRowSize, fileSize); err != nil {
		return nil, err
	}
	a.health.Register(indexer.TermIndexName, health.Connected(a.segment.ConnectedRWI))
	a.health.Register(indexer.CitationIndexName, health.Connected(a.segment.ConnectedCitation))
	a.health.Register(fulltext.StoreName, health.Ping(func(ctx context.Context) error {
		if cfg.Fulltext.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.Fulltext.Timeout)
			defer cancel()
		}
		_, err := store.Count(ctx)
		return err
	}))

	loaderOpts := loader.OptionsFromConfig(cfg.Loader)
	loaderOpts.Metrics = m
	a.loader, err = loader.NewHTTPLoader(loaderOpts)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) openFulltext(ctx context.Context) (fulltext.Store, error) {
	var store fulltext.Store
	switch a.cfg.Fulltext.Backend {
	case "postgres":
		client, err := postgres.New(ctx, a.cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connecting fulltext postgres: %w", err)
		}
		pg, err := fulltext.NewPostgresStore(ctx, client)
		if err != nil {
			client.Close()
			return nil, err
		}
		a.health.Register("postgres", health.Ping(client.Ping))
		store = pg
	default:
		sqlite, err := fulltext.OpenSQLite(a.cfg.Fulltext.SQLitePath)
		if err != nil {
			return nil, err
		}
		store = sqlite
	}

	if !a.cfg.Fulltext.Cache {
		return store, nil
	}
	cache, err := redis.NewClient(a.cfg.Redis)
	if err != nil {
		// the segment works without the cache
		slog.Warn("fulltext cache unavailable, reading through to the store", "error", err)
		return store, nil
	}
	a.closers = append(a.closers, cache.Close)
	a.health.Register("redis", health.Ping(cache.Ping))
	return fulltext.NewCachedStore(store, cache, a.cfg.Redis.CacheTTL), nil
}

// Close flushes and closes everything in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
