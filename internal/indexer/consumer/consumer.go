// Package consumer turns queue events into segment pipeline calls: index
// events load a URL and store it, delete events remove URLs.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/digest"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/loader"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-segment/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/resilience"
)

type Options struct {
	// HandlerTimeout bounds one event; zero means no limit.
	HandlerTimeout time.Duration
	// Completed receives an IndexedEvent per stored document; may be nil.
	Completed kafka.Publisher
	Now       func() time.Time
}

type Handlers struct {
	segment *indexer.Segment
	loader  loader.Loader
	opts    Options
	logger  *slog.Logger
}

func New(seg *indexer.Segment, l loader.Loader, opts Options) *Handlers {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handlers{
		segment: seg,
		loader:  l,
		opts:    opts,
		logger:  slog.Default().With("component", "index-consumer"),
	}
}

// permanent reports whether retrying an event cannot help.
func permanent(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound) ||
		errors.Is(err, apperrors.ErrParseFailure) ||
		errors.Is(err, apperrors.ErrInvalidInput)
}

// HandleIndex is the kafka.MessageHandler of the ingest topic. Undecodable
// events and documents that cannot be loaded or parsed are dropped;
// transient load failures are returned so the event is redelivered.
func (h *Handlers) HandleIndex(ctx context.Context, key, value []byte) error {
	event, err := kafka.DecodeJSON[IndexEvent](value)
	if err != nil {
		h.logger.Error("failed to decode index event", "key", string(key), "error", err)
		return nil
	}
	u, err := digest.ParseURL(event.URL)
	if err != nil {
		h.logger.Warn("dropping index event with invalid url", "event_id", event.EventID, "url", event.URL, "error", err)
		return nil
	}
	strategy, err := loader.ParseCacheStrategy(event.CacheStrategy)
	if err != nil {
		h.logger.Warn("unknown cache strategy, using iffresh", "event_id", event.EventID, "error", err)
		strategy = loader.IfFresh
	}
	var referrer *digest.URL
	if event.Referrer != "" {
		referrer, _ = digest.ParseURL(event.Referrer)
	}

	err = resilience.WithTimeout(ctx, h.opts.HandlerTimeout, "index", func(ctx context.Context) error {
		resp, err := h.loader.Load(ctx, loader.Request{URL: u, Strategy: strategy})
		if err != nil {
			return fmt.Errorf("loading %s: %w", u.Normal(), err)
		}
		record, err := h.segment.StoreDocument(ctx, indexer.StoreRequest{
			URL:        u,
			Referrer:   referrer,
			Profile:    event.Profile,
			Header:     resp.Header,
			Document:   resp.Document,
			Source:     event.Source,
			StoreToRWI: !event.SkipRWI,
		})
		if err != nil {
			return err
		}
		h.publishIndexed(ctx, event, record.ID, record.URL, record.Language, record.WordCount)
		return nil
	})
	switch {
	case err == nil:
		return nil
	case permanent(err):
		h.logger.Warn("dropping index event", "event_id", event.EventID, "url", u.Normal(), "kind", apperrors.Kind(err), "error", err)
		return nil
	default:
		return err
	}
}

func (h *Handlers) publishIndexed(ctx context.Context, event IndexEvent, id digest.URLHash, url, language string, words int) {
	if h.opts.Completed == nil {
		return
	}
	indexed := IndexedEvent{
		EventID:   uuid.NewString(),
		RequestID: event.EventID,
		URLHash:   id.String(),
		URL:       url,
		Language:  language,
		Words:     words,
		Source:    event.Source,
		IndexedAt: h.opts.Now().UTC(),
	}
	if err := h.opts.Completed.Publish(ctx, kafka.Event{Key: indexed.URLHash, Value: indexed}); err != nil {
		h.logger.Warn("publishing index completion failed", "url", url, "error", err)
	}
}

// HandleDelete is the kafka.MessageHandler of the delete topic. Unresolvable
// entries are logged and skipped. The event fails only when its context ends
// before every id was handled.
func (h *Handlers) HandleDelete(ctx context.Context, key, value []byte) error {
	event, err := kafka.DecodeJSON[DeleteEvent](value)
	if err != nil {
		h.logger.Error("failed to decode delete event", "key", string(key), "error", err)
		return nil
	}
	strategy, err := loader.ParseCacheStrategy(event.CacheStrategy)
	if err != nil {
		strategy = loader.IfExist
	}

	ids := make([]digest.URLHash, 0, len(event.URLHashes)+len(event.URLs))
	for _, raw := range event.URLHashes {
		id, err := digest.ParseURLHash(raw)
		if err != nil {
			h.logger.Warn("skipping invalid url hash", "event_id", event.EventID, "hash", raw, "error", err)
			continue
		}
		ids = append(ids, id)
	}
	for _, raw := range event.URLs {
		u, err := digest.ParseURL(raw)
		if err != nil {
			h.logger.Warn("skipping invalid url", "event_id", event.EventID, "url", raw, "error", err)
			continue
		}
		ids = append(ids, u.Hash())
	}

	if h.opts.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.HandlerTimeout)
		defer cancel()
	}
	removed := h.segment.RemoveAllURLReferencesSet(ctx, ids, h.loader, strategy)
	if err := ctx.Err(); err != nil {
		// left uncommitted; ids already removed come back as not found
		h.logger.Warn("delete event interrupted", "event_id", event.EventID, "urls", len(ids), "removed", removed, "error", err)
		return fmt.Errorf("delete event %s: %w", event.EventID, err)
	}
	h.logger.Info("delete event handled", "event_id", event.EventID, "urls", len(ids), "removed", removed)
	return nil
}

// ResultRecorder returns a kafka.Consumer OnResult hook that counts events.
func ResultRecorder(m *metrics.Metrics) func(topic string, err error) {
	return func(topic string, err error) {
		if m == nil {
			return
		}
		status := "ok"
		if err != nil {
			status = "error"
		}
		m.QueueEventsTotal.WithLabelValues(topic, status).Inc()
	}
}
