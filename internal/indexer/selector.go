package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/digest"
	"github.com/Adithya-Monish-Kumar-K/search-segment/internal/fulltext"
	apperrors "github.com/Adithya-Monish-Kumar-K/search-segment/pkg/errors"
)

// selectorQueueSize bounds the ids buffered ahead of the consumer.
const selectorQueueSize = 10000

// urlItem is either one candidate id or the end of the stream, carrying the
// producer's error if it stopped early.
type urlItem struct {
	id  digest.URLHash
	eos bool
	err error
}

// URLIterator is a forward-only sequence of the stored URLs under a stub.
// Callers must Close it.
//
//	it, err := seg.URLSelector(ctx, "http://example.com/docs/")
//	...
//	defer it.Close()
//	for it.Next() {
//		use(it.URL())
//	}
//	if err := it.Err(); err != nil { ... }
type URLIterator struct {
	ctx    context.Context
	cancel context.CancelFunc
	store  fulltext.Store
	prefix string
	logger *slog.Logger

	items    <-chan urlItem
	produced chan struct{}

	current *digest.URL
	err     error
	done    bool
}

// URLSelector enumerates the stored URLs whose normal form starts with
// stub. Candidates come from the host index of the fulltext store and are
// filtered as the caller advances.
func (s *Segment) URLSelector(ctx context.Context, stub string) (*URLIterator, error) {
	stubURL, err := digest.ParseURL(stub)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrInvalidInput, "segment", "url_selector", err)
	}
	hostID := digest.HostHash(stubURL.Host())
	prefix := stubURL.Normal()
	// a bare host normalizes to a trailing slash that the stub did not ask for
	if !strings.HasSuffix(strings.TrimSpace(stub), "/") && strings.HasSuffix(prefix, "/") {
		prefix = strings.TrimSuffix(prefix, "/")
	}

	ctx, cancel := context.WithCancel(ctx)
	items := make(chan urlItem, selectorQueueSize)
	it := &URLIterator{
		ctx:      ctx,
		cancel:   cancel,
		store:    s.fulltext,
		prefix:   prefix,
		logger:   s.logger.With("stub", prefix),
		items:    items,
		produced: make(chan struct{}),
	}
	go it.produce(hostID, items)
	return it, nil
}

func (it *URLIterator) produce(hostID string, items chan<- urlItem) {
	defer close(it.produced)
	err := it.store.HostIDs(it.ctx, hostID, func(id digest.URLHash) error {
		select {
		case items <- urlItem{id: id}:
			return nil
		case <-it.ctx.Done():
			return it.ctx.Err()
		}
	})
	if err != nil && it.ctx.Err() != nil {
		return
	}
	if err != nil {
		err = fmt.Errorf("enumerating host ids: %w", err)
	}
	select {
	case items <- urlItem{eos: true, err: err}:
	case <-it.ctx.Done():
	}
}

// Next advances to the next matching URL. It returns false at the end of
// the stream, after Close, or when the context is done.
func (it *URLIterator) Next() bool {
	if it.done {
		return false
	}
	for {
		select {
		case item := <-it.items:
			if item.eos {
				it.err = item.err
				it.finish()
				return false
			}
			u, ok := it.resolve(item.id)
			if !ok || !strings.HasPrefix(u.Normal(), it.prefix) {
				continue
			}
			it.current = u
			return true
		case <-it.ctx.Done():
			it.logger.Info("url selector cancelled", "reason", context.Cause(it.ctx))
			it.finish()
			return false
		}
	}
}

func (it *URLIterator) resolve(id digest.URLHash) (*digest.URL, bool) {
	record, err := it.store.Get(it.ctx, id)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) && it.ctx.Err() == nil {
			it.logger.Debug("resolving url failed", "id", id.String(), "error", err)
		}
		return nil, false
	}
	u, err := digest.ParseURL(record.URL)
	if err != nil {
		it.logger.Debug("stored url unparseable", "id", id.String(), "url", record.URL, "error", err)
		return nil, false
	}
	return u, true
}

func (it *URLIterator) finish() {
	it.done = true
	it.current = nil
}

// URL returns the URL Next advanced to.
func (it *URLIterator) URL() *digest.URL {
	return it.current
}

// Err returns the error that ended the producer early, if any. Cancellation
// is not an error.
func (it *URLIterator) Err() error {
	return it.err
}

// Close stops the producer and waits for it to exit. It is safe to call
// more than once.
func (it *URLIterator) Close() error {
	if !it.done {
		it.finish()
	}
	it.cancel()
	<-it.produced
	return nil
}
