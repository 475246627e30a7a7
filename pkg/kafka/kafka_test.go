package kafka

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/resilience"
)

// fakeReader hands out queued messages, then blocks until ctx is done.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    bool
	drained   chan struct{}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	close(r.drained)
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func newFakeReader(offsets ...int64) *fakeReader {
	r := &fakeReader{drained: make(chan struct{})}
	for _, o := range offsets {
		r.queue = append(r.queue, kafka.Message{Offset: o, Value: []byte(strconv.FormatInt(o, 10))})
	}
	return r
}

func TestConsumerRetriesFailedMessageBeforeMovingOn(t *testing.T) {
	r := newFakeReader(1, 2, 3)
	attempts := map[string]int{}
	c := newConsumer(r, "topic", func(_ context.Context, _ []byte, value []byte) error {
		offset := string(value)
		attempts[offset]++
		if offset == "2" && attempts[offset] < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	c.Retry = resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}
	var results []error
	c.OnResult = func(_ string, err error) { results = append(results, err) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()
	<-r.drained
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 2, 3}, r.committed)
	assert.Equal(t, 3, attempts["2"])
	assert.Equal(t, 1, attempts["3"])
	assert.Equal(t, []error{nil, nil, nil}, results)
	assert.True(t, r.closed)
}

func TestConsumerStopsWithoutCommittingPastFailure(t *testing.T) {
	r := newFakeReader(1, 2, 3)
	fail := errors.New("store unavailable")
	calls := 0
	c := newConsumer(r, "topic", func(context.Context, []byte, []byte) error {
		calls++
		if calls >= 2 {
			return fail
		}
		return nil
	})
	c.Retry = resilience.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond}

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, fail)
	assert.Equal(t, []int64{1}, r.committed)
	assert.Equal(t, 3, calls)
	// offset 3 was never fetched, so the group redelivers from offset 2
	assert.Len(t, r.queue, 1)
	assert.True(t, r.closed)
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestProducerEncodesJSON(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w, topic: "t", logger: slog.Default()}

	require.NoError(t, p.Publish(context.Background(), Event{Key: "k", Value: map[string]int{"n": 1}}))
	require.NoError(t, p.Publish(context.Background()))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "k", string(w.msgs[0].Key))

	decoded, err := DecodeJSON[map[string]int](w.msgs[0].Value)
	require.NoError(t, err)
	assert.Equal(t, 1, decoded["n"])

	_, err = DecodeJSON[map[string]int]([]byte("{"))
	assert.Error(t, err)
}
