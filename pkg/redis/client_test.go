package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/search-segment/pkg/config"
)

func TestKeyNamespace(t *testing.T) {
	assert.Equal(t, "seg:urlmd:x", (&Client{namespace: "seg"}).key("urlmd:x"))
	assert.Equal(t, "urlmd:x", (&Client{}).key("urlmd:x"))
}

// TestClientAgainstServer runs only when a redis server is reachable on the
// default address.
func TestClientAgainstServer(t *testing.T) {
	cfg := config.Default().Redis
	cfg.Namespace = "segment-test-" + time.Now().Format("150405.000000")
	c, err := NewClient(cfg)
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	ctx := context.Background()

	_, err = c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Set(ctx, "urlmd:a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "urlmd:b", []byte("2"), time.Minute))
	got, err := c.Get(ctx, "urlmd:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)

	require.NoError(t, c.Del(ctx, "urlmd:a"))
	n, err := c.DelPrefix(ctx, "urlmd:")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
