package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("connects and reports healthy", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client, err := New(ctx, Config{URL: "redis://" + mr.Addr(), PoolSize: 4, DialTimeout: time.Second})
		require.NoError(t, err)
		defer client.Close()

		assert.Equal(t, 4, client.Options().PoolSize)
		assert.NoError(t, client.Health(ctx))
	})

	t.Run("empty url is rejected", func(t *testing.T) {
		_, err := New(ctx, Config{})
		require.Error(t, err)
	})

	t.Run("malformed url is rejected", func(t *testing.T) {
		_, err := New(ctx, Config{URL: "http://not-redis"})
		require.Error(t, err)
	})

	t.Run("unreachable server fails the ping", func(t *testing.T) {
		_, err := New(ctx, Config{URL: "redis://127.0.0.1:1", DialTimeout: 200 * time.Millisecond})
		require.Error(t, err)
	})
}
