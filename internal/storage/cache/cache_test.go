package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetPut(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)

	_, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	value := []byte("reply")
	require.NoError(t, c.Put(ctx, "k", value))
	value[0] = 'X'

	got, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "reply", string(got))
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	c := NewMemory(time.Minute)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Put(ctx, "a", []byte("1")))
	now = now.Add(2 * time.Minute)
	_, found, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Put(ctx, "b", []byte("2")))
	assert.Equal(t, 1, c.Len())
}
