package kvstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, ok := s.Get(ctx, "missing")
	assert.False(t, ok)

	s.Set(ctx, "k", "v1")
	val, ok := s.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "v1", val)

	s.Set(ctx, "k", "v2")
	val, _ = s.Get(ctx, "k")
	assert.Equal(t, "v2", val)

	s.Remove(ctx, "k")
	_, ok = s.Get(ctx, "k")
	assert.False(t, ok)

	// 删除不存在的键是无操作
	s.Remove(ctx, "k")
}
