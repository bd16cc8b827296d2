package contextcache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/botchat/internal/model"
	"github.com/capitalize-ai/botchat/pkg/logger"
)

func newTestCache(t *testing.T, maxTurns int) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, maxTurns, time.Hour, logger.NewNop()), mr
}

func TestAppendKeepsLastN(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, _ := newTestCache(t, 3)

	for i := 1; i <= 5; i++ {
		c.Append(ctx, "u1", "general", model.Turn{Role: model.RoleUser, Content: fmt.Sprintf("m%d", i)})
	}

	got := c.Get(ctx, "u1", "general")
	require.Len(t, got, 3)
	assert.Equal(t, "m3", got[0].Content)
	assert.Equal(t, "m4", got[1].Content)
	assert.Equal(t, "m5", got[2].Content)
}

func TestAppendFewerThanN(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, _ := newTestCache(t, 10)

	c.Append(ctx, "u1", "general", model.Turn{Role: model.RoleUser, Content: "hi"})
	c.Append(ctx, "u1", "general", model.Turn{Role: model.RoleAssistant, Content: "hello"})

	got := c.Get(ctx, "u1", "general")
	assert.Equal(t, []model.Turn{
		{Role: model.RoleUser, Content: "hi"},
		{Role: model.RoleAssistant, Content: "hello"},
	}, got)
}

func TestAppendInheritsRemainingTTL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, mr := newTestCache(t, 10)

	c.Append(ctx, "u1", "general", model.Turn{Role: model.RoleUser, Content: "first"})
	assert.Equal(t, time.Hour, mr.TTL(Key("u1", "general")))

	mr.FastForward(20 * time.Minute)
	c.Append(ctx, "u1", "general", model.Turn{Role: model.RoleUser, Content: "second"})
	assert.Equal(t, 40*time.Minute, mr.TTL(Key("u1", "general")))

	mr.FastForward(41 * time.Minute)
	assert.Empty(t, c.Get(ctx, "u1", "general"))
}

func TestAppendGivesPersistentKeyDefaultTTL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, mr := newTestCache(t, 10)

	require.NoError(t, mr.Set(Key("u1", "general"), `{"messages":[]}`))
	c.Append(ctx, "u1", "general", model.Turn{Role: model.RoleUser, Content: "x"})
	assert.Equal(t, time.Hour, mr.TTL(Key("u1", "general")))
}

func TestPairsAreIndependent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, _ := newTestCache(t, 10)

	c.Append(ctx, "u1", "general", model.Turn{Role: model.RoleUser, Content: "a"})
	c.Append(ctx, "u1", "random", model.Turn{Role: model.RoleUser, Content: "b"})
	c.Append(ctx, "u2", "general", model.Turn{Role: model.RoleUser, Content: "c"})

	assert.Len(t, c.Get(ctx, "u1", "general"), 1)
	assert.Len(t, c.Get(ctx, "u1", "random"), 1)
	assert.Len(t, c.Get(ctx, "u2", "general"), 1)
}

func TestClearIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, mr := newTestCache(t, 10)

	c.Append(ctx, "u1", "general", model.Turn{Role: model.RoleUser, Content: "a"})
	c.Clear(ctx, "u1", "general")
	assert.False(t, mr.Exists(Key("u1", "general")))

	c.Clear(ctx, "u1", "general")
	assert.False(t, mr.Exists(Key("u1", "general")))
	assert.Empty(t, c.Get(ctx, "u1", "general"))
}

func TestStoreFailuresDegradeToEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, mr := newTestCache(t, 10)
	mr.Close()

	assert.NotPanics(t, func() {
		c.Append(ctx, "u1", "general", model.Turn{Role: model.RoleUser, Content: "a"})
		c.Clear(ctx, "u1", "general")
	})
	got := c.Get(ctx, "u1", "general")
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestCorruptEntryReadsEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, mr := newTestCache(t, 10)

	require.NoError(t, mr.Set(Key("u1", "general"), "not json"))
	assert.Empty(t, c.Get(ctx, "u1", "general"))
}
