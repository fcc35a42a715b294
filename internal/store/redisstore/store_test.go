package redisstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, "openai-o-3-mini", opts...), mr
}

func TestVariant(t *testing.T) {
	assert.Equal(t, "openai_o_3_mini", Variant("openai-o-3-mini"))
	assert.Equal(t, "gemini_2_0", Variant("gemini-2.0"))
	assert.Equal(t, "claude_3_5_sonnet", Variant("claude-3.5-sonnet"))
	// only '-' and '.' are rewritten
	assert.Equal(t, "openai/gpt_4o", Variant("openai/gpt-4o"))
	assert.Equal(t, "my bot", Variant("my bot"))
	assert.Equal(t, "already_ok", Variant("already_ok"))
}

func TestResolveModel_FallsBackToDefault(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	model, variant := s.ResolveModel(ctx, 10)
	assert.Equal(t, "openai-o-3-mini", model)
	assert.Equal(t, "openai_o_3_mini", variant)
}

func TestResolveModel_FallsBackWhenStoreDown(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()

	model, variant := s.ResolveModel(context.Background(), 10)
	assert.Equal(t, "openai-o-3-mini", model)
	assert.Equal(t, "openai_o_3_mini", variant)
}

func TestSetModel_ResetsRoomSession(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	variant, err := s.SetModel(ctx, 5, "deepseek-v3")
	require.NoError(t, err)
	assert.Equal(t, "deepseek_v3", variant)

	model, v := s.ResolveModel(ctx, 5)
	assert.Equal(t, "deepseek-v3", model)
	assert.Equal(t, "deepseek_v3", v)

	got, err := mr.Get("ai:5:model")
	require.NoError(t, err)
	assert.Equal(t, "deepseek-v3", got)

	sess, err := s.Read(ctx, 5, variant)
	require.NoError(t, err)
	assert.Equal(t, int64(0), sess.TurnCount)
}

func TestRead_MissingUntilReset(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	_, err := s.Read(ctx, 1, "bot")
	assert.ErrorIs(t, err, ErrSessionMissing)

	require.NoError(t, s.Reset(ctx, 1, "bot"))
	sess, err := s.Read(ctx, 1, "bot")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ConversationID)
	assert.NotEmpty(t, sess.PrevItemID)
	assert.NotEmpty(t, sess.CurrentItemID)
	assert.Equal(t, int64(0), sess.TurnCount)

	// a single missing field makes the whole session missing
	mr.Del("ai:1:bot:now")
	_, err = s.Read(ctx, 1, "bot")
	assert.ErrorIs(t, err, ErrSessionMissing)
}

func TestRead_StoreDown(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()

	_, err := s.Read(context.Background(), 1, "bot")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NotErrorIs(t, err, ErrSessionMissing)
}

func TestReset_FreshDisjointTokens(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Reset(ctx, 2, "bot"))
	require.NoError(t, s.Advance(ctx, 2, "bot", "reply-1"))
	before, err := s.Read(ctx, 2, "bot")
	require.NoError(t, err)
	require.Equal(t, int64(1), before.TurnCount)

	require.NoError(t, s.Reset(ctx, 2, "bot"))
	after, err := s.Read(ctx, 2, "bot")
	require.NoError(t, err)

	assert.Equal(t, int64(0), after.TurnCount)
	old := map[string]bool{before.ConversationID: true, before.PrevItemID: true, before.CurrentItemID: true}
	for _, tok := range []string{after.ConversationID, after.PrevItemID, after.CurrentItemID} {
		assert.False(t, old[tok], "token %s reused after reset", tok)
	}
}

func TestAdvance_ChainsTurns(t *testing.T) {
	n := 0
	s, _ := newTestStore(t, WithTokenFunc(func() string {
		n++
		return fmt.Sprintf("tok-%d", n)
	}))
	ctx := context.Background()

	require.NoError(t, s.Reset(ctx, 3, "bot"))
	for turn := int64(1); turn <= 3; turn++ {
		replyID := fmt.Sprintf("reply-%d", turn)
		require.NoError(t, s.Advance(ctx, 3, "bot", replyID))

		sess, err := s.Read(ctx, 3, "bot")
		require.NoError(t, err)
		assert.Equal(t, turn, sess.TurnCount)
		assert.Equal(t, replyID, sess.PrevItemID)
		assert.Equal(t, "tok-1", sess.ConversationID)
	}
}

func TestEnsureSession_ResetsOnce(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first, err := s.EnsureSession(ctx, 4, "bot")
	require.NoError(t, err)
	require.NoError(t, s.Advance(ctx, 4, "bot", "r"))

	second, err := s.EnsureSession(ctx, 4, "bot")
	require.NoError(t, err)
	assert.Equal(t, first.ConversationID, second.ConversationID)
	assert.Equal(t, int64(1), second.TurnCount)
}

func TestEngagement(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	engaged, err := s.IsEngaged(ctx, 9)
	require.NoError(t, err)
	assert.False(t, engaged)

	require.NoError(t, s.SetEngaged(ctx, 9, time.Minute))
	engaged, err = s.IsEngaged(ctx, 9)
	require.NoError(t, err)
	assert.True(t, engaged)

	mr.FastForward(40 * time.Second)
	require.NoError(t, s.SetEngaged(ctx, 9, time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("ai:9:JOIN"))

	// a longer remaining window is not shortened
	require.NoError(t, s.SetEngaged(ctx, 9, 10*time.Second))
	assert.Equal(t, time.Minute, mr.TTL("ai:9:JOIN"))

	mr.FastForward(61 * time.Second)
	engaged, err = s.IsEngaged(ctx, 9)
	require.NoError(t, err)
	assert.False(t, engaged)
}
