package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrSessionMissing means at least one continuity key is absent; callers
	// must Reset before first use.
	ErrSessionMissing = errors.New("session missing")
	// ErrStoreUnavailable wraps connectivity failures talking to redis.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Session is the continuity chain of one (room, variant) thread.
type Session struct {
	ConversationID string
	PrevItemID     string
	CurrentItemID  string
	TurnCount      int64
}

// Store is the only writer of session and engagement keys.
//
// Keys per (room, variant): ai:{room}:{variant}:conv|prev|now|count.
// Keys per room: ai:{room}:model, ai:{room}:JOIN.
//
// Operations issue independent commands; nothing spans keys transactionally.
type Store struct {
	rdb          redis.UniversalClient
	defaultModel string
	newToken     func() string
}

type Option func(*Store)

// WithTokenFunc replaces the continuity token generator (uuid v4 by default).
func WithTokenFunc(f func() string) Option {
	return func(s *Store) {
		if f != nil {
			s.newToken = f
		}
	}
}

func New(rdb redis.UniversalClient, defaultModel string, opts ...Option) *Store {
	s := &Store{
		rdb:          rdb,
		defaultModel: defaultModel,
		newToken:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewToken issues a fresh opaque continuity token.
func (s *Store) NewToken() string { return s.newToken() }

// Variant derives the bot variant from a model name by replacing '-' and '.'
// with '_'. Keys written by earlier deployments use the same rule.
func Variant(model string) string {
	return variantReplacer.Replace(model)
}

var variantReplacer = strings.NewReplacer("-", "_", ".", "_")

func sessionKey(room uint64, variant, field string) string {
	return fmt.Sprintf("ai:%d:%s:%s", room, variant, field)
}

func modelKey(room uint64) string { return fmt.Sprintf("ai:%d:model", room) }

func joinKey(room uint64) string { return fmt.Sprintf("ai:%d:JOIN", room) }

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// ResolveModel returns the room model, or the default when the room has none
// or the lookup fails.
func (s *Store) ResolveModel(ctx context.Context, room uint64) (model, variant string) {
	model, err := s.rdb.Get(ctx, modelKey(room)).Result()
	if err != nil || strings.TrimSpace(model) == "" {
		model = s.defaultModel
	}
	return model, Variant(model)
}

// SetModel stores the room model and starts a fresh session for it.
func (s *Store) SetModel(ctx context.Context, room uint64, model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("model is required")
	}
	if err := s.rdb.Set(ctx, modelKey(room), model, 0).Err(); err != nil {
		return "", unavailable("set model", err)
	}
	variant := Variant(model)
	if err := s.Reset(ctx, room, variant); err != nil {
		return "", err
	}
	return variant, nil
}

// Reset writes four fresh continuity fields with a zero turn count.
func (s *Store) Reset(ctx context.Context, room uint64, variant string) error {
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(room, variant, "conv"), s.newToken(), 0)
		pipe.Set(ctx, sessionKey(room, variant, "prev"), s.newToken(), 0)
		pipe.Set(ctx, sessionKey(room, variant, "now"), s.newToken(), 0)
		pipe.Set(ctx, sessionKey(room, variant, "count"), 0, 0)
		return nil
	})
	if err != nil {
		return unavailable("reset session", err)
	}
	return nil
}

// Read loads the session, failing with ErrSessionMissing if any field is absent.
func (s *Store) Read(ctx context.Context, room uint64, variant string) (Session, error) {
	vals, err := s.rdb.MGet(ctx,
		sessionKey(room, variant, "conv"),
		sessionKey(room, variant, "prev"),
		sessionKey(room, variant, "now"),
		sessionKey(room, variant, "count"),
	).Result()
	if err != nil {
		return Session{}, unavailable("read session", err)
	}

	fields := make([]string, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			return Session{}, ErrSessionMissing
		}
		fields[i] = str
	}

	count, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil || count < 0 {
		return Session{}, fmt.Errorf("read session: bad turn count %q: %w", fields[3], ErrSessionMissing)
	}

	return Session{
		ConversationID: fields[0],
		PrevItemID:     fields[1],
		CurrentItemID:  fields[2],
		TurnCount:      count,
	}, nil
}

// EnsureSession reads the session, resetting it first when it is missing.
func (s *Store) EnsureSession(ctx context.Context, room uint64, variant string) (Session, error) {
	sess, err := s.Read(ctx, room, variant)
	if !errors.Is(err, ErrSessionMissing) {
		return sess, err
	}
	if err := s.Reset(ctx, room, variant); err != nil {
		return Session{}, err
	}
	return s.Read(ctx, room, variant)
}

// Advance moves the chain one turn forward: the reply id issued for the round
// trip becomes prev, a fresh token becomes now, and the turn count grows by one.
func (s *Store) Advance(ctx context.Context, room uint64, variant, replyID string) error {
	if err := s.rdb.Set(ctx, sessionKey(room, variant, "prev"), replyID, 0).Err(); err != nil {
		return unavailable("advance prev", err)
	}
	if err := s.rdb.Set(ctx, sessionKey(room, variant, "now"), s.newToken(), 0).Err(); err != nil {
		return unavailable("advance now", err)
	}
	if err := s.rdb.Incr(ctx, sessionKey(room, variant, "count")).Err(); err != nil {
		return unavailable("advance count", err)
	}
	return nil
}

// SetEngaged creates the engagement window or extends it to ttl. A window
// that currently outlives ttl is left alone.
func (s *Store) SetEngaged(ctx context.Context, room uint64, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("engagement ttl must be positive")
	}
	key := joinKey(room)
	remaining, err := s.rdb.TTL(ctx, key).Result()
	if err != nil {
		return unavailable("engagement ttl", err)
	}
	if remaining >= ttl {
		return nil
	}
	if err := s.rdb.Set(ctx, key, 1, ttl).Err(); err != nil {
		return unavailable("set engagement", err)
	}
	return nil
}

func (s *Store) IsEngaged(ctx context.Context, room uint64) (bool, error) {
	n, err := s.rdb.Exists(ctx, joinKey(room)).Result()
	if err != nil {
		return false, unavailable("check engagement", err)
	}
	return n > 0, nil
}
