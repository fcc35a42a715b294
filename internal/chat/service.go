package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/suPer8Hu/chat-relay/internal/ai"
	"github.com/suPer8Hu/chat-relay/internal/common"
	"github.com/suPer8Hu/chat-relay/internal/config"
	"github.com/suPer8Hu/chat-relay/internal/logging"
	"github.com/suPer8Hu/chat-relay/internal/store/redisstore"
	"golang.org/x/sync/semaphore"
)

const (
	// GlobalRoom is the room used for private chats and global commands.
	GlobalRoom uint64 = 0

	DefaultLockTimeout   = 120 * time.Second
	DefaultMaxToolRounds = 4
)

// Backend is one chat round trip against the AI backend.
type Backend interface {
	BuildChatRequest(p ai.ChatParams) ai.ChatRequest
	Chat(ctx context.Context, req ai.ChatRequest) (string, error)
}

// Service orchestrates conversations: it owns the single-flight lock, the
// tool loop and the ledger.
type Service struct {
	repo    *Repo
	store   *redisstore.Store
	backend Backend
	tools   *ToolDispatcher
	caption *Captioner
	log     *slog.Logger

	initPrompt    string
	maxToolRounds int

	lock        *semaphore.Weighted
	lockTimeout time.Duration
	leaseTTL    time.Duration
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithLockTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

func WithCaptioner(c *Captioner) Option {
	return func(s *Service) { s.caption = c }
}

// NewService wires the orchestrator. repo may be nil, in which case no ledger is kept.
func NewService(repo *Repo, store *redisstore.Store, backend Backend, cfg config.AIConfig, opts ...Option) *Service {
	rounds := cfg.MaxToolRounds
	if rounds <= 0 {
		rounds = DefaultMaxToolRounds
	}
	s := &Service{
		repo:          repo,
		store:         store,
		backend:       backend,
		tools:         NewToolDispatcher(backend, ToolRouterFromConfig(cfg)),
		log:           logging.Discard(),
		initPrompt:    cfg.InitPrompt,
		maxToolRounds: rounds,
		lock:          semaphore.NewWeighted(1),
		lockTimeout:   DefaultLockTimeout,
		leaseTTL:      redisstore.DefaultLeaseTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// acquire waits for the single-flight lock for at most the lock timeout. The
// in-process semaphore is taken first, then the lease shared with every other
// process on the same store.
func (s *Service) acquire(ctx context.Context) (func(), error) {
	lctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	if err := s.lock.Acquire(lctx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrLockTimeout
	}

	lease, err := s.store.AcquireLease(lctx, s.leaseTTL)
	if err != nil {
		s.lock.Release(1)
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return nil, ErrLockTimeout
		}
		return nil, err
	}

	return func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("lease release failed", "err", err)
		}
		s.lock.Release(1)
	}, nil
}

// Converse sends input to the room's current bot and returns the final answer.
// Replies that open with a tool marker are delegated and the tool output is
// fed back, at most maxToolRounds times.
func (s *Service) Converse(ctx context.Context, room uint64, input string) (string, error) {
	job := s.beginJob(ctx, JobConverse, room, input, JobRunning)
	reply, rounds, err := s.converse(ctx, room, input, job)
	s.finishJob(ctx, job, reply, rounds, err)
	return reply, err
}

func (s *Service) converse(ctx context.Context, room uint64, input string, job *Job) (string, int, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return "", 0, err
	}
	defer release()

	model, variant := s.store.ResolveModel(ctx, room)
	if job != nil && s.repo != nil {
		if err := s.repo.UpdateJobVariant(ctx, job.ID, variant); err != nil {
			s.log.Warn("ledger variant update failed", "job", job.ID, "err", err)
		}
	}

	text := input
	rounds, tools := 0, 0
	for {
		reply, err := s.roundTrip(ctx, room, model, variant, text)
		rounds++
		if err != nil {
			return "", rounds, err
		}

		inv, ok := ParseToolMarker(reply)
		if !ok {
			return reply, rounds, nil
		}
		if tools >= s.maxToolRounds {
			s.log.Warn("tool loop exceeded", "room", room, "rounds", rounds, "tool", inv.Name)
			return "", rounds, ErrToolLoopExceeded
		}
		tools++

		s.log.Debug("tool call", "room", room, "tool", inv.Name, "raw", logging.Truncate(inv.Raw, 120))
		result, routed, err := s.tools.Dispatch(ctx, inv)
		if err != nil {
			return "", rounds, fmt.Errorf("tool %s: %w", inv.Name, err)
		}
		if !routed {
			return result, rounds, nil
		}
		text = result
	}
}

// roundTrip performs one main-session call and advances the session.
func (s *Service) roundTrip(ctx context.Context, room uint64, model, variant, text string) (string, error) {
	sess, err := s.store.EnsureSession(ctx, room, variant)
	if err != nil {
		return "", err
	}

	replyID := s.store.NewToken()
	req := s.backend.BuildChatRequest(ai.ChatParams{
		ConversationID: sess.ConversationID,
		PrevItemID:     sess.PrevItemID,
		CurrentItemID:  sess.CurrentItemID,
		TurnCount:      sess.TurnCount,
		ReplyID:        replyID,
		BotUID:         variant,
		Model:          model,
		Question:       text,
		InitPrompt:     s.initPrompt,
	})

	start := time.Now()
	reply, err := s.backend.Chat(ctx, req)
	if err != nil {
		s.log.Error("backend round trip failed", "room", room, "variant", variant, "cost", time.Since(start), "err", err)
		return "", err
	}
	s.log.Info("backend round trip", "room", room, "variant", variant, "turn", sess.TurnCount, "cost", time.Since(start))

	// The reply is already produced; a failed advance leaves the session one
	// step behind and is only logged.
	if err := s.store.Advance(context.WithoutCancel(ctx), room, variant, replyID); err != nil {
		s.log.Error("session advance failed", "room", room, "variant", variant, "err", err)
	}
	return reply, nil
}

// Caption describes an image. The captioning round trip holds the same lock
// as Converse.
func (s *Service) Caption(ctx context.Context, img Image) (string, error) {
	if s.caption == nil {
		return "", ErrNoCaptioner
	}
	job := s.beginJob(ctx, JobCaption, GlobalRoom, img.URL, JobRunning)

	release, err := s.acquire(ctx)
	if err != nil {
		s.finishJob(ctx, job, "", 0, err)
		return "", err
	}
	defer release()

	start := time.Now()
	text, err := s.caption.Caption(ctx, img)
	if err != nil {
		s.log.Error("caption failed", "file", img.Filename, "cost", time.Since(start), "err", err)
	} else {
		s.log.Info("caption", "file", img.Filename, "cost", time.Since(start), "text", logging.Truncate(text, 80))
	}
	s.finishJob(ctx, job, text, 1, err)
	return text, err
}

// Clear resets the session of every given variant in room. With no variants
// the room's current one is reset.
func (s *Service) Clear(ctx context.Context, room uint64, variants ...string) error {
	if len(variants) == 0 {
		_, v := s.store.ResolveModel(ctx, room)
		variants = []string{v}
	}
	for _, v := range variants {
		if err := s.store.Reset(ctx, room, v); err != nil {
			return err
		}
	}
	return nil
}

// ClearAll resets the current session of room and the extra bot threads,
// which live in the global room.
func (s *Service) ClearAll(ctx context.Context, room uint64, extra ...string) error {
	if err := s.Clear(ctx, room); err != nil {
		return err
	}
	if len(extra) == 0 {
		return nil
	}
	return s.Clear(ctx, GlobalRoom, extra...)
}

// SetModel switches the room to model and starts a fresh session for it.
func (s *Service) SetModel(ctx context.Context, room uint64, model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", ErrEmptyModel
	}
	return s.store.SetModel(ctx, room, model)
}

func (s *Service) Engage(ctx context.Context, room uint64, ttl time.Duration) error {
	return s.store.SetEngaged(ctx, room, ttl)
}

func (s *Service) IsEngaged(ctx context.Context, room uint64) (bool, error) {
	return s.store.IsEngaged(ctx, room)
}

// SubmitJob records a queued converse job. created is false when the
// idempotency key matched an existing job.
func (s *Service) SubmitJob(ctx context.Context, room uint64, prompt string, key *string) (*Job, bool, error) {
	if s.repo == nil {
		return nil, false, errors.New("ledger is not configured")
	}
	id, err := common.NewULID()
	if err != nil {
		return nil, false, err
	}
	return s.repo.CreateJobOrGetExisting(ctx, &Job{
		ID:             id,
		Kind:           JobConverse,
		Room:           room,
		Prompt:         prompt,
		IdempotencyKey: key,
		Status:         JobQueued,
	})
}

func (s *Service) GetJob(ctx context.Context, jobID string) (*Job, error) {
	if s.repo == nil {
		return nil, errors.New("ledger is not configured")
	}
	return s.repo.GetJobByID(ctx, jobID)
}

// RunJob executes a queued converse job and records its outcome.
func (s *Service) RunJob(ctx context.Context, jobID string) (*Job, error) {
	if s.repo == nil {
		return nil, errors.New("ledger is not configured")
	}
	moved, err := s.repo.UpdateJobStatusRunning(ctx, jobID)
	if err != nil {
		return nil, err
	}
	j, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !moved {
		return j, ErrJobNotQueued
	}

	reply, rounds, err := s.converse(ctx, j.Room, j.Prompt, j)
	s.finishJob(ctx, j, reply, rounds, err)
	if err != nil {
		return j, err
	}
	return s.repo.GetJobByID(ctx, jobID)
}

// RequeueJob returns a failed job to the queue so the worker can retry it.
func (s *Service) RequeueJob(ctx context.Context, jobID string) error {
	if s.repo == nil {
		return errors.New("ledger is not configured")
	}
	ok, err := s.repo.RequeueFailedJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("requeue %s: job is not failed", jobID)
	}
	return nil
}

func (s *Service) beginJob(ctx context.Context, kind JobKind, room uint64, prompt string, status JobStatus) *Job {
	if s.repo == nil {
		return nil
	}
	id, err := common.NewULID()
	if err != nil {
		s.log.Warn("ledger id failed", "err", err)
		return nil
	}
	j := &Job{ID: id, Kind: kind, Room: room, Prompt: prompt, Status: status}
	if err := s.repo.CreateJob(ctx, j); err != nil {
		s.log.Warn("ledger insert failed", "kind", kind, "room", room, "err", err)
		return nil
	}
	return j
}

// finishJob records the outcome even when ctx was cancelled mid-call.
func (s *Service) finishJob(ctx context.Context, j *Job, reply string, rounds int, err error) {
	if j == nil || s.repo == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	var werr error
	if err != nil {
		werr = s.repo.MarkJobFailed(ctx, j.ID, err.Error(), rounds)
	} else {
		werr = s.repo.MarkJobSucceeded(ctx, j.ID, reply, rounds)
	}
	if werr != nil {
		s.log.Warn("ledger update failed", "job", j.ID, "err", werr)
	}
}
