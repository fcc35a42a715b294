package redisstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LeaseKey guards backend round trips across every process sharing the store.
const LeaseKey = "ai:lock"

const (
	DefaultLeaseTTL   = 30 * time.Second
	leasePollInterval = 50 * time.Millisecond
)

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// Lease is a held cross-process lock. It is kept alive in the background
// until Release.
type Lease struct {
	rdb   redis.UniversalClient
	token string
	ttl   time.Duration
	stop  chan struct{}
	done  chan struct{}
}

// AcquireLease waits until the shared lock is free and takes it, or returns
// ctx.Err() once ctx is done.
func (s *Store) AcquireLease(ctx context.Context, ttl time.Duration) (*Lease, error) {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	token := uuid.NewString()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		ok, err := s.rdb.SetNX(ctx, LeaseKey, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, unavailable("acquire lease", err)
		}
		if ok {
			l := &Lease{
				rdb:   s.rdb,
				token: token,
				ttl:   ttl,
				stop:  make(chan struct{}),
				done:  make(chan struct{}),
			}
			go l.keepAlive()
			return l, nil
		}

		if timer == nil {
			timer = time.NewTimer(leasePollInterval)
		} else {
			timer.Reset(leasePollInterval)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Lease) keepAlive() {
	defer close(l.done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			n, err := extendScript.Run(ctx, l.rdb, []string{LeaseKey}, l.token, l.ttl.Milliseconds()).Int()
			cancel()
			if err == nil && n == 0 {
				// lost to expiry; nothing left to extend
				return
			}
		}
	}
}

// Release stops the keep-alive and deletes the lock if this lease still owns it.
func (l *Lease) Release(ctx context.Context) error {
	close(l.stop)
	<-l.done
	if err := releaseScript.Run(ctx, l.rdb, []string{LeaseKey}, l.token).Err(); err != nil {
		return unavailable("release lease", err)
	}
	return nil
}
