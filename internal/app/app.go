// Package app wires the shared dependencies of the relay, server and worker binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/chat-relay/internal/ai"
	"github.com/suPer8Hu/chat-relay/internal/chat"
	"github.com/suPer8Hu/chat-relay/internal/config"
	"github.com/suPer8Hu/chat-relay/internal/db"
	"github.com/suPer8Hu/chat-relay/internal/store/redisstore"
)

// ConfigPath is the TOML file location, overridable with CONFIG_PATH.
func ConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config/config.toml"
}

// Deps are the long-lived clients behind a chat.Service.
type Deps struct {
	Redis   *redis.Client
	Repo    *chat.Repo
	AI      *ai.Client
	Service *chat.Service
}

func (d *Deps) Close() {
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
}

// Build connects Redis and the ledger database and assembles the conversation service.
func Build(ctx context.Context, cfg config.Config, log *slog.Logger) (*Deps, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
	}

	gdb, err := db.Connect(cfg.Database.DSN)
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}
	repo := chat.NewRepo(gdb)
	if err := repo.Migrate(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	client := ai.NewClient(cfg.AI.Endpoint, cfg.AI.APIBase, cfg.AI.Token)
	store := redisstore.New(rdb, cfg.AI.DefaultModel)
	captioner := chat.NewCaptioner(client, client, cfg.AI.CaptionBot, cfg.AI.CaptionModel)

	svc := chat.NewService(repo, store, client, cfg.AI,
		chat.WithLogger(log),
		chat.WithCaptioner(captioner),
	)
	return &Deps{Redis: rdb, Repo: repo, AI: client, Service: svc}, nil
}
