package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/suPer8Hu/chat-relay/internal/app"
	"github.com/suPer8Hu/chat-relay/internal/config"
	"github.com/suPer8Hu/chat-relay/internal/logging"
	"github.com/suPer8Hu/chat-relay/internal/relay"
)

const banner = `
   ┌─┐┬ ┬┌─┐┌┬┐   ┬─┐┌─┐┬  ┌─┐┬ ┬
   │  ├─┤├─┤ │    ├┬┘├┤ │  ├─┤└┬┘
   └─┘┴ ┴┴ ┴ ┴    ┴└─└─┘┴─┘┴ ┴ ┴
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	color.New(color.FgCyan).Print(banner)

	path := app.ConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", path, err)
	}
	log := logging.New(cfg.Logging.Level)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", path)
	green.Print("    ▶ ")
	fmt.Printf("OneBot:  %s\n", cfg.API.URL)
	green.Print("    ▶ ")
	fmt.Printf("Model:   %s\n", cfg.AI.DefaultModel)
	green.Print("    ▶ ")
	fmt.Printf("Owner:   %d\n", cfg.Bot.Owner)
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.Close()

	handler := relay.NewHandler(deps.Service, relay.HandlerConfig{
		Owner:        cfg.Bot.Owner,
		EngageTTL:    cfg.AI.EngageTTL(),
		AutoJoin:     cfg.AI.AutoJoin,
		ClearAllBots: []string{cfg.AI.CaptionBot, cfg.AI.ReaderBot, cfg.AI.UtilityBot},
	}, log)

	client := relay.NewClient(cfg.API.URL, cfg.API.AccessToken, handler, log)
	log.Info("relay starting", "url", cfg.API.URL)
	return client.Run(ctx)
}
