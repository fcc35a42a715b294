package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/chat-relay/internal/app"
	"github.com/suPer8Hu/chat-relay/internal/chat"
	"github.com/suPer8Hu/chat-relay/internal/config"
	"github.com/suPer8Hu/chat-relay/internal/logging"
	"github.com/suPer8Hu/chat-relay/internal/store/rabbitmq"
)

const (
	maxAttempts = 3
	retryDelay  = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(app.ConfigPath())
	if err != nil {
		return err
	}
	log := logging.New(cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.Close()

	conn, err := amqp.Dial(cfg.Rabbit.URL)
	if err != nil {
		return fmt.Errorf("rabbit dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbit channel: %w", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareQueues(ch, cfg.Rabbit.Queue); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	retry := rabbitmq.NewPublisherFromChannel(ch, cfg.Rabbit.Queue)

	//  strict concurrency control
	concurrency := cfg.Rabbit.WorkerConcurrency()
	if err := ch.Qos(concurrency, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}

	msgs, err := ch.Consume(cfg.Rabbit.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	log.Info("worker started", "queue", cfg.Rabbit.Queue, "concurrency", concurrency)

	w := &worker{svc: deps.Service, retry: retry, log: log}

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				w.handle(ctx, workerID, d)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return nil

		case d, ok := <-msgs:
			if !ok {
				close(jobs)
				wg.Wait()
				return errors.New("delivery channel closed")
			}
			jobs <- d
		}
	}
}

type worker struct {
	svc   *chat.Service
	retry *rabbitmq.Publisher
	log   *slog.Logger
}

func (w *worker) handle(ctx context.Context, workerID int, d amqp.Delivery) {
	m, err := rabbitmq.DecodeJob(d.Body)
	if err != nil {
		w.log.Warn("bad message", "worker", workerID, "err", err)
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	j, err := w.svc.RunJob(ctx, m.JobID)
	cost := time.Since(start)

	switch {
	case err == nil:
		if cost > 2*time.Second {
			w.log.Info("job_timing", "worker", workerID, "job", m.JobID, "rounds", j.Rounds, "total", cost)
		}
		if err := d.Ack(false); err != nil {
			w.log.Error("ack failed", "worker", workerID, "job", m.JobID, "err", err)
		}

	case errors.Is(err, chat.ErrJobNotQueued):
		// redelivery of a job that already ran
		w.log.Info("job already handled", "worker", workerID, "job", m.JobID)
		_ = d.Ack(false)

	case errors.Is(err, chat.ErrLockTimeout) && m.Attempt+1 < maxAttempts:
		if rerr := w.requeue(ctx, m); rerr != nil {
			w.log.Error("job retry failed", "worker", workerID, "job", m.JobID, "err", rerr)
			_ = d.Nack(false, false)
			return
		}
		w.log.Warn("job busy, retrying", "worker", workerID, "job", m.JobID, "attempt", m.Attempt+1, "delay", retryDelay)
		_ = d.Ack(false)

	default:
		w.log.Error("job failed", "worker", workerID, "job", m.JobID, "cost", cost, "err", err)
		_ = d.Nack(false, false)
	}
}

func (w *worker) requeue(ctx context.Context, m rabbitmq.JobMessage) error {
	if err := w.svc.RequeueJob(ctx, m.JobID); err != nil {
		return err
	}
	m.Attempt++
	return w.retry.PublishRetry(ctx, m, retryDelay)
}
