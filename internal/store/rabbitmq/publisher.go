package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// JobMessage is the body of a queued converse job.
type JobMessage struct {
	JobID   string `json:"job_id"`
	Attempt int    `json:"attempt,omitempty"`
}

func RetryQueue(queue string) string { return queue + ".retry" }
func DeadLetterQueue(queue string) string { return queue + ".dlq" }

// DeclareQueues declares the main queue with its retry and dead-letter
// companions. Publisher and worker must declare them with identical args.
func DeclareQueues(ch *amqp.Channel, queue string) error {
	decls := []struct {
		name string
		args amqp.Table
	}{
		{DeadLetterQueue(queue), nil},
		// expired retries go back to the main queue
		{RetryQueue(queue), deadLetterTo(queue)},
		// rejected jobs go to the DLQ
		{queue, deadLetterTo(DeadLetterQueue(queue))},
	}
	for _, d := range decls {
		if _, err := ch.QueueDeclare(d.name, true, false, false, false, d.args); err != nil {
			return fmt.Errorf("declare %s: %w", d.name, err)
		}
	}
	return nil
}

func deadLetterTo(queue string) amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue,
	}
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := DeclareQueues(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p := NewPublisherFromChannel(ch, queue)
	p.conn = conn
	return p, nil
}

// NewPublisherFromChannel publishes on an existing channel; the caller owns it.
func NewPublisherFromChannel(ch *amqp.Channel, queue string) *Publisher {
	return &Publisher{ch: ch, queue: queue}
}

func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	return p.conn.Close()
}

func (p *Publisher) PublishJob(ctx context.Context, jobID string) error {
	return p.publish(ctx, p.queue, JobMessage{JobID: jobID}, 0)
}

// PublishRetry parks the job on the retry queue; after delay it is
// dead-lettered back onto the main queue.
func (p *Publisher) PublishRetry(ctx context.Context, msg JobMessage, delay time.Duration) error {
	if delay <= 0 {
		return errors.New("retry delay must be positive")
	}
	return p.publish(ctx, RetryQueue(p.queue), msg, delay)
}

func (p *Publisher) publish(ctx context.Context, queue string, msg JobMessage, ttl time.Duration) error {
	body, err := EncodeJob(msg)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Timestamp:    time.Now(),
	}
	if ttl > 0 {
		pub.Expiration = strconv.FormatInt(ttl.Milliseconds(), 10)
	}

	return p.ch.PublishWithContext(cctx,
		"",    // default exchange
		queue, // routing key = queue
		false,
		false,
		pub,
	)
}

func EncodeJob(msg JobMessage) ([]byte, error) {
	if msg.JobID == "" {
		return nil, errors.New("job id is empty")
	}
	return json.Marshal(msg)
}

func DecodeJob(body []byte) (JobMessage, error) {
	var m JobMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return JobMessage{}, err
	}
	if m.JobID == "" {
		return JobMessage{}, errors.New("job id is empty")
	}
	return m, nil
}
