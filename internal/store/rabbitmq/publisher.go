package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AttemptHeader counts deliveries of one job across retry hops.
const AttemptHeader = "x-attempt"

type Publisher struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	queues Queues
	logger *zap.Logger

	// amqp channels are not safe for concurrent publishes
	mu sync.Mutex
}

type JobMessage struct {
	JobID string `json:"job_id"`
}

// Queues names the three queues of one job pipeline.
type Queues struct {
	Main  string
	Retry string
	DLQ   string
}

func QueuesFor(queue string) Queues {
	return Queues{Main: queue, Retry: queue + ".retry", DLQ: queue + ".dlq"}
}

// DeclareTopology declares the DLQ, the retry queue (TTL'd messages
// dead-letter back to main) and the main queue (rejects dead-letter to DLQ).
// Publisher and worker both call it so their declarations always agree.
func DeclareTopology(ch *amqp.Channel, q Queues) error {
	// DLQ
	if _, err := ch.QueueDeclare(
		q.DLQ,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return fmt.Errorf("declare %s: %w", q.DLQ, err)
	}

	// Retry queue: message TTL -> dead-letter back to main queue
	if _, err := ch.QueueDeclare(
		q.Retry,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": q.Main,
		},
	); err != nil {
		return fmt.Errorf("declare %s: %w", q.Retry, err)
	}

	// Main queue: dead-letter to DLQ on reject/nack(requeue=false)
	if _, err := ch.QueueDeclare(
		q.Main,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": q.DLQ,
		},
	); err != nil {
		return fmt.Errorf("declare %s: %w", q.Main, err)
	}
	return nil
}

func NewPublisher(url, queue string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	qs := QueuesFor(queue)
	if err := DeclareTopology(ch, qs); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	logger.Info("rabbitmq publisher ready", zap.String("queue", qs.Main))
	return &Publisher{conn: conn, ch: ch, queues: qs, logger: logger.With(zap.String("component", "publisher"))}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *Publisher) PublishJob(ctx context.Context, jobID string) error {
	msg, err := jobPublishing(jobID, 1, 0)
	if err != nil {
		return err
	}
	return p.publish(ctx, p.queues.Main, msg)
}

// PublishRetry parks the job on the retry queue; the broker moves it back to
// the main queue after delay.
func (p *Publisher) PublishRetry(ctx context.Context, jobID string, attempt int, delay time.Duration) error {
	msg, err := jobPublishing(jobID, attempt, delay)
	if err != nil {
		return err
	}
	p.logger.Info("job scheduled for retry",
		zap.String("job_id", jobID),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
	)
	return p.publish(ctx, p.queues.Retry, msg)
}

func (p *Publisher) publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(cctx,
		"",    // default exchange
		queue, // routing key = queue
		false,
		false,
		msg,
	)
}

func jobPublishing(jobID string, attempt int, delay time.Duration) (amqp.Publishing, error) {
	body, err := json.Marshal(JobMessage{JobID: jobID})
	if err != nil {
		return amqp.Publishing{}, err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Timestamp:    time.Now(),
		Headers:      amqp.Table{AttemptHeader: int32(attempt)},
	}
	if delay > 0 {
		msg.Expiration = strconv.FormatInt(delay.Milliseconds(), 10)
	}
	return msg, nil
}

// Attempt reads the delivery counter; deliveries without one are attempt 1.
func Attempt(d amqp.Delivery) int {
	switch v := d.Headers[AttemptHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 1
}

// RetryDelay backs off 2s, 4s, 8s ... capped at one minute.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := 2 * time.Second
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= time.Minute {
			return time.Minute
		}
	}
	return d
}
