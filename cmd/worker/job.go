package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/assistant-gateway/internal/ai"
	"github.com/suPer8Hu/assistant-gateway/internal/chat"
	"github.com/suPer8Hu/assistant-gateway/internal/store/rabbitmq"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxJobAttempts = 3

type replyGenerator interface {
	GenerateAssistantReplyAndInsert(ctx context.Context, userID uint64, sessionID string) (string, uint64, error)
}

type jobStore interface {
	GetJobByID(ctx context.Context, id string) (*chat.Job, error)
	UpdateJobStatusRunning(ctx context.Context, id string) error
	RequeueJob(ctx context.Context, id string) error
	MarkJobSucceeded(ctx context.Context, id string, assistantMsgID uint64) error
	MarkJobFailed(ctx context.Context, id string, errMsg string) error
}

type retryPublisher interface {
	PublishRetry(ctx context.Context, jobID string, attempt int, delay time.Duration) error
}

type processor struct {
	svc    replyGenerator
	repo   jobStore
	retry  retryPublisher
	logger *zap.Logger
}

// retryable reports whether another delivery could succeed. Missing rows and
// configuration problems fail the same way every time.
func retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, chat.ErrUnsupportedProvider),
		errors.Is(err, ai.ErrClarifaiTokenRequired),
		errors.Is(err, ai.ErrOpenRouterKeyRequired),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// handleDelivery runs one job and settles the delivery: ack on success or
// after scheduling a retry, nack (dead-letter) once the job is given up.
func (p *processor) handleDelivery(ctx context.Context, workerID int, d amqp.Delivery) {
	var m rabbitmq.JobMessage
	if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
		p.logger.Warn("bad message", zap.Int("worker", workerID), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	attempt := rabbitmq.Attempt(d)
	log := p.logger.With(
		zap.Int("worker", workerID),
		zap.String("job_id", m.JobID),
		zap.Int("attempt", attempt),
	)

	start := time.Now()
	err := p.handleJob(ctx, m.JobID)
	if err == nil {
		if err := d.Ack(false); err != nil {
			log.Warn("ack failed", zap.Error(err))
		}
		return
	}

	if retryable(err) && attempt < maxJobAttempts && p.retry != nil {
		next := attempt + 1
		if rqErr := p.repo.RequeueJob(ctx, m.JobID); rqErr != nil {
			log.Warn("requeue job failed", zap.Error(rqErr))
		}
		delay := rabbitmq.RetryDelay(attempt)
		if ai.IsRateLimit(err) && delay < 10*time.Second {
			delay = 10 * time.Second
		}
		pubErr := p.retry.PublishRetry(ctx, m.JobID, next, delay)
		if pubErr == nil {
			log.Warn("job failed, retry scheduled", zap.Duration("cost", time.Since(start)), zap.Error(err))
			_ = d.Ack(false)
			return
		}
		log.Error("publish retry failed", zap.Error(pubErr))
	}

	_ = p.repo.MarkJobFailed(ctx, m.JobID, err.Error())
	log.Error("job failed", zap.Duration("cost", time.Since(start)), zap.Error(err))
	_ = d.Nack(false, false)
}

func (p *processor) handleJob(ctx context.Context, jobID string) error {
	jobStart := time.Now()

	t0 := time.Now()
	_ = p.repo.UpdateJobStatusRunning(ctx, jobID)
	updateCost := time.Since(t0)

	t1 := time.Now()
	j, err := p.repo.GetJobByID(ctx, jobID)
	getJobCost := time.Since(t1)
	if err != nil {
		if time.Since(jobStart) > 500*time.Millisecond {
			p.logger.Info("job_timing",
				zap.String("job_id", jobID),
				zap.Duration("update", updateCost),
				zap.Duration("get_job", getJobCost),
				zap.Duration("total", time.Since(jobStart)),
				zap.Error(err),
			)
		}
		return err
	}
	// redelivery of a finished job
	if j.Status.Terminal() {
		return nil
	}

	t2 := time.Now()
	_, assistantMsgID, err := p.svc.GenerateAssistantReplyAndInsert(ctx, j.UserID, j.SessionID)
	genCost := time.Since(t2)
	if err != nil {
		p.logger.Info("job_timing_failed",
			zap.String("job_id", jobID),
			zap.Duration("update", updateCost),
			zap.Duration("get_job", getJobCost),
			zap.Duration("gen", genCost),
			zap.Duration("total", time.Since(jobStart)),
			zap.Error(err),
		)
		return err
	}

	t3 := time.Now()
	if err := p.repo.MarkJobSucceeded(ctx, jobID, assistantMsgID); err != nil {
		p.logger.Info("job_timing_failed",
			zap.String("job_id", jobID),
			zap.Duration("gen", genCost),
			zap.Duration("mark_succ", time.Since(t3)),
			zap.Duration("total", time.Since(jobStart)),
			zap.Error(err),
		)
		return err
	}
	markSuccCost := time.Since(t3)

	if total := time.Since(jobStart); total > 2*time.Second {
		p.logger.Info("job_timing",
			zap.String("job_id", jobID),
			zap.Duration("update", updateCost),
			zap.Duration("get_job", getJobCost),
			zap.Duration("gen", genCost),
			zap.Duration("mark_succ", markSuccCost),
			zap.Duration("total", total),
		)
	}
	return nil
}
