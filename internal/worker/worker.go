// Package worker provisions enrollments that could not be created inline when a
// payment completed.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coursehub/backend/internal/models"
	"github.com/coursehub/backend/pkg/queue"
)

// JobQueue is the enrollment outbox.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job, cause error) error
}

// Payments loads payments and triggers their enrollments.
type Payments interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	TriggerEnrollment(ctx context.Context, p *models.Payment) error
}

// EnrollmentProcessor drains the enrollment queue.
type EnrollmentProcessor struct {
	payments Payments
	queue    JobQueue
	backoff  time.Duration
	logger   *zap.Logger
}

// NewEnrollmentProcessor creates an enrollment retry processor.
func NewEnrollmentProcessor(payments Payments, q JobQueue, logger *zap.Logger) *EnrollmentProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentProcessor{payments: payments, queue: q, backoff: queue.RetryBackoff, logger: logger}
}

// Process executes one enrollment job. Enrollment creation is idempotent, so a
// job that already succeeded can run again harmlessly.
func (p *EnrollmentProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeEnrollment {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.EnrollmentPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	pay, err := p.payments.GetByID(ctx, payload.PaymentID)
	if err != nil {
		return fmt.Errorf("load payment %s: %w", payload.PaymentID, err)
	}
	if pay.Status != models.PaymentStatusCompleted {
		p.logger.Warn("skipping enrollment for payment that is not completed",
			zap.String("transaction_id", pay.TransactionID),
			zap.String("status", string(pay.Status)),
		)
		return nil
	}
	if err := p.payments.TriggerEnrollment(ctx, pay); err != nil {
		return fmt.Errorf("enroll: %w", err)
	}
	p.logger.Info("enrollment provisioned", zap.String("transaction_id", pay.TransactionID), zap.Int("attempt", job.Attempt))
	return nil
}

// Run dequeues and processes jobs until ctx is cancelled. Failed jobs are retried
// up to queue.MaxRetries times and then dead-lettered.
func (p *EnrollmentProcessor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			p.logger.Info("enrollment worker stopping")
			return
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("dequeue error", zap.Error(err))
				p.wait(ctx)
			}
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job, err); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.String("job_id", job.ID), zap.Error(reErr))
			}
			p.wait(ctx)
		}
	}
}

func (p *EnrollmentProcessor) wait(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
