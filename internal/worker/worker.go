// Package worker runs background jobs taken from a queue.
package worker

import (
	"context"

	"go.uber.org/zap"

	"classattend/internal/attendance"
	"classattend/internal/metrics"
	"classattend/internal/observability"
	"classattend/internal/queue"
)

// Reconciler re-checks a user's cached classroom list.
type Reconciler interface {
	ReconcileEnrollment(ctx context.Context, uid string) ([]attendance.EnrolledClassroom, error)
}

// Run consumes q until ctx ends, handling one message at a time.
func Run(ctx context.Context, svc Reconciler, q queue.Queue, logger *zap.Logger) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	logger.Info("worker started")
	for msg := range messages {
		Handle(ctx, svc, logger, msg)
	}
	logger.Info("worker stopped")
	return nil
}

// Handle processes a single message. Failures are logged and counted, never
// retried.
func Handle(ctx context.Context, svc Reconciler, logger *zap.Logger, msg queue.Message) {
	switch msg.Type {
	case queue.TypeReconcileEnrollment:
		var job queue.ReconcileJob
		if err := msg.Decode(&job); err != nil {
			logger.Warn("bad job", zap.String("type", msg.Type), zap.Error(err))
			metrics.JobsProcessed.WithLabelValues(msg.Type, "invalid").Inc()
			return
		}
		rooms, err := svc.ReconcileEnrollment(ctx, job.UserID)
		if err != nil {
			logger.Error("reconcile failed", zap.String("uid", job.UserID), zap.String("cid", job.ClassroomID), zap.Error(err))
			observability.CaptureErr(err, map[string]string{"job": msg.Type})
			metrics.JobsProcessed.WithLabelValues(msg.Type, "error").Inc()
			return
		}
		logger.Info("enrollment reconciled", zap.String("uid", job.UserID), zap.Int("classrooms", len(rooms)))
		metrics.JobsProcessed.WithLabelValues(msg.Type, "ok").Inc()
	default:
		logger.Warn("unknown job type", zap.String("type", msg.Type))
		metrics.JobsProcessed.WithLabelValues(msg.Type, "unknown").Inc()
	}
}
