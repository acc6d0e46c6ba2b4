package queue

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const pollInterval = 2 * time.Second

// PreconditionChecker re-validates a job is still worth delivering at
// fire time: the recipient may have left the dialog, already read the
// message, or disabled notifications since the job was enqueued.
type PreconditionChecker interface {
	// ShouldNotify reports whether userID should still be notified
	// about messageID's activity in dialogID.
	ShouldNotify(dialogID, userID, messageID string) bool
}

// Notifier delivers the final notification for a fired job (the
// outgoing webhook dispatch).
type Notifier interface {
	NotifyDialogActivity(dialogID, userID, messageID string)
}

// Worker pool drains due jobs from a Queue and dispatches notifications,
// re-checking preconditions immediately before firing.
type WorkerPool struct {
	queue       *Queue
	precond     PreconditionChecker
	notifier    Notifier
	logger      *zap.Logger
	concurrency int
}

func NewWorkerPool(q *Queue, precond PreconditionChecker, notifier Notifier, logger *zap.Logger, concurrency int) *WorkerPool {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &WorkerPool{queue: q, precond: precond, notifier: notifier, logger: logger, concurrency: concurrency}
}

// Run starts concurrency worker goroutines polling for due jobs, and
// blocks until ctx is cancelled.
func (wp *WorkerPool) Run(ctx context.Context) {
	jobs := make(chan Job, wp.concurrency*2)

	for i := 0; i < wp.concurrency; i++ {
		go wp.worker(ctx, jobs)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			close(jobs)
			return
		case <-ticker.C:
			claimed, err := wp.queue.ClaimDue(ctx, int64(wp.concurrency*4))
			if err != nil {
				wp.logger.Warn("claim due jobs failed", zap.Error(err))
				continue
			}
			for _, job := range claimed {
				select {
				case jobs <- job:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (wp *WorkerPool) worker(ctx context.Context, jobs <-chan Job) {
	for job := range jobs {
		if ctx.Err() != nil {
			return
		}
		// Preconditions are checked in order — membership, then read
		// state, then the user's own notification preference — and any
		// one failing means skip without dispatching a webhook.
		if !wp.precond.ShouldNotify(job.DialogID, job.UserID, job.MessageID) {
			continue
		}
		wp.notifier.NotifyDialogActivity(job.DialogID, job.UserID, job.MessageID)
	}
}
