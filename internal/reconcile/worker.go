package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"servicehours/internal/queue"
)

// Worker drains reconcile jobs and sweeps every student on a timer.
type Worker struct {
	svc      *Service
	q        queue.Queue
	interval time.Duration
	repair   bool
	logger   *zap.Logger
}

// NewWorker returns a worker. A zero interval disables the periodic sweep.
func NewWorker(svc *Service, q queue.Queue, interval time.Duration, logger *zap.Logger) *Worker {
	return &Worker{svc: svc, q: q, interval: interval, repair: svc.autoRepair, logger: logger.Named("reconcile")}
}

// Run blocks until ctx ends or the queue closes.
func (w *Worker) Run(ctx context.Context) error {
	messages, err := w.q.Consume(ctx)
	if err != nil {
		return err
	}

	var tick <-chan time.Time
	if w.interval > 0 {
		t := time.NewTicker(w.interval)
		defer t.Stop()
		tick = t.C
	}

	w.logger.Info("worker started", zap.Duration("sweep_interval", w.interval), zap.Bool("auto_repair", w.repair))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			if _, err := w.svc.Sweep(ctx, w.repair); err != nil {
				w.logger.Error("sweep failed", zap.Error(err))
			}
		case msg, ok := <-messages:
			if !ok {
				return ctx.Err()
			}
			w.handle(ctx, msg)
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg queue.Message) {
	job, err := queue.DecodeReconcile(msg)
	if err != nil {
		w.logger.Warn("dropping message", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	rep, err := w.svc.HandleJob(ctx, job)
	switch {
	case err != nil:
		w.logger.Warn("reconcile job found a problem",
			zap.String("student_id", job.StudentID),
			zap.String("reason", job.Reason),
			zap.Error(err),
		)
	case rep.Repaired:
		w.logger.Info("student total repaired",
			zap.String("student_id", job.StudentID),
			zap.Float64("recorded", rep.Recorded),
			zap.Float64("computed", rep.Computed),
		)
	default:
		w.logger.Debug("student consistent", zap.String("student_id", job.StudentID), zap.String("reason", job.Reason))
	}
}
