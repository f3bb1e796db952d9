package worker

import (
	"context"
	"log/slog"
	"time"
)

// run is the processing loop. It takes one job at a time off the queue and
// sleeps on an empty queue until an enqueue, the idle interval or shutdown.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	w.logger.Info("Worker loop started")

	idle := time.NewTimer(w.idleInterval)
	defer idle.Stop()

	for {
		if ctx.Err() != nil {
			w.logger.Info("Worker loop stopping - context canceled")
			return
		}

		if job, ok := w.queue.Dequeue(); ok {
			w.processJob(ctx, job)
			continue
		}

		idle.Reset(w.idleInterval)
		select {
		case <-ctx.Done():
			w.logger.Info("Worker loop stopping - context canceled")
			return
		case <-w.queue.Ready():
		case <-idle.C:
			w.logger.Debug("Worker idle", slog.Int("completed", w.ledger.Len()))
		}
	}
}
