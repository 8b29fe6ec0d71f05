package workers

import (
	"context"
	"log/slog"
	"time"

	"chat-core/notify"
)

// BacklogSweepWorker periodically purges notification backlog entries older
// than the configured TTL, independent of any connection event. Sweep
// problems are logged and swallowed, never fatal.
type BacklogSweepWorker struct {
	dispatcher *notify.Dispatcher
	interval   time.Duration
	log        *slog.Logger
}

func NewBacklogSweepWorker(dispatcher *notify.Dispatcher, interval time.Duration, log *slog.Logger) *BacklogSweepWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &BacklogSweepWorker{dispatcher: dispatcher, interval: interval, log: log}
}

func (w *BacklogSweepWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			purged := w.dispatcher.Sweep(time.Now().UTC())
			if purged > 0 {
				w.log.Info("Backlog sweep purged expired envelopes", "count", purged)
			}
		}
	}
}
