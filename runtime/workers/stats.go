package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"chat-core/runtime"

	"github.com/shirou/gopsutil/process"
)

// ProcessStatsWorker logs process health (RSS, CPU) together with live
// registry figures at a fixed interval. Collection failures are logged and
// the loop continues.
type ProcessStatsWorker struct {
	registry *runtime.SessionRegistry
	interval time.Duration
	log      *slog.Logger
}

func NewProcessStatsWorker(registry *runtime.SessionRegistry, interval time.Duration, log *slog.Logger) *ProcessStatsWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ProcessStatsWorker{registry: registry, interval: interval, log: log}
}

func (w *ProcessStatsWorker) Run(ctx context.Context) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			memInfo, err := p.MemoryInfo()
			if err != nil {
				w.log.Warn("Failed to collect memory stats", "error", err)
				continue
			}
			cpuPercent, err := p.CPUPercent()
			if err != nil {
				w.log.Warn("Failed to collect cpu stats", "error", err)
				continue
			}

			w.log.Info("Process stats",
				"rss_bytes", memInfo.RSS,
				"cpu_percent", cpuPercent,
				"connections", w.registry.Connections(),
				"online_users", w.registry.OnlineUsers())
		}
	}
}
