package workers

import (
	"context"
	"log/slog"
	"os"
	"school-pickup/observability"
	"time"

	"github.com/shirou/gopsutil/process"
)

// StatsSource is what the reporter samples at every tick.
type StatsSource interface {
	GetLatest() observability.ChannelSnapshot
}

// ReporterWorker logs the channel counters and the process footprint periodically.
type ReporterWorker struct {
	log      *slog.Logger
	stats    StatsSource
	interval time.Duration
	started  time.Time
}

func NewReporterWorker(log *slog.Logger, stats StatsSource, interval time.Duration) *ReporterWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ReporterWorker{log: log, stats: stats, interval: interval, started: time.Now()}
}

func (w *ReporterWorker) Run(ctx context.Context) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.report(p)
			return nil
		case <-ticker.C:
			w.report(p)
		}
	}
}

func (w *ReporterWorker) report(p *process.Process) {
	stats := w.stats.GetLatest()
	attrs := []any{
		"uptime", time.Since(w.started).Round(time.Second).String(),
		"state", stats.State,
		"appended", stats.MessagesAppended,
		"confirmed", stats.MessagesConfirmed,
		"online", stats.OnlineCount,
		"disconnects", stats.Disconnects,
		"anomalies", stats.Anomalies,
	}
	if rss, cpu, err := selfStats(p); err == nil {
		attrs = append(attrs, "ram_mb", rss/1024/1024, "cpu_percent", cpu)
	} else {
		w.log.Debug("Failed to collect self stats", "err", err)
	}
	w.log.Info("Channel report", attrs...)
}

func selfStats(p *process.Process) (uint64, float64, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	cpu, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpu, nil
}
