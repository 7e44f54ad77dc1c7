package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// PruneSchedule is the cron schedule the pruner runs on.
const PruneSchedule = "@hourly"

// Pruner deletes readings older than the retention window on a cron
// schedule.
type Pruner struct {
	store     *Store
	retention time.Duration
	logger    *slog.Logger
	cron      *cron.Cron
}

// NewPruner creates a Pruner. Nothing runs until Start.
func NewPruner(store *Store, retention time.Duration, logger *slog.Logger) (*Pruner, error) {
	p := &Pruner{
		store:     store,
		retention: retention,
		logger:    logger,
		cron:      cron.New(cron.WithLogger(cronLogger{logger})),
	}
	if _, err := p.cron.AddFunc(PruneSchedule, p.RunOnce); err != nil {
		return nil, fmt.Errorf("schedule prune: %w", err)
	}
	return p, nil
}

// Start prunes once immediately, then on every schedule tick.
func (p *Pruner) Start() {
	p.RunOnce()
	p.cron.Start()
}

// Stop halts the schedule and waits for a running prune to finish.
func (p *Pruner) Stop() {
	<-p.cron.Stop().Done()
}

// RunOnce deletes everything older than the retention window.
func (p *Pruner) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := p.store.now().Add(-p.retention)
	n, err := p.store.Prune(ctx, cutoff)
	if err != nil {
		p.logger.Error("history prune failed", "error", err)
		return
	}
	if n > 0 {
		p.logger.Info("history pruned", "removed", n, "cutoff", cutoff.Format(time.RFC3339))
	}
}

// cronLogger routes cron's internal logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
