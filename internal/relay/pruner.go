package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/zulandar/relayhub/internal/config"
	"github.com/zulandar/relayhub/internal/opslog"
	"github.com/zulandar/relayhub/internal/store"
)

// PrunerOpts configures a Pruner.
type PrunerOpts struct {
	Store    store.Store
	MaxAge   time.Duration
	Reporter Reporter
	Log      *logrus.Logger
	Now      func() time.Time
}

// Pruner deletes delivery mappings older than MaxAge. Replies to pruned
// forwards become silent no-ops.
type Pruner struct {
	store    store.Store
	maxAge   time.Duration
	reporter Reporter
	log      *logrus.Logger
	now      func() time.Time
	cron     *cron.Cron
}

// NewPruner creates a Pruner.
func NewPruner(opts PrunerOpts) (*Pruner, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("relay: store is required")
	}
	if opts.MaxAge <= 0 {
		return nil, fmt.Errorf("relay: max age must be positive")
	}
	p := &Pruner{
		store:    opts.Store,
		maxAge:   opts.MaxAge,
		reporter: opts.Reporter,
		log:      opts.Log,
		now:      opts.Now,
	}
	if p.log == nil {
		p.log = logrus.StandardLogger()
	}
	if p.reporter == nil {
		p.reporter = opslog.NewReporter(p.log, opslog.LogSink{Log: p.log})
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// PruneOnce deletes every mapping created before now-MaxAge.
func (p *Pruner) PruneOnce(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.maxAge)
	n, err := p.store.PruneMappings(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("relay: prune mappings: %w", err)
	}
	if n > 0 {
		p.reporter.Report(ctx, opslog.Event{
			Kind:    opslog.KindMappingsPruned,
			Message: fmt.Sprintf("pruned %d mappings older than %s", n, cutoff.Format(time.RFC3339)),
		})
	}
	return n, nil
}

// Start schedules PruneOnce on expr. Runs stop when ctx is cancelled or Stop
// is called.
func (p *Pruner) Start(ctx context.Context, expr string) error {
	c := cron.New(cron.WithParser(config.ScheduleParser))
	_, err := c.AddFunc(expr, func() {
		if _, err := p.PruneOnce(ctx); err != nil {
			p.log.WithError(err).Error("relay: scheduled prune failed")
		}
	})
	if err != nil {
		return fmt.Errorf("relay: invalid schedule %q: %w", expr, err)
	}
	p.cron = c
	c.Start()
	p.log.WithField("schedule", expr).Info("relay: mapping retention scheduled")
	return nil
}

// Stop halts scheduling and waits for a running prune to finish.
func (p *Pruner) Stop() {
	if p.cron == nil {
		return
	}
	<-p.cron.Stop().Done()
}
