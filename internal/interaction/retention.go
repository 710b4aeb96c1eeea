package interaction

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Retention periodically prunes events older than a maximum age.
type Retention struct {
	log      *Log
	cron     *cron.Cron
	schedule string
	maxAge   time.Duration
	logger   *zap.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRetention prepares a retention job for l. schedule uses standard cron
// syntax or descriptors such as "@hourly" and "@every 10m".
func NewRetention(l *Log, schedule string, maxAge time.Duration, logger *zap.Logger) *Retention {
	ctx, cancel := context.WithCancel(context.Background())
	return &Retention{
		log:      l,
		cron:     cron.New(cron.WithLocation(time.UTC)),
		schedule: schedule,
		maxAge:   maxAge,
		logger:   logger.Named("retention"),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start registers the sweep and starts the scheduler.
func (r *Retention) Start() error {
	if _, err := r.cron.AddFunc(r.schedule, func() {
		if _, err := r.Sweep(r.ctx); err != nil {
			r.logger.Error("Retention sweep failed.", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", r.schedule, err)
	}
	r.cron.Start()
	r.logger.Info("Retention scheduler started.", zap.String("schedule", r.schedule), zap.Duration("max_age", r.maxAge))
	return nil
}

// Sweep prunes every event older than now minus the maximum age.
func (r *Retention) Sweep(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.maxAge).UnixMilli()
	res, err := r.log.Prune(ctx, pruneBefore(cutoff))
	if err != nil {
		return 0, err
	}
	if res.Removed > 0 {
		r.logger.Info("Retention sweep removed interactions.", zap.Int("removed", res.Removed), zap.Int64("cutoff_ms", cutoff))
	}
	return res.Removed, nil
}

// Stop waits for a running sweep to finish and stops the scheduler.
func (r *Retention) Stop() {
	<-r.cron.Stop().Done()
	r.cancel()
	r.logger.Info("Retention scheduler stopped.")
}
