package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shelfmetrics/rank-cli/internal/config"
)

// Checker evaluates scan health on a fixed cadence and pushes breaches to
// the alerter. Serve mode runs one next to the HTTP listener.
type Checker struct {
	metrics *Collector
	alerter *Alerter
	cfg     config.MonitoringConfig
	log     *zap.Logger
}

func NewChecker(metrics *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		metrics: metrics,
		alerter: alerter,
		cfg:     cfg,
		log:     zap.L().With(zap.String("component", "scan_health")),
	}
}

func (c *Checker) interval() time.Duration {
	if c.cfg.CheckIntervalSecs > 0 {
		return time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	}
	return 5 * time.Minute
}

// Run checks once at startup and then on every tick. It blocks until ctx is
// cancelled.
func (c *Checker) Run(ctx context.Context) {
	c.log.Info("starting scan health checker",
		zap.Duration("interval", c.interval()),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(c.interval())
	defer ticker.Stop()

	c.check(ctx)
	for {
		select {
		case <-ctx.Done():
			c.log.Info("scan health checker stopped")
			return
		case <-ticker.C:
			c.check(ctx)
		}
	}
}

func (c *Checker) check(ctx context.Context) {
	snap, err := c.metrics.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		c.log.Error("monitoring: collect scan metrics", zap.Error(err))
		return
	}

	breaches := c.alerter.Evaluate(snap)
	if len(breaches) == 0 {
		c.log.Debug("monitoring: no alerts triggered",
			zap.Float64("fail_rate", snap.FailRate),
			zap.Float64("block_rate", snap.BlockRate),
		)
		return
	}

	sent := c.alerter.SendAlerts(ctx, breaches)
	c.log.Info("monitoring: health check complete",
		zap.Int("breached", len(breaches)),
		zap.Int("delivered", sent),
	)
}
