package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// StartRefresher runs availability probes on a cron schedule until the
// context is cancelled. Returns a cancel function (matches the gateway's
// background-worker pattern). The initial probe pass is synchronous so the
// catalog is populated before the first request arrives.
func (r *Registry) StartRefresher(ctx context.Context, spec string) (func(), error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parsing refresh schedule %q: %w", spec, err)
	}

	r.RefreshAll(ctx)

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		r.logger.Info("availability refresher started", slog.String("schedule", spec))
		for {
			next := schedule.Next(time.Now())
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				r.logger.Info("availability refresher stopped")
				return
			case <-timer.C:
				r.RefreshAll(ctx)
			}
		}
	}()

	return cancel, nil
}
