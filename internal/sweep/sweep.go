package sweep

import (
	"context"
	"log/slog"
	"time"
)

// Marker flags overdue escalations and returns how many rows changed.
type Marker interface {
	MarkOverdue(ctx context.Context) (int, error)
}

// Runner calls the overdue sweep on a fixed period. Overlapping runs (two
// processes, or a manual sweep) are safe because the sweep only sets flags.
type Runner struct {
	Marker   Marker
	Interval time.Duration
	Logger   *slog.Logger
}

func (r Runner) log() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Once runs a single sweep.
func (r Runner) Once(ctx context.Context) (int, error) {
	n, err := r.Marker.MarkOverdue(ctx)
	if err != nil {
		r.log().ErrorContext(ctx, "overdue sweep failed", "err", err)
		return 0, err
	}
	r.log().DebugContext(ctx, "overdue sweep done", "flagged", n)
	return n, nil
}

// Run sweeps immediately and then on every tick until ctx is done.
func (r Runner) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	r.log().InfoContext(ctx, "overdue sweep started", "interval", interval.String())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		_, _ = r.Once(ctx)
		select {
		case <-ctx.Done():
			r.log().InfoContext(ctx, "overdue sweep stopped")
			return
		case <-ticker.C:
		}
	}
}
