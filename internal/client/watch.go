package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/InsereNomen/AlderSync/internal/synctypes"
	"github.com/jonboulle/clockwork"
)

const DefaultWatchInterval = 5 * time.Minute

// WatchOptions controls Watch
type WatchOptions struct {
	SyncOptions
	// Interval between syncs when nothing changed locally, to pick up server changes
	Interval    time.Duration
	QuietPeriod time.Duration
	// OnReport is called after every sync that applied something
	OnReport func(*Report)
	// Clock drives the interval trigger, real time when nil
	Clock clockwork.Clock
}

// Watch syncs once, then again whenever the folder changes or Interval passes,
// until ctx is done. A busy service type is retried at the next trigger.
func (r *Runner) Watch(ctx context.Context, opts WatchOptions) error {
	if opts.DryRun || opts.Confirm != nil {
		return errors.New("watch applies without asking")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultWatchInterval
	}

	w := NewWatcher(r.folder, r.ignore)
	if opts.QuietPeriod > 0 {
		w.SetQuietPeriod(opts.QuietPeriod)
	}
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("watch %s: %w", r.folder, err)
	}
	defer w.Stop()

	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ticker := clock.NewTicker(opts.Interval)
	defer ticker.Stop()

	slog.Info("watch start", "service", r.st, "folder", r.folder, "mode", opts.Mode, "interval", opts.Interval)
	for {
		// local writes made by the sync itself are not changes
		w.Pause()
		r.syncOnce(ctx, opts)
		w.Resume()

		select {
		case <-ctx.Done():
			slog.Info("watch stop", "service", r.st)
			return nil
		case <-w.Changes():
			slog.Debug("watch trigger", "service", r.st, "reason", "local change")
		case <-ticker.Chan():
			slog.Debug("watch trigger", "service", r.st, "reason", "interval")
		}
	}
}

func (r *Runner) syncOnce(ctx context.Context, opts WatchOptions) {
	report, err := r.Sync(ctx, opts.SyncOptions)
	switch {
	case err == nil:
	case errors.Is(err, synctypes.ErrBusy):
		slog.Info("watch busy", "service", r.st, "error", err)
		return
	case ctx.Err() != nil:
		return
	default:
		slog.Error("watch sync", "service", r.st, "error", err)
		return
	}

	if opts.OnReport != nil && report.Result != nil && !report.Plan.IsEmpty() {
		opts.OnReport(report)
	}
}
