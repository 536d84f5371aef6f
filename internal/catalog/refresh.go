package catalog

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
	"github.com/fsnotify/fsnotify"
)

// Refresher reloads the catalog on a cron schedule and, for local files, on
// filesystem change events.
type Refresher struct {
	catalog   *Catalog
	schedule  string
	watchPath string
	gron      *gronx.Gronx
}

func NewRefresher(catalog *Catalog, schedule, watchPath string) *Refresher {
	return &Refresher{
		catalog:   catalog,
		schedule:  schedule,
		watchPath: watchPath,
		gron:      gronx.New(),
	}
}

// Run blocks until the context is canceled, reloading whenever the schedule
// is due or the watched file changes. The initial load is the caller's
// responsibility.
func (r *Refresher) Run(ctx context.Context) error {
	var watchEvents chan fsnotify.Event
	if r.watchPath != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			slog.Warn("inventory file watch unavailable", "error", err)
		} else {
			defer watcher.Close()
			if err := watcher.Add(r.watchPath); err != nil {
				slog.Warn("inventory file watch failed", "path", r.watchPath, "error", err)
			} else {
				watchEvents = make(chan fsnotify.Event, 1)
				go forwardWrites(ctx, watcher, watchEvents)
			}
		}
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if r.schedule == "" {
				continue
			}
			due, err := r.gron.IsDue(r.schedule, now)
			if err != nil {
				slog.Error("invalid refresh schedule", "schedule", r.schedule, "error", err)
				continue
			}
			if due {
				r.reload(ctx, "schedule")
			}
		case ev := <-watchEvents:
			slog.Debug("inventory file changed", "path", ev.Name)
			r.reload(ctx, "file_change")
		}
	}
}

func (r *Refresher) reload(ctx context.Context, trigger string) {
	if err := r.catalog.Load(ctx); err != nil {
		slog.Error("inventory reload failed", "trigger", trigger, "error", err)
		return
	}
	slog.Info("inventory reloaded", "trigger", trigger, "items", r.catalog.Len())
}

// forwardWrites debounces raw fsnotify events down to write/create signals.
func forwardWrites(ctx context.Context, watcher *fsnotify.Watcher, out chan<- fsnotify.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			select {
			case out <- ev:
			default:
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("inventory watcher error", "error", err)
		}
	}
}
