package inbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes the inbox directory and invokes a callback after file
// activity settles. Events are debounced so a multi-file drop triggers a
// single pipeline run.
type Watcher struct {
	dir      string
	debounce time.Duration
	onChange func(context.Context)
}

func NewWatcher(dir string, debounce time.Duration, onChange func(context.Context)) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{dir: dir, debounce: debounce, onChange: onChange}
}

// Run blocks until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return err
	}
	slog.Info("watching inbox", "dir", w.dir, "debounce", w.debounce)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("inbox watch error", "error", err)
		case <-fire:
			timer = nil
			fire = nil
			w.onChange(ctx)
		}
	}
}
