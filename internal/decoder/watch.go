package decoder

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/zsiec/scrub/internal/engine/synth"
)

// SourceWatcher reloads a decoder when its source file changes on disk:
// the foreground engine is reopened, prefetch is rebuilt against the new
// stream and cached frames are dropped. When the file goes away only the
// cache is cleared and prefetch stopped.
type SourceWatcher struct {
	d       *Decoder
	path    string
	watcher *fsnotify.Watcher
	changes chan fsnotify.Op
}

// NewSourceWatcher starts watching the directory holding d's source. The
// directory is watched rather than the file so that replace-by-rename is
// seen too.
func NewSourceWatcher(d *Decoder) (*SourceWatcher, error) {
	if strings.HasPrefix(d.Path(), synth.Scheme) {
		return nil, fmt.Errorf("decoder: %s is not a file", d.Path())
	}
	abs, err := filepath.Abs(d.Path())
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	return &SourceWatcher{
		d:       d,
		path:    abs,
		watcher: fw,
		changes: make(chan fsnotify.Op, 16),
	}, nil
}

// Changes reports the operations that triggered a reload or invalidation,
// after it has been applied. Sends are
// dropped when nobody reads.
func (w *SourceWatcher) Changes() <-chan fsnotify.Op { return w.changes }

// Run handles events until ctx is done, then closes the watcher.
func (w *SourceWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	log := w.d.log.With("watch", w.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
				!ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				if err := w.d.Reload(); err != nil {
					log.Warn("source changed, reload failed", "op", ev.Op.String(), "error", err)
				} else {
					log.Info("source changed, reloaded", "op", ev.Op.String())
				}
			} else {
				w.d.StopPrefetch()
				w.d.ClearCache()
				log.Info("source removed, cache cleared", "op", ev.Op.String())
			}
			select {
			case w.changes <- ev.Op:
			default:
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("watcher error", "error", err)
		}
	}
}

// WatchSource watches d's source until ctx is done.
func WatchSource(ctx context.Context, d *Decoder) error {
	w, err := NewSourceWatcher(d)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}
