package serving

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ArtifactWatcher reports changes to the model files on disk. The service
// never reloads; a restart picks up a new model.
type ArtifactWatcher struct {
	watcher  *fsnotify.Watcher
	paths    map[string]struct{}
	onChange func(path string, op fsnotify.Op)
	logger   *zap.Logger
}

// NewArtifactWatcher watches the directories holding paths. onChange may be nil.
func NewArtifactWatcher(logger *zap.Logger, onChange func(string, fsnotify.Op), paths ...string) (*ArtifactWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &ArtifactWatcher{
		watcher:  watcher,
		paths:    make(map[string]struct{}, len(paths)),
		onChange: onChange,
		logger:   logger.Named("watcher"),
	}
	dirs := make(map[string]struct{})
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			watcher.Close()
			return nil, err
		}
		w.paths[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	return w, nil
}

// Run blocks until ctx is done or the watcher is closed.
func (w *ArtifactWatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Artifact watcher error", zap.Error(err))
		}
	}
}

func (w *ArtifactWatcher) handle(event fsnotify.Event) {
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}
	if _, ok := w.paths[abs]; !ok {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	w.logger.Warn("Model artifact changed on disk; restart the service to serve it",
		zap.String("path", abs),
		zap.String("op", event.Op.String()),
	)
	if w.onChange != nil {
		w.onChange(abs, event.Op)
	}
}

func (w *ArtifactWatcher) Close() error {
	return w.watcher.Close()
}
