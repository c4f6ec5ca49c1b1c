package triggers

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FileTrigger watches a directory and dispatches "file.*" events for
// create/write/remove/rename/chmod operations.
type FileTrigger struct {
	logger  *zap.Logger
	runner  *Runner
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileTrigger creates a new file trigger bound to runner.
func NewFileTrigger(logger *zap.Logger, runner *Runner) *FileTrigger {
	return &FileTrigger{logger: logger, runner: runner, done: make(chan struct{})}
}

// Start begins watching watchDir for file system events.
func (f *FileTrigger) Start(watchDir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	f.watcher = watcher

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				f.logger.Debug("file system event", zap.String("file", event.Name), zap.String("op", event.Op.String()))
				f.handle(event)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				f.logger.Error("file watcher error", zap.Error(err))
			case <-f.done:
				return
			}
		}
	}()

	if err := watcher.Add(watchDir); err != nil {
		return err
	}

	f.logger.Info("file trigger started", zap.String("watch_dir", watchDir))
	return nil
}

// Stop stops the file trigger.
func (f *FileTrigger) Stop() {
	close(f.done)
	if f.watcher != nil {
		f.watcher.Close()
	}
}

func (f *FileTrigger) handle(event fsnotify.Event) {
	var eventType string
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		eventType = "file.created"
	case event.Op&fsnotify.Write == fsnotify.Write:
		eventType = "file.modified"
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		eventType = "file.deleted"
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		eventType = "file.renamed"
	case event.Op&fsnotify.Chmod == fsnotify.Chmod:
		eventType = "file.chmod"
	default:
		return
	}

	inputs := map[string]interface{}{
		"file_path": event.Name,
		"file_name": filepath.Base(event.Name),
		"file_dir":  filepath.Dir(event.Name),
		"file_ext":  filepath.Ext(event.Name),
		"operation": event.Op.String(),
	}

	f.logger.Info("dispatching file event", zap.String("event", eventType), zap.String("file", event.Name))
	f.runner.Dispatch(context.Background(), eventType, inputs)
}
