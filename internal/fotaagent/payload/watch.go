package payload

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/autopeer-io/fota/pkg/log"
)

// Watch calls fn each time a recognized payload appears or changes in dir,
// once the directory has been quiet for settle. fn runs on the watching
// goroutine, so events arriving during a session are coalesced into one
// follow-up call. Watch returns when ctx is done or fn fails.
func Watch(ctx context.Context, dir string, settle time.Duration, fn func(ctx context.Context) error) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	log.Info("Watching staging directory for payloads", "dir", dir, "settle", settle)

	timer := time.NewTimer(settle)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Error(err, "Staging directory watcher error", "dir", dir)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !IsPayloadName(filepath.Base(ev.Name)) {
				continue
			}
			log.Debug("Payload event", "file", ev.Name, "op", ev.Op.String())
			timer.Reset(settle)
		case <-timer.C:
			if err := fn(ctx); err != nil {
				return err
			}
		}
	}
}
