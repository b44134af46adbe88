package tokenstore

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

// ErrWatchUnsupported is returned when the store is not backed by the OS
// filesystem; fsnotify cannot observe an in-memory afero filesystem.
var ErrWatchUnsupported = errors.New("token watching requires an OS-backed store")

// WatchToken invokes onChange with the new token value whenever the access
// token file is written by another process (e.g. the login flow refreshing an
// expired token). The watch runs until ctx is canceled.
func (s *Store) WatchToken(ctx context.Context, onChange func(token string)) error {
	if _, ok := s.fs.(*afero.OsFs); !ok {
		return ErrWatchUnsupported
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory rather than the file: editors and atomic writers
	// replace the file, which would otherwise drop the watch.
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return err
	}

	tokenPath := s.path(KeyAccessToken)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(tokenPath) {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					onChange(s.AccessToken())
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("token watcher error", "error", err)
			}
		}
	}()

	return nil
}
