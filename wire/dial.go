package wire

import (
	"context"
	"net"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// DialWait connects to the control socket at path, waiting for it to be
// created if it doesn't exist yet. It watches the socket's parent
// directory with fsnotify rather than busy-polling, so a manager
// invoked immediately after boot doesn't need to guess a sleep
// duration. It returns immediately once the socket can be dialed, or
// when ctx is done.
func DialWait(ctx context.Context, path string) (net.Conn, error) {
	if conn, err := net.Dial("unix", path); err == nil {
		return conn, nil
	}

	dir := filepath.Dir(path)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Fall back to a single direct dial attempt; fsnotify isn't
		// available (e.g. inotify instance limit), so report the
		// underlying dial error instead of masking it.
		return net.Dial("unix", path)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(dir); err != nil {
		return net.Dial("unix", path)
	}

	// The socket may have been created between the first dial attempt
	// and the watcher being armed.
	if conn, err := net.Dial("unix", path); err == nil {
		return conn, nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil, os.ErrClosed
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if conn, err := net.Dial("unix", path); err == nil {
				return conn, nil
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil, os.ErrClosed
			}
			if err != nil {
				return nil, err
			}
		}
	}
}
