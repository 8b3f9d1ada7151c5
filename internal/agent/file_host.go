package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Spool file names.
const (
	// WorkMarker is (re)written by RequestDrain for the host scheduler to
	// pick up.
	WorkMarker = "work.pending"
	// Files with these suffixes are requests from the host; each is
	// consumed once.
	drainSuffix = ".drain"
	syncSuffix  = ".sync"
)

// FileHost talks to the background agent through a spool directory.
type FileHost struct {
	dir     string
	watcher *fsnotify.Watcher
	msgs    chan Message
	logger  *zap.Logger
	now     func() time.Time

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewFileHost creates dir if needed and starts watching it. Request files
// already present are delivered first.
func NewFileHost(dir string, logger *zap.Logger) (*FileHost, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("file host: empty spool dir")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file host: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("file host: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("file host: watch %s: %w", dir, err)
	}

	h := &FileHost{
		dir:     dir,
		watcher: w,
		msgs:    make(chan Message, 16),
		logger:  logger,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	h.wg.Add(1)
	go h.loop()
	return h, nil
}

// RequestDrain atomically rewrites the work marker with the current time.
func (h *FileHost) RequestDrain(context.Context) error {
	path := filepath.Join(h.dir, WorkMarker)
	tmp := path + ".tmp"
	stamp := h.now().UTC().Format(time.RFC3339Nano) + "\n"
	if err := os.WriteFile(tmp, []byte(stamp), 0o644); err != nil {
		return fmt.Errorf("write work marker: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write work marker: %w", err)
	}
	return nil
}

// Messages implements Host.
func (h *FileHost) Messages() <-chan Message { return h.msgs }

// Close stops the watcher and closes Messages.
func (h *FileHost) Close() error {
	var err error
	h.closeOnce.Do(func() {
		close(h.done)
		err = h.watcher.Close()
		h.wg.Wait()
		close(h.msgs)
	})
	return err
}

func (h *FileHost) loop() {
	defer h.wg.Done()

	h.scan()
	for {
		select {
		case <-h.done:
			return
		case ev, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				h.consume(ev.Name)
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Warn("spool watcher error", zap.Error(err))
		}
	}
}

func (h *FileHost) scan() {
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		h.logger.Warn("spool scan failed", zap.Error(err))
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			h.consume(filepath.Join(h.dir, e.Name()))
		}
	}
}

// consume removes a request file and emits its message. A file that is
// already gone was consumed by an earlier event.
func (h *FileHost) consume(path string) {
	name := filepath.Base(path)
	var kind Kind
	switch {
	case strings.HasSuffix(name, drainSuffix):
		kind = KindDrain
	case strings.HasSuffix(name, syncSuffix):
		kind = KindSync
	default:
		return
	}
	if err := os.Remove(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			h.logger.Warn("consume spool file failed", zap.String("path", path), zap.Error(err))
		}
		return
	}

	msg := Message{Kind: kind, Source: "file", At: h.now().UTC()}
	select {
	case h.msgs <- msg:
	case <-h.done:
	default:
		// a drain is already pending delivery
		h.logger.Debug("agent message coalesced", zap.String("path", path))
	}
}
