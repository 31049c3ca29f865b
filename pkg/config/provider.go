package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileProvider watches a manifest file and publishes parsed snapshots to
// subscribers. The watch covers the file's directory, so atomic
// rename-into-place updates are observed too.
type FileProvider struct {
	path    string
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc

	mu          sync.RWMutex
	current     *Manifest
	subscribers []chan *Manifest
}

// NewFileProvider creates a provider watching the given manifest file. The
// initial load must succeed; after that, a broken edit keeps the last good
// snapshot and logs the parse failure.
func NewFileProvider(path string, logger *slog.Logger) (*FileProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving manifest path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &FileProvider{
		path:    absPath,
		logger:  logger,
		watcher: watcher,
		cancel:  cancel,
	}

	if err := p.load(); err != nil {
		cancel()
		_ = watcher.Close()
		return nil, err
	}

	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		cancel()
		_ = watcher.Close()
		return nil, fmt.Errorf("watching manifest directory: %w", err)
	}

	go p.watchLoop(ctx)
	return p, nil
}

// Current returns the last successfully loaded manifest.
func (p *FileProvider) Current() *Manifest {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Subscribe returns a channel receiving manifest updates. The current
// snapshot is delivered immediately. Slow consumers miss intermediate
// snapshots, never the watch itself.
func (p *FileProvider) Subscribe() <-chan *Manifest {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan *Manifest, 1)
	p.subscribers = append(p.subscribers, ch)
	ch <- p.current
	return ch
}

// Close stops the watcher.
func (p *FileProvider) Close() error {
	p.cancel()
	return p.watcher.Close()
}

func (p *FileProvider) watchLoop(ctx context.Context) {
	var debounce *time.Timer
	const debounceDelay = 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Chmod) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDelay, func() {
					if err := p.load(); err != nil {
						p.logger.Error("manifest reload failed, keeping previous snapshot",
							"path", p.path,
							"error", err,
						)
						return
					}
					p.logger.Info("manifest reloaded", "path", p.path)
				})
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("manifest watcher error", "error", err)
		}
	}
}

func (p *FileProvider) load() error {
	m, err := Load(p.path)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.current = m
	subscribers := make([]chan *Manifest, len(p.subscribers))
	copy(subscribers, p.subscribers)
	p.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- m:
		default:
			// Drop for slow consumers; the next update supersedes this one.
		}
	}
	return nil
}
