package server

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/lazypower/membank/internal/engine"
	"github.com/lazypower/membank/internal/store"
)

// cache holds the local store's nodes and links until the store changes.
type cache struct {
	store *store.Store

	mu    sync.Mutex
	graph *engine.Graph
	loads int
}

func newCache(st *store.Store) *cache {
	return &cache{store: st}
}

// Graph implements engine.Source.
func (c *cache) Graph([]string) (*engine.Graph, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.graph != nil {
		return c.graph, nil
	}
	g, err := engine.LocalSource{Store: c.store}.Graph(nil)
	if err != nil {
		return nil, err
	}
	c.graph = g
	c.loads++
	return g, nil
}

func (c *cache) invalidate() {
	c.mu.Lock()
	c.graph = nil
	c.mu.Unlock()
}

const debounce = 100 * time.Millisecond

// Watch invalidates the cache whenever files under the store root or its
// nodes directory change. It blocks until ctx is done.
func (s *Server) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	root := s.store.Root()
	for _, dir := range []string{root, filepath.Join(root, "nodes")} {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			s.logger.Debug("store changed", zap.String("file", ev.Name), zap.String("op", ev.Op.String()))
			timer.Reset(debounce)
		case <-timer.C:
			s.cache.invalidate()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watcher error", zap.Error(err))
		}
	}
}
