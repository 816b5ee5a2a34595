package schema

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Cache holds the process-wide compiled schema snapshot. Consumers receive
// the cache by explicit dependency and read coherent snapshots; refresh
// swaps the whole snapshot atomically. Invalidation is explicit, plus an
// optional timer loop and an optional definition-directory watcher.
type Cache struct {
	store      Store
	refreshGap time.Duration
	log        *zap.Logger

	mu   sync.RWMutex
	snap *Snapshot

	kick chan struct{}
}

// NewCache wraps a store. refreshGap <= 0 disables the timer in the refresh
// loop; explicit Invalidate still forces reloads.
func NewCache(store Store, refreshGap time.Duration) *Cache {
	return &Cache{
		store:      store,
		refreshGap: refreshGap,
		log:        zap.L().Named("schema.cache"),
		kick:       make(chan struct{}, 1),
	}
}

// Refresh loads and compiles a fresh snapshot, then swaps it in. On failure
// the previous snapshot stays in service.
func (c *Cache) Refresh(ctx context.Context) error {
	bundle, err := c.store.Load(ctx)
	if err != nil {
		return eris.Wrap(err, "schema: refresh load")
	}
	snap, err := BuildSnapshot(bundle)
	if err != nil {
		return eris.Wrap(err, "schema: refresh compile")
	}
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
	c.log.Info("schema snapshot refreshed",
		zap.Int("variants", snap.VariantCount()),
		zap.Int("entities", snap.EntityCount()))
	return nil
}

// Current returns the live snapshot.
func (c *Cache) Current() (*Snapshot, error) {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()
	if snap == nil {
		return nil, eris.New("schema: no snapshot loaded yet")
	}
	return snap, nil
}

// Invalidate asks the refresh loop for an immediate reload. Without a
// running loop the next explicit Refresh picks up the change instead.
func (c *Cache) Invalidate() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// RunRefreshLoop refreshes on the configured interval and on Invalidate
// kicks until the context ends. Failed refreshes keep the previous snapshot
// and log the error.
func (c *Cache) RunRefreshLoop(ctx context.Context) {
	var tick <-chan time.Time
	if c.refreshGap > 0 {
		ticker := time.NewTicker(c.refreshGap)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
		case <-c.kick:
		}
		if err := c.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("schema refresh failed, keeping previous snapshot", zap.Error(err))
		}
	}
}

// WatchDir invalidates the cache when definition files change on disk.
// Events are debounced so an editor save burst triggers one reload. Returns
// a stop function.
func (c *Cache) WatchDir(dir string, debounce time.Duration) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, eris.Wrap(err, "schema: create watcher")
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, eris.Wrapf(err, "schema: watch %s", dir)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	done := make(chan struct{})
	go func() {
		var timer *time.Timer
		var timerC <-chan time.Time
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				if !isDefinitionFile(event.Name) {
					continue
				}
				c.log.Debug("definition file changed",
					zap.String("file", filepath.Base(event.Name)),
					zap.String("op", strings.ToLower(event.Op.String())))
				if timer == nil {
					timer = time.NewTimer(debounce)
					timerC = timer.C
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(debounce)
				}
			case <-timerC:
				c.Invalidate()
				timer = nil
				timerC = nil
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.log.Warn("schema watcher error", zap.Error(err))
			case <-done:
				if timer != nil {
					timer.Stop()
				}
				return
			}
		}
	}()

	return func() error {
		close(done)
		return watcher.Close()
	}, nil
}
