package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clusterkit/clusterkit/pkg/ck"
	"github.com/clusterkit/clusterkit/pkg/extensions/core"
	"github.com/nats-io/nats.go"
)

// NamespaceCollector empties terminating namespaces and then deletes them.
type NamespaceCollector struct {
	Conn  *nats.Conn
	Store *Store
	// RetryInterval is the wait before trying again to empty a namespace
	// after a failure.
	RetryInterval time.Duration

	watcher *ck.Watcher[core.Namespace]
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	active map[string]struct{}
}

func (gc *NamespaceCollector) Start(ctx context.Context) error {
	gc.ctx, gc.cancel = context.WithCancel(ctx)
	gc.active = make(map[string]struct{})
	if gc.RetryInterval == 0 {
		gc.RetryInterval = defaultStoreOptions.gcRetryInterval
	}
	// Replaying existing namespaces picks up namespaces left terminating by
	// a previous run.
	watcher, err := ck.StartWatcher(
		gc.ctx,
		gc.Conn,
		gc.handleEvent,
		ck.WithWatcherInitial(),
	)
	if err != nil {
		gc.cancel()
		return fmt.Errorf("start namespace watcher: %w", err)
	}
	gc.watcher = watcher
	return nil
}

// Stop stops watching namespaces and waits for running collections to
// return.
func (gc *NamespaceCollector) Stop() {
	if gc.watcher != nil {
		gc.watcher.Close()
	}
	if gc.cancel != nil {
		gc.cancel()
	}
	gc.wg.Wait()
}

func (gc *NamespaceCollector) handleEvent(event ck.WatchEvent[core.Namespace]) {
	switch event.Action {
	case ck.ActionError:
		slog.Error("namespace collector watch failed", "error", event.Err)
		return
	case ck.ActionDeleted:
		return
	}
	if !event.Object.IsTerminating() {
		return
	}
	name := event.Object.Name
	gc.mu.Lock()
	if _, ok := gc.active[name]; ok {
		gc.mu.Unlock()
		return
	}
	gc.active[name] = struct{}{}
	gc.mu.Unlock()

	gc.wg.Add(1)
	go func() {
		defer gc.wg.Done()
		defer func() {
			gc.mu.Lock()
			delete(gc.active, name)
			gc.mu.Unlock()
		}()
		gc.collectUntilDone(gc.ctx, name)
	}()
}

func (gc *NamespaceCollector) collectUntilDone(ctx context.Context, name string) {
	for {
		err := gc.collect(ctx, name)
		if err == nil {
			return
		}
		slog.Error(
			"collecting namespace",
			"namespace", name,
			"error", err,
			"retry_after", gc.RetryInterval,
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(gc.RetryInterval):
		}
	}
}

// collect deletes every object in the namespace, then the namespace.
func (gc *NamespaceCollector) collect(ctx context.Context, name string) error {
	entries, err := gc.Store.entries(
		ctx,
		ck.KeyFromObject(ck.ObjectKey{Namespace: name}),
	)
	if err != nil {
		return fmt.Errorf("listing objects: %w", err)
	}
	var errs error
	for _, entry := range entries {
		key, err := ck.ObjectKeyFromString(entry.Key())
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if _, err := gc.Store.delete(ctx, key); err != nil && !ck.IsNotFound(err) {
			errs = errors.Join(errs, fmt.Errorf("deleting %s: %w", entry.Key(), err))
		}
	}
	if errs != nil {
		return errs
	}
	if _, err := gc.Store.delete(ctx, core.NamespaceKey(name)); err != nil &&
		!ck.IsNotFound(err) {
		return fmt.Errorf("deleting namespace: %w", err)
	}
	slog.Info("namespace deleted", "namespace", name, "objects", len(entries))
	return nil
}
