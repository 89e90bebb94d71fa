// Package cktest contains helpers for tests that run against a cluster.
package cktest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/clusterkit/clusterkit/pkg/ck"
)

// WatchWaitUntil watches the collection until isDone returns true for an
// event, failing the test after timeout.
func WatchWaitUntil[T ck.Objecter](
	t *testing.T,
	ctx context.Context,
	oc ck.ObjectClient[T],
	timeout time.Duration,
	isDone func(ck.WatchEvent[T]) bool,
	opts ...ck.WatcherOption,
) {
	t.Helper()
	timeoutCh := time.After(timeout)
	done := make(chan struct{})
	var once sync.Once
	watcher, err := oc.Watch(ctx, func(event ck.WatchEvent[T]) {
		if isDone(event) {
			once.Do(func() { close(done) })
		}
	}, opts...)
	if err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	defer watcher.Close()

	select {
	case <-timeoutCh:
		t.Errorf("timeout after %s", timeout)
	case <-done:
	}
}

// Recorder collects watch events for later assertions.
type Recorder[T ck.Objecter] struct {
	mu     sync.Mutex
	events []ck.WatchEvent[T]
	notify chan struct{}
}

func NewRecorder[T ck.Objecter]() *Recorder[T] {
	return &Recorder[T]{notify: make(chan struct{}, 1)}
}

// Record is a watch callback.
func (r *Recorder[T]) Record(event ck.WatchEvent[T]) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Events returns a copy of the events recorded so far.
func (r *Recorder[T]) Events() []ck.WatchEvent[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ck.WatchEvent[T]{}, r.events...)
}

// WaitFor waits until n events have been recorded and returns them.
// It fails the test if that takes longer than timeout.
func (r *Recorder[T]) WaitFor(t *testing.T, n int, timeout time.Duration) []ck.WatchEvent[T] {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if events := r.Events(); len(events) >= n {
			return events
		}
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timeout waiting for %d events, got %d", n, len(r.Events()))
		}
	}
}

// Actions returns the actions of the events.
func Actions[T ck.Objecter](events []ck.WatchEvent[T]) []ck.Action {
	actions := make([]ck.Action, 0, len(events))
	for _, e := range events {
		actions = append(actions, e.Action)
	}
	return actions
}
