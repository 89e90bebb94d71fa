package ck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/tidwall/sjson"
	"k8s.io/apimachinery/pkg/watch"
)

// Action is the kind of change a [WatchEvent] reports.
type Action = watch.EventType

const (
	ActionAdded    Action = watch.Added
	ActionModified Action = watch.Modified
	ActionDeleted  Action = watch.Deleted
	ActionError    Action = watch.Error
)

type WatchEvent[T Objecter] struct {
	Action Action
	// Object is the state of the object after the change.
	// For deletions it is the last state, for errors it is the zero value.
	Object T
	// Err is set for ActionError events.
	Err error
}

type WatchState int

const (
	WatchOpen WatchState = iota
	WatchClosed
	WatchError
)

func (s WatchState) String() string {
	switch s {
	case WatchOpen:
		return "OPEN"
	case WatchClosed:
		return "CLOSED"
	case WatchError:
		return "ERROR"
	}
	return fmt.Sprintf("WatchState(%d)", int(s))
}

var ErrWatchConnectionClosed = &Error{
	Status:  http.StatusBadGateway,
	Reason:  ReasonTransport,
	Message: "watch: connection closed",
}

type WatcherOption func(*watcherOptions)

// WithWatcherFor sets the key to watch. Empty fields are wildcards.
func WithWatcherFor(key ObjectKeyer) WatcherOption {
	return func(o *watcherOptions) {
		o.forObject = key
	}
}

func WithWatcherSelector(selector Selector) WatcherOption {
	return func(o *watcherOptions) {
		o.selector = selector
	}
}

// WithWatcherInitial delivers the objects that exist when the watch starts
// as ADDED events before any change.
func WithWatcherInitial() WatcherOption {
	return func(o *watcherOptions) {
		o.initial = true
	}
}

type watcherOptions struct {
	forObject ObjectKeyer
	selector  Selector
	initial   bool
}

// Watcher delivers change events for a set of objects to a callback running
// on its own goroutine.
type Watcher[T Objecter] struct {
	Conn *nats.Conn

	fn       func(WatchEvent[T])
	selector Selector
	kw       jetstream.KeyWatcher
	status   chan nats.Status

	// initializing is true while replaying existing objects.
	initializing bool

	mu    sync.Mutex
	state WatchState
	err   error

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// StartWatcher starts watching objects of kind T.
// The watch ends when Close is called, ctx is done or the connection closes.
func StartWatcher[T Objecter](
	ctx context.Context,
	conn *nats.Conn,
	fn func(WatchEvent[T]),
	opts ...WatcherOption,
) (*Watcher[T], error) {
	if fn == nil {
		return nil, fmt.Errorf("fn (callback) is required")
	}
	var t T
	opt := watcherOptions{
		forObject: ObjectKey{
			Group:   t.ObjectGroup(),
			Version: t.ObjectVersion(),
			Kind:    t.ObjectKind(),
		},
	}
	for _, o := range opts {
		o(&opt)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("new jetstream: %w", err)
	}
	kv, err := js.KeyValue(ctx, BucketObjects)
	if err != nil {
		return nil, ErrorWrap(
			ErrorFromNATSErr(err),
			http.StatusBadGateway,
			fmt.Sprintf("connecting to objects kv bucket %q", BucketObjects),
		)
	}
	wOpts := []jetstream.WatchOpt{}
	if !opt.initial {
		wOpts = append(wOpts, jetstream.UpdatesOnly())
	}
	// Register for status changes before the watch exists so that a close
	// in between is not missed.
	status := conn.StatusChanged(nats.CLOSED)
	kw, err := kv.Watch(ctx, KeyFromObject(opt.forObject), wOpts...)
	if err != nil {
		conn.RemoveStatusListener(status)
		return nil, ErrorWrap(
			ErrorFromNATSErr(err),
			http.StatusBadGateway,
			"starting kv watch",
		)
	}
	w := &Watcher[T]{
		Conn:         conn,
		fn:           fn,
		selector:     opt.selector,
		kw:           kw,
		status:       status,
		initializing: opt.initial,
		state:        WatchOpen,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	go w.run(ctx)
	return w, nil
}

// Watch starts a watch on the collection, honouring its namespace and
// selector.
func (oc ObjectClient[T]) Watch(
	ctx context.Context,
	fn func(WatchEvent[T]),
	opts ...WatcherOption,
) (*Watcher[T], error) {
	if oc.err != nil {
		return nil, oc.err
	}
	opts = append([]WatcherOption{
		WithWatcherFor(oc.key(oc.namespaceForList(), "")),
		WithWatcherSelector(oc.selector),
	}, opts...)
	return StartWatcher(ctx, oc.Client.Conn, fn, opts...)
}

// Close stops the watch. No event starts delivery after Close returns, but a
// delivery already in progress may still complete.
func (w *Watcher[T]) Close() {
	w.mu.Lock()
	if w.state == WatchOpen {
		w.state = WatchClosed
	}
	w.mu.Unlock()
	w.stopOnce.Do(func() {
		close(w.stop)
		if err := w.kw.Stop(); err != nil {
			slog.Debug("stopping kv watcher", "error", err)
		}
	})
}

// Done is closed once the watch goroutine has exited.
func (w *Watcher[T]) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher[T]) State() WatchState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Err returns the error that moved the watch to the ERROR state.
func (w *Watcher[T]) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Watcher[T]) run(ctx context.Context) {
	defer close(w.done)
	defer w.Conn.RemoveStatusListener(w.status)
	for {
		select {
		case <-ctx.Done():
			w.Close()
			return
		case <-w.stop:
			return
		case <-w.status:
			w.fail(ErrWatchConnectionClosed)
			return
		case entry, ok := <-w.kw.Updates():
			if !ok {
				if w.State() == WatchOpen {
					w.fail(ErrWatchConnectionClosed)
				}
				return
			}
			// A nil entry marks the end of the initial values.
			if entry == nil {
				w.initializing = false
				continue
			}
			event, ok := w.eventFromEntry(entry)
			if !ok {
				continue
			}
			w.deliver(event)
		}
	}
}

func (w *Watcher[T]) eventFromEntry(
	entry jetstream.KeyValueEntry,
) (WatchEvent[T], bool) {
	// The preceding tombstone write already produced the DELETED event.
	if entry.Operation() != jetstream.KeyValuePut {
		return WatchEvent[T]{}, false
	}
	data, err := sjson.SetBytes(entry.Value(), "metadata.revision", entry.Revision())
	if err != nil {
		slog.Error("setting revision", "key", entry.Key(), "error", err)
		return WatchEvent[T]{}, false
	}
	var object T
	if err := json.Unmarshal(data, &object); err != nil {
		slog.Error(
			"unmarshalling object",
			"key", entry.Key(),
			"error", err,
			"data", string(entry.Value()),
		)
		return WatchEvent[T]{}, false
	}
	if !w.selector.Matches(object) {
		return WatchEvent[T]{}, false
	}
	event := WatchEvent[T]{Object: object}
	switch {
	case object.ObjectDeletionTimestamp() != nil:
		if w.initializing {
			return WatchEvent[T]{}, false
		}
		event.Action = ActionDeleted
	case w.initializing || object.ObjectGeneration() <= 1:
		event.Action = ActionAdded
	default:
		event.Action = ActionModified
	}
	return event, true
}

func (w *Watcher[T]) deliver(event WatchEvent[T]) {
	if w.State() != WatchOpen {
		return
	}
	w.fn(event)
}

func (w *Watcher[T]) fail(err error) {
	w.mu.Lock()
	if w.state != WatchOpen {
		w.mu.Unlock()
		return
	}
	w.state = WatchError
	w.err = err
	w.mu.Unlock()
	slog.Error("watch failed", "error", err)
	w.fn(WatchEvent[T]{Action: ActionError, Err: err})
	w.stopOnce.Do(func() {
		close(w.stop)
		if err := w.kw.Stop(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			slog.Debug("stopping kv watcher", "error", err)
		}
	})
}
