package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/clusterkit/clusterkit/pkg/ck"
	"github.com/clusterkit/clusterkit/pkg/extensions/core"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/tidwall/sjson"
)

const (
	// Format: CK.store.<command>.<group>.<version>.<kind>.<namespace>.<name>

	subjectStore          = "CK.store.*.*.*.*.*.*"
	subjectIndexCommand   = 2
	subjectIndexGroup     = 3
	subjectIndexVersion   = 4
	subjectIndexKind      = 5
	subjectIndexNamespace = 6
	subjectIndexName      = 7
	subjectLength         = 8

	queueGroup = "store"
)

type StoreCommand string

const (
	StoreCommandCreate StoreCommand = "create"
	StoreCommandGet    StoreCommand = "get"
	StoreCommandList   StoreCommand = "list"
	StoreCommandUpdate StoreCommand = "update"
	StoreCommandDelete StoreCommand = "delete"
)

func (c StoreCommand) String() string {
	return string(c)
}

type StoreOption func(*storeOptions)

func WithMutexTTL(ttl time.Duration) StoreOption {
	return func(o *storeOptions) {
		o.mutexTTL = ttl
	}
}

func WithStopTimeout(timeout time.Duration) StoreOption {
	return func(o *storeOptions) {
		o.stopTimeout = timeout
	}
}

// WithGCRetryInterval sets how long the namespace collector waits before
// retrying a namespace it failed to empty.
func WithGCRetryInterval(interval time.Duration) StoreOption {
	return func(o *storeOptions) {
		o.gcRetryInterval = interval
	}
}

// WithRunNamespaceCollector enables or disables deleting terminating
// namespaces. Without it, namespaces stay terminating forever.
func WithRunNamespaceCollector(b bool) StoreOption {
	return func(o *storeOptions) {
		o.runGC = b
	}
}

// WithInitialNamespaces sets the namespaces created when the store starts.
func WithInitialNamespaces(names ...string) StoreOption {
	return func(o *storeOptions) {
		o.initialNamespaces = names
	}
}

var defaultStoreOptions = storeOptions{
	mutexTTL:          time.Minute,
	stopTimeout:       time.Minute,
	gcRetryInterval:   5 * time.Second,
	initialNamespaces: []string{ck.DefaultNamespace},
	runGC:             true,
}

type storeOptions struct {
	mutexTTL          time.Duration
	stopTimeout       time.Duration
	gcRetryInterval   time.Duration
	initialNamespaces []string
	runGC             bool
}

func StartStore(
	ctx context.Context,
	conn *nats.Conn,
	opts ...StoreOption,
) (*Store, error) {
	store := Store{
		Conn: conn,
	}
	if err := store.Start(ctx, opts...); err != nil {
		return nil, fmt.Errorf("starting store: %w", err)
	}
	return &store, nil
}

// Store serves the object commands over nats, persisting objects in the
// objects kv bucket.
type Store struct {
	Conn *nats.Conn

	js    jetstream.JetStream
	kv    jetstream.KeyValue
	mutex mutex
	gc    *NamespaceCollector
	sub   *nats.Subscription

	stopTimeout time.Duration
	wg          sync.WaitGroup
}

func (s *Store) Start(
	ctx context.Context,
	opts ...StoreOption,
) error {
	opt := defaultStoreOptions
	for _, o := range opts {
		o(&opt)
	}

	s.stopTimeout = opt.stopTimeout

	js, err := jetstream.New(s.Conn)
	if err != nil {
		return fmt.Errorf("new jetstream: %w", err)
	}
	s.js = js
	kv, err := js.KeyValue(ctx, ck.BucketObjects)
	if err != nil {
		return fmt.Errorf(
			"connecting to objects kv bucket %q: %w",
			ck.BucketObjects,
			err,
		)
	}
	s.kv = kv
	mx, err := mutexFromBucket(ctx, js, ck.BucketMutex)
	if err != nil {
		return err
	}
	s.mutex = mx

	for _, name := range opt.initialNamespaces {
		if err := s.ensureNamespace(ctx, name); err != nil {
			return fmt.Errorf("creating namespace %q: %w", name, err)
		}
	}

	sub, err := s.Conn.QueueSubscribe(
		subjectStore,
		queueGroup,
		func(msg *nats.Msg) {
			slog.Info("received store message", "subject", msg.Subject)
			s.wg.Add(1)
			go s.handleMsg(ctx, msg)
		},
	)
	if err != nil {
		return fmt.Errorf("subscribing store: %w", err)
	}
	s.sub = sub

	if !opt.runGC {
		return nil
	}
	gc := &NamespaceCollector{
		Conn:          s.Conn,
		Store:         s,
		RetryInterval: opt.gcRetryInterval,
	}
	if err := gc.Start(ctx); err != nil {
		return fmt.Errorf("start namespace collector: %w", err)
	}
	s.gc = gc
	return nil
}

func (s *Store) Close() error {
	var errs error
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil &&
			!errors.Is(err, nats.ErrConnectionClosed) {
			errs = errors.Join(errs, err)
		}
	}
	if s.gc != nil {
		s.gc.Stop()
	}

	// Wait for all store operations to finish, or timeout.
	if s.stopWaitTimeout() {
		errs = errors.Join(
			errs,
			fmt.Errorf(
				"timeout after %s waiting for store operations to finish",
				s.stopTimeout,
			),
		)
	}
	return errs
}

func (s *Store) stopWaitTimeout() bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()
	tickDuration := time.Second * 10
	ticker := time.NewTicker(tickDuration)
	defer ticker.Stop()
	timeout := time.After(s.stopTimeout)
	elapsedTime := time.Duration(0)
	for {
		select {
		case <-ticker.C:
			elapsedTime += tickDuration
			slog.Info(
				"waiting for store operations to finish",
				"elapsed",
				elapsedTime,
				"timeout",
				s.stopTimeout,
			)
		case <-done:
			return false // completed normally
		case <-timeout:
			return true // timed out
		}
	}
}

func (s *Store) handleMsg(ctx context.Context, msg *nats.Msg) {
	defer s.wg.Done()
	// Parse subject to get details.
	parts := strings.Split(msg.Subject, ".")
	if len(parts) != subjectLength {
		_ = ck.RespondError(msg, badRequest("invalid subject: %q", msg.Subject))
		return
	}
	cmd := StoreCommand(parts[subjectIndexCommand])

	key := ck.ObjectKey{
		Group:     parts[subjectIndexGroup],
		Version:   parts[subjectIndexVersion],
		Kind:      parts[subjectIndexKind],
		Namespace: parts[subjectIndexNamespace],
		Name:      parts[subjectIndexName],
	}

	var (
		resp []byte
		err  error
	)
	switch cmd {
	case StoreCommandCreate:
		resp, err = s.Create(ctx, CreateRequest{
			Key:  key,
			Data: msg.Data,
		})
	case StoreCommandGet:
		resp, err = s.Get(ctx, GetRequest{
			Key: key,
		})
	case StoreCommandList:
		resp, err = s.handleList(ctx, key, msg.Header)
	case StoreCommandUpdate:
		revStr := msg.Header.Get(ck.HeaderRevision)
		revision, perr := strconv.ParseUint(revStr, 10, 64)
		if perr != nil {
			err = badRequest("invalid header %s: %q", ck.HeaderRevision, revStr)
			break
		}
		resp, err = s.Update(ctx, UpdateRequest{
			Key:      key,
			Data:     msg.Data,
			Revision: revision,
		})
	case StoreCommandDelete:
		resp, err = s.Delete(ctx, DeleteRequest{
			Key: key,
		})
	default:
		err = badRequest("invalid command: %q", cmd)
	}
	if err != nil {
		slog.Info(
			"store command failed",
			"cmd", cmd,
			"key", key.String(),
			"error", err,
		)
		_ = ck.RespondError(msg, err)
		return
	}
	_ = ck.RespondOK(msg, resp)
}

func (s *Store) handleList(
	ctx context.Context,
	key ck.ObjectKey,
	header nats.Header,
) ([]byte, error) {
	selector, err := ck.ParseSelector(
		header.Get(ck.HeaderLabelSelector),
		header.Get(ck.HeaderFieldSelector),
	)
	if err != nil {
		return nil, err
	}
	list, err := s.List(ctx, ListRequest{
		Key:      key,
		Selector: selector,
	})
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(list)
	if err != nil {
		return nil, internalError("marshalling list response", err)
	}
	return data, nil
}

// ensureNamespace creates the named namespace unless it exists.
func (s *Store) ensureNamespace(ctx context.Context, name string) error {
	data := []byte(`{}`)
	var err error
	for _, field := range []struct {
		path  string
		value string
	}{
		{"apiVersion", core.ObjectGroup + "/" + core.ObjectVersion},
		{"kind", core.ObjectKindNamespace},
		{"metadata.name", name},
	} {
		data, err = sjson.SetBytes(data, field.path, field.value)
		if err != nil {
			return fmt.Errorf("setting %s: %w", field.path, err)
		}
	}
	_, err = s.Create(ctx, CreateRequest{
		Key:  core.NamespaceKey(name),
		Data: data,
	})
	if err != nil && !ck.IsAlreadyExists(err) {
		return err
	}
	return nil
}

func badRequest(format string, args ...any) *ck.Error {
	return &ck.Error{
		Status:  http.StatusBadRequest,
		Reason:  ck.ReasonBadRequest,
		Message: fmt.Sprintf(format, args...),
	}
}

func invalid(format string, args ...any) *ck.Error {
	return &ck.Error{
		Status:  http.StatusUnprocessableEntity,
		Reason:  ck.ReasonInvalid,
		Message: fmt.Sprintf(format, args...),
	}
}

func forbidden(format string, args ...any) *ck.Error {
	return &ck.Error{
		Status:  http.StatusForbidden,
		Reason:  ck.ReasonForbidden,
		Message: fmt.Sprintf(format, args...),
	}
}

func notFound(key ck.ObjectKeyer) *ck.Error {
	return &ck.Error{
		Status: http.StatusNotFound,
		Reason: ck.ReasonNotFound,
		Message: fmt.Sprintf(
			"%s %q not found",
			key.ObjectKind(),
			key.ObjectName(),
		),
	}
}

func conflict(key ck.ObjectKeyer, message string) *ck.Error {
	return &ck.Error{
		Status: http.StatusConflict,
		Reason: ck.ReasonConflict,
		Message: fmt.Sprintf(
			"%s %q: %s",
			key.ObjectKind(),
			key.ObjectName(),
			message,
		),
	}
}

func internalError(message string, err error) *ck.Error {
	return &ck.Error{
		Status:  http.StatusInternalServerError,
		Reason:  ck.ReasonInternal,
		Message: fmt.Sprintf("%s: %s", message, err.Error()),
		Cause:   err,
	}
}

func strictKey(key ck.ObjectKeyer) (string, error) {
	rawKey, err := ck.KeyFromObjectStrict(key)
	if err != nil {
		return "", badRequest("invalid key: %s", err.Error())
	}
	return rawKey, nil
}

func isNamespaceKey(key ck.ObjectKeyer) bool {
	return key.ObjectGroup() == core.ObjectGroup &&
		key.ObjectKind() == core.ObjectKindNamespace
}
