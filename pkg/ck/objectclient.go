package ck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/sjson"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/selection"
)

// ObjectClient is a typed collection of objects of kind T.
//
// The narrowing methods (InNamespace, WithLabel, ...) return a copy and never
// modify the receiver, so a base ObjectClient can be shared.
// A malformed selector is remembered and returned by the next operation.
type ObjectClient[T Objecter] struct {
	Client *Client

	namespace string
	selector  Selector
	err       error
}

func NewObjectClient[T Objecter](client *Client) ObjectClient[T] {
	return ObjectClient[T]{Client: client}
}

// InNamespace scopes the collection to a namespace.
// Cluster-scoped kinds ignore it.
func (oc ObjectClient[T]) InNamespace(namespace string) ObjectClient[T] {
	oc.namespace = namespace
	return oc
}

// WithLabel matches objects with label key set to value.
func (oc ObjectClient[T]) WithLabel(key, value string) ObjectClient[T] {
	return oc.withRequirement(key, selection.Equals, value)
}

// WithoutLabel matches objects where label key is absent or not value.
func (oc ObjectClient[T]) WithoutLabel(key, value string) ObjectClient[T] {
	return oc.withRequirement(key, selection.NotEquals, value)
}

// WithLabelIn matches objects where label key is one of values.
func (oc ObjectClient[T]) WithLabelIn(key string, values ...string) ObjectClient[T] {
	return oc.withRequirement(key, selection.In, values...)
}

// WithLabelNotIn matches objects where label key is absent or none of values.
func (oc ObjectClient[T]) WithLabelNotIn(key string, values ...string) ObjectClient[T] {
	return oc.withRequirement(key, selection.NotIn, values...)
}

func (oc ObjectClient[T]) WithLabelExists(key string) ObjectClient[T] {
	return oc.withRequirement(key, selection.Exists)
}

func (oc ObjectClient[T]) WithoutLabelKey(key string) ObjectClient[T] {
	return oc.withRequirement(key, selection.DoesNotExist)
}

// WithLabelSelector adds the requirements of a label selector expression,
// e.g. "server=nginx,tier in (web,api)".
func (oc ObjectClient[T]) WithLabelSelector(expr string) ObjectClient[T] {
	if oc.err != nil {
		return oc
	}
	oc.selector, oc.err = oc.selector.withLabelExpression(expr)
	return oc
}

// WithField matches objects where the field at path equals value.
// Selectable fields are metadata.name and metadata.namespace.
func (oc ObjectClient[T]) WithField(path, value string) ObjectClient[T] {
	if oc.err != nil {
		return oc
	}
	oc.selector, oc.err = oc.selector.withField(
		fields.OneTermEqualSelector(path, value),
	)
	return oc
}

// WithFieldSelector adds a field selector expression, e.g.
// "metadata.name!=nginx".
func (oc ObjectClient[T]) WithFieldSelector(expr string) ObjectClient[T] {
	if oc.err != nil {
		return oc
	}
	oc.selector, oc.err = oc.selector.withFieldExpression(expr)
	return oc
}

func (oc ObjectClient[T]) withRequirement(
	key string,
	op selection.Operator,
	values ...string,
) ObjectClient[T] {
	if oc.err != nil {
		return oc
	}
	oc.selector, oc.err = oc.selector.withRequirement(key, op, values...)
	return oc
}

// Selector returns the selector the collection is narrowed by.
func (oc ObjectClient[T]) Selector() (Selector, error) {
	return oc.selector, oc.err
}

func (oc ObjectClient[T]) Create(ctx context.Context, object T) (T, error) {
	var zero T
	if oc.err != nil {
		return zero, oc.err
	}
	if err := prepare(&object); err != nil {
		return zero, err
	}
	namespace, err := oc.namespaceForObject(object)
	if err != nil {
		return zero, err
	}
	data, err := oc.marshal(object, namespace)
	if err != nil {
		return zero, err
	}
	reply, err := oc.Client.Create(ctx, oc.key(namespace, object.ObjectName()), data)
	if err != nil {
		return zero, err
	}
	return oc.decode(reply)
}

func (oc ObjectClient[T]) Get(ctx context.Context, name string) (T, error) {
	var zero T
	if oc.err != nil {
		return zero, oc.err
	}
	namespace, err := oc.namespaceForName()
	if err != nil {
		return zero, err
	}
	reply, err := oc.Client.Get(ctx, oc.key(namespace, name))
	if err != nil {
		return zero, err
	}
	return oc.decode(reply)
}

// List returns the objects in the scoped namespace (all namespaces if none)
// that match the selector, ordered by namespace and name.
func (oc ObjectClient[T]) List(ctx context.Context) ([]T, error) {
	if oc.err != nil {
		return nil, oc.err
	}
	list, err := oc.Client.List(ctx, oc.key(oc.namespaceForList(), ""), oc.selector)
	if err != nil {
		return nil, err
	}
	objects := make([]T, 0, len(list.Items))
	for _, item := range list.Items {
		object, err := oc.decode(item)
		if err != nil {
			return nil, err
		}
		objects = append(objects, object)
	}
	return objects, nil
}

// Edit reads the named object, applies mutate and writes the result back.
// If the object changed in between, the write fails with a conflict and
// nothing is retried. See [RetryOnConflict].
func (oc ObjectClient[T]) Edit(
	ctx context.Context,
	name string,
	mutate func(*T) error,
) (T, error) {
	var zero T
	object, err := oc.Get(ctx, name)
	if err != nil {
		return zero, err
	}
	revision := object.ObjectRevision()
	if revision == nil {
		return zero, &Error{
			Status:  http.StatusInternalServerError,
			Reason:  ReasonInternal,
			Message: "object read without revision",
		}
	}
	if err := mutate(&object); err != nil {
		return zero, fmt.Errorf("editing %s: %w", name, err)
	}
	if renamed := object.ObjectName(); renamed != name {
		return zero, &Error{
			Status: http.StatusUnprocessableEntity,
			Reason: ReasonInvalid,
			Message: fmt.Sprintf(
				"editing %s: metadata.name cannot be changed to %q",
				name,
				renamed,
			),
		}
	}
	return oc.update(ctx, object, *revision)
}

// Update replaces the object, which must carry the revision it was read at.
func (oc ObjectClient[T]) Update(ctx context.Context, object T) (T, error) {
	var zero T
	if oc.err != nil {
		return zero, oc.err
	}
	revision := object.ObjectRevision()
	if revision == nil {
		return zero, ErrUpdateRevision
	}
	return oc.update(ctx, object, *revision)
}

func (oc ObjectClient[T]) update(
	ctx context.Context,
	object T,
	revision uint64,
) (T, error) {
	var zero T
	if err := prepare(&object); err != nil {
		return zero, err
	}
	namespace, err := oc.namespaceForObject(object)
	if err != nil {
		return zero, err
	}
	data, err := oc.marshal(object, namespace)
	if err != nil {
		return zero, err
	}
	reply, err := oc.Client.Update(
		ctx,
		oc.key(namespace, object.ObjectName()),
		data,
		revision,
	)
	if err != nil {
		return zero, err
	}
	return oc.decode(reply)
}

// Delete deletes the named object.
// It reports false, and no error, if there was nothing to delete.
func (oc ObjectClient[T]) Delete(ctx context.Context, name string) (bool, error) {
	if oc.err != nil {
		return false, oc.err
	}
	namespace, err := oc.namespaceForName()
	if err != nil {
		return false, err
	}
	if err := oc.Client.Delete(ctx, oc.key(namespace, name)); err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DeleteAll deletes every object matching the namespace scope and selector
// and returns how many were deleted.
//
// Deletion carries on past failures. The returned error is the first
// failure, with the remaining failures available via [Suppressed].
func (oc ObjectClient[T]) DeleteAll(ctx context.Context) (int, error) {
	objects, err := oc.List(ctx)
	if err != nil {
		return 0, err
	}
	var (
		deleted  int
		failures []error
	)
	for _, object := range objects {
		key := ObjectKeyFromObject(object)
		if err := oc.Client.Delete(ctx, key); err != nil {
			if IsNotFound(err) {
				continue
			}
			failures = append(failures, deleteError(key, err))
			continue
		}
		deleted++
	}
	if len(failures) > 0 {
		return deleted, batchError("delete collection", len(objects), failures)
	}
	return deleted, nil
}

// deleteError names the object a delete failed for, keeping the status and
// reason of err.
func deleteError(key ObjectKeyer, err error) error {
	return ErrorWrap(
		err,
		http.StatusInternalServerError,
		"deleting "+KeyFromObject(key),
	)
}

func batchError(op string, total int, errs []error) error {
	var first *Error
	if !errors.As(errs[0], &first) {
		first = &Error{
			Status:  http.StatusInternalServerError,
			Reason:  ReasonTransport,
			Message: errs[0].Error(),
			Cause:   errs[0],
		}
	}
	primary := *first
	primary.Message = fmt.Sprintf(
		"%s: %d of %d failed: %s",
		op,
		len(errs),
		total,
		first.Message,
	)
	return primary.WithSuppressed(errs[1:]...)
}

func prepare[T Objecter](object *T) error {
	if d, ok := any(object).(Defaulter); ok {
		d.Default()
	}
	if v, ok := any(object).(Validator); ok {
		if err := v.Validate(); err != nil {
			return &Error{
				Status:  http.StatusUnprocessableEntity,
				Reason:  ReasonInvalid,
				Message: fmt.Sprintf("invalid %s: %s", (*object).ObjectKind(), err.Error()),
				Cause:   err,
			}
		}
	}
	return nil
}

func (oc ObjectClient[T]) clusterScoped() bool {
	var t T
	return IsClusterScoped(t)
}

// namespaceForName returns the namespace for operations on a single named
// object.
func (oc ObjectClient[T]) namespaceForName() (string, error) {
	if oc.clusterScoped() {
		return ClusterNamespace, nil
	}
	if oc.namespace != "" {
		return oc.namespace, nil
	}
	if oc.Client.Namespace != "" {
		return oc.Client.Namespace, nil
	}
	return "", ErrNamespaceRequired
}

// namespaceForList returns the namespace to list in, empty meaning all.
func (oc ObjectClient[T]) namespaceForList() string {
	if oc.clusterScoped() {
		return ClusterNamespace
	}
	return oc.namespace
}

func (oc ObjectClient[T]) namespaceForObject(object T) (string, error) {
	if oc.clusterScoped() {
		return ClusterNamespace, nil
	}
	namespace := object.ObjectNamespace()
	if namespace == "" {
		return oc.namespaceForName()
	}
	if oc.namespace != "" && oc.namespace != namespace {
		return "", &Error{
			Status: http.StatusUnprocessableEntity,
			Reason: ReasonInvalid,
			Message: fmt.Sprintf(
				"object namespace %q does not match namespace %q",
				namespace,
				oc.namespace,
			),
		}
	}
	return namespace, nil
}

func (oc ObjectClient[T]) key(namespace, name string) ObjectKey {
	var t T
	return ObjectKey{
		Group:     t.ObjectGroup(),
		Version:   t.ObjectVersion(),
		Kind:      t.ObjectKind(),
		Namespace: namespace,
		Name:      name,
	}
}

func (oc ObjectClient[T]) marshal(object T, namespace string) ([]byte, error) {
	data, err := oc.Client.marshalObjectWithTypeFields(object)
	if err != nil {
		return nil, err
	}
	if namespace == ClusterNamespace {
		return sjson.DeleteBytes(data, "metadata.namespace")
	}
	data, err = sjson.SetBytes(data, "metadata.namespace", namespace)
	if err != nil {
		return nil, fmt.Errorf("setting namespace: %w", err)
	}
	return data, nil
}

func (oc ObjectClient[T]) decode(data []byte) (T, error) {
	var object T
	if err := json.Unmarshal(data, &object); err != nil {
		return object, fmt.Errorf("unmarshalling object: %w", err)
	}
	return object, nil
}

// RetryOnConflict calls fn until it returns something other than a conflict
// error, at most attempts times, sleeping backoff in between.
func RetryOnConflict(
	ctx context.Context,
	attempts int,
	backoff time.Duration,
	fn func() error,
) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); !IsConflict(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(backoff):
		}
	}
	return err
}
