package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/clusterkit/clusterkit/pkg/ck"
	"github.com/clusterkit/clusterkit/pkg/extensions/core"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/tidwall/sjson"
	"k8s.io/apimachinery/pkg/util/validation"
)

type CreateRequest struct {
	Key  ck.ObjectKey
	Data []byte
}

// Create stores a new object and returns it as stored.
// Objects of namespaced kinds are only admitted into an existing, active
// namespace and within the quotas of that namespace.
func (s *Store) Create(ctx context.Context, req CreateRequest) ([]byte, error) {
	rawKey, err := strictKey(req.Key)
	if err != nil {
		return nil, err
	}
	var obj ck.MetaOnlyObject
	if err := json.Unmarshal(req.Data, &obj); err != nil {
		return nil, badRequest("invalid object: %s", err.Error())
	}
	if err := validateObject(req.Key, obj); err != nil {
		return nil, err
	}
	data, err := stampNewObject(req.Data)
	if err != nil {
		return nil, err
	}
	if isNamespaceKey(req.Key) {
		data, err = sjson.SetBytes(data, "status.phase", core.NamespaceActive)
		if err != nil {
			return nil, internalError("setting namespace phase", err)
		}
	}

	if req.Key.Namespace != ck.ClusterNamespace {
		// Hold the namespace lock until the object is written, so that a
		// namespace cannot start terminating between admission and write.
		l, err := s.mutex.Lock(ctx, req.Key.Namespace)
		if err != nil {
			return nil, internalError("locking namespace", err)
		}
		defer func() {
			if err := l.Release(); err != nil {
				slog.Error("releasing namespace lock", "namespace", req.Key.Namespace, "error", err)
			}
		}()
		if err := s.admit(ctx, req.Key); err != nil {
			return nil, err
		}
	}

	revision, err := s.kv.Create(ctx, rawKey, data)
	if err != nil {
		if !errors.Is(err, jetstream.ErrKeyExists) && !isErrWrongLastSequence(err) {
			return nil, internalError("creating object", err)
		}
		revision, err = s.replaceTombstone(ctx, rawKey, data)
		if err != nil {
			return nil, err
		}
		if revision == 0 {
			return nil, &ck.Error{
				Status: ck.ErrAlreadyExists.Status,
				Reason: ck.ReasonAlreadyExists,
				Message: fmt.Sprintf(
					"%s %q already exists",
					req.Key.Kind,
					req.Key.Name,
				),
			}
		}
	}
	return withRevision(data, revision)
}

// replaceTombstone writes data over the final write of a deleted object that
// is still in the bucket. It returns revision 0 if the key holds a live
// object instead.
func (s *Store) replaceTombstone(
	ctx context.Context,
	rawKey string,
	data []byte,
) (uint64, error) {
	kve, err := s.kv.Get(ctx, rawKey)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			// Deleted in the meantime; the next create will succeed.
			return 0, &ck.Error{
				Status:  ck.ErrConflict.Status,
				Reason:  ck.ReasonConflict,
				Message: "object was deleted while being created, try again",
			}
		}
		return 0, internalError("getting key "+rawKey, err)
	}
	if !isTombstone(kve.Value()) {
		return 0, nil
	}
	revision, err := s.kv.Update(ctx, rawKey, data, kve.Revision())
	if err != nil {
		if isErrWrongLastSequence(err) {
			return 0, nil
		}
		return 0, internalError("replacing deleted object", err)
	}
	return revision, nil
}

// stampNewObject sets the metadata owned by the store on a new object.
func stampNewObject(data []byte) ([]byte, error) {
	data, err := removeReadOnlyFields(data)
	if err != nil {
		return nil, err
	}
	for _, field := range []struct {
		path  string
		value any
	}{
		{"metadata.uid", uuid.NewString()},
		{"metadata.generation", 1},
		{"metadata.creationTimestamp", ck.Now()},
	} {
		data, err = sjson.SetBytes(data, field.path, field.value)
		if err != nil {
			return nil, internalError("setting "+field.path, err)
		}
	}
	return data, nil
}

func removeReadOnlyFields(data []byte) ([]byte, error) {
	var err error
	for _, path := range []string{
		"metadata.revision",
		"metadata.deletionTimestamp",
	} {
		data, err = sjson.DeleteBytes(data, path)
		if err != nil {
			return nil, internalError("removing "+path, err)
		}
	}
	return data, nil
}

// admit checks that an object of a namespaced kind may be created under key.
// The caller must hold the namespace lock.
func (s *Store) admit(ctx context.Context, key ck.ObjectKey) error {
	nsKey := core.NamespaceKey(key.Namespace)
	kve, err := s.getEntry(ctx, nsKey)
	if err != nil {
		if ck.IsNotFound(err) {
			return notFound(nsKey)
		}
		return err
	}
	var ns core.Namespace
	if err := json.Unmarshal(kve.Value(), &ns); err != nil {
		return internalError("unmarshalling namespace", err)
	}
	if ns.IsTerminating() {
		return forbidden(
			"unable to create %s %q: namespace %q is being terminated",
			key.Kind,
			key.Name,
			key.Namespace,
		)
	}
	return s.checkQuota(ctx, key)
}

type scope int

const (
	namespaceScope scope = iota
	clusterScope
)

// coreScopes are the scopes of the core kinds the store knows about.
// Other kinds are stored in whatever scope their key names.
var coreScopes = map[string]scope{
	core.ObjectKindNamespace:             clusterScope,
	core.ObjectKindResourceQuota:         namespaceScope,
	core.ObjectKindReplicationController: namespaceScope,
}

// validateObject checks that the object body agrees with its key and carries
// a valid name and labels.
func validateObject(key ck.ObjectKey, obj ck.MetaOnlyObject) error {
	if obj.Kind != "" && obj.Kind != key.Kind {
		return badRequest("kind %q does not match %q", obj.Kind, key.Kind)
	}
	if obj.APIVersion != "" &&
		obj.APIVersion != key.Group+"/"+key.Version {
		return badRequest(
			"apiVersion %q does not match %q",
			obj.APIVersion,
			key.Group+"/"+key.Version,
		)
	}
	if obj.Name != key.Name {
		return badRequest(
			"metadata.name %q does not match %q",
			obj.Name,
			key.Name,
		)
	}
	if scope, ok := coreScopes[key.Kind]; ok && key.Group == core.ObjectGroup {
		if scope == clusterScope && key.Namespace != ck.ClusterNamespace {
			return badRequest(
				"%s is cluster-scoped, metadata.namespace must be empty",
				key.Kind,
			)
		}
		if scope == namespaceScope && key.Namespace == ck.ClusterNamespace {
			return badRequest("%s requires a namespace", key.Kind)
		}
	}
	namespace := obj.ObjectMeta.Namespace
	if key.Namespace == ck.ClusterNamespace {
		if namespace != "" {
			return badRequest(
				"%s is cluster-scoped, metadata.namespace must be empty",
				key.Kind,
			)
		}
	} else if namespace != key.Namespace {
		return badRequest(
			"metadata.namespace %q does not match %q",
			namespace,
			key.Namespace,
		)
	}

	var errs []string
	for _, msg := range validation.IsDNS1123Label(key.Name) {
		errs = append(errs, "metadata.name: "+msg)
	}
	if key.Namespace != ck.ClusterNamespace {
		for _, msg := range validation.IsDNS1123Label(key.Namespace) {
			errs = append(errs, "metadata.namespace: "+msg)
		}
	}
	for k, v := range obj.Labels {
		for _, msg := range validation.IsQualifiedName(k) {
			errs = append(errs, fmt.Sprintf("metadata.labels[%s]: %s", k, msg))
		}
		for _, msg := range validation.IsValidLabelValue(v) {
			errs = append(errs, fmt.Sprintf("metadata.labels[%s]: %s", k, msg))
		}
	}
	if len(errs) > 0 {
		return invalid(
			"%s %q is invalid: %s",
			key.Kind,
			key.Name,
			strings.Join(errs, "; "),
		)
	}
	return nil
}
