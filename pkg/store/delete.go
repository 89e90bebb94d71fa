package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/clusterkit/clusterkit/pkg/ck"
	"github.com/clusterkit/clusterkit/pkg/extensions/core"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// deleteAttempts bounds how often a delete re-reads an object that changed
// while it was being deleted.
const deleteAttempts = 3

type DeleteRequest struct {
	Key ck.ObjectKey
}

// Delete deletes the object at key and returns its last state.
//
// Deleting a namespace only marks it as terminating. The namespace
// collector then deletes its objects and finally the namespace itself.
func (s *Store) Delete(ctx context.Context, req DeleteRequest) ([]byte, error) {
	if isNamespaceKey(req.Key) {
		return s.terminateNamespace(ctx, req.Key.Name)
	}
	return s.delete(ctx, req.Key)
}

// delete writes the object one last time with a deletion timestamp, so that
// watchers see its final state, and then removes it from the bucket.
func (s *Store) delete(ctx context.Context, key ck.ObjectKeyer) ([]byte, error) {
	rawKey, err := strictKey(key)
	if err != nil {
		return nil, err
	}
	for attempt := 1; ; attempt++ {
		kve, err := s.kv.Get(ctx, rawKey)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				return nil, notFound(key)
			}
			return nil, internalError("getting key "+rawKey, err)
		}
		if isTombstone(kve.Value()) {
			// A previous delete stopped after its final write.
			if err := s.purgeTombstone(ctx, rawKey, kve.Revision()); err != nil {
				return nil, err
			}
			return nil, notFound(key)
		}
		data, err := sjson.SetBytes(
			kve.Value(),
			"metadata.deletionTimestamp",
			ck.Now(),
		)
		if err != nil {
			return nil, internalError("setting deletion timestamp", err)
		}
		revision, err := s.kv.Update(ctx, rawKey, data, kve.Revision())
		if err != nil {
			if isErrWrongLastSequence(err) {
				if attempt < deleteAttempts {
					continue
				}
				return nil, conflict(key, "object modified during delete")
			}
			return nil, internalError("writing deletion timestamp", err)
		}
		// A create may already have replaced the tombstone, in which case
		// the deleted object is gone all the same.
		if err := s.purgeTombstone(ctx, rawKey, revision); err != nil {
			return nil, err
		}
		return withRevision(data, revision)
	}
}

// purgeTombstone removes the tombstone at revision from the bucket. It is a
// no-op if the key has been written since.
func (s *Store) purgeTombstone(
	ctx context.Context,
	rawKey string,
	revision uint64,
) error {
	err := s.kv.Delete(ctx, rawKey, jetstream.LastRevision(revision))
	if err != nil && !isErrWrongLastSequence(err) {
		return internalError("deleting object", err)
	}
	return nil
}

// terminateNamespace moves the namespace to the terminating phase.
// It holds the namespace lock so that no object is admitted afterwards.
func (s *Store) terminateNamespace(
	ctx context.Context,
	name string,
) ([]byte, error) {
	key := core.NamespaceKey(name)
	rawKey, err := strictKey(key)
	if err != nil {
		return nil, err
	}
	l, err := s.mutex.Lock(ctx, name)
	if err != nil {
		return nil, internalError("locking namespace", err)
	}
	defer func() {
		if err := l.Release(); err != nil {
			slog.Error("releasing namespace lock", "namespace", name, "error", err)
		}
	}()

	kve, err := s.getEntry(ctx, key)
	if err != nil {
		return nil, err
	}
	var ns core.Namespace
	if err := json.Unmarshal(kve.Value(), &ns); err != nil {
		return nil, internalError("unmarshalling namespace", err)
	}
	if ns.IsTerminating() {
		return toObjectWithRevision(kve)
	}
	data, err := sjson.SetBytes(kve.Value(), "status.phase", core.NamespaceTerminating)
	if err != nil {
		return nil, internalError("setting namespace phase", err)
	}
	data, err = sjson.SetBytes(
		data,
		"metadata.generation",
		gjson.GetBytes(kve.Value(), "metadata.generation").Int()+1,
	)
	if err != nil {
		return nil, internalError("setting generation", err)
	}
	slog.Info("terminating namespace", "namespace", name)
	return s.update(ctx, key, rawKey, data, kve.Revision())
}
