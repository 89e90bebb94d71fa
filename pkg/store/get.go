package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/clusterkit/clusterkit/pkg/ck"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

type GetRequest struct {
	Key ck.ObjectKeyer
}

func (s *Store) Get(ctx context.Context, req GetRequest) ([]byte, error) {
	kve, err := s.getEntry(ctx, req.Key)
	if err != nil {
		return nil, err
	}
	return toObjectWithRevision(kve)
}

// getEntry returns the current kv entry of an object.
// Objects that are being deleted count as not found.
func (s *Store) getEntry(
	ctx context.Context,
	key ck.ObjectKeyer,
) (jetstream.KeyValueEntry, error) {
	rawKey, err := strictKey(key)
	if err != nil {
		return nil, err
	}
	kve, err := s.kv.Get(ctx, rawKey)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, notFound(key)
		}
		return nil, internalError(fmt.Sprintf("getting key %s", rawKey), err)
	}
	if isTombstone(kve.Value()) {
		return nil, notFound(key)
	}
	return kve, nil
}

// isTombstone reports whether data is the final write of a deleted object.
func isTombstone(data []byte) bool {
	return gjson.GetBytes(data, "metadata.deletionTimestamp").Exists()
}

// toObjectWithRevision takes a KeyValueEntry and adds the revision to the
// metadata of the JSON bytes.
func toObjectWithRevision(
	kve jetstream.KeyValueEntry,
) ([]byte, error) {
	return withRevision(kve.Value(), kve.Revision())
}

func withRevision(data []byte, revision uint64) ([]byte, error) {
	data, err := sjson.SetBytes(data, "metadata.revision", revision)
	if err != nil {
		return nil, internalError("setting revision", err)
	}
	return data, nil
}
