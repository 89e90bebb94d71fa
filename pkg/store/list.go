package store

import (
	"context"
	"encoding/json"
	"slices"
	"strings"

	"github.com/clusterkit/clusterkit/pkg/ck"
	"github.com/nats-io/nats.go/jetstream"
)

type ListRequest struct {
	// Key may contain empty fields, which match anything.
	Key      ck.ObjectKeyer
	Selector ck.Selector
}

// List returns the objects matching the key and selector, ordered by key,
// i.e. by namespace and then name within a kind.
func (s *Store) List(
	ctx context.Context,
	req ListRequest,
) (*ck.ObjectList, error) {
	entries, err := s.entries(ctx, ck.KeyFromObject(req.Key))
	if err != nil {
		return nil, err
	}
	objects := []json.RawMessage{}
	for _, entry := range entries {
		if !req.Selector.Empty() {
			var meta ck.MetaOnlyObject
			if err := json.Unmarshal(entry.Value(), &meta); err != nil {
				return nil, internalError("unmarshalling object "+entry.Key(), err)
			}
			if !req.Selector.Matches(meta) {
				continue
			}
		}
		data, err := toObjectWithRevision(entry)
		if err != nil {
			return nil, err
		}
		objects = append(objects, data)
	}
	return &ck.ObjectList{
		Items: objects,
	}, nil
}

// entries returns the live entries matching the key pattern, ordered by key.
func (s *Store) entries(
	ctx context.Context,
	pattern string,
) ([]jetstream.KeyValueEntry, error) {
	wOpts := []jetstream.WatchOpt{jetstream.IgnoreDeletes()}
	watcher, err := s.kv.Watch(ctx, pattern, wOpts...)
	if err != nil {
		return nil, internalError("watching key", err)
	}
	defer func() {
		_ = watcher.Stop()
	}()

	entries := []jetstream.KeyValueEntry{}
	for entry := range watcher.Updates() {
		// Nil entry is sent once all current values have been delivered.
		if entry == nil {
			break
		}
		if isTombstone(entry.Value()) {
			continue
		}
		entries = append(entries, entry)
	}
	slices.SortFunc(entries, func(a, b jetstream.KeyValueEntry) int {
		return strings.Compare(a.Key(), b.Key())
	})
	return entries, nil
}
