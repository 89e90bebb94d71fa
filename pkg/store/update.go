package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/clusterkit/clusterkit/pkg/ck"
	"github.com/clusterkit/clusterkit/pkg/extensions/core"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// immutableFields are carried over from the stored object on update.
var immutableFields = []string{
	"metadata.uid",
	"metadata.generation",
	"metadata.creationTimestamp",
}

type UpdateRequest struct {
	Data     []byte
	Key      ck.ObjectKey
	Revision uint64
}

// Update replaces the object at key if its stored revision is still
// req.Revision. An update that changes nothing is not written.
func (s *Store) Update(ctx context.Context, req UpdateRequest) ([]byte, error) {
	rawKey, err := strictKey(req.Key)
	if err != nil {
		return nil, err
	}
	current, err := s.getEntry(ctx, req.Key)
	if err != nil {
		return nil, err
	}
	if current.Revision() != req.Revision {
		return nil, conflict(req.Key, fmt.Sprintf(
			"object has been modified: revision %d, latest %d",
			req.Revision,
			current.Revision(),
		))
	}
	var obj ck.MetaOnlyObject
	if err := json.Unmarshal(req.Data, &obj); err != nil {
		return nil, badRequest("invalid object: %s", err.Error())
	}
	if err := validateObject(req.Key, obj); err != nil {
		return nil, err
	}

	data, err := removeReadOnlyFields(req.Data)
	if err != nil {
		return nil, err
	}
	paths := immutableFields
	// A terminating namespace cannot be brought back.
	if isNamespaceKey(req.Key) &&
		gjson.GetBytes(current.Value(), "status.phase").String() == string(core.NamespaceTerminating) {
		paths = append(append([]string{}, paths...), "status.phase")
	}
	data, err = carryOver(data, current.Value(), paths...)
	if err != nil {
		return nil, err
	}
	same, err := jsonEqual(data, current.Value())
	if err != nil {
		return nil, internalError("comparing objects", err)
	}
	if same {
		return toObjectWithRevision(current)
	}
	data, err = sjson.SetBytes(
		data,
		"metadata.generation",
		gjson.GetBytes(current.Value(), "metadata.generation").Int()+1,
	)
	if err != nil {
		return nil, internalError("setting generation", err)
	}
	return s.update(ctx, req.Key, rawKey, data, req.Revision)
}

func (s *Store) update(
	ctx context.Context,
	key ck.ObjectKeyer,
	rawKey string,
	data []byte,
	revision uint64,
) ([]byte, error) {
	newRevision, err := s.kv.Update(ctx, rawKey, data, revision)
	if err != nil {
		if isErrWrongLastSequence(err) {
			return nil, conflict(key, "object has been modified")
		}
		return nil, internalError("updating object", err)
	}
	return withRevision(data, newRevision)
}

// carryOver copies the values at paths from current into data, removing
// those absent in current.
func carryOver(data, current []byte, paths ...string) ([]byte, error) {
	var err error
	for _, path := range paths {
		value := gjson.GetBytes(current, path)
		if !value.Exists() {
			data, err = sjson.DeleteBytes(data, path)
		} else {
			data, err = sjson.SetRawBytes(data, path, []byte(value.Raw))
		}
		if err != nil {
			return nil, internalError("setting "+path, err)
		}
	}
	return data, nil
}

// jsonEqual reports whether a and b hold the same JSON value, regardless of
// key order and whitespace.
func jsonEqual(a, b []byte) (bool, error) {
	ca, err := canonicalJSON(a)
	if err != nil {
		return false, err
	}
	cb, err := canonicalJSON(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ca, cb), nil
}

func canonicalJSON(data []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// isErrWrongLastSequence returns true if the error is caused by a write
// operation to a stream with the wrong last sequence.
// For example, if a kv update with an outdated revision.
func isErrWrongLastSequence(err error) bool {
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
	}
	return false
}
