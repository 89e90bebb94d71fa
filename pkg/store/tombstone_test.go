package store_test

import (
	"context"
	"testing"

	"github.com/clusterkit/clusterkit/pkg/ck"
	"github.com/clusterkit/clusterkit/pkg/extensions/core"
	"github.com/clusterkit/clusterkit/pkg/server"
	tu "github.com/clusterkit/clusterkit/pkg/testutil"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/tidwall/sjson"
)

// strandTombstone leaves the object behind as if a delete had stopped
// between its two writes.
func strandTombstone(
	t *testing.T,
	ctx context.Context,
	kv jetstream.KeyValue,
	obj ck.ObjectKeyer,
) string {
	t.Helper()
	rawKey := ck.KeyFromObject(obj)
	kve, err := kv.Get(ctx, rawKey)
	tu.AssertNoError(t, err, "getting "+rawKey)
	data, err := sjson.SetBytes(kve.Value(), "metadata.deletionTimestamp", ck.Now())
	tu.AssertNoError(t, err)
	_, err = kv.Update(ctx, rawKey, data, kve.Revision())
	tu.AssertNoError(t, err, "writing tombstone")
	return rawKey
}

func TestStrandedTombstone(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ti := server.Test(t, ctx)
	client := ti.Client()
	createNamespace(t, ctx, client, "test")

	js, err := jetstream.New(ti.Conn)
	tu.AssertNoError(t, err)
	kv, err := js.KeyValue(ctx, ck.BucketObjects)
	tu.AssertNoError(t, err)

	qClient := ck.NewObjectClient[core.ResourceQuota](client).InNamespace("test")

	t.Run("create replaces tombstone", func(t *testing.T) {
		q := core.ResourceQuota{}
		q.Name = "recreate"
		first, err := qClient.Create(ctx, q)
		tu.AssertNoError(t, err)
		strandTombstone(t, ctx, kv, first)

		_, err = qClient.Get(ctx, "recreate")
		tu.AssertErrorIs(t, err, ck.ErrNotFound)

		second, err := qClient.Create(ctx, q)
		tu.AssertNoError(t, err, "creating over tombstone")
		tu.AssertEqual(t, int64(1), second.Generation)
		tu.AssertTrue(t, second.UID != first.UID, "expected a new uid")
		tu.AssertTrue(t, second.DeletionTimestamp == nil, "expected no deletion timestamp")

		got, err := qClient.Get(ctx, "recreate")
		tu.AssertNoError(t, err)
		tu.AssertEqual(t, second.UID, got.UID)
	})

	t.Run("create still rejects live object", func(t *testing.T) {
		q := core.ResourceQuota{}
		q.Name = "live"
		_, err := qClient.Create(ctx, q)
		tu.AssertNoError(t, err)
		_, err = qClient.Create(ctx, q)
		tu.AssertReason(t, err, ck.ReasonAlreadyExists)
	})

	t.Run("delete finishes tombstone", func(t *testing.T) {
		q := core.ResourceQuota{}
		q.Name = "purge"
		created, err := qClient.Create(ctx, q)
		tu.AssertNoError(t, err)
		rawKey := strandTombstone(t, ctx, kv, created)

		deleted, err := qClient.Delete(ctx, "purge")
		tu.AssertNoError(t, err)
		tu.AssertTrue(t, !deleted, "tombstone reported as deleted object")

		_, err = kv.Get(ctx, rawKey)
		tu.AssertErrorIs(t, err, jetstream.ErrKeyNotFound, "expected key to be removed")
	})
}
