package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/clusterkit/clusterkit/pkg/ck"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// objectsHistory is the number of values kept per key in the objects
// bucket. Keeping more than one means a watcher still receives the final
// write of an object that has been deleted right after.
const objectsHistory = 5

// InitKeyValue creates the kv buckets used by the store, unless they exist.
func InitKeyValue(
	ctx context.Context,
	conn *nats.Conn,
	opts ...StoreOption,
) error {
	opt := defaultStoreOptions
	for _, o := range opts {
		o(&opt)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		return fmt.Errorf("new jetstream: %w", err)
	}

	if _, err := js.KeyValue(ctx, ck.BucketObjects); err != nil {
		if !errors.Is(err, jetstream.ErrBucketNotFound) {
			return fmt.Errorf(
				"get objects bucket %q: %w",
				ck.BucketObjects,
				err,
			)
		}
		if _, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Description: "KV bucket for storing clusterkit objects.",
			Bucket:      ck.BucketObjects,
			History:     objectsHistory,
			TTL:         0,
		}); err != nil {
			return fmt.Errorf(
				"create objects bucket %q: %w",
				ck.BucketObjects,
				err,
			)
		}
	}

	if _, err := js.KeyValue(ctx, ck.BucketMutex); err != nil {
		if !errors.Is(err, jetstream.ErrBucketNotFound) {
			return fmt.Errorf(
				"get mutex bucket %q for %q: %w",
				ck.BucketMutex,
				ck.BucketObjects,
				err,
			)
		}
		if _, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      ck.BucketMutex,
			Description: "Mutex for " + ck.BucketObjects,
			History:     1,
			// In case unlocking fails, or there's a serious error,
			// NATS will automatically unlock the mutex after the TTL.
			// Behind the scenes, NATS will delete the TTL value,
			// which from the mutex's perspective means there is no lock.
			TTL: opt.mutexTTL,
		}); err != nil {
			return fmt.Errorf(
				"create mutex bucket %q for %q: %w",
				ck.BucketMutex,
				ck.BucketObjects,
				err,
			)
		}
	}
	return nil
}
