package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

var ErrKeyLocked = errors.New("key locked")

func mutexFromBucket(
	ctx context.Context,
	js jetstream.JetStream,
	bucket string,
) (mutex, error) {
	mxkv, err := js.KeyValue(ctx, bucket)
	if err != nil {
		return mutex{}, fmt.Errorf(
			"get mutex bucket %q: %w",
			bucket,
			err,
		)
	}
	status, err := mxkv.Status(ctx)
	if err != nil {
		return mutex{}, fmt.Errorf(
			"get mutex bucket %q status: %w",
			bucket,
			err,
		)
	}

	return mutex{
		kv:  mxkv,
		ttl: status.TTL(),
	}, nil
}

// mutex is a lock per key backed by a kv bucket with a TTL, so that a lock
// held by a crashed store is eventually released.
type mutex struct {
	kv  jetstream.KeyValue
	ttl time.Duration
}

// TryLock acquires a lock for the given key.
// If a lock already exists, then ErrKeyLocked is returned.
func (m *mutex) TryLock(ctx context.Context, key string) (*lock, error) {
	kve, err := m.kv.Get(ctx, key)
	if err != nil {
		// For the first mutex per key, the key won't exist, obviously.
		// That means we can acquire the lock.
		if !errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("getting current mutex value: %w", err)
		}
		rev, err := m.kv.Create(ctx, key, []byte("1"))
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyExists) ||
				isErrWrongLastSequence(err) {
				// Someone else got the lock before us.
				return nil, ErrKeyLocked
			}
			return nil, fmt.Errorf("writing lock to mutex bucket: %w", err)
		}
		return &lock{
			kv:  m.kv,
			rev: rev,
			key: key,
		}, nil
	}
	// If we get here, then the key exists, and we need to check the value.
	if len(kve.Value()) != 0 {
		return nil, ErrKeyLocked
	}
	rev, err := m.kv.Update(ctx, key, []byte("1"), kve.Revision())
	if err != nil {
		// If we get a bad revision error, then someone else has acquired
		// the lock.
		if isErrWrongLastSequence(err) {
			return nil, ErrKeyLocked
		}
		return nil, fmt.Errorf("writing lock to mutex bucket: %w", err)
	}
	return &lock{
		kv:  m.kv,
		rev: rev,
		key: key,
	}, nil
}

// Lock waits until the lock for key is acquired or ctx is done.
// It never waits longer than the bucket TTL, after which a stale lock is
// expired by the server anyway.
func (m *mutex) Lock(ctx context.Context, key string) (*lock, error) {
	if m.ttl > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.ttl)
		defer cancel()
	}
	backoff := 5 * time.Millisecond
	for {
		l, err := m.TryLock(ctx, key)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, ErrKeyLocked) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for lock %q: %w", key, ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < 100*time.Millisecond {
			backoff *= 2
		}
	}
}

type lock struct {
	kv       jetstream.KeyValue
	rev      uint64
	key      string
	released bool
}

// Release releases the lock, meaning a new lock can be acquired for the mutex.
func (l *lock) Release() error {
	if l.released {
		return nil
	}
	_, err := l.kv.Update(context.Background(), l.key, nil, l.rev)
	if err != nil {
		return fmt.Errorf("unlocking mutex: %w", err)
	}
	l.released = true
	return nil
}
