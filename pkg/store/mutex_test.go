package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clusterkit/clusterkit/pkg/ck"
	"github.com/clusterkit/clusterkit/pkg/natsutil"
	tu "github.com/clusterkit/clusterkit/pkg/testutil"
	"github.com/nats-io/nats.go/jetstream"
)

func testMutex(t *testing.T, ctx context.Context) mutex {
	t.Helper()
	ns, err := natsutil.NewServer(
		natsutil.WithDir(t.TempDir()),
		natsutil.WithFindAvailablePort(true),
	)
	tu.AssertNoError(t, err)
	tu.AssertNoError(t, ns.StartUntilReady())
	t.Cleanup(ns.Shutdown)
	conn, err := ns.Conn()
	tu.AssertNoError(t, err)
	t.Cleanup(conn.Close)

	tu.AssertNoError(t, InitKeyValue(ctx, conn, WithMutexTTL(time.Second)))
	js, err := jetstream.New(conn)
	tu.AssertNoError(t, err)
	mx, err := mutexFromBucket(ctx, js, ck.BucketMutex)
	tu.AssertNoError(t, err)
	return mx
}

func TestMutex(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mx := testMutex(t, ctx)
	tu.AssertEqual(t, time.Second, mx.ttl)

	l, err := mx.TryLock(ctx, "default")
	tu.AssertNoError(t, err)

	_, err = mx.TryLock(ctx, "default")
	tu.AssertErrorIs(t, err, ErrKeyLocked)

	// Other keys are independent.
	other, err := mx.TryLock(ctx, "other")
	tu.AssertNoError(t, err)
	tu.AssertNoError(t, other.Release())

	tu.AssertNoError(t, l.Release())
	// Releasing twice is fine.
	tu.AssertNoError(t, l.Release())

	l, err = mx.TryLock(ctx, "default")
	tu.AssertNoError(t, err)
	tu.AssertNoError(t, l.Release())
}

func TestMutexLockWaits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mx := testMutex(t, ctx)

	held, err := mx.TryLock(ctx, "ns")
	tu.AssertNoError(t, err)
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = held.Release()
	}()
	l, err := mx.Lock(ctx, "ns")
	tu.AssertNoError(t, err)
	tu.AssertNoError(t, l.Release())

	cctx, cancel := context.WithCancel(ctx)
	held, err = mx.TryLock(ctx, "ns")
	tu.AssertNoError(t, err)
	cancel()
	_, err = mx.Lock(cctx, "ns")
	tu.AssertTrue(t, err != nil && !errors.Is(err, ErrKeyLocked), "lock with cancelled context")
	tu.AssertNoError(t, held.Release())
}
