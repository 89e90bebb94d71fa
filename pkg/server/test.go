package server

import (
	"context"
	"testing"
	"time"

	"github.com/clusterkit/clusterkit/pkg/ck"
	"github.com/clusterkit/clusterkit/pkg/natsutil"
	"github.com/clusterkit/clusterkit/pkg/store"
)

func Test(t *testing.T, ctx context.Context, opts ...ServerOption) *Server {
	t.Helper()
	// Default test options.
	opts = append(
		[]ServerOption{
			WithDevMode(),
			WithNATSOptions(
				// Default nats options.
				natsutil.WithDir(t.TempDir()),
				natsutil.WithFindAvailablePort(true),
			),
			WithStoreOptions(
				store.WithStopTimeout(10*time.Second),
				store.WithGCRetryInterval(100*time.Millisecond),
				store.WithInitialNamespaces(ck.DefaultNamespace),
			),
		},
		opts...,
	)
	s := Server{}
	if err := s.Start(ctx, opts...); err != nil {
		t.Fatalf("starting server: %v", err)
	}
	t.Cleanup(func() {
		err := s.Close()
		if err != nil {
			t.Fatalf("closing server: %v", err)
		}
	})
	return &s
}
