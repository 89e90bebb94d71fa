package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/clusterkit/clusterkit/pkg/ck"
	"github.com/clusterkit/clusterkit/pkg/natsutil"
	"github.com/clusterkit/clusterkit/pkg/store"
	"github.com/nats-io/nats.go"
)

func WithDevMode() ServerOption {
	return func(o *serverOptions) {
		o.runNATSServer = true
		o.runStore = true
	}
}

func WithNATSConn(conn *nats.Conn) ServerOption {
	return func(o *serverOptions) {
		o.conn = conn
	}
}

func WithRunNATS(b bool) ServerOption {
	return func(o *serverOptions) {
		o.runNATSServer = b
	}
}

func WithNATSOptions(opts ...natsutil.ServerOption) ServerOption {
	return func(o *serverOptions) {
		o.runNATSServer = true
		o.natsOptions = append(o.natsOptions, opts...)
	}
}

func WithRunStore(b bool) ServerOption {
	return func(o *serverOptions) {
		o.runStore = b
	}
}

func WithStoreOptions(opts ...store.StoreOption) ServerOption {
	return func(o *serverOptions) {
		o.runStore = true
		o.storeOptions = append(o.storeOptions, opts...)
	}
}

type ServerOption func(*serverOptions)

type serverOptions struct {
	conn *nats.Conn

	runNATSServer bool
	runStore      bool

	natsOptions  []natsutil.ServerOption
	storeOptions []store.StoreOption
}

type Server struct {
	Conn  *nats.Conn
	Store *store.Store

	nats *natsutil.Server
}

func New(
	ctx context.Context,
	opts ...ServerOption,
) (*Server, error) {
	s := Server{}

	if err := s.Start(ctx, opts...); err != nil {
		return nil, fmt.Errorf("starting server: %w", err)
	}
	return &s, nil
}

func (s *Server) Start(ctx context.Context, opts ...ServerOption) error {
	opt := serverOptions{}
	for _, o := range opts {
		o(&opt)
	}
	if opt.conn != nil {
		s.Conn = opt.conn
	}
	if opt.runNATSServer {
		ts, err := natsutil.NewServer(opt.natsOptions...)
		if err != nil {
			return fmt.Errorf("creating nats server: %w", err)
		}
		if err := ts.StartUntilReady(); err != nil {
			return fmt.Errorf("starting nats server: %w", err)
		}
		s.nats = &ts
		conn, err := ts.Conn(nats.Name("clusterkit-server"))
		if err != nil {
			return errors.Join(err, s.Close())
		}
		s.Conn = conn
	}

	if s.Conn == nil {
		return errors.New("nats connection required")
	}

	if opt.runStore {
		if err := store.InitKeyValue(ctx, s.Conn, opt.storeOptions...); err != nil {
			return errors.Join(
				fmt.Errorf("initializing kv buckets: %w", err),
				s.Close(),
			)
		}
		st, err := store.StartStore(ctx, s.Conn, opt.storeOptions...)
		if err != nil {
			return errors.Join(err, s.Close())
		}
		s.Store = st
	}

	return nil
}

// Client returns a client using the server connection.
func (s *Server) Client(opts ...ck.ClientOption) *ck.Client {
	return ck.NewClient(s.Conn, opts...)
}

// URL returns the client URL of the embedded nats server, or of the
// connection if there is none.
func (s *Server) URL() string {
	if s.nats != nil {
		return s.nats.NS.ClientURL()
	}
	if s.Conn != nil {
		return s.Conn.ConnectedUrl()
	}
	return ""
}

func (s *Server) Close() error {
	var errs error
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			errs = errors.Join(errs, err)
		}
		s.Store = nil
	}
	if s.nats != nil {
		if s.Conn != nil {
			s.Conn.Close()
		}
		s.nats.Shutdown()
		s.nats = nil
	}
	return errs
}

func (s *Server) Services() []string {
	services := []string{}
	if s.Store != nil {
		services = append(services, "store")
	}
	if s.nats != nil {
		services = append(services, "nats")
	}
	return services
}
