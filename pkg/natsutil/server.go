package natsutil

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

type ServerOption func(*serverOption)

type serverOption struct {
	FindAvailablePort bool
	Host              string
	Port              int

	Dir string

	Debug           bool
	ConfigureLogger bool
	ReadyTimeout    time.Duration
}

var serverOptionDefaults = serverOption{
	FindAvailablePort: false,
	Host:              "127.0.0.1",
	Port:              4222,
	Dir:               "",
	ReadyTimeout:      4 * time.Second,
}

// WithFindAvailablePort picks a free local port instead of the configured
// one. Tests use it to run servers in parallel.
func WithFindAvailablePort(enabled bool) ServerOption {
	return func(so *serverOption) {
		so.FindAvailablePort = enabled
	}
}

func WithHost(host string) ServerOption {
	return func(so *serverOption) {
		so.Host = host
	}
}

func WithPort(port int) ServerOption {
	return func(so *serverOption) {
		so.Port = port
	}
}

// WithDir sets the directory JetStream persists to.
func WithDir(dir string) ServerOption {
	return func(so *serverOption) {
		so.Dir = dir
	}
}

func WithDebug(debug bool) ServerOption {
	return func(so *serverOption) {
		so.Debug = debug
	}
}

func WithConfigureLogger(logger bool) ServerOption {
	return func(so *serverOption) {
		so.ConfigureLogger = logger
	}
}

func WithReadyTimeout(timeout time.Duration) ServerOption {
	return func(so *serverOption) {
		so.ReadyTimeout = timeout
	}
}

func NewServer(opts ...ServerOption) (Server, error) {
	sOpt := serverOptionDefaults
	for _, opt := range opts {
		opt(&sOpt)
	}
	if sOpt.Dir == "" {
		sOpt.Dir = filepath.Join(os.TempDir(), "clusterkit")
	}
	if sOpt.FindAvailablePort {
		port, err := findAvailablePort()
		if err != nil {
			return Server{}, fmt.Errorf("finding available port: %w", err)
		}
		sOpt.Port = port
	}

	natsConf, err := generateConfigFile(ServerConfig{
		Dir:   sOpt.Dir,
		Debug: sOpt.Debug,
		Host:  sOpt.Host,
		Port:  sOpt.Port,
	})
	if err != nil {
		return Server{}, fmt.Errorf("generating nats conf: %w", err)
	}
	natsConfFile := filepath.Join(sOpt.Dir, "nats.conf")
	if err := os.MkdirAll(filepath.Dir(natsConfFile), os.ModePerm); err != nil {
		return Server{}, fmt.Errorf(
			"creating dir for nats conf file: %w",
			err,
		)
	}
	if err := os.WriteFile(natsConfFile, []byte(natsConf), 0o600); err != nil {
		return Server{}, fmt.Errorf("writing nats conf: %w", err)
	}

	nsOpts := &server.Options{}
	if err := nsOpts.ProcessConfigFile(natsConfFile); err != nil {
		return Server{}, fmt.Errorf("processing config file: %w", err)
	}

	if err := os.RemoveAll(natsConfFile); err != nil {
		return Server{}, fmt.Errorf(
			"removing NATS conf file %s: %w",
			natsConfFile,
			err,
		)
	}
	// Make sure NATS is not using its own signal handler as it interferes with
	// any signal handling that we do.
	nsOpts.NoSigs = true

	ns, err := server.NewServer(nsOpts)
	if err != nil {
		return Server{}, fmt.Errorf("new server: %w", err)
	}
	if sOpt.ConfigureLogger {
		ns.ConfigureLogger()
	}

	return Server{
		NS:           ns,
		readyTimeout: sOpt.ReadyTimeout,
	}, nil
}

// Server is an embedded nats server with JetStream enabled.
type Server struct {
	NS *server.Server

	readyTimeout time.Duration
}

func (s Server) StartUntilReady() error {
	timeout := s.readyTimeout
	if timeout == 0 {
		timeout = serverOptionDefaults.ReadyTimeout
	}
	s.NS.Start()
	if !s.NS.ReadyForConnections(timeout) {
		return fmt.Errorf("server not ready after %s", timeout.String())
	}
	return nil
}

// Conn opens a client connection to the server.
func (s Server) Conn(opts ...nats.Option) (*nats.Conn, error) {
	nc, err := nats.Connect(s.NS.ClientURL(), opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return nc, nil
}

// Shutdown stops the server and waits until it is down.
func (s Server) Shutdown() {
	s.NS.Shutdown()
	s.NS.WaitForShutdown()
}

type ServerConfig struct {
	Dir   string
	Debug bool
	Host  string
	Port  int
}

func generateConfigFile(config ServerConfig) (string, error) {
	const natsConf = `
host: "{{ .Host }}"
port: {{ .Port }}

debug: {{ .Debug }}

# JetStream configuration
jetstream {
	store_dir: "{{ .Dir }}/jetstream"
}
`
	t, err := template.New("nats.conf").Parse(natsConf)
	if err != nil {
		return "", fmt.Errorf("parsing nats conf template: %w", err)
	}
	var buf strings.Builder
	if err := t.Execute(&buf, config); err != nil {
		return "", fmt.Errorf("executing nats conf template: %w", err)
	}
	return buf.String(), nil
}

func findAvailablePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return -1, fmt.Errorf("listen: %w", err)
	}
	l.Close()

	return l.Addr().(*net.TCPAddr).Port, nil
}
