package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/clusterkit/clusterkit/pkg/natsutil"
	"github.com/clusterkit/clusterkit/pkg/server"
	"github.com/spf13/cobra"
)

type rootCmdOptions struct {
	host  string
	port  int
	dir   string
	debug bool
}

var rootOpts rootCmdOptions

var rootCmd = &cobra.Command{
	Use:          "clusterkit",
	Short:        "Run a clusterkit server with an embedded nats server and store.",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	natsOpts := []natsutil.ServerOption{
		natsutil.WithHost(rootOpts.host),
		natsutil.WithPort(rootOpts.port),
		natsutil.WithDebug(rootOpts.debug),
	}
	if rootOpts.dir != "" {
		natsOpts = append(natsOpts, natsutil.WithDir(rootOpts.dir))
	}
	s, err := server.New(
		ctx,
		server.WithDevMode(),
		server.WithNATSOptions(natsOpts...),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			slog.Error("closing clusterkit server", "error", err)
		}
	}()
	slog.Info(
		"clusterkit server started",
		"services", s.Services(),
		"url", s.URL(),
	)

	<-ctx.Done()
	// Stop listening for interrupts so that a second interrupt will force
	// shutdown.
	stop()
	slog.Info("interrupt received, shutting down clusterkit server")
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&rootOpts.host, "host", "localhost", "nats listen host")
	flags.IntVar(&rootOpts.port, "port", 4222, "nats listen port")
	flags.StringVar(
		&rootOpts.dir,
		"dir",
		"",
		"jetstream storage directory (default is $TMPDIR/clusterkit)",
	)
	flags.BoolVar(&rootOpts.debug, "debug", false, "enable nats debug logging")
}
