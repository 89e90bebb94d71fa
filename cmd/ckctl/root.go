package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/clusterkit/clusterkit/pkg/ck"
	"github.com/clusterkit/clusterkit/pkg/ckctl"
	"github.com/spf13/cobra"
)

type rootCmdOptions struct {
	configFile string
	server     string
	namespace  string
	timeout    time.Duration
}

var (
	rootOpts rootCmdOptions
	config   ckctl.Config
)

var rootCmd = &cobra.Command{
	Use:          "ckctl",
	Short:        "ckctl manages clusterkit resources.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if rootOpts.configFile == "" {
			path, err := ckctl.DefaultConfigFile()
			if err != nil {
				return err
			}
			rootOpts.configFile = path
		}
		var err error
		config, err = ckctl.LoadConfig(rootOpts.configFile)
		return err
	},
}

// clientConfig merges the current context with the global flags.
func clientConfig() ck.Config {
	current, _ := config.Current()
	cfg := current.ClientConfig()
	if rootOpts.server != "" {
		cfg.MasterURL = rootOpts.server
	}
	if rootOpts.namespace != "" {
		cfg.Namespace = rootOpts.namespace
	}
	if rootOpts.timeout != 0 {
		cfg.RequestTimeout = rootOpts.timeout
	}
	if cfg.Namespace == "" {
		cfg.Namespace = ck.DefaultNamespace
	}
	return cfg
}

func dial(ctx context.Context) (*ck.Client, error) {
	cfg := clientConfig()
	client, err := ck.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	slog.Debug("connected", "server", client.Conn.ConnectedUrl())
	return client, nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		for _, s := range ck.Suppressed(err) {
			fmt.Fprintf(os.Stderr, "  suppressed: %s\n", s)
		}
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(
		&rootOpts.configFile,
		"config",
		"",
		"config file (default is $HOME/.config/clusterkit/config.yaml)",
	)
	flags.StringVar(
		&rootOpts.server,
		"server",
		"",
		"nats url of the cluster, overrides the current context",
	)
	flags.StringVarP(
		&rootOpts.namespace,
		"namespace",
		"n",
		"",
		"namespace of namespaced kinds",
	)
	flags.DurationVar(
		&rootOpts.timeout,
		"timeout",
		0,
		"timeout of each request to the cluster",
	)
}
