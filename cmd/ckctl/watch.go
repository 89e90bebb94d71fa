package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/clusterkit/clusterkit/pkg/ck"
	"github.com/spf13/cobra"
)

type watchCmdOptions struct {
	selector string
	initial  bool
}

var watchOpts watchCmdOptions

var watchCmd = &cobra.Command{
	Use:           "watch <kind>",
	Short:         "Print changes to clusterkit objects until interrupted.",
	Args:          cobra.ExactArgs(1),
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := kindFor(args[0])
		if err != nil {
			return err
		}
		selector, err := ck.ParseSelector(watchOpts.selector, "")
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg := clientConfig()
		client, err := dial(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		opts := []ck.WatcherOption{
			ck.WithWatcherFor(k.key(cfg.Namespace, "")),
			ck.WithWatcherSelector(selector),
		}
		if watchOpts.initial {
			opts = append(opts, ck.WithWatcherInitial())
		}
		out := cmd.OutOrStdout()
		watcher, err := ck.StartWatcher(
			ctx,
			client.Conn,
			func(event ck.WatchEvent[ck.GenericObject]) {
				if event.Action == ck.ActionError {
					fmt.Fprintf(out, "%s\t%s\n", event.Action, event.Err)
					return
				}
				fmt.Fprintf(
					out,
					"%s\t%s\t%s\t%d\n",
					event.Action,
					event.Object.Namespace,
					event.Object.Name,
					event.Object.Generation,
				)
			},
			opts...,
		)
		if err != nil {
			return err
		}
		defer watcher.Close()

		<-watcher.Done()
		return watcher.Err()
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)

	flags := watchCmd.Flags()
	flags.StringVarP(&watchOpts.selector, "selector", "l", "", "label selector")
	flags.BoolVar(
		&watchOpts.initial,
		"initial",
		false,
		"print existing objects before changes",
	)
}
