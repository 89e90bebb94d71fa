package main

import (
	"github.com/clusterkit/clusterkit/pkg/ckctl"
	"github.com/spf13/cobra"
)

var exampleCmd = &cobra.Command{
	Use:   "example",
	Short: "Run a walkthrough of every client operation.",
	Long: `Creates the namespace "thisisatest" with a quota and runs replication
controllers through their lifecycle while watching them. The namespace is
deleted again at the end.`,
	Args:          cobra.NoArgs,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dial(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()
		return ckctl.RunExample(cmd.Context(), client)
	},
}

func init() {
	rootCmd.AddCommand(exampleCmd)
}
