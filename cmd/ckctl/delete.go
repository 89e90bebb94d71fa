package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type deleteCmdOptions struct {
	selector string
}

var deleteOpts deleteCmdOptions

var deleteCmd = &cobra.Command{
	Use:   "delete <kind> [name]",
	Short: "Delete clusterkit objects by name or label selector.",
	Example: `  ckctl delete rc nginx-controller -n thisisatest
  ckctl delete rc -n thisisatest -l server=nginx`,
	Args:          cobra.RangeArgs(1, 2),
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := kindFor(args[0])
		if err != nil {
			return err
		}
		if len(args) == 1 && deleteOpts.selector == "" {
			return fmt.Errorf("a name or a label selector is required")
		}
		if len(args) == 2 && deleteOpts.selector != "" {
			return fmt.Errorf("a name and a label selector cannot both be given")
		}
		cfg := clientConfig()
		client, err := dial(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		if len(args) == 2 {
			if err := client.Delete(cmd.Context(), k.key(cfg.Namespace, args[1])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %q deleted\n", k.name, args[1])
			return nil
		}
		n, err := k.deleteAll(cmd.Context(), client, cfg.Namespace, deleteOpts.selector)
		fmt.Fprintf(cmd.OutOrStdout(), "%d %s deleted\n", n, k.name)
		return err
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)

	deleteCmd.Flags().
		StringVarP(&deleteOpts.selector, "selector", "l", "", "label selector")
}
