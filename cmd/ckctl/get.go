package main

import (
	"encoding/json"
	"fmt"

	"github.com/clusterkit/clusterkit/pkg/ck"
	"github.com/spf13/cobra"
)

type getCmdOptions struct {
	selector      string
	allNamespaces bool
}

var getOpts getCmdOptions

var getCmd = &cobra.Command{
	Use:   "get <kind> [name]",
	Short: "Get clusterkit objects.",
	Example: `  ckctl get namespaces
  ckctl get rc -n thisisatest -l server=nginx
  ckctl get rc nginx-controller -n thisisatest`,
	Args:          cobra.RangeArgs(1, 2),
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := kindFor(args[0])
		if err != nil {
			return err
		}
		cfg := clientConfig()
		client, err := dial(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		if len(args) == 2 {
			data, err := client.Get(cmd.Context(), k.key(cfg.Namespace, args[1]))
			if err != nil {
				return err
			}
			return printObject(cmd.OutOrStdout(), data)
		}

		namespace := cfg.Namespace
		if getOpts.allNamespaces {
			namespace = ""
		}
		selector, err := ck.ParseSelector(getOpts.selector, "")
		if err != nil {
			return err
		}
		list, err := client.List(cmd.Context(), k.key(namespace, ""), selector)
		if err != nil {
			return err
		}
		if len(list.Items) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No objects found")
			return nil
		}
		objects := make([]ck.GenericObject, len(list.Items))
		for i, item := range list.Items {
			if err := json.Unmarshal(item, &objects[i]); err != nil {
				return fmt.Errorf("decoding object: %w", err)
			}
		}
		printObjects(cmd.OutOrStdout(), objects)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(getCmd)

	flags := getCmd.Flags()
	flags.StringVarP(&getOpts.selector, "selector", "l", "", "label selector")
	flags.BoolVarP(
		&getOpts.allNamespaces,
		"all-namespaces",
		"A",
		false,
		"list objects in all namespaces",
	)
}
