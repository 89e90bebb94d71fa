package main

import (
	"fmt"
	"regexp"

	"github.com/clusterkit/clusterkit/pkg/ckctl"
	"github.com/spf13/cobra"
	yaml "sigs.k8s.io/yaml/goyaml.v2"
)

var contextNameRegexp = regexp.MustCompile("^[a-zA-Z0-9_-]+$")

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Manage clusterkit contexts",
	Long:  `Contexts name clusters and the defaults used to talk to them.`,
}

type contextAddCmdOptions struct {
	name string
}

var contextAddOpts contextAddCmdOptions

var contextAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a context, or replace one with the same name.",
	Example: `  ckctl context add --name local --server nats://localhost:4222
  ckctl context add --name staging --server nats://staging:4222 -n team`,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if contextAddOpts.name == "" {
			return fmt.Errorf("context name is required")
		}
		if !contextNameRegexp.MatchString(contextAddOpts.name) {
			return fmt.Errorf("invalid context name: %q", contextAddOpts.name)
		}
		if rootOpts.server == "" {
			return fmt.Errorf("context server is required")
		}
		config.Add(ckctl.Context{
			Name:      contextAddOpts.name,
			Server:    rootOpts.server,
			Namespace: rootOpts.namespace,
			Timeout:   rootOpts.timeout,
		})
		return ckctl.SaveConfig(rootOpts.configFile, config)
	},
}

type contextSetCmdOptions struct {
	current string
}

var contextSetOpts contextSetCmdOptions

var contextSetCmd = &cobra.Command{
	Use:           "set",
	Short:         "Set the current context.",
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if contextSetOpts.current == "" {
			return nil
		}
		changed, err := config.SetCurrent(contextSetOpts.current)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		return ckctl.SaveConfig(rootOpts.configFile, config)
	},
}

var contextGetCmd = &cobra.Command{
	Use:           "get [name]",
	Short:         "Print a context, or the current one.",
	Args:          cobra.MaximumNArgs(1),
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		name := config.CurrentContext
		if len(args) == 1 {
			name = args[0]
		}
		ctx, ok := config.Get(name)
		if !ok {
			if name == "" {
				return ckctl.ErrNoContext
			}
			return fmt.Errorf("context %q not found", name)
		}
		data, err := yaml.Marshal(ctx)
		if err != nil {
			return fmt.Errorf("marshal context: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(contextCmd)
	contextCmd.AddCommand(contextAddCmd, contextSetCmd, contextGetCmd)

	contextAddCmd.Flags().
		StringVar(&contextAddOpts.name, "name", "", "name of the context")
	contextSetCmd.Flags().
		StringVar(&contextSetOpts.current, "current", "", "name of the current context")
}
