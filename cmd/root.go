package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "deployctl",
		Short:         "deployctl: run S3 gateway provisioning commands over a WebSocket",
		Long:          "deployctl serves a WebSocket endpoint that writes the deployment configuration file and runs provisioning commands in the workspace, streaming their output back to the browser terminal.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a deployctl TOML settings file")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(opts),
		newStatusCmd(opts),
		newConfigCmd(),
	)

	return rootCmd
}
