package cmd

import (
	"fmt"

	"github.com/bnema/deployctl/internal/adapters/configfile"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and render the deployment configuration file",
	}

	cmd.AddCommand(newConfigRenderCmd(), newConfigKeysCmd())
	return cmd
}

func newConfigRenderCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "render VALUES_FILE",
		Short: "Render a TOML file of KEY = value pairs as config_vars.txt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configfile.LoadValues(args[0])
			if err != nil {
				return err
			}

			if outPath == "" {
				layout, err := configfile.DefaultLayout()
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), layout.Render(cfg))
				return err
			}

			logger, err := newLogger("warn", cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			writer, err := configfile.NewWriter(outPath, logger)
			if err != nil {
				return err
			}
			if err := writer.Write(cmd.Context(), cfg); err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", writer.Path())
			return err
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", "Write to this path instead of stdout")
	return cmd
}

func newConfigKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List the configuration keys the file layout knows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			layout, err := configfile.DefaultLayout()
			if err != nil {
				return err
			}
			for _, key := range layout.Keys() {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), key); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
