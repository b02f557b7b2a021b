package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

// newConfigCmd builds the "config" command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect callguard configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

// newConfigShowCmd builds "config show": prints the fully-resolved
// configuration (defaults overlaid with the config file), so a user can
// confirm what callclient.NewClient would actually be built with.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := ensureExists(flagConfigPath); err != nil {
				return fmt.Errorf("config file %s: %w", flagConfigPath, err)
			}

			cc := mustCLIContext(cmd.Context())

			if flagJSON {
				return writeJSON(cmd.OutOrStdout(), cc.Config)
			}

			enc := toml.NewEncoder(cmd.OutOrStdout())

			return enc.Encode(cc.Config)
		},
	}
}
