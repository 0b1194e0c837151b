package cli

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/fog-of-explore/explore/internal/daemon"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configInitCmd.Flags().Bool("force", false, "overwrite an existing config file")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the config file",
}

// ─── config init ────────────────────────────────────────────────────────────

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config file",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	path := cfgFile
	if path == "" {
		path = daemon.ConfigPath()
	}
	if _, err := os.Stat(path); err == nil && !force {
		return eris.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := daemon.DefaultConfig().Save(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ Wrote %s\n", path)
	return nil
}

// ─── config show ────────────────────────────────────────────────────────────

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective config (file, .env and environment merged)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return eris.Wrap(toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg), "encode config")
	},
}
