// Package cli implements the explore command line.
package cli

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fog-of-explore/explore/internal/daemon"
)

var (
	cfgFile string
	cfg     daemon.Config
)

var rootCmd = &cobra.Command{
	Use:   "explore",
	Short: "Location-based exploration game engine",
	Long: `explore credits visits to points of interest as you move around, awards
points with a first-visit bonus, and tracks your level. Readings arrive over
HTTP from a phone or browser (explore serve) or from a recorded track
(explore replay).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := daemon.LoadConfig(cfgFile)
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := daemon.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $EXPLORE_HOME/config.toml)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
