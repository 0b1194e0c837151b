package cli

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/fog-of-explore/explore/internal/daemon"
)

func init() {
	rootCmd.AddCommand(resetCmd)
	resetCmd.Flags().BoolP("yes", "y", false, "confirm the reset")
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Erase the player's progress",
	Long:  `Erase every point, level and visit stored for the configured player. The visit history, where kept, is erased too.`,
	Args:  cobra.NoArgs,
	RunE:  runReset,
}

func runReset(cmd *cobra.Command, args []string) error {
	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		return eris.New("refusing to reset without --yes")
	}

	st, err := daemon.OpenStorage(cmd.Context(), cfg.Storage)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Store.Reset(cmd.Context()); err != nil {
		return eris.Wrap(err, "reset progress")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ Progress for %q reset.\n", cfg.Storage.PlayerID)
	return nil
}
