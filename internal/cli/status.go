package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fog-of-explore/explore/internal/app/progression"
	"github.com/fog-of-explore/explore/internal/app/session"
	"github.com/fog-of-explore/explore/internal/daemon"
	"github.com/fog-of-explore/explore/internal/domain"
)

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().Bool("json", false, "print as JSON")
	statusCmd.Flags().Int("history", 5, "number of recent visits to show (0 hides them)")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the player's level and progress",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

type statusView struct {
	Player   string               `json:"player"`
	Storage  string               `json:"storage"`
	Progress progression.Progress `json:"progress"`
	Visited  int                  `json:"visited"`
	Total    int                  `json:"total_locations"`
	Recent   []domain.VisitEvent  `json:"recent,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	historyN, _ := cmd.Flags().GetInt("history")
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	cat, err := cfg.LoadCatalog()
	if err != nil {
		return err
	}
	st, err := daemon.OpenStorage(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer st.Close()

	state := session.LoadState(ctx, st.Store, zap.L())
	view := statusView{
		Player:   cfg.Storage.PlayerID,
		Storage:  st.Driver,
		Progress: progression.New(cat).Progress(state.CumulativePoints),
		Visited:  state.VisitedCount(),
		Total:    cat.Len(),
	}
	if st.History != nil && historyN > 0 {
		recent, err := st.History.RecentVisits(ctx, historyN)
		if err != nil {
			zap.L().Warn("read visit history", zap.Error(err))
		}
		view.Recent = recent
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	p := view.Progress
	fmt.Fprintf(out, "Player %q (%s storage)\n", view.Player, view.Storage)
	fmt.Fprintf(out, "  Level:    %d\n", p.Level)
	fmt.Fprintf(out, "  Points:   %d\n", p.Points)
	if p.MaxLevel {
		fmt.Fprintln(out, "  Next:     max level reached 🏆")
	} else {
		fmt.Fprintf(out, "  Next:     %d pts to level %d (%.0f%%)\n", p.ToNextLevel, p.Level+1, p.Percent)
	}
	fmt.Fprintf(out, "  Visited:  %d of %d locations\n", view.Visited, view.Total)

	if len(view.Recent) > 0 {
		sort.SliceStable(view.Recent, func(i, j int) bool { return view.Recent[i].VisitedAt > view.Recent[j].VisitedAt })
		fmt.Fprintln(out, "\nRecent visits:")
		for _, ev := range view.Recent {
			fmt.Fprintf(out, "  • %s  +%d pts  %s\n", ev.Location.Name, ev.PointsAwarded, formatMillis(ev.VisitedAt))
		}
	}
	return nil
}
