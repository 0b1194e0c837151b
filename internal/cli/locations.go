package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fog-of-explore/explore/internal/app/session"
	"github.com/fog-of-explore/explore/internal/daemon"
	"github.com/fog-of-explore/explore/internal/domain"
	"github.com/fog-of-explore/explore/internal/geo"
	"github.com/fog-of-explore/explore/internal/infra/catalog"
)

func init() {
	rootCmd.AddCommand(locationsCmd)
	locationsCmd.Flags().Float64("lat", 0, "latitude to measure distances from")
	locationsCmd.Flags().Float64("lon", 0, "longitude to measure distances from")
	locationsCmd.Flags().Bool("nearby", false, "only list locations within the nearby distance of --lat/--lon")
	locationsCmd.Flags().Bool("no-progress", false, "do not read stored progress")
}

var locationsCmd = &cobra.Command{
	Use:   "locations",
	Short: "List the points of interest",
	Long: `List every location in the catalog with its points, category and radius.
With --lat and --lon the distance to each is shown; add --nearby to keep only
the ones within the configured nearby distance, closest first.`,
	Args: cobra.NoArgs,
	RunE: runLocations,
}

func runLocations(cmd *cobra.Command, args []string) error {
	noProgress, _ := cmd.Flags().GetBool("no-progress")
	nearbyOnly, _ := cmd.Flags().GetBool("nearby")
	lat, _ := cmd.Flags().GetFloat64("lat")
	lon, _ := cmd.Flags().GetFloat64("lon")
	hasPos := cmd.Flags().Changed("lat") || cmd.Flags().Changed("lon")
	ctx := cmd.Context()

	if nearbyOnly && !hasPos {
		return eris.New("--nearby needs --lat and --lon")
	}
	if hasPos && !geo.ValidCoordinate(lat, lon) {
		return eris.Errorf("invalid coordinate %v, %v", lat, lon)
	}

	cat, err := cfg.LoadCatalog()
	if err != nil {
		return err
	}

	state := domain.NewPlayerState()
	if !noProgress {
		st, err := daemon.OpenStorage(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		state = session.LoadState(ctx, st.Store, zap.L())
		st.Close()
	}

	var rows []domain.NearbyLocation
	if nearbyOnly {
		rows = cat.Nearby(lat, lon, cat.Rules().NearbyDistance)
	} else {
		for _, loc := range cat.Locations() {
			row := domain.NearbyLocation{Location: loc}
			if hasPos {
				row.Distance = geo.DistanceMeters(lat, lon, loc.Latitude, loc.Longitude)
			}
			rows = append(rows, row)
		}
	}

	if len(rows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No locations nearby.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	header := "ID\tNAME\tCATEGORY\tPOINTS\tRADIUS\tVISITED"
	if hasPos {
		header += "\tDISTANCE"
	}
	fmt.Fprintln(tw, header)
	for _, r := range rows {
		loc := r.Location
		visited := ""
		if ts, ok := state.LastVisit(loc.ID); ok {
			visited = "✓ " + formatMillis(ts)
		}
		line := fmt.Sprintf("%d\t%s\t%s %s\t%d\t%.0fm\t%s",
			loc.ID, loc.Name, catalog.CategoryEmoji(loc.Category), loc.Category, loc.BasePoints, loc.VisitRadius, visited)
		if hasPos {
			line += fmt.Sprintf("\t%.0fm", r.Distance)
		}
		fmt.Fprintln(tw, line)
	}
	return tw.Flush()
}
