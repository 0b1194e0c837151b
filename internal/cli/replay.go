package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/fog-of-explore/explore/internal/daemon"
	"github.com/fog-of-explore/explore/internal/infra/jsonfile"
	"github.com/fog-of-explore/explore/internal/infra/provider"
)

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().Duration("interval", 0, "delay between readings (0 replays as fast as possible)")
	replayCmd.Flags().Bool("fresh", false, "start from a fresh player and discard the result")
	replayCmd.Flags().BoolP("verbose", "v", false, "print every reading and nearby list")
	replayCmd.Flags().Bool("json", false, "print the summary as JSON")
}

var replayCmd = &cobra.Command{
	Use:   "replay TRACK",
	Short: "Replay a recorded track through the game",
	Long: `Feed a recorded track (CSV of lat,lon,accuracy,timestamp or a GeoJSON
FeatureCollection of Points) through the session as if it were live. Cooldowns
are measured against the reading timestamps. Progress is saved to the
configured storage unless --fresh is set.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	interval, _ := cmd.Flags().GetDuration("interval")
	fresh, _ := cmd.Flags().GetBool("fresh")
	verbose, _ := cmd.Flags().GetBool("verbose")
	asJSON, _ := cmd.Flags().GetBool("json")
	out := cmd.OutOrStdout()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	track, err := provider.LoadTrack(args[0])
	if err != nil {
		return err
	}
	if len(track) == 0 {
		return eris.Errorf("track %s has no readings", args[0])
	}

	replay := provider.NewReplay(track, interval)
	var feed io.Writer = out
	if asJSON {
		feed = io.Discard
	}
	console := newConsolePresenter(feed, verbose)
	opts := daemon.Options{Provider: replay, UseSampleTime: true, Extra: console}

	if fresh {
		dir, err := os.MkdirTemp("", "explore-replay-")
		if err != nil {
			return eris.Wrap(err, "create scratch dir")
		}
		defer os.RemoveAll(dir)
		opts.Storage = &daemon.Storage{Driver: daemon.DriverJSON, Store: jsonfile.New(filepath.Join(dir, "state.json"))}
	}

	d, err := daemon.New(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Session().Start(ctx); err != nil {
		return eris.Wrap(err, "start session")
	}

	interrupted := false
	select {
	case <-replay.Done():
		replay.Wait()
		drainCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := d.Session().Drain(drainCtx)
		cancel()
		if err != nil && ctx.Err() == nil {
			return eris.Wrap(err, "drain readings")
		}
		interrupted = ctx.Err() != nil
	case <-ctx.Done():
		interrupted = true
	}
	d.Session().Stop()

	sum := console.summary(d.Session().State())
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	}

	fmt.Fprintln(out, "")
	if interrupted {
		fmt.Fprintf(out, "⏹  Replay interrupted (%d readings not played)\n", replay.Remaining())
	} else {
		fmt.Fprintf(out, "✅ Replayed %d readings\n", len(track))
	}
	fmt.Fprintf(out, "   Visits:   %d (+%d pts)\n", sum.Visits, sum.PointsEarned)
	if sum.Rejected > 0 {
		fmt.Fprintf(out, "   Rejected: %d low-accuracy readings\n", sum.Rejected)
	}
	if sum.LevelUps > 0 {
		fmt.Fprintf(out, "   Level ups: %d\n", sum.LevelUps)
	}
	fmt.Fprintf(out, "   Now:      level %d · %d pts · %d locations visited\n", sum.Level, sum.CumulativePoints, sum.Visited)
	return nil
}
