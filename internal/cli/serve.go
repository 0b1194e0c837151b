package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fog-of-explore/explore/internal/daemon"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "API port (default from config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "API host (default from config)")
}

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the game server",
	Long: `Start the HTTP API. Clients post readings to /api/position; the session
starts with the first reading and keeps watching until the process exits.
Progress is saved to the configured storage after every credited visit.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := cfg
	if servePort != 0 {
		c.API.Port = servePort
	}
	if serveHost != "" {
		c.API.Host = serveHost
	}

	d, err := daemon.New(ctx, c, daemon.Options{})
	if err != nil {
		return err
	}
	defer d.Close()

	zap.L().Info("explore server starting", zap.String("addr", c.API.Addr()), zap.String("version", daemon.Version))
	return d.Run(ctx)
}
