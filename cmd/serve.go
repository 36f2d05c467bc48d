// File: cmd/serve.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/routelens/internal/server"
)

// serveCmd runs the command server until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the routelens command server",
	Long: `Starts the HTTP command surface: POST /api/v1/command for analysis
commands (path_enrichment, topology_visualization, anomaly_detection, schema
introspection, prompt templates) and /ws/v1/trace for streamed reports.

The server requires a reachable PostgreSQL instance holding the hop and
metadata tables; set ROUTELENS_DATABASE_URL or database.url in the config.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, err := server.NewServer()
		if err != nil {
			return fmt.Errorf("failed to initialize server: %w", err)
		}
		// Blocks until SIGINT/SIGTERM.
		return srv.Start()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
