// roomserver runs a standalone room server: the WebSocket transport mounted
// on an HTTP router together with health and metrics endpoints.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "roomserver",
		Short: "Real-time room server",
		Long: `roomserver exposes the real-time transport over a WebSocket endpoint.

Clients authenticate with a token, join named rooms and exchange events
with acknowledgments. The server also serves /healthz and Prometheus
metrics on /metrics.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("roomserver %s (%s, %s)\n", version, commit, runtime.Version())
		},
	}
}
