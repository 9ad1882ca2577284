// KaliMCP — sandboxed execution engine for whitelisted security tools.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kalimcp",
	Short: "KaliMCP — sandboxed execution engine for whitelisted security tools.",
	Long: `KaliMCP exposes a fixed allow-list of security tools (nmap, nikto, sqlmap, ...)
over HTTP and the Model Context Protocol. Every run is validated against the
allow-list, stripped of shell interpretation, confined to a sandbox directory,
killed at its timeout, and recorded in an append-only audit trail.`,
	RunE:          runServe, // Default to server mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, mcpCmd, runCmd, toolsCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
