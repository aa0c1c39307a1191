// Package main is the entry point of the IAM gateway.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// version is set at build time via ldflags
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "iam-gateway",
	Short: "Session and token gateway in front of a remote IAM authority",
	Long: `iam-gateway authenticates requests against a remote IAM authority.

It keeps server-side sessions for browsers, verifies bearer tokens with a
short-lived cache and answers reverse-proxy auth subrequests on /validate.

Example usage:
  iam-gateway serve          # Start the HTTP server (default)
  iam-gateway healthcheck    # Probe the local /health endpoint
  iam-gateway version        # Print version information`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  rootCmd.RunE,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}
