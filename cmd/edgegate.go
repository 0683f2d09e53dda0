package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sambena/edgegate/cmd/server"
)

var edgegateCmd = &cobra.Command{
	Use:   "edgegate",
	Short: "Edgegate is an authenticating request gateway for storage services",
	Long: `Edgegate sits in front of an internal storage microservice and handles
authentication, tiered access control and resilient request forwarding.
Clients authenticate with session credentials or static API keys; the
gateway evaluates access policy against live resource metadata and
streams request and response bodies without buffering them.`,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := edgegateCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	edgegateCmd.AddCommand(server.ServerCmd)
}
