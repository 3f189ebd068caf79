package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var version = "1.0.0"

// Execute runs the signalcache CLI.
func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:   "signalcache",
		Short: "Live-signal cache reconciliation engine",
		Long: `signalcache keeps locally cached read-views of trading signals
consistent under live push events, optimistic saves and manual refresh.`,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(versionCmd())
	return root.ExecuteContext(ctx)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the signalcache version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("signalcache %s\n", version)
		},
	}
}
