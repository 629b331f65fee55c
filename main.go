package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8080"

var (
	configPath string
	serverURL  string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tasksync",
		Short:         "Shared task list with live change push",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (environment variables override it)")
	root.PersistentFlags().StringVar(&serverURL, "server", defaultServer, "base URL of a running server")

	root.AddCommand(newServeCmd())
	root.AddCommand(newEventsCmd())
	root.AddCommand(newRescheduleCmd())
	root.AddCommand(newWatchCmd())
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
