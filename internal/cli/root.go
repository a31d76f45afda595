package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dwizi/listing-intake/internal/adminclient"
	"github.com/dwizi/listing-intake/internal/app"
	"github.com/dwizi/listing-intake/internal/config"
	"github.com/dwizi/listing-intake/internal/ingest"
)

const version = "0.1.0"

func NewRoot(logger *slog.Logger) *cobra.Command {
	var timeoutSec int
	root := &cobra.Command{
		Use:           "listing-intake",
		Short:         "Listing Intake turns broker chat messages into listings",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().IntVar(&timeoutSec, "timeout-sec", 120, "admin API request timeout in seconds")

	root.AddCommand(newServeCommand(logger))
	root.AddCommand(newSessionsCommand(&timeoutSec))
	root.AddCommand(newProcessCommand(&timeoutSec))
	root.AddCommand(newMessagesCommand(&timeoutSec))
	root.AddCommand(newStatsCommand(&timeoutSec))
	root.AddCommand(newHashCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func newServeCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline scheduler, chat sessions and admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			runtime, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			defer runtime.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runtime.Run(ctx)
		},
	}
}

func newHashCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash [content]",
		Short: "Print the dedup hash of a message body",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(ingest.ContentHash(strings.Join(args, " ")))
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}
}

func newAdminClientFromEnv(timeoutSec int) (*adminclient.Client, error) {
	client, err := adminclient.New(config.FromEnv())
	if err != nil {
		return nil, err
	}
	return client.WithTimeout(boundedTimeout(timeoutSec)), nil
}

func boundedTimeout(input int) time.Duration {
	if input < 1 {
		input = 120
	}
	if input > 600 {
		input = 600
	}
	return time.Duration(input) * time.Second
}

func requestContext(timeoutSec int) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), boundedTimeout(timeoutSec))
}
