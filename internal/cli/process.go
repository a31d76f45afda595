package cli

import (
	"github.com/spf13/cobra"
)

func newProcessCommand(timeoutSec *int) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run listing extraction via admin API",
	}
	cmd.AddCommand(newProcessSingleCommand(timeoutSec))
	cmd.AddCommand(newProcessBatchCommand(timeoutSec))
	return cmd
}

func newProcessSingleCommand(timeoutSec *int) *cobra.Command {
	var commit bool
	cmd := &cobra.Command{
		Use:   "single <message-id>",
		Short: "Extract one stored message, optionally writing the listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAdminClientFromEnv(*timeoutSec)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(*timeoutSec)
			defer cancel()
			outcome, err := client.ProcessSingle(ctx, args[0], commit)
			if err != nil {
				return err
			}
			text, err := renderOutcome(outcome)
			if err != nil {
				return err
			}
			cmd.Print(text)
			return nil
		},
	}
	cmd.Flags().BoolVar(&commit, "commit", false, "create the listing and link the message")
	return cmd
}

func newProcessBatchCommand(timeoutSec *int) *cobra.Command {
	var pageSize int
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Process unlinked messages page by page",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAdminClientFromEnv(*timeoutSec)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(*timeoutSec)
			defer cancel()
			result, err := client.ProcessBatch(ctx, pageSize)
			if err != nil {
				return err
			}
			cmd.Print(renderBatch(result))
			return nil
		},
	}
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "messages per page")
	return cmd
}

func newMessagesCommand(timeoutSec *int) *cobra.Command {
	var (
		filter string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "messages",
		Short: "List stored inbound messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAdminClientFromEnv(*timeoutSec)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(*timeoutSec)
			defer cancel()
			messages, err := client.ListMessages(ctx, filter, limit)
			if err != nil {
				return err
			}
			cmd.Print(renderMessages(messages))
			return nil
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "unlinked", "unlinked, linked or all")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum messages to show")
	return cmd
}

func newStatsCommand(timeoutSec *int) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show message and listing counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAdminClientFromEnv(*timeoutSec)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(*timeoutSec)
			defer cancel()
			stats, err := client.Stats(ctx)
			if err != nil {
				return err
			}
			cmd.Print(renderStats(stats))
			return nil
		},
	}
}
