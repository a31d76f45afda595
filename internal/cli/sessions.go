package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dwizi/listing-intake/internal/adminclient"
)

func newSessionsCommand(timeoutSec *int) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "Manage chat sessions via admin API",
	}
	cmd.AddCommand(newSessionsListCommand(timeoutSec))
	cmd.AddCommand(newSessionsAddCommand(timeoutSec))
	cmd.AddCommand(newSessionsStatusCommand(timeoutSec))
	cmd.AddCommand(newSessionsStartCommand(timeoutSec))
	cmd.AddCommand(newSessionsStopCommand(timeoutSec))
	cmd.AddCommand(newSessionsCleanupCommand(timeoutSec))
	cmd.AddCommand(newSessionsSendCommand(timeoutSec))
	return cmd
}

func newSessionsListCommand(timeoutSec *int) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured sessions with their runtime state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAdminClientFromEnv(*timeoutSec)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(*timeoutSec)
			defer cancel()
			statuses, err := client.ListSessions(ctx)
			if err != nil {
				return err
			}
			cmd.Print(renderSessions(statuses))
			return nil
		},
	}
}

func newSessionsAddCommand(timeoutSec *int) *cobra.Command {
	var (
		request  adminclient.CreateSessionRequest
		settings []string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a chat account as a new session",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseSettings(settings)
			if err != nil {
				return err
			}
			request.Settings = parsed
			client, err := newAdminClientFromEnv(*timeoutSec)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(*timeoutSec)
			defer cancel()
			created, err := client.CreateSession(ctx, request)
			if err != nil {
				return err
			}
			cmd.Printf("%s session %s (%s)\n", styles.ok.Render("created"), created.SessionID, created.Provider)
			return nil
		},
	}
	cmd.Flags().StringVar(&request.ID, "id", "", "session id (generated when empty)")
	cmd.Flags().StringVar(&request.Name, "name", "", "display name")
	cmd.Flags().StringVar(&request.Provider, "provider", "", "chat provider: telegram, gateway or imap")
	cmd.Flags().StringVar(&request.Credentials, "credentials", "", "provider token or password")
	cmd.Flags().StringVar(&request.DeviceID, "device-id", "", "device identifier for providers that need one")
	cmd.Flags().BoolVar(&request.AutoStart, "auto-start", false, "start the session when the service boots")
	cmd.Flags().StringArrayVar(&settings, "setting", nil, "provider setting as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("provider")
	_ = cmd.MarkFlagRequired("credentials")
	return cmd
}

func newSessionsStatusCommand(timeoutSec *int) *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show one session's runtime state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAdminClientFromEnv(*timeoutSec)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(*timeoutSec)
			defer cancel()
			status, err := client.SessionStatus(ctx, args[0])
			if err != nil {
				return err
			}
			cmd.Print(renderSessionDetail(status))
			return nil
		},
	}
}

func newSessionsStartCommand(timeoutSec *int) *cobra.Command {
	return &cobra.Command{
		Use:   "start <session-id>",
		Short: "Log a session in and start listening",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAdminClientFromEnv(*timeoutSec)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(*timeoutSec)
			defer cancel()
			status, err := client.StartSession(ctx, args[0])
			if err != nil {
				return err
			}
			cmd.Printf("session %s %s\n", status.SessionID, renderState(status.State))
			return nil
		},
	}
}

func newSessionsStopCommand(timeoutSec *int) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <session-id>",
		Short: "Stop a running session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAdminClientFromEnv(*timeoutSec)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(*timeoutSec)
			defer cancel()
			stopped, err := client.StopSession(ctx, args[0])
			if err != nil {
				return err
			}
			if !stopped {
				cmd.Printf("session %s was not running\n", args[0])
				return nil
			}
			cmd.Printf("session %s %s\n", args[0], renderState("stopped"))
			return nil
		},
	}
}

func newSessionsCleanupCommand(timeoutSec *int) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup <session-id>",
		Short: "Stop a session and drop its runtime state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAdminClientFromEnv(*timeoutSec)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(*timeoutSec)
			defer cancel()
			cleaned, err := client.CleanupSession(ctx, args[0])
			if err != nil {
				return err
			}
			if !cleaned {
				cmd.Printf("session %s had no runtime state\n", args[0])
				return nil
			}
			cmd.Printf("session %s cleaned up\n", args[0])
			return nil
		},
	}
}

func newSessionsSendCommand(timeoutSec *int) *cobra.Command {
	var threadType string
	cmd := &cobra.Command{
		Use:   "send <session-id> <recipient> <message...>",
		Short: "Send a message through a listening session",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAdminClientFromEnv(*timeoutSec)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(*timeoutSec)
			defer cancel()
			content := strings.Join(args[2:], " ")
			if err := client.Send(ctx, args[0], args[1], threadType, content); err != nil {
				return err
			}
			cmd.Printf("%s to %s\n", styles.ok.Render("sent"), args[1])
			return nil
		},
	}
	cmd.Flags().StringVar(&threadType, "thread-type", "user", "recipient thread type: user or group")
	return cmd
}

func parseSettings(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	settings := make(map[string]string, len(raw))
	for _, item := range raw {
		key, value, ok := strings.Cut(item, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("setting %q must look like key=value", item)
		}
		settings[key] = strings.TrimSpace(value)
	}
	return settings, nil
}
