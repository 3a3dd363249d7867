// Command chatctl is a terminal client for the chat services.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type app struct {
	apiAddr     string
	gatewayAddr string
	username    string
	client      *apiClient
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "chatctl",
		Short:         "Chat from the terminal",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.client = newAPIClient(a.apiAddr, a.gatewayAddr)
			return a.client.login(cmd.Context(), a.username)
		},
	}

	cmd.PersistentFlags().StringVar(&a.apiAddr, "api", envOr("CHATCTL_API", "http://localhost:8081"), "api service address")
	cmd.PersistentFlags().StringVar(&a.gatewayAddr, "gateway", envOr("CHATCTL_GATEWAY", "http://localhost:8080"), "gateway service address")
	cmd.PersistentFlags().StringVarP(&a.username, "user", "u", envOr("CHATCTL_USER", "user1"), "username to log in as")

	cmd.AddCommand(
		newWhoamiCmd(a),
		newSendCmd(a),
		newHistoryCmd(a),
		newScheduleCmd(a),
		newScheduledCmd(a),
		newCancelCmd(a),
		newSendNowCmd(a),
		newConnectCmd(a),
	)
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Log in and print the user id and token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "user: %s\nid: %s\ntoken: %s\n", a.username, a.client.userID, a.client.token)
			return nil
		},
	}
}

func newSendCmd(a *app) *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "send <text>",
		Short: "Send a direct message and notify the recipient if online",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			msg, err := a.client.addMessage(cmd.Context(), to, text)
			if err != nil {
				return err
			}

			conn, err := dialGateway(cmd.Context(), a.client)
			if err != nil {
				return fmt.Errorf("message %d saved but not pushed: %w", msg.ID, err)
			}
			defer conn.close()
			if err := conn.sendMessage(a.client.userID, to, msg); err != nil {
				return fmt.Errorf("message %d saved but not pushed: %w", msg.ID, err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "sent %d\n", msg.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient user id")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var with string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the conversation with another user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			msgs, err := a.client.history(cmd.Context(), with)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range msgs {
				who := with
				if m.FromSelf {
					who = "me"
				}
				flags := ""
				if m.IsEdited {
					flags += " (edited)"
				}
				if m.IsRead && m.FromSelf {
					flags += " (seen)"
				}
				_, _ = fmt.Fprintf(out, "%s  %s: %s%s\n", m.CreatedAt.Local().Format(time.Kitchen), who, m.Message.Text, flags)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&with, "with", "", "other user id")
	_ = cmd.MarkFlagRequired("with")
	return cmd
}

func newScheduleCmd(a *app) *cobra.Command {
	var (
		to string
		at string
	)
	cmd := &cobra.Command{
		Use:   "schedule <text>",
		Short: "Schedule a message for later delivery",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			when, err := parseWhen(at, time.Now())
			if err != nil {
				return err
			}
			sm, err := a.client.schedule(cmd.Context(), to, strings.Join(args, " "), when)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "scheduled %s for %s\n", sm.ID, sm.ScheduledTime.Local().Format(time.RFC1123))
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient user id")
	cmd.Flags().StringVar(&at, "at", "", "RFC3339 time or a delay such as 10m")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

// parseWhen accepts an absolute RFC3339 time or a delay from now.
func parseWhen(s string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(strings.TrimPrefix(s, "+")); err == nil {
		return now.Add(d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at %q: want RFC3339 or a duration", s)
	}
	return t, nil
}

func newScheduledCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scheduled",
		Short: "List your pending scheduled messages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pending, err := a.client.pending(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(pending) == 0 {
				_, _ = fmt.Fprintln(out, "no pending messages")
				return nil
			}
			for _, sm := range pending {
				_, _ = fmt.Fprintf(out, "%s  %s  to=%s  %q\n", sm.ID, sm.ScheduledTime.Local().Format(time.RFC3339), sm.ToUserID, sm.Text)
			}
			return nil
		},
	}
}

func newCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a pending scheduled message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", args[0])
			return nil
		},
	}
}

func newSendNowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "send-now <id>",
		Short: "Deliver a pending scheduled message immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.sendNow(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", args[0])
			return nil
		},
	}
}
