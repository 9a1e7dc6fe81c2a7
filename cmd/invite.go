package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

var (
	inviteCreator uint
	inviteNotes   string
	inviteHours   int
	inviteEmail   string
)

var inviteCmd = &cobra.Command{
	Use:   "invite",
	Short: "Manage invites",
}

var inviteCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an invite code, or an email invite with --email",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer a.close()

		var hours *int
		if cmd.Flags().Changed("hours") {
			hours = &inviteHours
		}
		out := cmd.OutOrStdout()

		if inviteEmail != "" {
			invite, err := a.inviteSvc.GenerateEmailInvite(cmd.Context(), inviteEmail, inviteCreator, inviteNotes, hours)
			if err != nil {
				return err
			}
			printInvite(out, "token", invite.Token, invite.ExpiresAt)
			return nil
		}
		code, err := a.inviteSvc.GenerateCode(cmd.Context(), inviteCreator, inviteNotes, hours)
		if err != nil {
			return err
		}
		printInvite(out, "code", code.Code, code.ExpiresAt)
		return nil
	},
}

func printInvite(out io.Writer, kind, value string, expires time.Time) {
	fmt.Fprintf(out, "%s: %s\nexpires: %s\n", kind, value, expires.UTC().Format(time.RFC3339))
}

// withTimeout ttl 非正数时不设超时
func withTimeout(ctx context.Context, ttl time.Duration) (context.Context, context.CancelFunc) {
	if ttl <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, ttl)
}

func init() {
	f := inviteCreateCmd.Flags()
	f.UintVar(&inviteCreator, "creator", 0, "user id recorded as the creator (required)")
	f.StringVar(&inviteNotes, "notes", "", "free-form notes")
	f.IntVar(&inviteHours, "hours", 0, "lifetime in hours, defaults to the configured value")
	f.StringVar(&inviteEmail, "email", "", "create an email invite bound to this address")
	_ = inviteCreateCmd.MarkFlagRequired("creator")
	inviteCmd.AddCommand(inviteCreateCmd)
}
