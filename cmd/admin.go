package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	adminUserName string
	adminEmail    string
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Bootstrap administrator accounts",
}

var adminCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a confirmed administrator; the password is read from WARDEN_ADMIN_PASSWORD or stdin",
	RunE: func(cmd *cobra.Command, args []string) error {
		password := os.Getenv("WARDEN_ADMIN_PASSWORD")
		if password == "" {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return errors.New("no password given on stdin")
			}
			password = strings.TrimRight(line, "\r\n")
		}

		a, err := newApp(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer a.close()

		user, err := a.userSvc.CreateAdmin(cmd.Context(), adminUserName, adminEmail, password, a.cfg.Auth.AdminRole)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created administrator %s (id %d, roles %s)\n",
			user.UserName, user.ID, strings.Join(user.Roles, ","))
		return nil
	},
}

func init() {
	f := adminCreateCmd.Flags()
	f.StringVar(&adminUserName, "username", "", "login name (required)")
	f.StringVar(&adminEmail, "email", "", "email address (required)")
	_ = adminCreateCmd.MarkFlagRequired("username")
	_ = adminCreateCmd.MarkFlagRequired("email")
	adminCmd.AddCommand(adminCreateCmd)
}
