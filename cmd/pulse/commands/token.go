package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openpulse/openpulse/pkg/auth"
	"github.com/openpulse/openpulse/pkg/telemetry"
)

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage auth tokens and users",
	}

	cmd.AddCommand(newTokenIssueCommand())
	cmd.AddCommand(newTokenRevokeCommand())
	cmd.AddCommand(newTokenListCommand())
	cmd.AddCommand(newTokenAddUserCommand())

	return cmd
}

func openGate(cmd *cobra.Command) (*app, *auth.Gate, error) {
	a, err := openApp(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	var metrics *telemetry.Metrics
	metrics, err = telemetry.NewMetrics(a.cfg.Telemetry.Metrics)
	if err != nil {
		_ = a.Close()
		return nil, nil, err
	}
	return a, auth.NewGate(a.store, a.logger, metrics, a.cfg.TokenTTL()), nil
}

func newTokenIssueCommand() *cobra.Command {
	var (
		name        string
		role        string
		permissions []string
		ttlHours    int
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a new token",
		Example: `  # Issue a read-only operator token valid for a week
  pulse token issue --name ops-ro --role operator \
    --permission audit:read --ttl-hours 168`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, gate, err := openGate(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			token, err := gate.IssueToken(cmd.Context(), name, role, permissions,
				time.Duration(ttlHours)*time.Hour, auth.Requester{UserAgent: "pulse-cli"})
			if err != nil {
				return err
			}

			fmt.Printf("Token:   %s\n", token.Token)
			fmt.Printf("Expires: %s\n", token.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "token name")
	cmd.Flags().StringVar(&role, "role", "operator", "token role")
	cmd.Flags().StringArrayVar(&permissions, "permission", nil, "granted permission (repeatable, * for all)")
	cmd.Flags().IntVar(&ttlHours, "ttl-hours", 0, "token lifetime in hours (default from config)")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newTokenRevokeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <token>",
		Short: "Revoke a token immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, gate, err := openGate(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			revoked, err := gate.RevokeToken(cmd.Context(), args[0], auth.Requester{UserAgent: "pulse-cli"})
			if err != nil {
				return err
			}
			if !revoked {
				fmt.Println("Token unknown or already revoked")
				return nil
			}
			fmt.Println("Token revoked")
			return nil
		},
	}

	return cmd
}

func newTokenListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issued tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, gate, err := openGate(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			tokens, err := gate.ListTokens(cmd.Context(), limit)
			if err != nil {
				return err
			}

			for _, t := range tokens {
				state := "active"
				switch {
				case t.Revoked:
					state = "revoked"
				case !t.ExpiresAt.After(time.Now()):
					state = "expired"
				}
				fmt.Printf("%-36s  %-20s  %-10s  %-8s  expires %s\n",
					t.Token, t.Name, t.Role, state, t.ExpiresAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum tokens to list")

	return cmd
}

func newTokenAddUserCommand() *cobra.Command {
	var (
		username    string
		password    string
		role        string
		permissions []string
	)

	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "Create or update a user",
		Long: `Register a credentialled user able to authenticate against the
API. Running adduser for an existing username replaces its password,
role, and permission set.`,
		Example: `  pulse token adduser --username admin --password s3cret --permission '*'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, gate, err := openGate(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := gate.CreateUser(cmd.Context(), username, password, role, permissions); err != nil {
				return err
			}
			fmt.Printf("User %s created\n", username)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "username")
	cmd.Flags().StringVar(&password, "password", "", "password")
	cmd.Flags().StringVar(&role, "role", "operator", "user role")
	cmd.Flags().StringArrayVar(&permissions, "permission", nil, "granted permission (repeatable, * for all)")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}
