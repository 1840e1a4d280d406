package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jwalitptl/nurse-call-api/internal/config"
	"github.com/jwalitptl/nurse-call-api/pkg/auth"
)

// newTokenCommand issues a token for local testing against a server that
// shares the same secret.
func newTokenCommand(configPath *string) *cobra.Command {
	var (
		userID string
		role   string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed identity token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not set")
			}
			if !auth.Role(role).Valid() {
				return fmt.Errorf("unknown role %q", role)
			}

			token, err := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).Generate(userID, auth.Role(role))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id to embed")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleNurse), "role: nurse, patient or admin")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
