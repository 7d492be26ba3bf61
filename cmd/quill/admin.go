// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/quilljournal/quill/internal/auth"
	"github.com/quilljournal/quill/internal/config"
)

// AdminPasswordEnv holds the password for create-admin so it never appears
// in the process list.
const AdminPasswordEnv = "QUILL_ADMIN_PASSWORD"

// NewCreateAdminCmd creates the create-admin subcommand.
func NewCreateAdminCmd() *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account",
		Long: `Creates an account holding the User and ADMIN roles. Administrators
created over HTTP need an existing administrator; this command bootstraps
the first one. The password is read from ` + AdminPasswordEnv + `.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if cfg.Store.Driver != config.DriverPostgres {
				return oops.Code("CONFIG_INVALID").Errorf("create-admin needs the postgres store")
			}
			password := os.Getenv(AdminPasswordEnv)
			if password == "" {
				return oops.Code("CONFIG_INVALID").Errorf("%s is required", AdminPasswordEnv)
			}

			logger := slog.Default()
			be, err := openBackend(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer be.Close()

			gate, err := newGate(cfg, be.Users, logger)
			if err != nil {
				return err
			}
			return createAdmin(cmd.Context(), cmd.OutOrStdout(), gate, username, password)
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "administrator username")
	_ = cmd.MarkFlagRequired("username") //nolint:errcheck // flag is defined above

	return cmd
}

func createAdmin(ctx context.Context, out io.Writer, gate *auth.Service, username, password string) error {
	user, err := gate.BootstrapAdmin(ctx, username, password)
	if err != nil {
		return oops.With("username", username).Wrap(err)
	}
	_, err = io.WriteString(out, "Created administrator "+user.Username+" ("+user.ID.String()+")\n")
	return err
}
