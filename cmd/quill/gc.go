// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/quilljournal/quill/internal/journal"
)

const defaultOrphanGrace = time.Hour

// NewGCOrphansCmd creates the gc-orphans subcommand.
func NewGCOrphansCmd() *cobra.Command {
	var grace time.Duration

	cmd := &cobra.Command{
		Use:   "gc-orphans",
		Short: "Delete entries that no user owns",
		Long: `Deletes entries missing from every user's entry list. Only entries
older than the grace period are removed so that concurrent creates are
never collected.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if _, err := databaseURL(cfg); err != nil {
				return err
			}

			logger := slog.Default()
			be, err := openBackend(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer be.Close()
			return collectOrphans(cmd.Context(), cmd.OutOrStdout(), be, grace, logger)
		},
	}

	cmd.Flags().DurationVar(&grace, "grace", defaultOrphanGrace, "minimum age of a collected entry")

	return cmd
}

func collectOrphans(ctx context.Context, out io.Writer, be *backend, grace time.Duration, logger *slog.Logger) error {
	coordinator, err := journal.NewCoordinator(journal.CoordinatorConfig{
		Entries:    be.Entries,
		Ownership:  be.Ownership,
		Users:      be.Users,
		Transactor: be.Transactor,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	n, err := coordinator.CollectOrphans(ctx, grace)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "Removed %d orphaned entries\n", n)
	return err
}
