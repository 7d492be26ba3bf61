// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/quilljournal/quill/internal/config"
	"github.com/quilljournal/quill/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the quill CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quill",
		Short: "quill - a personal journal backend",
		Long: `quill stores private journal entries behind token authentication.
Entries can be read aloud through a speech synthesis service, and the
signed-in greeting reports the local weather.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewCreateAdminCmd())
	cmd.AddCommand(NewGCOrphansCmd())

	return cmd
}

// loadConfig reads the layered configuration for cmd. Without --config the
// XDG config file is used when present.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configFile
	if path == "" {
		found, err := xdg.ConfigFile()
		if err != nil {
			slog.Warn("skipping default config file", "error", err)
		}
		path = found
	}
	return config.Load(config.Options{File: path, Flags: cmd.Flags()})
}
