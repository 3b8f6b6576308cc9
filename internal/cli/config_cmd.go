// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/jeranaias/convarchive/internal/config"
)

func newConfigCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Args:  exactArgs(0),
		// init must work while the existing file is broken
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			app.cfg = config.Default()
			app.logger = app.cfg.Log.NewLogger(app.Stderr)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := app.configPath
			if path == "" {
				p, err := config.ConfigPath()
				if err != nil {
					return &ConfigError{Err: err}
				}
				path = p
			}
			if _, err := os.Stat(path); err == nil && !force {
				return usageErrorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.SaveTOML(config.Default(), path); err != nil {
				return &ConfigError{Path: path, Err: err}
			}
			return app.emit("config init", map[string]string{"path": path}, func(w io.Writer) {
				fmt.Fprintf(w, "Wrote %s\n", path)
			})
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.emit("config show", app.cfg, func(w io.Writer) {
				toml.NewEncoder(w).Encode(app.cfg)
			})
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
