// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for convarchive.
//
// Configuration is read from a TOML file, with sensible defaults,
// environment variable overrides, and validation.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (CONVARCHIVE_*)
//   - ~/.convarchive/config.toml, or the file passed with --config
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	exp := archive.NewExporter(svc, archive.WithCreatedBy(cfg.Export.CreatedBy))
//	res, err := exp.Export(ctx, ids, cfg.Export.Destination, cfg.Export.Options(), nil)
package config
