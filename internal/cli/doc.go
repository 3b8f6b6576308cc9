// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the convarchive command tree on top of cobra.
//
// Commands:
//
//	convarchive export [id...] [--all]   Write a bundle from the live store
//	convarchive import <bundle>          Read a bundle into the live store
//	convarchive preview <bundle>         Show a bundle's manifest without importing
//	convarchive show <bundle> <id>       Render one conversation of a bundle
//	convarchive list                     List conversations in the live store
//	convarchive watch                    Import bundles dropped into the inbox
//	convarchive config init|show         Manage the TOML configuration
//	convarchive version                  Show version information
//
// Every command accepts --config, --json and --log-level. With --json the
// command prints one JSONResponse on stdout and logs go to stderr.
//
// Exit codes are listed in errors.go. An import that completes with
// per-conversation failures exits with ExitPartialFailure.
package cli
