// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides file and naming helpers shared by the archive,
// storage and config packages.
//
// # Key Functions
//
// File Operations:
//   - AtomicWriteFile: Crash-safe file writing with fsync
//   - AtomicWriteStream: AtomicWriteFile for content produced by a writer func
//   - SyncDir: fsync a directory so renames inside it are durable
//
// Naming:
//   - SanitizeName: NFC-normalized, filesystem-safe name
//   - TruncateRunes: UTF-8 safe string truncation with ellipsis
//
// # Usage
//
//	// Write files atomically to prevent data loss
//	err := util.AtomicWriteFile(path, data, 0644)
//
//	// Turn a user supplied title into a bundle name
//	name := util.SanitizeName(title, "archive")
package util
