// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the live stores that bundles are exported from
// and imported into.
//
// Two implementations are available and both satisfy every service interface
// of package archive:
//
//   - FileStore: one JSON file per conversation plus content-addressed blobs
//   - SQLiteStore: a single SQLite database (modernc.org/sqlite, no cgo)
//
// # Usage
//
//	store, err := storage.Open(storage.DriverSQLite, "~/.convarchive/store.db")
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	exp := archive.NewExporter(store.Services())
//
// # FileStore Layout
//
//	<base>/conversations/<id>.json
//	<base>/blobs/<sha256>.<ext>
//	<base>/artifacts.json
//	<base>/snapshots/<sha256(uri)>.snapshot
//	<base>/provenance.jsonl
package storage
