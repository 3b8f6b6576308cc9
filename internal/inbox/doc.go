// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package inbox imports bundles dropped into a watched directory.
//
// A bundle directory is picked up once its manifest exists, which an exporter
// writes last. A compressed bundle is picked up once it has not changed for
// the debounce period. After import the bundle is moved to done/, or to
// failed/ when the import failed as a whole.
//
// # Usage
//
//	w, err := inbox.New(dir, archive.NewImporter(svc), cfg.Import.Options(),
//		inbox.WithDebounce(cfg.Inbox.Debounce()),
//		inbox.WithResultHandler(func(r inbox.Result) { ... }))
//	if err != nil {
//		return err
//	}
//	return w.Run(ctx)
package inbox
