// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/jeranaias/convarchive/internal/format"
	"github.com/jeranaias/convarchive/internal/util"
)

// =============================================================================
// SINGLE-FILE BUNDLES
// =============================================================================

// maxManifestBytes bounds a manifest read out of an archive.
const maxManifestBytes = 64 << 20

// packBundle writes root as a tar stream compressed with zstd to out.
// Entries are prefixed with the bundle directory name and the manifest is
// written first so that a preview can stop after one entry. out appears
// atomically; on error or cancellation it does not exist.
func packBundle(ctx context.Context, root, out string) error {
	base := filepath.Base(root)

	return util.AtomicWriteStream(out, 0644, func(w io.Writer) error {
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return err
		}
		tw := tar.NewWriter(zw)

		manifestPath := filepath.Join(root, format.ManifestFile)
		if err := addTarEntry(tw, manifestPath, path.Join(base, format.ManifestFile)); err != nil {
			zw.Close()
			return err
		}

		walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if p == manifestPath {
				return nil
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			name := base
			if rel != "." {
				name = path.Join(base, filepath.ToSlash(rel))
			}
			return addTarEntry(tw, p, name)
		})
		if walkErr != nil {
			zw.Close()
			return walkErr
		}

		if err := tw.Close(); err != nil {
			zw.Close()
			return err
		}
		return zw.Close()
	})
}

func addTarEntry(tw *tar.Writer, p, name string) error {
	info, err := os.Lstat(p)
	if err != nil {
		return err
	}
	if !info.IsDir() && !info.Mode().IsRegular() {
		// Bundles contain only directories and regular files.
		return nil
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if info.IsDir() {
		hdr.Name += "/"
	}
	hdr.Uname, hdr.Gname = "", ""
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if info.IsDir() {
		return nil
	}

	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

// unpackBundle extracts a packed bundle into dst and returns the directory
// holding the manifest (or the single top-level directory when there is none).
func unpackBundle(ctx context.Context, src, dst string) (string, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return "", err
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		// SECURITY: entry names come from the archive and must stay inside dst
		target, err := format.ResolvePath(dst, strings.TrimSuffix(hdr.Name, "/"))
		if err != nil {
			return "", fmt.Errorf("entry %q: %w", hdr.Name, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return "", err
			}
		case tar.TypeReg:
			if err := extractFile(tr, target); err != nil {
				return "", err
			}
		default:
			// Links and devices are never produced by packBundle.
			continue
		}
	}

	return locateRoot(dst)
}

func extractFile(r io.Reader, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func locateRoot(dir string) (string, error) {
	if _, err := os.Stat(filepath.Join(dir, format.ManifestFile)); err == nil {
		return dir, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}

// readPackedManifest streams a packed bundle until its manifest entry and
// returns the manifest bytes without extracting anything to disk.
// Returns fs.ErrNotExist when the archive has no manifest.
func readPackedManifest(ctx context.Context, src string) ([]byte, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, &packError{err}
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, fs.ErrNotExist
		}
		if err != nil {
			return nil, &packError{err}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if hdr.Typeflag != tar.TypeReg || !isManifestEntry(hdr.Name) {
			continue
		}
		data, err := io.ReadAll(io.LimitReader(tr, maxManifestBytes+1))
		if err != nil {
			return nil, &packError{err}
		}
		if len(data) > maxManifestBytes {
			return nil, fmt.Errorf("manifest exceeds %d bytes", maxManifestBytes)
		}
		return data, nil
	}
}

// isManifestEntry matches "manifest.json" and "<bundle>/manifest.json".
func isManifestEntry(name string) bool {
	clean := path.Clean(name)
	if path.Base(clean) != format.ManifestFile {
		return false
	}
	dir := path.Dir(clean)
	return dir == "." || !strings.Contains(dir, "/")
}

// packError marks failures of the compression layer itself.
type packError struct{ err error }

func (e *packError) Error() string { return e.err.Error() }
func (e *packError) Unwrap() error { return e.err }
