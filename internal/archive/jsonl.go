// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package archive

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jeranaias/convarchive/internal/format"
)

// =============================================================================
// JSON-LINES WRITER
// =============================================================================

// lineWriter appends one JSON value per line to a bundle file.
type lineWriter struct {
	path  string
	f     *os.File
	w     *bufio.Writer
	count int
}

// createLineFile creates a new JSON-Lines file at the bundle-relative rel.
func createLineFile(root, rel string) (*lineWriter, error) {
	p, err := format.ResolvePath(root, rel)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}
	return &lineWriter{path: p, f: f, w: bufio.NewWriter(f)}, nil
}

// WriteLine writes a tagged conversation file line.
func (lw *lineWriter) WriteLine(l format.Line) error {
	data, err := format.MarshalLine(l)
	if err != nil {
		return err
	}
	return lw.writeRaw(data)
}

// WriteRecord writes any JSON-encodable record.
func (lw *lineWriter) WriteRecord(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return lw.writeRaw(data)
}

func (lw *lineWriter) writeRaw(data []byte) error {
	if _, err := lw.w.Write(data); err != nil {
		return err
	}
	if err := lw.w.WriteByte('\n'); err != nil {
		return err
	}
	lw.count++
	return nil
}

// Close flushes, fsyncs and closes the file.
// RELIABILITY: every line file is durable before the manifest is written.
func (lw *lineWriter) Close() error {
	if err := lw.w.Flush(); err != nil {
		lw.f.Close()
		return err
	}
	if err := lw.f.Sync(); err != nil {
		lw.f.Close()
		return err
	}
	return lw.f.Close()
}

// Abort closes and removes a file that will not be completed.
func (lw *lineWriter) Abort() {
	lw.f.Close()
	os.Remove(lw.path)
}

// =============================================================================
// JSON-LINES READER
// =============================================================================

// maxLineBytes bounds a single line so a corrupt file cannot exhaust memory.
const maxLineBytes = 64 << 20

var errLineTooLong = errors.New("line exceeds maximum length")

// readLines calls fn for every non-blank line of path with its 1-based number.
// A final line without a trailing newline is still delivered. An error from
// fn stops the iteration and is returned.
func readLines(path string, fn func(lineNo int, data []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return scanLines(f, fn)
}

func scanLines(r io.Reader, fn func(lineNo int, data []byte) error) error {
	br := bufio.NewReaderSize(r, 64*1024)
	lineNo := 0
	for {
		data, err := readLine(br)
		if len(data) > 0 || err == nil {
			lineNo++
			if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 {
				if ferr := fn(lineNo, trimmed); ferr != nil {
					return ferr
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo+1, err)
		}
	}
}

func readLine(br *bufio.Reader) ([]byte, error) {
	var buf []byte
	for {
		chunk, err := br.ReadSlice('\n')
		if len(buf)+len(chunk) > maxLineBytes {
			return nil, errLineTooLong
		}
		buf = append(buf, chunk...)
		if err == bufio.ErrBufferFull {
			continue
		}
		return buf, err
	}
}
