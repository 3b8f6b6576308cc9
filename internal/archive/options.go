// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package archive

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jeranaias/convarchive/internal/format"
)

// =============================================================================
// POLICIES
// =============================================================================

// FailurePolicy decides what happens when a single conversation fails.
type FailurePolicy string

const (
	// FailFast aborts the whole operation on the first failing conversation.
	FailFast FailurePolicy = "fail-fast"

	// BestEffort records the failure and continues with the next conversation.
	BestEffort FailurePolicy = "best-effort"
)

// ParseFailurePolicy accepts "" (component default), "fail-fast" and "best-effort".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case "", FailFast, BestEffort:
		return FailurePolicy(s), nil
	}
	return "", fmt.Errorf("unknown failure policy %q", s)
}

func (p FailurePolicy) or(def FailurePolicy) FailurePolicy {
	if p == "" {
		return def
	}
	return p
}

// VersionPolicy decides how bundles newer than format.Current are treated.
// Bundles older than format.MinimumReadable are always refused.
type VersionPolicy string

const (
	// WarnOnNewer imports newer bundles on a best-effort basis with a warning.
	WarnOnNewer VersionPolicy = "warn"

	// RejectNewer refuses newer bundles with ErrUnsupportedVersion.
	RejectNewer VersionPolicy = "reject"
)

// ParseVersionPolicy accepts "" (WarnOnNewer), "warn" and "reject".
func ParseVersionPolicy(s string) (VersionPolicy, error) {
	switch VersionPolicy(s) {
	case "":
		return WarnOnNewer, nil
	case WarnOnNewer, RejectNewer:
		return VersionPolicy(s), nil
	}
	return "", fmt.Errorf("unknown version policy %q", s)
}

// =============================================================================
// OPERATION OPTIONS
// =============================================================================

// ExportOptions configures one Export call.
type ExportOptions struct {
	// Name of the bundle without extension.
	// Default: archive_YYYYMMDD_HHMMSS
	Name string

	IncludeSnapshots   bool
	IncludeAttachments bool
	IncludeProvenance  bool

	// Compress produces a single .convbundle.tar.zst file instead of a directory.
	Compress bool

	Notes string

	// FailurePolicy defaults to FailFast.
	FailurePolicy FailurePolicy

	// CleanupOnFailure removes the incomplete bundle directory after a
	// failure. A canceled export always removes it.
	CleanupOnFailure bool
}

// DefaultExportOptions includes everything and writes a directory.
func DefaultExportOptions() ExportOptions {
	return ExportOptions{
		IncludeSnapshots:   true,
		IncludeAttachments: true,
		IncludeProvenance:  true,
		FailurePolicy:      FailFast,
	}
}

// ImportOptions configures one Import call.
type ImportOptions struct {
	ImportAttachments bool
	ImportProvenance  bool

	// MergeExisting merges into conversations that already exist. When false
	// an existing id is imported under a fresh id.
	MergeExisting bool

	// TitlePrefix is prepended to imported conversation titles.
	TitlePrefix string

	// FailurePolicy defaults to BestEffort.
	FailurePolicy FailurePolicy

	// VersionPolicy defaults to WarnOnNewer.
	VersionPolicy VersionPolicy
}

// DefaultImportOptions imports everything as new conversations.
func DefaultImportOptions() ImportOptions {
	return ImportOptions{
		ImportAttachments: true,
		ImportProvenance:  true,
		FailurePolicy:     BestEffort,
		VersionPolicy:     WarnOnNewer,
	}
}

// =============================================================================
// PROGRESS
// =============================================================================

// Phase names a step of an export or import.
type Phase string

const (
	PhasePreparing     Phase = "preparing"
	PhaseValidating    Phase = "validating"
	PhaseConversations Phase = "conversations"
	PhaseArtifacts     Phase = "artifacts"
	PhaseProvenance    Phase = "provenance"
	PhaseAttachments   Phase = "attachments"
	PhaseFinalizing    Phase = "finalizing"
)

// Progress is reported synchronously between steps.
type Progress struct {
	Phase   Phase
	Current int
	Total   int
	Message string
}

// ProgressFunc receives progress updates. It may be nil.
type ProgressFunc func(Progress)

func (f ProgressFunc) report(phase Phase, current, total int, msg string) {
	if f != nil {
		f(Progress{Phase: phase, Current: current, Total: total, Message: msg})
	}
}

// =============================================================================
// CONSTRUCTOR OPTIONS
// =============================================================================

type settings struct {
	logger     *slog.Logger
	now        func() time.Time
	createdBy  string
	appVersion string
}

// Option configures an Exporter or Importer.
type Option func(*settings)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCreatedBy sets the creator identity written to manifests.
func WithCreatedBy(id string) Option {
	return func(s *settings) { s.createdBy = id }
}

// WithAppVersion sets the producing-application version written to manifests.
func WithAppVersion(v string) Option {
	return func(s *settings) { s.appVersion = v }
}

func newSettings(opts []Option) settings {
	s := settings{
		logger:     slog.Default(),
		now:        time.Now,
		appVersion: "format-" + format.Current.String(),
	}
	for _, o := range opts {
		o(&s)
	}
	return s
}
