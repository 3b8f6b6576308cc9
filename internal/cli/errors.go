// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeranaias/convarchive/internal/archive"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitBundleError indicates a source that is not a readable bundle
	ExitBundleError = 4
	// ExitPartialFailure indicates an import that skipped some conversations
	ExitPartialFailure = 5
	// ExitDestinationError indicates an export destination that cannot be written
	ExitDestinationError = 6
	// ExitNotFoundError indicates a conversation was not found
	ExitNotFoundError = 7
	// ExitCanceled indicates the operation was interrupted
	ExitCanceled = 130
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// CommandError represents a CLI command error with context.
type CommandError struct {
	Command string // Command that failed (e.g., "export")
	Reason  string // Human-readable reason
	Err     error  // Underlying error (if any)
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %s: %v", e.Command, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s failed: %s", e.Command, e.Reason)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// UsageError reports invalid arguments or flags.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }

func usageErrorf(format string, args ...any) error {
	return &UsageError{Err: fmt.Errorf(format, args...)}
}

// ConfigError reports a configuration that could not be loaded.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// PartialError is returned after a command already reported its result but
// some items failed.
type PartialError struct {
	Command string
	Failed  int
	Total   int
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%s: %d of %d conversations failed", e.Command, e.Failed, e.Total)
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// ExitCode maps an error returned by a command to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usage *UsageError
	var cfg *ConfigError
	var partial *PartialError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ExitCanceled
	case errors.As(err, &usage):
		return ExitUsageError
	case errors.As(err, &cfg):
		return ExitConfigError
	case errors.As(err, &partial):
		return ExitPartialFailure
	case errors.Is(err, archive.ErrNotBundle),
		errors.Is(err, archive.ErrUnreadableManifest),
		errors.Is(err, archive.ErrCompression),
		errors.Is(err, archive.ErrUnsupportedVersion):
		return ExitBundleError
	case errors.Is(err, archive.ErrDestination):
		return ExitDestinationError
	case errors.Is(err, archive.ErrNothingToExport):
		return ExitUsageError
	case errors.Is(err, archive.ErrNotInBundle):
		return ExitNotFoundError
	default:
		return ExitGeneralError
	}
}
