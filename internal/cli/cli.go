// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeranaias/convarchive/internal/archive"
	"github.com/jeranaias/convarchive/internal/config"
	"github.com/jeranaias/convarchive/internal/storage"
)

// Version information (set at build time)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// APP
// =============================================================================

// App holds the state shared by every command of one invocation.
type App struct {
	Stdout io.Writer
	Stderr io.Writer

	// OpenStore opens the live store described by cfg.
	OpenStore func(cfg *config.Config) (storage.Store, error)

	configPath string
	jsonOutput bool
	logLevel   string
	progress   bool

	cfg    *config.Config
	logger *slog.Logger
}

// NewApp returns an App writing to the given streams.
func NewApp(stdout, stderr io.Writer) *App {
	return &App{
		Stdout:    stdout,
		Stderr:    stderr,
		OpenStore: openConfiguredStore,
	}
}

func openConfiguredStore(cfg *config.Config) (storage.Store, error) {
	return storage.Open(storage.Driver(cfg.Store.Driver), cfg.Store.Path)
}

// setup loads the configuration and builds the logger. It runs before every
// command except version.
func (a *App) setup() error {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadFromPath(a.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return &ConfigError{Path: a.configPath, Err: err}
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
		if _, err := cfg.Log.SlogLevel(); err != nil {
			return usageErrorf("--log-level: %v", err)
		}
	}
	a.cfg = cfg
	a.logger = cfg.Log.NewLogger(a.Stderr)
	return nil
}

func (a *App) openStore() (storage.Store, error) {
	st, err := a.OpenStore(a.cfg)
	if err != nil {
		return nil, &CommandError{Command: "store", Reason: "cannot open " + a.cfg.Store.Path, Err: err}
	}
	a.logger.Debug("store opened", "driver", a.cfg.Store.Driver, "path", a.cfg.Store.Path)
	return st, nil
}

// emit prints data as a JSONResponse in --json mode, otherwise calls human.
func (a *App) emit(command string, data any, human func(w io.Writer)) error {
	if a.jsonOutput {
		return NewJSONResponse(command, data).Print(a.Stdout)
	}
	human(a.Stdout)
	return nil
}

// progressFunc reports progress on stderr with --progress and at debug level
// otherwise.
func (a *App) progressFunc() archive.ProgressFunc {
	return func(p archive.Progress) {
		if a.progress && !a.jsonOutput {
			if p.Total > 0 {
				fmt.Fprintf(a.Stderr, "[%s] %d/%d %s\n", p.Phase, p.Current, p.Total, p.Message)
			} else {
				fmt.Fprintf(a.Stderr, "[%s] %s\n", p.Phase, p.Message)
			}
			return
		}
		a.logger.Debug("progress", "phase", p.Phase, "current", p.Current, "total", p.Total, "item", p.Message)
	}
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

// NewRootCommand builds the command tree bound to app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "convarchive",
		Short:         "Export and import conversation archive bundles",
		Long:          "convarchive writes conversations, artifact references, provenance and attachments\nfrom a live store into portable bundles, and reads them back.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.setup()
		},
	}
	root.SetOut(app.Stdout)
	root.SetErr(app.Stderr)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &UsageError{Err: err}
	})

	flags := root.PersistentFlags()
	flags.StringVar(&app.configPath, "config", "", "config file (default ~/.convarchive/config.toml)")
	flags.BoolVar(&app.jsonOutput, "json", false, "print a JSON response on stdout")
	flags.StringVar(&app.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	flags.BoolVar(&app.progress, "progress", false, "print progress to stderr")

	root.AddCommand(
		newExportCommand(app),
		newImportCommand(app),
		newPreviewCommand(app),
		newShowCommand(app),
		newListCommand(app),
		newWatchCommand(app),
		newConfigCommand(app),
		newVersionCommand(app),
	)
	return root
}

// exactArgs is cobra.ExactArgs reporting a UsageError.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usageErrorf("%s: accepts %d arg(s), received %d", cmd.CommandPath(), n, len(args))
		}
		return nil
	}
}

// =============================================================================
// EXECUTE
// =============================================================================

// Execute runs the command line args and returns the process exit code.
// SIGINT and SIGTERM cancel the running operation.
func Execute(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, NewApp(stdout, stderr), args)
}

func run(ctx context.Context, app *App, args []string) int {
	root := NewRootCommand(app)
	root.SetArgs(args)

	cmd, err := root.ExecuteContextC(ctx)
	if err == nil {
		return ExitSuccess
	}
	command := root.Name()
	if cmd != nil {
		command = cmd.Name()
	}

	var partial *PartialError
	switch {
	case errors.As(err, &partial) && app.jsonOutput:
		// the response already carries the failures
	case app.jsonOutput:
		NewJSONErrorResponse(command, err).Print(app.Stdout)
	default:
		fmt.Fprintf(app.Stderr, "Error: %v\n", err)
	}
	if app.logger != nil {
		app.logger.Debug("command failed", "command", command, "error", err)
	}
	return ExitCode(err)
}
