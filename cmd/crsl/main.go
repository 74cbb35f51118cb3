// Command crsl is a thin cobra wrapper over the repo.Repository library:
// every subcommand other than init (which only writes configuration) maps
// directly onto Repository calls, performing no DAG/CRDT logic of its own
// (spec §6.5).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/crsl-dev/crsl/internal/config"
	"github.com/crsl-dev/crsl/internal/telemetry"
)

var (
	jsonOutput bool
	traceFile  string
	logger     *slog.Logger

	rootCtx    context.Context
	rootCancel context.CancelFunc

	telemetryShutdown telemetry.Shutdown

	// globalConfig is the CLI-wide ~/.crslrc.toml loader, hot-reloaded via
	// fsnotify for the lifetime of the process. nil if it failed to load,
	// in which case commands fall back to repo-local/flag defaults only.
	globalConfig *config.GlobalLoader
)

var rootCmd = &cobra.Command{
	Use:   "crsl",
	Short: "crsl - embedded content-versioning engine",
	Long:  `crsl manages a content-addressed DAG of versioned records with automatic CRDT-style merging.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

		var err error
		if traceFile != "" {
			f, ferr := os.Create(traceFile)
			if ferr != nil {
				fail("opening --trace file: %v", ferr)
			}
			telemetryShutdown, err = telemetry.Setup(f)
		} else {
			telemetryShutdown, err = telemetry.Discard()
		}
		if err != nil {
			logger.Warn("telemetry setup failed, continuing without it", slog.Any("err", err))
			telemetryShutdown = telemetry.NoopShutdown
		}

		globalConfig, err = config.NewGlobalLoader(logger)
		if err != nil {
			logger.Warn("loading ~/.crslrc.toml failed, continuing with repo-local/flag defaults only", slog.Any("err", err))
			globalConfig = nil
		} else {
			logger.Info("watching global config", slog.String("path", globalConfig.ConfigFilePath()))
			globalConfig.Watch(func(cfg config.GlobalConfig) {
				logger.Info("picked up ~/.crslrc.toml change", slog.String("store", cfg.Store), slog.String("author", cfg.Author))
			})
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON output")
	rootCmd.PersistentFlags().StringVar(&traceFile, "trace", "", "write OpenTelemetry spans and metrics as JSON to this file")
	rootCmd.AddCommand(initCmd, createCmd, updateCmd, deleteCmd, showCmd, historyCmd)
}

func main() {
	err := rootCmd.Execute()
	if telemetryShutdown != nil {
		_ = telemetryShutdown(context.Background())
	}
	if rootCancel != nil {
		rootCancel()
	}
	if err != nil {
		os.Exit(1)
	}
}

// outputJSON writes v to stdout as indented JSON, the same helper shape
// the teacher's cmd/bd uses for its --json output mode.
func outputJSON(v interface{}) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fail("encoding JSON: %v", err)
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// repoRootOrFail locates the repository root above the current working
// directory, the same upward .crsl-directory search config.FindRepoRoot
// performs for every non-init subcommand.
func repoRootOrFail() string {
	cwd, err := os.Getwd()
	if err != nil {
		fail("determining working directory: %v", err)
	}
	root, err := config.FindRepoRoot(cwd)
	if err != nil {
		fail("%v", err)
	}
	return root
}

// globalDefaults returns the CLI-wide defaults from ~/.crslrc.toml, or a
// zero GlobalConfig if none loaded.
func globalDefaults() config.GlobalConfig {
	if globalConfig == nil {
		return config.GlobalConfig{}
	}
	return globalConfig.Current()
}
