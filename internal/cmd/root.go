// Package cmd implements pixel-hawk's command-line surface: configuration
// loading (flags, environment, defaults, in that precedence), logging setup,
// and the subcommands that drive the polling loop.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string
var logger *slog.Logger

// pollingCycleDefault mirrors orchestrator.PollingCycle's default of
// 30(1+√5) seconds, expressed here so the flag's help text shows a real
// number without importing the orchestrator package into cmd's init().
const pollingCycleDefault = 30 * (1 + 2.2360679774997896)

const defaultHTTPTimeout = 10 * time.Second

var rootCmd = &cobra.Command{
	Use:   "pixel-hawk",
	Short: "Tracks WPlace canvas projects for completion, progress, and regress",
	Long: `pixel-hawk watches rectangular regions of the shared WPlace pixel canvas
against target images, polling the canvas on a slow temperature-weighted
schedule and recording each project's completion percentage, progress and
regress pixel counts, and streak history.`,
}

// Execute runs the root command.
func Execute() {
	if logger == nil {
		initLogging() // fallback in case cobra init didn't fire
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initLogging)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("pixel-hawk-home", "./pixel-hawk-data", "Home directory for projects, snapshots, tile cache, database, and logs")
	rootCmd.PersistentFlags().String("tile-host", "backend.wplace.live", "Upstream host serving canvas tile PNGs")
	rootCmd.PersistentFlags().Float64("polling-cycle-seconds", pollingCycleDefault, "Seconds between tile checks")
	rootCmd.PersistentFlags().Duration("http-timeout", defaultHTTPTimeout, "Timeout for each tile fetch request")
	rootCmd.PersistentFlags().Int("min-hottest-queue-size", 0, "Floor on the scheduler's hottest queue size (0 = library default)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	bindFlags := []struct{ key, flag string }{
		{"pixel-hawk-home", "pixel-hawk-home"},
		{"tile-host", "tile-host"},
		{"polling-cycle-seconds", "polling-cycle-seconds"},
		{"http-timeout", "http-timeout"},
		{"min-hottest-queue-size", "min-hottest-queue-size"},
		{"log-level", "log-level"},
	}
	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, rootCmd.PersistentFlags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("PIXEL_HAWK")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

func initLogging() {
	levelStr := strings.ToLower(viper.GetString("log-level"))
	level := slog.LevelInfo
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error", "err":
		level = slog.LevelError
	default:
		fmt.Fprintf(os.Stderr, "Unknown log level %q, defaulting to info\n", levelStr)
		level = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// homeDir resolves the configured home directory to an absolute path,
// matching the CLI-flag > env-var > default precedence viper already applies
// across PersistentFlags, PIXEL_HAWK_ environment variables, and the flag
// default.
func homeDir() (string, error) {
	home := viper.GetString("pixel-hawk-home")
	abs, err := filepath.Abs(home)
	if err != nil {
		return "", fmt.Errorf("resolving pixel-hawk-home %q: %w", home, err)
	}
	return abs, nil
}

// layout is the set of directories pixel-hawk organizes its data under,
// all rooted at the configured home directory.
type layout struct {
	Home         string
	ProjectsDir  string
	SnapshotsDir string
	TilesDir     string
	LogsDir      string
	DataDir      string
	DatabasePath string
}

func buildLayout(home string) layout {
	return layout{
		Home:         home,
		ProjectsDir:  filepath.Join(home, "projects"),
		SnapshotsDir: filepath.Join(home, "snapshots"),
		TilesDir:     filepath.Join(home, "tiles"),
		LogsDir:      filepath.Join(home, "logs"),
		DataDir:      filepath.Join(home, "data"),
		DatabasePath: filepath.Join(home, "data", "pixel-hawk.sqlite"),
	}
}

func (l layout) ensureDirs() error {
	for _, dir := range []string{l.ProjectsDir, l.SnapshotsDir, l.TilesDir, l.LogsDir, l.DataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	return nil
}
