package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Liz4v/pixel-hawk-sub000/internal/diffengine"
	"github.com/Liz4v/pixel-hawk-sub000/internal/orchestrator"
	"github.com/Liz4v/pixel-hawk-sub000/internal/palette"
	"github.com/Liz4v/pixel-hawk-sub000/internal/persistence"
	"github.com/Liz4v/pixel-hawk-sub000/internal/tilefetcher"
	"github.com/Liz4v/pixel-hawk-sub000/internal/tilestore"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll the canvas and diff every active project, forever",
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	home, err := homeDir()
	if err != nil {
		return err
	}
	layout := buildLayout(home)
	if err := layout.ensureDirs(); err != nil {
		return err
	}
	logger.Info("starting pixel-hawk", "home", layout.Home)

	store, err := persistence.Open(layout.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()

	pal := palette.New()
	tiles := tilestore.New(layout.TilesDir, pal)

	fetcher := tilefetcher.New(tiles, pal, tilefetcher.Config{
		Host:    viper.GetString("tile-host"),
		Timeout: viper.GetDuration("http-timeout"),
		Logger:  logger,
	})

	diffs := diffengine.New(tiles, pal, store, diffengine.Config{
		ProjectsDir:  layout.ProjectsDir,
		SnapshotsDir: layout.SnapshotsDir,
		Logger:       logger,
	})

	orc, err := orchestrator.New(orchestrator.Config{
		Store:               store,
		Fetcher:             fetcher,
		Diffs:               diffs,
		Logger:              logger,
		Tiles:               tiles,
		MinHottestQueueSize: viper.GetInt("min-hottest-queue-size"),
	})
	if err != nil {
		return fmt.Errorf("building orchestrator: %w", err)
	}

	if cycle := viper.GetFloat64("polling-cycle-seconds"); cycle > 0 {
		orchestrator.PollingCycle = time.Duration(cycle * float64(time.Second))
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	return orc.Run(ctx)
}
