// Package orchestrator drives the single-threaded polling loop that ties
// the scheduler, tile fetcher, diff engine, and persistence layer together:
// each cycle it selects one tile, checks the live server for changes, and
// runs a diff (or a no-change bookkeeping pass) for every active project
// that overlaps it.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Liz4v/pixel-hawk-sub000/internal/diffengine"
	"github.com/Liz4v/pixel-hawk-sub000/internal/geometry"
	"github.com/Liz4v/pixel-hawk-sub000/internal/persistence"
	"github.com/Liz4v/pixel-hawk-sub000/internal/scheduler"
	"github.com/Liz4v/pixel-hawk-sub000/internal/tilefetcher"
	"github.com/Liz4v/pixel-hawk-sub000/internal/tilestore"
)

// PollingCycle is 60φ = 30(1+√5) seconds, chosen (per the project this was
// adapted from) to stay maximally dissonant with WPlace's own internal
// timers.
var PollingCycle = time.Duration(math.Round(60 * phi * float64(time.Second)))

const phi = 1.6180339887498949

// maxConsecutiveErrors is how many polling cycles in a row may fail before
// the loop gives up and returns an error to its caller.
const maxConsecutiveErrors = 3

// Orchestrator runs the polling loop.
type Orchestrator struct {
	store          *persistence.Store
	sched          *scheduler.System
	fetcher        *tilefetcher.Fetcher
	diffs          *diffengine.Engine
	logger         *slog.Logger
	tileToProjects map[geometry.Tile][]*persistence.Project
}

// Config configures a new Orchestrator.
type Config struct {
	Store   *persistence.Store
	Fetcher *tilefetcher.Fetcher
	Diffs   *diffengine.Engine
	Logger  *slog.Logger

	// Tiles, if set, is consulted to bootstrap tile rows from cached file
	// mtimes on a fresh database, so a pre-populated tile cache doesn't
	// send every tile into the burning queue. Optional.
	Tiles *tilestore.Store

	MinHottestQueueSize int
}

// New builds an Orchestrator, loading every Active project from the store
// and indexing their tiles into a tile→projects map, then seeding the
// scheduler from the persisted tile state of each of those tiles. Passive
// and Inactive projects are not loaded: they are not polled, and neither
// contribute to no-change bookkeeping, until promoted back to Active.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	active, err := cfg.Store.ListActiveProjects()
	if err != nil {
		return nil, fmt.Errorf("loading active projects: %w", err)
	}

	tileToProjects := make(map[geometry.Tile][]*persistence.Project)
	activeTiles := make(map[geometry.Tile]struct{})
	for _, proj := range active {
		for tile := range proj.Rect.Tiles() {
			tileToProjects[tile] = append(tileToProjects[tile], proj)
			activeTiles[tile] = struct{}{}
		}
	}

	if cfg.Tiles != nil {
		for tile := range activeTiles {
			if mtime, ok := cfg.Tiles.ModTime(tile); ok {
				if err := cfg.Store.BootstrapTileFromCache(tile, mtime.Unix()); err != nil {
					return nil, fmt.Errorf("bootstrapping tile %s from cache: %w", tile, err)
				}
			}
		}
	}

	initial := make([]scheduler.TileState, 0, len(activeTiles))
	for tile := range activeTiles {
		row, err := cfg.Store.GetTile(tile)
		if err != nil {
			return nil, fmt.Errorf("loading tile state for %s: %w", tile, err)
		}
		state := scheduler.TileState{Tile: tile}
		if row != nil {
			state.LastChecked = row.LastChecked
			state.LastModified = row.LastUpdate
		}
		initial = append(initial, state)
	}

	sched := scheduler.New(initial, scheduler.Config{
		MinHottestQueueSize: cfg.MinHottestQueueSize,
		FirstSeen: func(tile geometry.Tile) int64 {
			earliest := int64(math.MaxInt64)
			for _, proj := range tileToProjects[tile] {
				if proj.FirstSeen < earliest {
					earliest = proj.FirstSeen
				}
			}
			return earliest
		},
		Logger: cfg.Logger,
	})

	cfg.Logger.Info("indexed tiles for polling", "tiles", len(tileToProjects), "active_projects", len(active))

	return &Orchestrator{
		store:          cfg.Store,
		sched:          sched,
		fetcher:        cfg.Fetcher,
		diffs:          cfg.Diffs,
		logger:         cfg.Logger,
		tileToProjects: tileToProjects,
	}, nil
}

// Run executes the polling loop until ctx is canceled, or until three
// consecutive cycles fail, in which case it returns the last error.
func (o *Orchestrator) Run(ctx context.Context) error {
	consecutiveErrors := 0
	o.logger.Info("starting polling loop", "cycle_seconds", PollingCycle.Seconds())

	for {
		if err := o.PollOnce(ctx); err != nil {
			consecutiveErrors++
			o.logger.Error("error during polling cycle", "error", err, "consecutive_errors", consecutiveErrors)
			if consecutiveErrors >= maxConsecutiveErrors {
				return fmt.Errorf("three consecutive polling errors, last: %w", err)
			}
		} else {
			consecutiveErrors = 0
		}

		select {
		case <-ctx.Done():
			o.logger.Info("exiting due to context cancellation")
			return nil
		case <-time.After(PollingCycle):
		}
	}
}

// PollOnce runs a single polling cycle: select one tile, fetch it, update
// the scheduler and persistence, and diff every project that overlaps it.
func (o *Orchestrator) PollOnce(ctx context.Context) error {
	if len(o.tileToProjects) == 0 {
		o.logger.Debug("no tiles to check, no active projects")
		return nil
	}

	state, ok := o.sched.SelectNext()
	if !ok {
		o.logger.Warn("no next tile returned by the scheduler")
		return nil
	}
	tile := state.Tile

	row, err := o.store.GetTile(tile)
	if err != nil {
		return fmt.Errorf("loading tile state for %s: %w", tile, err)
	}
	known := tilefetcher.Known{}
	if row != nil {
		known.LastUpdate = row.LastUpdate
		known.ETag = row.ETag
	}

	outcome, err := o.fetcher.Fetch(ctx, tile, known)
	if err != nil {
		o.sched.RetryCurrentQueue()
		return fmt.Errorf("fetching tile %s: %w", tile, err)
	}
	if outcome.Transient {
		// Nothing was actually checked: don't advance the round-robin
		// cursor or record a check time for this tile, so the same
		// temperature band is retried next cycle, per spec §4.4/§4.5.
		o.logger.Debug("transient fetch failure, retrying queue", "tile", tile)
		o.sched.RetryCurrentQueue()
		return nil
	}

	checkedAt := time.Now().Unix()
	o.sched.RecordCheck(tile, checkedAt, outcome.LastUpdate)

	if err := o.store.UpsertTile(persistence.TileRow{
		Tile:        tile,
		Heat:        o.tileHeat(tile),
		LastChecked: checkedAt,
		LastUpdate:  outcome.LastUpdate,
		ETag:        outcome.ETag,
	}); err != nil {
		return fmt.Errorf("persisting tile state for %s: %w", tile, err)
	}

	for _, proj := range o.tileToProjects[tile] {
		var runErr error
		if outcome.Changed {
			t := tile
			runErr = o.diffs.RunDiff(proj, &t)
		} else {
			runErr = o.diffs.RunNochange(proj)
		}
		if runErr != nil {
			o.logger.Error("diff failed for project", "project", proj.Name, "tile", tile, "error", runErr)
		}
	}

	return nil
}

// tileHeat reports the heat value to persist for a tile: the advisory
// BurningHeat sentinel while it's still in the scheduler's burning queue,
// otherwise its current temperature rank.
func (o *Orchestrator) tileHeat(tile geometry.Tile) int {
	temp, ok := o.sched.Temperature(tile)
	if !ok || temp < 0 {
		return persistence.BurningHeat
	}
	return temp
}
