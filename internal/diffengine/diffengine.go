// Package diffengine implements the per-project diff: stitch the current
// canvas state under a project's rectangle, compare it against the
// project's target image and its previous snapshot, fold the result into
// that project's running statistics, and persist both the updated project
// record and the new history row in one transaction.
package diffengine

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Liz4v/pixel-hawk-sub000/internal/geometry"
	"github.com/Liz4v/pixel-hawk-sub000/internal/palette"
	"github.com/Liz4v/pixel-hawk-sub000/internal/persistence"
	"github.com/Liz4v/pixel-hawk-sub000/internal/stats"
	"github.com/Liz4v/pixel-hawk-sub000/internal/tilestore"
)

// tileUpdateWindow bounds how long a per-tile update timestamp is retained
// in a project's rolling 24-hour list, in seconds.
const tileUpdateWindow = 86400

// Engine runs diffs for projects against a shared tile cache and palette,
// persisting results through a Store.
type Engine struct {
	tiles        *tilestore.Store
	palette      *palette.Palette
	store        *persistence.Store
	projectsDir  string
	snapshotsDir string
	logger       *slog.Logger
}

// Config configures a new Engine.
type Config struct {
	ProjectsDir  string
	SnapshotsDir string
	Logger       *slog.Logger
}

// New builds an Engine.
func New(tiles *tilestore.Store, pal *palette.Palette, store *persistence.Store, cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		tiles:        tiles,
		palette:      pal,
		store:        store,
		projectsDir:  cfg.ProjectsDir,
		snapshotsDir: cfg.SnapshotsDir,
		logger:       cfg.Logger,
	}
}

func (e *Engine) targetPath(proj *persistence.Project) string {
	return filepath.Join(e.projectsDir, fmt.Sprintf("%d", proj.OwnerID), proj.Filename())
}

func (e *Engine) snapshotPath(proj *persistence.Project) string {
	return filepath.Join(e.snapshotsDir, fmt.Sprintf("%d", proj.OwnerID), proj.Filename())
}

func (e *Engine) loadTarget(proj *persistence.Project) (*image.Paletted, error) {
	data, err := os.ReadFile(e.targetPath(proj))
	if err != nil {
		return nil, err
	}
	return e.decodePaletted(data)
}

// loadSnapshot returns the project's previously saved canvas snapshot, or
// nil if none has been taken yet. A corrupt snapshot file is treated the
// same as a missing one, logged and discarded rather than failing the diff.
func (e *Engine) loadSnapshot(proj *persistence.Project) (*image.Paletted, error) {
	data, err := os.ReadFile(e.snapshotPath(proj))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	img, err := e.decodePaletted(data)
	if err != nil {
		e.logger.Warn("discarding unreadable snapshot", "project", proj.Name, "error", err)
		return nil, nil
	}
	return img, nil
}

func (e *Engine) decodePaletted(data []byte) (*image.Paletted, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding png: %w", err)
	}
	return e.palette.Coerce(img)
}

func (e *Engine) saveSnapshot(proj *persistence.Project, img *image.Paletted) error {
	path := e.snapshotPath(proj)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating snapshot file: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return nil
}

// RunDiff executes a full diff of proj against the current canvas state:
// it stitches the project's rectangle, loads the target and any previous
// snapshot, computes remaining/progress/regress pixel counts, folds them
// into the project's stats tracker, writes the new snapshot, appends a
// history row, and persists the updated project — all as one logical
// operation. changedTile, if non-nil, restricts the per-tile update-time
// bookkeeping to that single tile; otherwise every tile in the project's
// rectangle is rescanned.
func (e *Engine) RunDiff(proj *persistence.Project, changedTile *geometry.Tile) error {
	checkedAt := time.Now().Unix()

	target, err := e.loadTarget(proj)
	if err != nil {
		return fmt.Errorf("loading target image for project %q: %w", proj.Name, err)
	}
	size := proj.Rect.Size()
	if tb := target.Bounds(); tb.Dx() != size.W || tb.Dy() != size.H {
		return fmt.Errorf("target image for project %q is %dx%d, want %dx%d matching its rect",
			proj.Name, tb.Dx(), tb.Dy(), size.W, size.H)
	}

	previous, err := e.loadSnapshot(proj)
	if err != nil {
		return fmt.Errorf("reading previous snapshot for project %q: %w", proj.Name, err)
	}
	if previous != nil && previous.Bounds() != target.Bounds() {
		e.logger.Warn("discarding snapshot with stale dimensions", "project", proj.Name)
		previous = nil
	}
	hadPrevious := previous != nil

	stitched, err := e.tiles.Stitch(proj.Rect)
	if err != nil {
		return fmt.Errorf("stitching canvas for project %q: %w", proj.Name, err)
	}
	current := stitched.Image
	proj.HasMissingTiles = stitched.MissingTiles

	numTarget, numRemaining, progress, regress := computeDiff(current, target, previous, hadPrevious)

	if err := e.saveSnapshot(proj, current); err != nil {
		e.logger.Error("failed to save snapshot", "project", proj.Name, "error", err)
	} else {
		proj.LastSnapshot = checkedAt
	}

	tracker := trackerFromProject(proj)
	result := tracker.ProcessDiff(checkedAt, numTarget, numRemaining, progress, regress, hadPrevious)
	applyTrackerToProject(proj, tracker)

	status := persistence.StatusNotStarted
	switch result.Status {
	case stats.InProgress:
		status = persistence.StatusInProgress
	case stats.Complete:
		status = persistence.StatusComplete
	}

	if changedTile != nil {
		e.updateSingleTileMetadata(proj, *changedTile)
	} else {
		e.updateAllTileMetadata(proj)
	}

	entry := persistence.HistoryEntry{
		ProjectID:         proj.ID,
		Timestamp:         checkedAt,
		Status:            status,
		NumRemaining:      numRemaining,
		NumTarget:         numTarget,
		CompletionPercent: tracker.MaxCompletionPercent,
		ProgressPixels:    progress,
		RegressPixels:     regress,
	}

	if err := e.store.SaveDiff(proj, entry); err != nil {
		return fmt.Errorf("saving diff for project %q: %w", proj.Name, err)
	}

	e.logger.Info(proj.LastLogMessage)
	return nil
}

// RunNochange records that a project was checked this cycle but its
// overlapping tile set produced no fetched change: it bumps last_check and
// prunes the rolling 24-hour tile-update list, without appending history.
func (e *Engine) RunNochange(proj *persistence.Project) error {
	proj.LastCheck = time.Now().Unix()
	pruneOldTileUpdates(proj)
	if err := e.store.UpdateProject(proj); err != nil {
		return fmt.Errorf("saving nochange for project %q: %w", proj.Name, err)
	}
	return nil
}

func (e *Engine) updateSingleTileMetadata(proj *persistence.Project, tile geometry.Tile) {
	mtime, ok := e.tileCacheMtime(tile)
	if !ok {
		return
	}
	recordTileUpdate(proj, tile.String(), mtime)
}

func (e *Engine) updateAllTileMetadata(proj *persistence.Project) {
	pruneOldTileUpdates(proj)
	for tile := range proj.Rect.Tiles() {
		mtime, ok := e.tileCacheMtime(tile)
		if !ok {
			continue
		}
		recordTileUpdate(proj, tile.String(), mtime)
	}
}

// tileCacheMtime reports the modification time of a tile's cache file, used
// as a proxy for the server's reported Last-Modified time.
func (e *Engine) tileCacheMtime(tile geometry.Tile) (int64, bool) {
	mtime, ok := e.tiles.ModTime(tile)
	if !ok {
		return 0, false
	}
	return mtime.Unix(), true
}

func recordTileUpdate(proj *persistence.Project, tileKey string, timestamp int64) {
	if proj.TileLastUpdate == nil {
		proj.TileLastUpdate = make(map[string]int64)
	}
	if timestamp > proj.TileLastUpdate[tileKey] {
		proj.TileLastUpdate[tileKey] = timestamp
	}
}

// pruneOldTileUpdates drops tile_last_update entries older than the rolling
// window relative to the project's last_check.
func pruneOldTileUpdates(proj *persistence.Project) {
	cutoff := proj.LastCheck - tileUpdateWindow
	for key, ts := range proj.TileLastUpdate {
		if ts < cutoff {
			delete(proj.TileLastUpdate, key)
		}
	}
}

// computeDiff compares the stitched current canvas against the project's
// target image, and — when a previous snapshot exists — against that
// snapshot, returning:
//
//   - numTarget: the count of non-transparent target pixels (floored at 1,
//     so a blank target never divides by zero downstream)
//   - numRemaining: how many of those target pixels the current canvas
//     still disagrees with
//   - progress: pixels that disagreed with the target in the previous
//     snapshot but now match it
//   - regress: pixels that matched the target in the previous snapshot but
//     no longer do
//
// progress and regress are always zero when hadPrevious is false.
func computeDiff(current, target, previous *image.Paletted, hadPrevious bool) (numTarget, numRemaining, progress, regress int) {
	for i, t := range target.Pix {
		if t == 0 {
			continue
		}
		numTarget++

		c := current.Pix[i]
		if c != t {
			numRemaining++
		}

		if !hadPrevious {
			continue
		}
		p := previous.Pix[i]
		switch {
		case p != t && c == t:
			progress++
		case p == t && c != t:
			regress++
		}
	}
	if numTarget == 0 {
		numTarget = 1
	}
	return
}

func trackerFromProject(proj *persistence.Project) *stats.Tracker {
	return &stats.Tracker{
		Name:                 proj.Name,
		LastCheck:            proj.LastCheck,
		MaxCompletionPixels:  proj.MaxCompletionPixels,
		MaxCompletionPercent: proj.MaxCompletionPercent,
		MaxCompletionTime:    proj.MaxCompletionTime,
		TotalProgress:        proj.TotalProgress,
		TotalRegress:         proj.TotalRegress,
		LargestRegressPixels: proj.LargestRegressPixels,
		LargestRegressTime:   proj.LargestRegressTime,
		ChangeStreakType:     stats.ChangeStreakType(proj.ChangeStreakType),
		ChangeStreakCount:    proj.ChangeStreakCount,
		NochangeStreak:       proj.NochangeStreak,
		RecentRatePerHour:    proj.RecentRatePerHour,
		RateWindowStart:      proj.RateWindowStart,
		LastLogMessage:       proj.LastLogMessage,
	}
}

func applyTrackerToProject(proj *persistence.Project, tracker *stats.Tracker) {
	proj.LastCheck = tracker.LastCheck
	proj.MaxCompletionPixels = tracker.MaxCompletionPixels
	proj.MaxCompletionPercent = tracker.MaxCompletionPercent
	proj.MaxCompletionTime = tracker.MaxCompletionTime
	proj.TotalProgress = tracker.TotalProgress
	proj.TotalRegress = tracker.TotalRegress
	proj.LargestRegressPixels = tracker.LargestRegressPixels
	proj.LargestRegressTime = tracker.LargestRegressTime
	proj.ChangeStreakType = string(tracker.ChangeStreakType)
	proj.ChangeStreakCount = tracker.ChangeStreakCount
	proj.NochangeStreak = tracker.NochangeStreak
	proj.RecentRatePerHour = tracker.RecentRatePerHour
	proj.RateWindowStart = tracker.RateWindowStart
	proj.LastLogMessage = tracker.LastLogMessage
}
