package persistence

import (
	"path/filepath"
	"testing"

	"github.com/Liz4v/pixel-hawk-sub000/internal/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pixel-hawk.db")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestPerson(t *testing.T, store *Store, name string) *Person {
	t.Helper()
	p, err := store.CreatePerson(name, "")
	require.NoError(t, err)
	return p
}

func TestGetProjectMissingReturnsNil(t *testing.T) {
	store := newTestStore(t)
	rec, err := store.GetProject(999)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestCreateProjectLinksTilesAndDefaultsToCreating(t *testing.T) {
	store := newTestStore(t)
	owner := newTestPerson(t, store, "kiva")

	rect := geometry.RectangleFromPointSize(geometry.Point{X: 500, Y: 500}, geometry.Size{W: 1000, H: 1000})
	proj, err := store.CreateProject(owner, "alpha", rect)
	require.NoError(t, err)
	assert.Equal(t, StateCreating, proj.State)
	assert.Equal(t, "none", proj.ChangeStreakType)
	assert.NotZero(t, proj.FirstSeen)
	assert.Empty(t, proj.TileLastUpdate)

	require.NoError(t, store.SetProjectState(proj.ID, StateActive))

	tiles, err := store.ListTilesForActiveProjects()
	require.NoError(t, err)
	assert.Len(t, tiles, 4, "a 1000x1000 rect offset by 500,500 spans a 2x2 tile block")
}

func TestProjectsOverlappingOnlyReturnsActive(t *testing.T) {
	store := newTestStore(t)
	owner := newTestPerson(t, store, "kiva")
	rect := geometry.RectangleFromPointSize(geometry.Point{X: 0, Y: 0}, geometry.Size{W: 10, H: 10})

	proj, err := store.CreateProject(owner, "alpha", rect)
	require.NoError(t, err)

	tile := geometry.NewTile(0, 0)
	overlapping, err := store.ProjectsOverlapping(tile)
	require.NoError(t, err)
	assert.Empty(t, overlapping, "project is still Creating, not Active")

	require.NoError(t, store.SetProjectState(proj.ID, StateActive))
	overlapping, err = store.ProjectsOverlapping(tile)
	require.NoError(t, err)
	require.Len(t, overlapping, 1)
	assert.Equal(t, proj.ID, overlapping[0].ID)
}

func TestSaveDiffUpdatesProjectAndAppendsHistory(t *testing.T) {
	store := newTestStore(t)
	owner := newTestPerson(t, store, "kiva")
	rect := geometry.RectangleFromPointSize(geometry.Point{X: 0, Y: 0}, geometry.Size{W: 10, H: 10})
	proj, err := store.CreateProject(owner, "gamma", rect)
	require.NoError(t, err)

	proj.LastCheck = 5000
	proj.TotalProgress = 42
	proj.TileLastUpdate = map[string]int64{"0_0": 4999}
	proj.LastLogMessage = "gamma: 10px remaining"

	entry := HistoryEntry{
		Timestamp:         5000,
		Status:            StatusInProgress,
		NumRemaining:      10,
		NumTarget:         100,
		CompletionPercent: 90,
		ProgressPixels:    5,
	}
	require.NoError(t, store.SaveDiff(proj, entry))

	got, err := store.GetProject(proj.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), got.LastCheck)
	assert.Equal(t, 42, got.TotalProgress)
	assert.Equal(t, int64(4999), got.TileLastUpdate["0_0"])
	assert.Equal(t, "gamma: 10px remaining", got.LastLogMessage)

	history, err := store.RecentHistory(proj.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, StatusInProgress, history[0].Status)
	assert.Equal(t, 5, history[0].ProgressPixels)
}

func TestRecentHistoryOrdersNewestFirstAndRespectsLimit(t *testing.T) {
	store := newTestStore(t)
	owner := newTestPerson(t, store, "kiva")
	rect := geometry.RectangleFromPointSize(geometry.Point{X: 0, Y: 0}, geometry.Size{W: 10, H: 10})
	proj, err := store.CreateProject(owner, "delta", rect)
	require.NoError(t, err)

	for i, ts := range []int64{100, 200, 300} {
		proj.LastCheck = ts
		entry := HistoryEntry{Timestamp: ts, Status: StatusInProgress, NumRemaining: 10 - i}
		require.NoError(t, store.SaveDiff(proj, entry))
	}

	history, err := store.RecentHistory(proj.ID, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(300), history[0].Timestamp)
	assert.Equal(t, int64(200), history[1].Timestamp)
}

func TestDeleteProjectCascadesHistoryAndTileLinks(t *testing.T) {
	store := newTestStore(t)
	owner := newTestPerson(t, store, "kiva")
	rect := geometry.RectangleFromPointSize(geometry.Point{X: 0, Y: 0}, geometry.Size{W: 10, H: 10})
	proj, err := store.CreateProject(owner, "epsilon", rect)
	require.NoError(t, err)
	require.NoError(t, store.SetProjectState(proj.ID, StateActive))
	require.NoError(t, store.SaveDiff(proj, HistoryEntry{Timestamp: 1, Status: StatusInProgress}))

	require.NoError(t, store.DeleteProject(proj.ID))

	got, err := store.GetProject(proj.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	history, err := store.RecentHistory(proj.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, history)

	tiles, err := store.ListTilesForActiveProjects()
	require.NoError(t, err)
	assert.Empty(t, tiles)
}

func TestUpsertTileThenGetTileRoundTrip(t *testing.T) {
	store := newTestStore(t)
	tile := geometry.NewTile(7, 8)

	got, err := store.GetTile(tile)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.UpsertTile(TileRow{Tile: tile, Heat: BurningHeat}))
	got, err = store.GetTile(tile)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, BurningHeat, got.Heat)

	require.NoError(t, store.UpsertTile(TileRow{Tile: tile, Heat: 3, LastChecked: 100, LastUpdate: 90, ETag: `"x"`}))
	got, err = store.GetTile(tile)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Heat)
	assert.Equal(t, `"x"`, got.ETag)
}

func TestRefreshPersonCountersReflectsActiveProjectsOnly(t *testing.T) {
	store := newTestStore(t)
	owner := newTestPerson(t, store, "kiva")

	rect1 := geometry.RectangleFromPointSize(geometry.Point{X: 0, Y: 0}, geometry.Size{W: 10, H: 10})
	proj1, err := store.CreateProject(owner, "one", rect1)
	require.NoError(t, err)
	require.NoError(t, store.SetProjectState(proj1.ID, StateActive))

	rect2 := geometry.RectangleFromPointSize(geometry.Point{X: 2000, Y: 2000}, geometry.Size{W: 10, H: 10})
	_, err = store.CreateProject(owner, "two", rect2) // left Creating

	require.NoError(t, store.RefreshPersonCounters(owner.ID))

	got, err := store.GetPerson(owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ActiveProjectsCount)
	assert.Equal(t, 1, got.WatchedTilesCount)
}

func TestBootstrapTileFromCacheSeedsOnlyWhenRowAbsent(t *testing.T) {
	store := newTestStore(t)
	tile := geometry.NewTile(1, 1)

	require.NoError(t, store.BootstrapTileFromCache(tile, 12345))
	got, err := store.GetTile(tile)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, BurningHeat, got.Heat)
	assert.Equal(t, int64(12345), got.LastChecked)
	assert.Equal(t, int64(12345), got.LastUpdate)

	// A later call must not clobber a row that's already been updated by a
	// real poll.
	require.NoError(t, store.UpsertTile(TileRow{Tile: tile, Heat: 2, LastChecked: 99999, LastUpdate: 99998}))
	require.NoError(t, store.BootstrapTileFromCache(tile, 1))
	got, err = store.GetTile(tile)
	require.NoError(t, err)
	assert.Equal(t, int64(99999), got.LastChecked)
}
