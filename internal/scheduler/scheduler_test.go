package scheduler

import (
	"testing"

	"github.com/Liz4v/pixel-hawk-sub000/internal/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateZipfQueueSizesBelowMinReturnsSingleQueue(t *testing.T) {
	sizes := calculateZipfQueueSizes(3, 4)
	assert.Equal(t, []int{3}, sizes)
}

func TestCalculateZipfQueueSizesZeroTiles(t *testing.T) {
	assert.Nil(t, calculateZipfQueueSizes(0, 4))
}

func TestCalculateZipfQueueSizesSumsToTotal(t *testing.T) {
	sizes := calculateZipfQueueSizes(1000, 4)
	sum := 0
	for _, s := range sizes {
		sum += s
	}
	assert.Equal(t, 1000, sum)
	require.NotEmpty(t, sizes)
	assert.GreaterOrEqual(t, sizes[0], 4)
}

func TestCalculateZipfQueueSizesColdestIsLargest(t *testing.T) {
	sizes := calculateZipfQueueSizes(500, 4)
	require.Greater(t, len(sizes), 1)
	for i := 1; i < len(sizes); i++ {
		assert.GreaterOrEqual(t, sizes[i], sizes[i-1])
	}
}

func newBurningOnlySystem(tiles ...geometry.Tile) *System {
	initial := make([]TileState, len(tiles))
	for i, tile := range tiles {
		initial[i] = TileState{Tile: tile}
	}
	return New(initial, Config{})
}

func TestSelectNextOnAllBurningCyclesThroughAllTiles(t *testing.T) {
	tiles := []geometry.Tile{geometry.NewTile(0, 0), geometry.NewTile(1, 0), geometry.NewTile(2, 0)}
	s := newBurningOnlySystem(tiles...)

	// The cursor alternates between the burning queue and the temperature
	// queue once the first tile graduates, so it takes more than len(tiles)
	// calls for every burning tile to come up.
	seen := make(map[geometry.Tile]bool)
	for i := 0; i < 2*len(tiles); i++ {
		st, ok := s.SelectNext()
		require.True(t, ok)
		seen[st.Tile] = true
		s.RecordCheck(st.Tile, int64(i+1), 0)
	}
	assert.Len(t, seen, len(tiles))
}

func TestSelectNextEmptySystem(t *testing.T) {
	s := New(nil, Config{})
	_, ok := s.SelectNext()
	assert.False(t, ok)
}

func TestRecordCheckGraduatesFromBurning(t *testing.T) {
	tile := geometry.NewTile(5, 5)
	s := newBurningOnlySystem(tile)

	st, ok := s.SelectNext()
	require.True(t, ok)
	assert.Equal(t, tile, st.Tile)

	s.RecordCheck(tile, 100, 50)
	assert.False(t, s.states[tile].IsBurning())
	assert.Equal(t, int64(50), s.states[tile].LastModified)
}

func TestAddTilesThenRemoveTiles(t *testing.T) {
	s := New(nil, Config{})
	tileA := geometry.NewTile(1, 1)
	tileB := geometry.NewTile(2, 2)

	s.AddTiles(map[geometry.Tile]struct{}{tileA: {}, tileB: {}})
	assert.Equal(t, 2, s.Len())

	s.RemoveTiles(map[geometry.Tile]struct{}{tileA: {}})
	assert.Equal(t, 1, s.Len())
	_, stillThere := s.states[tileB]
	assert.True(t, stillThere)
}

func TestRetryCurrentQueueRewindsCursor(t *testing.T) {
	tiles := []geometry.Tile{geometry.NewTile(0, 0), geometry.NewTile(1, 0)}
	s := newBurningOnlySystem(tiles...)

	st, ok := s.SelectNext()
	require.True(t, ok)
	s.RetryCurrentQueue()

	again, ok := s.SelectNext()
	require.True(t, ok)
	assert.Equal(t, st.Tile, again.Tile)
}

func TestFirstSeenOrdersBurningQueue(t *testing.T) {
	oldTile := geometry.NewTile(0, 0)
	newTile := geometry.NewTile(1, 0)
	firstSeen := map[geometry.Tile]int64{oldTile: 100, newTile: 200}

	s := New([]TileState{{Tile: newTile}, {Tile: oldTile}}, Config{
		FirstSeen: func(tile geometry.Tile) int64 { return firstSeen[tile] },
	})

	st, ok := s.SelectNext()
	require.True(t, ok)
	assert.Equal(t, oldTile, st.Tile)
}

func TestRepositionMovesTileToHotterQueueOnNewerModification(t *testing.T) {
	var initial []TileState
	for i := 0; i < 20; i++ {
		initial = append(initial, TileState{
			Tile:         geometry.NewTile(uint16(i), 0),
			LastChecked:  1,
			LastModified: int64(i), // tile 19 is hottest initially
		})
	}
	s := New(initial, Config{MinHottestQueueSize: 2})
	require.NotEmpty(t, s.temperatures)

	coldTile := geometry.NewTile(0, 0)
	// Jump the coldest tile's modification time to the newest, it should
	// migrate into the hottest queue.
	s.RecordCheck(coldTile, 2, 1000)

	found := false
	hottestQueue := s.temperatures[0]
	for _, tm := range hottestQueue.tiles {
		if tm.Tile == coldTile {
			found = true
		}
	}
	assert.True(t, found, "expected repositioned tile in hottest queue")
}
