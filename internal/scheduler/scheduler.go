// Package scheduler implements the temperature-bucketed tile polling
// schedule: a burning queue for never-checked tiles plus a Zipf-distributed
// ladder of temperature queues for previously-seen tiles, selected
// round-robin with within-queue least-recently-checked ordering.
package scheduler

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/Liz4v/pixel-hawk-sub000/internal/geometry"
)

// DefaultMinHottestQueueSize is the floor on the hottest queue's tile count
// used when the caller does not override it.
const DefaultMinHottestQueueSize = 4

// TileState is this scheduler's view of a single tile: when it was last
// polled and what modification time the server last reported for it.
type TileState struct {
	Tile         geometry.Tile
	LastChecked  int64 // unix seconds; 0 = never checked
	LastModified int64 // unix seconds from the server; 0 = unknown
}

// IsBurning reports whether the tile has never been checked.
func (s TileState) IsBurning() bool {
	return s.LastChecked == 0
}

// queue is one bucket of tiles, either the burning queue (Temperature < 0)
// or a numbered temperature queue (0 = coldest, increasing = hotter).
type queue struct {
	temperature int // -1 = burning
	tiles       []*TileState
}

func (q *queue) isEmpty() bool { return len(q.tiles) == 0 }

func (q *queue) removeTile(t *TileState) {
	for i, other := range q.tiles {
		if other == t {
			q.tiles = append(q.tiles[:i], q.tiles[i+1:]...)
			return
		}
	}
}

func (q *queue) addTile(t *TileState) {
	for _, other := range q.tiles {
		if other == t {
			return
		}
	}
	q.tiles = append(q.tiles, t)
}

func (q *queue) String() string {
	if q.temperature < 0 {
		return "burning queue"
	}
	return "temp queue"
}

// FirstSeenLookup reports the earliest known first-seen timestamp (unix
// seconds) among the projects that reference tile, for prioritizing the
// burning queue. It should return math.MaxInt64 if the tile belongs to no
// tracked project.
type FirstSeenLookup func(tile geometry.Tile) int64

// System is a stateful tile scheduler. It is not safe for concurrent use;
// the orchestrator drives it from a single goroutine.
type System struct {
	minHottestSize int
	firstSeen      FirstSeenLookup
	logger         *slog.Logger

	states       map[geometry.Tile]*TileState
	burning      queue
	temperatures []*queue
	cursor       int
}

// Config configures a new System.
type Config struct {
	// MinHottestQueueSize floors the hottest temperature queue's size.
	// Defaults to DefaultMinHottestQueueSize.
	MinHottestQueueSize int
	// FirstSeen resolves a tile to the oldest first-seen time among the
	// projects that reference it, used to order the burning queue.
	// If nil, every burning tile ties and the pick among them follows the
	// burning queue's internal order, which is built from map iteration and
	// so is not defined.
	FirstSeen FirstSeenLookup
	Logger    *slog.Logger
}

// New builds a System tracking the given tiles, each seeded with its
// existing TileState (e.g. restored from a tile cache's file mtimes).
func New(initial []TileState, cfg Config) *System {
	if cfg.MinHottestQueueSize <= 0 {
		cfg.MinHottestQueueSize = DefaultMinHottestQueueSize
	}
	if cfg.FirstSeen == nil {
		cfg.FirstSeen = func(geometry.Tile) int64 { return math.MaxInt64 }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &System{
		minHottestSize: cfg.MinHottestQueueSize,
		firstSeen:      cfg.FirstSeen,
		logger:         cfg.Logger,
		states:         make(map[geometry.Tile]*TileState, len(initial)),
	}
	for i := range initial {
		st := initial[i]
		s.states[st.Tile] = &st
	}
	s.rebuild()
	return s
}

// calculateZipfQueueSizes returns queue sizes from hottest to coldest such
// that each queue i (0-indexed from the hottest) holds a share of
// totalTiles proportional to 1/(k-i) of the harmonic sum over k queues, the
// hottest queue has at least minHottestSize tiles, and the sizes sum to
// exactly totalTiles.
func calculateZipfQueueSizes(totalTiles, minHottestSize int) []int {
	if totalTiles <= minHottestSize {
		if totalTiles > 0 {
			return []int{totalTiles}
		}
		return nil
	}

	left, right := 1, totalTiles/minHottestSize
	numQueues := 1
	for left <= right {
		k := (left + right) / 2
		harmonic := harmonicSum(k)
		hottestSize := float64(totalTiles) * (1.0 / float64(k)) / harmonic
		if math.Round(hottestSize) >= float64(minHottestSize) {
			numQueues = k
			left = k + 1
		} else {
			right = k - 1
		}
	}

	harmonic := harmonicSum(numQueues)
	sizes := make([]int, numQueues)
	allocated := 0
	for i := 0; i < numQueues; i++ {
		proportion := (1.0 / float64(numQueues-i)) / harmonic
		size := int(math.Round(float64(totalTiles) * proportion))
		sizes[i] = size
		allocated += size
	}

	remainder := totalTiles - allocated
	for i := len(sizes) - 1; i >= 0 && remainder != 0; i-- {
		if remainder > 0 {
			sizes[i]++
			remainder--
		} else if sizes[i] > 1 {
			sizes[i]--
			remainder++
		}
	}
	return sizes
}

func harmonicSum(k int) float64 {
	var sum float64
	for i := 1; i <= k; i++ {
		sum += 1.0 / float64(i)
	}
	return sum
}

// rebuild recomputes the burning queue and the full temperature queue
// ladder from scratch. Called whenever the tracked tile set or the burning
// status of some tile changes.
func (s *System) rebuild() {
	s.burning = queue{temperature: -1}
	s.temperatures = nil

	var burningTiles, tempTiles []*TileState
	for _, st := range s.states {
		if st.IsBurning() {
			burningTiles = append(burningTiles, st)
		} else {
			tempTiles = append(tempTiles, st)
		}
	}
	for _, t := range burningTiles {
		s.burning.addTile(t)
	}

	if len(tempTiles) == 0 {
		s.logger.Debug("no temperature tiles, only burning queue")
		if s.cursor >= 1 {
			s.cursor = 0
		}
		return
	}

	sort.Slice(tempTiles, func(i, j int) bool { return tempTiles[i].LastModified > tempTiles[j].LastModified })

	sizes := calculateZipfQueueSizes(len(tempTiles), s.minHottestSize)
	if len(sizes) == 0 {
		s.logger.Warn("failed to calculate queue sizes, using single queue")
		sizes = []int{len(tempTiles)}
	}
	s.logger.Info("queue distribution", "sizes", sizes, "tiles", len(tempTiles))

	idx := 0
	for qi, size := range sizes {
		tempLevel := len(sizes) - 1 - qi
		q := &queue{temperature: tempLevel}
		for n := 0; n < size && idx < len(tempTiles); n++ {
			q.addTile(tempTiles[idx])
			idx++
		}
		s.temperatures = append(s.temperatures, q)
	}

	allQueuesCount := 1 + len(s.temperatures)
	if s.cursor >= allQueuesCount {
		s.cursor = s.cursor % allQueuesCount
	}
}

// reposition surgically relocates a tile that has just gained a newer
// LastModified value into the temperature queue its sorted position now
// belongs to, cascading the coldest tile of each intervening queue down one
// step so every queue keeps its Zipf-prescribed size.
func (s *System) reposition(t *TileState) {
	if len(s.temperatures) == 0 {
		return
	}

	oldIdx := -1
	for i, q := range s.temperatures {
		for _, other := range q.tiles {
			if other == t {
				oldIdx = i
				break
			}
		}
		if oldIdx >= 0 {
			break
		}
	}
	if oldIdx < 0 {
		s.logger.Warn("tile not found in any temperature queue during reposition", "tile", t.Tile.String())
		return
	}

	var tempTiles []*TileState
	for _, st := range s.states {
		if !st.IsBurning() {
			tempTiles = append(tempTiles, st)
		}
	}
	sort.Slice(tempTiles, func(i, j int) bool { return tempTiles[i].LastModified > tempTiles[j].LastModified })

	position := -1
	for i, other := range tempTiles {
		if other == t {
			position = i
			break
		}
	}

	targetIdx := len(s.temperatures) - 1
	cumulative := 0
	for i, q := range s.temperatures {
		if position < cumulative+len(q.tiles) {
			targetIdx = i
			break
		}
		cumulative += len(q.tiles)
	}

	if targetIdx == oldIdx {
		return
	}
	if targetIdx > oldIdx {
		// Modification time only increases, so a tile can only warm up.
		s.logger.Warn("tile moving to colder queue, ignoring", "tile", t.Tile.String())
		return
	}

	s.temperatures[oldIdx].removeTile(t)

	carry := t
	landed := false
	for qi := targetIdx; qi < oldIdx; qi++ {
		q := s.temperatures[qi]
		if len(q.tiles) == 0 {
			q.addTile(carry)
			landed = true
			break
		}
		coldest := q.tiles[0]
		for _, other := range q.tiles[1:] {
			if other.LastModified < coldest.LastModified {
				coldest = other
			}
		}
		q.removeTile(coldest)
		q.addTile(carry)
		carry = coldest
	}
	if !landed {
		s.temperatures[oldIdx].addTile(carry)
	}
}

// AddTiles registers new tiles with the scheduler (e.g. from a newly added
// project) and rebuilds the queue ladder if any were not already tracked.
func (s *System) AddTiles(tiles map[geometry.Tile]struct{}) {
	changed := false
	for tile := range tiles {
		if _, ok := s.states[tile]; !ok {
			s.states[tile] = &TileState{Tile: tile}
			changed = true
		}
	}
	if changed {
		s.rebuild()
	}
}

// RemoveTiles unregisters tiles (e.g. from a deleted project) and rebuilds
// the queue ladder if any were tracked.
func (s *System) RemoveTiles(tiles map[geometry.Tile]struct{}) {
	changed := false
	for tile := range tiles {
		if _, ok := s.states[tile]; ok {
			delete(s.states, tile)
			changed = true
		}
	}
	if changed {
		s.rebuild()
	}
}

// SelectNext returns the tile the round robin wants checked next, advancing
// the internal cursor. It returns (TileState{}, false) if no tiles are
// tracked.
func (s *System) SelectNext() (TileState, bool) {
	if len(s.states) == 0 {
		return TileState{}, false
	}

	allQueues := make([]*queue, 0, 1+len(s.temperatures))
	allQueues = append(allQueues, &s.burning)
	allQueues = append(allQueues, s.temperatures...)

	for attempts := 0; attempts < len(allQueues); attempts++ {
		q := allQueues[s.cursor]
		s.cursor = (s.cursor + 1) % len(allQueues)

		if q.isEmpty() {
			continue
		}
		picked := s.selectWithinQueue(q)
		if picked != nil {
			s.logger.Debug("examining tile", "tile", picked.Tile.String(), "queue", q.String())
			return *picked, true
		}
	}

	s.logger.Warn("all queues empty but tiles tracked, rebuilding")
	s.rebuild()
	return TileState{}, false
}

// selectWithinQueue picks the tile with the oldest LastChecked time in a
// temperature queue, or in the burning queue, the tile belonging to the
// oldest-first-seen project.
func (s *System) selectWithinQueue(q *queue) *TileState {
	if len(q.tiles) == 0 {
		return nil
	}
	if q.temperature >= 0 {
		oldest := q.tiles[0]
		for _, other := range q.tiles[1:] {
			if other.LastChecked < oldest.LastChecked {
				oldest = other
			}
		}
		return oldest
	}

	oldest := q.tiles[0]
	oldestSeen := s.firstSeen(oldest.Tile)
	for _, other := range q.tiles[1:] {
		seen := s.firstSeen(other.Tile)
		if seen < oldestSeen {
			oldest = other
			oldestSeen = seen
		}
	}
	return oldest
}

// RetryCurrentQueue rewinds the round-robin cursor so the queue that was
// just tried will be retried on the next SelectNext call, for use when a
// tile check fails transiently.
func (s *System) RetryCurrentQueue() {
	count := 1 + len(s.temperatures)
	if count > 0 {
		s.cursor = ((s.cursor-1)%count + count) % count
	}
}

// RecordCheck updates a tile's state after it has been checked, using
// checkedAt (unix seconds) as the new LastChecked time and modifiedTime
// (0 if unknown/unchanged) as a candidate new LastModified time. It
// rebuilds the full ladder if the tile just graduated out of the burning
// queue, or surgically repositions it if its modification time advanced.
func (s *System) RecordCheck(tile geometry.Tile, checkedAt, modifiedTime int64) {
	st, ok := s.states[tile]
	if !ok {
		s.logger.Warn("tile not tracked", "tile", tile.String())
		return
	}

	wasBurning := st.IsBurning()
	oldModified := st.LastModified

	st.LastChecked = checkedAt
	if modifiedTime > 0 {
		st.LastModified = modifiedTime
	}

	switch {
	case wasBurning:
		s.rebuild()
	case modifiedTime > 0 && modifiedTime != oldModified:
		s.reposition(st)
	}
}

// Now is a small seam so callers (and tests) don't need to import "time"
// just to stamp a RecordCheck call.
func Now() int64 {
	return time.Now().Unix()
}

// Len returns the number of tiles currently tracked.
func (s *System) Len() int {
	return len(s.states)
}

// Temperature reports a tracked tile's current queue temperature: -1 if
// it's in the burning queue, otherwise its temperature level (0 = coldest).
// The second return is false if the tile isn't tracked.
func (s *System) Temperature(tile geometry.Tile) (int, bool) {
	st, ok := s.states[tile]
	if !ok {
		return 0, false
	}
	if st.IsBurning() {
		return -1, true
	}
	for _, q := range s.temperatures {
		for _, other := range q.tiles {
			if other == st {
				return q.temperature, true
			}
		}
	}
	return 0, true
}
