// Package persistence stores the relational record store the core depends
// on: people, projects, the tiles they reference, and each project's diff
// history. It exposes exactly the operations the scheduler and diff engine
// need (get/upsert a tile, list tiles for active projects, projects
// overlapping a tile, append history, update a project), each as its own
// transaction, on a sqlite database whose schema is created in place
// without migrations.
package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Liz4v/pixel-hawk-sub000/internal/geometry"

	_ "modernc.org/sqlite" // sqlite driver, registered under "sqlite"
)

// Status is a project diff's outcome category, as recorded on each
// HistoryChange row.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
)

// ProjectState is a project's lifecycle state.
type ProjectState string

const (
	StateCreating ProjectState = "creating"
	StateActive   ProjectState = "active"
	StatePassive  ProjectState = "passive"
	StateInactive ProjectState = "inactive"
)

// BurningHeat is the advisory heat value stored for a tile that has never
// graduated out of the scheduler's burning queue.
const BurningHeat = 999

// Person is a project owner.
type Person struct {
	ID                  int64
	Name                string
	DiscordID           sql.NullString
	AccessFlags         uint32
	WatchedTilesCount   int
	ActiveProjectsCount int
}

// Project is a tracked rectangular region of the canvas with a target image
// and accumulated completion history.
type Project struct {
	ID      int64
	OwnerID int64
	Name    string
	State   ProjectState

	Rect geometry.Rectangle

	FirstSeen    int64
	LastCheck    int64
	LastSnapshot int64

	MaxCompletionPixels  int
	MaxCompletionPercent float64
	MaxCompletionTime    int64

	TotalProgress int
	TotalRegress  int

	LargestRegressPixels int
	LargestRegressTime   int64

	ChangeStreakType  string
	ChangeStreakCount int
	NochangeStreak    int

	RecentRatePerHour float64
	RateWindowStart   int64

	TileLastUpdate map[string]int64

	HasMissingTiles bool
	LastLogMessage  string
}

// Filename is the canonical on-disk name for this project's target/snapshot
// image, derived from its rectangle's origin: "<tx>_<ty>_<px>_<py>.png".
func (p *Project) Filename() string {
	tx, ty, px, py := p.Rect.Point().To4()
	return fmt.Sprintf("%d_%d_%d_%d.png", tx, ty, px, py)
}

// TileRow is a tile's persisted polling state.
type TileRow struct {
	Tile        geometry.Tile
	Heat        int
	LastChecked int64
	LastUpdate  int64
	ETag        string
}

// HistoryEntry is one row of a project's append-only diff history log.
type HistoryEntry struct {
	ID                int64
	ProjectID         int64
	Timestamp         int64
	Status            Status
	NumRemaining      int
	NumTarget         int
	CompletionPercent float64
	ProgressPixels    int
	RegressPixels     int
}

// Store is a sqlite-backed repository implementing the persistence
// operations the core depends on.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and ensures its
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening persistence database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS person (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			discord_id TEXT UNIQUE,
			access_flags INTEGER NOT NULL DEFAULT 0,
			watched_tiles_count INTEGER NOT NULL DEFAULT 0,
			active_projects_count INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS project (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id INTEGER NOT NULL REFERENCES person(id),
			name TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT 'creating',
			rect_left INTEGER NOT NULL,
			rect_top INTEGER NOT NULL,
			rect_right INTEGER NOT NULL,
			rect_bottom INTEGER NOT NULL,
			first_seen INTEGER NOT NULL DEFAULT 0,
			last_check INTEGER NOT NULL DEFAULT 0,
			last_snapshot INTEGER NOT NULL DEFAULT 0,
			max_completion_pixels INTEGER NOT NULL DEFAULT 0,
			max_completion_percent REAL NOT NULL DEFAULT 0,
			max_completion_time INTEGER NOT NULL DEFAULT 0,
			total_progress INTEGER NOT NULL DEFAULT 0,
			total_regress INTEGER NOT NULL DEFAULT 0,
			largest_regress_pixels INTEGER NOT NULL DEFAULT 0,
			largest_regress_time INTEGER NOT NULL DEFAULT 0,
			change_streak_type TEXT NOT NULL DEFAULT 'none',
			change_streak_count INTEGER NOT NULL DEFAULT 0,
			nochange_streak_count INTEGER NOT NULL DEFAULT 0,
			recent_rate_pixels_per_hour REAL NOT NULL DEFAULT 0,
			recent_rate_window_start INTEGER NOT NULL DEFAULT 0,
			tile_last_update TEXT NOT NULL DEFAULT '{}',
			has_missing_tiles INTEGER NOT NULL DEFAULT 1,
			last_log_message TEXT NOT NULL DEFAULT '',
			UNIQUE (owner_id, name)
		);

		CREATE TABLE IF NOT EXISTS tile (
			id INTEGER PRIMARY KEY,
			tx INTEGER NOT NULL,
			ty INTEGER NOT NULL,
			heat INTEGER NOT NULL DEFAULT 999,
			last_checked INTEGER NOT NULL DEFAULT 0,
			last_update INTEGER NOT NULL DEFAULT 0,
			etag TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS tile_heat_checked_idx ON tile (heat, last_checked);

		CREATE TABLE IF NOT EXISTS tile_project (
			tile_id INTEGER NOT NULL REFERENCES tile(id) ON DELETE CASCADE,
			project_id INTEGER NOT NULL REFERENCES project(id) ON DELETE CASCADE,
			UNIQUE (tile_id, project_id)
		);
		CREATE INDEX IF NOT EXISTS tile_project_tile_idx ON tile_project (tile_id);
		CREATE INDEX IF NOT EXISTS tile_project_project_idx ON tile_project (project_id);

		CREATE TABLE IF NOT EXISTS history_change (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id INTEGER NOT NULL REFERENCES project(id) ON DELETE CASCADE,
			timestamp INTEGER NOT NULL,
			status TEXT NOT NULL,
			num_remaining INTEGER NOT NULL DEFAULT 0,
			num_target INTEGER NOT NULL DEFAULT 0,
			completion_percent REAL NOT NULL DEFAULT 0,
			progress_pixels INTEGER NOT NULL DEFAULT 0,
			regress_pixels INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS history_change_project_idx ON history_change (project_id, timestamp DESC);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

const projectColumns = `
	id, owner_id, name, state, rect_left, rect_top, rect_right, rect_bottom,
	first_seen, last_check, last_snapshot,
	max_completion_pixels, max_completion_percent, max_completion_time,
	total_progress, total_regress,
	largest_regress_pixels, largest_regress_time,
	change_streak_type, change_streak_count, nochange_streak_count,
	recent_rate_pixels_per_hour, recent_rate_window_start,
	tile_last_update, has_missing_tiles, last_log_message`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProjectRow(row rowScanner) (*Project, error) {
	var p Project
	var left, top, right, bottom int
	var tileLastUpdateJSON string
	var hasMissingTiles int
	var state string
	if err := row.Scan(
		&p.ID, &p.OwnerID, &p.Name, &state, &left, &top, &right, &bottom,
		&p.FirstSeen, &p.LastCheck, &p.LastSnapshot,
		&p.MaxCompletionPixels, &p.MaxCompletionPercent, &p.MaxCompletionTime,
		&p.TotalProgress, &p.TotalRegress,
		&p.LargestRegressPixels, &p.LargestRegressTime,
		&p.ChangeStreakType, &p.ChangeStreakCount, &p.NochangeStreak,
		&p.RecentRatePerHour, &p.RateWindowStart,
		&tileLastUpdateJSON, &hasMissingTiles, &p.LastLogMessage,
	); err != nil {
		return nil, err
	}
	p.State = ProjectState(state)
	p.Rect = geometry.Rectangle{Left: left, Top: top, Right: right, Bottom: bottom}
	p.HasMissingTiles = hasMissingTiles != 0
	p.TileLastUpdate = make(map[string]int64)
	if tileLastUpdateJSON != "" {
		if err := json.Unmarshal([]byte(tileLastUpdateJSON), &p.TileLastUpdate); err != nil {
			return nil, fmt.Errorf("decoding tile_last_update: %w", err)
		}
	}
	return &p, nil
}

// GetProject loads a project record by id. It returns (nil, nil) if no such
// project exists.
func (s *Store) GetProject(id int64) (*Project, error) {
	row := s.db.QueryRow(`SELECT `+projectColumns+` FROM project WHERE id = ?`, id)
	rec, err := scanProjectRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading project %d: %w", id, err)
	}
	return rec, nil
}

// CreateProject inserts a brand-new project owned by owner, stamping
// FirstSeen/LastCheck to now, and returns it with its assigned ID.
// It also creates the TileProject rows for the project's rectangle's tiles
// (creating any missing Tile rows as burning), keeping the invariant that a
// non-Inactive project's tile_project rows exactly match its rect's tiles.
func (s *Store) CreateProject(owner *Person, name string, rect geometry.Rectangle) (*Project, error) {
	now := time.Now().Unix()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning create-project transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.Exec(`
		INSERT INTO project (owner_id, name, state, rect_left, rect_top, rect_right, rect_bottom,
		                      first_seen, last_check, change_streak_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'none')`,
		owner.ID, name, StateCreating, rect.Left, rect.Top, rect.Right, rect.Bottom, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating project %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading new project id: %w", err)
	}

	if err := linkProjectTilesTx(tx, id, rect); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing new project %q: %w", name, err)
	}
	return s.GetProject(id)
}

func linkProjectTilesTx(tx *sql.Tx, projectID int64, rect geometry.Rectangle) error {
	for tile := range rect.Tiles() {
		if _, err := tx.Exec(`
			INSERT INTO tile (id, tx, ty) VALUES (?, ?, ?)
			ON CONFLICT (id) DO NOTHING`,
			tile.ID(), tile.X, tile.Y,
		); err != nil {
			return fmt.Errorf("ensuring tile row for %s: %w", tile, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO tile_project (tile_id, project_id) VALUES (?, ?)
			ON CONFLICT (tile_id, project_id) DO NOTHING`,
			tile.ID(), projectID,
		); err != nil {
			return fmt.Errorf("linking tile %s to project: %w", tile, err)
		}
	}
	return nil
}

// SetProjectState updates a project's lifecycle state.
func (s *Store) SetProjectState(projectID int64, state ProjectState) error {
	_, err := s.db.Exec(`UPDATE project SET state = ? WHERE id = ?`, state, projectID)
	if err != nil {
		return fmt.Errorf("setting project %d state: %w", projectID, err)
	}
	return nil
}

// DeleteProject removes a project; ON DELETE CASCADE removes its
// tile_project links and history.
func (s *Store) DeleteProject(projectID int64) error {
	_, err := s.db.Exec(`DELETE FROM project WHERE id = ?`, projectID)
	if err != nil {
		return fmt.Errorf("deleting project %d: %w", projectID, err)
	}
	return nil
}

// ListActiveProjects returns every project currently in the Active state.
func (s *Store) ListActiveProjects() ([]*Project, error) {
	rows, err := s.db.Query(`SELECT `+projectColumns+` FROM project WHERE state = ? ORDER BY id`, StateActive)
	if err != nil {
		return nil, fmt.Errorf("listing active projects: %w", err)
	}
	defer rows.Close()
	return scanProjects(rows)
}

// ListAllProjects returns every project regardless of state, ordered by id,
// for read-only reporting (the CLI's status command).
func (s *Store) ListAllProjects() ([]*Project, error) {
	rows, err := s.db.Query(`SELECT ` + projectColumns + ` FROM project ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing all projects: %w", err)
	}
	defer rows.Close()
	return scanProjects(rows)
}

func scanProjects(rows *sql.Rows) ([]*Project, error) {
	var out []*Project
	for rows.Next() {
		rec, err := scanProjectRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning project row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ProjectsOverlapping returns every Active project whose tile_project rows
// reference tile.
func (s *Store) ProjectsOverlapping(tile geometry.Tile) ([]*Project, error) {
	rows, err := s.db.Query(`
		SELECT `+projectColumns+`
		FROM project
		JOIN tile_project ON tile_project.project_id = project.id
		WHERE tile_project.tile_id = ? AND project.state = ?
		ORDER BY project.id`, tile.ID(), StateActive)
	if err != nil {
		return nil, fmt.Errorf("loading projects overlapping tile %s: %w", tile, err)
	}
	defer rows.Close()
	return scanProjects(rows)
}

// SaveDiff atomically updates a project's full record and appends one
// history_change row for the diff, in a single transaction so the history
// log and the project's running state never diverge.
func (s *Store) SaveDiff(rec *Project, entry HistoryEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning diff transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	tileLastUpdateJSON, err := json.Marshal(rec.TileLastUpdate)
	if err != nil {
		return fmt.Errorf("encoding tile_last_update: %w", err)
	}

	hasMissingTiles := 0
	if rec.HasMissingTiles {
		hasMissingTiles = 1
	}

	_, err = tx.Exec(`
		UPDATE project SET
			last_check = ?, last_snapshot = ?,
			max_completion_pixels = ?, max_completion_percent = ?, max_completion_time = ?,
			total_progress = ?, total_regress = ?,
			largest_regress_pixels = ?, largest_regress_time = ?,
			change_streak_type = ?, change_streak_count = ?, nochange_streak_count = ?,
			recent_rate_pixels_per_hour = ?, recent_rate_window_start = ?,
			tile_last_update = ?, has_missing_tiles = ?, last_log_message = ?
		WHERE id = ?`,
		rec.LastCheck, rec.LastSnapshot,
		rec.MaxCompletionPixels, rec.MaxCompletionPercent, rec.MaxCompletionTime,
		rec.TotalProgress, rec.TotalRegress,
		rec.LargestRegressPixels, rec.LargestRegressTime,
		rec.ChangeStreakType, rec.ChangeStreakCount, rec.NochangeStreak,
		rec.RecentRatePerHour, rec.RateWindowStart,
		string(tileLastUpdateJSON), hasMissingTiles, rec.LastLogMessage,
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("updating project %d: %w", rec.ID, err)
	}

	_, err = tx.Exec(`
		INSERT INTO history_change
			(project_id, timestamp, status, num_remaining, num_target, completion_percent, progress_pixels, regress_pixels)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, entry.Timestamp, string(entry.Status),
		entry.NumRemaining, entry.NumTarget, entry.CompletionPercent,
		entry.ProgressPixels, entry.RegressPixels,
	)
	if err != nil {
		return fmt.Errorf("appending history for project %d: %w", rec.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing diff for project %d: %w", rec.ID, err)
	}
	return nil
}

// UpdateProject persists a project's current in-memory fields without
// appending a history row, used by run_nochange.
func (s *Store) UpdateProject(rec *Project) error {
	tileLastUpdateJSON, err := json.Marshal(rec.TileLastUpdate)
	if err != nil {
		return fmt.Errorf("encoding tile_last_update: %w", err)
	}
	hasMissingTiles := 0
	if rec.HasMissingTiles {
		hasMissingTiles = 1
	}
	_, err = s.db.Exec(`
		UPDATE project SET last_check = ?, tile_last_update = ?, has_missing_tiles = ?
		WHERE id = ?`, rec.LastCheck, string(tileLastUpdateJSON), hasMissingTiles, rec.ID)
	if err != nil {
		return fmt.Errorf("updating project %d: %w", rec.ID, err)
	}
	return nil
}

// RecentHistory returns the most recent history entries for a project, most
// recent first, capped at limit rows.
func (s *Store) RecentHistory(projectID int64, limit int) ([]HistoryEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, timestamp, status, num_remaining, num_target,
		       completion_percent, progress_pixels, regress_pixels
		FROM history_change
		WHERE project_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading history for project %d: %w", projectID, err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var status string
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Timestamp, &status,
			&e.NumRemaining, &e.NumTarget, &e.CompletionPercent,
			&e.ProgressPixels, &e.RegressPixels); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		e.Status = Status(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetTile loads a tile's persisted polling state. It returns (nil, nil) if
// the tile has never been referenced.
func (s *Store) GetTile(tile geometry.Tile) (*TileRow, error) {
	sqlRow := s.db.QueryRow(`SELECT tx, ty, heat, last_checked, last_update, etag FROM tile WHERE id = ?`, tile.ID())
	tr := TileRow{Tile: tile}
	var tx, ty int
	if err := sqlRow.Scan(&tx, &ty, &tr.Heat, &tr.LastChecked, &tr.LastUpdate, &tr.ETag); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("loading tile %s: %w", tile, err)
	}
	return &tr, nil
}

// UpsertTile writes a tile's polling state, creating the row if absent.
func (s *Store) UpsertTile(row TileRow) error {
	_, err := s.db.Exec(`
		INSERT INTO tile (id, tx, ty, heat, last_checked, last_update, etag)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			heat = excluded.heat,
			last_checked = excluded.last_checked,
			last_update = excluded.last_update,
			etag = excluded.etag`,
		row.Tile.ID(), row.Tile.X, row.Tile.Y, row.Heat, row.LastChecked, row.LastUpdate, row.ETag,
	)
	if err != nil {
		return fmt.Errorf("upserting tile %s: %w", row.Tile, err)
	}
	return nil
}

// BootstrapTileFromCache seeds a tile's row from a cached file's
// modification time when the tile has never been checked, so that a fresh
// database pointed at a pre-populated tile cache does not send every tile
// into the scheduler's burning queue on first run. A missing row and a row
// with no recorded check (as CreateProject leaves it) are both seeded; it is
// a no-op if the tile's row already records a check.
func (s *Store) BootstrapTileFromCache(tile geometry.Tile, cachedAt int64) error {
	existing, err := s.GetTile(tile)
	if err != nil {
		return err
	}
	if existing != nil && existing.LastChecked != 0 {
		return nil
	}
	return s.UpsertTile(TileRow{
		Tile:        tile,
		Heat:        BurningHeat,
		LastChecked: cachedAt,
		LastUpdate:  cachedAt,
	})
}

// ListTilesForActiveProjects returns the set of all tiles referenced by at
// least one Active project, via their tile_project rows.
func (s *Store) ListTilesForActiveProjects() (map[geometry.Tile]struct{}, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT tile.tx, tile.ty
		FROM tile
		JOIN tile_project ON tile_project.tile_id = tile.id
		JOIN project ON project.id = tile_project.project_id
		WHERE project.state = ?`, StateActive)
	if err != nil {
		return nil, fmt.Errorf("listing tiles for active projects: %w", err)
	}
	defer rows.Close()

	out := make(map[geometry.Tile]struct{})
	for rows.Next() {
		var tx, ty int
		if err := rows.Scan(&tx, &ty); err != nil {
			return nil, fmt.Errorf("scanning tile row: %w", err)
		}
		out[geometry.NewTile(uint16(tx), uint16(ty))] = struct{}{}
	}
	return out, rows.Err()
}

// GetPerson loads a person by id. It returns (nil, nil) if no such person
// exists.
func (s *Store) GetPerson(id int64) (*Person, error) {
	row := s.db.QueryRow(`SELECT id, name, discord_id, access_flags, watched_tiles_count, active_projects_count FROM person WHERE id = ?`, id)
	var p Person
	if err := row.Scan(&p.ID, &p.Name, &p.DiscordID, &p.AccessFlags, &p.WatchedTilesCount, &p.ActiveProjectsCount); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("loading person %d: %w", id, err)
	}
	return &p, nil
}

// CreatePerson inserts a new person and returns it with its assigned ID.
func (s *Store) CreatePerson(name string, discordID string) (*Person, error) {
	var discord sql.NullString
	if discordID != "" {
		discord = sql.NullString{String: discordID, Valid: true}
	}
	res, err := s.db.Exec(`INSERT INTO person (name, discord_id) VALUES (?, ?)`, name, discord)
	if err != nil {
		return nil, fmt.Errorf("creating person %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading new person id: %w", err)
	}
	return s.GetPerson(id)
}

// RefreshPersonCounters recomputes and persists a person's
// watched_tiles_count (the number of distinct tiles covered by their Active
// projects) and active_projects_count.
func (s *Store) RefreshPersonCounters(personID int64) error {
	var watchedTiles, activeProjects int
	row := s.db.QueryRow(`
		SELECT COUNT(DISTINCT tile_project.tile_id)
		FROM tile_project
		JOIN project ON project.id = tile_project.project_id
		WHERE project.owner_id = ? AND project.state = ?`, personID, StateActive)
	if err := row.Scan(&watchedTiles); err != nil {
		return fmt.Errorf("counting watched tiles for person %d: %w", personID, err)
	}

	row = s.db.QueryRow(`SELECT COUNT(*) FROM project WHERE owner_id = ? AND state = ?`, personID, StateActive)
	if err := row.Scan(&activeProjects); err != nil {
		return fmt.Errorf("counting active projects for person %d: %w", personID, err)
	}

	_, err := s.db.Exec(`UPDATE person SET watched_tiles_count = ?, active_projects_count = ? WHERE id = ?`,
		watchedTiles, activeProjects, personID)
	if err != nil {
		return fmt.Errorf("updating counters for person %d: %w", personID, err)
	}
	return nil
}
