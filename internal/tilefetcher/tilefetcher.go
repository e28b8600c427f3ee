// Package tilefetcher performs conditional HTTP fetches of single canvas
// tiles, decodes and palette-coerces the response, and writes the result
// through to a tilestore.Store.
package tilefetcher

import (
	"context"
	"fmt"
	"image/png"
	"log/slog"
	"net/http"
	"time"

	"github.com/Liz4v/pixel-hawk-sub000/internal/geometry"
	"github.com/Liz4v/pixel-hawk-sub000/internal/palette"
	"github.com/Liz4v/pixel-hawk-sub000/internal/tilestore"
)

// Known is the caller's current knowledge of a tile's upstream state, used
// to build conditional request headers.
type Known struct {
	LastUpdate int64 // unix seconds; 0 = unknown
	ETag       string
}

// Outcome is the result of a single fetch attempt.
type Outcome struct {
	Changed    bool
	LastUpdate int64
	ETag       string

	// Transient is set when the fetch failed in a way the upstream server
	// didn't actually report as "unchanged" — a network error, a
	// non-200/304 status, a body decode failure, or a palette violation —
	// as distinct from a genuine 304 Not Modified. The caller must not
	// treat a Transient outcome as a completed check: the scheduler's
	// round-robin cursor should be retried rather than advanced, per
	// spec §4.4/§4.5.
	Transient bool
}

// Fetcher owns a single long-lived HTTP client and performs conditional GETs
// against the upstream tile server.
type Fetcher struct {
	client  *http.Client
	host    string
	palette *palette.Palette
	store   *tilestore.Store
	logger  *slog.Logger
}

// Config configures a Fetcher.
type Config struct {
	// Host is the upstream origin, e.g. "backend.wplace.live".
	Host string
	// Timeout bounds every HTTP round-trip. Defaults to 5 seconds.
	Timeout time.Duration
	Logger  *slog.Logger
}

// New builds a Fetcher that writes decoded tiles to store.
func New(store *tilestore.Store, pal *palette.Palette, cfg Config) *Fetcher {
	if cfg.Host == "" {
		cfg.Host = "backend.wplace.live"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Fetcher{
		client:  &http.Client{Timeout: cfg.Timeout},
		host:    cfg.Host,
		palette: pal,
		store:   store,
		logger:  cfg.Logger,
	}
}

// Fetch performs a conditional GET of tile, using known's Last-Modified/ETag
// as cache validators, and writes the decoded, palette-coerced image through
// to the Fetcher's tilestore on a 200 response.
//
// A genuine 304 Not Modified returns Outcome{Changed: false}. A network
// error, a non-200/304 status, a body decode failure, or a palette
// violation are all TransientFailures per spec §4.4/§4.5: they return
// Outcome{Changed: false, Transient: true, LastUpdate: known.LastUpdate,
// ETag: known.ETag}, nil so the caller (the orchestrator) can tell the
// scheduler not to advance its round-robin cursor and retry the same
// temperature band next cycle, instead of recording a completed check.
func (f *Fetcher) Fetch(ctx context.Context, tile geometry.Tile, known Known) (Outcome, error) {
	url := fmt.Sprintf("https://%s/files/s0/tiles/%d/%d.png", f.host, tile.X, tile.Y)
	log := f.logger.With("tile", tile.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("building request for tile %s: %w", tile, err)
	}
	if known.LastUpdate > 0 {
		req.Header.Set("If-Modified-Since", time.Unix(known.LastUpdate, 0).UTC().Format(http.TimeFormat))
	}
	if known.ETag != "" {
		req.Header.Set("If-None-Match", known.ETag)
	}

	unchanged := Outcome{Changed: false, LastUpdate: known.LastUpdate, ETag: known.ETag}
	transient := Outcome{Changed: false, Transient: true, LastUpdate: known.LastUpdate, ETag: known.ETag}

	resp, err := f.client.Do(req)
	if err != nil {
		log.Debug("tile fetch request failed", "error", err)
		return transient, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return unchanged, nil
	}
	if resp.StatusCode != http.StatusOK {
		log.Debug("tile fetch got unexpected status", "status", resp.StatusCode)
		return transient, nil
	}

	img, err := png.Decode(resp.Body)
	if err != nil {
		log.Debug("tile decode failed", "error", err)
		return transient, nil
	}

	paletted, err := f.palette.Coerce(img)
	if err != nil {
		log.Debug("tile failed palette coercion, treating as transient failure", "error", err)
		return transient, nil
	}

	newLastUpdate := parseLastModified(resp.Header.Get("Last-Modified"))
	newETag := resp.Header.Get("ETag")

	if err := f.store.Write(tile, paletted); err != nil {
		return Outcome{}, fmt.Errorf("writing fetched tile %s to cache: %w", tile, err)
	}

	log.Info("tile changed, cache updated", "last_update", newLastUpdate, "etag", newETag)
	return Outcome{Changed: true, LastUpdate: newLastUpdate, ETag: newETag}, nil
}

// parseLastModified parses an RFC 7231 HTTP-date. If the header is absent or
// malformed, it falls back to the current time, matching spec §4.4.
func parseLastModified(header string) int64 {
	if header != "" {
		if t, err := http.ParseTime(header); err == nil {
			return t.Unix()
		}
	}
	return time.Now().Unix()
}
