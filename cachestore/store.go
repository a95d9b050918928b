// Package cachestore persists cached asset responses in SQLite, playing the
// role the browser's Cache Storage plays for a service worker. Entries are
// partitioned by cache generation name so a new deployment writes into a
// fresh generation and old ones can be dropped wholesale on activation.
package cachestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/plainlicense/herokit/dbopen"
)

// Schema for the cache_entries table. Pass to dbopen.WithSchema or apply via
// Store.Init.
const Schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	cache_name   TEXT NOT NULL,
	url          TEXT NOT NULL,
	status       INTEGER NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	headers      TEXT NOT NULL DEFAULT '{}',
	body         BLOB,
	fetched_at   INTEGER NOT NULL,
	PRIMARY KEY (cache_name, url)
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_name ON cache_entries(cache_name);
`

// Entry is one cached response.
type Entry struct {
	URL         string
	Status      int
	ContentType string
	Header      http.Header
	Body        []byte
	FetchedAt   time.Time
}

// FromResponse drains resp.Body into an Entry. The caller keeps ownership of
// resp and must not reuse its body afterwards.
func FromResponse(url string, resp *http.Response) (*Entry, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cachestore: read body for %s: %w", url, err)
	}
	return &Entry{
		URL:         url,
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Header:      resp.Header.Clone(),
		Body:        body,
		FetchedAt:   time.Now(),
	}, nil
}

// WriteTo replays the entry onto an HTTP response.
func (e *Entry) WriteTo(w http.ResponseWriter) {
	for k, vs := range e.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if e.ContentType != "" && w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", e.ContentType)
	}
	w.WriteHeader(e.Status)
	_, _ = w.Write(e.Body)
}

// Store wraps the cache database. All operations are individually atomic;
// multi-step sequences (match-then-put, scan-then-delete) are not
// transactional, which is acceptable for idempotent cache maintenance.
type Store struct {
	db *sql.DB
}

// New creates a Store backed by db. Call Init (or open the db with
// dbopen.WithSchema(Schema)) before first use.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Init creates the cache_entries table if absent.
func (s *Store) Init() error {
	_, err := s.db.Exec(Schema)
	return err
}

// Put stores or replaces an entry in the named cache.
func (s *Store) Put(ctx context.Context, cacheName string, e *Entry) error {
	hdr, err := json.Marshal(e.Header)
	if err != nil {
		return fmt.Errorf("cachestore: marshal headers for %s: %w", e.URL, err)
	}
	fetched := e.FetchedAt
	if fetched.IsZero() {
		fetched = time.Now()
	}
	_, err = dbopen.Exec(ctx, s.db, `
		INSERT OR REPLACE INTO cache_entries
			(cache_name, url, status, content_type, headers, body, fetched_at)
		VALUES (?,?,?,?,?,?,?)`,
		cacheName, e.URL, e.Status, e.ContentType, string(hdr), e.Body, fetched.Unix())
	if err != nil {
		return fmt.Errorf("cachestore: put %s: %w", e.URL, err)
	}
	return nil
}

// Match returns the cached entry for url, or (nil, nil) on a miss.
func (s *Store) Match(ctx context.Context, cacheName, url string) (*Entry, error) {
	var (
		e       Entry
		hdr     string
		fetched int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT url, status, content_type, headers, body, fetched_at
		FROM cache_entries WHERE cache_name = ? AND url = ?`,
		cacheName, url).Scan(&e.URL, &e.Status, &e.ContentType, &hdr, &e.Body, &fetched)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cachestore: match %s: %w", url, err)
	}
	if err := json.Unmarshal([]byte(hdr), &e.Header); err != nil {
		e.Header = http.Header{}
	}
	e.FetchedAt = time.Unix(fetched, 0)
	return &e, nil
}

// Delete removes one entry. It reports whether a row existed.
func (s *Store) Delete(ctx context.Context, cacheName, url string) (bool, error) {
	res, err := dbopen.Exec(ctx, s.db,
		`DELETE FROM cache_entries WHERE cache_name = ? AND url = ?`, cacheName, url)
	if err != nil {
		return false, fmt.Errorf("cachestore: delete %s: %w", url, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Keys lists every cached URL in the named cache.
func (s *Store) Keys(ctx context.Context, cacheName string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT url FROM cache_entries WHERE cache_name = ? ORDER BY url`, cacheName)
	if err != nil {
		return nil, fmt.Errorf("cachestore: keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("cachestore: scan key: %w", err)
		}
		keys = append(keys, u)
	}
	return keys, rows.Err()
}

// CacheNames lists every cache generation present in the store.
func (s *Store) CacheNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT cache_name FROM cache_entries ORDER BY cache_name`)
	if err != nil {
		return nil, fmt.Errorf("cachestore: cache names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("cachestore: scan cache name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// DropOthers deletes every cache generation except keep, returning the
// number of entries removed.
func (s *Store) DropOthers(ctx context.Context, keep string) (int64, error) {
	res, err := dbopen.Exec(ctx, s.db,
		`DELETE FROM cache_entries WHERE cache_name != ?`, keep)
	if err != nil {
		return 0, fmt.Errorf("cachestore: drop others: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Count returns the number of entries in the named cache.
func (s *Store) Count(ctx context.Context, cacheName string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cache_entries WHERE cache_name = ?`, cacheName).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("cachestore: count: %w", err)
	}
	return n, nil
}
