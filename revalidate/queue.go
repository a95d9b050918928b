// Package revalidate implements the background-refresh half of
// stale-while-revalidate as a visibility-timeout queue backed by SQLite.
//
// Serving a stale entry enqueues its URL; a runner claims the row, refreshes
// the asset and acks. Claimed rows are invisible for a configurable window,
// so a crashed refresh reappears automatically, and refreshes queued just
// before shutdown survive a restart. Rows are keyed by URL: enqueueing a URL
// that is already pending coalesces into the existing row instead of
// stampeding the origin.
package revalidate

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/plainlicense/herokit/dbopen"
)

// Schema for the revalidate_jobs table.
const Schema = `
CREATE TABLE IF NOT EXISTS revalidate_jobs (
	url         TEXT PRIMARY KEY,
	visible_at  INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_revalidate_visible ON revalidate_jobs (visible_at);
`

// Job is one pending refresh.
type Job struct {
	URL       string
	VisibleAt time.Time
	CreatedAt time.Time
	Attempts  int
}

// Options tunes queue behaviour.
type Options struct {
	// Visibility is how long a claimed refresh stays invisible before it is
	// retried. Default: 30s.
	Visibility time.Duration
	// PollInterval is the delay between claim attempts in Run. Default: 1s.
	PollInterval time.Duration
	// MaxAttempts discards a refresh after this many deliveries. Negative
	// means unlimited. Default: 5 — a background refresh that keeps failing
	// is not worth hammering the origin for; the stale copy already served.
	MaxAttempts int
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 5
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Queue is the refresh queue handle.
type Queue struct {
	db   *sql.DB
	opts Options
}

// New creates a queue handle. Call Init once at startup.
func New(db *sql.DB, opts Options) *Queue {
	opts.defaults()
	return &Queue{db: db, opts: opts}
}

// Init creates the revalidate_jobs table if absent.
func (q *Queue) Init(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, Schema)
	return err
}

// Enqueue records that url needs a background refresh. A URL already pending
// (visible or claimed) is left alone — one refresh satisfies any number of
// stale hits.
func (q *Queue) Enqueue(ctx context.Context, url string) error {
	now := time.Now().UnixMilli()
	_, err := dbopen.Exec(ctx, q.db,
		`INSERT OR IGNORE INTO revalidate_jobs (url, visible_at, created_at) VALUES (?,?,?)`,
		url, now, now)
	return err
}

// Claim atomically picks the oldest visible refresh, hides it for the
// visibility window, and returns it. Returns (nil, nil) when nothing is due.
func (q *Queue) Claim(ctx context.Context) (*Job, error) {
	now := time.Now()
	hideUntil := now.Add(q.opts.Visibility).UnixMilli()

	row := q.db.QueryRowContext(ctx, `
		UPDATE revalidate_jobs
		SET visible_at = ?, attempts = attempts + 1
		WHERE url = (
			SELECT url FROM revalidate_jobs
			WHERE visible_at <= ?
			ORDER BY visible_at ASC
			LIMIT 1
		)
		RETURNING url, visible_at, created_at, attempts`,
		hideUntil, now.UnixMilli())

	var j Job
	var visAt, creAt int64
	err := row.Scan(&j.URL, &visAt, &creAt, &j.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	j.VisibleAt = time.UnixMilli(visAt)
	j.CreatedAt = time.UnixMilli(creAt)
	return &j, nil
}

// Ack deletes a completed refresh.
func (q *Queue) Ack(ctx context.Context, url string) error {
	_, err := dbopen.Exec(ctx, q.db, `DELETE FROM revalidate_jobs WHERE url = ?`, url)
	return err
}

// Nack makes a refresh immediately visible again.
func (q *Queue) Nack(ctx context.Context, url string) error {
	_, err := dbopen.Exec(ctx, q.db, `UPDATE revalidate_jobs SET visible_at = 0 WHERE url = ?`, url)
	return err
}

// Len returns the number of pending refreshes (visible + claimed).
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM revalidate_jobs`).Scan(&n)
	return n, err
}

// Refresher refreshes one asset. Return nil to ack, non-nil to retry later.
type Refresher func(ctx context.Context, url string) error

// Run polls for due refreshes and calls refresh for each. Refresh failures
// are logged and retried up to MaxAttempts — they never surface to the
// request that enqueued them; that request was already answered from cache.
// Run blocks until ctx is cancelled.
func (q *Queue) Run(ctx context.Context, refresh Refresher) {
	log := q.opts.Logger
	log.Info("revalidate: runner started",
		"visibility", q.opts.Visibility, "poll", q.opts.PollInterval)

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("revalidate: runner stopped")
			return
		case <-ticker.C:
			q.poll(ctx, refresh, log)
		}
	}
}

func (q *Queue) poll(ctx context.Context, refresh Refresher, log *slog.Logger) {
	for {
		job, err := q.Claim(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("revalidate: claim failed", "error", err)
			}
			return
		}
		if job == nil {
			return // nothing due
		}

		if q.opts.MaxAttempts > 0 && job.Attempts > q.opts.MaxAttempts {
			log.Warn("revalidate: refresh exceeded max attempts, discarding",
				"url", job.URL, "attempts", job.Attempts)
			_ = q.Ack(ctx, job.URL)
			continue
		}

		if err := refresh(ctx, job.URL); err != nil {
			log.Warn("revalidate: refresh failed", "url", job.URL, "error", err)
			_ = q.Nack(ctx, job.URL)
		} else {
			_ = q.Ack(ctx, job.URL)
		}
	}
}
