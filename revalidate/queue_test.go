package revalidate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/plainlicense/herokit/dbopen"
)

func newTestQueue(t *testing.T, opts Options) *Queue {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return New(db, opts)
}

func TestEnqueueClaimAck(t *testing.T) {
	q := newTestQueue(t, Options{})
	ctx := context.Background()

	if err := q.Enqueue(ctx, "/assets/app.cafebabe.js"); err != nil {
		t.Fatal(err)
	}

	job, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if job == nil || job.URL != "/assets/app.cafebabe.js" {
		t.Fatalf("job = %+v", job)
	}
	if job.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", job.Attempts)
	}

	// Claimed: invisible until the window lapses.
	again, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again != nil {
		t.Errorf("claimed job visible again: %+v", again)
	}

	if err := q.Ack(ctx, job.URL); err != nil {
		t.Fatal(err)
	}
	n, err := q.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("len = %d after ack", n)
	}
}

func TestEnqueueCoalesces(t *testing.T) {
	q := newTestQueue(t, Options{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := q.Enqueue(ctx, "/a.css"); err != nil {
			t.Fatal(err)
		}
	}
	n, err := q.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("len = %d, want 1 (duplicates coalesce)", n)
	}
}

func TestClaimEmptyQueue(t *testing.T) {
	q := newTestQueue(t, Options{})
	job, err := q.Claim(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if job != nil {
		t.Errorf("job = %+v, want nil", job)
	}
}

func TestNackMakesVisible(t *testing.T) {
	q := newTestQueue(t, Options{Visibility: time.Hour})
	ctx := context.Background()

	_ = q.Enqueue(ctx, "/a.css")
	job, _ := q.Claim(ctx)
	if job == nil {
		t.Fatal("expected job")
	}
	if err := q.Nack(ctx, job.URL); err != nil {
		t.Fatal(err)
	}

	job, err := q.Claim(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if job == nil {
		t.Fatal("nacked job should be claimable immediately")
	}
	if job.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", job.Attempts)
	}
}

func TestVisibilityLapseRedelivers(t *testing.T) {
	q := newTestQueue(t, Options{Visibility: 20 * time.Millisecond})
	ctx := context.Background()

	_ = q.Enqueue(ctx, "/a.css")
	if job, _ := q.Claim(ctx); job == nil {
		t.Fatal("expected first claim")
	}

	deadline := time.Now().Add(time.Second)
	for {
		job, err := q.Claim(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if job != nil {
			if job.Attempts != 2 {
				t.Errorf("attempts = %d, want 2", job.Attempts)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("claimed job never reappeared")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunRefreshesAndAcks(t *testing.T) {
	q := newTestQueue(t, Options{PollInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = q.Enqueue(ctx, "/a.css")
	_ = q.Enqueue(ctx, "/b.css")

	var refreshed atomic.Int64
	go q.Run(ctx, func(ctx context.Context, url string) error {
		refreshed.Add(1)
		return nil
	})

	deadline := time.Now().Add(2 * time.Second)
	for refreshed.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if refreshed.Load() != 2 {
		t.Fatalf("refreshed = %d, want 2", refreshed.Load())
	}

	n, err := q.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("len = %d after successful refreshes", n)
	}
}

func TestRunRetriesFailures(t *testing.T) {
	q := newTestQueue(t, Options{PollInterval: 5 * time.Millisecond, MaxAttempts: 3})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = q.Enqueue(ctx, "/flaky.css")

	var calls atomic.Int64
	go q.Run(ctx, func(ctx context.Context, url string) error {
		if calls.Add(1) < 2 {
			return errors.New("origin hiccup")
		}
		return nil
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err := q.Len(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if n == 0 && calls.Load() >= 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("refresh never succeeded: calls=%d", calls.Load())
}

func TestRunDiscardsAfterMaxAttempts(t *testing.T) {
	q := newTestQueue(t, Options{
		Visibility:   time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		MaxAttempts:  2,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = q.Enqueue(ctx, "/broken.css")

	go q.Run(ctx, func(ctx context.Context, url string) error {
		return errors.New("always fails")
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err := q.Len(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if n == 0 {
			return // discarded
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("failing job was never discarded")
}
