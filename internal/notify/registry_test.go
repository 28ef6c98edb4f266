package notify

import (
	"context"
	"testing"
	"time"
)

func TestMemoryRegistry(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	job := JobRef{Kind: JobRequest, ID: "r1"}
	ctx := context.Background()

	t.Run("MarkSent dedupes repeat sends", func(t *testing.T) {
		reg := NewMemoryRegistry()

		first, err := reg.MarkSent(ctx, job, "h1", now, 0)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !first {
			t.Fatalf("expected first send to report true")
		}

		again, err := reg.MarkSent(ctx, job, "h1", now.Add(time.Second), 0)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if again {
			t.Fatalf("expected duplicate send to report false")
		}
	})

	t.Run("MarkResponse resolves pending records once", func(t *testing.T) {
		reg := NewMemoryRegistry()
		_, _ = reg.MarkSent(ctx, job, "h1", now, 0)

		if err := reg.MarkResponse(ctx, job, "h1", ResponseAccept, now); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if err := reg.MarkResponse(ctx, job, "h1", ResponseDecline, now.Add(time.Second)); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		rec, ok := reg.Get(job, "h1")
		if !ok {
			t.Fatalf("expected record")
		}
		if rec.Response != ResponseAccept {
			t.Fatalf("expected first response to stick, got %s", rec.Response)
		}
	})

	t.Run("ExpireOthers spares the winner and resolved records", func(t *testing.T) {
		reg := NewMemoryRegistry()
		_, _ = reg.MarkSent(ctx, job, "winner", now, 0)
		_, _ = reg.MarkSent(ctx, job, "loser", now, 0)
		_, _ = reg.MarkSent(ctx, job, "declined", now, 0)
		_ = reg.MarkResponse(ctx, job, "declined", ResponseDecline, now)

		n, err := reg.ExpireOthers(ctx, job, "winner", now)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if n != 1 {
			t.Fatalf("expected 1 expired, got %d", n)
		}

		if rec, _ := reg.Get(job, "winner"); !rec.Pending() {
			t.Fatalf("winner record must stay pending for its own response")
		}
		if rec, _ := reg.Get(job, "loser"); rec.Response != ResponseExpired {
			t.Fatalf("expected loser expired, got %q", rec.Response)
		}
		if rec, _ := reg.Get(job, "declined"); rec.Response != ResponseDecline {
			t.Fatalf("expected decline preserved, got %q", rec.Response)
		}
	})

	t.Run("ExpireDue honors per-recipient countdowns", func(t *testing.T) {
		reg := NewMemoryRegistry()
		alert := JobRef{Kind: JobAlert, ID: "a1"}
		_, _ = reg.MarkSent(ctx, alert, "h1", now, time.Minute)
		_, _ = reg.MarkSent(ctx, alert, "h2", now.Add(30*time.Second), time.Minute)
		_, _ = reg.MarkSent(ctx, job, "no-countdown", now, 0)

		n, err := reg.ExpireDue(ctx, now.Add(61*time.Second))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if n != 1 {
			t.Fatalf("expected only h1 expired, got %d", n)
		}

		pending, err := reg.Pending(ctx, alert)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(pending) != 1 || pending[0] != "h2" {
			t.Fatalf("expected h2 still pending, got %v", pending)
		}

		if rec, _ := reg.Get(job, "no-countdown"); !rec.Pending() {
			t.Fatalf("record without countdown must never auto-expire")
		}
	})
}
