package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/helparoservices-sys/helparo-dispatch/internal/clock"
	"github.com/helparoservices-sys/helparo-dispatch/internal/domain"
)

func newAlertService(repo *fakeAlertRepo, opts ...AlertServiceOption) *AlertService {
	return NewAlertService(repo, clock.NewFixed(testNow), opts...)
}

func seedActiveAlert(repo *fakeAlertRepo, id, userID string) {
	repo.seed(domain.SOSAlert{
		ID:        id,
		UserID:    userID,
		Type:      domain.AlertTypeSafety,
		Location:  domain.Location{Lat: 12.97, Lng: 77.59},
		Status:    domain.AlertStatusActive,
		CreatedAt: testNow,
		UpdatedAt: testNow,
	})
}

func TestRaiseAlert(t *testing.T) {
	ctx := context.Background()

	t.Run("creates an active alert", func(t *testing.T) {
		repo := newFakeAlertRepo()
		svc := newAlertService(repo)

		alert, err := svc.Raise(ctx, domain.Customer("cust-1"), RaiseAlertInput{
			Type:         domain.AlertTypeMedical,
			Location:     domain.Location{Lat: 12.97, Lng: 77.59},
			ContactPhone: "+911234567890",
		})
		if err != nil {
			t.Fatalf("Raise: %v", err)
		}
		if alert.Status != domain.AlertStatusActive {
			t.Fatalf("status = %s", alert.Status)
		}
		if got := repo.alert(alert.ID); got.UserID != "cust-1" {
			t.Fatalf("persisted user = %q", got.UserID)
		}
	})

	t.Run("helpers may raise alerts too", func(t *testing.T) {
		svc := newAlertService(newFakeAlertRepo())
		if _, err := svc.Raise(ctx, domain.Helper("help-1"), RaiseAlertInput{
			Type:     domain.AlertTypeDispute,
			Location: domain.Location{Lat: 12.97, Lng: 77.59},
		}); err != nil {
			t.Fatalf("Raise: %v", err)
		}
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		svc := newAlertService(newFakeAlertRepo())
		_, err := svc.Raise(ctx, domain.Customer("cust-1"), RaiseAlertInput{
			Type:     "earthquake",
			Location: domain.Location{Lat: 12.97, Lng: 77.59},
		})
		if !errors.Is(err, domain.ErrInvalidAlertType) {
			t.Fatalf("err = %v, want ErrInvalidAlertType", err)
		}
	})

	t.Run("rejects missing coordinates", func(t *testing.T) {
		svc := newAlertService(newFakeAlertRepo())
		_, err := svc.Raise(ctx, domain.Customer("cust-1"), RaiseAlertInput{Type: domain.AlertTypeSafety})
		if !errors.Is(err, domain.ErrInvalidLocation) {
			t.Fatalf("err = %v, want ErrInvalidLocation", err)
		}
	})
}

func TestAcknowledgeAlert(t *testing.T) {
	ctx := context.Background()

	t.Run("first helper claims the slot", func(t *testing.T) {
		repo := newFakeAlertRepo()
		svc := newAlertService(repo)
		seedActiveAlert(repo, "alert-1", "cust-1")

		alert, err := svc.Acknowledge(ctx, domain.Helper("help-1"), "alert-1")
		if err != nil {
			t.Fatalf("Acknowledge: %v", err)
		}
		if alert.Status != domain.AlertStatusAcknowledged {
			t.Fatalf("status = %s", alert.Status)
		}
		if alert.AcknowledgedBy != "help-1" {
			t.Fatalf("acknowledged by %q", alert.AcknowledgedBy)
		}
	})

	t.Run("second helper conflicts", func(t *testing.T) {
		repo := newFakeAlertRepo()
		svc := newAlertService(repo)
		seedActiveAlert(repo, "alert-1", "cust-1")

		if _, err := svc.Acknowledge(ctx, domain.Helper("help-1"), "alert-1"); err != nil {
			t.Fatalf("first acknowledge: %v", err)
		}
		_, err := svc.Acknowledge(ctx, domain.Helper("help-2"), "alert-1")
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("err = %v, want ErrConflict", err)
		}
		if got := repo.alert("alert-1"); got.AcknowledgedBy != "help-1" {
			t.Fatalf("slot overwritten: %q", got.AcknowledgedBy)
		}
	})

	t.Run("customers may not acknowledge", func(t *testing.T) {
		repo := newFakeAlertRepo()
		svc := newAlertService(repo)
		seedActiveAlert(repo, "alert-1", "cust-1")

		_, err := svc.Acknowledge(ctx, domain.Customer("cust-2"), "alert-1")
		if !errors.Is(err, domain.ErrActorNotAllowed) {
			t.Fatalf("err = %v, want ErrActorNotAllowed", err)
		}
	})

	t.Run("exactly one of N concurrent acknowledgers wins", func(t *testing.T) {
		repo := newFakeAlertRepo()
		svc := newAlertService(repo)
		seedActiveAlert(repo, "alert-1", "cust-1")

		const n = 24
		var wg sync.WaitGroup
		var mu sync.Mutex
		won := 0
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := svc.Acknowledge(ctx, domain.Helper(helperN("help", i)), "alert-1")
				if err == nil {
					mu.Lock()
					won++
					mu.Unlock()
				} else if !errors.Is(err, domain.ErrConflict) {
					t.Errorf("acknowledge %d: %v", i, err)
				}
			}(i)
		}
		wg.Wait()

		if won != 1 {
			t.Fatalf("winners = %d, want exactly 1", won)
		}
	})
}

func TestResolveAlert(t *testing.T) {
	ctx := context.Background()

	seedAcknowledged := func(repo *fakeAlertRepo) {
		repo.seed(domain.SOSAlert{
			ID:             "alert-1",
			UserID:         "cust-1",
			Type:           domain.AlertTypeSafety,
			Status:         domain.AlertStatusAcknowledged,
			AcknowledgedBy: "help-1",
			CreatedAt:      testNow,
		})
	}

	t.Run("acknowledging helper resolves", func(t *testing.T) {
		repo := newFakeAlertRepo()
		svc := newAlertService(repo)
		seedAcknowledged(repo)

		alert, err := svc.Resolve(ctx, domain.Helper("help-1"), ResolveAlertInput{AlertID: "alert-1", Note: "user safe"})
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if alert.Status != domain.AlertStatusResolved {
			t.Fatalf("status = %s", alert.Status)
		}
		if alert.ResolutionNote != "user safe" {
			t.Fatalf("note = %q", alert.ResolutionNote)
		}
	})

	t.Run("raising user may resolve as false alarm", func(t *testing.T) {
		repo := newFakeAlertRepo()
		svc := newAlertService(repo)
		seedAcknowledged(repo)

		alert, err := svc.Resolve(ctx, domain.Customer("cust-1"), ResolveAlertInput{AlertID: "alert-1", FalseAlarm: true})
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if !alert.FalseAlarm {
			t.Fatal("expected false alarm flag")
		}
	})

	t.Run("uninvolved helper is forbidden", func(t *testing.T) {
		repo := newFakeAlertRepo()
		svc := newAlertService(repo)
		seedAcknowledged(repo)

		_, err := svc.Resolve(ctx, domain.Helper("help-2"), ResolveAlertInput{AlertID: "alert-1"})
		if !errors.Is(err, domain.ErrNotAlertOwner) {
			t.Fatalf("err = %v, want ErrNotAlertOwner", err)
		}
	})

	t.Run("active alert cannot be resolved", func(t *testing.T) {
		repo := newFakeAlertRepo()
		svc := newAlertService(repo)
		seedActiveAlert(repo, "alert-1", "cust-1")

		_, err := svc.Resolve(ctx, domain.Helper("help-1"), ResolveAlertInput{AlertID: "alert-1"})
		if !errors.Is(err, domain.ErrAlertNotActive) {
			t.Fatalf("err = %v, want ErrAlertNotActive", err)
		}
	})
}

func TestCancelAlert(t *testing.T) {
	ctx := context.Background()

	t.Run("raising user cancels", func(t *testing.T) {
		repo := newFakeAlertRepo()
		svc := newAlertService(repo)
		seedActiveAlert(repo, "alert-1", "cust-1")

		alert, err := svc.Cancel(ctx, domain.Customer("cust-1"), "alert-1", "pressed by mistake")
		if err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		if alert.Status != domain.AlertStatusCancelled {
			t.Fatalf("status = %s", alert.Status)
		}
	})

	t.Run("someone else is forbidden", func(t *testing.T) {
		repo := newFakeAlertRepo()
		svc := newAlertService(repo)
		seedActiveAlert(repo, "alert-1", "cust-1")

		_, err := svc.Cancel(ctx, domain.Customer("cust-2"), "alert-1", "")
		if !errors.Is(err, domain.ErrNotAlertOwner) {
			t.Fatalf("err = %v, want ErrNotAlertOwner", err)
		}
	})

	t.Run("acknowledged alert cannot be cancelled", func(t *testing.T) {
		repo := newFakeAlertRepo()
		svc := newAlertService(repo)
		repo.seed(domain.SOSAlert{
			ID: "alert-1", UserID: "cust-1",
			Status:         domain.AlertStatusAcknowledged,
			AcknowledgedBy: "help-1",
		})

		_, err := svc.Cancel(ctx, domain.Customer("cust-1"), "alert-1", "")
		if !errors.Is(err, domain.ErrAlertNotActive) {
			t.Fatalf("err = %v, want ErrAlertNotActive", err)
		}
	})
}

func TestExpireAlerts(t *testing.T) {
	ctx := context.Background()

	t.Run("over-budget active alert expires", func(t *testing.T) {
		repo := newFakeAlertRepo()
		svc := newAlertService(repo, WithAlertTTL(10*time.Minute))
		repo.seed(domain.SOSAlert{
			ID: "alert-1", UserID: "cust-1",
			Status:    domain.AlertStatusActive,
			CreatedAt: testNow.Add(-15 * time.Minute),
		})

		fired, err := svc.ExpireIfUnacknowledged(ctx, "alert-1", testNow)
		if err != nil {
			t.Fatalf("ExpireIfUnacknowledged: %v", err)
		}
		if !fired {
			t.Fatal("expected expiry to fire")
		}
		if got := repo.alert("alert-1"); got.Status != domain.AlertStatusCancelled {
			t.Fatalf("status = %s", got.Status)
		}
	})

	t.Run("within budget nothing happens", func(t *testing.T) {
		repo := newFakeAlertRepo()
		svc := newAlertService(repo, WithAlertTTL(10*time.Minute))
		repo.seed(domain.SOSAlert{
			ID: "alert-1", UserID: "cust-1",
			Status:    domain.AlertStatusActive,
			CreatedAt: testNow.Add(-5 * time.Minute),
		})

		fired, err := svc.ExpireIfUnacknowledged(ctx, "alert-1", testNow)
		if err != nil {
			t.Fatalf("ExpireIfUnacknowledged: %v", err)
		}
		if fired {
			t.Fatal("expiry fired inside the budget")
		}
	})

	t.Run("acknowledged alert is left alone", func(t *testing.T) {
		repo := newFakeAlertRepo()
		svc := newAlertService(repo, WithAlertTTL(10*time.Minute))
		repo.seed(domain.SOSAlert{
			ID: "alert-1", UserID: "cust-1",
			Status:         domain.AlertStatusAcknowledged,
			AcknowledgedBy: "help-1",
			CreatedAt:      testNow.Add(-time.Hour),
		})

		fired, err := svc.ExpireIfUnacknowledged(ctx, "alert-1", testNow)
		if err != nil {
			t.Fatalf("ExpireIfUnacknowledged: %v", err)
		}
		if fired {
			t.Fatal("expiry fired on an acknowledged alert")
		}
		if got := repo.alert("alert-1"); got.Status != domain.AlertStatusAcknowledged {
			t.Fatalf("status = %s", got.Status)
		}
	})

	t.Run("sweep cancels only the stale ones", func(t *testing.T) {
		repo := newFakeAlertRepo()
		svc := newAlertService(repo, WithAlertTTL(10*time.Minute))
		repo.seed(domain.SOSAlert{
			ID: "stale", UserID: "cust-1",
			Status:    domain.AlertStatusActive,
			CreatedAt: testNow.Add(-time.Hour),
		})
		repo.seed(domain.SOSAlert{
			ID: "fresh", UserID: "cust-2",
			Status:    domain.AlertStatusActive,
			CreatedAt: testNow.Add(-time.Minute),
		})

		n, err := svc.ExpireStaleAlerts(ctx, testNow)
		if err != nil {
			t.Fatalf("ExpireStaleAlerts: %v", err)
		}
		if n != 1 {
			t.Fatalf("expired = %d, want 1", n)
		}
		if got := repo.alert("fresh"); got.Status != domain.AlertStatusActive {
			t.Fatalf("fresh status = %s", got.Status)
		}
	})
}
