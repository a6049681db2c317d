package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/CedarClinic/ClinicPipe/internal/models"
)

func newTestSQLStore(t *testing.T, ttl time.Duration) *SQLStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "sessions.db")
	store, err := NewSQLStore(WithDSN(dsn), WithTTL(ttl))
	if err != nil {
		t.Fatalf("NewSQLStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLStoreRoundTrip(t *testing.T) {
	store := newTestSQLStore(t, time.Hour)
	ctx := context.Background()

	if got, err := store.Load(ctx, "user1"); err != nil || got != nil {
		t.Fatalf("Load on empty store = (%v, %v), want (nil, nil)", got, err)
	}

	sess := newTestSession("user1")
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Load(ctx, "user1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got == nil || got.State != models.StateAwaitingDay || got.PendingService != "cleaning" {
		t.Fatalf("loaded session = %+v", got)
	}

	// Save again to exercise the upsert path.
	sess.State = models.StatePostBooking
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("upsert Save failed: %v", err)
	}
	got, err = store.Load(ctx, "user1")
	if err != nil || got == nil {
		t.Fatalf("Load after upsert = (%v, %v)", got, err)
	}
	if got.State != models.StatePostBooking {
		t.Errorf("State after upsert = %q, want post_booking", got.State)
	}

	if err := store.Delete(ctx, "user1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if got, err := store.Load(ctx, "user1"); err != nil || got != nil {
		t.Errorf("Load after delete = (%v, %v), want (nil, nil)", got, err)
	}
}

func TestSQLStoreExpiry(t *testing.T) {
	store := newTestSQLStore(t, -time.Minute)
	ctx := context.Background()

	if err := store.Save(ctx, newTestSession("user1")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	// TTL is already in the past, so the row is absent on read.
	if got, err := store.Load(ctx, "user1"); err != nil || got != nil {
		t.Errorf("Load of expired row = (%v, %v), want (nil, nil)", got, err)
	}

	if err := store.PurgeExpired(ctx); err != nil {
		t.Fatalf("PurgeExpired failed: %v", err)
	}
}
