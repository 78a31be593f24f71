package store_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/NicolasHaas/gobans/pkg/datastore"
	"github.com/NicolasHaas/gobans/pkg/model"
	"github.com/NicolasHaas/gobans/pkg/store"
)

// withStores runs fn against every BanStore implementation that needs no
// external service.
func withStores(t *testing.T, fn func(t *testing.T, st datastore.BanStore)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		fn(t, store.NewMemory())
	})
	t.Run("sqlite", func(t *testing.T) {
		st, err := datastore.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
		if err != nil {
			t.Fatalf("OpenSQLite: unexpected error: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		fn(t, st)
	})
}

func TestStoreBasicFlow(t *testing.T) {
	withStores(t, func(t *testing.T, st datastore.BanStore) {
		ctx := context.Background()
		now := time.Now().UTC()

		ban, err := st.CreateBan(ctx, &model.Ban{
			SubjectName: "Griefer",
			SubjectID:   "S1",
			IssuerID:    "admin",
			Reason:      "griefing",
			ExpiresAt:   now.Add(3 * 24 * time.Hour),
		})
		if err != nil {
			t.Fatalf("CreateBan: unexpected error: %v", err)
		}
		if ban.ID == 0 {
			t.Fatalf("CreateBan: expected non-zero ID")
		}
		if ban.CreatedAt.IsZero() {
			t.Fatalf("CreateBan: expected CreatedAt to be set")
		}

		active, err := st.FindActiveBan(ctx, "S1", now)
		if err != nil {
			t.Fatalf("FindActiveBan: unexpected error: %v", err)
		}
		if active == nil || active.ID != ban.ID {
			t.Fatalf("FindActiveBan: expected ban %d, got %+v", ban.ID, active)
		}

		later := now.Add(4 * 24 * time.Hour)
		n, err := st.DeleteBans(ctx, model.MatchExpired(later))
		if err != nil {
			t.Fatalf("DeleteBans: unexpected error: %v", err)
		}
		if n != 1 {
			t.Fatalf("DeleteBans: removed %d, want 1", n)
		}

		active, err = st.FindActiveBan(ctx, "S1", later)
		if err != nil {
			t.Fatalf("FindActiveBan: unexpected error: %v", err)
		}
		if active != nil {
			t.Fatalf("FindActiveBan: expected none after sweep, got %+v", active)
		}
	})
}

func TestStoreRejectsInvalidBan(t *testing.T) {
	withStores(t, func(t *testing.T, st datastore.BanStore) {
		ctx := context.Background()
		_, err := st.CreateBan(ctx, &model.Ban{SubjectID: "S1"})
		var verr *model.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("CreateBan: expected ValidationError, got %v", err)
		}
		all, err := st.ListBans(ctx)
		if err != nil {
			t.Fatalf("ListBans: unexpected error: %v", err)
		}
		if len(all) != 0 {
			t.Fatalf("ListBans: rejected ban was stored: %+v", all)
		}
	})
}

func TestStoreRemoveByToken(t *testing.T) {
	withStores(t, func(t *testing.T, st datastore.BanStore) {
		ctx := context.Background()
		exp := time.Now().Add(time.Hour)

		first, err := st.CreateBan(ctx, &model.Ban{SubjectID: "S1", IssuerID: "admin", ExpiresAt: exp})
		if err != nil {
			t.Fatalf("CreateBan: unexpected error: %v", err)
		}
		for i := 0; i < 2; i++ {
			if _, err := st.CreateBan(ctx, &model.Ban{SubjectID: "S2", IssuerID: "admin", ExpiresAt: exp}); err != nil {
				t.Fatalf("CreateBan: unexpected error: %v", err)
			}
		}

		if n, err := st.DeleteBans(ctx, model.MatchToken("nonexistent")); err != nil || n != 0 {
			t.Fatalf("DeleteBans(nonexistent) = %d, %v; want 0, nil", n, err)
		}
		if n, err := st.DeleteBans(ctx, model.MatchToken("S2")); err != nil || n != 2 {
			t.Fatalf("DeleteBans(S2) = %d, %v; want 2, nil", n, err)
		}
		if n, err := st.DeleteBans(ctx, model.MatchToken(fmt.Sprint(first.ID))); err != nil || n != 1 {
			t.Fatalf("DeleteBans(id) = %d, %v; want 1, nil", n, err)
		}

		all, err := st.ListBans(ctx)
		if err != nil {
			t.Fatalf("ListBans: unexpected error: %v", err)
		}
		if len(all) != 0 {
			t.Fatalf("ListBans: expected empty, got %+v", all)
		}
	})
}

func TestStoreSweepIsIdempotent(t *testing.T) {
	withStores(t, func(t *testing.T, st datastore.BanStore) {
		ctx := context.Background()
		now := time.Now().UTC()

		for _, d := range []time.Duration{-time.Hour, -time.Minute, time.Hour} {
			if _, err := st.CreateBan(ctx, &model.Ban{SubjectID: "S1", IssuerID: "admin", ExpiresAt: now.Add(d)}); err != nil {
				t.Fatalf("CreateBan: unexpected error: %v", err)
			}
		}
		// Unset expiration: already expired.
		if _, err := st.CreateBan(ctx, &model.Ban{SubjectID: "S2", IssuerID: "admin"}); err != nil {
			t.Fatalf("CreateBan: unexpected error: %v", err)
		}

		n, err := st.DeleteBans(ctx, model.MatchExpired(now))
		if err != nil || n != 3 {
			t.Fatalf("first sweep = %d, %v; want 3, nil", n, err)
		}
		n, err = st.DeleteBans(ctx, model.MatchExpired(now))
		if err != nil || n != 0 {
			t.Fatalf("second sweep = %d, %v; want 0, nil", n, err)
		}
	})
}

func TestStoreListOrderedByID(t *testing.T) {
	withStores(t, func(t *testing.T, st datastore.BanStore) {
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			if _, err := st.CreateBan(ctx, &model.Ban{SubjectID: fmt.Sprintf("S%d", i), IssuerID: "admin"}); err != nil {
				t.Fatalf("CreateBan: unexpected error: %v", err)
			}
		}
		all, err := st.ListBans(ctx)
		if err != nil {
			t.Fatalf("ListBans: unexpected error: %v", err)
		}
		if len(all) != 5 {
			t.Fatalf("ListBans: got %d bans, want 5", len(all))
		}
		for i := 1; i < len(all); i++ {
			if all[i-1].ID >= all[i].ID {
				t.Fatalf("ListBans: not ordered by id: %d before %d", all[i-1].ID, all[i].ID)
			}
		}
	})
}

func TestStoreConcurrentCreateAndDelete(t *testing.T) {
	withStores(t, func(t *testing.T, st datastore.BanStore) {
		ctx := context.Background()
		exp := time.Now().Add(time.Hour)

		var wg sync.WaitGroup
		errs := make(chan error, 40)
		for i := 0; i < 20; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, err := st.CreateBan(ctx, &model.Ban{SubjectID: "S1", IssuerID: "admin", ExpiresAt: exp})
				errs <- err
			}()
			go func() {
				defer wg.Done()
				_, err := st.FindActiveBan(ctx, "S1", time.Now())
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("concurrent access: unexpected error: %v", err)
			}
		}

		n, err := st.DeleteBans(ctx, model.MatchToken("S1"))
		if err != nil || n != 20 {
			t.Fatalf("DeleteBans(S1) = %d, %v; want 20, nil", n, err)
		}
	})
}

func TestMemoryStoreUsesClock(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := store.NewMemoryWithClock(func() time.Time { return fixed })

	ban, err := st.CreateBan(context.Background(), &model.Ban{SubjectID: "S1", IssuerID: "admin"})
	if err != nil {
		t.Fatalf("CreateBan: unexpected error: %v", err)
	}
	if !ban.CreatedAt.Equal(fixed) {
		t.Fatalf("CreatedAt = %v, want %v", ban.CreatedAt, fixed)
	}
	if !ban.ExpiresAt.Equal(model.Epoch) {
		t.Fatalf("ExpiresAt = %v, want epoch", ban.ExpiresAt)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	ban, err := st.CreateBan(ctx, &model.Ban{SubjectID: "S1", IssuerID: "admin", Reason: "original"})
	if err != nil {
		t.Fatalf("CreateBan: unexpected error: %v", err)
	}
	ban.Reason = "mutated"

	all, err := st.ListBans(ctx)
	if err != nil {
		t.Fatalf("ListBans: unexpected error: %v", err)
	}
	if all[0].Reason != "original" {
		t.Fatalf("stored ban was mutated through returned pointer: %q", all[0].Reason)
	}
}
