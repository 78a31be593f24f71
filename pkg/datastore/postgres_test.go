package datastore_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/NicolasHaas/gobans/pkg/datastore"
	"github.com/NicolasHaas/gobans/pkg/model"
)

// testPostgres connects to the database named by GOBANS_TEST_DATABASE_URL.
// It skips the test if the variable is not set.
func testPostgres(t *testing.T) *datastore.Postgres {
	t.Helper()
	dsn := os.Getenv("GOBANS_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("GOBANS_TEST_DATABASE_URL not set, skipping integration test")
	}
	st, err := datastore.OpenPostgres(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connecting to test database: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestPostgresBanLifecycle(t *testing.T) {
	st := testPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC()
	subject := fmt.Sprintf("pg-test-%d", now.UnixNano())

	created, err := st.CreateBan(ctx, &model.Ban{SubjectID: subject, IssuerID: "admin", Reason: "griefing", ExpiresAt: now.Add(72 * time.Hour)})
	if err != nil {
		t.Fatalf("CreateBan: %v", err)
	}
	t.Cleanup(func() { _, _ = st.DeleteBans(ctx, model.BanMatch{SubjectID: subject}) })

	active, err := st.FindActiveBan(ctx, subject, now)
	if err != nil {
		t.Fatalf("FindActiveBan: %v", err)
	}
	if active == nil || active.ID != created.ID {
		t.Fatalf("FindActiveBan = %+v, want ban %d", active, created.ID)
	}

	found, err := st.FindBans(ctx, model.MatchToken(fmt.Sprint(created.ID)))
	if err != nil {
		t.Fatalf("FindBans: %v", err)
	}
	if len(found) == 0 || found[0].ID != created.ID {
		t.Fatalf("FindBans by id = %+v", found)
	}

	later := now.Add(96 * time.Hour)
	active, err = st.FindActiveBan(ctx, subject, later)
	if err != nil {
		t.Fatalf("FindActiveBan: %v", err)
	}
	if active != nil {
		t.Fatalf("FindActiveBan after expiry = %+v, want nil", active)
	}

	n, err := st.DeleteBans(ctx, model.MatchToken(subject))
	if err != nil || n != 1 {
		t.Fatalf("DeleteBans = %d, %v; want 1, nil", n, err)
	}
}

func TestPostgresCreateBanValidation(t *testing.T) {
	st := testPostgres(t)
	if _, err := st.CreateBan(context.Background(), &model.Ban{IssuerID: "admin"}); err == nil {
		t.Fatalf("CreateBan: expected validation error")
	}
}
