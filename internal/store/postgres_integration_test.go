package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
)

func getTestDatabaseURL() string {
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		return url
	}
	return ""
}

func setupIntegrationStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	databaseURL := getTestDatabaseURL()
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := Open(ctx, databaseURL, PoolOptions{})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := ApplyMigrations(ctx, db, "../../db/migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

// TestCommitVersionAdvancesHeadAtomically exercises the version insert and
// head pointer update against a real database.
func TestCommitVersionAdvancesHeadAtomically(t *testing.T) {
	s := setupIntegrationStore(t)
	ctx := context.Background()
	canvasID := "cvs_it_commit"
	t.Cleanup(func() { _ = s.HardDeleteCanvas(ctx, canvasID) })

	if err := s.CreateCanvas(ctx, Canvas{ID: canvasID, OwnerID: "user_it"}); err != nil {
		t.Fatalf("CreateCanvas failed: %v", err)
	}

	row, err := s.GetCanvas(ctx, canvasID)
	if err != nil {
		t.Fatalf("GetCanvas failed: %v", err)
	}
	if row.HeadVersion != nil {
		t.Fatalf("fresh canvas must have no head, got %v", *row.HeadVersion)
	}

	if err := s.CommitVersion(ctx, CanvasVersion{
		CanvasID: canvasID,
		Version:  1,
		BlobKey:  "canvas-state/" + canvasID + "/1",
	}); err != nil {
		t.Fatalf("CommitVersion failed: %v", err)
	}

	row, err = s.GetCanvas(ctx, canvasID)
	if err != nil {
		t.Fatalf("GetCanvas after commit failed: %v", err)
	}
	if row.HeadVersion == nil || *row.HeadVersion != 1 {
		t.Fatalf("expected head 1 after commit, got %v", row.HeadVersion)
	}

	next, err := s.NextVersion(ctx, canvasID)
	if err != nil {
		t.Fatalf("NextVersion failed: %v", err)
	}
	if next != 2 {
		t.Fatalf("expected next version 2, got %d", next)
	}
}

func TestSoftDeletedCanvasDoesNotResolve(t *testing.T) {
	s := setupIntegrationStore(t)
	ctx := context.Background()
	canvasID := "cvs_it_softdelete"
	t.Cleanup(func() { _ = s.HardDeleteCanvas(ctx, canvasID) })

	if err := s.CreateCanvas(ctx, Canvas{ID: canvasID, OwnerID: "user_it"}); err != nil {
		t.Fatalf("CreateCanvas failed: %v", err)
	}
	if err := s.SoftDeleteCanvas(ctx, canvasID); err != nil {
		t.Fatalf("SoftDeleteCanvas failed: %v", err)
	}

	_, err := s.GetCanvas(ctx, canvasID)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for soft-deleted canvas, got %v", err)
	}
}

func TestCreateCanvasDuplicateID(t *testing.T) {
	s := setupIntegrationStore(t)
	ctx := context.Background()
	canvasID := "cvs_it_duplicate"
	t.Cleanup(func() { _ = s.HardDeleteCanvas(ctx, canvasID) })

	if err := s.CreateCanvas(ctx, Canvas{ID: canvasID, OwnerID: "user_it"}); err != nil {
		t.Fatalf("CreateCanvas failed: %v", err)
	}
	err := s.CreateCanvas(ctx, Canvas{ID: canvasID, OwnerID: "user_other"})
	if !errors.Is(err, ErrDuplicateCanvas) {
		t.Fatalf("expected ErrDuplicateCanvas, got %v", err)
	}
}

func TestGetVersionMissingRow(t *testing.T) {
	s := setupIntegrationStore(t)
	ctx := context.Background()
	canvasID := "cvs_it_missing"
	t.Cleanup(func() { _ = s.HardDeleteCanvas(ctx, canvasID) })

	if err := s.CreateCanvas(ctx, Canvas{ID: canvasID, OwnerID: "user_it"}); err != nil {
		t.Fatalf("CreateCanvas failed: %v", err)
	}

	_, err := s.GetVersion(ctx, canvasID, 99)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for missing version, got %v", err)
	}
}
