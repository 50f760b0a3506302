package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-recipe-backend/internal/domain"
)

func newRecordRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("record_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func TestUpsertPending_Error_NoTable(t *testing.T) {
	db := newRecordRepoDB(t /* no migrations */)
	err := UpsertPending(context.Background(), db, "raw_uploads/u1/a.jpg", "u1")
	if err == nil {
		t.Fatalf("expected error writing without table")
	}
}

func TestUpsertPending_CreatesAndIsIdempotent(t *testing.T) {
	db := newRecordRepoDB(t, &domain.ConversionRecord{})
	ctx := context.Background()
	const img = "raw_uploads/u1/a.jpg"

	for i := 0; i < 3; i++ {
		if err := UpsertPending(ctx, db, img, "u1"); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	var count int64
	if err := db.Model(&domain.ConversionRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one row, got %d", count)
	}

	rec, err := GetRecord(ctx, db, img)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != domain.StatusPending || rec.UserID != "u1" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestUpsertPending_PreservesCompletedContent(t *testing.T) {
	db := newRecordRepoDB(t, &domain.ConversionRecord{})
	ctx := context.Background()
	const img = "raw_uploads/u1/a.jpg"

	if err := UpsertDone(ctx, db, img, "u1", "Tomato Soup", `{"title":"Tomato Soup"}`); err != nil {
		t.Fatalf("done: %v", err)
	}
	if err := UpsertPending(ctx, db, img, "u1"); err != nil {
		t.Fatalf("pending: %v", err)
	}

	rec, err := GetRecord(ctx, db, img)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != domain.StatusDone {
		t.Fatalf("completed record must not be downgraded to pending, got %q", rec.Status)
	}
	if rec.Title != "Tomato Soup" || rec.RecipeJSON == "" {
		t.Fatalf("prior result must survive a re-trigger: %+v", rec)
	}

	// A failed record, by contrast, is reset so a fresh run can proceed.
	const failed = "raw_uploads/u1/b.jpg"
	if err := UpsertError(ctx, db, failed, "u1", "llm: boom"); err != nil {
		t.Fatalf("error: %v", err)
	}
	if err := UpsertPending(ctx, db, failed, "u1"); err != nil {
		t.Fatalf("pending: %v", err)
	}
	rec, err = GetRecord(ctx, db, failed)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != domain.StatusPending || rec.ErrorMessage != "" {
		t.Fatalf("failed record should reset to pending: %+v", rec)
	}
}

func TestUpsertError_SetsAndClearsMessage(t *testing.T) {
	db := newRecordRepoDB(t, &domain.ConversionRecord{})
	ctx := context.Background()
	const img = "raw_uploads/u1/a.jpg"

	if err := UpsertError(ctx, db, img, "u1", "llm: model returned status 500"); err != nil {
		t.Fatalf("error upsert: %v", err)
	}
	rec, _ := GetRecord(ctx, db, img)
	if rec.Status != domain.StatusError || rec.ErrorMessage == "" {
		t.Fatalf("error not recorded: %+v", rec)
	}

	// A new trigger clears the message again.
	if err := UpsertPending(ctx, db, img, "u1"); err != nil {
		t.Fatalf("pending: %v", err)
	}
	rec, _ = GetRecord(ctx, db, img)
	if rec.ErrorMessage != "" {
		t.Fatalf("error message should be cleared on retrigger: %q", rec.ErrorMessage)
	}

	// And a success clears it too.
	if err := UpsertError(ctx, db, img, "u1", "llm: boom"); err != nil {
		t.Fatalf("error upsert: %v", err)
	}
	if err := UpsertDone(ctx, db, img, "u1", "T", "{}"); err != nil {
		t.Fatalf("done: %v", err)
	}
	rec, _ = GetRecord(ctx, db, img)
	if rec.Status != domain.StatusDone || rec.ErrorMessage != "" {
		t.Fatalf("success must clear the error: %+v", rec)
	}
}

func TestGetRecord_NotFound(t *testing.T) {
	db := newRecordRepoDB(t, &domain.ConversionRecord{})
	if _, err := GetRecord(context.Background(), db, "raw_uploads/u1/missing.jpg"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetRecordForUser_EnforcesOwnership(t *testing.T) {
	db := newRecordRepoDB(t, &domain.ConversionRecord{})
	ctx := context.Background()
	const img = "raw_uploads/u1/a.jpg"
	if err := UpsertPending(ctx, db, img, "u1"); err != nil {
		t.Fatalf("pending: %v", err)
	}

	if _, err := GetRecordForUser(ctx, db, img, "u1"); err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if _, err := GetRecordForUser(ctx, db, img, "u2"); err != ErrNotFound {
		t.Fatalf("foreign read should be not found, got %v", err)
	}
}

func TestListRecordsPage_And_Count(t *testing.T) {
	db := newRecordRepoDB(t, &domain.ConversionRecord{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		img := fmt.Sprintf("raw_uploads/u1/img%d.jpg", i)
		if err := UpsertPending(ctx, db, img, "u1"); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
		// Distinct created_at so ordering is observable.
		db.Model(&domain.ConversionRecord{}).
			Where("image_path = ?", img).
			Update("created_at", time.Now().UTC().Add(time.Duration(i)*time.Second))
	}
	if err := UpsertPending(ctx, db, "raw_uploads/u2/other.jpg", "u2"); err != nil {
		t.Fatalf("seed other user: %v", err)
	}

	total, err := CountRecords(ctx, db, "u1")
	if err != nil || total != 5 {
		t.Fatalf("count: %d %v", total, err)
	}

	page, err := ListRecordsPage(ctx, db, "u1", 0, 2)
	if err != nil || len(page) != 2 {
		t.Fatalf("page: %d %v", len(page), err)
	}
	if page[0].ImagePath != "raw_uploads/u1/img4.jpg" {
		t.Fatalf("expected most recent first, got %q", page[0].ImagePath)
	}

	rest, err := ListRecordsPage(ctx, db, "u1", 4, 2)
	if err != nil || len(rest) != 1 {
		t.Fatalf("last page: %d %v", len(rest), err)
	}
}

func TestDeleteRecord(t *testing.T) {
	db := newRecordRepoDB(t, &domain.ConversionRecord{})
	ctx := context.Background()
	const img = "raw_uploads/u1/a.jpg"
	if err := UpsertPending(ctx, db, img, "u1"); err != nil {
		t.Fatalf("pending: %v", err)
	}

	if err := DeleteRecord(ctx, db, img, "u2"); err != ErrNotFound {
		t.Fatalf("foreign delete should be not found, got %v", err)
	}
	if err := DeleteRecord(ctx, db, img, "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := DeleteRecord(ctx, db, img, "u1"); err != ErrNotFound {
		t.Fatalf("second delete should be not found, got %v", err)
	}
}

func TestRecordsStats(t *testing.T) {
	db := newRecordRepoDB(t, &domain.ConversionRecord{})
	ctx := context.Background()

	count, maxTS, err := RecordsStats(ctx, db, "u1")
	if err != nil || count != 0 || maxTS != nil {
		t.Fatalf("empty stats: %d %v %v", count, maxTS, err)
	}

	if err := UpsertPending(ctx, db, "raw_uploads/u1/a.jpg", "u1"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	count, maxTS, err = RecordsStats(ctx, db, "u1")
	if err != nil || count != 1 || maxTS == nil {
		t.Fatalf("stats: %d %v %v", count, maxTS, err)
	}
	if time.Since(*maxTS) > time.Minute {
		t.Fatalf("stale max timestamp: %v", maxTS)
	}
}
