package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-recipe-backend/internal/domain"
	"github.com/tbourn/go-recipe-backend/internal/repo"
)

// recordRepoFuncs adapts the repo free functions for the RecordRepo interface.
type recordRepoFuncs struct{}

func (recordRepoFuncs) GetRecordForUser(ctx context.Context, db *gorm.DB, imagePath, userID string) (*domain.ConversionRecord, error) {
	return repo.GetRecordForUser(ctx, db, imagePath, userID)
}
func (recordRepoFuncs) CountRecords(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountRecords(ctx, db, userID)
}
func (recordRepoFuncs) ListRecordsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.ConversionRecord, error) {
	return repo.ListRecordsPage(ctx, db, userID, offset, limit)
}
func (recordRepoFuncs) DeleteRecord(ctx context.Context, db *gorm.DB, imagePath, userID string) error {
	return repo.DeleteRecord(ctx, db, imagePath, userID)
}
func (recordRepoFuncs) RecordsStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	return repo.RecordsStats(ctx, db, userID)
}

func newRecipeServiceWithRows(t *testing.T, n int) *RecipeService {
	t.Helper()
	db := newServiceDB(t)
	ctx := context.Background()
	for i := 0; i < n; i++ {
		img := fmt.Sprintf("raw_uploads/u1/img%d.jpg", i)
		if err := repo.UpsertPending(ctx, db, img, "u1"); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
	return NewRecipeService(db, recordRepoFuncs{})
}

func TestRecipeService_ListPage(t *testing.T) {
	svc := newRecipeServiceWithRows(t, 25)
	ctx := context.Background()

	items, total, err := svc.ListPage(ctx, "u1", 1, 10)
	if err != nil || total != 25 || len(items) != 10 {
		t.Fatalf("page 1: n=%d total=%d err=%v", len(items), total, err)
	}
	items, _, err = svc.ListPage(ctx, "u1", 3, 10)
	if err != nil || len(items) != 5 {
		t.Fatalf("page 3: n=%d err=%v", len(items), err)
	}

	// Invalid paging falls back to defaults.
	items, total, err = svc.ListPage(ctx, "u1", -2, 0)
	if err != nil || total != 25 || len(items) != 20 {
		t.Fatalf("defaults: n=%d total=%d err=%v", len(items), total, err)
	}

	// Empty result short-circuits without a list query.
	items, total, err = svc.ListPage(ctx, "nobody", 1, 10)
	if err != nil || total != 0 || len(items) != 0 {
		t.Fatalf("empty: n=%d total=%d err=%v", len(items), total, err)
	}
}

func TestRecipeService_GetAndDelete(t *testing.T) {
	svc := newRecipeServiceWithRows(t, 1)
	ctx := context.Background()
	const img = "raw_uploads/u1/img0.jpg"

	rec, err := svc.Get(ctx, "u1", img)
	if err != nil || rec.ImagePath != img {
		t.Fatalf("get: %v %v", rec, err)
	}
	if _, err := svc.Get(ctx, "u2", img); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("foreign get should be not found, got %v", err)
	}

	if err := svc.Delete(ctx, "u2", img); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("foreign delete should be not found, got %v", err)
	}
	if err := svc.Delete(ctx, "u1", img); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.Delete(ctx, "u1", img); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("second delete should be not found, got %v", err)
	}
}

func TestRecipeService_Stats(t *testing.T) {
	svc := newRecipeServiceWithRows(t, 3)

	count, maxTS, err := svc.Stats(context.Background(), "u1")
	if err != nil || count != 3 || maxTS == nil {
		t.Fatalf("stats: %d %v %v", count, maxTS, err)
	}
	count, maxTS, err = svc.Stats(context.Background(), "nobody")
	if err != nil || count != 0 || maxTS != nil {
		t.Fatalf("empty stats: %d %v %v", count, maxTS, err)
	}
}
