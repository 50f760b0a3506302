// Package services – RecipeService
//
// This file implements the read/delete side of the recipes API: the list and
// detail views that polling clients consume, and the user-initiated delete.
// The pipeline never deletes records; that is strictly a user action.
package services

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-recipe-backend/internal/domain"
)

// RecordRepo defines the repository contract required by RecipeService.
type RecordRepo interface {
	GetRecordForUser(ctx context.Context, db *gorm.DB, imagePath, userID string) (*domain.ConversionRecord, error)
	CountRecords(ctx context.Context, db *gorm.DB, userID string) (int64, error)
	ListRecordsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.ConversionRecord, error)
	DeleteRecord(ctx context.Context, db *gorm.DB, imagePath, userID string) error
	RecordsStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error)
}

// RecipeService provides owner-scoped access to persisted conversion records.
type RecipeService struct {
	DB   *gorm.DB
	Repo RecordRepo
}

// NewRecipeService constructs a RecipeService.
func NewRecipeService(db *gorm.DB, r RecordRepo) *RecipeService {
	return &RecipeService{DB: db, Repo: r}
}

// ListPage returns a page of the user's records, most recent first, together
// with the total count. Invalid page/pageSize values fall back to defaults.
func (s *RecipeService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.ConversionRecord, int64, error) {
	tr := otel.Tracer("services/RecipeService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountRecords(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.ConversionRecord{}, 0, nil
	}

	items, err := s.Repo.ListRecordsPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}

// Get fetches one record by image path, enforcing ownership.
func (s *RecipeService) Get(ctx context.Context, userID, imagePath string) (*domain.ConversionRecord, error) {
	rec, err := s.Repo.GetRecordForUser(ctx, s.DB, imagePath, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return rec, nil
}

// Delete removes one record by image path, enforcing ownership.
func (s *RecipeService) Delete(ctx context.Context, userID, imagePath string) error {
	err := s.Repo.DeleteRecord(ctx, s.DB, imagePath, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRecordNotFound
	}
	return err
}

// Stats exposes aggregate metadata for conditional responses in the HTTP
// layer (weak ETags over the user's record set).
func (s *RecipeService) Stats(ctx context.Context, userID string) (int64, *time.Time, error) {
	return s.Repo.RecordsStats(ctx, s.DB, userID)
}
