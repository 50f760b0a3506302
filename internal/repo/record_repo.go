// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// ConversionRecord model.
//
// All writes are upserts keyed on image_path (ON CONFLICT DO UPDATE with an
// explicit column list). The pipeline relies on that conflict resolution as
// its only concurrency primitive, so none of these functions ever use an
// insert-then-check sequence.
//
// Error semantics:
//   - When a record is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-recipe-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for consistency across the service
// layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// imagePathConflict is the shared conflict target for every upsert.
var imagePathConflict = []clause.Column{{Name: "image_path"}}

// UpsertPending initializes (or re-initializes) the record for imagePath to
// status pending and clears any previous error. Rows already in status done
// are left completely untouched (DO UPDATE ... WHERE status <> 'done'), so a
// prior successful result is never downgraded by a duplicate trigger and the
// pipeline's read-back still observes done.
func UpsertPending(ctx context.Context, db *gorm.DB, imagePath, userID string) error {
	now := time.Now().UTC()
	rec := &domain.ConversionRecord{
		ImagePath: imagePath,
		UserID:    userID,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: imagePathConflict,
		DoUpdates: clause.Assignments(map[string]any{
			"status":        domain.StatusPending,
			"error_message": "",
			"updated_at":    now,
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Neq{
				Column: clause.Column{Name: "status"},
				Value:  string(domain.StatusDone),
			},
		}},
	}).Create(rec).Error
}

// UpsertDone finalizes the record: status done, title and serialized
// document set, error cleared. Safe to call even if the pending upsert has
// not been observed yet; the conflict key is the same.
func UpsertDone(ctx context.Context, db *gorm.DB, imagePath, userID, title, recipeJSON string) error {
	now := time.Now().UTC()
	rec := &domain.ConversionRecord{
		ImagePath:  imagePath,
		UserID:     userID,
		Status:     domain.StatusDone,
		Title:      title,
		RecipeJSON: recipeJSON,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: imagePathConflict,
		DoUpdates: clause.Assignments(map[string]any{
			"status":        domain.StatusDone,
			"title":         title,
			"recipe_json":   recipeJSON,
			"error_message": "",
			"updated_at":    now,
		}),
	}).Create(rec).Error
}

// UpsertError records a terminal failure for imagePath. The document column
// is left at whatever value existed before, never mixed with the new error;
// consumers must treat error_message as the only failure signal.
func UpsertError(ctx context.Context, db *gorm.DB, imagePath, userID, message string) error {
	now := time.Now().UTC()
	rec := &domain.ConversionRecord{
		ImagePath:    imagePath,
		UserID:       userID,
		Status:       domain.StatusError,
		ErrorMessage: message,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: imagePathConflict,
		DoUpdates: clause.Assignments(map[string]any{
			"status":        domain.StatusError,
			"error_message": message,
			"updated_at":    now,
		}),
	}).Create(rec).Error
}

// GetRecord fetches the record for imagePath, or ErrNotFound.
func GetRecord(ctx context.Context, db *gorm.DB, imagePath string) (*domain.ConversionRecord, error) {
	var rec domain.ConversionRecord
	if err := db.WithContext(ctx).Where("image_path = ?", imagePath).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetRecordForUser fetches the record for imagePath, enforcing ownership.
func GetRecordForUser(ctx context.Context, db *gorm.DB, imagePath, userID string) (*domain.ConversionRecord, error) {
	var rec domain.ConversionRecord
	err := db.WithContext(ctx).
		Where("image_path = ? AND user_id = ?", imagePath, userID).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CountRecords returns the total number of records owned by userID.
func CountRecords(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.ConversionRecord{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListRecordsPage returns a paginated slice of records for userID, most
// recent first. Use CountRecords to obtain the total for pagination metadata.
func ListRecordsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.ConversionRecord, error) {
	var out []domain.ConversionRecord
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// DeleteRecord removes the record for imagePath, enforcing ownership.
// Returns ErrNotFound when no row matched. The pipeline itself never calls
// this; deletion is a user action surfaced through the recipes API.
func DeleteRecord(ctx context.Context, db *gorm.DB, imagePath, userID string) error {
	res := db.WithContext(ctx).
		Where("image_path = ? AND user_id = ?", imagePath, userID).
		Delete(&domain.ConversionRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// RecordsStats returns aggregate metadata for a user's records: the total
// number of rows and the maximum UpdatedAt timestamp among them. Used for
// conditional responses (ETag generation) in the HTTP layer. When the user
// has no records, the returned count is 0 and maxUpdatedAt is nil.
func RecordsStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.ConversionRecord{}).Where("user_id = ?", userID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
