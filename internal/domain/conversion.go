// Package domain defines the persistence models and wire shapes for the
// image-to-recipe conversion pipeline. These types are mapped with GORM and
// form the core data layer of the application.
package domain

import "time"

// ConversionStatus is the lifecycle state of a conversion, as persisted and
// as exposed to polling clients.
type ConversionStatus string

// Conversion lifecycle states. Transitions are linear: pending → done|error.
// StatusProcessing is reserved for a future claim step and is never persisted
// by the current pipeline.
const (
	StatusPending    ConversionStatus = "pending"
	StatusProcessing ConversionStatus = "processing"
	StatusDone       ConversionStatus = "done"
	StatusError      ConversionStatus = "error"
)

// ConversionRecord is the system-of-record row for one image conversion.
// There is exactly one row per image path; every write is an upsert keyed on
// ImagePath, which is the sole concurrency primitive the pipeline relies on.
//
// Fields:
//   - ImagePath: bucket-qualified object path ("raw_uploads/<user>/<file>");
//     primary key and conflict-resolution key for all idempotent writes.
//   - UserID: owner of the image; must equal the first path segment after the
//     bucket prefix. Set on the first upsert and never changed afterwards.
//   - Status: pending | done | error (processing is reserved).
//   - Title: recipe title, set only on successful completion.
//   - RecipeJSON: the validated structured document, serialized; set only
//     when Status is done.
//   - ErrorMessage: bounded failure description, set only when Status is error.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type ConversionRecord struct {
	ImagePath    string           `json:"image_path"              gorm:"type:varchar(512);primaryKey"`
	UserID       string           `json:"user_id"                 gorm:"type:varchar(64);not null;index:idx_user_records"`
	Status       ConversionStatus `json:"status"                  gorm:"type:varchar(16);not null;default:'pending';check:status IN ('pending','processing','done','error')"`
	Title        string           `json:"title,omitempty"         gorm:"type:varchar(255)"`
	RecipeJSON   string           `json:"-"                       gorm:"type:text"`
	ErrorMessage string           `json:"error_message,omitempty" gorm:"type:varchar(512)"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// TableName returns the database table name for ConversionRecord.
func (ConversionRecord) TableName() string { return "conversion_records" }

// Document deserializes the stored structured content. It returns nil when
// the record carries no document (anything but a completed conversion).
func (r *ConversionRecord) Document() (*RecipeDocument, error) {
	if r.RecipeJSON == "" {
		return nil, nil
	}
	return ParseRecipeDocument(r.RecipeJSON)
}
