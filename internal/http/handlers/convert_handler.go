// Conversion trigger HTTP handlers.
//
// This file exposes the two entry points of the conversion pipeline:
//   - POST /convert          (synchronous trigger: JSON path reference or
//     multipart upload)
//   - POST /events/storage   (asynchronous trigger: storage notification)
//
// Handlers are transport-thin: they validate input and authorization, call
// the conversion service, and translate results into HTTP responses. All
// pipeline-internal failure detail stays in the persisted record and the
// logs; callers get an opaque convert_failed envelope.
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-recipe-backend/internal/domain"
	"github.com/tbourn/go-recipe-backend/internal/http/middleware"
	"github.com/tbourn/go-recipe-backend/internal/repo"
	"github.com/tbourn/go-recipe-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// ConversionService defines the pipeline operations consumed by HTTP
// handlers. Implementations must be safe for concurrent use and must honor
// the provided context for cancellation and timeouts.
type ConversionService interface {
	// AuthorizePath validates a caller-supplied image path without touching
	// any state.
	AuthorizePath(userID, imagePath string) error
	// Convert runs one pipeline pass for an already-authorized path.
	Convert(ctx context.Context, userID, imagePath, applianceVersion string) (*domain.ConversionRecord, error)
	// ConvertUpload stores a raw upload and runs the pipeline on it.
	ConvertUpload(ctx context.Context, userID, filename string, r io.Reader, applianceVersion string) (*domain.ConversionRecord, error)
	// ConvertFromEvent consumes a storage notification.
	ConvertFromEvent(ctx context.Context, bucketID, name string) (string, *domain.ConversionRecord, error)
	// Record fetches the current record for idempotent replays.
	Record(ctx context.Context, userID, imagePath string) (*domain.ConversionRecord, error)
}

//
// DTOs
//

// ConvertRequest is the JSON payload for triggering a conversion of an
// already-stored image.
type ConvertRequest struct {
	// ImagePath is the bucket-qualified path of the source image.
	ImagePath string `json:"image_path" binding:"required" example:"raw_uploads/user123/dinner.jpg"`
	// ApplianceVersion optionally names the hardware variant the extracted
	// parameters should target.
	ApplianceVersion string `json:"appliance_version,omitempty" example:"TM6"`
}

// ConvertResponse is the envelope returned by both trigger entry points.
type ConvertResponse struct {
	OK     bool                     `json:"ok"`
	Record *domain.ConversionRecord `json:"record,omitempty"`
}

// StorageEventRequest is the storage-notification payload. Both the flat
// shape and the wrapped record shapes emitted by storage systems are
// accepted.
type StorageEventRequest struct {
	BucketID string              `json:"bucket_id"`
	Name     string              `json:"name"`
	Record   *storageEventRecord `json:"record"`
	Payload  *struct {
		Record *storageEventRecord `json:"record"`
	} `json:"payload"`
}

type storageEventRecord struct {
	BucketID string `json:"bucket_id"`
	Name     string `json:"name"`
}

// normalize resolves the effective (bucket, name) pair regardless of which
// shape the event used.
func (r *StorageEventRequest) normalize() (bucket, name string) {
	if r.Record != nil {
		return r.Record.BucketID, r.Record.Name
	}
	if r.Payload != nil && r.Payload.Record != nil {
		return r.Payload.Record.BucketID, r.Payload.Record.Name
	}
	return r.BucketID, r.Name
}

//
// Handlers
//

// Convert godoc
// @ID          convert
// @Summary     Convert a recipe image into a structured record
// @Description Triggers the conversion pipeline for an uploaded image. Accepts either a JSON
// @Description body referencing an already-stored image path, or a multipart form with a file
// @Description field (the file is uploaded under the caller's prefix first). The call blocks
// @Description until the pipeline finishes; clients may also poll the record afterwards.
// @Tags        Conversion
// @Accept      json
// @Accept      multipart/form-data
// @Produce     json
//
// @Param       Authorization    header  string  true  "Bearer token"
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"
// @Param       body             body    handlers.ConvertRequest  false "Path-reference payload"
//
// @Success     200  {object}  handlers.ConvertResponse
// @Failure     400  {object}  handlers.ErrorResponse "Missing path or wrong bucket"
// @Failure     401  {object}  handlers.ErrorResponse "Unauthenticated"
// @Failure     403  {object}  handlers.ErrorResponse "Owner mismatch"
// @Failure     500  {object}  handlers.ErrorResponse "Pipeline failure"
// @Router      /convert [post]
func (h *Handlers) Convert(c *gin.Context) {
	ctx := c.Request.Context()
	uid := middleware.UserID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing or invalid credentials")
		return
	}

	// Idempotent replay: same key on this route returns the recorded outcome
	// without re-triggering the pipeline. The validator middleware runs before
	// authentication, so the lookup here is the authoritative one.
	if key, ok := middleware.GetIdempotencyKey(c); ok {
		if h.replayConversion(c, uid, key) {
			return
		}
	}

	var rec *domain.ConversionRecord
	var imagePath string

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		file, header, err := c.Request.FormFile("file")
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "file field required")
			return
		}
		defer file.Close()

		filename := c.Request.FormValue("filename")
		if filename == "" && header != nil {
			filename = header.Filename
		}
		version := c.Request.FormValue("appliance_version")

		rec, err = h.convSvc.ConvertUpload(ctx, uid, filename, file, version)
		if err != nil {
			h.failConversion(c, err)
			return
		}
		imagePath = rec.ImagePath
	} else {
		var req ConvertRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "image_path required")
			return
		}

		if err := h.convSvc.AuthorizePath(uid, req.ImagePath); err != nil {
			h.failConversion(c, err)
			return
		}

		var err error
		rec, err = h.convSvc.Convert(ctx, uid, req.ImagePath, req.ApplianceVersion)
		if err != nil {
			h.failConversion(c, err)
			return
		}
		imagePath = req.ImagePath
	}

	h.recordIdempotency(c, uid, imagePath)
	ok(c, http.StatusOK, ConvertResponse{OK: true, Record: rec})
}

// StorageEvent godoc
// @ID          storageEvent
// @Summary     Storage notification trigger
// @Description Consumes an object-storage upload notification and runs the pipeline with a
// @Description system identity. Events for foreign buckets or with a malformed record shape
// @Description are acknowledged with 200 so the storage system does not redeliver them.
// @Tags        Conversion
// @Accept      json
// @Produce     json
//
// @Param       X-Internal-Secret  header  string  false "Shared secret for internal callers"
// @Param       body               body    handlers.StorageEventRequest  true  "Storage event"
//
// @Success     200  {object}  handlers.ConvertResponse
// @Failure     400  {object}  handlers.ErrorResponse "Object key without owner segment"
// @Failure     401  {object}  handlers.ErrorResponse "Wrong internal secret"
// @Failure     500  {object}  handlers.ErrorResponse "Pipeline failure"
// @Router      /events/storage [post]
func (h *Handlers) StorageEvent(c *gin.Context) {
	if h.internalSecret != "" && c.GetHeader("X-Internal-Secret") != h.internalSecret {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing or invalid internal secret")
		return
	}

	var evt StorageEventRequest
	if err := c.ShouldBindJSON(&evt); err != nil {
		// Malformed events are acknowledged, not failed: storage systems
		// redeliver on non-2xx.
		c.JSON(http.StatusOK, gin.H{"status": services.EventIgnored})
		return
	}

	bucket, name := evt.normalize()
	status, rec, err := h.convSvc.ConvertFromEvent(c.Request.Context(), bucket, name)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeConvertFailed, "conversion failed")
		return
	}
	if status == services.EventBadObjectKey {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, services.EventBadObjectKey)
		return
	}
	if status != services.EventOK {
		c.JSON(http.StatusOK, gin.H{"status": status})
		return
	}
	ok(c, http.StatusOK, ConvertResponse{OK: true, Record: rec})
}

//
// Helpers
//

// failConversion maps service-level errors onto the documented status codes.
// Pipeline-internal failures are deliberately opaque.
func (h *Handlers) failConversion(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrMissingImagePath):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "image_path required")
	case errors.Is(err, services.ErrInvalidBucket):
		fail(c, http.StatusBadRequest, ErrCodeInvalidBucket, "image path outside the raw uploads bucket")
	case errors.Is(err, services.ErrForbiddenPath):
		fail(c, http.StatusForbidden, ErrCodeForbidden, "image path does not belong to caller")
	case errors.Is(err, services.ErrUpload):
		fail(c, http.StatusInternalServerError, ErrCodeUploadFailed, "upload failed")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeConvertFailed, "conversion failed")
	}
}

// replayConversion serves a previously recorded outcome for an idempotent
// retry. Returns true when the response has been written.
func (h *Handlers) replayConversion(c *gin.Context, uid, key string) bool {
	if h.db == nil {
		return false
	}
	idem, err := repo.GetIdempotency(c.Request.Context(), h.db, uid, c.FullPath(), key, time.Now().UTC())
	if err != nil || idem == nil {
		return false
	}
	rec, err := h.convSvc.Record(c.Request.Context(), uid, idem.ImagePath)
	if err != nil {
		return false
	}
	c.Header("Idempotency-Replayed", "true")
	ok(c, idem.Status, ConvertResponse{OK: true, Record: rec})
	return true
}

// recordIdempotency stores the outcome for the presented key, if any.
// Best-effort: a duplicate row means a concurrent retry won the race.
func (h *Handlers) recordIdempotency(c *gin.Context, uid, imagePath string) {
	key, okKey := middleware.GetIdempotencyKey(c)
	if !okKey || h.db == nil {
		return
	}
	_, err := repo.CreateIdempotency(c.Request.Context(), h.db, uid, c.FullPath(), key, imagePath, http.StatusOK, h.idempotencyTTL)
	if err != nil && !errors.Is(err, repo.ErrDuplicate) {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency record not stored")
	}
}
