// Recipe record HTTP handlers.
//
// This file exposes REST endpoints over persisted conversion records:
//   - GET    /recipes         (list, paginated, ETag support)
//   - GET    /recipes/detail  (single record with the parsed document)
//   - DELETE /recipes         (user-initiated delete)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-recipe-backend/internal/domain"
	"github.com/tbourn/go-recipe-backend/internal/http/middleware"
	"github.com/tbourn/go-recipe-backend/internal/services"
	"github.com/tbourn/go-recipe-backend/internal/utils"
)

// RecipeService defines owner-scoped record access consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type RecipeService interface {
	// ListPage returns a page of the user's records and the total count.
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.ConversionRecord, int64, error)
	// Get fetches one record by image path, enforcing ownership.
	Get(ctx context.Context, userID, imagePath string) (*domain.ConversionRecord, error)
	// Delete removes one record by image path, enforcing ownership.
	Delete(ctx context.Context, userID, imagePath string) error
	// Stats returns the record count and latest update time for ETags.
	Stats(ctx context.Context, userID string) (int64, *time.Time, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for conversion triggers and recipe records.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	convSvc ConversionService
	recSvc  RecipeService

	// db backs the handler-level idempotency replay lookups.
	db             *gorm.DB
	internalSecret string
	idempotencyTTL time.Duration
}

// New constructs and returns a Handlers instance bound to the given services.
func New(convSvc ConversionService, recSvc RecipeService, db *gorm.DB, internalSecret string, idempotencyTTL time.Duration) *Handlers {
	return &Handlers{
		convSvc:        convSvc,
		recSvc:         recSvc,
		db:             db,
		internalSecret: internalSecret,
		idempotencyTTL: idempotencyTTL,
	}
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListRecipesResponse wraps a page of records and pagination information.
type ListRecipesResponse struct {
	Recipes    []domain.ConversionRecord `json:"recipes"`
	Pagination Pagination                `json:"pagination"`
}

// RecipeDetailResponse is a single record together with its parsed document.
// Recipe is null while the record is pending or errored.
type RecipeDetailResponse struct {
	Record *domain.ConversionRecord `json:"record"`
	Recipe *domain.RecipeDocument   `json:"recipe,omitempty"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

//
// Handlers
//

// ListRecipes godoc
// @ID          listRecipes
// @Summary     List conversion records (paginated)
// @Description Returns a page of the user's records, most recent first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Recipes
// @Produce     json
//
// @Param       Authorization  header  string  true  "Bearer token"
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListRecipesResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Unauthenticated"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /recipes [get]
func (h *Handlers) ListRecipes(c *gin.Context) {
	ctx := c.Request.Context()
	uid := middleware.UserID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing or invalid credentials")
		return
	}
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if count, maxTS, err := h.recSvc.Stats(ctx, uid); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.Unix()
		}
		etag := fmt.Sprintf(`W/"recipes:%s:%d:%d"`, uid, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.recSvc.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list records")
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	resp := ListRecipesResponse{
		Recipes: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	}
	ok(c, http.StatusOK, resp)
}

// GetRecipe godoc
// @ID          getRecipe
// @Summary     Fetch one conversion record
// @Description Returns the record for an image path owned by the caller, with the parsed recipe document when the conversion is done.
// @Tags        Recipes
// @Produce     json
//
// @Param       Authorization  header  string  true  "Bearer token"
// @Param       image_path     query   string  true  "Bucket-qualified image path"  example(raw_uploads/user123/dinner.jpg)
//
// @Success     200  {object} handlers.RecipeDetailResponse
// @Failure     400  {object} handlers.ErrorResponse "Missing image_path"
// @Failure     401  {object} handlers.ErrorResponse "Unauthenticated"
// @Failure     404  {object} handlers.ErrorResponse "Record not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /recipes/detail [get]
func (h *Handlers) GetRecipe(c *gin.Context) {
	uid := middleware.UserID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing or invalid credentials")
		return
	}
	imagePath := strings.TrimSpace(c.Query("image_path"))
	if imagePath == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "image_path query parameter required")
		return
	}

	rec, err := h.recSvc.Get(c.Request.Context(), uid, imagePath)
	if err != nil {
		if errors.Is(err, services.ErrRecordNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "record not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not fetch record")
		return
	}

	resp := RecipeDetailResponse{Record: rec}
	if doc, err := rec.Document(); err == nil {
		resp.Recipe = doc
	}
	ok(c, http.StatusOK, resp)
}

// DeleteRecipe godoc
// @ID          deleteRecipe
// @Summary     Delete a conversion record
// @Description Removes the record for an image path owned by the caller. The pipeline itself never deletes records.
// @Tags        Recipes
// @Produce     json
//
// @Param       Authorization  header  string  true  "Bearer token"
// @Param       image_path     query   string  true  "Bucket-qualified image path"  example(raw_uploads/user123/dinner.jpg)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Missing image_path"
// @Failure     401  {object} handlers.ErrorResponse "Unauthenticated"
// @Failure     404  {object} handlers.ErrorResponse "Record not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /recipes [delete]
func (h *Handlers) DeleteRecipe(c *gin.Context) {
	uid := middleware.UserID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing or invalid credentials")
		return
	}
	imagePath := strings.TrimSpace(c.Query("image_path"))
	if imagePath == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "image_path query parameter required")
		return
	}

	if err := h.recSvc.Delete(c.Request.Context(), uid, imagePath); err != nil {
		if errors.Is(err, services.ErrRecordNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "record not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeDeleteFailed, "could not delete record")
		return
	}

	noContent(c)
}
