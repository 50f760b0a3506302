// Package services – ConversionService
//
// This file implements the conversion pipeline: the orchestration that turns
// a stored recipe image into a validated structured record. A single
// invocation performs one linear pass:
//
//	idempotent pending upsert → re-run check → signed URL → model call →
//	schema validation → final upsert (done) or error record.
//
// Every write is an upsert keyed on image_path, so duplicate triggers
// (storage-event redelivery, client retries) converge on one record. There is
// no automatic retry anywhere in the pipeline; a failed conversion stays in
// status error until a fresh trigger arrives.
//
// Observability: the pipeline is OpenTelemetry-instrumented and feeds
// Prometheus counters for conversion outcomes and a histogram for model-call
// latency.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-recipe-backend/internal/domain"
	"github.com/tbourn/go-recipe-backend/internal/repo"
	"github.com/tbourn/go-recipe-backend/internal/storage"
	"github.com/tbourn/go-recipe-backend/internal/utils"
)

const (
	// DefaultSignedURLTTL is how long the model provider can fetch the image.
	DefaultSignedURLTTL = 600 * time.Second
	// DefaultMaxErrorRunes bounds persisted error messages.
	DefaultMaxErrorRunes = 500
	// placeholderTitle is used when the model returns a blank title.
	placeholderTitle = "Untitled recipe"
	// titleMaxRunes caps stored titles.
	titleMaxRunes = 255
)

var (
	conversionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversions_total",
			Help: "Conversion pipeline invocations by outcome.",
		},
		[]string{"outcome"},
	)
	modelCallDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conversion_model_call_duration_seconds",
			Help:    "Duration of external model calls in seconds.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90, 120},
		},
	)
)

func init() {
	prometheus.MustRegister(conversionsTotal, modelCallDuration)
}

// RecipeExtractor is the gateway contract the pipeline requires from the
// external model. Implementations must be single-shot and synchronous.
type RecipeExtractor interface {
	ExtractRecipe(ctx context.Context, imageURL, applianceHint string) (string, error)
}

// ConversionService owns the image-to-record pipeline. It is stateless
// between invocations; concurrency across image paths is handled entirely by
// the HTTP layer dispatching requests.
type ConversionService struct {
	DB        *gorm.DB
	Store     storage.ObjectStore
	Extractor RecipeExtractor

	// Bucket is the well-known prefix all convertible images live under.
	Bucket string
	// SignedURLTTL is the validity window of issued read URLs.
	SignedURLTTL time.Duration
	// MaxErrorRunes bounds persisted error messages.
	MaxErrorRunes int
}

// NewConversionService constructs a ConversionService with default limits.
func NewConversionService(db *gorm.DB, store storage.ObjectStore, ex RecipeExtractor, bucket string) *ConversionService {
	return &ConversionService{
		DB:            db,
		Store:         store,
		Extractor:     ex,
		Bucket:        bucket,
		SignedURLTTL:  DefaultSignedURLTTL,
		MaxErrorRunes: DefaultMaxErrorRunes,
	}
}

// AuthorizePath validates a caller-supplied image path against the bucket
// prefix and the caller identity. It never touches the database: a rejected
// path must leave no record behind.
func (s *ConversionService) AuthorizePath(userID, imagePath string) error {
	p := strings.TrimSpace(imagePath)
	if p == "" {
		return ErrMissingImagePath
	}
	rest, ok := strings.CutPrefix(p, s.Bucket+"/")
	if !ok || rest == "" {
		return ErrInvalidBucket
	}
	owner, _, ok := strings.Cut(rest, "/")
	if !ok || owner == "" {
		return ErrInvalidBucket
	}
	if owner != userID {
		return ErrForbiddenPath
	}
	return nil
}

// OwnerFromPath extracts the owner segment of a bucket-qualified image path.
// Used by the storage-event trigger, which runs with a system identity and
// trusts the event's embedded path.
func (s *ConversionService) OwnerFromPath(imagePath string) (string, bool) {
	rest, ok := strings.CutPrefix(imagePath, s.Bucket+"/")
	if !ok {
		return "", false
	}
	owner, _, ok := strings.Cut(rest, "/")
	if !ok || owner == "" {
		return "", false
	}
	return owner, true
}

// ConvertUpload persists a raw upload under {bucket}/{userID}/{name} and runs
// the pipeline on it. Upload failures are reported as ErrUpload and the
// pipeline is never invoked.
func (s *ConversionService) ConvertUpload(ctx context.Context, userID, filename string, r io.Reader, applianceVersion string) (*domain.ConversionRecord, error) {
	name := strings.TrimSpace(filename)
	if name == "" {
		name = uuid.NewString() + ".jpg"
	} else {
		// Keep only the base name; client-supplied directories are not trusted.
		name = path.Base(name)
	}
	imagePath := s.Bucket + "/" + userID + "/" + name

	if err := s.Store.Put(ctx, imagePath, r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpload, err)
	}
	return s.Convert(ctx, userID, imagePath, applianceVersion)
}

// Convert runs one pipeline pass for imagePath. The caller must already have
// authorized the path (AuthorizePath, or the storage-event trust rule).
//
// On success, or when a previous run already completed (re-run avoidance),
// the current record is returned with status done. All terminal failures are
// persisted as an error record first and then returned to the caller.
func (s *ConversionService) Convert(ctx context.Context, userID, imagePath, applianceVersion string) (*domain.ConversionRecord, error) {
	tr := otel.Tracer("services/ConversionService")
	ctx, span := tr.Start(ctx, "Convert",
		trace.WithAttributes(
			attribute.String("image.path", imagePath),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	// 1) Idempotent initialize: ensure a row exists, status pending.
	// Completed rows are left untouched so step 2 can observe them.
	if err := repo.UpsertPending(ctx, s.DB, imagePath, userID); err != nil {
		conversionsTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("upsert pending: %w", err)
	}

	// 2) Re-run avoidance: a completed conversion is never re-inferred.
	rec, err := repo.GetRecord(ctx, s.DB, imagePath)
	if err == nil && rec.Status == domain.StatusDone {
		log.Info().Str("image_path", imagePath).Msg("already-processed")
		conversionsTotal.WithLabelValues("already_processed").Inc()
		return rec, nil
	}

	// 3) Resolve readable access for the model provider.
	signedURL, err := s.Store.SignedURL(ctx, imagePath, s.signedURLTTL())
	if err != nil {
		s.markError(ctx, imagePath, userID, "sign-url: "+err.Error())
		conversionsTotal.WithLabelValues("sign_url_error").Inc()
		return nil, fmt.Errorf("sign url: %w", err)
	}

	// 4) Invoke the external model. Single shot, no retry; a human or a
	// fresh trigger must re-invoke on failure.
	start := time.Now()
	raw, err := s.Extractor.ExtractRecipe(ctx, signedURL, applianceVersion)
	modelCallDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.markError(ctx, imagePath, userID, "llm: "+err.Error())
		conversionsTotal.WithLabelValues("model_error").Inc()
		return nil, fmt.Errorf("model call: %w", err)
	}

	// 5) Parse & validate. Partial or garbage content is never persisted.
	doc, err := domain.ParseRecipeDocument(raw)
	if err != nil {
		s.markError(ctx, imagePath, userID, "schema-validation-failed: missing required fields")
		conversionsTotal.WithLabelValues("schema_error").Inc()
		return nil, err
	}

	// 6) Finalize.
	title := normalizeTitle(doc.Title)
	if applianceVersion != "" {
		doc.Metadata = &domain.DocumentMetadata{ApplianceVersion: applianceVersion}
	}
	serialized, err := json.Marshal(doc)
	if err != nil {
		s.markError(ctx, imagePath, userID, "db-upsert: "+err.Error())
		conversionsTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	if err := repo.UpsertDone(ctx, s.DB, imagePath, userID, title, string(serialized)); err != nil {
		s.markError(ctx, imagePath, userID, "db-upsert: "+err.Error())
		conversionsTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("upsert done: %w", err)
	}

	conversionsTotal.WithLabelValues("done").Inc()
	out, err := repo.GetRecord(ctx, s.DB, imagePath)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Storage-event outcomes, mirrored verbatim in the event endpoint's response
// body so redelivery behavior is observable.
const (
	EventIgnored       = "ignored"
	EventIgnoredBucket = "ignored-bucket"
	EventBadObjectKey  = "bad-object-key"
	EventOK            = "ok"
)

// ConvertFromEvent is the asynchronous trigger: it consumes a storage
// notification and runs the pipeline with an implicit system identity,
// trusting the owner segment embedded in the event's object name.
//
// Events for foreign buckets or with a malformed record shape are ignored
// rather than failed, since storage systems redeliver on non-2xx responses.
func (s *ConversionService) ConvertFromEvent(ctx context.Context, bucketID, name string) (string, *domain.ConversionRecord, error) {
	if bucketID == "" || name == "" {
		return EventIgnored, nil, nil
	}
	if bucketID != s.Bucket {
		return EventIgnoredBucket, nil, nil
	}

	imagePath := bucketID + "/" + name
	owner, _, ok := strings.Cut(name, "/")
	if !ok || owner == "" {
		s.markError(ctx, imagePath, "", "user-id-not-found-in-path")
		return EventBadObjectKey, nil, nil
	}

	rec, err := s.Convert(ctx, owner, imagePath, "")
	if err != nil {
		return "", nil, err
	}
	return EventOK, rec, nil
}

// Record returns the conversion record for imagePath scoped to its owner,
// or ErrRecordNotFound. Used by polling clients and idempotent replays.
func (s *ConversionService) Record(ctx context.Context, userID, imagePath string) (*domain.ConversionRecord, error) {
	rec, err := repo.GetRecordForUser(ctx, s.DB, imagePath, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return rec, nil
}

// markError persists a terminal failure as an error record with a bounded
// message. It never returns an error: the caller already has its own failure
// to report, so persistence problems here are only logged.
func (s *ConversionService) markError(ctx context.Context, imagePath, userID, message string) {
	max := s.MaxErrorRunes
	if max <= 0 {
		max = DefaultMaxErrorRunes
	}
	msg := utils.TruncateRunes(message, max)
	if err := repo.UpsertError(ctx, s.DB, imagePath, userID, msg); err != nil {
		log.Error().
			Err(err).
			Str("image_path", imagePath).
			Msg("failed to persist error record")
	}
}

func (s *ConversionService) signedURLTTL() time.Duration {
	if s.SignedURLTTL <= 0 {
		return DefaultSignedURLTTL
	}
	return s.SignedURLTTL
}

// normalizeTitle trims the model-provided title and applies the placeholder
// fallback and length cap.
func normalizeTitle(title string) string {
	t := strings.Join(strings.Fields(title), " ")
	if t == "" {
		return placeholderTitle
	}
	return utils.TruncateRunes(t, titleMaxRunes)
}
