// Package domain defines the persistence models and wire shapes for the
// image-to-recipe conversion pipeline. This file describes the structured
// extraction document the external model is constrained to produce, together
// with its strict parser.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// SchemaError reports that a model response could not be accepted as a
// structured recipe document. It distinguishes validation failures from
// transport or provider failures so callers can persist the documented
// "schema-validation-failed" error message.
type SchemaError struct {
	Reason string
}

// Error implements the error interface.
func (e *SchemaError) Error() string { return "schema-validation-failed: " + e.Reason }

// ErrSchemaValidation matches any *SchemaError via errors.Is.
var ErrSchemaValidation = errors.New("schema validation failed")

// Is makes errors.Is(err, ErrSchemaValidation) succeed for SchemaError values.
func (e *SchemaError) Is(target error) bool { return target == ErrSchemaValidation }

// ApplianceParams carries the optional appliance-specific settings of a
// single preparation step. Every field is nullable: the model must emit the
// key but may not know the value.
type ApplianceParams struct {
	Mode        *string  `json:"mode"`
	TempC       *float64 `json:"temp_c"`
	Speed       *string  `json:"speed"`
	TimeSeconds *float64 `json:"time_seconds"`
}

// Ingredient is one entry of the ingredient list.
type Ingredient struct {
	Name   string `json:"name"`
	Amount string `json:"amount"`
	Notes  string `json:"notes"`
}

// Step is one ordered instruction, optionally annotated with appliance
// parameters.
type Step struct {
	Instruction string          `json:"step"`
	Appliance   ApplianceParams `json:"appliance"`
}

// DocumentMetadata holds annotations added by the pipeline itself, not by
// the model (currently only the appliance-version hint the caller supplied).
type DocumentMetadata struct {
	ApplianceVersion string `json:"appliance_version,omitempty"`
}

// RecipeDocument is the structured extraction result. The shape mirrors the
// JSON schema handed to the model: every key is required, unknown values are
// null rather than absent.
type RecipeDocument struct {
	Title           string            `json:"title"`
	Portions        *float64          `json:"portions"`
	DurationMinutes *float64          `json:"duration_minutes"`
	Accessories     []string          `json:"accessories"`
	Ingredients     []Ingredient      `json:"ingredients"`
	Steps           []Step            `json:"steps"`
	Notes           *string           `json:"notes"`
	Metadata        *DocumentMetadata `json:"metadata,omitempty"`
}

// codeFenceRE strips a leading ```json (or bare ```) fence that some models
// wrap around their output despite the strict-JSON instruction.
var codeFenceRE = regexp.MustCompile("(?i)^```(?:json)?\\s*")

// ParseRecipeDocument parses raw model output into a RecipeDocument,
// rejecting anything that does not carry the required top-level fields
// (title, ingredient list, step list). The result is either a fully typed
// document or a *SchemaError; partial or garbage content is never returned.
func ParseRecipeDocument(raw string) (*RecipeDocument, error) {
	content := strings.TrimSpace(raw)
	content = codeFenceRE.ReplaceAllString(content, "")
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, &SchemaError{Reason: "empty response"}
	}

	// Probe with pointer fields so a missing key is distinguishable from a
	// zero value.
	var probe struct {
		Title       *string       `json:"title"`
		Ingredients *[]Ingredient `json:"ingredients"`
		Steps       *[]Step       `json:"steps"`
	}
	if err := json.Unmarshal([]byte(content), &probe); err != nil {
		return nil, &SchemaError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if probe.Title == nil || probe.Ingredients == nil || probe.Steps == nil {
		return nil, &SchemaError{Reason: "missing required fields"}
	}

	var doc RecipeDocument
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, &SchemaError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return &doc, nil
}
