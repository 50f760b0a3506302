// Package services defines the business logic for the conversion pipeline
// and the recipes read API. This file centralizes common service-level error
// values so that they can be consistently returned by service methods and
// checked by callers.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing messages or HTTP status codes is performed at the
// handler layer.
package services

import "errors"

var (
	// ErrMissingImagePath is returned when a trigger request carries no
	// image path.
	ErrMissingImagePath = errors.New("image path is empty")

	// ErrInvalidBucket is returned when an image path lies outside the
	// designated raw-upload bucket prefix.
	ErrInvalidBucket = errors.New("image path outside the raw uploads bucket")

	// ErrForbiddenPath is returned when the owner segment embedded in an
	// image path does not match the authenticated caller.
	ErrForbiddenPath = errors.New("image path does not belong to caller")

	// ErrUpload is returned when persisting a raw upload to the object store
	// fails; the pipeline is never invoked in that case.
	ErrUpload = errors.New("upload failed")

	// ErrRecordNotFound indicates that the requested conversion record does
	// not exist or is not accessible to the current user.
	ErrRecordNotFound = errors.New("record not found")
)
