package domain

import (
	"errors"
	"fmt"
)

// Error categories surfaced by the pipeline. Callers match them with errors.Is;
// every error returned from the pipeline wraps exactly one of these.
var (
	// ErrConfiguration covers an unusable output directory or nonsensical settings.
	ErrConfiguration = errors.New("configuration error")

	// ErrInvalidBoundingBox is returned for boxes with min >= max or no SRS.
	ErrInvalidBoundingBox = errors.New("invalid bounding box")

	// ErrExtentTooLarge is returned when an untiled request exceeds the
	// maximum per-request extent. Callers must opt into tiling instead.
	ErrExtentTooLarge = errors.New("extent too large")

	// ErrService covers non-success responses or unusable payloads from the
	// feature or attribute services.
	ErrService = errors.New("service error")

	// ErrParse is returned for malformed markup during key extraction or join.
	ErrParse = errors.New("parse error")
)

// ServiceError describes a failed call to a remote service.
type ServiceError struct {
	Service    string // "wfs", "sda", ...
	StatusCode int    // 0 when the failure is not an HTTP status
	Message    string
	Err        error // underlying transport error, if any
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Service, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Service, e.Message)
}

// Is reports ServiceError as a member of the ErrService category.
func (e *ServiceError) Is(target error) bool {
	return target == ErrService
}

func (e *ServiceError) Unwrap() error { return e.Err }
