// Package remote defines the capability boundary to the remote vector store
// and classifies its failures.
//
// Core logic depends only on the Client interface; one implementation exists
// per actual backend. Operations are never assumed to be atomic with respect
// to each other.
package remote

import (
	"context"
	"errors"
	"fmt"
)

// Metadata accompanies an upload. The remote store does not index it; it is
// informational and mirrored into local state.
type Metadata struct {
	DocumentType string
	Title        string
}

// File is one entry of a remote listing. ExternalID may be empty when the
// backend has no identity attribute recorded for the file.
type File struct {
	ExternalID string
	RemoteID   string
}

// Client is the set of remote operations the sync engine depends on.
//
//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=client.go Client
type Client interface {
	// Upload stores content under externalID and returns the backend's id
	// for the stored object.
	Upload(ctx context.Context, externalID string, content []byte, meta Metadata) (string, error)

	// Delete removes the object with the given backend id.
	Delete(ctx context.Context, remoteID string) error

	// List enumerates every object currently in the store.
	List(ctx context.Context) ([]File, error)
}

// TransientError reports a failure worth retrying: rate limiting, server-side
// errors, or network trouble.
type TransientError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s failed with status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError reports a failure that retrying cannot fix, such as
// authentication or validation problems.
type PermanentError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *PermanentError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s rejected with status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s rejected: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is classified as retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is classified as non-retryable.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// classifyStatus maps an HTTP status code to the retry taxonomy.
func classifyStatus(op string, status int, err error) error {
	if status == 429 || status >= 500 {
		return &TransientError{Op: op, StatusCode: status, Err: err}
	}
	return &PermanentError{Op: op, StatusCode: status, Err: err}
}
