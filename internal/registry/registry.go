// Package registry owns all mutation access to transfer records. Both
// implementations serialize mutations per record: concurrent operations on
// different transfers proceed in parallel, while the download claim is an
// atomic check-and-increment that can never over-issue downloads.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sendvault/backend/internal/models"
)

var (
	// ErrNotFound means no record exists under the given ID.
	ErrNotFound = errors.New("transfer not found")

	// ErrExhausted means the transfer's lifetime or quota ran out, so the
	// claim did not increment the counter.
	ErrExhausted = errors.New("transfer expired or quota exhausted")
)

// Registry is the keyed store of transfer records. Get returns snapshots;
// callers never hold live references into the store.
type Registry interface {
	// Insert stores a new record. The ID must be unique.
	Insert(ctx context.Context, transfer *models.Transfer) error

	// Get returns a snapshot of the record including its audit trail, or
	// ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*models.Transfer, error)

	// ClaimDownload atomically checks usability at `now`, increments the
	// download counter and appends the success attempt. On ErrExhausted
	// nothing is mutated. The returned snapshot reflects the increment.
	ClaimDownload(ctx context.Context, id uuid.UUID, now time.Time, attempt models.DownloadAttempt) (*models.Transfer, error)

	// AppendAttempt records a failed download attempt.
	AppendAttempt(ctx context.Context, id uuid.UUID, attempt models.DownloadAttempt) error

	// Remove deletes the record and its audit trail, reporting whether it
	// existed.
	Remove(ctx context.Context, id uuid.UUID) (bool, error)

	// ListExpired returns snapshots of every record unusable at `now`.
	ListExpired(ctx context.Context, now time.Time) ([]*models.Transfer, error)
}
