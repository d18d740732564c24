package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sendvault/backend/internal/models"
)

// MemoryRegistry keeps transfer records in process memory. Suitable for a
// single-process deployment; production should use the gorm-backed registry.
type MemoryRegistry struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*memoryEntry
}

// memoryEntry carries its own mutex so mutations on one transfer never
// block operations on another.
type memoryEntry struct {
	mu       sync.Mutex
	transfer *models.Transfer
	removed  bool
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: make(map[uuid.UUID]*memoryEntry)}
}

func (r *MemoryRegistry) Insert(_ context.Context, transfer *models.Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[transfer.ID]; exists {
		return fmt.Errorf("transfer %s already exists", transfer.ID)
	}

	now := time.Now().UTC()
	stored := transfer.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	r.entries[transfer.ID] = &memoryEntry{transfer: stored}
	return nil
}

func (r *MemoryRegistry) lookup(id uuid.UUID) (*memoryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	return entry, ok
}

func (r *MemoryRegistry) Get(_ context.Context, id uuid.UUID) (*models.Transfer, error) {
	entry, ok := r.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.removed {
		return nil, ErrNotFound
	}
	return entry.transfer.Clone(), nil
}

func (r *MemoryRegistry) ClaimDownload(_ context.Context, id uuid.UUID, now time.Time, attempt models.DownloadAttempt) (*models.Transfer, error) {
	entry, ok := r.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.removed {
		return nil, ErrNotFound
	}

	t := entry.transfer
	if t.IsExpired(now) {
		return nil, ErrExhausted
	}

	t.CurrentDownloads++
	t.UpdatedAt = now
	appendAttemptLocked(t, attempt)
	return t.Clone(), nil
}

func (r *MemoryRegistry) AppendAttempt(_ context.Context, id uuid.UUID, attempt models.DownloadAttempt) error {
	entry, ok := r.lookup(id)
	if !ok {
		return ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.removed {
		return ErrNotFound
	}

	appendAttemptLocked(entry.transfer, attempt)
	return nil
}

func appendAttemptLocked(t *models.Transfer, attempt models.DownloadAttempt) {
	attempt.ID = uuid.New()
	attempt.TransferID = t.ID
	attempt.Sequence = int64(len(t.Attempts)) + 1
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}
	t.Attempts = append(t.Attempts, attempt)
}

func (r *MemoryRegistry) Remove(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	entry, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if !ok {
		return false, nil
	}

	// late claimers holding the entry must observe the removal
	entry.mu.Lock()
	entry.removed = true
	entry.mu.Unlock()
	return true, nil
}

func (r *MemoryRegistry) ListExpired(_ context.Context, now time.Time) ([]*models.Transfer, error) {
	r.mu.RLock()
	entries := make([]*memoryEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	var expired []*models.Transfer
	for _, entry := range entries {
		entry.mu.Lock()
		if !entry.removed && entry.transfer.IsExpired(now) {
			expired = append(expired, entry.transfer.Clone())
		}
		entry.mu.Unlock()
	}
	return expired, nil
}
