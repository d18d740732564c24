// Package transfer implements the secure transfer lifecycle: create, info,
// validate, download, delete, cleanup and statistics. The service enforces
// every access invariant (token, password, expiry, quota) and records one
// audit entry per download attempt.
package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sendvault/backend/internal/access"
	"github.com/sendvault/backend/internal/config"
	"github.com/sendvault/backend/internal/envelope"
	"github.com/sendvault/backend/internal/models"
	"github.com/sendvault/backend/internal/registry"
	"github.com/sendvault/backend/internal/storage"
	"github.com/sendvault/backend/pkg/logger"
	"github.com/sendvault/backend/pkg/utils"
)

const (
	MinExpirationHours = 1
	MaxExpirationHours = 168
)

type Service struct {
	registry               registry.Registry
	blobs                  storage.BlobStore
	baseURL                string
	maxSizeBytes           int64
	defaultExpirationHours int
	defaultMaxDownloads    int
	now                    func() time.Time
}

func NewService(reg registry.Registry, blobs storage.BlobStore, cfg config.TransferConfig, baseURL string) *Service {
	return &Service{
		registry:               reg,
		blobs:                  blobs,
		baseURL:                strings.TrimRight(baseURL, "/"),
		maxSizeBytes:           cfg.MaxSizeBytes,
		defaultExpirationHours: cfg.DefaultExpirationHours,
		defaultMaxDownloads:    cfg.DefaultMaxDownloads,
		now:                    time.Now,
	}
}

type CreateRequest struct {
	Payload        io.Reader
	FileName       string
	ContentType    string
	SenderEmail    string
	SenderName     string
	RecipientEmail *string
	Message        *string

	// ExpirationHours 0 means the configured default.
	ExpirationHours int

	// MaxDownloads 0 disables the quota; negative values are rejected.
	MaxDownloads int

	// Password is optional; empty means no password gate.
	Password string
}

type CreateResult struct {
	TransferID  uuid.UUID `json:"transferID"`
	AccessToken string    `json:"accessToken"`
	ShareURL    string    `json:"shareURL"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// DefaultMaxDownloads exposes the configured quota default so the transport
// layer can apply it when the caller omits the field.
func (s *Service) DefaultMaxDownloads() int {
	return s.defaultMaxDownloads
}

// CreateTransfer encrypts the payload into the blob store and registers an
// Active transfer. On any failure after bytes were written, the partial
// ciphertext is removed; no half-created transfer survives.
func (s *Service) CreateTransfer(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if req.Payload == nil {
		return nil, validationErr("payload", "required")
	}
	if strings.TrimSpace(req.SenderEmail) == "" {
		return nil, validationErr("senderEmail", "required")
	}
	if req.MaxDownloads < 0 {
		return nil, validationErr("maxDownloads", "must not be negative")
	}

	hours := req.ExpirationHours
	if hours == 0 {
		hours = s.defaultExpirationHours
	}
	if hours < MinExpirationHours || hours > MaxExpirationHours {
		return nil, validationErr("expirationHours",
			fmt.Sprintf("must be between %d and %d", MinExpirationHours, MaxExpirationHours))
	}

	fileName, err := sanitizeFileName(req.FileName)
	if err != nil {
		return nil, err
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key, err := envelope.GenerateKey()
	if err != nil {
		return nil, err
	}
	token, err := access.GenerateToken()
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	storedName := fmt.Sprintf("%s_%s", id, fileName)
	storageKey := fmt.Sprintf("transfers/%s/%s.enc", id, storedName)

	hasher := sha256.New()
	limited := &limitReader{r: io.TeeReader(req.Payload, hasher), remaining: s.maxSizeBytes}

	type encryptResult struct {
		written int64
		err     error
	}
	resultCh := make(chan encryptResult, 1)

	pr, pw := io.Pipe()
	go func() {
		written, encErr := envelope.Encrypt(pw, limited, key)
		pw.CloseWithError(encErr)
		resultCh <- encryptResult{written: written, err: encErr}
	}()

	putErr := s.blobs.Put(ctx, storageKey, pr, -1, "application/octet-stream")
	pr.CloseWithError(putErr)
	enc := <-resultCh

	rollback := func() {
		if err := s.blobs.Delete(ctx, storageKey); err != nil {
			logger.Error("transfer_create_rollback_failed", err, map[string]interface{}{
				"storage_key": storageKey,
			})
		}
	}

	if errors.Is(enc.err, errPayloadTooLarge) {
		rollback()
		return nil, validationErr("payload",
			fmt.Sprintf("exceeds the %d byte size ceiling", s.maxSizeBytes))
	}
	if putErr != nil {
		rollback()
		return nil, storageErr("writing ciphertext", putErr)
	}
	if enc.err != nil {
		rollback()
		return nil, storageErr("encrypting payload", enc.err)
	}
	if enc.written == 0 {
		rollback()
		return nil, validationErr("payload", "must not be empty")
	}

	var passwordHash *string
	if req.Password != "" {
		hash, err := utils.HashPassword(req.Password)
		if err != nil {
			rollback()
			return nil, err
		}
		passwordHash = &hash
	}

	wrappedKey, err := utils.WrapKey(key)
	if err != nil {
		rollback()
		return nil, err
	}

	now := s.now().UTC()
	record := &models.Transfer{
		BaseModel:        models.BaseModel{ID: id, CreatedAt: now, UpdatedAt: now},
		OriginalFileName: fileName,
		StoredFileName:   storedName,
		SizeBytes:        enc.written,
		ContentType:      contentType,
		StorageKey:       storageKey,
		PayloadHash:      hex.EncodeToString(hasher.Sum(nil)),
		EncryptionKey:    wrappedKey,
		AccessToken:      token,
		PasswordHash:     passwordHash,
		ExpiresAt:        now.Add(time.Duration(hours) * time.Hour),
		MaxDownloads:     req.MaxDownloads,
		Status:           models.TransferStatusActive,
		SenderEmail:      strings.TrimSpace(req.SenderEmail),
		SenderName:       strings.TrimSpace(req.SenderName),
		RecipientEmail:   req.RecipientEmail,
		Message:          req.Message,
	}

	if err := s.registry.Insert(ctx, record); err != nil {
		rollback()
		return nil, storageErr("persisting transfer record", err)
	}

	logger.Info("transfer_created", map[string]interface{}{
		"transfer_id":   id.String(),
		"file_name":     fileName,
		"size_bytes":    enc.written,
		"content_type":  contentType,
		"expires_at":    record.ExpiresAt,
		"max_downloads": req.MaxDownloads,
		"has_password":  passwordHash != nil,
	})

	return &CreateResult{
		TransferID:  id,
		AccessToken: token,
		ShareURL:    fmt.Sprintf("%s/t/%s?token=%s", s.baseURL, id, token),
		ExpiresAt:   record.ExpiresAt,
	}, nil
}

// GetTransferInfo returns the sanitized metadata. A bad token fails exactly
// like a missing transfer.
func (s *Service) GetTransferInfo(ctx context.Context, id uuid.UUID, token string) (*models.TransferInfo, error) {
	record, err := s.authorize(ctx, id, token)
	if err != nil {
		return nil, err
	}
	return record.Info(), nil
}

// ValidateTransfer reports whether a download with these credentials would
// currently be allowed. It never mutates state and never counts as a
// download.
func (s *Service) ValidateTransfer(ctx context.Context, id uuid.UUID, token, password string) (bool, error) {
	record, err := s.authorize(ctx, id, token)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if record.IsExpired(s.now().UTC()) {
		return false, nil
	}
	if record.HasPassword() && !utils.CheckPassword(password, *record.PasswordHash) {
		return false, nil
	}
	return true, nil
}

// DownloadResult bundles the plaintext stream with the metadata a transport
// needs to serve it.
type DownloadResult struct {
	Stream      io.ReadCloser
	FileName    string
	ContentType string
	SizeBytes   int64
}

// DownloadTransfer authorizes, atomically consumes one download and returns
// the decrypted stream. Every attempt, failed or not, appends exactly one
// audit entry; the counter is incremented at authorization time, not at
// stream completion.
func (s *Service) DownloadTransfer(ctx context.Context, id uuid.UUID, token, password, sourceAddress, userAgent string) (*DownloadResult, error) {
	record, err := s.registry.Get(ctx, id)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("loading transfer", err)
	}

	audit := func(success bool, reason string) {
		attempt := models.DownloadAttempt{
			SourceAddress: sourceAddress,
			UserAgent:     userAgent,
			Success:       success,
			FailureReason: reason,
			CreatedAt:     s.now().UTC(),
		}
		if err := s.registry.AppendAttempt(ctx, id, attempt); err != nil {
			// best effort: audit problems never mask the real outcome
			logger.Error("download_audit_append_failed", err, map[string]interface{}{
				"transfer_id": id.String(),
				"reason":      reason,
			})
		}
	}

	// a bad token is audited precisely but surfaces as not-found, so
	// callers cannot probe which transfer IDs exist
	if !access.VerifyToken(token, record.AccessToken) {
		audit(false, models.FailureBadToken)
		return nil, ErrNotFound
	}

	now := s.now().UTC()
	if record.IsExpired(now) {
		audit(false, models.FailureExpired)
		return nil, ErrExpired
	}

	if record.HasPassword() {
		if password == "" {
			audit(false, models.FailurePasswordRequired)
			return nil, ErrUnauthorized
		}
		if !utils.CheckPassword(password, *record.PasswordHash) {
			audit(false, models.FailureBadPassword)
			return nil, ErrUnauthorized
		}
	}

	claimed, err := s.registry.ClaimDownload(ctx, id, now, models.DownloadAttempt{
		SourceAddress: sourceAddress,
		UserAgent:     userAgent,
		Success:       true,
		CreatedAt:     now,
	})
	if errors.Is(err, registry.ErrExhausted) {
		audit(false, models.FailureExpired)
		return nil, ErrExpired
	}
	if errors.Is(err, registry.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		audit(false, models.FailureInternal)
		return nil, storageErr("claiming download", err)
	}

	key, err := utils.UnwrapKey(claimed.EncryptionKey)
	if err != nil {
		logger.Error("transfer_key_unwrap_failed", err, map[string]interface{}{
			"transfer_id": id.String(),
		})
		return nil, storageErr("unwrapping data key", err)
	}

	ciphertext, err := s.blobs.Get(ctx, claimed.StorageKey)
	if err != nil {
		return nil, storageErr("opening ciphertext", err)
	}

	plaintext, err := envelope.Decrypt(ciphertext, key)
	if err != nil {
		ciphertext.Close()
		if errors.Is(err, envelope.ErrCorruptedPayload) {
			return nil, err
		}
		return nil, storageErr("decrypting payload", err)
	}

	logger.Info("transfer_downloaded", map[string]interface{}{
		"transfer_id":       id.String(),
		"current_downloads": claimed.CurrentDownloads,
		"max_downloads":     claimed.MaxDownloads,
		"source_address":    sourceAddress,
	})

	return &DownloadResult{
		Stream:      &downloadStream{Reader: plaintext, closer: ciphertext},
		FileName:    claimed.OriginalFileName,
		ContentType: claimed.ContentType,
		SizeBytes:   claimed.SizeBytes,
	}, nil
}

// DeleteTransfer removes the ciphertext and the record. A bad token fails
// exactly like a missing transfer.
func (s *Service) DeleteTransfer(ctx context.Context, id uuid.UUID, token string) error {
	record, err := s.authorize(ctx, id, token)
	if err != nil {
		return err
	}

	if err := s.blobs.Delete(ctx, record.StorageKey); err != nil {
		return storageErr("deleting ciphertext", err)
	}
	if _, err := s.registry.Remove(ctx, id); err != nil {
		return storageErr("removing transfer record", err)
	}

	logger.Info("transfer_deleted", map[string]interface{}{
		"transfer_id": id.String(),
	})
	return nil
}

// TransferStatistics aggregates the audit log for one transfer.
type TransferStatistics struct {
	TotalAttempts       int        `json:"totalAttempts"`
	SuccessfulDownloads int        `json:"successfulDownloads"`
	FailedAttempts      int        `json:"failedAttempts"`
	LastDownloadAt      *time.Time `json:"lastDownloadAt,omitempty"`
	RemainingDownloads  int        `json:"remainingDownloads"`
	ExpiresAt           time.Time  `json:"expiresAt"`
}

// GetStatistics returns aggregate download counts, gated by the same token
// check as GetTransferInfo.
func (s *Service) GetStatistics(ctx context.Context, id uuid.UUID, token string) (*TransferStatistics, error) {
	record, err := s.authorize(ctx, id, token)
	if err != nil {
		return nil, err
	}

	stats := &TransferStatistics{
		TotalAttempts:      len(record.Attempts),
		RemainingDownloads: record.RemainingDownloads(),
		ExpiresAt:          record.ExpiresAt,
	}
	for i := range record.Attempts {
		attempt := &record.Attempts[i]
		if attempt.Success {
			stats.SuccessfulDownloads++
			at := attempt.CreatedAt
			stats.LastDownloadAt = &at
		} else {
			stats.FailedAttempts++
		}
	}
	return stats, nil
}

// CleanupExpiredTransfers deletes every transfer whose lifetime or quota is
// exhausted, ciphertext included. Safe to run concurrently with live
// traffic and idempotent: a second immediate run finds nothing.
func (s *Service) CleanupExpiredTransfers(ctx context.Context) (int, error) {
	expired, err := s.registry.ListExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, storageErr("listing expired transfers", err)
	}

	removed := 0
	for _, record := range expired {
		if err := s.blobs.Delete(ctx, record.StorageKey); err != nil {
			// keep the record so the next sweep retries the blob
			logger.Error("cleanup_blob_delete_failed", err, map[string]interface{}{
				"transfer_id": record.ID.String(),
			})
			continue
		}
		ok, err := s.registry.Remove(ctx, record.ID)
		if err != nil {
			logger.Error("cleanup_record_remove_failed", err, map[string]interface{}{
				"transfer_id": record.ID.String(),
			})
			continue
		}
		if ok {
			removed++
		}
	}

	if removed > 0 {
		logger.Info("cleanup_completed", map[string]interface{}{
			"removed": removed,
		})
	}
	return removed, nil
}

// StartCleanup runs the sweep on a fixed interval until the returned stop
// function is called.
func (s *Service) StartCleanup(interval time.Duration) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := s.CleanupExpiredTransfers(context.Background()); err != nil {
					logger.Error("cleanup_sweep_failed", err, nil)
				}
			case <-stop:
				return
			}
		}
	}()
	return func() { close(stop) }
}

// authorize loads the record and checks the access token, collapsing a bad
// token and a missing record into the same ErrNotFound.
func (s *Service) authorize(ctx context.Context, id uuid.UUID, token string) (*models.Transfer, error) {
	record, err := s.registry.Get(ctx, id)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("loading transfer", err)
	}
	if !access.VerifyToken(token, record.AccessToken) {
		return nil, ErrNotFound
	}
	return record, nil
}

var errPayloadTooLarge = errors.New("payload too large")

// limitReader fails with errPayloadTooLarge once more than `remaining`
// bytes have been read, instead of silently truncating.
type limitReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		var probe [1]byte
		n, err := l.r.Read(probe[:])
		if n > 0 {
			return 0, errPayloadTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	return n, err
}

type downloadStream struct {
	io.Reader
	closer io.Closer
}

func (d *downloadStream) Close() error {
	return d.closer.Close()
}

func sanitizeFileName(name string) (string, error) {
	base := filepath.Base(strings.TrimSpace(name))
	base = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == '/', r == '\\', r == ':':
			return '_'
		default:
			return r
		}
	}, base)

	if base == "" || base == "." || base == ".." {
		return "", validationErr("fileName", "required")
	}
	return base, nil
}
