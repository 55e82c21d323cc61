package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/ports"
)

type SettingsRepository struct {
	mu      sync.RWMutex
	records map[domain.SettingsKey]domain.SettingsRecord
}

func (r *SettingsRepository) Get(_ context.Context, key domain.SettingsKey) (domain.SettingsRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[key]
	if !ok {
		return domain.SettingsRecord{}, domain.ErrNotFound
	}
	return record, nil
}

func (r *SettingsRepository) Put(_ context.Context, record domain.SettingsRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.Key] = record
	return nil
}

type AuditLogRepository struct {
	mu      sync.Mutex
	records []domain.AuditEntry
}

func (r *AuditLogRepository) Append(_ context.Context, entry domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.Details = maps.Clone(entry.Details)
	r.records = append(r.records, entry)
	return nil
}

// List returns the newest entries first. Empty filters match everything.
func (r *AuditLogRepository) List(_ context.Context, resource, resourceID string, limit int) ([]domain.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.AuditEntry, 0)
	for i := len(r.records) - 1; i >= 0; i-- {
		entry := r.records[i]
		if resource != "" && entry.Resource != resource {
			continue
		}
		if resourceID != "" && entry.ResourceID != resourceID {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

type IdempotencyRepository struct {
	mu      sync.Mutex
	records map[string]ports.IdempotencyRecord
}

func (r *IdempotencyRepository) Get(_ context.Context, key string, now time.Time) (*ports.IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[key]
	if !ok {
		return nil, nil
	}
	if now.After(record.ExpiresAt) {
		delete(r.records, key)
		return nil, nil
	}
	clone := record
	clone.ResponseBody = slices.Clone(record.ResponseBody)
	return &clone, nil
}

func (r *IdempotencyRepository) Reserve(_ context.Context, key, requestHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.records[key]; ok && time.Now().UTC().Before(existing.ExpiresAt) {
		if existing.RequestHash != requestHash {
			return domain.ErrIdempotencyConflict
		}
		return domain.ErrConflict
	}
	now := time.Now().UTC()
	r.records[key] = ports.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      "PENDING",
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return nil
}

func (r *IdempotencyRepository) Complete(_ context.Context, key string, responseCode int, responseBody []byte, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[key]
	if !ok {
		return domain.ErrNotFound
	}
	record.Status = "COMPLETED"
	record.ResponseCode = responseCode
	record.ResponseBody = slices.Clone(responseBody)
	record.UpdatedAt = at
	r.records[key] = record
	return nil
}

func (r *IdempotencyRepository) Release(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record, ok := r.records[key]; ok && record.Status != "COMPLETED" {
		delete(r.records, key)
	}
	return nil
}

type OutboxRepository struct {
	mu      sync.Mutex
	records map[string]ports.OutboxRecord
	order   []string
}

func (r *OutboxRepository) Enqueue(_ context.Context, record ports.OutboxRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[record.OutboxID]; exists {
		return domain.ErrConflict
	}
	record.Payload = slices.Clone(record.Payload)
	r.records[record.OutboxID] = record
	r.order = append(r.order, record.OutboxID)
	return nil
}

func (r *OutboxRepository) ClaimUnpublished(_ context.Context, limit int, claimToken string, claimUntil time.Time) ([]ports.OutboxRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	now := time.Now().UTC()
	out := make([]ports.OutboxRecord, 0, limit)
	for _, id := range r.order {
		record := r.records[id]
		if record.PublishedAt != nil || record.DeadLetteredAt != nil {
			continue
		}
		if record.ClaimUntil != nil && record.ClaimUntil.After(now) {
			continue
		}
		token := claimToken
		until := claimUntil
		record.ClaimToken = &token
		record.ClaimUntil = &until
		r.records[id] = record
		out = append(out, record)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *OutboxRepository) MarkPublished(_ context.Context, outboxID, claimToken string, at time.Time) error {
	return r.mutateClaimed(outboxID, claimToken, func(record *ports.OutboxRecord) {
		record.PublishedAt = &at
	})
}

func (r *OutboxRepository) MarkFailed(_ context.Context, outboxID, claimToken, errMsg string, at time.Time) error {
	return r.mutateClaimed(outboxID, claimToken, func(record *ports.OutboxRecord) {
		record.RetryCount++
		record.LastError = &errMsg
		record.LastErrorAt = &at
	})
}

func (r *OutboxRepository) MarkDeadLettered(_ context.Context, outboxID, claimToken, errMsg string, at time.Time) error {
	return r.mutateClaimed(outboxID, claimToken, func(record *ports.OutboxRecord) {
		record.LastError = &errMsg
		record.LastErrorAt = &at
		record.DeadLetteredAt = &at
	})
}

// Pending returns records not yet published or dead-lettered.
func (r *OutboxRepository) Pending() []ports.OutboxRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ports.OutboxRecord, 0)
	for _, id := range r.order {
		record := r.records[id]
		if record.PublishedAt == nil && record.DeadLetteredAt == nil {
			out = append(out, record)
		}
	}
	return out
}

func (r *OutboxRepository) mutateClaimed(outboxID, claimToken string, fn func(*ports.OutboxRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[outboxID]
	if !ok {
		return domain.ErrNotFound
	}
	if record.ClaimToken == nil || *record.ClaimToken != claimToken {
		return domain.ErrConflict
	}
	fn(&record)
	record.ClaimToken = nil
	record.ClaimUntil = nil
	r.records[outboxID] = record
	return nil
}
