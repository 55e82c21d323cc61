package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/ports"
)

type settingsRepository struct {
	db *gorm.DB
}

func (r *settingsRepository) Get(ctx context.Context, key domain.SettingsKey) (domain.SettingsRecord, error) {
	var row settingsModel
	if err := r.db.WithContext(ctx).Where("settings_key = ?", string(key)).Take(&row).Error; err != nil {
		return domain.SettingsRecord{}, mapReadError(err)
	}
	value, err := domain.DecodeSettings(key, []byte(row.Value))
	if err != nil {
		return domain.SettingsRecord{}, err
	}
	return domain.SettingsRecord{
		Key:       key,
		Value:     value,
		UpdatedBy: deref(row.UpdatedBy),
		UpdatedAt: row.UpdatedAt,
	}, nil
}

func (r *settingsRepository) Put(ctx context.Context, record domain.SettingsRecord) error {
	raw, err := json.Marshal(record.Value)
	if err != nil {
		return fmt.Errorf("encode settings %s: %w", record.Key, err)
	}
	row := settingsModel{
		Key:       string(record.Key),
		Value:     string(raw),
		UpdatedBy: nullable(record.UpdatedBy),
		UpdatedAt: record.UpdatedAt,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "settings_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_by", "updated_at"}),
	}).Create(&row).Error
}

type auditRepository struct {
	db *gorm.DB
}

func (r *auditRepository) Append(ctx context.Context, entry domain.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	var details *string
	if len(entry.Details) > 0 {
		raw, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("encode audit details: %w", err)
		}
		s := string(raw)
		details = &s
	}
	row := auditModel{
		ID:         entry.ID,
		ActorID:    entry.ActorID,
		Action:     entry.Action,
		Resource:   entry.Resource,
		ResourceID: entry.ResourceID,
		Details:    details,
		At:         entry.At,
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *auditRepository) List(ctx context.Context, resource, resourceID string, limit int) ([]domain.AuditEntry, error) {
	query := r.db.WithContext(ctx).Order("at DESC")
	if resource != "" {
		query = query.Where("resource = ?", resource)
	}
	if resourceID != "" {
		query = query.Where("resource_id = ?", resourceID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []auditModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.AuditEntry, 0, len(rows))
	for _, row := range rows {
		entry := domain.AuditEntry{
			ID:         row.ID,
			ActorID:    row.ActorID,
			Action:     row.Action,
			Resource:   row.Resource,
			ResourceID: row.ResourceID,
			At:         row.At,
		}
		if row.Details != nil {
			if err := json.Unmarshal([]byte(*row.Details), &entry.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

type idempotencyRepository struct {
	db *gorm.DB
}

func (r *idempotencyRepository) Get(ctx context.Context, key string, now time.Time) (*ports.IdempotencyRecord, error) {
	var rec idempotencyModel
	if err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		Where("expires_at > ?", now).
		Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	out := ports.IdempotencyRecord{
		Key:          rec.IdempotencyKey,
		RequestHash:  rec.RequestHash,
		Status:       rec.Status,
		ResponseCode: rec.ResponseCode,
		ExpiresAt:    rec.ExpiresAt,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
	if rec.ResponseBody != nil {
		out.ResponseBody = []byte(*rec.ResponseBody)
	}
	return &out, nil
}

// Reserve claims key. An expired holder is replaced; a live one yields domain.ErrConflict, or
// domain.ErrIdempotencyConflict when it was reserved for a different request.
func (r *idempotencyRepository) Reserve(ctx context.Context, key, requestHash string, expiresAt time.Time) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("idempotency_key = ?", key).
			Where("expires_at <= ?", now).
			Delete(&idempotencyModel{}).Error; err != nil {
			return err
		}
		rec := idempotencyModel{
			IdempotencyKey: key,
			RequestHash:    requestHash,
			Status:         "PENDING",
			ExpiresAt:      expiresAt,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			return nil
		}
		var existing idempotencyModel
		if err := tx.Where("idempotency_key = ?", key).Take(&existing).Error; err != nil {
			return mapReadError(err)
		}
		if existing.RequestHash != requestHash {
			return domain.ErrIdempotencyConflict
		}
		return domain.ErrConflict
	})
}

func (r *idempotencyRepository) Complete(ctx context.Context, key string, responseCode int, responseBody []byte, at time.Time) error {
	var body *string
	if len(responseBody) > 0 {
		raw := string(responseBody)
		body = &raw
	}
	return r.db.WithContext(ctx).
		Model(&idempotencyModel{}).
		Where("idempotency_key = ?", key).
		Updates(map[string]any{
			"status":        "COMPLETED",
			"response_code": responseCode,
			"response_body": body,
			"updated_at":    at,
		}).Error
}

func (r *idempotencyRepository) Release(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		Where("status <> ?", "COMPLETED").
		Delete(&idempotencyModel{}).Error
}
