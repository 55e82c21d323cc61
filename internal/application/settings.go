package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
)

// GetSettings resolves a settings variant from cache, then store, then defaults.
func (s *Service) GetSettings(ctx context.Context, key domain.SettingsKey) (domain.Settings, error) {
	if s.settingsCache != nil {
		if cached, ok := s.settingsCache.Get(ctx, key); ok {
			return cached, nil
		}
	}
	rec, err := s.settings.Get(ctx, key)
	switch {
	case err == nil:
		if s.settingsCache != nil {
			s.settingsCache.Set(ctx, rec.Value)
		}
		return rec.Value, nil
	case errors.Is(err, domain.ErrNotFound):
		return domain.DefaultSettings(key)
	default:
		return nil, err
	}
}

// UpdateSettings validates raw against the variant owned by key, persists it and audits.
func (s *Service) UpdateSettings(ctx context.Context, actor Actor, key domain.SettingsKey, raw []byte) (domain.Settings, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	value, err := domain.DecodeSettings(key, raw)
	if err != nil {
		return nil, err
	}
	if err := value.Validate(); err != nil {
		return nil, err
	}
	prior, err := s.GetSettings(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := s.settings.Put(ctx, domain.SettingsRecord{
		Key:       key,
		Value:     value,
		UpdatedBy: actor.SubjectID,
		UpdatedAt: s.nowFn(),
	}); err != nil {
		return nil, err
	}
	if s.settingsCache != nil {
		s.settingsCache.Invalidate(ctx, key)
	}
	if err := s.appendAudit(ctx, actor, "settings.updated", "settings", string(key), map[string]any{
		"before": prior,
		"after":  value,
	}); err != nil {
		return nil, err
	}
	return value, nil
}

func (s *Service) feeSettings(ctx context.Context) (domain.OrderFeeSettings, error) {
	v, err := s.GetSettings(ctx, domain.SettingsOrderFees)
	if err != nil {
		return domain.OrderFeeSettings{}, err
	}
	out, ok := v.(domain.OrderFeeSettings)
	if !ok {
		return domain.OrderFeeSettings{}, fmt.Errorf("settings %s has unexpected variant %T", domain.SettingsOrderFees, v)
	}
	return out, nil
}

func (s *Service) pointsSettings(ctx context.Context) (domain.PointsSettings, error) {
	v, err := s.GetSettings(ctx, domain.SettingsPoints)
	if err != nil {
		return domain.PointsSettings{}, err
	}
	out, ok := v.(domain.PointsSettings)
	if !ok {
		return domain.PointsSettings{}, fmt.Errorf("settings %s has unexpected variant %T", domain.SettingsPoints, v)
	}
	return out, nil
}

func (s *Service) waitSettings(ctx context.Context) (domain.WaitTimeSettings, error) {
	v, err := s.GetSettings(ctx, domain.SettingsWaitTimes)
	if err != nil {
		return domain.WaitTimeSettings{}, err
	}
	out, ok := v.(domain.WaitTimeSettings)
	if !ok {
		return domain.WaitTimeSettings{}, fmt.Errorf("settings %s has unexpected variant %T", domain.SettingsWaitTimes, v)
	}
	return out, nil
}

func (s *Service) ListAudit(ctx context.Context, actor Actor, resource, resourceID string, limit int) ([]domain.AuditEntry, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	limit, _ = normalizePage(limit, 0)
	return s.audit.List(ctx, resource, resourceID, limit)
}
