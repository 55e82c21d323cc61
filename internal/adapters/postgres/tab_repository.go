package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
)

type tabRepository struct {
	db *gorm.DB
}

// Create relies on uq_tabs_open_table to refuse a second non-closed tab for a table.
func (r *tabRepository) Create(ctx context.Context, tab domain.Tab) error {
	row, err := toTabModel(tab)
	if err != nil {
		return err
	}
	return createRow(ctx, r.db, &row)
}

func (r *tabRepository) Get(ctx context.Context, tabID string) (domain.Tab, error) {
	var row tabModel
	if err := r.db.WithContext(ctx).Where("id = ?", tabID).Take(&row).Error; err != nil {
		return domain.Tab{}, mapReadError(err)
	}
	return fromTabModel(row)
}

func (r *tabRepository) GetOpenByTable(ctx context.Context, tableNumber string) (domain.Tab, error) {
	var row tabModel
	if err := r.db.WithContext(ctx).
		Where("table_number = ?", tableNumber).
		Where("status <> ?", string(domain.TabStatusClosed)).
		Take(&row).Error; err != nil {
		return domain.Tab{}, mapReadError(err)
	}
	return fromTabModel(row)
}

func (r *tabRepository) Update(ctx context.Context, tab domain.Tab) (domain.Tab, error) {
	expected := tab.Version
	tab.Version++
	row, err := toTabModel(tab)
	if err != nil {
		return domain.Tab{}, err
	}
	if err := conditionalUpdate(ctx, r.db, &row, "id", tab.ID, expected); err != nil {
		return domain.Tab{}, err
	}
	return tab, nil
}

func (r *tabRepository) ListOpen(ctx context.Context) ([]domain.Tab, error) {
	var rows []tabModel
	if err := r.db.WithContext(ctx).
		Where("status <> ?", string(domain.TabStatusClosed)).
		Order("opened_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Tab, 0, len(rows))
	for _, row := range rows {
		tab, err := fromTabModel(row)
		if err != nil {
			return nil, err
		}
		out = append(out, tab)
	}
	return out, nil
}
