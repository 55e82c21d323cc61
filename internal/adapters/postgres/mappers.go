package postgres

import (
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
)

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// mapReadError turns a missing row into domain.ErrNotFound.
func mapReadError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func encodeDocument(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	return string(raw), nil
}

func decodeDocument[T any](raw string) (T, error) {
	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}

func toOrderModel(o domain.Order) (orderModel, error) {
	doc, err := encodeDocument(o)
	if err != nil {
		return orderModel{}, err
	}
	return orderModel{
		ID:             o.ID,
		IdempotencyKey: o.IdempotencyKey,
		OwnerID:        o.Customer.OwnerID(),
		OrderType:      string(o.Type),
		Status:         string(o.Status),
		TabID:          nullable(o.TabID),
		Total:          o.Totals.Total,
		PaymentStatus:  string(o.Payment.Status),
		Document:       doc,
		Version:        o.Version,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}, nil
}

func fromOrderModel(m orderModel) (domain.Order, error) {
	o, err := decodeDocument[domain.Order](m.Document)
	if err != nil {
		return domain.Order{}, err
	}
	o.Version = m.Version
	return o, nil
}

func toTabModel(t domain.Tab) (tabModel, error) {
	doc, err := encodeDocument(t)
	if err != nil {
		return tabModel{}, err
	}
	return tabModel{
		ID:          t.ID,
		TabNumber:   t.Number,
		TableNumber: t.TableNumber,
		Status:      string(t.Status),
		OwnerID:     nullable(t.OwnerID),
		Document:    doc,
		Version:     t.Version,
		OpenedAt:    t.OpenedAt,
		UpdatedAt:   t.UpdatedAt,
	}, nil
}

func fromTabModel(m tabModel) (domain.Tab, error) {
	t, err := decodeDocument[domain.Tab](m.Document)
	if err != nil {
		return domain.Tab{}, err
	}
	t.Version = m.Version
	return t, nil
}

func toPaymentModel(p domain.Payment) (paymentModel, error) {
	doc, err := encodeDocument(p)
	if err != nil {
		return paymentModel{}, err
	}
	return paymentModel{
		ID:        p.ID,
		Reference: p.Reference,
		OrderID:   nullable(p.OrderID),
		TabID:     nullable(p.TabID),
		Status:    string(p.Status),
		Method:    string(p.Method),
		Amount:    p.Amount,
		Document:  doc,
		Version:   p.Version,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}, nil
}

func fromPaymentModel(m paymentModel) (domain.Payment, error) {
	p, err := decodeDocument[domain.Payment](m.Document)
	if err != nil {
		return domain.Payment{}, err
	}
	p.Version = m.Version
	return p, nil
}

func toPointsModel(tx domain.PointsTransaction) pointsTransactionModel {
	return pointsTransactionModel{
		ID:           tx.ID,
		UserID:       tx.UserID,
		Sequence:     tx.Sequence,
		TxType:       string(tx.Type),
		Amount:       tx.Amount,
		OrderID:      nullable(tx.OrderID),
		RewardID:     nullable(tx.RewardID),
		Description:  tx.Description,
		BalanceAfter: tx.BalanceAfter,
		CreatedAt:    tx.CreatedAt,
	}
}

func fromPointsModel(m pointsTransactionModel) domain.PointsTransaction {
	return domain.PointsTransaction{
		ID:           m.ID,
		UserID:       m.UserID,
		Sequence:     m.Sequence,
		Type:         domain.PointsTxType(m.TxType),
		Amount:       m.Amount,
		OrderID:      deref(m.OrderID),
		RewardID:     deref(m.RewardID),
		Description:  m.Description,
		BalanceAfter: m.BalanceAfter,
		CreatedAt:    m.CreatedAt,
	}
}

func toRewardModel(r domain.Reward) (rewardModel, error) {
	doc, err := encodeDocument(r)
	if err != nil {
		return rewardModel{}, err
	}
	return rewardModel{
		ID:                r.ID,
		Code:              r.Code,
		RuleID:            r.RuleID,
		UserID:            r.UserID,
		Status:            string(r.Status),
		RedeemedInOrderID: nullable(r.RedeemedInOrderID),
		ExpiresAt:         r.ExpiresAt,
		Document:          doc,
		Version:           r.Version,
	}, nil
}

func fromRewardModel(m rewardModel) (domain.Reward, error) {
	r, err := decodeDocument[domain.Reward](m.Document)
	if err != nil {
		return domain.Reward{}, err
	}
	r.Version = m.Version
	return r, nil
}

func fromRewardModels(rows []rewardModel) ([]domain.Reward, error) {
	out := make([]domain.Reward, 0, len(rows))
	for _, row := range rows {
		r, err := fromRewardModel(row)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
