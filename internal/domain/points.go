package domain

import (
	"fmt"
	"strings"
	"time"
)

type PointsTxType string

const (
	PointsEarned   PointsTxType = "earned"
	PointsSpent    PointsTxType = "spent"
	PointsExpired  PointsTxType = "expired"
	PointsAdjusted PointsTxType = "adjusted"
)

// PointsTransaction is one immutable ledger entry. Sequence is 1-based and gapless per user.
type PointsTransaction struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	Sequence     int64        `json:"sequence"`
	Type         PointsTxType `json:"type"`
	Amount       int64        `json:"amount"`
	OrderID      string       `json:"order_id,omitempty"`
	RewardID     string       `json:"reward_id,omitempty"`
	Description  string       `json:"description"`
	BalanceAfter int64        `json:"balance_after"`
	CreatedAt    time.Time    `json:"created_at"`
}

type PointsEntryInput struct {
	UserID      string
	Type        PointsTxType
	Amount      int64
	OrderID     string
	RewardID    string
	Description string
}

// NextPointsEntry chains a new entry onto prev (nil for a user's first entry).
func NextPointsEntry(prev *PointsTransaction, in PointsEntryInput, id string, at time.Time) (PointsTransaction, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return PointsTransaction{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if in.Amount == 0 {
		return PointsTransaction{}, fmt.Errorf("%w: amount must not be zero", ErrInvalidInput)
	}
	switch in.Type {
	case PointsEarned:
		if in.Amount < 0 {
			return PointsTransaction{}, fmt.Errorf("%w: earned amount must be positive", ErrInvalidInput)
		}
	case PointsSpent, PointsExpired:
		if in.Amount > 0 {
			return PointsTransaction{}, fmt.Errorf("%w: %s amount must be negative", ErrInvalidInput, in.Type)
		}
	case PointsAdjusted:
	default:
		return PointsTransaction{}, fmt.Errorf("%w: unknown points transaction type %q", ErrInvalidInput, in.Type)
	}

	var prior, seq int64
	if prev != nil {
		prior = prev.BalanceAfter
		seq = prev.Sequence
	}
	after := prior + in.Amount
	if after < 0 {
		return PointsTransaction{}, ErrInsufficientBalance
	}
	return PointsTransaction{
		ID:           id,
		UserID:       in.UserID,
		Sequence:     seq + 1,
		Type:         in.Type,
		Amount:       in.Amount,
		OrderID:      in.OrderID,
		RewardID:     in.RewardID,
		Description:  in.Description,
		BalanceAfter: after,
		CreatedAt:    at,
	}, nil
}

type LedgerConsistency struct {
	UserID           string `json:"user_id"`
	Entries          int    `json:"entries"`
	Consistent       bool   `json:"consistent"`
	ReplayedBalance  int64  `json:"replayed_balance"`
	RecordedBalance  int64  `json:"recorded_balance"`
	FirstBadSequence int64  `json:"first_bad_sequence,omitempty"`
}

// ReplayLedger sums signed amounts from zero over entries in ascending sequence order and
// checks every balance snapshot and the sequence chain.
func ReplayLedger(userID string, entries []PointsTransaction) LedgerConsistency {
	report := LedgerConsistency{UserID: userID, Entries: len(entries), Consistent: true}
	var running int64
	for i, e := range entries {
		running += e.Amount
		if report.Consistent && (e.BalanceAfter != running || e.Sequence != int64(i+1) || running < 0) {
			report.Consistent = false
			report.FirstBadSequence = e.Sequence
		}
	}
	report.ReplayedBalance = running
	if len(entries) > 0 {
		report.RecordedBalance = entries[len(entries)-1].BalanceAfter
	}
	return report
}
