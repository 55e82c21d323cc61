package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/contracts"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
)

func (h *Handler) pointsBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	balance, err := h.service.GetBalanceFor(r.Context(), actorFromRequest(r), userID)
	if err != nil {
		writeMappedError(r.Context(), w, "points_balance", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"user_id": userID, "balance": balance})
}

func (h *Handler) pointsHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := pageFromQuery(q, 20)
	history, err := h.service.GetTransactionHistoryFor(r.Context(), actorFromRequest(r), chi.URLParam(r, "user_id"), page.Limit, page.Offset)
	if err != nil {
		writeMappedError(r.Context(), w, "points_history", err)
		return
	}
	writePage(w, history.Items, page, history.Total)
}

func (h *Handler) pointsConsistency(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.VerifyConsistency(r.Context(), actorFromRequest(r), chi.URLParam(r, "user_id"))
	if err != nil {
		writeMappedError(r.Context(), w, "points_consistency", err)
		return
	}
	writeSuccess(w, http.StatusOK, report)
}

func (h *Handler) adjustPoints(w http.ResponseWriter, r *http.Request) {
	var req contracts.PointsAdjustmentRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "adjust_points", err)
		return
	}
	tx, err := h.service.AdjustPoints(r.Context(), actorFromRequest(r), req.UserID, req.Amount, req.Reason)
	if err != nil {
		writeMappedError(r.Context(), w, "adjust_points", err)
		return
	}
	writeSuccess(w, http.StatusCreated, tx)
}

func (h *Handler) listRewardRules(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	rules, err := h.service.ListRules(r.Context(), actorFromRequest(r), activeOnly)
	if err != nil {
		writeMappedError(r.Context(), w, "list_reward_rules", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"items": rules})
}

func (h *Handler) createRewardRule(w http.ResponseWriter, r *http.Request) {
	var req contracts.RewardRuleRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "create_reward_rule", err)
		return
	}
	rule, err := h.service.CreateRule(r.Context(), actorFromRequest(r), rewardRuleFromRequest(req))
	if err != nil {
		writeMappedError(r.Context(), w, "create_reward_rule", err)
		return
	}
	writeSuccess(w, http.StatusCreated, rule)
}

func (h *Handler) updateRewardRule(w http.ResponseWriter, r *http.Request) {
	var req contracts.RewardRuleRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "update_reward_rule", err)
		return
	}
	rule, err := h.service.UpdateRule(r.Context(), actorFromRequest(r), chi.URLParam(r, "id"), rewardRuleFromRequest(req))
	if err != nil {
		writeMappedError(r.Context(), w, "update_reward_rule", err)
		return
	}
	writeSuccess(w, http.StatusOK, rule)
}

func rewardRuleFromRequest(req contracts.RewardRuleRequest) domain.RewardRule {
	rule := domain.RewardRule{
		Name:                  req.Name,
		Active:                req.Active,
		SpendThreshold:        req.SpendThreshold,
		Type:                  domain.RewardType(req.Type),
		Value:                 req.Value,
		FreeMenuItemID:        req.FreeMenuItemID,
		Trigger:               domain.TriggerType(req.Trigger),
		TriggerOrderType:      domain.OrderType(req.TriggerOrderType),
		Probability:           req.Probability,
		MaxRedemptionsPerUser: req.MaxRedemptionsPerUser,
		ValidityDays:          req.ValidityDays,
		LegacyStart:           req.StartDate,
		LegacyEnd:             req.EndDate,
	}
	for _, win := range req.Windows {
		rule.Windows = append(rule.Windows, domain.ValidityWindow{From: win.From, To: win.To})
	}
	return rule
}

func (h *Handler) validateRewardCode(w http.ResponseWriter, r *http.Request) {
	var req contracts.ValidateRewardCodeRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "validate_reward_code", err)
		return
	}
	actor := actorFromRequest(r)
	userID := req.UserID
	if userID == "" {
		userID = actor.SubjectID
	}
	reward, err := h.service.ValidateCodeFor(r.Context(), actor, userID, req.Code)
	if err != nil {
		writeMappedError(r.Context(), w, "validate_reward_code", err)
		return
	}
	writeSuccess(w, http.StatusOK, reward)
}

func (h *Handler) listUserRewards(w http.ResponseWriter, r *http.Request) {
	rewards, err := h.service.ListUserRewards(r.Context(), actorFromRequest(r), chi.URLParam(r, "user_id"))
	if err != nil {
		writeMappedError(r.Context(), w, "list_user_rewards", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"items": rewards})
}
