package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/application"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/contracts"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/ports"
)

func (h *Handler) openTab(w http.ResponseWriter, r *http.Request) {
	var req contracts.OpenTabRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "open_tab", err)
		return
	}
	tab, err := h.service.OpenTab(r.Context(), actorFromRequest(r), req.TableNumber, req.OwnerID)
	if err != nil {
		writeMappedError(r.Context(), w, "open_tab", err)
		return
	}
	writeSuccess(w, http.StatusCreated, tab)
}

func (h *Handler) getTab(w http.ResponseWriter, r *http.Request) {
	tab, err := h.service.GetTab(r.Context(), actorFromRequest(r), chi.URLParam(r, "id"))
	if err != nil {
		writeMappedError(r.Context(), w, "get_tab", err)
		return
	}
	writeSuccess(w, http.StatusOK, tab)
}

func (h *Handler) listOpenTabs(w http.ResponseWriter, r *http.Request) {
	tabs, err := h.service.ListOpenTabs(r.Context(), actorFromRequest(r))
	if err != nil {
		writeMappedError(r.Context(), w, "list_open_tabs", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"items": tabs})
}

func (h *Handler) attachOrder(w http.ResponseWriter, r *http.Request) {
	var req contracts.AttachOrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "attach_order", err)
		return
	}
	tab, err := h.service.AttachOrder(r.Context(), actorFromRequest(r), chi.URLParam(r, "id"), req.OrderID)
	if err != nil {
		writeMappedError(r.Context(), w, "attach_order", err)
		return
	}
	writeSuccess(w, http.StatusOK, tab)
}

func (h *Handler) recomputeTab(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "id")
	// Reading first applies the caller's access check.
	if _, err := h.service.GetTab(r.Context(), actorFromRequest(r), tabID); err != nil {
		writeMappedError(r.Context(), w, "recompute_tab", err)
		return
	}
	tab, err := h.service.RecomputeTotals(r.Context(), tabID)
	if err != nil {
		writeMappedError(r.Context(), w, "recompute_tab", err)
		return
	}
	writeSuccess(w, http.StatusOK, tab)
}

func (h *Handler) settleTab(w http.ResponseWriter, r *http.Request) {
	var req contracts.SettleTabRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "settle_tab", err)
		return
	}
	res, err := h.service.SettleTab(r.Context(), actorFromRequest(r), chi.URLParam(r, "id"), application.SettleTabInput{
		Customer:    ports.CustomerInfo{Email: req.Email, Name: req.Name, Phone: req.Phone},
		CallbackURL: req.CallbackURL,
	})
	if err != nil {
		writeMappedError(r.Context(), w, "settle_tab", err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

func (h *Handler) manualSettleTab(w http.ResponseWriter, r *http.Request) {
	var req contracts.ManualSettleRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "manual_settle_tab", err)
		return
	}
	tab, err := h.service.ManualSettle(r.Context(), actorFromRequest(r), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeMappedError(r.Context(), w, "manual_settle_tab", err)
		return
	}
	writeSuccess(w, http.StatusOK, tab)
}
