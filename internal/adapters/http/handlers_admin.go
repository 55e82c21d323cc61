package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/adapters/notify"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/contracts"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
)

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeHealth(w, "ok")
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			logHTTPOperationError(r.Context(), "readyz", http.StatusServiceUnavailable, "NOT_READY", "dependency unavailable", err)
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", "dependency unavailable")
			return
		}
	}
	writeHealth(w, "ready")
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	if actor := actorFromRequest(r); actor.SubjectID == "" {
		writeMappedError(r.Context(), w, "get_settings", domain.ErrUnauthorized)
		return
	}
	key := domain.SettingsKey(chi.URLParam(r, "key"))
	value, err := h.service.GetSettings(r.Context(), key)
	if err != nil {
		writeMappedError(r.Context(), w, "get_settings", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"key": key, "value": value})
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req contracts.UpdateSettingsRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "update_settings", err)
		return
	}
	key := domain.SettingsKey(chi.URLParam(r, "key"))
	value, err := h.service.UpdateSettings(r.Context(), actorFromRequest(r), key, req.Value)
	if err != nil {
		writeMappedError(r.Context(), w, "update_settings", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"key": key, "value": value})
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := h.service.ListAudit(r.Context(), actorFromRequest(r),
		strings.TrimSpace(q.Get("resource")),
		strings.TrimSpace(q.Get("resource_id")),
		pageFromQuery(q, 50).Limit,
	)
	if err != nil {
		writeMappedError(r.Context(), w, "list_audit", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"items": entries})
}

// subscribe streams status updates for one order, or the staff feed for staff callers.
func (h *Handler) subscribe(w http.ResponseWriter, r *http.Request) {
	if h.subs == nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "UNAVAILABLE", "live updates are disabled")
		return
	}
	q := r.URL.Query()
	actor := actorOrGuest(r, q.Get("email"))
	var channels []string
	if staff, _ := strconv.ParseBool(q.Get("staff")); staff {
		if !actor.IsStaff() {
			writeMappedError(r.Context(), w, "subscribe", domain.ErrForbidden)
			return
		}
		channels = append(channels, notify.StaffChannel)
	}
	if orderID := strings.TrimSpace(q.Get("order_id")); orderID != "" {
		if _, err := h.service.GetOrder(r.Context(), actor, orderID); err != nil {
			writeMappedError(r.Context(), w, "subscribe", err)
			return
		}
		channels = append(channels, notify.OrderChannel(orderID))
	}
	if len(channels) == 0 {
		writeValidationError(r.Context(), w, "subscribe", errors.New("order_id or staff=true is required"))
		return
	}
	h.subs.ServeWS(w, r, channels)
}
