package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/application"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/contracts"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
)

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req contracts.CreateOrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "create_order", err)
		return
	}
	actor := actorFromRequest(r)
	if strings.TrimSpace(req.UserID) == "" {
		actor = actorOrGuest(r, req.GuestEmail)
	}

	res, err := h.service.CreateOrder(r.Context(), actor, createOrderInput(req))
	if err != nil {
		writeMappedError(r.Context(), w, "create_order", err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeSuccess(w, status, res)
}

func createOrderInput(req contracts.CreateOrderRequest) application.CreateOrderInput {
	items := make([]domain.LineItem, 0, len(req.Items))
	for _, it := range req.Items {
		line := domain.LineItem{
			MenuItemID: it.MenuItemID,
			Name:       it.Name,
			UnitPrice:  it.UnitPrice,
			Quantity:   it.Quantity,
		}
		for _, c := range it.Customizations {
			line.Customizations = append(line.Customizations, domain.Customization{Name: c.Name, Option: c.Option, Price: c.Price})
		}
		items = append(items, line)
	}
	return application.CreateOrderInput{
		IdempotencyKey: req.IdempotencyKey,
		Customer: domain.Customer{
			UserID:     strings.TrimSpace(req.UserID),
			GuestName:  req.GuestName,
			GuestEmail: req.GuestEmail,
			GuestPhone: req.GuestPhone,
		},
		Type:          domain.OrderType(req.OrderType),
		TabID:         req.TabID,
		Items:         items,
		Tip:           req.Tip,
		PointsToUse:   req.PointsToUse,
		PointsItemIDs: req.PointsItemIDs,
		RewardCodes:   req.RewardCodes,
	}
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetOrder(r.Context(), actorFromRequest(r), chi.URLParam(r, "id"))
	if err != nil {
		writeMappedError(r.Context(), w, "get_order", err)
		return
	}
	writeSuccess(w, http.StatusOK, order)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := pageFromQuery(q, 20)
	list, err := h.service.ListOrders(r.Context(), actorFromRequest(r), strings.TrimSpace(q.Get("owner_id")), page.Limit, page.Offset)
	if err != nil {
		writeMappedError(r.Context(), w, "list_orders", err)
		return
	}
	writePage(w, list.Items, page, list.Total)
}

func (h *Handler) transitionOrder(w http.ResponseWriter, r *http.Request) {
	var req contracts.TransitionOrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "transition_order", err)
		return
	}
	order, err := h.service.TransitionOrder(r.Context(), actorFromRequest(r), chi.URLParam(r, "id"), domain.OrderStatus(req.Status), req.Note)
	if err != nil {
		writeMappedError(r.Context(), w, "transition_order", err)
		return
	}
	writeSuccess(w, http.StatusOK, order)
}

func (h *Handler) batchTransition(w http.ResponseWriter, r *http.Request) {
	var req contracts.BatchTransitionRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "batch_transition", err)
		return
	}
	results, err := h.service.BatchTransition(r.Context(), actorFromRequest(r), req.OrderIDs, domain.OrderStatus(req.Status), req.Note)
	if err != nil {
		writeMappedError(r.Context(), w, "batch_transition", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"results": results})
}
