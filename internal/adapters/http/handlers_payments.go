package http

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/adapters/gateway"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/application"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/contracts"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/ports"
)

func (h *Handler) requestPaymentSession(w http.ResponseWriter, r *http.Request) {
	var req contracts.PaymentSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "request_payment_session", err)
		return
	}
	session, err := h.service.RequestSession(r.Context(), actorOrGuest(r, req.Email), application.PaymentSessionInput{
		OrderID:     req.OrderID,
		TabID:       req.TabID,
		Customer:    ports.CustomerInfo{Email: req.Email, Name: req.Name, Phone: req.Phone},
		CallbackURL: req.CallbackURL,
	})
	if err != nil {
		writeMappedError(r.Context(), w, "request_payment_session", err)
		return
	}
	writeSuccess(w, http.StatusCreated, session)
}

// verifyPayment lets a returning customer confirm a payment. Guests identify themselves with
// the checkout email.
func (h *Handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	actor := actorOrGuest(r, r.URL.Query().Get("email"))
	res, err := h.service.VerifyPayment(r.Context(), actor, chi.URLParam(r, "reference"))
	if err != nil {
		writeMappedError(r.Context(), w, "verify_payment", err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.service.GetPayment(r.Context(), actorFromRequest(r), chi.URLParam(r, "reference"))
	if err != nil {
		writeMappedError(r.Context(), w, "get_payment", err)
		return
	}
	writeSuccess(w, http.StatusOK, payment)
}

func (h *Handler) confirmManualPayment(w http.ResponseWriter, r *http.Request) {
	var req contracts.ManualPaymentRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "confirm_manual_payment", err)
		return
	}
	res, err := h.service.ConfirmManualPayment(r.Context(), actorFromRequest(r), application.ManualPaymentInput{
		OrderID: req.OrderID,
		TabID:   req.TabID,
		Method:  domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.Method))),
		Note:    req.Note,
	})
	if err != nil {
		writeMappedError(r.Context(), w, "confirm_manual_payment", err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

func (h *Handler) refundPayment(w http.ResponseWriter, r *http.Request) {
	var req contracts.RefundRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "refund_payment", err)
		return
	}
	payment, err := h.service.Refund(r.Context(), actorFromRequest(r), chi.URLParam(r, "reference"), req.Amount, req.Reason)
	if err != nil {
		writeMappedError(r.Context(), w, "refund_payment", err)
		return
	}
	writeSuccess(w, http.StatusOK, payment)
}

// gatewayWebhook always acknowledges so the gateway does not retry; failures are logged for
// follow-up.
func (h *Handler) gatewayWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		logHTTPOperationError(r.Context(), "gateway_webhook", http.StatusBadRequest, "VALIDATION_ERROR", "unreadable body", err)
		writeSuccess(w, http.StatusOK, map[string]any{"received": true})
		return
	}
	res, err := h.service.HandleWebhook(r.Context(), raw, r.Header.Get(gateway.SignatureHeader))
	if err != nil {
		status, code, msg := mapDomainError(err)
		logHTTPOperationError(r.Context(), "gateway_webhook", status, code, msg, err)
		writeSuccess(w, http.StatusOK, map[string]any{"received": true})
		return
	}
	httpLogger().InfoContext(r.Context(), "gateway webhook processed",
		"operation", "gateway_webhook",
		"outcome", res.Outcome,
		"reference", res.Payment.Reference,
		"request_id", requestIDFromContext(r.Context()),
	)
	writeSuccess(w, http.StatusOK, map[string]any{"received": true, "outcome": res.Outcome})
}
