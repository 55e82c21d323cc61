package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/ports"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw body.
const SignatureHeader = "X-Paystack-Signature"

type WebhookVerifier struct {
	secret []byte
}

func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	return &WebhookVerifier{secret: []byte(secret)}, nil
}

func (v *WebhookVerifier) Sign(raw []byte) string {
	mac := hmac.New(sha512.New, v.secret)
	mac.Write(raw)
	return hex.EncodeToString(mac.Sum(nil))
}

func (v *WebhookVerifier) ParseWebhook(raw []byte, signature string) (ports.WebhookPayload, error) {
	given, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(given) == 0 {
		return ports.WebhookPayload{}, domain.ErrInvalidSignature
	}
	mac := hmac.New(sha512.New, v.secret)
	mac.Write(raw)
	if !hmac.Equal(mac.Sum(nil), given) {
		return ports.WebhookPayload{}, domain.ErrInvalidSignature
	}
	if !gjson.ValidBytes(raw) {
		return ports.WebhookPayload{}, fmt.Errorf("%w: webhook body is not json", domain.ErrInvalidInput)
	}

	doc := gjson.ParseBytes(raw)
	data := doc.Get("data")
	out := ports.WebhookPayload{
		Event:                doc.Get("event").String(),
		Reference:            strings.TrimSpace(data.Get("reference").String()),
		Status:               statusFor(doc.Get("event").String(), data.Get("status").String()),
		AmountPaid:           domain.FromMinorUnits(data.Get("amount").Int()),
		TransactionReference: transactionID(data),
		Method:               data.Get("channel").String(),
		PaidOn:               parseTime(data.Get("paid_at").String()),
		Raw:                  json.RawMessage(raw),
	}
	if out.Reference == "" {
		return ports.WebhookPayload{}, fmt.Errorf("%w: webhook missing reference", domain.ErrInvalidInput)
	}
	return out, nil
}

// statusFor prefers the transaction status and falls back to the event name.
func statusFor(event, status string) string {
	if status != "" {
		return status
	}
	switch event {
	case "charge.success":
		return "success"
	case "charge.failed":
		return "failed"
	}
	return ""
}
