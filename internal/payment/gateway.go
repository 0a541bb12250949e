// Package payment wraps the external payment gateway behind the capability
// contract the booking flow needs: intents, refunds and webhook
// verification.
package payment

import "context"

type IntentStatus string

const (
	IntentSucceeded IntentStatus = "succeeded"
	IntentPending   IntentStatus = "pending"
	IntentFailed    IntentStatus = "failed"
)

type Intent struct {
	ID           string
	ClientSecret string
	Status       IntentStatus
	AmountCents  int64
}

type Refund struct {
	ID          string
	IntentID    string
	AmountCents int64
	Status      string
}

type WebhookEvent struct {
	ID       string
	Type     string
	IntentID string
}

type Gateway interface {
	// CreateIntent opens a payment for the given amount; metadata travels
	// to the gateway for reconciliation.
	CreateIntent(ctx context.Context, amountCents int64, metadata map[string]string) (*Intent, error)

	// RetrieveIntent reads the settled-or-not state of an intent.
	RetrieveIntent(ctx context.Context, intentID string) (*Intent, error)

	// CreateRefund reverses the charge behind an intent.
	CreateRefund(ctx context.Context, intentID string) (*Refund, error)

	// VerifyWebhook authenticates a delivery against the shared signing
	// secret and decodes it.
	VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error)
}
