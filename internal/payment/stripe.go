package payment

import (
	"context"
	"fmt"

	stripe "github.com/stripe/stripe-go"
	"github.com/stripe/stripe-go/client"
	"github.com/stripe/stripe-go/webhook"
)

// StripeGateway implements Gateway on the Stripe API.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, nil)

	return &StripeGateway{
		api:           api,
		webhookSecret: webhookSecret,
	}
}

func (g *StripeGateway) CreateIntent(
	ctx context.Context,
	amountCents int64,
	metadata map[string]string,
) (*Intent, error) {
	const op = "payment.StripeGateway.CreateIntent"

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(string(stripe.CurrencyUSD)),
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       intentStatus(pi.Status),
		AmountCents:  pi.Amount,
	}, nil
}

func (g *StripeGateway) RetrieveIntent(ctx context.Context, intentID string) (*Intent, error) {
	const op = "payment.StripeGateway.RetrieveIntent"

	pi, err := g.api.PaymentIntents.Get(intentID, nil)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       intentStatus(pi.Status),
		AmountCents:  pi.Amount,
	}, nil
}

func (g *StripeGateway) CreateRefund(ctx context.Context, intentID string) (*Refund, error) {
	const op = "payment.StripeGateway.CreateRefund"

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
	}

	r, err := g.api.Refunds.New(params)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &Refund{
		ID:          r.ID,
		IntentID:    intentID,
		AmountCents: r.Amount,
		Status:      string(r.Status),
	}, nil
}

func (g *StripeGateway) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	const op = "payment.StripeGateway.VerifyWebhook"

	event, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	out := &WebhookEvent{
		ID:   event.ID,
		Type: event.Type,
	}
	if id, ok := event.Data.Object["id"].(string); ok {
		out.IntentID = id
	}

	return out, nil
}

func intentStatus(s stripe.PaymentIntentStatus) IntentStatus {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return IntentSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return IntentFailed
	default:
		return IntentPending
	}
}
