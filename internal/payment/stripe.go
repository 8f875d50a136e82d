package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/ivanstrassberg/storefront/internal/config"
)

// StripeGateway uses PaymentIntents. The client confirms the intent with
// Stripe.js; the webhook reports the result.
type StripeGateway struct {
	sc             *client.API
	publishableKey string
	webhookSecret  string
}

// NewStripeGateway builds a gateway from cfg. backends overrides the Stripe
// endpoints and is nil outside tests.
func NewStripeGateway(cfg config.PaymentConfig, backends *stripe.Backends) *StripeGateway {
	sc := &client.API{}
	sc.Init(cfg.SecretKey, backends)
	return &StripeGateway{
		sc:             sc,
		publishableKey: cfg.PublishableKey,
		webhookSecret:  cfg.WebhookSecret,
	}
}

func (g *StripeGateway) Provider() string       { return ProviderStripe }
func (g *StripeGateway) PublishableKey() string { return g.publishableKey }

func (g *StripeGateway) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	amount, err := MinorUnits(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	pi, err := g.sc.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create payment intent: %w", err)
	}
	return &Intent{ID: pi.ID, ClientSecret: pi.ClientSecret, Status: string(pi.Status)}, nil
}

func (g *StripeGateway) CancelIntent(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := g.sc.PaymentIntents.Cancel(intentID, params); err != nil {
		return fmt.Errorf("stripe: cancel payment intent: %w", err)
	}
	return nil
}

// ParseWebhook verifies the Stripe-Signature header and extracts the
// payment intent the event is about.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("stripe: verify webhook: %w", err)
	}
	out := &Event{ID: event.ID, Type: string(event.Type)}
	switch event.Type {
	case "payment_intent.succeeded":
		out.Outcome = OutcomeSucceeded
	case "payment_intent.canceled":
		out.Outcome = OutcomeCanceled
	case "payment_intent.payment_failed":
		out.Outcome = OutcomeFailed
	default:
		return out, nil
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("stripe: decode payment intent: %w", err)
	}
	out.IntentID = pi.ID
	return out, nil
}
