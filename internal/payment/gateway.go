// Package payment talks to the payment provider. Card data never passes
// through this service: the browser hands it to the provider directly and
// only intent references come back.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ivanstrassberg/storefront/internal/config"
)

const (
	ProviderStripe  = "stripe"
	ProviderOffline = "offline"
)

var ErrWebhookUnsupported = errors.New("payment: provider does not send webhooks")

// Outcome is the final state the provider reported for an intent.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeCanceled  Outcome = "canceled"
	OutcomeFailed    Outcome = "failed"
)

type IntentRequest struct {
	Amount   decimal.Decimal
	Currency string
	// IdempotencyKey makes retries of the same checkout return the same intent.
	IdempotencyKey string
	Metadata       map[string]string
}

type Intent struct {
	ID           string
	ClientSecret string
	Status       string
}

// Succeeded reports whether the intent was captured at creation.
func (i *Intent) Succeeded() bool { return i.Status == string(OutcomeSucceeded) }

// Event is a verified provider notification about an intent. Outcome is
// empty for event types the store does not act on.
type Event struct {
	ID       string
	Type     string
	IntentID string
	Outcome  Outcome
}

type Gateway interface {
	Provider() string
	PublishableKey() string
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	CancelIntent(ctx context.Context, intentID string) error
	ParseWebhook(payload []byte, signature string) (*Event, error)
}

// New builds the gateway selected by cfg.Provider.
func New(cfg config.PaymentConfig) (Gateway, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderStripe:
		return NewStripeGateway(cfg, nil), nil
	case "", ProviderOffline:
		return NewOfflineGateway(cfg.Currency), nil
	default:
		return nil, fmt.Errorf("payment: unknown provider %q", cfg.Provider)
	}
}

var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// MinorUnits converts an amount to the smallest unit of the currency, e.g.
// cents for usd.
func MinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("payment: negative amount %s", amount)
	}
	exp := int32(2)
	if zeroDecimal[strings.ToLower(currency)] {
		exp = 0
	}
	scaled := amount.Shift(exp)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("payment: %s has more precision than %s allows", amount, currency)
	}
	return scaled.IntPart(), nil
}
