package payment

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// OfflineGateway settles every intent immediately. It backs development
// setups and tests where no provider account exists.
type OfflineGateway struct {
	currency string
}

func NewOfflineGateway(currency string) *OfflineGateway {
	return &OfflineGateway{currency: strings.ToLower(currency)}
}

func (g *OfflineGateway) Provider() string       { return ProviderOffline }
func (g *OfflineGateway) PublishableKey() string { return "" }

func (g *OfflineGateway) CreateIntent(_ context.Context, req IntentRequest) (*Intent, error) {
	if _, err := MinorUnits(req.Amount, req.Currency); err != nil {
		return nil, err
	}
	return &Intent{ID: "offline_" + uuid.NewString(), Status: string(OutcomeSucceeded)}, nil
}

func (g *OfflineGateway) CancelIntent(context.Context, string) error { return nil }

func (g *OfflineGateway) ParseWebhook([]byte, string) (*Event, error) {
	return nil, ErrWebhookUnsupported
}
