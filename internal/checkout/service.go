// Package checkout turns the caller's cart into a paid-for order.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ivanstrassberg/storefront/internal/apperr"
	"github.com/ivanstrassberg/storefront/internal/auth"
	"github.com/ivanstrassberg/storefront/internal/cart"
	"github.com/ivanstrassberg/storefront/internal/inventory"
	"github.com/ivanstrassberg/storefront/internal/order"
	"github.com/ivanstrassberg/storefront/internal/payment"
	"github.com/ivanstrassberg/storefront/internal/storage"
	"github.com/ivanstrassberg/storefront/internal/types"
)

// Request is the checkout body. Card details are never part of it.
type Request struct {
	ShippingInfo types.ShippingInfo `json:"shipping_info"`
}

// Result carries the order and, for providers that confirm in the browser,
// the client secret of the payment intent.
type Result struct {
	Order          *types.Order `json:"order"`
	Provider       string       `json:"provider"`
	ClientSecret   string       `json:"client_secret,omitempty"`
	PublishableKey string       `json:"publishable_key,omitempty"`
}

type Options struct {
	Currency string
	// DecrementStock takes ordered units out of stock in the order
	// transaction.
	DecrementStock bool
	Logger         *slog.Logger
}

type Service struct {
	store     storage.Storage
	carts     *cart.Service
	orders    *order.Service
	inventory *inventory.Service
	gateway   payment.Gateway
	currency  string
	decrement bool
	logger    *slog.Logger
	tracer    trace.Tracer
}

func NewService(store storage.Storage, carts *cart.Service, orders *order.Service, inv *inventory.Service, gateway payment.Gateway, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	currency := strings.ToLower(opts.Currency)
	if currency == "" {
		currency = "usd"
	}
	return &Service{
		store:     store,
		carts:     carts,
		orders:    orders,
		inventory: inv,
		gateway:   gateway,
		currency:  currency,
		decrement: opts.DecrementStock,
		logger:    logger,
		tracer:    otel.Tracer("github.com/ivanstrassberg/storefront/internal/checkout"),
	}
}

// PlaceOrder prices the cart, opens a payment intent for the total and, in
// one transaction, stores the order, takes the priced lines out of the cart
// and optionally takes the units out of stock. Lines added while the intent
// was being created stay in the cart. The intent is cancelled when the transaction
// fails.
func (s *Service) PlaceOrder(ctx context.Context, id auth.Identity, req Request) (res *Result, err error) {
	const op = "checkout.PlaceOrder"
	ctx, span := s.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("payment.provider", s.gateway.Provider()),
		attribute.Bool("inventory.decrement", s.decrement),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, apperr.Message(err))
		}
		span.End()
	}()

	if !id.Authenticated() {
		return nil, apperr.E(op, apperr.ErrUnauthorized, "login required")
	}
	shipping, err := s.orders.CheckShipping(req.ShippingInfo)
	if err != nil {
		return nil, err
	}
	c, err := s.carts.GetCart(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil || len(c.Items) == 0 {
		return nil, apperr.Validation(op, "cart is empty")
	}
	lines := make([]order.Line, 0, len(c.Items))
	for _, item := range c.Items {
		lines = append(lines, order.Line{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	quote, err := s.orders.Quote(ctx, lines)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("order.total", quote.Total.String()), attribute.Int("order.lines", len(quote.Items)))

	intent, err := s.gateway.CreateIntent(ctx, payment.IntentRequest{
		Amount:         quote.Total,
		Currency:       s.currency,
		IdempotencyKey: uuid.NewString(),
		Metadata:       map[string]string{"user_id": id.UserID, "cart_id": c.ID},
	})
	if err != nil {
		return nil, &apperr.Error{Op: op, Kind: apperr.ErrPayment, Message: "payment could not be started", Err: err}
	}
	snapshot := types.PaymentSnapshot{
		Provider:  s.gateway.Provider(),
		Reference: intent.ID,
		Status:    intent.Status,
		Amount:    quote.Total,
		Currency:  s.currency,
	}

	var (
		placed *types.Order
		orders *order.Service
	)
	err = s.store.WithTx(ctx, func(tx storage.Storage) error {
		if s.decrement {
			if err := s.inventory.WithStore(tx).Decrement(ctx, quote.Items); err != nil {
				return err
			}
		}
		if err := s.carts.WithStore(tx).TakeItems(ctx, id, c.Items); err != nil {
			return err
		}
		orders = s.orders.WithStore(tx)
		o, err := orders.CreateOrder(ctx, id, lines, shipping, snapshot)
		if err != nil {
			return err
		}
		placed = o
		return nil
	})
	if err != nil {
		if cerr := s.gateway.CancelIntent(context.WithoutCancel(ctx), intent.ID); cerr != nil {
			s.logger.Error("cancel payment intent after failed checkout", "intent", intent.ID, "error", cerr)
		}
		return nil, apperr.Internal(op, err)
	}
	span.SetAttributes(attribute.String("order.id", placed.ID))
	orders.Announce()

	if intent.Succeeded() {
		paid, err := s.orders.ApplyPaymentEvent(ctx, intent.ID, order.PaymentSucceeded)
		if err != nil {
			return nil, err
		}
		placed = paid
	}
	return &Result{
		Order:          placed,
		Provider:       s.gateway.Provider(),
		ClientSecret:   intent.ClientSecret,
		PublishableKey: s.gateway.PublishableKey(),
	}, nil
}

// HandleWebhook applies a verified provider event to the order it concerns.
// Events for unknown intents are acknowledged and ignored.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	const op = "checkout.HandleWebhook"
	ev, err := s.gateway.ParseWebhook(payload, signature)
	if errors.Is(err, payment.ErrWebhookUnsupported) {
		return apperr.E(op, apperr.ErrNotFound, "webhooks are not enabled")
	}
	if err != nil {
		return &apperr.Error{Op: op, Kind: apperr.ErrValidation, Message: "invalid webhook payload or signature", Err: err}
	}
	if ev.Outcome == "" {
		return nil
	}
	_, err = s.orders.ApplyPaymentEvent(ctx, ev.IntentID, order.PaymentOutcome(ev.Outcome))
	if apperr.IsNotFound(err) {
		s.logger.Warn("payment event for unknown intent", "event", ev.ID, "intent", ev.IntentID)
		return nil
	}
	return err
}

var cardFields = map[string]bool{
	"card": true, "card_number": true, "cardnumber": true, "number": true, "pan": true,
	"cvv": true, "cvc": true, "cvv2": true, "security_code": true, "securitycode": true,
	"expiry": true, "exp_month": true, "exp_year": true, "expiration": true,
}

// RejectCardData fails with Validation when a request body carries anything
// that looks like raw card data, at any depth.
func RejectCardData(body []byte) error {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return apperr.Validation("checkout.RejectCardData", "request body is not valid JSON")
	}
	if hasCardField(v) {
		return apperr.Validation("checkout.RejectCardData", "card details must be sent to the payment provider, not to the store")
	}
	return nil
}

func hasCardField(v any) bool {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			key := strings.ToLower(strings.ReplaceAll(k, "-", "_"))
			if cardFields[key] || cardFields[strings.ReplaceAll(key, "_", "")] {
				return true
			}
			if hasCardField(child) {
				return true
			}
		}
	case []any:
		for _, child := range t {
			if hasCardField(child) {
				return true
			}
		}
	}
	return false
}
