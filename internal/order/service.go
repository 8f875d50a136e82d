// Package order turns priced lines into immutable orders and moves them
// through their status lifecycle.
package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ivanstrassberg/storefront/internal/apperr"
	"github.com/ivanstrassberg/storefront/internal/auth"
	"github.com/ivanstrassberg/storefront/internal/storage"
	"github.com/ivanstrassberg/storefront/internal/types"
	"github.com/ivanstrassberg/storefront/internal/validate"
)

// Feed event kinds.
const (
	EventCreated       = "order.created"
	EventStatusChanged = "order.status_changed"
)

type Store interface {
	GetProduct(ctx context.Context, id string) (*types.Product, error)
	CreateOrder(ctx context.Context, o *types.Order) error
	GetOrder(ctx context.Context, id string) (*types.Order, error)
	ListOrders(ctx context.Context, f storage.OrderFilter) ([]types.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, from, to types.OrderStatus) error
	FindOrderByPaymentReference(ctx context.Context, ref string) (*types.Order, error)
}

// Notifier receives order events, e.g. the admin websocket feed.
type Notifier interface {
	Publish(kind string, payload any)
}

type nopNotifier struct{}

func (nopNotifier) Publish(string, any) {}

// Line is a requested purchase. Any price the client sends is ignored.
type Line struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"min=1"`
}

// Quote is a set of lines priced against the catalog.
type Quote struct {
	Items []types.OrderItem
	Total decimal.Decimal
}

type Options struct {
	StrictTransitions bool
	Notifier          Notifier
}

type Service struct {
	store    Store
	strict   bool
	notifier Notifier
	validate *validator.Validate
	created  metric.Int64Counter
	now      func() time.Time
	// held collects events of a transaction-bound copy until Announce.
	held *[]func()
}

func NewService(store Store, opts Options) *Service {
	notifier := opts.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	meter := otel.Meter("github.com/ivanstrassberg/storefront/internal/order")
	created, _ := meter.Int64Counter("storefront.orders.created",
		metric.WithDescription("Orders placed"))
	return &Service{
		store:    store,
		strict:   opts.StrictTransitions,
		notifier: notifier,
		validate: validate.New(),
		created:  created,
		now:      time.Now,
	}
}

// WithStore returns a copy bound to store, typically a transaction. The copy
// holds back its events and metrics until Announce is called on it, so call
// Announce only once the transaction has committed.
func (s *Service) WithStore(store Store) *Service {
	cp := *s
	cp.store = store
	cp.held = &[]func(){}
	return &cp
}

// Announce emits what a transaction-bound copy held back.
func (s *Service) Announce() {
	if s.held == nil {
		return
	}
	for _, fn := range *s.held {
		fn()
	}
	*s.held = nil
}

func (s *Service) emit(fn func()) {
	if s.held != nil {
		*s.held = append(*s.held, fn)
		return
	}
	fn()
}

// Quote merges duplicate lines and prices them from the catalog.
func (s *Service) Quote(ctx context.Context, lines []Line) (*Quote, error) {
	const op = "order.Quote"
	if len(lines) == 0 {
		return nil, apperr.Validation(op, "order has no items")
	}
	merged := map[string]int{}
	var ids []string
	for _, l := range lines {
		if err := s.validate.Struct(l); err != nil {
			return nil, apperr.Validation(op, "every line needs a product and a quantity of at least 1")
		}
		if _, seen := merged[l.ProductID]; !seen {
			ids = append(ids, l.ProductID)
		}
		merged[l.ProductID] += l.Quantity
	}

	q := &Quote{Total: decimal.Zero}
	for _, id := range ids {
		p, err := s.store.GetProduct(ctx, id)
		if err != nil {
			return nil, apperr.Internal(op, err)
		}
		if p.Status != types.ProductActive {
			return nil, apperr.Validation(op, "%s is not available", p.Name)
		}
		item := types.OrderItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    merged[id],
			Price:       p.Price,
		}
		q.Items = append(q.Items, item)
		q.Total = q.Total.Add(item.Subtotal())
	}
	return q, nil
}

// CreateOrder prices the lines from the catalog and stores the order with
// status PROCESSING. A non-zero payment amount must equal the computed total.
func (s *Service) CreateOrder(ctx context.Context, id auth.Identity, lines []Line, shipping types.ShippingInfo, payment types.PaymentSnapshot) (*types.Order, error) {
	const op = "order.CreateOrder"
	if !id.Authenticated() {
		return nil, apperr.E(op, apperr.ErrUnauthorized, "login required")
	}
	shipping, err := s.CheckShipping(shipping)
	if err != nil {
		return nil, err
	}
	quote, err := s.Quote(ctx, lines)
	if err != nil {
		return nil, err
	}
	if !payment.Amount.IsZero() && !payment.Amount.Equal(quote.Total) {
		return nil, apperr.E(op, apperr.ErrConflict, "prices changed, please review your cart")
	}
	payment.Amount = quote.Total

	now := s.now().UTC()
	o := &types.Order{
		ID:           types.NewID(),
		Reference:    now.Format("20060102150405") + "-" + uuid.NewString(),
		UserID:       id.UserID,
		Total:        quote.Total,
		Status:       types.OrderProcessing,
		ShippingInfo: shipping,
		Payment:      payment,
		Items:        quote.Items,
	}
	if err := s.store.CreateOrder(ctx, o); err != nil {
		return nil, apperr.Internal(op, err)
	}
	s.emit(func() {
		s.created.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attribute.String("payment.provider", payment.Provider)))
		s.notifier.Publish(EventCreated, o)
	})
	return o, nil
}

// CheckShipping trims the address and reports missing or oversized fields.
func (s *Service) CheckShipping(si types.ShippingInfo) (types.ShippingInfo, error) {
	si = trimShipping(si)
	if err := s.validate.Struct(si); err != nil {
		return si, apperr.Validation("order.CheckShipping", "shipping information is incomplete: %s", validate.Fields(err))
	}
	return si, nil
}

func (s *Service) GetOrder(ctx context.Context, id auth.Identity, orderID string) (*types.Order, error) {
	const op = "order.GetOrder"
	if !id.Authenticated() {
		return nil, apperr.E(op, apperr.ErrUnauthorized, "login required")
	}
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if !id.Owns(o.UserID) && !id.IsAdmin() {
		return nil, apperr.E(op, apperr.ErrForbidden, "not your order")
	}
	return o, nil
}

func (s *Service) ListOrdersForUser(ctx context.Context, id auth.Identity) ([]types.Order, error) {
	const op = "order.ListOrdersForUser"
	if !id.Authenticated() {
		return nil, apperr.E(op, apperr.ErrUnauthorized, "login required")
	}
	orders, err := s.store.ListOrders(ctx, storage.OrderFilter{UserID: id.UserID})
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return orders, nil
}

func (s *Service) ListAllOrders(ctx context.Context, id auth.Identity) ([]types.Order, error) {
	const op = "order.ListAllOrders"
	if !id.Authenticated() {
		return nil, apperr.E(op, apperr.ErrUnauthorized, "login required")
	}
	if !id.IsAdmin() {
		return nil, apperr.E(op, apperr.ErrForbidden, "admin only")
	}
	orders, err := s.store.ListOrders(ctx, storage.OrderFilter{})
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return orders, nil
}

func (s *Service) UpdateOrderStatus(ctx context.Context, id auth.Identity, orderID string, status types.OrderStatus) (*types.Order, error) {
	const op = "order.UpdateOrderStatus"
	if !id.Authenticated() {
		return nil, apperr.E(op, apperr.ErrUnauthorized, "login required")
	}
	status = types.OrderStatus(strings.ToUpper(strings.TrimSpace(string(status))))
	if !ValidStatus(status) {
		return nil, apperr.Validation(op, "unknown order status %q", status)
	}
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if !id.Owns(o.UserID) && !id.IsAdmin() {
		return nil, apperr.E(op, apperr.ErrForbidden, "not your order")
	}
	// PAID comes from the payment provider, the rest from staff.
	if !id.IsAdmin() && status != types.OrderCancelled && status != types.OrderDelivered {
		return nil, apperr.E(op, apperr.ErrForbidden, "customers may only cancel an order or confirm its delivery")
	}
	return s.transition(ctx, op, o, status, s.strict)
}

// PaymentOutcome is what the payment provider reported for an order.
type PaymentOutcome string

const (
	PaymentSucceeded PaymentOutcome = "succeeded"
	PaymentCanceled  PaymentOutcome = "canceled"
	PaymentFailed    PaymentOutcome = "failed"
)

// ApplyPaymentEvent moves the order paid with ref according to the outcome.
// Replayed or out-of-date events leave the order as it is.
func (s *Service) ApplyPaymentEvent(ctx context.Context, ref string, outcome PaymentOutcome) (*types.Order, error) {
	const op = "order.ApplyPaymentEvent"
	o, err := s.store.FindOrderByPaymentReference(ctx, ref)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	var target types.OrderStatus
	switch outcome {
	case PaymentSucceeded:
		target = types.OrderPaid
	case PaymentCanceled:
		target = types.OrderCancelled
	case PaymentFailed:
		// the customer may retry with the same intent
		return o, nil
	default:
		return nil, apperr.Validation(op, "unknown payment outcome %q", outcome)
	}
	if !CanTransition(o.Status, target, true) {
		return o, nil
	}
	return s.transition(ctx, op, o, target, true)
}

func (s *Service) transition(ctx context.Context, op string, o *types.Order, to types.OrderStatus, strict bool) (*types.Order, error) {
	if !CanTransition(o.Status, to, strict) {
		return nil, apperr.E(op, apperr.ErrInvalidTransition, "cannot move order from %s to %s", o.Status, to)
	}
	from := o.Status
	if err := s.store.UpdateOrderStatus(ctx, o.ID, from, to); err != nil {
		return nil, apperr.Internal(op, err)
	}
	updated, err := s.store.GetOrder(ctx, o.ID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	s.emit(func() {
		s.notifier.Publish(EventStatusChanged, map[string]any{
			"order_id":  updated.ID,
			"reference": updated.Reference,
			"from":      from,
			"to":        updated.Status,
		})
	})
	return updated, nil
}

func trimShipping(si types.ShippingInfo) types.ShippingInfo {
	si.FirstName = strings.TrimSpace(si.FirstName)
	si.LastName = strings.TrimSpace(si.LastName)
	si.Address = strings.TrimSpace(si.Address)
	si.City = strings.TrimSpace(si.City)
	si.PostalCode = strings.TrimSpace(si.PostalCode)
	return si
}
