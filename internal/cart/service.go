// Package cart keeps one cart per user and its line items.
package cart

import (
	"context"

	"github.com/ivanstrassberg/storefront/internal/apperr"
	"github.com/ivanstrassberg/storefront/internal/auth"
	"github.com/ivanstrassberg/storefront/internal/types"
)

type Store interface {
	GetProduct(ctx context.Context, id string) (*types.Product, error)
	GetOrCreateCart(ctx context.Context, userID string) (*types.Cart, error)
	GetCartItem(ctx context.Context, itemID string) (*types.CartItem, error)
	AddCartItem(ctx context.Context, cartID, productID string, qty int) error
	SetCartItemQuantity(ctx context.Context, itemID string, qty int) error
	DeleteCartItem(ctx context.Context, itemID string) error
	ClearCart(ctx context.Context, cartID string) error
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// WithStore returns a copy bound to store, typically a transaction.
func (s *Service) WithStore(store Store) *Service {
	return &Service{store: store}
}

// GetCart returns the caller's cart, creating it on first use. Anonymous
// callers get nil.
func (s *Service) GetCart(ctx context.Context, id auth.Identity) (*types.Cart, error) {
	if !id.Authenticated() {
		return nil, nil
	}
	cart, err := s.store.GetOrCreateCart(ctx, id.UserID)
	if err != nil {
		return nil, apperr.Internal("cart.GetCart", err)
	}
	return cart, nil
}

func (s *Service) AddItem(ctx context.Context, id auth.Identity, productID string, qty int) (*types.Cart, error) {
	const op = "cart.AddItem"
	if !id.Authenticated() {
		return nil, apperr.E(op, apperr.ErrUnauthorized, "login required")
	}
	if qty < 1 {
		return nil, apperr.Validation(op, "quantity must be at least 1")
	}
	product, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if product.Status != types.ProductActive {
		return nil, apperr.Validation(op, "%s is not available", product.Name)
	}
	cart, err := s.store.GetOrCreateCart(ctx, id.UserID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if err := s.store.AddCartItem(ctx, cart.ID, product.ID, qty); err != nil {
		return nil, apperr.Internal(op, err)
	}
	return s.refresh(ctx, op, id)
}

// UpdateItemQuantity sets the line quantity; zero or less removes the line.
func (s *Service) UpdateItemQuantity(ctx context.Context, id auth.Identity, itemID string, qty int) (*types.Cart, error) {
	const op = "cart.UpdateItemQuantity"
	item, err := s.ownedItem(ctx, op, id, itemID)
	if err != nil {
		return nil, err
	}
	if qty <= 0 {
		err = s.store.DeleteCartItem(ctx, item.ID)
	} else {
		err = s.store.SetCartItemQuantity(ctx, item.ID, qty)
	}
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return s.refresh(ctx, op, id)
}

func (s *Service) RemoveItem(ctx context.Context, id auth.Identity, itemID string) (*types.Cart, error) {
	const op = "cart.RemoveItem"
	item, err := s.ownedItem(ctx, op, id, itemID)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteCartItem(ctx, item.ID); err != nil {
		return nil, apperr.Internal(op, err)
	}
	return s.refresh(ctx, op, id)
}

func (s *Service) ClearCart(ctx context.Context, id auth.Identity) error {
	const op = "cart.ClearCart"
	if !id.Authenticated() {
		return apperr.E(op, apperr.ErrUnauthorized, "login required")
	}
	cart, err := s.store.GetOrCreateCart(ctx, id.UserID)
	if err != nil {
		return apperr.Internal(op, err)
	}
	return apperr.Internal(op, s.store.ClearCart(ctx, cart.ID))
}

// TakeItems removes the quoted lines from the caller's cart. Quantity added
// to a line since it was quoted stays behind, as do lines added since. A line
// that disappeared or shrank means the cart changed under the caller.
func (s *Service) TakeItems(ctx context.Context, id auth.Identity, quoted []types.CartItem) error {
	const op = "cart.TakeItems"
	if !id.Authenticated() {
		return apperr.E(op, apperr.ErrUnauthorized, "login required")
	}
	for _, q := range quoted {
		item, err := s.store.GetCartItem(ctx, q.ID)
		if apperr.IsNotFound(err) {
			return apperr.E(op, apperr.ErrConflict, "cart changed during checkout")
		}
		if err != nil {
			return apperr.Internal(op, err)
		}
		switch {
		case item.Quantity < q.Quantity:
			return apperr.E(op, apperr.ErrConflict, "cart changed during checkout")
		case item.Quantity > q.Quantity:
			err = s.store.SetCartItemQuantity(ctx, item.ID, item.Quantity-q.Quantity)
		default:
			err = s.store.DeleteCartItem(ctx, item.ID)
		}
		if err != nil {
			return apperr.Internal(op, err)
		}
	}
	return nil
}

// ownedItem loads the item and checks it sits in the caller's cart. Items in
// other carts are reported as missing.
func (s *Service) ownedItem(ctx context.Context, op string, id auth.Identity, itemID string) (*types.CartItem, error) {
	if !id.Authenticated() {
		return nil, apperr.E(op, apperr.ErrUnauthorized, "login required")
	}
	cart, err := s.store.GetOrCreateCart(ctx, id.UserID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	item, err := s.store.GetCartItem(ctx, itemID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if item.CartID != cart.ID {
		return nil, apperr.NotFound(op, "cart item")
	}
	return item, nil
}

func (s *Service) refresh(ctx context.Context, op string, id auth.Identity) (*types.Cart, error) {
	cart, err := s.store.GetOrCreateCart(ctx, id.UserID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return cart, nil
}
