package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ivanstrassberg/storefront/internal/apperr"
	"github.com/ivanstrassberg/storefront/internal/catalog"
	"github.com/ivanstrassberg/storefront/internal/checkout"
	"github.com/ivanstrassberg/storefront/internal/types"
)

// Stripe keeps webhook payloads well below this.
const maxWebhookBytes = 64 << 10

func (s *APIServer) handleListCategories(w http.ResponseWriter, r *http.Request) error {
	cats, err := s.Catalog.ListCategories(r.Context())
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusOK, cats)
}

func (s *APIServer) handleGetCategory(w http.ResponseWriter, r *http.Request) error {
	c, err := s.Catalog.GetCategory(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusOK, c)
}

func (s *APIServer) handleListProducts(w http.ResponseWriter, r *http.Request) error {
	f, err := catalog.ParseProductQuery(r.URL.Query())
	if err != nil {
		return err
	}
	page, err := s.Catalog.ListProducts(r.Context(), f)
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusOK, page)
}

func (s *APIServer) handleGetProduct(w http.ResponseWriter, r *http.Request) error {
	p, err := s.Catalog.GetProduct(r.Context(), identity(r), r.PathValue("id"))
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusOK, p)
}

func (s *APIServer) handleGetContent(w http.ResponseWriter, r *http.Request) error {
	v, err := s.Content.GetContent(r.Context(), r.PathValue("page"))
	if err != nil {
		return err
	}
	if v == nil {
		return WriteJSON(w, http.StatusOK, json.RawMessage("null"))
	}
	return WriteJSON(w, http.StatusOK, v)
}

func (s *APIServer) handleSetContent(w http.ResponseWriter, r *http.Request) error {
	var v json.RawMessage
	if err := decode(w, r, &v); err != nil {
		return err
	}
	pc, err := s.Content.SetContent(r.Context(), identity(r), r.PathValue("page"), v)
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusOK, pc)
}

type cartItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (s *APIServer) handleGetCart(w http.ResponseWriter, r *http.Request) error {
	c, err := s.Carts.GetCart(r.Context(), identity(r))
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusOK, c)
}

func (s *APIServer) handleAddCartItem(w http.ResponseWriter, r *http.Request) error {
	var req cartItemRequest
	if err := decode(w, r, &req); err != nil {
		return err
	}
	c, err := s.Carts.AddItem(r.Context(), identity(r), req.ProductID, req.Quantity)
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusOK, c)
}

func (s *APIServer) handleUpdateCartItem(w http.ResponseWriter, r *http.Request) error {
	var req cartItemRequest
	if err := decode(w, r, &req); err != nil {
		return err
	}
	c, err := s.Carts.UpdateItemQuantity(r.Context(), identity(r), r.PathValue("id"), req.Quantity)
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusOK, c)
}

func (s *APIServer) handleRemoveCartItem(w http.ResponseWriter, r *http.Request) error {
	c, err := s.Carts.RemoveItem(r.Context(), identity(r), r.PathValue("id"))
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusOK, c)
}

func (s *APIServer) handleClearCart(w http.ResponseWriter, r *http.Request) error {
	if err := s.Carts.ClearCart(r.Context(), identity(r)); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// handleCheckout places an order from the caller's cart. The body is checked
// for card data before it is decoded.
func (s *APIServer) handleCheckout(w http.ResponseWriter, r *http.Request) error {
	body, err := readBody(w, r, maxBodyBytes)
	if err != nil {
		return err
	}
	if err := checkout.RejectCardData(body); err != nil {
		return err
	}
	var req checkout.Request
	if err := json.Unmarshal(body, &req); err != nil {
		return apperr.Validation("server.checkout", "malformed JSON body")
	}
	res, err := s.Checkout.PlaceOrder(r.Context(), identity(r), req)
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusCreated, res)
}

func (s *APIServer) handleListOrders(w http.ResponseWriter, r *http.Request) error {
	orders, err := s.Orders.ListOrdersForUser(r.Context(), identity(r))
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusOK, orders)
}

func (s *APIServer) handleGetOrder(w http.ResponseWriter, r *http.Request) error {
	o, err := s.Orders.GetOrder(r.Context(), identity(r), r.PathValue("id"))
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusOK, o)
}

func (s *APIServer) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Status types.OrderStatus `json:"status"`
	}
	if err := decode(w, r, &req); err != nil {
		return err
	}
	o, err := s.Orders.UpdateOrderStatus(r.Context(), identity(r), r.PathValue("id"), req.Status)
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusOK, o)
}

func (s *APIServer) handlePaymentConfig(w http.ResponseWriter, r *http.Request) error {
	return WriteJSON(w, http.StatusOK, map[string]string{
		"publishable_key": s.Payments.PublishableKey(),
		"provider":        s.Payments.Provider(),
		"currency":        s.cfg.Payment.Currency,
	})
}

func (s *APIServer) handleWebhook(w http.ResponseWriter, r *http.Request) error {
	body, err := readBody(w, r, maxWebhookBytes)
	if err != nil {
		return err
	}
	if err := s.Checkout.HandleWebhook(r.Context(), body, r.Header.Get("Stripe-Signature")); err != nil {
		return err
	}
	return WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, apperr.Validation("server.readBody", "request body is too large")
		}
		return nil, apperr.Internal("server.readBody", err)
	}
	return body, nil
}
