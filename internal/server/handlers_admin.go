package server

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/ivanstrassberg/storefront/internal/apperr"
	"github.com/ivanstrassberg/storefront/internal/catalog"
	"github.com/ivanstrassberg/storefront/internal/spreadsheet"
)

// multipart overhead allowed on top of the configured file size
const formSlack = 1 << 20

func (s *APIServer) handleStats(w http.ResponseWriter, r *http.Request) error {
	stats, err := s.Dashboard.Stats(r.Context(), identity(r))
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusOK, stats)
}

func (s *APIServer) handleListAllOrders(w http.ResponseWriter, r *http.Request) error {
	orders, err := s.Orders.ListAllOrders(r.Context(), identity(r))
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusOK, orders)
}

// handleOrderFeed upgrades to a websocket that streams order events. A failed
// upgrade has already been answered by the upgrader.
func (s *APIServer) handleOrderFeed(w http.ResponseWriter, r *http.Request) error {
	if s.Feed == nil {
		return apperr.NotFound("server.orderFeed", "order feed")
	}
	if err := s.Feed.ServeWS(w, r); err != nil {
		s.Logger.DebugContext(r.Context(), "websocket upgrade failed", "error", err)
	}
	return nil
}

func (s *APIServer) handleListAllProducts(w http.ResponseWriter, r *http.Request) error {
	f, err := catalog.ParseProductQuery(r.URL.Query())
	if err != nil {
		return err
	}
	page, err := s.Catalog.ListAllProducts(r.Context(), identity(r), f)
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusOK, page)
}

func (s *APIServer) handleCreateProduct(w http.ResponseWriter, r *http.Request) error {
	var in catalog.ProductInput
	if err := decode(w, r, &in); err != nil {
		return err
	}
	p, err := s.Catalog.CreateProduct(r.Context(), identity(r), in)
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusCreated, p)
}

func (s *APIServer) handleUpdateProduct(w http.ResponseWriter, r *http.Request) error {
	var in catalog.ProductInput
	if err := decode(w, r, &in); err != nil {
		return err
	}
	p, err := s.Catalog.UpdateProduct(r.Context(), identity(r), r.PathValue("id"), in)
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusOK, p)
}

func (s *APIServer) handleDeleteProduct(w http.ResponseWriter, r *http.Request) error {
	if err := s.Catalog.DeleteProduct(r.Context(), identity(r), r.PathValue("id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *APIServer) handleExportProducts(w http.ResponseWriter, r *http.Request) error {
	var buf bytes.Buffer
	if err := s.Catalog.ExportProducts(r.Context(), identity(r), &buf); err != nil {
		return err
	}
	name := "products-" + time.Now().UTC().Format("20060102") + ".xlsx"
	w.Header().Set("Content-Type", spreadsheet.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, err := buf.WriteTo(w)
	return err
}

func (s *APIServer) handleImportProducts(w http.ResponseWriter, r *http.Request) error {
	const op = "server.importProducts"
	file, header, err := s.formFile(w, r, op)
	if err != nil {
		return err
	}
	defer file.Close()
	res, err := s.Catalog.ImportProducts(r.Context(), identity(r), file, header.Size)
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusOK, res)
}

func (s *APIServer) handleCreateCategory(w http.ResponseWriter, r *http.Request) error {
	var in catalog.CategoryInput
	if err := decode(w, r, &in); err != nil {
		return err
	}
	c, err := s.Catalog.CreateCategory(r.Context(), identity(r), in)
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusCreated, c)
}

func (s *APIServer) handleUpdateCategory(w http.ResponseWriter, r *http.Request) error {
	var in catalog.CategoryInput
	if err := decode(w, r, &in); err != nil {
		return err
	}
	c, err := s.Catalog.UpdateCategory(r.Context(), identity(r), r.PathValue("id"), in)
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusOK, c)
}

func (s *APIServer) handleDeleteCategory(w http.ResponseWriter, r *http.Request) error {
	if err := s.Catalog.DeleteCategory(r.Context(), identity(r), r.PathValue("id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *APIServer) handleListInventory(w http.ResponseWriter, r *http.Request) error {
	items, err := s.Inventory.List(r.Context(), identity(r))
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusOK, map[string]any{
		"threshold": s.Inventory.Threshold(),
		"items":     items,
	})
}

func (s *APIServer) handleUpdateStock(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Stock *int `json:"stock"`
	}
	if err := decode(w, r, &req); err != nil {
		return err
	}
	if req.Stock == nil {
		return apperr.Validation("server.updateStock", "stock is required")
	}
	item, err := s.Inventory.UpdateStock(r.Context(), identity(r), r.PathValue("id"), *req.Stock)
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusOK, item)
}

func (s *APIServer) handleUpload(w http.ResponseWriter, r *http.Request) error {
	const op = "server.upload"
	file, header, err := s.formFile(w, r, op)
	if err != nil {
		return err
	}
	defer file.Close()
	url, err := s.Uploads.Save(r.Context(), r.PathValue("kind"), header.Filename, file)
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusCreated, map[string]string{"url": url})
}

// formFile returns the multipart "file" field, bounded by the upload limit.
func (s *APIServer) formFile(w http.ResponseWriter, r *http.Request, op string) (multipart.File, *multipart.FileHeader, error) {
	if limit := s.cfg.Uploads.MaxBytes; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+formSlack)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return nil, nil, apperr.Validation(op, "file is too large")
		case errors.Is(err, http.ErrMissingFile):
			return nil, nil, apperr.Validation(op, "a file field is required")
		default:
			return nil, nil, apperr.Validation(op, "expected a multipart form upload")
		}
	}
	return file, header, nil
}
