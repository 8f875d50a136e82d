// Package content stores admin-editable page content as free-form JSON.
package content

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ivanstrassberg/storefront/internal/apperr"
	"github.com/ivanstrassberg/storefront/internal/auth"
	"github.com/ivanstrassberg/storefront/internal/types"
)

type Store interface {
	GetPageContent(ctx context.Context, page string) (*types.PageContent, error)
	UpsertPageContent(ctx context.Context, pc *types.PageContent) error
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// GetContent returns the stored value for page, or nil when nothing was
// stored yet.
func (s *Service) GetContent(ctx context.Context, page string) (json.RawMessage, error) {
	const op = "content.GetContent"
	pc, err := s.store.GetPageContent(ctx, strings.TrimSpace(page))
	if apperr.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return pc.Content, nil
}

func (s *Service) SetContent(ctx context.Context, id auth.Identity, page string, value json.RawMessage) (*types.PageContent, error) {
	const op = "content.SetContent"
	if !id.Authenticated() {
		return nil, apperr.E(op, apperr.ErrUnauthorized, "login required")
	}
	if !id.IsAdmin() {
		return nil, apperr.E(op, apperr.ErrForbidden, "admin only")
	}
	page = strings.TrimSpace(page)
	if page == "" {
		return nil, apperr.Validation(op, "page is required")
	}
	if len(value) == 0 || !json.Valid(value) {
		return nil, apperr.Validation(op, "content must be valid JSON")
	}
	pc := &types.PageContent{Page: page, Content: value}
	if err := s.store.UpsertPageContent(ctx, pc); err != nil {
		return nil, apperr.Internal(op, err)
	}
	return pc, nil
}
