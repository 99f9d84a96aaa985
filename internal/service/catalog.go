package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/apperr"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/catalog"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/domain"
)

func (s *Service) ListProducts(ctx context.Context, group string) ([]domain.Product, error) {
	brand, ok := catalog.Lookup(group)
	if !ok {
		return nil, apperr.BadRequest("unknown group %q", group)
	}
	products, err := s.repo.ListProducts(ctx, brand.Group)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	live := products[:0]
	for _, p := range products {
		if !p.IsDeleted {
			live = append(live, p)
		}
	}
	return live, nil
}

func (s *Service) GetProduct(ctx context.Context, group string, productID string) (domain.Product, error) {
	brand, ok := catalog.Lookup(group)
	if !ok {
		return domain.Product{}, apperr.BadRequest("unknown group %q", group)
	}
	p, err := s.repo.GetProduct(ctx, brand.Group, productID)
	if err != nil {
		return domain.Product{}, storeErr(err, "product")
	}
	if p.IsDeleted {
		return domain.Product{}, apperr.NotFound("product not found")
	}
	return *p, nil
}

// FacetValues lists the distinct values of one browse facet for a group,
// served from the facet cache when possible.
func (s *Service) FacetValues(ctx context.Context, group string, facet string) ([]string, error) {
	brand, ok := catalog.Lookup(group)
	if !ok {
		return nil, apperr.BadRequest("unknown group %q", group)
	}
	f := catalog.Facet(facet)
	if !brand.Supports(f) {
		return nil, apperr.BadRequest("%s does not support facet %q", brand.Group, facet)
	}

	if values, hit, err := s.facets.Get(ctx, brand.Group, facet); err != nil {
		s.log.Warn("facet cache read failed", zap.String("group", brand.Group), zap.String("facet", facet), zap.Error(err))
	} else if hit {
		return values, nil
	}

	products, err := s.repo.ListProducts(ctx, brand.Group)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	values, err := catalog.FacetValues(brand, products, f)
	if err != nil {
		if errors.Is(err, catalog.ErrFacetNotSupported) {
			return nil, apperr.BadRequest("%s does not support facet %q", brand.Group, facet)
		}
		return nil, apperr.Internal(err)
	}
	if err := s.facets.Set(ctx, brand.Group, facet, values, s.facetTTL); err != nil {
		s.log.Warn("facet cache write failed", zap.String("group", brand.Group), zap.String("facet", facet), zap.Error(err))
	}
	return values, nil
}

func (s *Service) Groups() []string {
	return catalog.Groups()
}
