package checkout

import (
	"context"
	"math"
	"strings"

	"github.com/google/uuid"

	"merchant-checkout-api/internal/models"
	"merchant-checkout-api/internal/promo"
	"merchant-checkout-api/internal/validation"
)

// Promocode and catalog management. These operate directly on the database;
// sessions only see promocodes through the validity pipeline.

func (s *Service) ListPromocodes(ctx context.Context) ([]models.Promocode, error) {
	return s.db.ListPromocodes()
}

func (s *Service) GetPromocode(ctx context.Context, id string) (*models.Promocode, error) {
	return s.db.GetPromocodeByID(id)
}

// CreatePromocode validates and stores a new code. The discount type is
// checked here so redemption can rely on it being well-formed.
func (s *Service) CreatePromocode(ctx context.Context, req models.CreatePromocodeRequest) (*models.Promocode, error) {
	if err := validation.ValidateCreatePromocode(req); err != nil {
		return nil, err
	}

	currency := req.Currency
	if currency == "" {
		currency = DefaultCurrency
	}

	now := s.now().UTC()
	p := models.Promocode{
		ID:                "PROMO-" + strings.ToUpper(uuid.New().String()[:8]),
		Code:              promo.NormalizeCode(req.Code),
		Description:       req.Description,
		DiscountType:      req.DiscountType,
		DiscountValue:     req.DiscountValue,
		Currency:          currency,
		MinPurchaseAmount: req.MinPurchaseAmount,
		MaxDiscountAmount: req.MaxDiscountAmount,
		UsageLimit:        req.UsageLimit,
		ValidFrom:         req.ValidFrom,
		ValidUntil:        req.ValidUntil,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.db.CreatePromocode(p); err != nil {
		return nil, err
	}

	return &p, nil
}

// UpdatePromocode applies the non-nil fields of the request to an existing
// code.
func (s *Service) UpdatePromocode(ctx context.Context, id string, req models.UpdatePromocodeRequest) (*models.Promocode, error) {
	p, err := s.db.GetPromocodeByID(id)
	if err != nil {
		return nil, err
	}

	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.DiscountValue != nil {
		if *req.DiscountValue <= 0 {
			return nil, &validation.ValidationError{Field: "discount_value", Message: "must be positive"}
		}
		if p.DiscountType == models.DiscountPercentage && *req.DiscountValue > 100 {
			return nil, &validation.ValidationError{Field: "discount_value", Message: "percentage cannot exceed 100"}
		}
		p.DiscountValue = *req.DiscountValue
	}
	if req.MinPurchaseAmount != nil {
		p.MinPurchaseAmount = req.MinPurchaseAmount
	}
	if req.MaxDiscountAmount != nil {
		p.MaxDiscountAmount = req.MaxDiscountAmount
	}
	if req.UsageLimit != nil {
		p.UsageLimit = req.UsageLimit
	}
	if req.ValidFrom != nil {
		p.ValidFrom = req.ValidFrom
	}
	if req.ValidUntil != nil {
		p.ValidUntil = req.ValidUntil
	}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}
	p.UpdatedAt = s.now().UTC()

	if err := s.db.UpdatePromocode(*p); err != nil {
		return nil, err
	}

	return p, nil
}

func (s *Service) DeletePromocode(ctx context.Context, id string) error {
	return s.db.DeletePromocode(id)
}

func (s *Service) ListProducts(ctx context.Context) ([]models.Product, error) {
	return s.db.ListProducts()
}

func (s *Service) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	return s.db.GetProduct(id)
}

// SearchProducts returns catalog hits with prices in cents.
func (s *Service) SearchProducts(ctx context.Context, query string) (*models.SearchResponse, error) {
	products, err := s.db.SearchProducts(query)
	if err != nil {
		return nil, err
	}

	items := make([]models.SearchItem, len(products))
	for i, p := range products {
		items[i] = models.SearchItem{
			ID:          p.ID,
			Title:       p.Name,
			Price:       int64(math.Round(p.Price * 100)),
			Description: p.Description,
		}
	}

	return &models.SearchResponse{Items: items, Total: len(items)}, nil
}
