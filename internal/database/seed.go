package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"merchant-checkout-api/internal/models"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

// Seed populates demo promocodes and catalog products. Existing promocodes
// are left alone; products are upserted so price edits take effect.
func (db *DB) Seed() error {
	now := time.Now().UTC()

	promocodes := []models.Promocode{
		{
			Code:          "SAVE10",
			Description:   "10% off your order",
			DiscountType:  models.DiscountPercentage,
			DiscountValue: 10,
			Currency:      "SGD",
			IsActive:      true,
		},
		{
			Code:              "WELCOME5",
			Description:       "$5 off for new customers",
			DiscountType:      models.DiscountFixedAmount,
			DiscountValue:     5,
			Currency:          "SGD",
			MinPurchaseAmount: floatPtr(20),
			UsageLimit:        intPtr(100),
			IsActive:          true,
		},
		{
			Code:              "FLASH20",
			Description:       "Flash sale: 20% off, up to $10",
			DiscountType:      models.DiscountPercentage,
			DiscountValue:     20,
			Currency:          "SGD",
			MinPurchaseAmount: floatPtr(25),
			MaxDiscountAmount: floatPtr(10),
			UsageLimit:        intPtr(50),
			IsActive:          true,
		},
		{
			Code:          "TESTFAIL",
			Description:   "Inactive code for integration testing",
			DiscountType:  models.DiscountPercentage,
			DiscountValue: 15,
			Currency:      "SGD",
			IsActive:      false,
		},
	}

	for _, p := range promocodes {
		if _, err := db.GetPromocodeByCode(p.Code); err == nil {
			continue
		}
		p.ID = "PROMO-" + strings.ToUpper(uuid.New().String()[:8])
		p.CreatedAt = now
		p.UpdatedAt = now
		if err := db.CreatePromocode(p); err != nil {
			return fmt.Errorf("failed to seed promocode %s: %w", p.Code, err)
		}
	}

	products := []models.Product{
		{ID: "prod-001", SKU: "PEN-GEL-01", Name: "Gel Pen", Description: "Smooth 0.5mm gel ink pen", Price: 4.99, Category: "stationery", Brand: "Scribe"},
		{ID: "prod-002", SKU: "NBK-A5-01", Name: "A5 Notebook", Description: "Dotted A5 notebook, 120 pages", Price: 3.79, Category: "stationery", Brand: "Scribe"},
		{ID: "prod-003", SKU: "MUG-CER-01", Name: "Ceramic Mug", Description: "340ml ceramic mug", Price: 12.50, Category: "kitchen", Brand: "Hearth"},
		{ID: "prod-004", SKU: "BAG-TOT-01", Name: "Canvas Tote", Description: "Heavy-duty canvas tote bag", Price: 18.00, Category: "accessories", Brand: "Carry"},
		{ID: "prod-005", SKU: "HDP-BT-01", Name: "Wireless Headphones", Description: "Over-ear Bluetooth headphones", Price: 149.99, Category: "electronics", Brand: "Aural"},
		{ID: "prod-006", SKU: "SPK-BT-01", Name: "Portable Speaker", Description: "Water-resistant Bluetooth speaker", Price: 59.99, Category: "electronics", Brand: "Aural"},
	}

	for _, p := range products {
		p.Currency = "SGD"
		p.IsActive = true
		p.CreatedAt = now
		p.UpdatedAt = now
		if err := db.UpsertProduct(p); err != nil {
			return fmt.Errorf("failed to seed product %s: %w", p.SKU, err)
		}
	}

	return nil
}
