package settlement

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// CULTURES
// =============================================================================

// CreateCulture adds a crop type. Names are unique; price must be >= 0.
func (s *Service) CreateCulture(ctx context.Context, name string, pricePerKg decimal.Decimal) (*Culture, error) {
	var c Culture
	err := s.write(ctx, "create_culture", func(o *op) error {
		name = strings.TrimSpace(name)
		if name == "" {
			return invalid("name", "is required")
		}
		if pricePerKg.IsNegative() {
			return invalid("price_per_kg", "must not be negative")
		}
		if _, err := o.tx.GetCultureByName(ctx, name); err == nil {
			return fmt.Errorf("culture %q: %w", name, ErrDuplicateName)
		} else if !IsNotFound(err) {
			return err
		}
		c = Culture{ID: uuid.NewString(), Name: name, PricePerKg: pricePerKg, CreatedAt: o.now}
		return o.tx.InsertCulture(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "culture created", "culture_id", c.ID, "name", c.Name, "price_per_kg", c.PricePerKg)
	return &c, nil
}

// UpdateCulturePrice sets the admin price used when an item or a grain
// payment does not name its own price.
func (s *Service) UpdateCulturePrice(ctx context.Context, id string, pricePerKg decimal.Decimal) (*Culture, error) {
	var c *Culture
	err := s.write(ctx, "update_culture_price", func(o *op) error {
		if pricePerKg.IsNegative() {
			return invalid("price_per_kg", "must not be negative")
		}
		var err error
		c, err = o.tx.GetCulture(ctx, id)
		if err != nil {
			return err
		}
		c.PricePerKg = pricePerKg
		return o.tx.UpdateCulture(ctx, *c)
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "culture price updated", "culture_id", c.ID, "price_per_kg", c.PricePerKg)
	return c, nil
}

func (s *Service) GetCulture(ctx context.Context, id string) (*Culture, error) {
	return s.repo.GetCulture(ctx, id)
}

func (s *Service) ListCultures(ctx context.Context) ([]Culture, error) {
	return s.repo.ListCultures(ctx)
}

// =============================================================================
// FARMERS
// =============================================================================

func (s *Service) CreateFarmer(ctx context.Context, fullName, phone string) (*Farmer, error) {
	var f Farmer
	err := s.write(ctx, "create_farmer", func(o *op) error {
		fullName = strings.TrimSpace(fullName)
		if fullName == "" {
			return invalid("full_name", "is required")
		}
		f = Farmer{ID: uuid.NewString(), FullName: fullName, Phone: strings.TrimSpace(phone), CreatedAt: o.now}
		return o.tx.InsertFarmer(ctx, f)
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "farmer created", "farmer_id", f.ID)
	return &f, nil
}

func (s *Service) GetFarmer(ctx context.Context, id string) (*Farmer, error) {
	return s.repo.GetFarmer(ctx, id)
}

func (s *Service) ListFarmers(ctx context.Context) ([]Farmer, error) {
	return s.repo.ListFarmers(ctx)
}

// =============================================================================
// PURCHASE GOODS
// =============================================================================

// CreateStockGood adds a purchase good. A good with the same normalised
// name in the same category is a duplicate.
func (s *Service) CreateStockGood(ctx context.Context, name string, category StockCategory, salePricePerKg decimal.Decimal) (*StockGood, error) {
	var g *StockGood
	err := s.write(ctx, "create_stock_good", func(o *op) error {
		if salePricePerKg.IsNegative() {
			return invalid("sale_price_per_kg", "must not be negative")
		}
		var created bool
		var err error
		g, created, err = o.findOrCreateStockGood(ctx, name, category, salePricePerKg)
		if err != nil {
			return err
		}
		if !created {
			return fmt.Errorf("stock good %q (%s): %w", g.Name, g.Category, ErrDuplicateName)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "stock good created", "stock_good_id", g.ID, "name", g.Name, "category", g.Category)
	return g, nil
}

func (s *Service) GetStockGood(ctx context.Context, id string) (*StockGood, error) {
	return s.repo.GetStockGood(ctx, id)
}

func (s *Service) ListStockGoods(ctx context.Context) ([]StockGood, error) {
	return s.repo.ListStockGoods(ctx)
}
