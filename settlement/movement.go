package settlement

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/grain-ledger/generic"
)

// =============================================================================
// PURCHASES AND SHIPMENTS - stock crossing the warehouse door
// =============================================================================
// Contracts move stock between the company and its farmers. Purchases and
// shipments are the only other way stock enters or leaves:
//
//   purchase:  stock_goods +qty, cash -qty*price    (one transaction)
//   shipment:  stock_own   -qty                     (never below reserved)

// PurchaseInput describes goods bought from a supplier. The good is found by
// normalised name and category, or created.
type PurchaseInput struct {
	ItemName   string
	Category   StockCategory
	QuantityKg decimal.Decimal
	PricePerKg decimal.Decimal
	Currency   generic.Unit
}

// ShipmentInput describes company grain leaving the elevator.
type ShipmentInput struct {
	CultureID   string
	Destination string
	QuantityKg  decimal.Decimal
}

// RecordPurchase adds the goods to the warehouse and pays for them from the
// register.
func (s *Service) RecordPurchase(ctx context.Context, in PurchaseInput) (*Purchase, error) {
	var p Purchase
	var created bool
	err := s.write(ctx, "record_purchase", func(o *op) error {
		p.ID = uuid.NewString()
		if err := o.claim(ctx, "record_purchase", p.ID); err != nil {
			return err
		}
		qty, err := positiveKg("quantity_kg", in.QuantityKg)
		if err != nil {
			return err
		}
		if !in.PricePerKg.IsPositive() {
			return invalid("price_per_kg", "must be positive")
		}
		currency := in.Currency
		if currency == "" {
			currency = o.cfg.BaseCurrency
		}
		if !currency.IsCurrency() {
			return invalid("currency", "unknown currency %q", currency)
		}

		good, isNew, err := o.findOrCreateStockGood(ctx, in.ItemName, in.Category, decimal.Zero)
		if err != nil {
			return err
		}
		created = isNew

		total := generic.RoundMoney(qty.Mul(in.PricePerKg))
		reason := fmt.Sprintf("purchase of %s", good.Name)
		cash, err := o.cashSubtract(ctx, currency, total, reason, p.ID)
		if err != nil {
			return err
		}
		stock, err := o.receiveGood(ctx, good.ID, qty, p.ID, reason)
		if err != nil {
			return err
		}

		p = Purchase{
			ID:          p.ID,
			StockGoodID: good.ID,
			ItemName:    good.Name,
			Category:    good.Category,
			QuantityKg:  qty,
			PricePerKg:  in.PricePerKg,
			Currency:    currency,
			TotalAmount: total,
			StockEntry:  stock.ID,
			CashEntry:   cash.ID,
			CreatedBy:   o.actor,
			CreatedAt:   o.now,
		}
		return o.tx.InsertPurchase(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "purchase recorded",
		"purchase_id", p.ID, "stock_good_id", p.StockGoodID, "new_good", created,
		"quantity_kg", p.QuantityKg, "total", p.TotalAmount, "currency", p.Currency)
	return &p, nil
}

func (s *Service) ListPurchases(ctx context.Context) ([]Purchase, error) {
	return s.repo.ListPurchases(ctx)
}

// RecordShipment sends company grain out. Only own stock that no contract
// has reserved can leave; farmer grain stays until it is paid for.
func (s *Service) RecordShipment(ctx context.Context, in ShipmentInput) (*Shipment, error) {
	var sh Shipment
	var st StockEntry
	err := s.write(ctx, "record_shipment", func(o *op) error {
		sh.ID = uuid.NewString()
		if err := o.claim(ctx, "record_shipment", sh.ID); err != nil {
			return err
		}
		destination := strings.Join(strings.Fields(in.Destination), " ")
		if destination == "" {
			return invalid("destination", "is required")
		}
		qty, err := positiveKg("quantity_kg", in.QuantityKg)
		if err != nil {
			return err
		}
		culture, err := o.tx.GetCulture(ctx, in.CultureID)
		if err != nil {
			return err
		}

		e, err := o.ledger.Withdraw(ctx, generic.Entry{
			Account:     ownStockAccount(culture.ID),
			Delta:       generic.NewAmount(qty.Neg(), generic.UnitKg),
			Type:        generic.EntryDebit,
			ReferenceID: sh.ID,
			Reason:      fmt.Sprintf("shipment of %s to %s", culture.Name, destination),
			CreatedBy:   o.actor,
		})
		if err != nil {
			return err
		}
		if err := o.checkStock(ctx, []generic.Entry{e}); err != nil {
			return err
		}

		sh = Shipment{
			ID:          sh.ID,
			CultureID:   culture.ID,
			Destination: destination,
			QuantityKg:  qty,
			StockEntry:  e.ID,
			CreatedBy:   o.actor,
			CreatedAt:   o.now,
		}
		if err := o.tx.InsertShipment(ctx, sh); err != nil {
			return err
		}
		st, err = o.grainStock(ctx, culture.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "shipment recorded",
		"shipment_id", sh.ID, "culture_id", sh.CultureID, "destination", sh.Destination,
		"quantity_kg", sh.QuantityKg, "own_left_kg", st.OwnQuantityKg)
	return &sh, nil
}

func (s *Service) ListShipments(ctx context.Context) ([]Shipment, error) {
	return s.repo.ListShipments(ctx)
}
