package settlement

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/grain-ledger/generic"
)

// =============================================================================
// ACCOUNT MODEL - farmer grain balances
// =============================================================================
// A farmer's balance for a culture is the kg the elevator holds on their
// behalf and has not yet paid for. Intake confirmation credits it; every
// settlement that consumes farmer grain debits it. It never goes negative.

func (o *op) credit(ctx context.Context, farmerID, cultureID string, qty decimal.Decimal, ref, reason string) (generic.Entry, error) {
	return o.ledger.Append(ctx, generic.Entry{
		Account:     farmerAccount(farmerID, cultureID),
		Delta:       generic.NewAmount(qty, generic.UnitKg),
		Type:        generic.EntryCredit,
		ReferenceID: ref,
		Reason:      reason,
		CreatedBy:   o.actor,
	})
}

func (o *op) debit(ctx context.Context, farmerID, cultureID string, qty decimal.Decimal, ref, reason string) (generic.Entry, error) {
	return o.ledger.Withdraw(ctx, generic.Entry{
		Account:     farmerAccount(farmerID, cultureID),
		Delta:       generic.NewAmount(qty.Neg(), generic.UnitKg),
		Type:        generic.EntryDebit,
		ReferenceID: ref,
		Reason:      reason,
		CreatedBy:   o.actor,
	})
}

func (o *op) farmerBalance(ctx context.Context, farmerID, cultureID string) (decimal.Decimal, error) {
	bal, err := o.ledger.Balance(ctx, farmerAccount(farmerID, cultureID), generic.UnitKg)
	if err != nil {
		return decimal.Zero, err
	}
	return bal.Value, nil
}

func (o *op) holdings(ctx context.Context, farmerID string) ([]GrainHolding, error) {
	entries, err := o.tx.LoadByHolder(ctx, KindFarmerGrain, farmerID)
	if err != nil {
		return nil, err
	}
	sums := make(map[string]decimal.Decimal)
	for _, e := range entries {
		sums[e.Account.Asset] = sums[e.Account.Asset].Add(e.Delta.Value)
	}

	holdings := make([]GrainHolding, 0, len(sums))
	for cultureID, qty := range sums {
		if !qty.IsPositive() {
			continue
		}
		h := GrainHolding{CultureID: cultureID, QuantityKg: qty}
		if c, err := o.tx.GetCulture(ctx, cultureID); err == nil {
			h.CultureName = c.Name
		}
		holdings = append(holdings, h)
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].CultureName < holdings[j].CultureName })
	return holdings, nil
}

func (o *op) requireFarmerCulture(ctx context.Context, farmerID, cultureID string) error {
	if _, err := o.tx.GetFarmer(ctx, farmerID); err != nil {
		return err
	}
	_, err := o.tx.GetCulture(ctx, cultureID)
	return err
}

// Credit adds confirmed grain to a farmer's balance.
func (s *Service) Credit(ctx context.Context, farmerID, cultureID string, qtyKg decimal.Decimal) (generic.Entry, error) {
	var entry generic.Entry
	err := s.write(ctx, "credit", func(o *op) error {
		qty, err := positiveKg("quantity_kg", qtyKg)
		if err != nil {
			return err
		}
		if err := o.requireFarmerCulture(ctx, farmerID, cultureID); err != nil {
			return err
		}
		entry, err = o.credit(ctx, farmerID, cultureID, qty, "", "manual credit")
		return err
	})
	if err != nil {
		return generic.Entry{}, err
	}
	s.logger.InfoContext(ctx, "farmer credited", "farmer_id", farmerID, "culture_id", cultureID, "kg", entry.Delta.Value)
	return entry, nil
}

// Debit removes grain from a farmer's balance. It fails with
// ErrInsufficientBalance and writes nothing when the balance is short.
func (s *Service) Debit(ctx context.Context, farmerID, cultureID string, qtyKg decimal.Decimal) (generic.Entry, error) {
	var entry generic.Entry
	err := s.write(ctx, "debit", func(o *op) error {
		qty, err := positiveKg("quantity_kg", qtyKg)
		if err != nil {
			return err
		}
		if err := o.requireFarmerCulture(ctx, farmerID, cultureID); err != nil {
			return err
		}
		entry, err = o.debit(ctx, farmerID, cultureID, qty, "", "manual debit")
		return err
	})
	if err != nil {
		return generic.Entry{}, err
	}
	s.logger.InfoContext(ctx, "farmer debited", "farmer_id", farmerID, "culture_id", cultureID, "kg", entry.Delta.Value)
	return entry, nil
}

// Balance lists the cultures a farmer holds a positive balance of.
func (s *Service) Balance(ctx context.Context, farmerID string) ([]GrainHolding, error) {
	o := s.read(ctx)
	if _, err := o.tx.GetFarmer(ctx, farmerID); err != nil {
		return nil, err
	}
	return o.holdings(ctx, farmerID)
}

// Statement returns the farmer's entries for one culture with running balance.
func (s *Service) Statement(ctx context.Context, farmerID, cultureID string) ([]generic.StatementLine, error) {
	o := s.read(ctx)
	if err := o.requireFarmerCulture(ctx, farmerID, cultureID); err != nil {
		return nil, err
	}
	entries, err := o.ledger.Entries(ctx, farmerAccount(farmerID, cultureID))
	if err != nil {
		return nil, err
	}
	return generic.Statement(entries, generic.UnitKg), nil
}
