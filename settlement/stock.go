package settlement

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/grain-ledger/generic"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// =============================================================================
// STOCK - grain by culture, purchase goods, reservations
// =============================================================================
// Grain stock is split into company-owned and farmer-owned kg. Reservations
// always come out of own stock (the company can only promise what it owns):
//
//   quantity  = own + farmer
//   available = own - reserved        (grain)
//   available = quantity - reserved   (goods)
//
// Invariant: reserved never exceeds own (grain) or quantity (goods).

// StockRef names a culture or a purchase good, exactly one of the two.
type StockRef struct {
	CultureID   string
	StockGoodID string
}

func (r StockRef) validate() error {
	if (r.CultureID == "") == (r.StockGoodID == "") {
		return invalid("stock", "exactly one of culture_id or stock_good_id is required")
	}
	return nil
}

// holding is the account stock is reserved against, reserved the earmark account.
func (r StockRef) accounts() (holding, reserved generic.AccountKey) {
	if r.CultureID != "" {
		return ownStockAccount(r.CultureID), grainReservedAccount(r.CultureID)
	}
	return goodsStockAccount(r.StockGoodID), goodsReservedAccount(r.StockGoodID)
}

func (o *op) kg(ctx context.Context, account generic.AccountKey) (decimal.Decimal, error) {
	bal, err := o.ledger.Balance(ctx, account, generic.UnitKg)
	if err != nil {
		return decimal.Zero, err
	}
	return bal.Value, nil
}

func (o *op) grainStock(ctx context.Context, cultureID string) (StockEntry, error) {
	own, err := o.kg(ctx, ownStockAccount(cultureID))
	if err != nil {
		return StockEntry{}, err
	}
	farmer, err := o.kg(ctx, farmerStockAccount(cultureID))
	if err != nil {
		return StockEntry{}, err
	}
	reserved, err := o.kg(ctx, grainReservedAccount(cultureID))
	if err != nil {
		return StockEntry{}, err
	}
	return StockEntry{
		CultureID:        cultureID,
		QuantityKg:       own.Add(farmer),
		OwnQuantityKg:    own,
		FarmerQuantityKg: farmer,
		ReservedKg:       reserved,
	}, nil
}

func (o *op) goodStock(ctx context.Context, goodID string) (StockEntry, error) {
	qty, err := o.kg(ctx, goodsStockAccount(goodID))
	if err != nil {
		return StockEntry{}, err
	}
	reserved, err := o.kg(ctx, goodsReservedAccount(goodID))
	if err != nil {
		return StockEntry{}, err
	}
	return StockEntry{StockGoodID: goodID, QuantityKg: qty, ReservedKg: reserved}, nil
}

func (o *op) stock(ctx context.Context, ref StockRef) (StockEntry, error) {
	if ref.CultureID != "" {
		return o.grainStock(ctx, ref.CultureID)
	}
	return o.goodStock(ctx, ref.StockGoodID)
}

// reserve earmarks qty of available stock.
func (o *op) reserve(ctx context.Context, ref StockRef, qty decimal.Decimal, refID, reason string) (generic.Entry, error) {
	st, err := o.stock(ctx, ref)
	if err != nil {
		return generic.Entry{}, err
	}
	holding, reserved := ref.accounts()
	if available := st.Available(); qty.GreaterThan(available) {
		return generic.Entry{}, &generic.InsufficientBalanceError{
			Account:   holding,
			Available: generic.NewAmount(available, generic.UnitKg),
			Requested: generic.NewAmount(qty, generic.UnitKg),
			Shortfall: generic.NewAmount(qty.Sub(available), generic.UnitKg),
		}
	}
	return o.ledger.Append(ctx, generic.Entry{
		Account:     reserved,
		Delta:       generic.NewAmount(qty, generic.UnitKg),
		Type:        generic.EntryReserve,
		ReferenceID: refID,
		Reason:      reason,
		CreatedBy:   o.actor,
	})
}

// release returns qty of earmarked stock to available.
func (o *op) release(ctx context.Context, ref StockRef, qty decimal.Decimal, refID, reason string) (generic.Entry, error) {
	_, reserved := ref.accounts()
	return o.ledger.Withdraw(ctx, generic.Entry{
		Account:     reserved,
		Delta:       generic.NewAmount(qty.Neg(), generic.UnitKg),
		Type:        generic.EntryRelease,
		ReferenceID: refID,
		Reason:      reason,
		CreatedBy:   o.actor,
	})
}

// issue ships reserved stock out of the warehouse: the holding and its
// earmark both drop by qty.
func (o *op) issue(ctx context.Context, ref StockRef, qty decimal.Decimal, refID, reason string) ([]generic.Entry, error) {
	holding, _ := ref.accounts()
	out, err := o.ledger.Withdraw(ctx, generic.Entry{
		Account:     holding,
		Delta:       generic.NewAmount(qty.Neg(), generic.UnitKg),
		Type:        generic.EntryDebit,
		ReferenceID: refID,
		Reason:      reason,
		CreatedBy:   o.actor,
	})
	if err != nil {
		return nil, err
	}
	rel, err := o.release(ctx, ref, qty, refID, reason)
	if err != nil {
		return nil, err
	}
	return []generic.Entry{out, rel}, nil
}

// receiveGood puts goods taken from a farmer into the warehouse.
func (o *op) receiveGood(ctx context.Context, goodID string, qty decimal.Decimal, refID, reason string) (generic.Entry, error) {
	return o.ledger.Append(ctx, generic.Entry{
		Account:     goodsStockAccount(goodID),
		Delta:       generic.NewAmount(qty, generic.UnitKg),
		Type:        generic.EntryCredit,
		ReferenceID: refID,
		Reason:      reason,
		CreatedBy:   o.actor,
	})
}

// farmerToOwn moves grain the company has paid for from farmer-owned to
// company-owned stock.
func (o *op) farmerToOwn(ctx context.Context, cultureID string, qty decimal.Decimal, refID, reason string) ([]generic.Entry, error) {
	return o.ledger.Transfer(ctx,
		farmerStockAccount(cultureID), ownStockAccount(cultureID),
		generic.NewAmount(qty, generic.UnitKg),
		generic.Entry{Type: generic.EntryTransfer, ReferenceID: refID, Reason: reason, CreatedBy: o.actor},
	)
}

// checkStock verifies the reservation invariant for every stock touched by
// entries.
func (o *op) checkStock(ctx context.Context, entries []generic.Entry) error {
	seen := make(map[StockRef]bool)
	for _, e := range entries {
		var ref StockRef
		switch e.Account.Kind {
		case KindStockOwn, KindStockFarmer:
			ref.CultureID = e.Account.Asset
		case KindStockGoods:
			ref.StockGoodID = e.Account.Asset
		case KindStockReserved:
			if e.Account.Holder == holderCulture {
				ref.CultureID = e.Account.Asset
			} else {
				ref.StockGoodID = e.Account.Asset
			}
		default:
			continue
		}
		if seen[ref] {
			continue
		}
		seen[ref] = true

		st, err := o.stock(ctx, ref)
		if err != nil {
			return err
		}
		if st.Available().IsNegative() {
			holding, _ := ref.accounts()
			held := st.QuantityKg
			if ref.CultureID != "" {
				held = st.OwnQuantityKg
			}
			return &generic.InsufficientBalanceError{
				Account:   holding,
				Available: generic.NewAmount(held, generic.UnitKg),
				Requested: generic.NewAmount(st.ReservedKg, generic.UnitKg),
				Shortfall: generic.NewAmount(st.Available().Neg(), generic.UnitKg),
			}
		}
	}
	return nil
}

func (o *op) requireStockRef(ctx context.Context, ref StockRef) error {
	if err := ref.validate(); err != nil {
		return err
	}
	if ref.CultureID != "" {
		_, err := o.tx.GetCulture(ctx, ref.CultureID)
		return err
	}
	_, err := o.tx.GetStockGood(ctx, ref.StockGoodID)
	return err
}

// =============================================================================
// NAME NORMALISATION
// =============================================================================

var folder = cases.Fold()

// NormalizeName collapses whitespace and case-folds a stock good name so
// "Аміачна  селітра" and "аміачна селітра" are the same good.
func NormalizeName(name string) string {
	collapsed := strings.Join(strings.Fields(name), " ")
	return folder.String(norm.NFC.String(collapsed))
}

func (o *op) findOrCreateStockGood(ctx context.Context, name string, category StockCategory, salePrice decimal.Decimal) (*StockGood, bool, error) {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return nil, false, invalid("name", "is required")
	}
	if !category.Valid() {
		return nil, false, invalid("category", "unknown category %q", category)
	}
	normalized := NormalizeName(name)
	existing, err := o.tx.FindStockGood(ctx, normalized, category)
	if err == nil {
		return existing, false, nil
	}
	if !IsNotFound(err) {
		return nil, false, err
	}

	g := StockGood{
		ID:             uuid.NewString(),
		Name:           name,
		NormalizedName: normalized,
		Category:       category,
		SalePricePerKg: salePrice,
		CreatedAt:      o.now,
	}
	if err := o.tx.InsertStockGood(ctx, g); err != nil {
		return nil, false, err
	}
	return &g, true, nil
}

// =============================================================================
// PUBLIC OPERATIONS
// =============================================================================

// Stock returns the stock position of a culture or purchase good.
func (s *Service) Stock(ctx context.Context, ref StockRef) (*StockEntry, error) {
	o := s.read(ctx)
	if err := o.requireStockRef(ctx, ref); err != nil {
		return nil, err
	}
	st, err := o.stock(ctx, ref)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// ListStock returns every culture followed by every purchase good.
func (s *Service) ListStock(ctx context.Context) ([]StockEntry, error) {
	o := s.read(ctx)
	cultures, err := o.tx.ListCultures(ctx)
	if err != nil {
		return nil, err
	}
	goods, err := o.tx.ListStockGoods(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]StockEntry, 0, len(cultures)+len(goods))
	for _, c := range cultures {
		st, err := o.grainStock(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		st.Name = c.Name
		out = append(out, st)
	}
	for _, g := range goods {
		st, err := o.goodStock(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		st.Name = g.Name
		st.Category = g.Category
		out = append(out, st)
	}
	return out, nil
}

// Reserve earmarks available stock outside any contract.
func (s *Service) Reserve(ctx context.Context, ref StockRef, qtyKg decimal.Decimal, reason string) (*StockEntry, error) {
	return s.mutateStock(ctx, "reserve_stock", ref, func(o *op) error {
		qty, err := positiveKg("quantity_kg", qtyKg)
		if err != nil {
			return err
		}
		_, err = o.reserve(ctx, ref, qty, "", reason)
		return err
	})
}

// Release returns earmarked stock to available.
func (s *Service) Release(ctx context.Context, ref StockRef, qtyKg decimal.Decimal, reason string) (*StockEntry, error) {
	return s.mutateStock(ctx, "release_stock", ref, func(o *op) error {
		qty, err := positiveKg("quantity_kg", qtyKg)
		if err != nil {
			return err
		}
		_, err = o.release(ctx, ref, qty, "", reason)
		return err
	})
}

// AdjustStock applies a manual signed correction. Grain corrections apply
// to own stock. Stock never drops below zero or below what is reserved.
func (s *Service) AdjustStock(ctx context.Context, ref StockRef, deltaKg decimal.Decimal, reason string) (*StockEntry, error) {
	return s.mutateStock(ctx, "adjust_stock", ref, func(o *op) error {
		delta := generic.RoundKg(deltaKg)
		if delta.IsZero() {
			return invalid("delta_kg", "must not be zero")
		}
		if strings.TrimSpace(reason) == "" {
			return invalid("reason", "is required")
		}
		holding, _ := ref.accounts()
		e := generic.Entry{
			Account:   holding,
			Delta:     generic.NewAmount(delta, generic.UnitKg),
			Type:      generic.EntryAdjustment,
			Reason:    reason,
			CreatedBy: o.actor,
		}
		var err error
		if delta.IsNegative() {
			e, err = o.ledger.Withdraw(ctx, e)
		} else {
			e, err = o.ledger.Append(ctx, e)
		}
		if err != nil {
			return err
		}
		return o.checkStock(ctx, []generic.Entry{e})
	})
}

func (s *Service) mutateStock(ctx context.Context, name string, ref StockRef, fn func(o *op) error) (*StockEntry, error) {
	var st StockEntry
	err := s.write(ctx, name, func(o *op) error {
		if err := o.requireStockRef(ctx, ref); err != nil {
			return err
		}
		if err := fn(o); err != nil {
			return err
		}
		var err error
		st, err = o.stock(ctx, ref)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "stock changed", "op", name, "culture_id", ref.CultureID, "stock_good_id", ref.StockGoodID,
		"quantity_kg", st.QuantityKg, "reserved_kg", st.ReservedKg)
	return &st, nil
}

// FindOrCreateStockGood returns the good with the same normalised name and
// category, creating it with zero stock when none exists.
func (s *Service) FindOrCreateStockGood(ctx context.Context, name string, category StockCategory) (*StockGood, error) {
	var good *StockGood
	var created bool
	err := s.write(ctx, "find_or_create_stock_good", func(o *op) error {
		var err error
		good, created, err = o.findOrCreateStockGood(ctx, name, category, decimal.Zero)
		return err
	})
	if err != nil {
		return nil, err
	}
	if created {
		s.logger.InfoContext(ctx, "stock good created", "stock_good_id", good.ID, "name", good.Name, "category", good.Category)
	}
	return good, nil
}
