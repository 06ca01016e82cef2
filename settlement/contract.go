/*
contract.go - Contract engine

STATE MACHINE:

	reserve:  pending --Activate--> open (type becomes debt, was_reserve)
	          pending --Close/Cancel--> closed/cancelled
	debt:     open --Close--> closed
	          open --Cancel--> cancelled   (no active payments)
	payment:  created closed, settled in the same transaction

	closed and cancelled are terminal. A contract whose balance reaches zero
	stays open until it is closed explicitly.

RESERVATIONS:
  Company grain and purchase items of an open contract hold a reservation
  of (quantity - delivered) kg. Debt contracts reserve at creation, reserve
  contracts at activation. Goods issue consumes the reservation; close,
  cancel and delete release what is left.
*/
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
// INPUT
// =============================================================================

// ItemInput describes one contract line. Exactly one reference is used per
// item type: CultureID for grain and voucher, StockGoodID (or GoodName +
// GoodCategory on reserve contracts) for purchase, none for cash.
type ItemInput struct {
	ItemType     ItemType
	CultureID    string
	StockGoodID  string
	GoodName     string
	GoodCategory StockCategory
	QuantityKg   decimal.Decimal
	// PricePerKg falls back to the culture price or the good's sale price.
	PricePerKg *decimal.Decimal
}

type CreateContractInput struct {
	OwnerID      string
	Type         ContractType
	Currency     generic.Unit // defaults to the base currency
	ExchangeRate decimal.Decimal
	CompanyItems []ItemInput
	FarmerItems  []ItemInput
	Note         string
}

// =============================================================================
// CREATE
// =============================================================================

// CreateContract creates a debt, reserve or payment contract. Payment
// contracts are settled in the same transaction: the farmer's grain is
// debited, paid out from the register and the contract is closed.
func (s *Service) CreateContract(ctx context.Context, in CreateContractInput) (*Contract, error) {
	var c *Contract
	err := s.write(ctx, "create_contract", func(o *op) error {
		var err error
		c, err = o.createContract(ctx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "contract created",
		"contract_id", c.ID, "type", c.Type, "status", c.Status, "owner_id", c.OwnerID,
		"total_value", c.TotalValue, "balance", c.Balance, "items", len(c.Items))
	return c, nil
}

func (o *op) createContract(ctx context.Context, in CreateContractInput) (*Contract, error) {
	if _, err := o.tx.GetFarmer(ctx, in.OwnerID); err != nil {
		return nil, err
	}
	currency := in.Currency
	if currency == "" {
		currency = o.cfg.BaseCurrency
	}
	rate, err := o.rate(currency, in.ExchangeRate)
	if err != nil {
		return nil, err
	}

	c := &Contract{
		ID:           uuid.NewString(),
		OwnerID:      in.OwnerID,
		Type:         in.Type,
		Currency:     currency,
		ExchangeRate: rate,
		Note:         strings.TrimSpace(in.Note),
		CreatedBy:    o.actor,
		CreatedAt:    o.now,
		UpdatedAt:    o.now,
	}

	switch in.Type {
	case ContractDebt:
		err = o.buildDebt(ctx, c, in)
	case ContractReserve:
		err = o.buildReserve(ctx, c, in)
	case ContractTypePayment:
		return o.createPaymentContract(ctx, c, in)
	default:
		return nil, invalid("contract_type", "unknown contract type %q", in.Type)
	}
	if err != nil {
		return nil, err
	}

	if err := o.tx.InsertContract(ctx, *c); err != nil {
		return nil, err
	}
	if c.Status == StatusOpen {
		if err := o.reserveItems(ctx, c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (o *op) buildDebt(ctx context.Context, c *Contract, in CreateContractInput) error {
	if len(in.CompanyItems) == 0 {
		return invalid("company_items", "debt contract needs at least one company item")
	}
	if err := o.addItems(ctx, c, FromCompany, in.CompanyItems, false); err != nil {
		return err
	}
	if err := o.addItems(ctx, c, FromFarmer, in.FarmerItems, false); err != nil {
		return err
	}
	if err := o.checkFarmerItems(ctx, c); err != nil {
		return err
	}
	c.Status = StatusOpen
	c.TotalValue = companyTotal(c.Items)
	c.Balance = c.TotalValue
	return nil
}

func (o *op) buildReserve(ctx context.Context, c *Contract, in CreateContractInput) error {
	if len(in.CompanyItems) == 0 {
		return invalid("company_items", "reserve contract needs at least one company item")
	}
	if err := o.addItems(ctx, c, FromCompany, in.CompanyItems, true); err != nil {
		return err
	}
	if err := o.addItems(ctx, c, FromFarmer, in.FarmerItems, false); err != nil {
		return err
	}
	c.Status = StatusPending
	c.TotalValue = companyTotal(c.Items)
	c.Balance = c.TotalValue
	return nil
}

// createPaymentContract exchanges farmer grain for cash in one step.
func (o *op) createPaymentContract(ctx context.Context, c *Contract, in CreateContractInput) (*Contract, error) {
	if len(in.CompanyItems) > 0 {
		return nil, invalid("company_items", "payment contract takes farmer items only")
	}
	if len(in.FarmerItems) == 0 {
		return nil, invalid("farmer_items", "payment contract needs at least one farmer item")
	}
	for i, it := range in.FarmerItems {
		if it.ItemType != ItemGrain {
			return nil, fmt.Errorf("farmer_items[%d]: %w: payment contracts exchange grain only", i, ErrWrongItemType)
		}
	}
	if err := o.addItems(ctx, c, FromFarmer, in.FarmerItems, false); err != nil {
		return nil, err
	}

	paymentID := uuid.NewString()
	total := decimal.Zero
	var entries []generic.Entry
	for i := range c.Items {
		item := &c.Items[i]
		debit, err := o.debit(ctx, c.OwnerID, item.CultureID, item.QuantityKg, paymentID, "payment contract")
		if err != nil {
			return nil, fmt.Errorf("farmer_items[%d] %s: %w", i, item.ItemName, err)
		}
		moved, err := o.farmerToOwn(ctx, item.CultureID, item.QuantityKg, paymentID, "payment contract")
		if err != nil {
			return nil, fmt.Errorf("farmer_items[%d] %s: %w", i, item.ItemName, err)
		}
		entries = append(entries, debit)
		entries = append(entries, moved...)
		item.DeliveredKg = item.QuantityKg
		total = total.Add(item.TotalValue)
	}

	payout := generic.RoundMoney(total.Div(c.ExchangeRate))
	c.Status = StatusClosed
	c.TotalValue = total
	c.Balance = decimal.Zero
	if err := o.tx.InsertContract(ctx, *c); err != nil {
		return nil, err
	}

	cash, err := o.cashSubtract(ctx, c.Currency, payout, "payment contract payout", paymentID)
	if err != nil {
		return nil, err
	}
	entries = append(entries, cash)

	p := ContractPayment{
		ID:           paymentID,
		ContractID:   c.ID,
		Type:         PaymentSettlement,
		ItemName:     "settlement",
		Amount:       payout,
		AmountBase:   total,
		Currency:     c.Currency,
		ExchangeRate: c.ExchangeRate,
		PaymentDate:  o.now,
		CreatedBy:    o.actor,
		Delta: PaymentDelta{
			BalanceDelta: total.Neg(),
			EntryIDs:     entryIDs(entries...),
		},
	}
	if err := o.tx.InsertPayment(ctx, p); err != nil {
		return nil, err
	}
	return c, nil
}

// addItems resolves references and prices and appends the items to c.
func (o *op) addItems(ctx context.Context, c *Contract, dir Direction, inputs []ItemInput, createGoods bool) error {
	for i, in := range inputs {
		field := fmt.Sprintf("%s_items[%d]", strings.TrimPrefix(string(dir), "from_"), i)
		item, err := o.resolveItem(ctx, field, dir, in, createGoods)
		if err != nil {
			return err
		}
		item.ContractID = c.ID
		c.Items = append(c.Items, item)
	}
	return nil
}

func (o *op) resolveItem(ctx context.Context, field string, dir Direction, in ItemInput, createGoods bool) (ContractItem, error) {
	qty, err := positiveKg(field+".quantity_kg", in.QuantityKg)
	if err != nil {
		return ContractItem{}, err
	}
	if in.PricePerKg != nil && in.PricePerKg.IsNegative() {
		return ContractItem{}, invalid(field+".price_per_kg", "must not be negative")
	}

	item := ContractItem{
		ID:          uuid.NewString(),
		Direction:   dir,
		ItemType:    in.ItemType,
		QuantityKg:  qty,
		DeliveredKg: decimal.Zero,
	}
	var fallback decimal.Decimal

	switch in.ItemType {
	case ItemGrain, ItemVoucher:
		if in.CultureID == "" {
			return ContractItem{}, invalid(field+".culture_id", "is required")
		}
		culture, err := o.tx.GetCulture(ctx, in.CultureID)
		if err != nil {
			return ContractItem{}, err
		}
		if in.ItemType == ItemVoucher {
			if dir != FromCompany {
				return ContractItem{}, fmt.Errorf("%s: %w: vouchers are issued by the company", field, ErrWrongDirection)
			}
			wheat, err := o.wheatCulture(ctx)
			if err != nil {
				return ContractItem{}, err
			}
			if culture.ID != wheat.ID {
				return ContractItem{}, fmt.Errorf("%s: %w: vouchers are denominated in %s", field, ErrWrongItemType, wheat.Name)
			}
		}
		item.CultureID = culture.ID
		item.ItemName = culture.Name
		fallback = culture.PricePerKg

	case ItemPurchase:
		var good *StockGood
		switch {
		case in.StockGoodID != "":
			good, err = o.tx.GetStockGood(ctx, in.StockGoodID)
		case createGoods && in.GoodName != "":
			price := decimal.Zero
			if in.PricePerKg != nil {
				price = *in.PricePerKg
			}
			good, _, err = o.findOrCreateStockGood(ctx, in.GoodName, in.GoodCategory, price)
		default:
			err = invalid(field+".stock_good_id", "is required")
		}
		if err != nil {
			return ContractItem{}, err
		}
		item.StockGoodID = good.ID
		item.ItemName = good.Name
		fallback = good.SalePricePerKg

	case ItemCash:
		item.ItemName = "cash " + string(o.cfg.BaseCurrency)
		fallback = decimal.NewFromInt(1)
		in.PricePerKg = nil

	default:
		return ContractItem{}, invalid(field+".item_type", "unknown item type %q", in.ItemType)
	}

	item.PricePerKg = fallback
	if in.PricePerKg != nil {
		item.PricePerKg = *in.PricePerKg
	}
	item.TotalValue = generic.RoundMoney(item.QuantityKg.Mul(item.PricePerKg))
	return item, nil
}

// checkFarmerItems verifies the farmer holds the grain a debt contract
// expects to receive. Nothing is debited until goods are received.
func (o *op) checkFarmerItems(ctx context.Context, c *Contract) error {
	need := make(map[string]decimal.Decimal)
	for _, it := range c.Items {
		if it.Direction == FromFarmer && it.ItemType == ItemGrain {
			need[it.CultureID] = need[it.CultureID].Add(it.QuantityKg)
		}
	}
	for cultureID, qty := range need {
		have, err := o.farmerBalance(ctx, c.OwnerID, cultureID)
		if err != nil {
			return err
		}
		if qty.GreaterThan(have) {
			return &generic.InsufficientBalanceError{
				Account:   farmerAccount(c.OwnerID, cultureID),
				Available: generic.NewAmount(have, generic.UnitKg),
				Requested: generic.NewAmount(qty, generic.UnitKg),
				Shortfall: generic.NewAmount(qty.Sub(have), generic.UnitKg),
			}
		}
	}
	return nil
}

func companyTotal(items []ContractItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		if it.Direction == FromCompany {
			total = total.Add(it.TotalValue)
		}
	}
	return total
}

func stockRefOf(it ContractItem) (StockRef, bool) {
	if it.Direction != FromCompany {
		return StockRef{}, false
	}
	switch it.ItemType {
	case ItemGrain:
		return StockRef{CultureID: it.CultureID}, true
	case ItemPurchase:
		return StockRef{StockGoodID: it.StockGoodID}, true
	}
	return StockRef{}, false
}

// reserveItems earmarks the remaining quantity of every company stock item.
func (o *op) reserveItems(ctx context.Context, c *Contract) error {
	for _, it := range c.Items {
		ref, ok := stockRefOf(it)
		if !ok {
			continue
		}
		if _, err := o.reserve(ctx, ref, it.Remaining(), c.ID, "contract reservation"); err != nil {
			return fmt.Errorf("reserve %s: %w", it.ItemName, err)
		}
	}
	return nil
}

// releaseItems returns the unconsumed reservation of an open contract.
func (o *op) releaseItems(ctx context.Context, c *Contract, reason string) error {
	if c.Status != StatusOpen {
		return nil
	}
	for _, it := range c.Items {
		ref, ok := stockRefOf(it)
		if !ok || !it.Remaining().IsPositive() {
			continue
		}
		if _, err := o.release(ctx, ref, it.Remaining(), c.ID, reason); err != nil {
			return fmt.Errorf("release %s: %w", it.ItemName, err)
		}
	}
	return nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Activate turns a pending reserve contract into an open debt contract,
// reserving its stock.
func (s *Service) Activate(ctx context.Context, id string) (*Contract, error) {
	return s.transition(ctx, id, "activate", func(o *op, c *Contract) error {
		if c.Type != ContractReserve || c.Status != StatusPending {
			return &InvalidTransitionError{ContractID: c.ID, From: c.Status, Action: "activate"}
		}
		c.Type = ContractDebt
		c.WasReserve = true
		c.Status = StatusOpen
		return o.reserveItems(ctx, c)
	})
}

// Close ends a pending or open contract and releases what it still reserves.
func (s *Service) Close(ctx context.Context, id string) (*Contract, error) {
	return s.transition(ctx, id, "close", func(o *op, c *Contract) error {
		if c.Status != StatusOpen && c.Status != StatusPending {
			return &InvalidTransitionError{ContractID: c.ID, From: c.Status, Action: "close"}
		}
		if err := o.releaseItems(ctx, c, "contract closed"); err != nil {
			return err
		}
		c.Status = StatusClosed
		return nil
	})
}

// Cancel abandons a pending contract, or an open one without active payments.
func (s *Service) Cancel(ctx context.Context, id string) (*Contract, error) {
	return s.transition(ctx, id, "cancel", func(o *op, c *Contract) error {
		if c.Status != StatusOpen && c.Status != StatusPending {
			return &InvalidTransitionError{ContractID: c.ID, From: c.Status, Action: "cancel"}
		}
		active, err := o.activePayments(ctx, c.ID)
		if err != nil {
			return err
		}
		if active > 0 {
			return fmt.Errorf("contract %s has %d active payments: %w", c.ID, active, ErrHasPayments)
		}
		if err := o.releaseItems(ctx, c, "contract cancelled"); err != nil {
			return err
		}
		c.Status = StatusCancelled
		return nil
	})
}

func (s *Service) transition(ctx context.Context, id, action string, fn func(o *op, c *Contract) error) (*Contract, error) {
	var c *Contract
	var from ContractStatus
	err := s.write(ctx, action+"_contract", func(o *op) error {
		var err error
		c, err = o.tx.GetContract(ctx, id)
		if err != nil {
			return err
		}
		from = c.Status
		if err := fn(o, c); err != nil {
			return err
		}
		c.UpdatedAt = o.now
		return o.tx.UpdateContract(ctx, *c)
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "contract "+action, "contract_id", c.ID, "from", from, "to", c.Status, "type", c.Type)
	return c, nil
}

// Delete removes a contract that never had a payment.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.write(ctx, "delete_contract", func(o *op) error {
		c, err := o.tx.GetContract(ctx, id)
		if err != nil {
			return err
		}
		payments, err := o.tx.ListPayments(ctx, id)
		if err != nil {
			return err
		}
		if len(payments) > 0 {
			return fmt.Errorf("contract %s: %w; cancel or close it instead", id, ErrHasPayments)
		}
		if err := o.releaseItems(ctx, c, "contract deleted"); err != nil {
			return err
		}
		return o.tx.DeleteContract(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "contract deleted", "contract_id", id)
	return nil
}

func (o *op) activePayments(ctx context.Context, contractID string) (int, error) {
	payments, err := o.tx.ListPayments(ctx, contractID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range payments {
		if !p.IsCancelled {
			n++
		}
	}
	return n, nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Service) GetContract(ctx context.Context, id string) (*Contract, error) {
	return s.repo.GetContract(ctx, id)
}

func (s *Service) ListContracts(ctx context.Context, filter ContractFilter) ([]Contract, error) {
	return s.repo.ListContracts(ctx, filter)
}

// Payments lists payments of one contract, or of all contracts when
// contractID is empty.
func (s *Service) Payments(ctx context.Context, contractID string) ([]ContractPayment, error) {
	if contractID != "" {
		if _, err := s.repo.GetContract(ctx, contractID); err != nil {
			return nil, err
		}
	}
	return s.repo.ListPayments(ctx, contractID)
}
