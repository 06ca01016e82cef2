/*
payment.go - Settlement processor

PURPOSE:
  Posts payments against an open contract and cancels them again.

PAYMENT TYPES (PaymentRequest):
  GoodsIssue    company item handed to the farmer         stock out, reservation consumed
  GoodsReceive  farmer item taken by the company          farmer grain debited, stock farmer->own
  VoucherIssue  wheat voucher issued to the bakery        Voucher record, no stock effect
  CashPayment   money paid out of the register            cash subtract in payment currency
  GrainPayment  farmer grain taken at the culture price   farmer grain debited, stock farmer->own

  Every type lowers contract.balance by its base-currency value and is
  rejected when that value exceeds the balance.

REVERSIBILITY:
  A payment stores its PaymentDelta: the item and balance change and the
  ids of every ledger entry it wrote. CancelPayment reverses those entries
  newest first and applies the negated item/balance change, all in one
  transaction. Nothing else is touched.
*/
package settlement

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/grain-ledger/generic"
)

// =============================================================================
// REQUESTS
// =============================================================================

// PaymentRequest is one of GoodsIssue, GoodsReceive, VoucherIssue,
// CashPayment or GrainPayment.
type PaymentRequest interface {
	PaymentType() PaymentType
}

type GoodsIssue struct {
	ItemID     string
	QuantityKg decimal.Decimal
}

type GoodsReceive struct {
	ItemID     string
	QuantityKg decimal.Decimal
}

type VoucherIssue struct {
	ItemID     string
	QuantityKg decimal.Decimal
}

type CashPayment struct {
	Amount       decimal.Decimal
	Currency     generic.Unit
	ExchangeRate decimal.Decimal
}

type GrainPayment struct {
	CultureID  string
	QuantityKg decimal.Decimal
}

func (GoodsIssue) PaymentType() PaymentType   { return PaymentGoodsIssue }
func (GoodsReceive) PaymentType() PaymentType { return PaymentGoodsReceive }
func (VoucherIssue) PaymentType() PaymentType { return PaymentVoucher }
func (CashPayment) PaymentType() PaymentType  { return PaymentCash }
func (GrainPayment) PaymentType() PaymentType { return PaymentGrain }

// =============================================================================
// POST
// =============================================================================

// PostPayment settles part of an open contract.
func (s *Service) PostPayment(ctx context.Context, contractID string, req PaymentRequest) (*ContractPayment, error) {
	var p *ContractPayment
	var balance decimal.Decimal
	err := s.write(ctx, "post_payment", func(o *op) error {
		paymentID := uuid.NewString()
		if err := o.claim(ctx, "post_payment", paymentID); err != nil {
			return err
		}
		c, err := o.tx.GetContract(ctx, contractID)
		if err != nil {
			return err
		}
		if c.Status != StatusOpen {
			return &InvalidTransitionError{ContractID: c.ID, From: c.Status, Action: "post payment"}
		}

		pp := &ContractPayment{
			ID:           paymentID,
			ContractID:   c.ID,
			Currency:     o.cfg.BaseCurrency,
			ExchangeRate: decimal.NewFromInt(1),
			PaymentDate:  o.now,
			CreatedBy:    o.actor,
		}
		switch r := req.(type) {
		case GoodsIssue:
			err = o.postGoods(ctx, c, pp, PaymentGoodsIssue, r.ItemID, r.QuantityKg)
		case GoodsReceive:
			err = o.postGoods(ctx, c, pp, PaymentGoodsReceive, r.ItemID, r.QuantityKg)
		case VoucherIssue:
			err = o.postVoucher(ctx, c, pp, r)
		case CashPayment:
			err = o.postCash(ctx, c, pp, r)
		case GrainPayment:
			err = o.postGrain(ctx, c, pp, r)
		default:
			err = invalid("payment_type", "unsupported payment request %T", req)
		}
		if err != nil {
			return err
		}

		c.Balance = c.Balance.Add(pp.Delta.BalanceDelta)
		c.UpdatedAt = o.now
		if err := o.tx.UpdateContract(ctx, *c); err != nil {
			return err
		}
		if err := o.tx.InsertPayment(ctx, *pp); err != nil {
			return err
		}
		p, balance = pp, c.Balance
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "payment posted",
		"payment_id", p.ID, "contract_id", p.ContractID, "type", p.Type,
		"quantity_kg", p.QuantityKg, "amount", p.Amount, "currency", p.Currency,
		"amount_base", p.AmountBase, "balance", balance)
	return p, nil
}

// settle checks the base value against the contract balance and records it.
func settle(c *Contract, p *ContractPayment, amountBase decimal.Decimal) error {
	amountBase = generic.RoundMoney(amountBase)
	if amountBase.GreaterThan(c.Balance) {
		return &ExceedsError{Sentinel: ErrAmountExceedsBalance, Outstanding: c.Balance, Requested: amountBase}
	}
	p.AmountBase = amountBase
	p.Delta.BalanceDelta = amountBase.Neg()
	return nil
}

// deliveryValue prices qty kg on top of what the item has already delivered.
// The value is the rounded worth of the item after this delivery minus what
// its active payments already charged, so the slices of a fully delivered
// item add up to exactly item.TotalValue.
func (o *op) deliveryValue(ctx context.Context, c *Contract, item *ContractItem, qty decimal.Decimal) (decimal.Decimal, error) {
	payments, err := o.tx.ListPayments(ctx, c.ID)
	if err != nil {
		return decimal.Zero, err
	}
	charged := decimal.Zero
	for _, p := range payments {
		if p.ContractItemID == item.ID && !p.IsCancelled {
			charged = charged.Add(p.AmountBase)
		}
	}
	after := generic.RoundMoney(item.DeliveredKg.Add(qty).Mul(item.PricePerKg))
	return decimal.Max(decimal.Zero, after.Sub(charged)), nil
}

// deliver checks qty against the item's remaining quantity and records it.
func deliver(item *ContractItem, p *ContractPayment, qty decimal.Decimal) error {
	if qty.GreaterThan(item.Remaining()) {
		return &RemainingError{ItemID: item.ID, Remaining: item.Remaining(), Requested: qty}
	}
	item.DeliveredKg = item.DeliveredKg.Add(qty)
	p.ContractItemID = item.ID
	p.ItemName = item.ItemName
	p.CultureID = item.CultureID
	p.QuantityKg = qty
	p.Delta.ItemID = item.ID
	p.Delta.DeliveredKg = qty
	return nil
}

func (o *op) postGoods(ctx context.Context, c *Contract, p *ContractPayment, kind PaymentType, itemID string, quantity decimal.Decimal) error {
	p.Type = kind
	qty, err := positiveKg("quantity_kg", quantity)
	if err != nil {
		return err
	}
	item, ok := c.Item(itemID)
	if !ok {
		return fmt.Errorf("%s: %w", itemID, ErrItemNotFound)
	}
	want := FromCompany
	if kind == PaymentGoodsReceive {
		want = FromFarmer
	}
	if item.Direction != want {
		return fmt.Errorf("%w: %s needs a %s item, %s is %s", ErrWrongDirection, kind, want, item.ItemName, item.Direction)
	}
	if item.ItemType == ItemVoucher {
		return fmt.Errorf("%w: voucher items are settled with voucher payments", ErrWrongItemType)
	}
	value, err := o.deliveryValue(ctx, c, item, qty)
	if err != nil {
		return err
	}
	if err := deliver(item, p, qty); err != nil {
		return err
	}
	if err := settle(c, p, value); err != nil {
		return err
	}
	p.Amount = p.AmountBase

	reason := fmt.Sprintf("%s on contract %s", kind, c.ID)
	var entries []generic.Entry
	switch {
	case kind == PaymentGoodsIssue && item.ItemType == ItemCash:
		e, err := o.cashSubtract(ctx, o.cfg.BaseCurrency, qty, reason, p.ID)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	case kind == PaymentGoodsIssue:
		ref, _ := stockRefOf(*item)
		out, err := o.issue(ctx, ref, qty, p.ID, reason)
		if err != nil {
			return err
		}
		entries = append(entries, out...)
	case item.ItemType == ItemGrain:
		debit, err := o.debit(ctx, c.OwnerID, item.CultureID, qty, p.ID, reason)
		if err != nil {
			return err
		}
		moved, err := o.farmerToOwn(ctx, item.CultureID, qty, p.ID, reason)
		if err != nil {
			return err
		}
		entries = append(entries, debit)
		entries = append(entries, moved...)
	case item.ItemType == ItemPurchase:
		e, err := o.receiveGood(ctx, item.StockGoodID, qty, p.ID, reason)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	case item.ItemType == ItemCash:
		e, err := o.cashAdd(ctx, o.cfg.BaseCurrency, qty, reason, p.ID)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}
	p.Delta.EntryIDs = entryIDs(entries...)
	return o.tx.UpdateContractItem(ctx, *item)
}

func (o *op) postVoucher(ctx context.Context, c *Contract, p *ContractPayment, r VoucherIssue) error {
	p.Type = PaymentVoucher
	qty, err := positiveKg("quantity_kg", r.QuantityKg)
	if err != nil {
		return err
	}
	item, ok := c.Item(r.ItemID)
	if !ok {
		return fmt.Errorf("%s: %w", r.ItemID, ErrItemNotFound)
	}
	if item.ItemType != ItemVoucher {
		return fmt.Errorf("%w: %s is a %s item", ErrWrongItemType, item.ItemName, item.ItemType)
	}
	if item.Direction != FromCompany {
		return fmt.Errorf("%w: vouchers are issued from company items", ErrWrongDirection)
	}
	value, err := o.deliveryValue(ctx, c, item, qty)
	if err != nil {
		return err
	}
	if err := deliver(item, p, qty); err != nil {
		return err
	}
	if err := settle(c, p, value); err != nil {
		return err
	}
	p.Amount = p.AmountBase

	v := Voucher{
		ID:             uuid.NewString(),
		ContractID:     c.ID,
		ContractItemID: item.ID,
		PaymentID:      p.ID,
		OwnerID:        c.OwnerID,
		CultureID:      item.CultureID,
		QuantityKg:     qty,
		PricePerKg:     item.PricePerKg,
		TotalValue:     p.AmountBase,
		CreatedAt:      o.now,
	}
	if err := o.tx.InsertVoucher(ctx, v); err != nil {
		return err
	}
	p.Delta.VoucherID = v.ID
	return o.tx.UpdateContractItem(ctx, *item)
}

func (o *op) postCash(ctx context.Context, c *Contract, p *ContractPayment, r CashPayment) error {
	p.Type = PaymentCash
	amount, err := positiveMoney("amount", r.Amount)
	if err != nil {
		return err
	}
	currency := r.Currency
	if currency == "" {
		currency = o.cfg.BaseCurrency
	}
	rate, err := o.rate(currency, r.ExchangeRate)
	if err != nil {
		return err
	}
	if err := settle(c, p, amount.Mul(rate)); err != nil {
		return err
	}
	p.ItemName = "cash " + string(currency)
	p.Amount = amount
	p.Currency = currency
	p.ExchangeRate = rate

	e, err := o.cashSubtract(ctx, currency, amount, fmt.Sprintf("cash payment on contract %s", c.ID), p.ID)
	if err != nil {
		return err
	}
	p.Delta.EntryIDs = entryIDs(e)
	return nil
}

func (o *op) postGrain(ctx context.Context, c *Contract, p *ContractPayment, r GrainPayment) error {
	p.Type = PaymentGrain
	qty, err := positiveKg("quantity_kg", r.QuantityKg)
	if err != nil {
		return err
	}
	culture, err := o.tx.GetCulture(ctx, r.CultureID)
	if err != nil {
		return err
	}

	reason := fmt.Sprintf("grain payment on contract %s", c.ID)
	debit, err := o.debit(ctx, c.OwnerID, culture.ID, qty, p.ID, reason)
	if err != nil {
		return err
	}
	if err := settle(c, p, qty.Mul(culture.PricePerKg)); err != nil {
		return err
	}
	moved, err := o.farmerToOwn(ctx, culture.ID, qty, p.ID, reason)
	if err != nil {
		return err
	}

	p.CultureID = culture.ID
	p.ItemName = culture.Name
	p.QuantityKg = qty
	p.Amount = p.AmountBase
	p.Delta.EntryIDs = entryIDs(append([]generic.Entry{debit}, moved...)...)
	return nil
}

// =============================================================================
// CANCEL
// =============================================================================

// CancelPayment reverses exactly what PostPayment applied.
func (s *Service) CancelPayment(ctx context.Context, paymentID string) (*ContractPayment, error) {
	var p *ContractPayment
	var balance decimal.Decimal
	err := s.write(ctx, "cancel_payment", func(o *op) error {
		var err error
		p, err = o.tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.IsCancelled {
			return fmt.Errorf("payment %s: %w", p.ID, ErrAlreadyCancelled)
		}
		if p.Type == PaymentSettlement {
			return fmt.Errorf("payment %s: %w", p.ID, ErrSettlementNotCancellable)
		}
		c, err := o.tx.GetContract(ctx, p.ContractID)
		if err != nil {
			return err
		}
		if c.Status != StatusOpen {
			return &InvalidTransitionError{ContractID: c.ID, From: c.Status, Action: "cancel payment"}
		}

		if p.Delta.VoucherID != "" {
			if err := o.cancelVoucher(ctx, p.Delta.VoucherID); err != nil {
				return err
			}
		}
		if _, err := o.reverse(ctx, p.Delta.EntryIDs, fmt.Sprintf("cancel payment %s", p.ID)); err != nil {
			return err
		}
		if p.Delta.ItemID != "" {
			item, ok := c.Item(p.Delta.ItemID)
			if !ok {
				return fmt.Errorf("%s: %w", p.Delta.ItemID, ErrItemNotFound)
			}
			item.DeliveredKg = item.DeliveredKg.Sub(p.Delta.DeliveredKg)
			if err := o.tx.UpdateContractItem(ctx, *item); err != nil {
				return err
			}
		}

		c.Balance = c.Balance.Sub(p.Delta.BalanceDelta)
		c.UpdatedAt = o.now
		if err := o.tx.UpdateContract(ctx, *c); err != nil {
			return err
		}

		cancelledAt := o.now
		p.IsCancelled = true
		p.CancelledAt = &cancelledAt
		balance = c.Balance
		return o.tx.UpdatePayment(ctx, *p)
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "payment cancelled",
		"payment_id", p.ID, "contract_id", p.ContractID, "type", p.Type,
		"amount_base", p.AmountBase, "balance", balance)
	return p, nil
}

// GetPayment returns one payment.
func (s *Service) GetPayment(ctx context.Context, id string) (*ContractPayment, error) {
	return s.repo.GetPayment(ctx, id)
}
