package settlement

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/grain-ledger/generic"
)

// =============================================================================
// VOUCHER SUB-LEDGER
// =============================================================================
// Vouchers and voucher payments form one pool: the bakery owes the sum of
// its active vouchers and pays that debt down without naming a voucher.
//
//   remaining = sum(active voucher totals) - sum(active payment amount_base)
//
// Invariant: remaining >= 0 after every committed operation.

// VoucherPaymentInput is cash received from the bakery.
type VoucherPaymentInput struct {
	Currency     generic.Unit
	Amount       decimal.Decimal
	ExchangeRate decimal.Decimal
	Description  string
}

type voucherPool struct {
	vouchers []Voucher
	payments []VoucherPayment
	debt     decimal.Decimal
	paid     decimal.Decimal
	kg       decimal.Decimal
}

func (p voucherPool) remaining() decimal.Decimal {
	return p.debt.Sub(p.paid)
}

// pool loads the active vouchers (oldest first) and active payments.
func (o *op) pool(ctx context.Context) (voucherPool, error) {
	var p voucherPool
	vouchers, err := o.tx.ListVouchers(ctx)
	if err != nil {
		return p, err
	}
	payments, err := o.tx.ListVoucherPayments(ctx)
	if err != nil {
		return p, err
	}
	for _, v := range vouchers {
		if v.IsCancelled {
			continue
		}
		p.vouchers = append(p.vouchers, v)
		p.debt = p.debt.Add(v.TotalValue)
		p.kg = p.kg.Add(v.QuantityKg)
	}
	for _, vp := range payments {
		if vp.IsCancelled {
			continue
		}
		p.payments = append(p.payments, vp)
		p.paid = p.paid.Add(vp.AmountBase)
	}
	return p, nil
}

// cancelVoucher withdraws a voucher from the pool. The pool may not end up
// paid beyond its debt.
func (o *op) cancelVoucher(ctx context.Context, id string) error {
	v, err := o.tx.GetVoucher(ctx, id)
	if err != nil {
		return err
	}
	if v.IsCancelled {
		return fmt.Errorf("voucher %s: %w", v.ID, ErrAlreadyCancelled)
	}
	p, err := o.pool(ctx)
	if err != nil {
		return err
	}
	if remaining := p.remaining(); remaining.Sub(v.TotalValue).IsNegative() {
		return &ExceedsError{Sentinel: ErrOverpaymentRejected, Outstanding: remaining, Requested: v.TotalValue}
	}
	v.IsCancelled = true
	return o.tx.UpdateVoucher(ctx, *v)
}

// =============================================================================
// PUBLIC OPERATIONS
// =============================================================================

// CreateVoucherPayment records cash from the bakery against the pooled
// voucher debt. The money goes into the register.
func (s *Service) CreateVoucherPayment(ctx context.Context, in VoucherPaymentInput) (*VoucherPayment, error) {
	var vp VoucherPayment
	var remaining decimal.Decimal
	err := s.write(ctx, "create_voucher_payment", func(o *op) error {
		paymentID := uuid.NewString()
		if err := o.claim(ctx, "create_voucher_payment", paymentID); err != nil {
			return err
		}
		amount, err := positiveMoney("amount", in.Amount)
		if err != nil {
			return err
		}
		currency := in.Currency
		if currency == "" {
			currency = o.cfg.BaseCurrency
		}
		rate, err := o.rate(currency, in.ExchangeRate)
		if err != nil {
			return err
		}
		base := generic.RoundMoney(amount.Mul(rate))

		p, err := o.pool(ctx)
		if err != nil {
			return err
		}
		if outstanding := p.remaining(); base.GreaterThan(outstanding) {
			return &ExceedsError{Sentinel: ErrOverpaymentRejected, Outstanding: outstanding, Requested: base}
		}

		vp = VoucherPayment{
			ID:           paymentID,
			Currency:     currency,
			Amount:       amount,
			ExchangeRate: rate,
			AmountBase:   base,
			Description:  strings.TrimSpace(in.Description),
			CreatedBy:    o.actor,
			CreatedAt:    o.now,
		}
		desc := vp.Description
		if desc == "" {
			desc = "voucher payment"
		}
		e, err := o.cashAdd(ctx, currency, amount, desc, vp.ID)
		if err != nil {
			return err
		}
		vp.CashEntryID = e.ID
		remaining = p.remaining().Sub(base)
		return o.tx.InsertVoucherPayment(ctx, vp)
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "voucher payment recorded",
		"voucher_payment_id", vp.ID, "amount", vp.Amount, "currency", vp.Currency,
		"amount_base", vp.AmountBase, "remaining", remaining)
	return &vp, nil
}

// CancelVoucherPayment reverses a voucher payment and its register entry.
func (s *Service) CancelVoucherPayment(ctx context.Context, id string) (*VoucherPayment, error) {
	var vp *VoucherPayment
	err := s.write(ctx, "cancel_voucher_payment", func(o *op) error {
		var err error
		vp, err = o.tx.GetVoucherPayment(ctx, id)
		if err != nil {
			return err
		}
		if vp.IsCancelled {
			return fmt.Errorf("voucher payment %s: %w", vp.ID, ErrAlreadyCancelled)
		}
		if vp.CashEntryID != "" {
			if _, err := o.reverse(ctx, []generic.EntryID{vp.CashEntryID}, fmt.Sprintf("cancel voucher payment %s", vp.ID)); err != nil {
				return err
			}
		}
		vp.IsCancelled = true
		return o.tx.UpdateVoucherPayment(ctx, *vp)
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "voucher payment cancelled", "voucher_payment_id", vp.ID, "amount_base", vp.AmountBase)
	return vp, nil
}

// VoucherSummary aggregates the active pool.
func (s *Service) VoucherSummary(ctx context.Context) (*VoucherSummary, error) {
	p, err := s.read(ctx).pool(ctx)
	if err != nil {
		return nil, err
	}
	return &VoucherSummary{
		Count:          len(p.vouchers),
		TotalKg:        p.kg,
		TotalDebt:      p.debt,
		TotalPaid:      p.paid,
		TotalRemaining: p.remaining(),
	}, nil
}

// VoucherStatuses spreads the paid total over active vouchers oldest first.
// The allocation is a view; payments are never bound to a voucher.
func (s *Service) VoucherStatuses(ctx context.Context) ([]VoucherStatus, error) {
	p, err := s.read(ctx).pool(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(p.vouchers, func(i, j int) bool {
		return p.vouchers[i].CreatedAt.Before(p.vouchers[j].CreatedAt)
	})

	left := p.paid
	out := make([]VoucherStatus, len(p.vouchers))
	for i, v := range p.vouchers {
		paid := decimal.Min(left, v.TotalValue)
		left = left.Sub(paid)
		out[i] = VoucherStatus{
			Voucher:   v,
			Paid:      paid,
			Remaining: v.TotalValue.Sub(paid),
			IsClosed:  paid.Equal(v.TotalValue),
		}
	}
	return out, nil
}

// ListVouchers returns every voucher, cancelled ones included, oldest first.
func (s *Service) ListVouchers(ctx context.Context) ([]Voucher, error) {
	return s.repo.ListVouchers(ctx)
}

func (s *Service) ListVoucherPayments(ctx context.Context) ([]VoucherPayment, error) {
	return s.repo.ListVoucherPayments(ctx)
}
