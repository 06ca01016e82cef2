package settlement

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/grain-ledger/generic"
)

// =============================================================================
// CASH REGISTER
// =============================================================================
// One ledger account per currency. A CashTransaction is a cash entry seen
// through the register: absolute amount, add/subtract, and the balance of
// that currency right after it.

func (o *op) cashAdd(ctx context.Context, currency generic.Unit, amount decimal.Decimal, description, ref string) (generic.Entry, error) {
	return o.ledger.Append(ctx, generic.Entry{
		Account:     cashAccount(currency),
		Delta:       generic.NewAmount(amount, currency),
		Type:        generic.EntryCredit,
		ReferenceID: ref,
		Reason:      description,
		CreatedBy:   o.actor,
	})
}

func (o *op) cashSubtract(ctx context.Context, currency generic.Unit, amount decimal.Decimal, description, ref string) (generic.Entry, error) {
	e := generic.Entry{
		Account:     cashAccount(currency),
		Delta:       generic.NewAmount(amount.Neg(), currency),
		Type:        generic.EntryDebit,
		ReferenceID: ref,
		Reason:      description,
		CreatedBy:   o.actor,
	}
	if o.cfg.AllowNegativeCash {
		return o.ledger.Append(ctx, e)
	}
	return o.ledger.Withdraw(ctx, e)
}

// reverse undoes entries newest first. Cash entries may go negative when
// the register allows it; every other account must cover the reversal.
func (o *op) reverse(ctx context.Context, ids []generic.EntryID, reason string) ([]generic.Entry, error) {
	out := make([]generic.Entry, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		original, err := o.tx.Get(ctx, ids[i])
		if err != nil {
			return nil, err
		}
		rev, err := o.ledger.Reverse(ctx, ids[i], generic.ReverseOptions{
			Reason:        reason,
			CreatedBy:     o.actor,
			AllowNegative: original.Account.Kind == KindCash && o.cfg.AllowNegativeCash,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, rev)
	}
	if err := o.checkStock(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (o *op) cashTransactions(ctx context.Context, currency generic.Unit) ([]CashTransaction, error) {
	entries, err := o.ledger.Entries(ctx, cashAccount(currency))
	if err != nil {
		return nil, err
	}
	lines := generic.Statement(entries, currency)
	out := make([]CashTransaction, len(lines))
	for i, line := range lines {
		out[i] = toCashTransaction(line)
	}
	return out, nil
}

func toCashTransaction(line generic.StatementLine) CashTransaction {
	e := line.Entry
	dir := CashAdd
	if e.Delta.IsNegative() {
		dir = CashSubtract
	}
	return CashTransaction{
		ID:           e.ID,
		Currency:     e.Delta.Unit,
		Amount:       e.Delta.Value.Abs(),
		Direction:    dir,
		Description:  e.Reason,
		BalanceAfter: line.Balance.Value,
		ReferenceID:  e.ReferenceID,
		CreatedBy:    e.CreatedBy,
		CreatedAt:    e.CreatedAt,
	}
}

// lastCashTransaction returns the view of the newest entry of a currency.
func (o *op) lastCashTransaction(ctx context.Context, currency generic.Unit) (*CashTransaction, error) {
	txs, err := o.cashTransactions(ctx, currency)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, notFound("cash transaction", string(currency))
	}
	return &txs[len(txs)-1], nil
}

// =============================================================================
// PUBLIC OPERATIONS
// =============================================================================

// CashBalances returns the register balance of every currency.
func (s *Service) CashBalances(ctx context.Context) (map[generic.Unit]decimal.Decimal, error) {
	o := s.read(ctx)
	out := make(map[generic.Unit]decimal.Decimal, len(generic.Currencies))
	for _, c := range generic.Currencies {
		bal, err := o.ledger.Balance(ctx, cashAccount(c), c)
		if err != nil {
			return nil, err
		}
		out[c] = bal.Value
	}
	return out, nil
}

// CashAdd records money put into the register.
func (s *Service) CashAdd(ctx context.Context, currency generic.Unit, amount decimal.Decimal, description string) (*CashTransaction, error) {
	return s.cashMove(ctx, CashAdd, currency, amount, description)
}

// CashSubtract records money taken out of the register.
func (s *Service) CashSubtract(ctx context.Context, currency generic.Unit, amount decimal.Decimal, description string) (*CashTransaction, error) {
	return s.cashMove(ctx, CashSubtract, currency, amount, description)
}

func (s *Service) cashMove(ctx context.Context, dir CashDirection, currency generic.Unit, amount decimal.Decimal, description string) (*CashTransaction, error) {
	var out *CashTransaction
	err := s.write(ctx, "cash_"+string(dir), func(o *op) error {
		if !currency.IsCurrency() {
			return invalid("currency", "unknown currency %q", currency)
		}
		amt, err := positiveMoney("amount", amount)
		if err != nil {
			return err
		}
		if strings.TrimSpace(description) == "" {
			return invalid("description", "is required")
		}
		if dir == CashAdd {
			_, err = o.cashAdd(ctx, currency, amt, description, "")
		} else {
			_, err = o.cashSubtract(ctx, currency, amt, description, "")
		}
		if err != nil {
			return err
		}
		out, err = o.lastCashTransaction(ctx, currency)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "cash moved", "direction", dir, "currency", currency, "amount", out.Amount, "balance_after", out.BalanceAfter)
	return out, nil
}

// CashTransactions returns register movements newest first. An empty
// currency returns all currencies; limit <= 0 returns everything.
func (s *Service) CashTransactions(ctx context.Context, currency generic.Unit, limit int) ([]CashTransaction, error) {
	o := s.read(ctx)
	currencies := generic.Currencies
	if currency != "" {
		if !currency.IsCurrency() {
			return nil, invalid("currency", "unknown currency %q", currency)
		}
		currencies = []generic.Unit{currency}
	}

	var all []CashTransaction
	for _, c := range currencies {
		txs, err := o.cashTransactions(ctx, c)
		if err != nil {
			return nil, err
		}
		for i := len(txs) - 1; i >= 0; i-- {
			all = append(all, txs[i])
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}
