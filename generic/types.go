/*
Package generic provides the core posting ledger engine.

PURPOSE:
  This package contains domain-agnostic types and algorithms for keeping
  balances that must never drift. Whether tracking a farmer's grain holding,
  warehouse stock or a cash register, the same engine appends signed entries
  to an account and derives the balance by summing them.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity with a unit (e.g., 1000 kg, 250.50 UAH)
  - AccountKey: Which balance an entry moves (kind + holder + asset)
  - Entry: An immutable ledger row recording one balance change

DESIGN PRINCIPLES:
  1. Immutability: Entries are never modified, only reversed
  2. Precision: Uses decimal.Decimal, rounded per unit (kg 3dp, money 2dp)
  3. Type Safety: AccountKind / EntryID are distinct string types
  4. Auditability: Every entry has reason, reference, and idempotency key

USAGE:
  entry := generic.Entry{
      Account: generic.AccountKey{Kind: "farmer_grain", Holder: farmerID, Asset: cultureID},
      Delta:   generic.NewAmountFromInt(1000, generic.UnitKg),
      Type:    generic.EntryCredit,
  }

SEE ALSO:
  - ledger.go: Append / Withdraw / Reverse
  - store.go: Entry persistence interface
*/
package generic

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitKg  Unit = "kg"
	UnitUAH Unit = "UAH"
	UnitUSD Unit = "USD"
	UnitEUR Unit = "EUR"
)

// Currencies lists every cash unit the register keeps a balance for.
var Currencies = []Unit{UnitUAH, UnitUSD, UnitEUR}

// IsCurrency reports whether the unit is money rather than weight.
func (u Unit) IsCurrency() bool {
	switch u {
	case UnitUAH, UnitUSD, UnitEUR:
		return true
	}
	return false
}

// Places is the number of decimal places values of this unit are kept at.
func (u Unit) Places() int32 {
	if u == UnitKg {
		return 3
	}
	return 2
}

// ParseCurrency validates a currency code.
func ParseCurrency(s string) (Unit, error) {
	u := Unit(s)
	if !u.IsCurrency() {
		return "", fmt.Errorf("unknown currency %q", s)
	}
	return u, nil
}

func NewAmount(value decimal.Decimal, unit Unit) Amount {
	return Amount{Value: value.Round(unit.Places()), Unit: unit}
}

func NewAmountFromInt(value int64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromInt(value), Unit: unit}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// RoundKg rounds a weight to gram precision.
func RoundKg(d decimal.Decimal) decimal.Decimal { return d.Round(UnitKg.Places()) }

// RoundMoney rounds a monetary value to two decimal places.
func RoundMoney(d decimal.Decimal) decimal.Decimal { return d.Round(UnitUAH.Places()) }

func (a Amount) Zero() Amount                 { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Unit: a.Unit} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg(), Unit: a.Unit} }
func (a Amount) Round() Amount                { return Amount{Value: a.Value.Round(a.Unit.Places()), Unit: a.Unit} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }

func (a Amount) String() string {
	return a.Value.StringFixed(a.Unit.Places()) + " " + string(a.Unit)
}

// =============================================================================
// ACCOUNTS
// =============================================================================

type EntryID string

// AccountKind names a family of balances. Domain packages define their own
// kinds; the engine only groups entries by them.
type AccountKind string

// AccountKey identifies a single balance.
//
//	{Kind: "farmer_grain", Holder: <farmer id>, Asset: <culture id>}
//	{Kind: "cash",         Holder: "register",  Asset: "USD"}
type AccountKey struct {
	Kind   AccountKind
	Holder string
	Asset  string
}

func (k AccountKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Kind, k.Holder, k.Asset)
}

// =============================================================================
// ENTRY - Atomic change to an account balance
// =============================================================================

type EntryType string

const (
	EntryCredit     EntryType = "credit"     // Holding increases (intake, cash received)
	EntryDebit      EntryType = "debit"      // Holding decreases (settlement, cash paid out)
	EntryReserve    EntryType = "reserve"    // Stock earmarked for a contract
	EntryRelease    EntryType = "release"    // Earmark returned to available stock
	EntryTransfer   EntryType = "transfer"   // One leg of a move between two accounts
	EntryAdjustment EntryType = "adjustment" // Manual admin correction
	EntryReversal   EntryType = "reversal"   // Undo a previous entry
	EntryRequest    EntryType = "request"    // Zero-delta marker holding a client idempotency key
)

type Entry struct {
	ID             EntryID
	Account        AccountKey
	Delta          Amount
	Type           EntryType
	ReferenceID    string  // payment / contract / intake that produced the entry
	ReversalOf     EntryID // set on reversal entries only
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string

	CreatedBy string
	CreatedAt time.Time
}

// =============================================================================
// BALANCE SNAPSHOT - Running balance view of an account
// =============================================================================

// StatementLine pairs an entry with the account balance right after it.
type StatementLine struct {
	Entry   Entry
	Balance Amount
}

// Statement replays entries in order and returns the running balance.
func Statement(entries []Entry, unit Unit) []StatementLine {
	balance := Amount{Value: decimal.Zero, Unit: unit}
	lines := make([]StatementLine, 0, len(entries))
	for _, e := range entries {
		balance = balance.Add(e.Delta)
		lines = append(lines, StatementLine{Entry: e, Balance: balance})
	}
	return lines
}

// Sum adds up entry deltas.
func Sum(entries []Entry, unit Unit) Amount {
	total := Amount{Value: decimal.Zero, Unit: unit}
	for _, e := range entries {
		total = total.Add(e.Delta)
	}
	return total
}
