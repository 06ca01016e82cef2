/*
service.go - Settlement service wiring

PURPOSE:
  Service is the entry point for every settlement operation. Each mutating
  call opens exactly one repository transaction, builds a ledger over it and
  runs the operation against an op. Either every record and ledger entry the
  operation writes is committed, or none is.

ACTOR:
  The user performing an operation travels in the context (WithActor) and
  ends up in CreatedBy of records and ledger entries.

LOGGING:
  Committed mutations are logged at info with their ids and amounts.
  Rejected operations are logged at debug; the caller owns the error.
*/
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/grain-ledger/generic"
)

// Config holds the business settings of the ledger.
type Config struct {
	// BaseCurrency is the currency contract values and balances are kept in.
	BaseCurrency generic.Unit

	// WheatCulture is the name of the culture vouchers are denominated in.
	WheatCulture string

	// AllowNegativeCash lets a register balance go below zero. When false,
	// a subtraction the register cannot cover fails with ErrInsufficientBalance.
	AllowNegativeCash bool
}

func DefaultConfig() Config {
	return Config{
		BaseCurrency:      generic.UnitUAH,
		WheatCulture:      "Пшениця",
		AllowNegativeCash: true,
	}
}

type Service struct {
	repo   Repository
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseCurrency == "" {
		cfg.BaseCurrency = generic.UnitUAH
	}
	return &Service{
		repo:   repo,
		cfg:    cfg,
		logger: logger.With("component", "settlement"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source (tests, demo data).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) Config() Config { return s.cfg }

// =============================================================================
// ACTOR
// =============================================================================

type actorKey struct{}

// WithActor attaches the acting user to ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok && a != "" {
		return a
	}
	return "system"
}

type requestKey struct{}

// WithIdempotencyKey attaches a client request key to ctx. Operations that
// honour it reject a second request carrying the same key with
// generic.ErrDuplicateIdempotencyKey.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, requestKey{}, key)
}

func idempotencyKeyFrom(ctx context.Context) string {
	k, _ := ctx.Value(requestKey{}).(string)
	return strings.TrimSpace(k)
}

// =============================================================================
// OP - one operation bound to a store
// =============================================================================

type op struct {
	cfg    Config
	tx     Tx
	ledger *generic.DefaultLedger
	actor  string
	key    string
	now    time.Time
}

func (s *Service) newOp(ctx context.Context, tx Tx) *op {
	l := generic.NewLedger(tx)
	l.Now = s.now
	return &op{cfg: s.cfg, tx: tx, ledger: l, actor: actorFrom(ctx), key: idempotencyKeyFrom(ctx), now: s.now()}
}

// write runs fn in a transaction.
func (s *Service) write(ctx context.Context, name string, fn func(o *op) error) error {
	err := s.repo.WithTx(ctx, func(tx Tx) error {
		return fn(s.newOp(ctx, tx))
	})
	if err != nil {
		s.logger.DebugContext(ctx, "operation rejected", "op", name, "error", err)
	}
	return err
}

// claim records the request's idempotency key as a zero-delta entry on the
// request journal. The ledger refuses a key it has already seen, and a
// rejected operation rolls the claim back with everything else.
func (o *op) claim(ctx context.Context, name, ref string) error {
	if o.key == "" {
		return nil
	}
	_, err := o.ledger.Append(ctx, generic.Entry{
		Account:        requestAccount(name),
		Delta:          generic.Amount{Value: decimal.Zero, Unit: generic.UnitKg},
		Type:           generic.EntryRequest,
		ReferenceID:    ref,
		IdempotencyKey: o.key,
		CreatedBy:      o.actor,
	})
	if err != nil {
		return fmt.Errorf("%s %q: %w", name, o.key, err)
	}
	return nil
}

// read runs against the repository without a transaction.
func (s *Service) read(ctx context.Context) *op {
	return s.newOp(ctx, s.repo)
}

// =============================================================================
// HELPERS
// =============================================================================

// rate resolves the exchange rate for a currency: 1 for the base currency,
// a positive rate otherwise.
func (o *op) rate(currency generic.Unit, rate decimal.Decimal) (decimal.Decimal, error) {
	if !currency.IsCurrency() {
		return decimal.Zero, invalid("currency", "unknown currency %q", currency)
	}
	if currency == o.cfg.BaseCurrency {
		return decimal.NewFromInt(1), nil
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s requires a positive exchange rate", ErrInvalidRate, currency)
	}
	return rate, nil
}

func (o *op) wheatCulture(ctx context.Context) (*Culture, error) {
	c, err := o.tx.GetCultureByName(ctx, o.cfg.WheatCulture)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func positiveKg(field string, qty decimal.Decimal) (decimal.Decimal, error) {
	qty = generic.RoundKg(qty)
	if !qty.IsPositive() {
		return decimal.Zero, invalid(field, "must be positive")
	}
	return qty, nil
}

func positiveMoney(field string, amount decimal.Decimal) (decimal.Decimal, error) {
	amount = generic.RoundMoney(amount)
	if !amount.IsPositive() {
		return decimal.Zero, invalid(field, "must be positive")
	}
	return amount, nil
}

func entryIDs(entries ...generic.Entry) []generic.EntryID {
	ids := make([]generic.EntryID, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}
