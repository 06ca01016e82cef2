package settlement_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/grain-ledger/generic"
	"github.com/warp/grain-ledger/settlement"
	"github.com/warp/grain-ledger/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *sqlite.Store
	svc    *settlement.Service
	wheat  *settlement.Culture
	corn   *settlement.Culture
	farmer *settlement.Farmer
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithConfig(t, settlement.DefaultConfig())
}

func newFixtureWithConfig(t *testing.T, cfg settlement.Config) *fixture {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := settlement.NewService(store, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	clock := time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})

	f := &fixture{t: t, ctx: settlement.WithActor(context.Background(), "operator"), store: store, svc: svc}
	f.wheat, err = svc.CreateCulture(f.ctx, "Пшениця", dec("10"))
	require.NoError(t, err)
	f.corn, err = svc.CreateCulture(f.ctx, "Кукурудза", dec("7.5"))
	require.NoError(t, err)
	f.farmer, err = svc.CreateFarmer(f.ctx, "Іван Петренко", "+380501112233")
	require.NoError(t, err)
	return f
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	if !dec(want).Equal(got) {
		assert.Fail(t, "decimal mismatch: want "+want+", got "+got.String(), msgAndArgs...)
	}
}

// intake credits kg of a culture to the farmer through a confirmed intake.
func (f *fixture) intake(farmerID, cultureID, kg string) *settlement.Intake {
	f.t.Helper()
	in, err := f.svc.RecordIntake(f.ctx, settlement.IntakeInput{
		FarmerID:    farmerID,
		CultureID:   cultureID,
		NetWeightKg: dec(kg),
	})
	require.NoError(f.t, err)
	return in
}

// ownIntake puts company grain into own stock.
func (f *fixture) ownIntake(cultureID, kg string) {
	f.t.Helper()
	_, err := f.svc.RecordIntake(f.ctx, settlement.IntakeInput{
		CultureID:   cultureID,
		IsOwnGrain:  true,
		NetWeightKg: dec(kg),
	})
	require.NoError(f.t, err)
}

// good creates a purchase good with qty kg in the warehouse.
func (f *fixture) good(name string, price, qty string) *settlement.StockGood {
	f.t.Helper()
	g, err := f.svc.CreateStockGood(f.ctx, name, settlement.CategoryFertilizer, dec(price))
	require.NoError(f.t, err)
	_, err = f.svc.AdjustStock(f.ctx, settlement.StockRef{StockGoodID: g.ID}, dec(qty), "initial count")
	require.NoError(f.t, err)
	return g
}

func (f *fixture) farmerKg(cultureID string) decimal.Decimal {
	f.t.Helper()
	holdings, err := f.svc.Balance(f.ctx, f.farmer.ID)
	require.NoError(f.t, err)
	for _, h := range holdings {
		if h.CultureID == cultureID {
			return h.QuantityKg
		}
	}
	return decimal.Zero
}

func (f *fixture) stock(ref settlement.StockRef) *settlement.StockEntry {
	f.t.Helper()
	st, err := f.svc.Stock(f.ctx, ref)
	require.NoError(f.t, err)
	return st
}

func (f *fixture) cash(currency generic.Unit) decimal.Decimal {
	f.t.Helper()
	balances, err := f.svc.CashBalances(f.ctx)
	require.NoError(f.t, err)
	return balances[currency]
}

func (f *fixture) contract(id string) *settlement.Contract {
	f.t.Helper()
	c, err := f.svc.GetContract(f.ctx, id)
	require.NoError(f.t, err)
	return c
}

// debtWithGoods opens a debt contract issuing qty kg of a fertilizer priced
// at price, so the contract balance is qty*price.
func (f *fixture) debtWithGoods(qty, price string, farmerItems ...settlement.ItemInput) (*settlement.Contract, *settlement.StockGood) {
	f.t.Helper()
	g := f.good("Аміачна селітра", price, "10000")
	c, err := f.svc.CreateContract(f.ctx, settlement.CreateContractInput{
		OwnerID:      f.farmer.ID,
		Type:         settlement.ContractDebt,
		CompanyItems: []settlement.ItemInput{{ItemType: settlement.ItemPurchase, StockGoodID: g.ID, QuantityKg: dec(qty)}},
		FarmerItems:  farmerItems,
	})
	require.NoError(f.t, err)
	return c, g
}
