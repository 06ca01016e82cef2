package settlement_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/grain-ledger/generic"
	"github.com/warp/grain-ledger/settlement"
)

// =============================================================================
// STOCK
// =============================================================================

func TestStock_ReserveAndRelease(t *testing.T) {
	f := newFixture(t)
	f.ownIntake(f.corn.ID, "1000")
	corn := settlement.StockRef{CultureID: f.corn.ID}

	st, err := f.svc.Reserve(f.ctx, corn, dec("600"), "seed program")
	require.NoError(t, err)
	assertDec(t, "600", st.ReservedKg)
	assertDec(t, "400", st.Available())

	_, err = f.svc.Reserve(f.ctx, corn, dec("401"), "too much")
	assert.ErrorIs(t, err, settlement.ErrInsufficientBalance)

	st, err = f.svc.Release(f.ctx, corn, dec("600"), "program cancelled")
	require.NoError(t, err)
	assertDec(t, "0", st.ReservedKg)

	_, err = f.svc.Release(f.ctx, corn, dec("1"), "nothing left")
	assert.ErrorIs(t, err, settlement.ErrInsufficientBalance)
}

func TestStock_FarmerGrainIsNotAvailable(t *testing.T) {
	f := newFixture(t)
	f.intake(f.farmer.ID, f.corn.ID, "1000")
	corn := settlement.StockRef{CultureID: f.corn.ID}

	st := f.stock(corn)
	assertDec(t, "1000", st.QuantityKg)
	assertDec(t, "1000", st.FarmerQuantityKg)
	assertDec(t, "0", st.Available())

	_, err := f.svc.Reserve(f.ctx, corn, dec("1"), "")
	assert.ErrorIs(t, err, settlement.ErrInsufficientBalance)
}

func TestStock_AdjustNeverBelowReserved(t *testing.T) {
	f := newFixture(t)
	g := f.good("Суперфосфат", "15", "100")
	ref := settlement.StockRef{StockGoodID: g.ID}
	_, err := f.svc.Reserve(f.ctx, ref, dec("60"), "")
	require.NoError(t, err)

	_, err = f.svc.AdjustStock(f.ctx, ref, dec("-50"), "spoiled")
	assert.ErrorIs(t, err, settlement.ErrInsufficientBalance)

	st, err := f.svc.AdjustStock(f.ctx, ref, dec("-40"), "spoiled")
	require.NoError(t, err)
	assertDec(t, "60", st.QuantityKg)

	_, err = f.svc.AdjustStock(f.ctx, ref, dec("10"), " ")
	assert.ErrorIs(t, err, settlement.ErrValidation)
	_, err = f.svc.AdjustStock(f.ctx, ref, dec("0"), "noop")
	assert.ErrorIs(t, err, settlement.ErrValidation)
}

func TestStock_RefNeedsExactlyOneID(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Stock(f.ctx, settlement.StockRef{})
	assert.ErrorIs(t, err, settlement.ErrValidation)
	_, err = f.svc.Stock(f.ctx, settlement.StockRef{CultureID: f.corn.ID, StockGoodID: "x"})
	assert.ErrorIs(t, err, settlement.ErrValidation)
	_, err = f.svc.Stock(f.ctx, settlement.StockRef{StockGoodID: "missing"})
	assert.True(t, settlement.IsNotFound(err))
}

func TestStock_ListCoversCulturesAndGoods(t *testing.T) {
	f := newFixture(t)
	f.ownIntake(f.wheat.ID, "250")
	f.good("Аміачна селітра", "10", "40")

	list, err := f.svc.ListStock(f.ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)

	byName := make(map[string]settlement.StockEntry)
	for _, st := range list {
		byName[st.Name] = st
	}
	assertDec(t, "250", byName["Пшениця"].OwnQuantityKg)
	assertDec(t, "40", byName["Аміачна селітра"].QuantityKg)
	assert.Equal(t, settlement.CategoryFertilizer, byName["Аміачна селітра"].Category)
}

func TestStockGood_DuplicateNormalisedName(t *testing.T) {
	f := newFixture(t)
	g, err := f.svc.CreateStockGood(f.ctx, "Аміачна селітра", settlement.CategoryFertilizer, dec("10"))
	require.NoError(t, err)

	_, err = f.svc.CreateStockGood(f.ctx, "  АМІАЧНА   селітра", settlement.CategoryFertilizer, dec("11"))
	assert.ErrorIs(t, err, settlement.ErrDuplicateName)

	// Same name in another category is a different good
	other, err := f.svc.CreateStockGood(f.ctx, "Аміачна селітра", settlement.CategorySeed, dec("10"))
	require.NoError(t, err)
	assert.NotEqual(t, g.ID, other.ID)

	found, err := f.svc.FindOrCreateStockGood(f.ctx, "аміачна селітра", settlement.CategoryFertilizer)
	require.NoError(t, err)
	assert.Equal(t, g.ID, found.ID)

	_, err = f.svc.FindOrCreateStockGood(f.ctx, "x", "pesticide")
	assert.ErrorIs(t, err, settlement.ErrValidation)
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Аміачна селітра", "аміачна селітра"},
		{"  Аміачна \t  СЕЛІТРА  ", "аміачна селітра"},
		{"NPK 16-16-16", "npk 16-16-16"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, settlement.NormalizeName(tt.in), tt.in)
	}
}

// =============================================================================
// CASH
// =============================================================================

func TestCash_AddSubtractAndHistory(t *testing.T) {
	f := newFixture(t)

	tx, err := f.svc.CashAdd(f.ctx, generic.UnitUAH, dec("1000"), "opening float")
	require.NoError(t, err)
	assert.Equal(t, settlement.CashAdd, tx.Direction)
	assertDec(t, "1000", tx.BalanceAfter)

	tx, err = f.svc.CashSubtract(f.ctx, generic.UnitUAH, dec("250.50"), "diesel")
	require.NoError(t, err)
	assert.Equal(t, settlement.CashSubtract, tx.Direction)
	assertDec(t, "250.5", tx.Amount)
	assertDec(t, "749.5", tx.BalanceAfter)
	assert.Equal(t, "operator", tx.CreatedBy)

	_, err = f.svc.CashAdd(f.ctx, generic.UnitEUR, dec("50"), "exchange")
	require.NoError(t, err)

	history, err := f.svc.CashTransactions(f.ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, generic.UnitEUR, history[0].Currency)
	assert.Equal(t, "diesel", history[1].Description)

	uah, err := f.svc.CashTransactions(f.ctx, generic.UnitUAH, 1)
	require.NoError(t, err)
	require.Len(t, uah, 1)
	assert.Equal(t, "diesel", uah[0].Description)

	_, err = f.svc.CashAdd(f.ctx, "GBP", dec("1"), "x")
	assert.ErrorIs(t, err, settlement.ErrValidation)
	_, err = f.svc.CashAdd(f.ctx, generic.UnitUAH, dec("-1"), "x")
	assert.ErrorIs(t, err, settlement.ErrValidation)
}

func TestCash_NegativeAllowedByDefault(t *testing.T) {
	f := newFixture(t)

	tx, err := f.svc.CashSubtract(f.ctx, generic.UnitUSD, dec("10"), "advance")
	require.NoError(t, err)
	assertDec(t, "-10", tx.BalanceAfter)
}
