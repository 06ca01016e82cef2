package settlement_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/grain-ledger/generic"
	"github.com/warp/grain-ledger/settlement"
)

// =============================================================================
// CASH PAYMENTS
// =============================================================================

func TestCashPayment_ForeignCurrency(t *testing.T) {
	// GIVEN: An open debt contract with a balance of 5000
	f := newFixture(t)
	c, _ := f.debtWithGoods("500", "10")
	assertDec(t, "5000", c.Balance)

	// WHEN: The farmer pays 100 USD at 40
	p, err := f.svc.PostPayment(f.ctx, c.ID, settlement.CashPayment{
		Amount:       dec("100"),
		Currency:     generic.UnitUSD,
		ExchangeRate: dec("40"),
	})
	require.NoError(t, err)

	// THEN: 4000 is settled in base currency and the register pays out 100 USD
	assertDec(t, "4000", p.AmountBase)
	assertDec(t, "100", p.Amount)
	assert.Equal(t, generic.UnitUSD, p.Currency)
	assertDec(t, "1000", f.contract(c.ID).Balance)
	assertDec(t, "-100", f.cash(generic.UnitUSD))

	// WHEN: The payment is cancelled
	cancelled, err := f.svc.CancelPayment(f.ctx, p.ID)
	require.NoError(t, err)

	// THEN: Balance and register are back where they were
	assert.True(t, cancelled.IsCancelled)
	require.NotNil(t, cancelled.CancelledAt)
	assertDec(t, "5000", f.contract(c.ID).Balance)
	assertDec(t, "0", f.cash(generic.UnitUSD))

	// AND: Cancelling twice is rejected
	_, err = f.svc.CancelPayment(f.ctx, p.ID)
	assert.ErrorIs(t, err, settlement.ErrAlreadyCancelled)
}

func TestCashPayment_ExceedsBalance(t *testing.T) {
	f := newFixture(t)
	c, _ := f.debtWithGoods("500", "10")

	_, err := f.svc.PostPayment(f.ctx, c.ID, settlement.CashPayment{
		Amount: dec("200"), Currency: generic.UnitUSD, ExchangeRate: dec("40"),
	})

	var ee *settlement.ExceedsError
	require.ErrorAs(t, err, &ee)
	assert.ErrorIs(t, err, settlement.ErrAmountExceedsBalance)
	assertDec(t, "5000", ee.Outstanding)
	assertDec(t, "8000", ee.Requested)
	assertDec(t, "5000", f.contract(c.ID).Balance)
	assertDec(t, "0", f.cash(generic.UnitUSD))
}

func TestCashPayment_ForeignCurrencyNeedsRate(t *testing.T) {
	f := newFixture(t)
	c, _ := f.debtWithGoods("500", "10")

	_, err := f.svc.PostPayment(f.ctx, c.ID, settlement.CashPayment{Amount: dec("100"), Currency: generic.UnitEUR})
	assert.ErrorIs(t, err, settlement.ErrInvalidRate)

	// Base currency ignores the rate
	p, err := f.svc.PostPayment(f.ctx, c.ID, settlement.CashPayment{Amount: dec("100"), Currency: generic.UnitUAH, ExchangeRate: dec("3")})
	require.NoError(t, err)
	assertDec(t, "100", p.AmountBase)
	assertDec(t, "1", p.ExchangeRate)
}

func TestCashPayment_RegisterCannotGoNegativeWhenConfigured(t *testing.T) {
	cfg := settlement.DefaultConfig()
	cfg.AllowNegativeCash = false
	f := newFixtureWithConfig(t, cfg)
	c, _ := f.debtWithGoods("500", "10")

	_, err := f.svc.PostPayment(f.ctx, c.ID, settlement.CashPayment{Amount: dec("100")})
	require.ErrorIs(t, err, settlement.ErrInsufficientBalance)
	assertDec(t, "5000", f.contract(c.ID).Balance)

	_, err = f.svc.CashAdd(f.ctx, generic.UnitUAH, dec("100"), "opening float")
	require.NoError(t, err)
	_, err = f.svc.PostPayment(f.ctx, c.ID, settlement.CashPayment{Amount: dec("100")})
	require.NoError(t, err)
	assertDec(t, "0", f.cash(generic.UnitUAH))
}

// =============================================================================
// GOODS ISSUE / RECEIVE
// =============================================================================

func TestGoodsIssue_PartialDeliveries(t *testing.T) {
	// GIVEN: A debt contract promising 400 kg of own corn (7.5/kg)
	f := newFixture(t)
	f.ownIntake(f.corn.ID, "1000")
	c, err := f.svc.CreateContract(f.ctx, settlement.CreateContractInput{
		OwnerID:      f.farmer.ID,
		Type:         settlement.ContractDebt,
		CompanyItems: []settlement.ItemInput{{ItemType: settlement.ItemGrain, CultureID: f.corn.ID, QuantityKg: dec("400")}},
	})
	require.NoError(t, err)
	itemID := c.Items[0].ID
	corn := settlement.StockRef{CultureID: f.corn.ID}

	// WHEN: 150 kg are issued
	p, err := f.svc.PostPayment(f.ctx, c.ID, settlement.GoodsIssue{ItemID: itemID, QuantityKg: dec("150")})
	require.NoError(t, err)

	// THEN: Delivered grows, stock and reservation shrink, balance drops by the value
	assertDec(t, "1125", p.AmountBase)
	c = f.contract(c.ID)
	assertDec(t, "150", c.Items[0].DeliveredKg)
	assertDec(t, "1875", c.Balance)
	st := f.stock(corn)
	assertDec(t, "850", st.OwnQuantityKg)
	assertDec(t, "250", st.ReservedKg)

	// AND: Issuing more than remains is rejected with the remaining quantity
	_, err = f.svc.PostPayment(f.ctx, c.ID, settlement.GoodsIssue{ItemID: itemID, QuantityKg: dec("300")})
	var re *settlement.RemainingError
	require.ErrorAs(t, err, &re)
	assert.ErrorIs(t, err, settlement.ErrQuantityExceedsRemaining)
	assertDec(t, "250", re.Remaining)

	// AND: Cancelling restores the exact prior state
	_, err = f.svc.CancelPayment(f.ctx, p.ID)
	require.NoError(t, err)
	c = f.contract(c.ID)
	assertDec(t, "0", c.Items[0].DeliveredKg)
	assertDec(t, "3000", c.Balance)
	st = f.stock(corn)
	assertDec(t, "1000", st.OwnQuantityKg)
	assertDec(t, "400", st.ReservedKg)
}

func TestGoodsIssue_DeliveredNeverExceedsQuantity(t *testing.T) {
	f := newFixture(t)
	c, _ := f.debtWithGoods("100", "1")
	itemID := c.Items[0].ID

	for i := 0; i < 4; i++ {
		_, err := f.svc.PostPayment(f.ctx, c.ID, settlement.GoodsIssue{ItemID: itemID, QuantityKg: dec("25")})
		require.NoError(t, err)
	}
	_, err := f.svc.PostPayment(f.ctx, c.ID, settlement.GoodsIssue{ItemID: itemID, QuantityKg: dec("0.001")})
	require.ErrorIs(t, err, settlement.ErrQuantityExceedsRemaining)

	c = f.contract(c.ID)
	assertDec(t, "100", c.Items[0].DeliveredKg)
	assertDec(t, "0", c.Balance)
	assert.Equal(t, settlement.StatusOpen, c.Status)
}

func TestGoodsIssue_PartialDeliveriesAddUpToItemValue(t *testing.T) {
	// GIVEN: A 2 kg item at 0.335, worth 0.67 in total
	f := newFixture(t)
	c, _ := f.debtWithGoods("2", "0.335")
	assertDec(t, "0.67", c.Balance)
	itemID := c.Items[0].ID

	// WHEN: It is issued one kilogram at a time
	first, err := f.svc.PostPayment(f.ctx, c.ID, settlement.GoodsIssue{ItemID: itemID, QuantityKg: dec("1")})
	require.NoError(t, err)
	second, err := f.svc.PostPayment(f.ctx, c.ID, settlement.GoodsIssue{ItemID: itemID, QuantityKg: dec("1")})
	require.NoError(t, err)

	// THEN: The slices sum to the item value and the contract is settled
	assertDec(t, "0.34", first.AmountBase)
	assertDec(t, "0.33", second.AmountBase)
	assertDec(t, "0", f.contract(c.ID).Balance)

	// WHEN: The first slice is cancelled and issued again
	_, err = f.svc.CancelPayment(f.ctx, first.ID)
	require.NoError(t, err)
	assertDec(t, "0.34", f.contract(c.ID).Balance)
	again, err := f.svc.PostPayment(f.ctx, c.ID, settlement.GoodsIssue{ItemID: itemID, QuantityKg: dec("1")})
	require.NoError(t, err)

	// THEN: It is charged what is left, not a fresh rounding
	assertDec(t, "0.34", again.AmountBase)
	assertDec(t, "0", f.contract(c.ID).Balance)
	assertDec(t, "2", f.contract(c.ID).Items[0].DeliveredKg)
}

func TestGoodsIssue_CashItem(t *testing.T) {
	f := newFixture(t)
	c, err := f.svc.CreateContract(f.ctx, settlement.CreateContractInput{
		OwnerID:      f.farmer.ID,
		Type:         settlement.ContractDebt,
		CompanyItems: []settlement.ItemInput{{ItemType: settlement.ItemCash, QuantityKg: dec("2000")}},
	})
	require.NoError(t, err)

	_, err = f.svc.PostPayment(f.ctx, c.ID, settlement.GoodsIssue{ItemID: c.Items[0].ID, QuantityKg: dec("1500")})
	require.NoError(t, err)
	assertDec(t, "-1500", f.cash(generic.UnitUAH))
	assertDec(t, "500", f.contract(c.ID).Balance)
}

func TestGoodsReceive_FarmerGrain(t *testing.T) {
	// GIVEN: A debt contract where the farmer owes 300 kg of wheat
	f := newFixture(t)
	f.intake(f.farmer.ID, f.wheat.ID, "1000")
	c, _ := f.debtWithGoods("500", "10",
		settlement.ItemInput{ItemType: settlement.ItemGrain, CultureID: f.wheat.ID, QuantityKg: dec("300")})
	farmerItem := c.Items[1]
	require.Equal(t, settlement.FromFarmer, farmerItem.Direction)

	// WHEN: The farmer hands the wheat over
	p, err := f.svc.PostPayment(f.ctx, c.ID, settlement.GoodsReceive{ItemID: farmerItem.ID, QuantityKg: dec("300")})
	require.NoError(t, err)

	// THEN: Farmer balance drops, the grain becomes company-owned, debt shrinks
	assertDec(t, "3000", p.AmountBase)
	assertDec(t, "700", f.farmerKg(f.wheat.ID))
	st := f.stock(settlement.StockRef{CultureID: f.wheat.ID})
	assertDec(t, "700", st.FarmerQuantityKg)
	assertDec(t, "300", st.OwnQuantityKg)
	assertDec(t, "2000", f.contract(c.ID).Balance)

	// AND: Cancel undoes all of it
	_, err = f.svc.CancelPayment(f.ctx, p.ID)
	require.NoError(t, err)
	assertDec(t, "1000", f.farmerKg(f.wheat.ID))
	st = f.stock(settlement.StockRef{CultureID: f.wheat.ID})
	assertDec(t, "1000", st.FarmerQuantityKg)
	assertDec(t, "0", st.OwnQuantityKg)
	assertDec(t, "5000", f.contract(c.ID).Balance)
}

func TestGoods_WrongDirection(t *testing.T) {
	f := newFixture(t)
	c, _ := f.debtWithGoods("500", "10")

	_, err := f.svc.PostPayment(f.ctx, c.ID, settlement.GoodsReceive{ItemID: c.Items[0].ID, QuantityKg: dec("1")})
	assert.ErrorIs(t, err, settlement.ErrWrongDirection)

	_, err = f.svc.PostPayment(f.ctx, c.ID, settlement.GoodsIssue{ItemID: "missing", QuantityKg: dec("1")})
	assert.True(t, settlement.IsNotFound(err))

	_, err = f.svc.PostPayment(f.ctx, c.ID, settlement.GoodsIssue{ItemID: c.Items[0].ID, QuantityKg: dec("0")})
	assert.ErrorIs(t, err, settlement.ErrValidation)
}

// =============================================================================
// GRAIN PAYMENTS
// =============================================================================

func TestGrainPayment_DebitsFarmerAtCulturePrice(t *testing.T) {
	f := newFixture(t)
	f.intake(f.farmer.ID, f.wheat.ID, "1000")
	c, _ := f.debtWithGoods("500", "10")

	p, err := f.svc.PostPayment(f.ctx, c.ID, settlement.GrainPayment{CultureID: f.wheat.ID, QuantityKg: dec("200")})
	require.NoError(t, err)

	assertDec(t, "2000", p.AmountBase)
	assertDec(t, "800", f.farmerKg(f.wheat.ID))
	assertDec(t, "3000", f.contract(c.ID).Balance)
	assertDec(t, "200", f.stock(settlement.StockRef{CultureID: f.wheat.ID}).OwnQuantityKg)

	_, err = f.svc.PostPayment(f.ctx, c.ID, settlement.GrainPayment{CultureID: f.wheat.ID, QuantityKg: dec("900")})
	assert.ErrorIs(t, err, settlement.ErrInsufficientBalance)

	_, err = f.svc.PostPayment(f.ctx, c.ID, settlement.GrainPayment{CultureID: f.wheat.ID, QuantityKg: dec("400")})
	assert.ErrorIs(t, err, settlement.ErrAmountExceedsBalance)
	assertDec(t, "800", f.farmerKg(f.wheat.ID))
}

func TestCancelPayment_FailsWhenGrainAlreadyReused(t *testing.T) {
	// GIVEN: Company grain received from a farmer and then promised elsewhere
	f := newFixture(t)
	f.intake(f.farmer.ID, f.wheat.ID, "300")
	c, _ := f.debtWithGoods("500", "10")
	p, err := f.svc.PostPayment(f.ctx, c.ID, settlement.GrainPayment{CultureID: f.wheat.ID, QuantityKg: dec("300")})
	require.NoError(t, err)

	_, err = f.svc.CreateContract(f.ctx, settlement.CreateContractInput{
		OwnerID:      f.farmer.ID,
		Type:         settlement.ContractDebt,
		CompanyItems: []settlement.ItemInput{{ItemType: settlement.ItemGrain, CultureID: f.wheat.ID, QuantityKg: dec("300")}},
	})
	require.NoError(t, err)

	// WHEN: The grain payment is cancelled
	_, err = f.svc.CancelPayment(f.ctx, p.ID)

	// THEN: It fails because own stock would drop below what is reserved
	require.ErrorIs(t, err, settlement.ErrInsufficientBalance)
	assertDec(t, "0", f.farmerKg(f.wheat.ID))
	assertDec(t, "2000", f.contract(c.ID).Balance)
}
