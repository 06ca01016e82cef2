package settlement_test

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/grain-ledger/generic"
	"github.com/warp/grain-ledger/settlement"
)

// =============================================================================
// CANCEL RESTORES EVERYTHING
// =============================================================================

// mixedContract opens a debt contract with one item of every kind:
//
//	company: wheat 300, fertilizer 200, cash 2000, wheat voucher 100
//	farmer:  wheat 300, fertilizer 50, cash 500
func (f *fixture) mixedContract() (*settlement.Contract, *settlement.StockGood) {
	f.t.Helper()
	f.ownIntake(f.wheat.ID, "1000")
	f.intake(f.farmer.ID, f.wheat.ID, "1000")
	g := f.good("Аміачна селітра", "20", "1000")
	c, err := f.svc.CreateContract(f.ctx, settlement.CreateContractInput{
		OwnerID: f.farmer.ID,
		Type:    settlement.ContractDebt,
		CompanyItems: []settlement.ItemInput{
			{ItemType: settlement.ItemGrain, CultureID: f.wheat.ID, QuantityKg: dec("300")},
			{ItemType: settlement.ItemPurchase, StockGoodID: g.ID, QuantityKg: dec("200")},
			{ItemType: settlement.ItemCash, QuantityKg: dec("2000")},
			{ItemType: settlement.ItemVoucher, CultureID: f.wheat.ID, QuantityKg: dec("100")},
		},
		FarmerItems: []settlement.ItemInput{
			{ItemType: settlement.ItemGrain, CultureID: f.wheat.ID, QuantityKg: dec("300")},
			{ItemType: settlement.ItemPurchase, StockGoodID: g.ID, QuantityKg: dec("50")},
			{ItemType: settlement.ItemCash, QuantityKg: dec("500")},
		},
	})
	require.NoError(f.t, err)
	assertDec(f.t, "10000", c.Balance)
	return c, g
}

// state captures every balance a payment can touch.
func (f *fixture) state(contractID, goodID string) map[string]string {
	f.t.Helper()
	c := f.contract(contractID)
	wheat := f.stock(settlement.StockRef{CultureID: f.wheat.ID})
	good := f.stock(settlement.StockRef{StockGoodID: goodID})
	vouchers, err := f.svc.VoucherSummary(f.ctx)
	require.NoError(f.t, err)

	out := map[string]string{
		"contract.balance":   c.Balance.String(),
		"farmer.wheat":       f.farmerKg(f.wheat.ID).String(),
		"cash.UAH":           f.cash(generic.UnitUAH).String(),
		"cash.USD":           f.cash(generic.UnitUSD).String(),
		"wheat.own":          wheat.OwnQuantityKg.String(),
		"wheat.farmer":       wheat.FarmerQuantityKg.String(),
		"wheat.reserved":     wheat.ReservedKg.String(),
		"good.quantity":      good.QuantityKg.String(),
		"good.reserved":      good.ReservedKg.String(),
		"vouchers.total_kg":  vouchers.TotalKg.String(),
		"vouchers.remaining": vouchers.TotalRemaining.String(),
	}
	for i, it := range c.Items {
		out[fmt.Sprintf("item.%d.delivered", i)] = it.DeliveredKg.String()
	}
	return out
}

func TestCancelPayment_RestoresEveryPaymentType(t *testing.T) {
	// Item positions in mixedContract
	const (
		companyGrain = iota
		companyGood
		companyCash
		companyVoucher
		farmerGrain
		farmerGood
		farmerCash
	)
	tests := []struct {
		name string
		req  func(c *settlement.Contract) settlement.PaymentRequest
	}{
		{"goods issue grain", func(c *settlement.Contract) settlement.PaymentRequest {
			return settlement.GoodsIssue{ItemID: c.Items[companyGrain].ID, QuantityKg: dec("100")}
		}},
		{"goods issue purchase", func(c *settlement.Contract) settlement.PaymentRequest {
			return settlement.GoodsIssue{ItemID: c.Items[companyGood].ID, QuantityKg: dec("50")}
		}},
		{"goods issue cash", func(c *settlement.Contract) settlement.PaymentRequest {
			return settlement.GoodsIssue{ItemID: c.Items[companyCash].ID, QuantityKg: dec("400")}
		}},
		{"goods receive grain", func(c *settlement.Contract) settlement.PaymentRequest {
			return settlement.GoodsReceive{ItemID: c.Items[farmerGrain].ID, QuantityKg: dec("100")}
		}},
		{"goods receive purchase", func(c *settlement.Contract) settlement.PaymentRequest {
			return settlement.GoodsReceive{ItemID: c.Items[farmerGood].ID, QuantityKg: dec("20")}
		}},
		{"goods receive cash", func(c *settlement.Contract) settlement.PaymentRequest {
			return settlement.GoodsReceive{ItemID: c.Items[farmerCash].ID, QuantityKg: dec("100")}
		}},
		{"voucher issue", func(c *settlement.Contract) settlement.PaymentRequest {
			return settlement.VoucherIssue{ItemID: c.Items[companyVoucher].ID, QuantityKg: dec("40")}
		}},
		{"cash in base currency", func(c *settlement.Contract) settlement.PaymentRequest {
			return settlement.CashPayment{Amount: dec("700")}
		}},
		{"cash in foreign currency", func(c *settlement.Contract) settlement.PaymentRequest {
			return settlement.CashPayment{Amount: dec("100"), Currency: generic.UnitUSD, ExchangeRate: dec("40")}
		}},
		{"grain payment", func(c *settlement.Contract) settlement.PaymentRequest {
			return settlement.GrainPayment{CultureID: c.Items[farmerGrain].CultureID, QuantityKg: dec("150")}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN: A contract with every kind of item
			f := newFixture(t)
			c, g := f.mixedContract()
			before := f.state(c.ID, g.ID)

			// WHEN: A payment is posted and then cancelled
			p, err := f.svc.PostPayment(f.ctx, c.ID, tt.req(c))
			require.NoError(t, err)
			posted := f.state(c.ID, g.ID)
			_, err = f.svc.CancelPayment(f.ctx, p.ID)
			require.NoError(t, err)

			// THEN: The payment moved something and the cancel put all of it back
			assert.NotEqual(t, before, posted)
			assert.NotEqual(t, before["contract.balance"], posted["contract.balance"])
			assert.Equal(t, before, f.state(c.ID, g.ID))
		})
	}
}

// =============================================================================
// CONCURRENT POSTS
// =============================================================================

func TestPostPayment_ConcurrentIssuesNeverOverDeliver(t *testing.T) {
	// GIVEN: A 10 kg item
	f := newFixture(t)
	c, g := f.debtWithGoods("10", "10")
	itemID := c.Items[0].ID

	// WHEN: 20 clients issue 1 kg each at the same time
	var wg sync.WaitGroup
	var ok, rejected atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.PostPayment(f.ctx, c.ID, settlement.GoodsIssue{ItemID: itemID, QuantityKg: dec("1")})
			switch {
			case err == nil:
				ok.Add(1)
			case assert.ErrorIs(t, err, settlement.ErrQuantityExceedsRemaining):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	// THEN: Exactly the item quantity went out
	assert.Equal(t, int32(10), ok.Load())
	assert.Equal(t, int32(10), rejected.Load())
	got := f.contract(c.ID)
	assertDec(t, "10", got.Items[0].DeliveredKg)
	assertDec(t, "0", got.Balance)

	st := f.stock(settlement.StockRef{StockGoodID: g.ID})
	assertDec(t, "9990", st.QuantityKg)
	assertDec(t, "0", st.ReservedKg)

	payments, err := f.svc.Payments(f.ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 10)
}
