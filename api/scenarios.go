/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Every scenario goes through the settlement
	service, so the demo data obeys the same rules as real operations.

AVAILABLE SCENARIOS:

	harvest:         Cultures, farmers, intakes (one pending quality), cash float
	debt-season:     Fertilizer on credit repaid with grain and dollars
	bakery-vouchers: Wheat vouchers issued to the bakery, partly paid
	reserve-goods:   Seed reserved before it is in stock, activated on arrival

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Seed the harvest base (cultures, farmers, intakes, cash)
 3. Run the scenario's own operations on top

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "debt-season"}

ADDING NEW SCENARIOS:
 1. Add an entry to 'scenarios' with ID, name, description and loader
 2. Write the loader: func(ctx, *settlement.Service, *harvest) error

NOTE:

	Scenarios reset the database. Only use in development/demo environments.
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/grain-ledger/generic"
	"github.com/warp/grain-ledger/settlement"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	load func(ctx context.Context, svc *settlement.Service, base *harvest) error
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "harvest",
			Name:        "Harvest",
			Description: "Grain weighed in for two farmers plus own grain; one intake waits for the lab",
		},
		load: func(context.Context, *settlement.Service, *harvest) error { return nil },
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "debt-season",
			Name:        "Debt Season",
			Description: "Fertilizer and wheat on credit, repaid with corn and dollars; a grain-for-cash payment contract",
		},
		load: loadDebtSeason,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "bakery-vouchers",
			Name:        "Bakery Vouchers",
			Description: "Wheat vouchers issued to the bakery and partly paid in hryvnia and dollars",
		},
		load: loadBakeryVouchers,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "reserve-goods",
			Name:        "Reserve Goods",
			Description: "Sunflower seed reserved before delivery, activated once the stock arrives",
		},
		load: loadReserveGoods,
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	out := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		out[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, out)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s.ScenarioDTO)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	var sc *scenario
	for i := range scenarios {
		if scenarios[i].ID == req.ScenarioID {
			sc = &scenarios[i]
		}
	}
	if sc == nil {
		writeError(w, http.StatusNotFound, "not_found", "Unknown scenario", req.ScenarioID)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := settlement.WithActor(r.Context(), "demo")
	if err := h.Store.Reset(ctx); err != nil {
		h.fail(w, r, err)
		return
	}
	h.currentScenario = ""

	base, err := seedHarvest(ctx, h.Service)
	if err == nil {
		err = sc.load(ctx, h.Service, base)
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "scenario failed", "scenario", sc.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", fmt.Sprintf("Failed to load scenario: %v", err), nil)
		return
	}

	h.currentScenario = sc.ID
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": sc.ID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// harvest holds the ids every scenario builds on.
type harvest struct {
	wheat, corn, sunflower *settlement.Culture
	ivan, olena            *settlement.Farmer
}

func num(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedHarvest(ctx context.Context, svc *settlement.Service) (*harvest, error) {
	var (
		b   harvest
		err error
	)
	if b.wheat, err = svc.CreateCulture(ctx, svc.Config().WheatCulture, num("10")); err != nil {
		return nil, err
	}
	if b.corn, err = svc.CreateCulture(ctx, "Кукурудза", num("7.5")); err != nil {
		return nil, err
	}
	if b.sunflower, err = svc.CreateCulture(ctx, "Соняшник", num("18")); err != nil {
		return nil, err
	}
	if b.ivan, err = svc.CreateFarmer(ctx, "Іван Петренко", "+380501234567"); err != nil {
		return nil, err
	}
	if b.olena, err = svc.CreateFarmer(ctx, "Олена Коваль", ""); err != nil {
		return nil, err
	}

	intakes := []settlement.IntakeInput{
		{FarmerID: b.ivan.ID, CultureID: b.wheat.ID, NetWeightKg: num("12500"), ImpurityPercent: num("2.4")},
		{FarmerID: b.ivan.ID, CultureID: b.corn.ID, NetWeightKg: num("8000"), ImpurityPercent: num("1.5")},
		{FarmerID: b.olena.ID, CultureID: b.sunflower.ID, NetWeightKg: num("5000"), PendingQuality: true, Note: "waiting for lab"},
		{CultureID: b.wheat.ID, IsOwnGrain: true, NetWeightKg: num("20000"), Note: "own field, lot 7"},
	}
	for _, in := range intakes {
		if _, err := svc.RecordIntake(ctx, in); err != nil {
			return nil, fmt.Errorf("intake: %w", err)
		}
	}

	base := svc.Config().BaseCurrency
	if _, err := svc.CashAdd(ctx, base, num("500000"), "opening float"); err != nil {
		return nil, err
	}
	if _, err := svc.CashAdd(ctx, generic.UnitUSD, num("5000"), "opening float"); err != nil {
		return nil, err
	}
	return &b, nil
}

func loadDebtSeason(ctx context.Context, svc *settlement.Service, b *harvest) error {
	fertilizer, err := svc.CreateStockGood(ctx, "Аміачна селітра", settlement.CategoryFertilizer, num("18.5"))
	if err != nil {
		return err
	}
	if _, err := svc.AdjustStock(ctx, settlement.StockRef{StockGoodID: fertilizer.ID}, num("20000"), "delivery from plant"); err != nil {
		return err
	}

	c, err := svc.CreateContract(ctx, settlement.CreateContractInput{
		OwnerID: b.ivan.ID,
		Type:    settlement.ContractDebt,
		CompanyItems: []settlement.ItemInput{
			{ItemType: settlement.ItemPurchase, StockGoodID: fertilizer.ID, QuantityKg: num("3000")},
			{ItemType: settlement.ItemGrain, CultureID: b.wheat.ID, QuantityKg: num("1000")},
		},
		FarmerItems: []settlement.ItemInput{
			{ItemType: settlement.ItemGrain, CultureID: b.corn.ID, QuantityKg: num("2000")},
		},
		Note: "spring credit",
	})
	if err != nil {
		return err
	}

	item := func(dir settlement.Direction, t settlement.ItemType) string {
		for _, it := range c.Items {
			if it.Direction == dir && it.ItemType == t {
				return it.ID
			}
		}
		return ""
	}
	payments := []settlement.PaymentRequest{
		settlement.GoodsIssue{ItemID: item(settlement.FromCompany, settlement.ItemPurchase), QuantityKg: num("1500")},
		settlement.GoodsReceive{ItemID: item(settlement.FromFarmer, settlement.ItemGrain), QuantityKg: num("2000")},
		settlement.CashPayment{Amount: num("200"), Currency: generic.UnitUSD, ExchangeRate: num("41.5")},
	}
	for _, p := range payments {
		if _, err := svc.PostPayment(ctx, c.ID, p); err != nil {
			return fmt.Errorf("%s: %w", p.PaymentType(), err)
		}
	}

	_, err = svc.CreateContract(ctx, settlement.CreateContractInput{
		OwnerID:     b.ivan.ID,
		Type:        settlement.ContractTypePayment,
		FarmerItems: []settlement.ItemInput{{ItemType: settlement.ItemGrain, CultureID: b.wheat.ID, QuantityKg: num("2000")}},
		Note:        "wheat sold for cash",
	})
	return err
}

func loadBakeryVouchers(ctx context.Context, svc *settlement.Service, b *harvest) error {
	price := num("9.5")
	c, err := svc.CreateContract(ctx, settlement.CreateContractInput{
		OwnerID: b.olena.ID,
		Type:    settlement.ContractDebt,
		CompanyItems: []settlement.ItemInput{
			{ItemType: settlement.ItemVoucher, CultureID: b.wheat.ID, QuantityKg: num("3000"), PricePerKg: &price},
		},
		Note: "bread vouchers",
	})
	if err != nil {
		return err
	}
	for _, qty := range []string{"2000", "1000"} {
		if _, err := svc.PostPayment(ctx, c.ID, settlement.VoucherIssue{ItemID: c.Items[0].ID, QuantityKg: num(qty)}); err != nil {
			return err
		}
	}

	received := []settlement.VoucherPaymentInput{
		{Amount: num("20000"), Description: "bakery, July"},
		{Amount: num("100"), Currency: generic.UnitUSD, ExchangeRate: num("41.5"), Description: "bakery, August"},
	}
	for _, in := range received {
		if _, err := svc.CreateVoucherPayment(ctx, in); err != nil {
			return err
		}
	}
	return nil
}

func loadReserveGoods(ctx context.Context, svc *settlement.Service, b *harvest) error {
	price := num("120")
	c, err := svc.CreateContract(ctx, settlement.CreateContractInput{
		OwnerID: b.olena.ID,
		Type:    settlement.ContractReserve,
		CompanyItems: []settlement.ItemInput{{
			ItemType:     settlement.ItemPurchase,
			GoodName:     "Насіння соняшнику",
			GoodCategory: settlement.CategorySeed,
			QuantityKg:   num("500"),
			PricePerKg:   &price,
		}},
		Note: "seed for next season",
	})
	if err != nil {
		return err
	}

	seed := settlement.StockRef{StockGoodID: c.Items[0].StockGoodID}
	if _, err := svc.AdjustStock(ctx, seed, num("1000"), "delivery from seed farm"); err != nil {
		return err
	}
	if c, err = svc.Activate(ctx, c.ID); err != nil {
		return err
	}
	_, err = svc.PostPayment(ctx, c.ID, settlement.GoodsIssue{ItemID: c.Items[0].ID, QuantityKg: num("200")})
	return err
}
