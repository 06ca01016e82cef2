/*
handlers_test.go - HTTP tests for the settlement API

Tests for:
- Status codes and error bodies ({error, code, details})
- Tagged payment decoding and cancellation over HTTP
- Middleware: actor header, security headers, rate limiting
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/grain-ledger/settlement"
	"github.com/warp/grain-ledger/store/sqlite"
)

type testAPI struct {
	t      *testing.T
	ctx    context.Context
	svc    *settlement.Service
	router http.Handler

	wheat  *settlement.Culture
	farmer *settlement.Farmer
}

func newTestAPI(t *testing.T, opts RouterOptions) *testAPI {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := settlement.NewService(store, settlement.DefaultConfig(), logger)
	opts.Logger = logger
	a := &testAPI{
		t:      t,
		ctx:    context.Background(),
		svc:    svc,
		router: NewRouter(NewHandler(svc, store, logger), opts),
	}

	a.wheat, err = svc.CreateCulture(a.ctx, "Пшениця", decimal.NewFromInt(10))
	require.NoError(t, err)
	a.farmer, err = svc.CreateFarmer(a.ctx, "Іван Петренко", "")
	require.NoError(t, err)
	return a
}

// do sends a request and decodes a JSON response into out when out is non-nil.
func (a *testAPI) do(method, path string, body any, out any, headers ...string) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec
}

func (a *testAPI) errorBody(rec *httptest.ResponseRecorder) ErrorResponse {
	a.t.Helper()
	var e ErrorResponse
	require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &e), rec.Body.String())
	return e
}

// debtContract puts own wheat in stock and opens a debt contract for
// qty kg of it.
func (a *testAPI) debtContract(qty string) *settlement.Contract {
	a.t.Helper()
	_, err := a.svc.RecordIntake(a.ctx, settlement.IntakeInput{
		CultureID: a.wheat.ID, IsOwnGrain: true, NetWeightKg: decimal.RequireFromString("10000"),
	})
	require.NoError(a.t, err)
	c, err := a.svc.CreateContract(a.ctx, settlement.CreateContractInput{
		OwnerID: a.farmer.ID,
		Type:    settlement.ContractDebt,
		CompanyItems: []settlement.ItemInput{
			{ItemType: settlement.ItemGrain, CultureID: a.wheat.ID, QuantityKg: decimal.RequireFromString(qty)},
		},
	})
	require.NoError(a.t, err)
	return c
}

// =============================================================================
// REFERENCE DATA AND VALIDATION
// =============================================================================

func TestHealth(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})

	rec := a.do(http.MethodGet, "/api/healthz", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreateCulture(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})

	var c CultureDTO
	rec := a.do(http.MethodPost, "/api/cultures", map[string]any{"name": "Ячмінь", "price_per_kg": "6.25"}, &c)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Ячмінь", c.Name)
	assert.Equal(t, "6.25", c.PricePerKg.String())

	// Bare JSON numbers are accepted as well
	rec = a.do(http.MethodPut, "/api/cultures/"+c.ID+"/price", `{"price_per_kg": 7}`, &c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "7", c.PricePerKg.String())
}

func TestCreateCulture_Errors(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})

	tests := []struct {
		name     string
		body     any
		status   int
		code     string
		checkErr func(t *testing.T, e ErrorResponse)
	}{
		{
			name:   "malformed json",
			body:   `{"name": `,
			status: http.StatusBadRequest,
			code:   "invalid_json",
		},
		{
			name:   "missing name",
			body:   map[string]any{"price_per_kg": "5"},
			status: http.StatusBadRequest,
			code:   "validation_failed",
			checkErr: func(t *testing.T, e ErrorResponse) {
				assert.Equal(t, map[string]any{"name": "required"}, e.Details)
			},
		},
		{
			name:   "negative price",
			body:   map[string]any{"name": "Ячмінь", "price_per_kg": "-1"},
			status: http.StatusBadRequest,
			code:   "validation_failed",
			checkErr: func(t *testing.T, e ErrorResponse) {
				assert.Equal(t, map[string]any{"field": "price_per_kg"}, e.Details)
			},
		},
		{
			name:   "duplicate",
			body:   map[string]any{"name": "Пшениця", "price_per_kg": "5"},
			status: http.StatusConflict,
			code:   "duplicate_name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(http.MethodPost, "/api/cultures", tt.body, nil)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			e := a.errorBody(rec)
			assert.Equal(t, tt.code, e.Code)
			assert.NotEmpty(t, e.Error)
			if tt.checkErr != nil {
				tt.checkErr(t, e)
			}
		})
	}
}

func TestNotFound(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})

	for _, path := range []string{"/api/farmers/missing", "/api/contracts/missing", "/api/payments/missing", "/api/stock/culture/missing", "/api/stock/truck/x"} {
		rec := a.do(http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "not_found", a.errorBody(rec).Code, path)
	}
}

// =============================================================================
// INTAKE AND BALANCE
// =============================================================================

func TestIntake_CreditsBalance(t *testing.T) {
	// GIVEN: A farmer without grain
	a := newTestAPI(t, RouterOptions{})

	// WHEN: A truck is weighed in through the API
	var in IntakeDTO
	rec := a.do(http.MethodPost, "/api/intakes", map[string]any{
		"farmer_id":        a.farmer.ID,
		"culture_id":       a.wheat.ID,
		"net_weight_kg":    "12500",
		"impurity_percent": "2.4",
	}, &in, ActorHeader, "weigher-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// THEN: The net weight is credited and the actor recorded
	assert.Equal(t, "12200", in.AcceptedKg.String())
	assert.Equal(t, "weigher-1", in.CreatedBy)

	var holdings []HoldingDTO
	rec = a.do(http.MethodGet, "/api/farmers/"+a.farmer.ID+"/balance", nil, &holdings)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, holdings, 1)
	assert.Equal(t, "Пшениця", holdings[0].CultureName)
	assert.Equal(t, "12200", holdings[0].QuantityKg.String())

	var lines []StatementLineDTO
	rec = a.do(http.MethodGet, "/api/farmers/"+a.farmer.ID+"/statement?culture_id="+a.wheat.ID, nil, &lines)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, lines, 1)
	assert.Equal(t, in.ID, lines[0].ReferenceID)
}

func TestIntake_FarmerRequiredUnlessOwnGrain(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})

	rec := a.do(http.MethodPost, "/api/intakes", map[string]any{"culture_id": a.wheat.ID, "net_weight_kg": "10"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"farmer_id": "required_unless"}, a.errorBody(rec).Details)

	rec = a.do(http.MethodPost, "/api/intakes", map[string]any{"culture_id": a.wheat.ID, "is_own_grain": true, "net_weight_kg": "10"}, nil)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestDebit_Insufficient(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})

	rec := a.do(http.MethodPost, "/api/farmers/"+a.farmer.ID+"/debit", map[string]any{"culture_id": a.wheat.ID, "quantity_kg": "5"}, nil)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	e := a.errorBody(rec)
	assert.Equal(t, "insufficient_balance", e.Code)
	details, ok := e.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "5", details["shortfall"])
}

// =============================================================================
// CONTRACTS AND PAYMENTS
// =============================================================================

func TestCreateContract_PaymentContractSettlesImmediately(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	_, err := a.svc.RecordIntake(a.ctx, settlement.IntakeInput{
		FarmerID: a.farmer.ID, CultureID: a.wheat.ID, NetWeightKg: decimal.NewFromInt(1000),
	})
	require.NoError(t, err)

	var c ContractDTO
	rec := a.do(http.MethodPost, "/api/contracts", map[string]any{
		"owner_id":      a.farmer.ID,
		"contract_type": "payment",
		"farmer_items":  []map[string]any{{"item_type": "grain", "culture_id": a.wheat.ID, "quantity_kg": "1000"}},
	}, &c)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "closed", c.Status)
	assert.Equal(t, "0", c.Balance.String())
	assert.Equal(t, "10000", c.TotalValue.String())
	require.Len(t, c.FarmerItems, 1)
	assert.Empty(t, c.CompanyItems)

	var cash map[string]decimal.Decimal
	a.do(http.MethodGet, "/api/cash", nil, &cash)
	assert.Equal(t, "-10000", cash["UAH"].String())
}

func TestCreateContract_ItemValidation(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})

	rec := a.do(http.MethodPost, "/api/contracts", map[string]any{
		"owner_id":      a.farmer.ID,
		"contract_type": "debt",
		"company_items": []map[string]any{{"item_type": "tractor", "quantity_kg": "1"}},
	}, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"company_items[0].item_type": "oneof"}, a.errorBody(rec).Details)
}

func TestPostPayment_CashInForeignCurrency(t *testing.T) {
	// GIVEN: A debt contract of 5000 UAH
	a := newTestAPI(t, RouterOptions{})
	c := a.debtContract("500")

	// WHEN: 100 USD is paid at 40
	var p PaymentDTO
	rec := a.do(http.MethodPost, "/api/contracts/"+c.ID+"/payments", map[string]any{
		"payment_type":  "cash",
		"amount":        "100",
		"currency":      "USD",
		"exchange_rate": "40",
	}, &p)

	// THEN: 4000 UAH is settled
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "cash", p.PaymentType)
	assert.Equal(t, "4000", p.AmountBase.String())

	var got ContractDTO
	a.do(http.MethodGet, "/api/contracts/"+c.ID, nil, &got)
	assert.Equal(t, "1000", got.Balance.String())

	// AND: Paying past the balance is rejected with the numbers
	rec = a.do(http.MethodPost, "/api/contracts/"+c.ID+"/payments", map[string]any{
		"payment_type": "cash", "amount": "1000.01",
	}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	e := a.errorBody(rec)
	assert.Equal(t, "amount_exceeds_balance", e.Code)
	assert.Equal(t, map[string]any{"outstanding": "1000", "requested": "1000.01"}, e.Details)

	// AND: The payment can be cancelled exactly once
	rec = a.do(http.MethodPost, "/api/payments/"+p.ID+"/cancel", nil, &p)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, p.IsCancelled)
	require.NotNil(t, p.CancelledAt)

	rec = a.do(http.MethodPost, "/api/payments/"+p.ID+"/cancel", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_cancelled", a.errorBody(rec).Code)

	a.do(http.MethodGet, "/api/contracts/"+c.ID, nil, &got)
	assert.Equal(t, "5000", got.Balance.String())
}

func TestPostPayment_GoodsIssueBeyondRemaining(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	c := a.debtContract("500")
	path := "/api/contracts/" + c.ID + "/payments"

	rec := a.do(http.MethodPost, path, map[string]any{
		"payment_type": "goods_issue", "contract_item_id": c.Items[0].ID, "quantity_kg": "300",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(http.MethodPost, path, map[string]any{
		"payment_type": "goods_issue", "contract_item_id": c.Items[0].ID, "quantity_kg": "250",
	}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	e := a.errorBody(rec)
	assert.Equal(t, "quantity_exceeds_remaining", e.Code)
	assert.Equal(t, map[string]any{"item_id": c.Items[0].ID, "remaining": "200", "requested": "250"}, e.Details)

	var payments []PaymentDTO
	a.do(http.MethodGet, path, nil, &payments)
	assert.Len(t, payments, 1)
}

func TestPostPayment_TaggedBodyValidation(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	c := a.debtContract("500")
	path := "/api/contracts/" + c.ID + "/payments"

	rec := a.do(http.MethodPost, path, map[string]any{"payment_type": "barter", "quantity_kg": "1"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"payment_type": "oneof"}, a.errorBody(rec).Details)

	rec = a.do(http.MethodPost, path, map[string]any{"payment_type": "goods_issue", "quantity_kg": "1"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"contract_item_id": "required_if"}, a.errorBody(rec).Details)

	rec = a.do(http.MethodPost, path, map[string]any{"payment_type": "goods_receive", "contract_item_id": c.Items[0].ID, "quantity_kg": "1"}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "wrong_direction", a.errorBody(rec).Code)
}

func TestPostPayment_IdempotencyKey(t *testing.T) {
	// GIVEN: A debt contract worth 5000
	a := newTestAPI(t, RouterOptions{})
	c := a.debtContract("500")
	path := "/api/contracts/" + c.ID + "/payments"
	body := map[string]any{"payment_type": "goods_issue", "contract_item_id": c.Items[0].ID, "quantity_kg": "100"}

	// WHEN: The same request is submitted twice with one key
	rec := a.do(http.MethodPost, path, body, nil, IdempotencyHeader, "issue-2025-07-01-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = a.do(http.MethodPost, path, body, nil, IdempotencyHeader, "issue-2025-07-01-1")

	// THEN: The second one is a conflict and only 100 kg left the warehouse
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate", a.errorBody(rec).Code)

	var got ContractDTO
	a.do(http.MethodGet, "/api/contracts/"+c.ID, nil, &got)
	assert.Equal(t, "4000", got.Balance.String())

	// AND: A fresh key posts normally
	rec = a.do(http.MethodPost, path, body, nil, IdempotencyHeader, "issue-2025-07-01-2")
	require.Equal(t, http.StatusCreated, rec.Code)
	a.do(http.MethodGet, "/api/contracts/"+c.ID, nil, &got)
	assert.Equal(t, "3000", got.Balance.String())
}

func TestPostPayment_RejectedRequestDoesNotSpendKey(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	c := a.debtContract("500")
	path := "/api/contracts/" + c.ID + "/payments"

	rec := a.do(http.MethodPost, path, map[string]any{
		"payment_type": "goods_issue", "contract_item_id": c.Items[0].ID, "quantity_kg": "600",
	}, nil, IdempotencyHeader, "retry-me")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = a.do(http.MethodPost, path, map[string]any{
		"payment_type": "goods_issue", "contract_item_id": c.Items[0].ID, "quantity_kg": "500",
	}, nil, IdempotencyHeader, "retry-me")
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestContractTransitions(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	c := a.debtContract("500")

	var got ContractDTO
	rec := a.do(http.MethodPost, "/api/contracts/"+c.ID+"/activate", nil, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	e := a.errorBody(rec)
	assert.Equal(t, "invalid_transition", e.Code)
	assert.Equal(t, map[string]any{"contract_id": c.ID, "status": "open", "action": "activate"}, e.Details)

	rec = a.do(http.MethodPost, "/api/contracts/"+c.ID+"/close", nil, &got)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "closed", got.Status)

	var list []ContractDTO
	a.do(http.MethodGet, "/api/contracts?status=closed&owner_id="+a.farmer.ID, nil, &list)
	assert.Len(t, list, 1)
	a.do(http.MethodGet, "/api/contracts?status=open", nil, &list)
	assert.Empty(t, list)
}

func TestDeleteContract(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	c := a.debtContract("500")

	rec := a.do(http.MethodDelete, "/api/contracts/"+c.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(http.MethodGet, "/api/contracts/"+c.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// STOCK, CASH AND VOUCHERS
// =============================================================================

func TestStock_ReserveOverHTTP(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})
	_, err := a.svc.RecordIntake(a.ctx, settlement.IntakeInput{
		CultureID: a.wheat.ID, IsOwnGrain: true, NetWeightKg: decimal.NewFromInt(1000),
	})
	require.NoError(t, err)
	path := "/api/stock/culture/" + a.wheat.ID

	var st StockDTO
	rec := a.do(http.MethodPost, path+"/reserve", map[string]any{"quantity_kg": "600", "reason": "seed program"}, &st)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "600", st.ReservedKg.String())
	assert.Equal(t, "400", st.AvailableKg.String())
	require.NotNil(t, st.OwnQuantityKg)
	assert.Equal(t, "1000", st.OwnQuantityKg.String())

	rec = a.do(http.MethodPost, path+"/adjust", map[string]any{"quantity_kg": "-500", "reason": "spoiled"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var goods []StockGoodDTO
	rec = a.do(http.MethodPost, "/api/stock/goods", map[string]any{"name": "Суперфосфат", "category": "fertilizer", "sale_price_per_kg": "15"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	a.do(http.MethodGet, "/api/stock/goods", nil, &goods)
	assert.Len(t, goods, 1)

	var all []StockDTO
	a.do(http.MethodGet, "/api/stock", nil, &all)
	assert.Len(t, all, 2)
}

func TestStock_PurchaseAndShipmentOverHTTP(t *testing.T) {
	// GIVEN: 1000 kg of own wheat and an empty register
	a := newTestAPI(t, RouterOptions{})
	_, err := a.svc.RecordIntake(a.ctx, settlement.IntakeInput{
		CultureID: a.wheat.ID, IsOwnGrain: true, NetWeightKg: decimal.NewFromInt(1000),
	})
	require.NoError(t, err)

	// WHEN: Seed is bought and wheat is shipped
	var p PurchaseDTO
	rec := a.do(http.MethodPost, "/api/stock/purchases", map[string]any{
		"item_name": "Насіння кукурудзи", "category": "seed", "quantity_kg": "40", "price_per_kg": "95.5",
	}, &p)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var sh ShipmentDTO
	rec = a.do(http.MethodPost, "/api/stock/shipments", map[string]any{
		"culture_id": a.wheat.ID, "destination": "Одеса", "quantity_kg": "600",
	}, &sh)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// THEN: Stock and register follow
	assert.Equal(t, "3820", p.TotalAmount.String())
	assert.Equal(t, "UAH", p.Currency)

	var st StockDTO
	a.do(http.MethodGet, "/api/stock/good/"+p.StockGoodID, nil, &st)
	assert.Equal(t, "40", st.QuantityKg.String())
	a.do(http.MethodGet, "/api/stock/culture/"+a.wheat.ID, nil, &st)
	assert.Equal(t, "400", st.QuantityKg.String())

	var cash map[string]decimal.Decimal
	a.do(http.MethodGet, "/api/cash", nil, &cash)
	assert.Equal(t, "-3820", cash["UAH"].String())

	var purchases []PurchaseDTO
	a.do(http.MethodGet, "/api/stock/purchases", nil, &purchases)
	assert.Len(t, purchases, 1)
	var shipments []ShipmentDTO
	a.do(http.MethodGet, "/api/stock/shipments", nil, &shipments)
	require.Len(t, shipments, 1)
	assert.Equal(t, "Одеса", shipments[0].Destination)

	// AND: Shipping more than is left is refused
	rec = a.do(http.MethodPost, "/api/stock/shipments", map[string]any{
		"culture_id": a.wheat.ID, "destination": "Одеса", "quantity_kg": "401",
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// AND: The body is validated
	rec = a.do(http.MethodPost, "/api/stock/purchases", map[string]any{
		"item_name": "Сіль", "category": "salt", "quantity_kg": "1", "price_per_kg": "1",
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"category": "oneof"}, a.errorBody(rec).Details)
}

func TestCash_MoveAndHistory(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})

	var tx CashTransactionDTO
	rec := a.do(http.MethodPost, "/api/cash", map[string]any{
		"direction": "add", "currency": "EUR", "amount": "250", "description": "exchange",
	}, &tx)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "250", tx.BalanceAfter.String())

	rec = a.do(http.MethodPost, "/api/cash", map[string]any{
		"direction": "subtract", "currency": "EUR", "amount": "50", "description": "diesel",
	}, &tx)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "200", tx.BalanceAfter.String())

	var history []CashTransactionDTO
	a.do(http.MethodGet, "/api/cash/transactions?currency=eur&limit=1", nil, &history)
	require.Len(t, history, 1)
	assert.Equal(t, "diesel", history[0].Description)

	rec = a.do(http.MethodGet, "/api/cash/transactions?limit=-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/api/cash", map[string]any{
		"direction": "add", "currency": "GBP", "amount": "1", "description": "x",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVouchers_OverpaymentRejected(t *testing.T) {
	// GIVEN: A 4000 UAH wheat voucher
	a := newTestAPI(t, RouterOptions{})
	price := decimal.NewFromInt(8)
	c, err := a.svc.CreateContract(a.ctx, settlement.CreateContractInput{
		OwnerID: a.farmer.ID,
		Type:    settlement.ContractDebt,
		CompanyItems: []settlement.ItemInput{
			{ItemType: settlement.ItemVoucher, CultureID: a.wheat.ID, QuantityKg: decimal.NewFromInt(500), PricePerKg: &price},
		},
	})
	require.NoError(t, err)
	rec := a.do(http.MethodPost, "/api/contracts/"+c.ID+"/payments", map[string]any{
		"payment_type": "voucher", "contract_item_id": c.Items[0].ID, "quantity_kg": "500",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// WHEN: The bakery pays more than it owes
	rec = a.do(http.MethodPost, "/api/vouchers/payments", map[string]any{"amount": "4000.01"}, nil)

	// THEN: It is rejected and nothing is recorded
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "overpayment_rejected", a.errorBody(rec).Code)

	var sum VoucherSummaryDTO
	a.do(http.MethodGet, "/api/vouchers/summary", nil, &sum)
	assert.Equal(t, 1, sum.Count)
	assert.Equal(t, "4000", sum.TotalRemaining.String())

	// WHEN: It pays part of it
	var vp VoucherPaymentDTO
	rec = a.do(http.MethodPost, "/api/vouchers/payments", map[string]any{"amount": "1500", "description": "bakery"}, &vp)
	require.Equal(t, http.StatusCreated, rec.Code)

	// THEN: The voucher shows the FIFO allocation
	var statuses []VoucherStatusDTO
	a.do(http.MethodGet, "/api/vouchers/statuses", nil, &statuses)
	require.Len(t, statuses, 1)
	assert.Equal(t, "1500", statuses[0].Paid.String())
	assert.Equal(t, "2500", statuses[0].Remaining.String())

	rec = a.do(http.MethodPost, "/api/vouchers/payments/"+vp.ID+"/cancel", nil, &vp)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, vp.IsCancelled)
}

func TestVouchers_PaymentIdempotencyKey(t *testing.T) {
	// GIVEN: A 4000 UAH wheat voucher
	a := newTestAPI(t, RouterOptions{})
	price := decimal.NewFromInt(8)
	c, err := a.svc.CreateContract(a.ctx, settlement.CreateContractInput{
		OwnerID: a.farmer.ID,
		Type:    settlement.ContractDebt,
		CompanyItems: []settlement.ItemInput{
			{ItemType: settlement.ItemVoucher, CultureID: a.wheat.ID, QuantityKg: decimal.NewFromInt(500), PricePerKg: &price},
		},
	})
	require.NoError(t, err)
	_, err = a.svc.PostPayment(a.ctx, c.ID, settlement.VoucherIssue{ItemID: c.Items[0].ID, QuantityKg: decimal.NewFromInt(500)})
	require.NoError(t, err)

	// WHEN: The bakery's payment is submitted twice
	body := map[string]any{"amount": "1500", "description": "bakery"}
	rec := a.do(http.MethodPost, "/api/vouchers/payments", body, nil, IdempotencyHeader, "bakery-0701")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = a.do(http.MethodPost, "/api/vouchers/payments", body, nil, IdempotencyHeader, "bakery-0701")

	// THEN: It is counted once
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate", a.errorBody(rec).Code)

	var sum VoucherSummaryDTO
	a.do(http.MethodGet, "/api/vouchers/summary", nil, &sum)
	assert.Equal(t, "1500", sum.TotalPaid.String())
	assert.Equal(t, "2500", sum.TotalRemaining.String())
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func TestMiddleware_SecurityHeaders(t *testing.T) {
	a := newTestAPI(t, RouterOptions{})

	rec := a.do(http.MethodGet, "/api/healthz", nil, nil)

	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestMiddleware_RateLimit(t *testing.T) {
	a := newTestAPI(t, RouterOptions{RateLimitPerMinute: 2})

	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/healthz", nil, nil).Code)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/healthz", nil, nil).Code)

	rec := a.do(http.MethodGet, "/api/healthz", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", a.errorBody(rec).Code)
}

func TestMiddleware_CORSAllowsIdempotencyHeader(t *testing.T) {
	a := newTestAPI(t, RouterOptions{CORSOrigins: []string{"http://localhost:5173"}})

	rec := a.do(http.MethodOptions, "/api/vouchers/payments", nil, nil,
		"Origin", "http://localhost:5173",
		"Access-Control-Request-Method", http.MethodPost,
		"Access-Control-Request-Headers", IdempotencyHeader)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), IdempotencyHeader)
}
