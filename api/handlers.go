/*
handlers.go - HTTP API handlers for the settlement ledger

PURPOSE:
  Exposes the settlement service via REST API. Handles HTTP request and
  response, JSON serialization and validation, and delegates every rule
  to settlement.Service.

ENDPOINTS:
  Reference:
    GET    /api/cultures                      List cultures
    POST   /api/cultures                      Create culture
    PUT    /api/cultures/{id}/price           Change admin price
    GET    /api/farmers                       List farmers
    POST   /api/farmers                       Create farmer
    GET    /api/farmers/{id}                  Farmer details

  Farmer accounts:
    GET    /api/farmers/{id}/balance          Grain held per culture
    GET    /api/farmers/{id}/statement        Entries of one culture (?culture_id=)
    POST   /api/farmers/{id}/credit           Manual credit
    POST   /api/farmers/{id}/debit            Manual debit

  Intake:
    GET    /api/intakes                       List (?farmer_id, culture_id, pending)
    POST   /api/intakes                       Weigh in grain
    GET    /api/intakes/{id}                  Intake details
    POST   /api/intakes/{id}/quality          Resolve or regrade impurity

  Stock and cash:
    GET    /api/stock                         Every culture and good
    GET    /api/stock/goods                   Purchase goods
    POST   /api/stock/goods                   Create purchase good
    GET    /api/stock/{kind}/{id}             One position (kind: culture | good)
    POST   /api/stock/{kind}/{id}/reserve     Reserve
    POST   /api/stock/{kind}/{id}/release     Release
    POST   /api/stock/{kind}/{id}/adjust      Signed correction
    GET    /api/cash                          Register balance per currency
    POST   /api/cash                          Add or subtract
    GET    /api/cash/transactions             History (?currency, limit)

  Contracts, payments and vouchers: see contracts.go.

ERROR HANDLING:
  Errors are returned as {"error", "code", "details"}:
  - 400: Malformed body or validation error
  - 404: Record not found
  - 409: State conflict (already cancelled, invalid transition, duplicate)
  - 422: Business rule rejected the operation (insufficient balance,
         exceeds remaining, exceeds balance, overpayment, invalid rate)
  - 500: Internal errors

ACTOR:
  The X-Actor request header names the operator; it is recorded as
  created_by on every record and ledger entry the request writes.

SEE ALSO:
  - dto.go: Request/response data structures
  - contracts.go: Contract, payment and voucher handlers
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/grain-ledger/generic"
	"github.com/warp/grain-ledger/settlement"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the part of the storage layer the API uses directly.
type Store interface {
	Ping(ctx context.Context) error
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *settlement.Service
	Store   Store

	logger   *slog.Logger
	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler.
func NewHandler(svc *settlement.Service, store Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		Service:  svc,
		Store:    store,
		logger:   logger.With("component", "api"),
		validate: validate,
	}
}

// Health reports whether the database is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "Database unreachable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func (h *Handler) ListCultures(w http.ResponseWriter, r *http.Request) {
	cultures, err := h.Service.ListCultures(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(cultures, toCultureDTO))
}

func (h *Handler) CreateCulture(w http.ResponseWriter, r *http.Request) {
	var req CreateCultureRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.Service.CreateCulture(r.Context(), req.Name, req.PricePerKg)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCultureDTO(*c))
}

func (h *Handler) UpdateCulturePrice(w http.ResponseWriter, r *http.Request) {
	var req UpdatePriceRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.Service.UpdateCulturePrice(r.Context(), chi.URLParam(r, "id"), req.PricePerKg)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCultureDTO(*c))
}

func (h *Handler) ListFarmers(w http.ResponseWriter, r *http.Request) {
	farmers, err := h.Service.ListFarmers(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(farmers, toFarmerDTO))
}

func (h *Handler) CreateFarmer(w http.ResponseWriter, r *http.Request) {
	var req CreateFarmerRequest
	if !h.decode(w, r, &req) {
		return
	}
	f, err := h.Service.CreateFarmer(r.Context(), req.FullName, req.Phone)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFarmerDTO(*f))
}

func (h *Handler) GetFarmer(w http.ResponseWriter, r *http.Request) {
	f, err := h.Service.GetFarmer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFarmerDTO(*f))
}

// =============================================================================
// FARMER ACCOUNTS
// =============================================================================

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	farmerID := chi.URLParam(r, "id")
	if _, err := h.Service.GetFarmer(r.Context(), farmerID); err != nil {
		h.fail(w, r, err)
		return
	}
	holdings, err := h.Service.Balance(r.Context(), farmerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(holdings, func(g settlement.GrainHolding) HoldingDTO {
		return HoldingDTO{CultureID: g.CultureID, CultureName: g.CultureName, QuantityKg: g.QuantityKg}
	}))
}

func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	cultureID := r.URL.Query().Get("culture_id")
	if cultureID == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "culture_id query parameter is required", nil)
		return
	}
	lines, err := h.Service.Statement(r.Context(), chi.URLParam(r, "id"), cultureID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(lines, func(l generic.StatementLine) StatementLineDTO {
		return StatementLineDTO{EntryDTO: toEntryDTO(l.Entry), BalanceAfter: l.Balance.Value}
	}))
}

func (h *Handler) Credit(w http.ResponseWriter, r *http.Request) {
	h.accountMove(w, r, h.Service.Credit)
}

func (h *Handler) Debit(w http.ResponseWriter, r *http.Request) {
	h.accountMove(w, r, h.Service.Debit)
}

func (h *Handler) accountMove(w http.ResponseWriter, r *http.Request,
	move func(ctx context.Context, farmerID, cultureID string, qty decimal.Decimal) (generic.Entry, error)) {
	var req AccountMoveRequest
	if !h.decode(w, r, &req) {
		return
	}
	e, err := move(r.Context(), chi.URLParam(r, "id"), req.CultureID, req.QuantityKg)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(e))
}

// =============================================================================
// INTAKE
// =============================================================================

func (h *Handler) ListIntakes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := settlement.IntakeFilter{FarmerID: q.Get("farmer_id"), CultureID: q.Get("culture_id")}
	if p := q.Get("pending"); p != "" {
		pending, err := strconv.ParseBool(p)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "pending must be true or false", nil)
			return
		}
		filter.PendingQuality = &pending
	}
	intakes, err := h.Service.ListIntakes(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(intakes, toIntakeDTO))
}

func (h *Handler) CreateIntake(w http.ResponseWriter, r *http.Request) {
	var req CreateIntakeRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := h.Service.RecordIntake(r.Context(), settlement.IntakeInput{
		FarmerID:        req.FarmerID,
		CultureID:       req.CultureID,
		IsOwnGrain:      req.IsOwnGrain,
		NetWeightKg:     req.NetWeightKg,
		ImpurityPercent: req.ImpurityPercent,
		PendingQuality:  req.PendingQuality,
		Note:            req.Note,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toIntakeDTO(*in))
}

func (h *Handler) GetIntake(w http.ResponseWriter, r *http.Request) {
	in, err := h.Service.GetIntake(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toIntakeDTO(*in))
}

func (h *Handler) ResolveIntakeQuality(w http.ResponseWriter, r *http.Request) {
	var req ResolveQualityRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, err := h.Service.ResolveIntakeQuality(r.Context(), chi.URLParam(r, "id"), req.ImpurityPercent)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toIntakeDTO(*in))
}

// =============================================================================
// STOCK
// =============================================================================

func (h *Handler) ListStock(w http.ResponseWriter, r *http.Request) {
	stock, err := h.Service.ListStock(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(stock, toStockDTO))
}

func (h *Handler) ListStockGoods(w http.ResponseWriter, r *http.Request) {
	goods, err := h.Service.ListStockGoods(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(goods, toStockGoodDTO))
}

func (h *Handler) CreateStockGood(w http.ResponseWriter, r *http.Request) {
	var req CreateStockGoodRequest
	if !h.decode(w, r, &req) {
		return
	}
	g, err := h.Service.CreateStockGood(r.Context(), req.Name, settlement.StockCategory(req.Category), req.SalePricePerKg)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStockGoodDTO(*g))
}

func (h *Handler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	purchases, err := h.Service.ListPurchases(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(purchases, toPurchaseDTO))
}

// RecordPurchase books goods bought for the warehouse and pays for them
// from the register.
func (h *Handler) RecordPurchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.Service.RecordPurchase(r.Context(), settlement.PurchaseInput{
		ItemName:   req.ItemName,
		Category:   settlement.StockCategory(req.Category),
		QuantityKg: req.QuantityKg,
		PricePerKg: req.PricePerKg,
		Currency:   generic.Unit(req.Currency),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPurchaseDTO(*p))
}

func (h *Handler) ListShipments(w http.ResponseWriter, r *http.Request) {
	shipments, err := h.Service.ListShipments(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(shipments, toShipmentDTO))
}

func (h *Handler) RecordShipment(w http.ResponseWriter, r *http.Request) {
	var req ShipmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	sh, err := h.Service.RecordShipment(r.Context(), settlement.ShipmentInput{
		CultureID:   req.CultureID,
		Destination: req.Destination,
		QuantityKg:  req.QuantityKg,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toShipmentDTO(*sh))
}

func (h *Handler) GetStock(w http.ResponseWriter, r *http.Request) {
	ref, ok := stockRef(w, r)
	if !ok {
		return
	}
	st, err := h.Service.Stock(r.Context(), ref)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockDTO(*st))
}

func (h *Handler) ReserveStock(w http.ResponseWriter, r *http.Request) {
	h.stockMove(w, r, h.Service.Reserve)
}

func (h *Handler) ReleaseStock(w http.ResponseWriter, r *http.Request) {
	h.stockMove(w, r, h.Service.Release)
}

func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	h.stockMove(w, r, h.Service.AdjustStock)
}

func (h *Handler) stockMove(w http.ResponseWriter, r *http.Request,
	move func(ctx context.Context, ref settlement.StockRef, qty decimal.Decimal, reason string) (*settlement.StockEntry, error)) {
	ref, ok := stockRef(w, r)
	if !ok {
		return
	}
	var req StockMoveRequest
	if !h.decode(w, r, &req) {
		return
	}
	st, err := move(r.Context(), ref, req.QuantityKg, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockDTO(*st))
}

// stockRef reads /stock/{kind}/{id}.
func stockRef(w http.ResponseWriter, r *http.Request) (settlement.StockRef, bool) {
	id := chi.URLParam(r, "id")
	switch chi.URLParam(r, "kind") {
	case "culture":
		return settlement.StockRef{CultureID: id}, true
	case "good":
		return settlement.StockRef{StockGoodID: id}, true
	}
	writeError(w, http.StatusNotFound, "not_found", "Stock kind must be culture or good", nil)
	return settlement.StockRef{}, false
}

// =============================================================================
// CASH
// =============================================================================

func (h *Handler) GetCashBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.Service.CashBalances(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make(map[string]decimal.Decimal, len(balances))
	for c, v := range balances {
		out[string(c)] = v
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) MoveCash(w http.ResponseWriter, r *http.Request) {
	var req CashMoveRequest
	if !h.decode(w, r, &req) {
		return
	}
	move := h.Service.CashAdd
	if req.Direction == string(settlement.CashSubtract) {
		move = h.Service.CashSubtract
	}
	tx, err := move(r.Context(), generic.Unit(req.Currency), req.Amount, req.Description)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCashTransactionDTO(*tx))
}

func (h *Handler) ListCashTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "limit must be a non-negative integer", nil)
			return
		}
		limit = n
	}
	txs, err := h.Service.CashTransactions(r.Context(), generic.Unit(strings.ToUpper(q.Get("currency"))), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(txs, toCashTransactionDTO))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

// decode reads and validates a JSON body. On failure the response is
// already written.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON", err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[jsonFieldPath(fe)] = fe.Tag()
			}
			writeError(w, http.StatusBadRequest, "validation_failed", "Validation failed", fields)
			return false
		}
		writeError(w, http.StatusBadRequest, "validation_failed", "Validation failed", err.Error())
		return false
	}
	return true
}

// jsonFieldPath turns "CreateContractRequest.company_items[0].item_type"
// into "company_items[0].item_type".
func jsonFieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// errorCodes maps sentinels to response codes. Order matters: the first
// match wins, so wrapped sentinels come before the ones they wrap.
var errorCodes = []struct {
	err  error
	code string
}{
	{settlement.ErrItemNotFound, "item_not_found"},
	{settlement.ErrNotFound, "not_found"},
	{generic.ErrEntryNotFound, "not_found"},
	{settlement.ErrValidation, "validation_failed"},
	{settlement.ErrInsufficientBalance, "insufficient_balance"},
	{settlement.ErrQuantityExceedsRemaining, "quantity_exceeds_remaining"},
	{settlement.ErrAmountExceedsBalance, "amount_exceeds_balance"},
	{settlement.ErrOverpaymentRejected, "overpayment_rejected"},
	{settlement.ErrInvalidRate, "invalid_rate"},
	{settlement.ErrWrongDirection, "wrong_direction"},
	{settlement.ErrWrongItemType, "wrong_item_type"},
	{settlement.ErrAlreadyCancelled, "already_cancelled"},
	{settlement.ErrInvalidTransition, "invalid_transition"},
	{settlement.ErrSettlementNotCancellable, "settlement_not_cancellable"},
	{settlement.ErrDuplicateName, "duplicate_name"},
	{settlement.ErrHasPayments, "has_payments"},
	{generic.ErrAlreadyReversed, "already_reversed"},
	{generic.ErrDuplicateIdempotencyKey, "duplicate"},
}

func errorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

func errorStatus(err error) int {
	switch {
	case settlement.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, settlement.ErrValidation):
		return http.StatusBadRequest
	case settlement.IsConflict(err):
		return http.StatusConflict
	case settlement.IsRejected(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// errorDetails exposes the numbers carried by structured errors.
func errorDetails(err error) any {
	var (
		verr *settlement.ValidationError
		rerr *settlement.RemainingError
		eerr *settlement.ExceedsError
		berr *generic.InsufficientBalanceError
		terr *settlement.InvalidTransitionError
	)
	switch {
	case errors.As(err, &verr):
		return map[string]string{"field": verr.Field}
	case errors.As(err, &rerr):
		return map[string]any{"item_id": rerr.ItemID, "remaining": rerr.Remaining, "requested": rerr.Requested}
	case errors.As(err, &eerr):
		return map[string]any{"outstanding": eerr.Outstanding, "requested": eerr.Requested}
	case errors.As(err, &berr):
		return map[string]any{
			"account":   berr.Account.String(),
			"available": berr.Available.Value,
			"requested": berr.Requested.Value,
			"shortfall": berr.Shortfall.Value,
		}
	case errors.As(err, &terr):
		return map[string]string{"contract_id": terr.ContractID, "status": string(terr.From), "action": terr.Action}
	}
	return nil
}

// fail writes the response for a service error.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Any("error", err))
		writeError(w, status, "internal", "Internal error", nil)
		return
	}
	writeError(w, status, errorCode(err), err.Error(), errorDetails(err))
}
