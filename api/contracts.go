/*
contracts.go - Contract, payment and voucher handlers

ENDPOINTS:
  Contracts:
    GET    /api/contracts                     List (?owner_id, status, type)
    POST   /api/contracts                     Create debt, reserve or payment contract
    GET    /api/contracts/{id}                Contract with items
    DELETE /api/contracts/{id}                Delete a contract without payments
    POST   /api/contracts/{id}/activate       Reserve -> debt
    POST   /api/contracts/{id}/close          Close, releasing reservations
    POST   /api/contracts/{id}/cancel         Cancel, releasing reservations
    GET    /api/contracts/{id}/payments       Payments of one contract
    POST   /api/contracts/{id}/payments       Post a payment (tagged by payment_type)

  Payments:
    GET    /api/payments                      Every payment
    GET    /api/payments/{id}                 One payment
    POST   /api/payments/{id}/cancel          Undo a payment

  Vouchers:
    GET    /api/vouchers                      Every voucher, oldest first
    GET    /api/vouchers/summary              Pool totals
    GET    /api/vouchers/statuses             FIFO allocation per voucher
    GET    /api/vouchers/payments             Cash received from the bakery
    POST   /api/vouchers/payments             Receive cash against the pool
    POST   /api/vouchers/payments/{id}/cancel Undo a voucher payment

PAYMENT BODY:
  {"payment_type": "goods_issue",   "contract_item_id": "...", "quantity_kg": "150"}
  {"payment_type": "goods_receive", "contract_item_id": "...", "quantity_kg": "150"}
  {"payment_type": "voucher",       "contract_item_id": "...", "quantity_kg": "500"}
  {"payment_type": "cash",          "amount": "100", "currency": "USD", "exchange_rate": "40"}
  {"payment_type": "grain",         "culture_id": "...", "quantity_kg": "300"}
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/warp/grain-ledger/generic"
	"github.com/warp/grain-ledger/settlement"
)

// =============================================================================
// CONTRACTS
// =============================================================================

func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	contracts, err := h.Service.ListContracts(r.Context(), settlement.ContractFilter{
		OwnerID: q.Get("owner_id"),
		Status:  settlement.ContractStatus(q.Get("status")),
		Type:    settlement.ContractType(q.Get("type")),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(contracts, toContractDTO))
}

func (h *Handler) CreateContract(w http.ResponseWriter, r *http.Request) {
	var req CreateContractRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.Service.CreateContract(r.Context(), settlement.CreateContractInput{
		OwnerID:      req.OwnerID,
		Type:         settlement.ContractType(req.ContractType),
		Currency:     generic.Unit(req.Currency),
		ExchangeRate: req.ExchangeRate,
		CompanyItems: mapSlice(req.CompanyItems, toItemInput),
		FarmerItems:  mapSlice(req.FarmerItems, toItemInput),
		Note:         req.Note,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toContractDTO(*c))
}

func toItemInput(it ContractItemRequest) settlement.ItemInput {
	return settlement.ItemInput{
		ItemType:     settlement.ItemType(it.ItemType),
		CultureID:    it.CultureID,
		StockGoodID:  it.StockGoodID,
		GoodName:     it.GoodName,
		GoodCategory: settlement.StockCategory(it.GoodCategory),
		QuantityKg:   it.QuantityKg,
		PricePerKg:   it.PricePerKg,
	}
}

func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	c, err := h.Service.GetContract(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toContractDTO(*c))
}

func (h *Handler) DeleteContract(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ActivateContract(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Service.Activate)
}

func (h *Handler) CloseContract(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Service.Close)
}

func (h *Handler) CancelContract(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Service.Cancel)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, id string) (*settlement.Contract, error)) {
	c, err := fn(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toContractDTO(*c))
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (h *Handler) ListContractPayments(w http.ResponseWriter, r *http.Request) {
	h.listPayments(w, r, chi.URLParam(r, "id"))
}

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	h.listPayments(w, r, "")
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request, contractID string) {
	payments, err := h.Service.Payments(r.Context(), contractID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(payments, toPaymentDTO))
}

func (h *Handler) PostPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	preq, err := toPaymentRequest(req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.Service.PostPayment(r.Context(), chi.URLParam(r, "id"), preq)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(*p))
}

// toPaymentRequest selects the variant named by payment_type.
func toPaymentRequest(req PaymentRequest) (settlement.PaymentRequest, error) {
	switch settlement.PaymentType(req.PaymentType) {
	case settlement.PaymentGoodsIssue:
		return settlement.GoodsIssue{ItemID: req.ContractItemID, QuantityKg: req.QuantityKg}, nil
	case settlement.PaymentGoodsReceive:
		return settlement.GoodsReceive{ItemID: req.ContractItemID, QuantityKg: req.QuantityKg}, nil
	case settlement.PaymentVoucher:
		return settlement.VoucherIssue{ItemID: req.ContractItemID, QuantityKg: req.QuantityKg}, nil
	case settlement.PaymentCash:
		return settlement.CashPayment{
			Amount:       req.Amount,
			Currency:     generic.Unit(req.Currency),
			ExchangeRate: req.ExchangeRate,
		}, nil
	case settlement.PaymentGrain:
		return settlement.GrainPayment{CultureID: req.CultureID, QuantityKg: req.QuantityKg}, nil
	}
	return nil, &settlement.ValidationError{
		Field:   "payment_type",
		Message: fmt.Sprintf("unknown payment type %q", req.PaymentType),
	}
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.GetPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*p))
}

func (h *Handler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.CancelPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*p))
}

// =============================================================================
// VOUCHERS
// =============================================================================

func (h *Handler) ListVouchers(w http.ResponseWriter, r *http.Request) {
	vouchers, err := h.Service.ListVouchers(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(vouchers, toVoucherDTO))
}

func (h *Handler) GetVoucherSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Service.VoucherSummary(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, VoucherSummaryDTO{
		Count:          sum.Count,
		TotalKg:        sum.TotalKg,
		TotalDebt:      sum.TotalDebt,
		TotalPaid:      sum.TotalPaid,
		TotalRemaining: sum.TotalRemaining,
	})
}

func (h *Handler) ListVoucherStatuses(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.Service.VoucherStatuses(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(statuses, func(s settlement.VoucherStatus) VoucherStatusDTO {
		return VoucherStatusDTO{VoucherDTO: toVoucherDTO(s.Voucher), Paid: s.Paid, Remaining: s.Remaining, IsClosed: s.IsClosed}
	}))
}

func (h *Handler) ListVoucherPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.Service.ListVoucherPayments(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(payments, toVoucherPaymentDTO))
}

func (h *Handler) CreateVoucherPayment(w http.ResponseWriter, r *http.Request) {
	var req VoucherPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.Service.CreateVoucherPayment(r.Context(), settlement.VoucherPaymentInput{
		Currency:     generic.Unit(req.Currency),
		Amount:       req.Amount,
		ExchangeRate: req.ExchangeRate,
		Description:  req.Description,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toVoucherPaymentDTO(*p))
}

func (h *Handler) CancelVoucherPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.CancelVoucherPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toVoucherPaymentDTO(*p))
}
