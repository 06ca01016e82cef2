/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the settlement domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DECIMALS:
  Quantities and money travel as JSON strings ("1250.5") in responses.
  Requests accept either a string or a bare number.

VALIDATION:
  Request structs carry go-playground/validator tags for shape (required
  fields, enums, currency codes). Numeric rules (positive, <= remaining,
  <= balance) are enforced by the settlement service.

SEE ALSO:
  - handlers.go: Uses these types
  - settlement/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/grain-ledger/generic"
	"github.com/warp/grain-ledger/settlement"
)

// =============================================================================
// REQUESTS
// =============================================================================

type CreateCultureRequest struct {
	Name       string          `json:"name" validate:"required,max=100"`
	PricePerKg decimal.Decimal `json:"price_per_kg"`
}

type UpdatePriceRequest struct {
	PricePerKg decimal.Decimal `json:"price_per_kg"`
}

type CreateFarmerRequest struct {
	FullName string `json:"full_name" validate:"required,max=200"`
	Phone    string `json:"phone" validate:"omitempty,max=32"`
}

// AccountMoveRequest credits or debits a farmer's grain account.
type AccountMoveRequest struct {
	CultureID  string          `json:"culture_id" validate:"required"`
	QuantityKg decimal.Decimal `json:"quantity_kg"`
}

type CreateIntakeRequest struct {
	FarmerID        string          `json:"farmer_id" validate:"required_unless=IsOwnGrain true"`
	CultureID       string          `json:"culture_id" validate:"required"`
	IsOwnGrain      bool            `json:"is_own_grain"`
	NetWeightKg     decimal.Decimal `json:"net_weight_kg"`
	ImpurityPercent decimal.Decimal `json:"impurity_percent"`
	PendingQuality  bool            `json:"pending_quality"`
	Note            string          `json:"note" validate:"omitempty,max=500"`
}

type ResolveQualityRequest struct {
	ImpurityPercent decimal.Decimal `json:"impurity_percent"`
}

type CreateStockGoodRequest struct {
	Name           string          `json:"name" validate:"required,max=200"`
	Category       string          `json:"category" validate:"required,oneof=fertilizer seed"`
	SalePricePerKg decimal.Decimal `json:"sale_price_per_kg"`
}

// StockMoveRequest is a reserve, release or adjustment. Adjustments take a
// signed quantity.
type StockMoveRequest struct {
	QuantityKg decimal.Decimal `json:"quantity_kg"`
	Reason     string          `json:"reason" validate:"omitempty,max=500"`
}

type PurchaseRequest struct {
	ItemName   string          `json:"item_name" validate:"required,max=200"`
	Category   string          `json:"category" validate:"required,oneof=fertilizer seed"`
	QuantityKg decimal.Decimal `json:"quantity_kg"`
	PricePerKg decimal.Decimal `json:"price_per_kg"`
	Currency   string          `json:"currency" validate:"omitempty,oneof=UAH USD EUR"`
}

type ShipmentRequest struct {
	CultureID   string          `json:"culture_id" validate:"required"`
	Destination string          `json:"destination" validate:"required,max=200"`
	QuantityKg  decimal.Decimal `json:"quantity_kg"`
}

type CashMoveRequest struct {
	Direction   string          `json:"direction" validate:"required,oneof=add subtract"`
	Currency    string          `json:"currency" validate:"required,oneof=UAH USD EUR"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"required,max=500"`
}

type ContractItemRequest struct {
	ItemType     string           `json:"item_type" validate:"required,oneof=grain purchase cash voucher"`
	CultureID    string           `json:"culture_id"`
	StockGoodID  string           `json:"stock_good_id"`
	GoodName     string           `json:"good_name" validate:"omitempty,max=200"`
	GoodCategory string           `json:"good_category" validate:"omitempty,oneof=fertilizer seed"`
	QuantityKg   decimal.Decimal  `json:"quantity_kg"`
	PricePerKg   *decimal.Decimal `json:"price_per_kg"`
}

type CreateContractRequest struct {
	OwnerID      string                `json:"owner_id" validate:"required"`
	ContractType string                `json:"contract_type" validate:"required,oneof=debt payment reserve"`
	Currency     string                `json:"currency" validate:"omitempty,oneof=UAH USD EUR"`
	ExchangeRate decimal.Decimal       `json:"exchange_rate"`
	CompanyItems []ContractItemRequest `json:"company_items" validate:"dive"`
	FarmerItems  []ContractItemRequest `json:"farmer_items" validate:"dive"`
	Note         string                `json:"note" validate:"omitempty,max=500"`
}

// PaymentRequest is the tagged union posted to /contracts/{id}/payments.
// payment_type selects which of the remaining fields are read.
type PaymentRequest struct {
	PaymentType    string          `json:"payment_type" validate:"required,oneof=goods_issue goods_receive voucher cash grain"`
	ContractItemID string          `json:"contract_item_id" validate:"required_if=PaymentType goods_issue,required_if=PaymentType goods_receive,required_if=PaymentType voucher"`
	CultureID      string          `json:"culture_id" validate:"required_if=PaymentType grain"`
	QuantityKg     decimal.Decimal `json:"quantity_kg"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency" validate:"omitempty,oneof=UAH USD EUR"`
	ExchangeRate   decimal.Decimal `json:"exchange_rate"`
}

type VoucherPaymentRequest struct {
	Currency     string          `json:"currency" validate:"omitempty,oneof=UAH USD EUR"`
	Amount       decimal.Decimal `json:"amount"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	Description  string          `json:"description" validate:"omitempty,max=500"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type CultureDTO struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	PricePerKg decimal.Decimal `json:"price_per_kg"`
	CreatedAt  time.Time       `json:"created_at"`
}

type FarmerDTO struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type HoldingDTO struct {
	CultureID   string          `json:"culture_id"`
	CultureName string          `json:"culture_name"`
	QuantityKg  decimal.Decimal `json:"quantity_kg"`
}

type EntryDTO struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Delta       decimal.Decimal `json:"delta"`
	Unit        string          `json:"unit"`
	ReferenceID string          `json:"reference_id,omitempty"`
	ReversalOf  string          `json:"reversal_of,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	CreatedBy   string          `json:"created_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type StatementLineDTO struct {
	EntryDTO
	BalanceAfter decimal.Decimal `json:"balance_after"`
}

type IntakeDTO struct {
	ID              string          `json:"id"`
	FarmerID        string          `json:"farmer_id,omitempty"`
	CultureID       string          `json:"culture_id"`
	IsOwnGrain      bool            `json:"is_own_grain"`
	NetWeightKg     decimal.Decimal `json:"net_weight_kg"`
	ImpurityPercent decimal.Decimal `json:"impurity_percent"`
	AcceptedKg      decimal.Decimal `json:"accepted_kg"`
	PendingQuality  bool            `json:"pending_quality"`
	Note            string          `json:"note,omitempty"`
	CreatedBy       string          `json:"created_by,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type StockGoodDTO struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Category       string          `json:"category"`
	SalePricePerKg decimal.Decimal `json:"sale_price_per_kg"`
	CreatedAt      time.Time       `json:"created_at"`
}

type StockDTO struct {
	CultureID        string           `json:"culture_id,omitempty"`
	StockGoodID      string           `json:"stock_good_id,omitempty"`
	Name             string           `json:"name"`
	Category         string           `json:"category,omitempty"`
	QuantityKg       decimal.Decimal  `json:"quantity_kg"`
	OwnQuantityKg    *decimal.Decimal `json:"own_quantity_kg,omitempty"`
	FarmerQuantityKg *decimal.Decimal `json:"farmer_quantity_kg,omitempty"`
	ReservedKg       decimal.Decimal  `json:"reserved_kg"`
	AvailableKg      decimal.Decimal  `json:"available_kg"`
}

type PurchaseDTO struct {
	ID          string          `json:"id"`
	StockGoodID string          `json:"stock_good_id"`
	ItemName    string          `json:"item_name"`
	Category    string          `json:"category"`
	QuantityKg  decimal.Decimal `json:"quantity_kg"`
	PricePerKg  decimal.Decimal `json:"price_per_kg"`
	Currency    string          `json:"currency"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CreatedBy   string          `json:"created_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type ShipmentDTO struct {
	ID          string          `json:"id"`
	CultureID   string          `json:"culture_id"`
	Destination string          `json:"destination"`
	QuantityKg  decimal.Decimal `json:"quantity_kg"`
	CreatedBy   string          `json:"created_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type CashTransactionDTO struct {
	ID           string          `json:"id"`
	Currency     string          `json:"currency"`
	Amount       decimal.Decimal `json:"amount"`
	Direction    string          `json:"direction"`
	Description  string          `json:"description"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	ReferenceID  string          `json:"reference_id,omitempty"`
	CreatedBy    string          `json:"created_by,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type ContractItemDTO struct {
	ID          string          `json:"id"`
	Direction   string          `json:"direction"`
	ItemType    string          `json:"item_type"`
	CultureID   string          `json:"culture_id,omitempty"`
	StockGoodID string          `json:"stock_good_id,omitempty"`
	ItemName    string          `json:"item_name"`
	QuantityKg  decimal.Decimal `json:"quantity_kg"`
	PricePerKg  decimal.Decimal `json:"price_per_kg"`
	TotalValue  decimal.Decimal `json:"total_value"`
	DeliveredKg decimal.Decimal `json:"delivered_kg"`
	RemainingKg decimal.Decimal `json:"remaining_kg"`
}

type ContractDTO struct {
	ID           string            `json:"id"`
	OwnerID      string            `json:"owner_id"`
	ContractType string            `json:"contract_type"`
	Status       string            `json:"status"`
	Currency     string            `json:"currency"`
	ExchangeRate decimal.Decimal   `json:"exchange_rate"`
	TotalValue   decimal.Decimal   `json:"total_value"`
	Balance      decimal.Decimal   `json:"balance"`
	WasReserve   bool              `json:"was_reserve"`
	Note         string            `json:"note,omitempty"`
	CreatedBy    string            `json:"created_by,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	CompanyItems []ContractItemDTO `json:"company_items"`
	FarmerItems  []ContractItemDTO `json:"farmer_items"`
}

type PaymentDTO struct {
	ID             string          `json:"id"`
	ContractID     string          `json:"contract_id"`
	PaymentType    string          `json:"payment_type"`
	ContractItemID string          `json:"contract_item_id,omitempty"`
	CultureID      string          `json:"culture_id,omitempty"`
	ItemName       string          `json:"item_name,omitempty"`
	QuantityKg     decimal.Decimal `json:"quantity_kg"`
	Amount         decimal.Decimal `json:"amount"`
	AmountBase     decimal.Decimal `json:"amount_base"`
	Currency       string          `json:"currency"`
	ExchangeRate   decimal.Decimal `json:"exchange_rate"`
	IsCancelled    bool            `json:"is_cancelled"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	PaymentDate    time.Time       `json:"payment_date"`
	CreatedBy      string          `json:"created_by,omitempty"`
}

type VoucherDTO struct {
	ID             string          `json:"id"`
	ContractID     string          `json:"contract_id"`
	ContractItemID string          `json:"contract_item_id"`
	PaymentID      string          `json:"payment_id"`
	OwnerID        string          `json:"owner_id"`
	CultureID      string          `json:"culture_id"`
	QuantityKg     decimal.Decimal `json:"quantity_kg"`
	PricePerKg     decimal.Decimal `json:"price_per_kg"`
	TotalValue     decimal.Decimal `json:"total_value"`
	IsCancelled    bool            `json:"is_cancelled"`
	CreatedAt      time.Time       `json:"created_at"`
}

type VoucherPaymentDTO struct {
	ID           string          `json:"id"`
	Currency     string          `json:"currency"`
	Amount       decimal.Decimal `json:"amount"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	AmountBase   decimal.Decimal `json:"amount_base"`
	Description  string          `json:"description,omitempty"`
	IsCancelled  bool            `json:"is_cancelled"`
	CreatedBy    string          `json:"created_by,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type VoucherSummaryDTO struct {
	Count          int             `json:"count"`
	TotalKg        decimal.Decimal `json:"total_kg"`
	TotalDebt      decimal.Decimal `json:"total_debt"`
	TotalPaid      decimal.Decimal `json:"total_paid"`
	TotalRemaining decimal.Decimal `json:"total_remaining"`
}

type VoucherStatusDTO struct {
	VoucherDTO
	Paid      decimal.Decimal `json:"paid"`
	Remaining decimal.Decimal `json:"remaining"`
	IsClosed  bool            `json:"is_closed"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toCultureDTO(c settlement.Culture) CultureDTO {
	return CultureDTO{ID: c.ID, Name: c.Name, PricePerKg: c.PricePerKg, CreatedAt: c.CreatedAt}
}

func toFarmerDTO(f settlement.Farmer) FarmerDTO {
	return FarmerDTO{ID: f.ID, FullName: f.FullName, Phone: f.Phone, CreatedAt: f.CreatedAt}
}

func toEntryDTO(e generic.Entry) EntryDTO {
	return EntryDTO{
		ID:          string(e.ID),
		Type:        string(e.Type),
		Delta:       e.Delta.Value,
		Unit:        string(e.Delta.Unit),
		ReferenceID: e.ReferenceID,
		ReversalOf:  string(e.ReversalOf),
		Reason:      e.Reason,
		CreatedBy:   e.CreatedBy,
		CreatedAt:   e.CreatedAt,
	}
}

func toIntakeDTO(in settlement.Intake) IntakeDTO {
	return IntakeDTO{
		ID:              in.ID,
		FarmerID:        in.FarmerID,
		CultureID:       in.CultureID,
		IsOwnGrain:      in.IsOwnGrain,
		NetWeightKg:     in.NetWeightKg,
		ImpurityPercent: in.ImpurityPercent,
		AcceptedKg:      in.AcceptedKg,
		PendingQuality:  in.PendingQuality,
		Note:            in.Note,
		CreatedBy:       in.CreatedBy,
		CreatedAt:       in.CreatedAt,
	}
}

func toStockGoodDTO(g settlement.StockGood) StockGoodDTO {
	return StockGoodDTO{
		ID:             g.ID,
		Name:           g.Name,
		Category:       string(g.Category),
		SalePricePerKg: g.SalePricePerKg,
		CreatedAt:      g.CreatedAt,
	}
}

func toStockDTO(s settlement.StockEntry) StockDTO {
	dto := StockDTO{
		CultureID:   s.CultureID,
		StockGoodID: s.StockGoodID,
		Name:        s.Name,
		Category:    string(s.Category),
		QuantityKg:  s.QuantityKg,
		ReservedKg:  s.ReservedKg,
		AvailableKg: s.Available(),
	}
	if s.CultureID != "" {
		own, farmer := s.OwnQuantityKg, s.FarmerQuantityKg
		dto.OwnQuantityKg = &own
		dto.FarmerQuantityKg = &farmer
	}
	return dto
}

func toPurchaseDTO(p settlement.Purchase) PurchaseDTO {
	return PurchaseDTO{
		ID:          p.ID,
		StockGoodID: p.StockGoodID,
		ItemName:    p.ItemName,
		Category:    string(p.Category),
		QuantityKg:  p.QuantityKg,
		PricePerKg:  p.PricePerKg,
		Currency:    string(p.Currency),
		TotalAmount: p.TotalAmount,
		CreatedBy:   p.CreatedBy,
		CreatedAt:   p.CreatedAt,
	}
}

func toShipmentDTO(sh settlement.Shipment) ShipmentDTO {
	return ShipmentDTO{
		ID:          sh.ID,
		CultureID:   sh.CultureID,
		Destination: sh.Destination,
		QuantityKg:  sh.QuantityKg,
		CreatedBy:   sh.CreatedBy,
		CreatedAt:   sh.CreatedAt,
	}
}

func toCashTransactionDTO(tx settlement.CashTransaction) CashTransactionDTO {
	return CashTransactionDTO{
		ID:           string(tx.ID),
		Currency:     string(tx.Currency),
		Amount:       tx.Amount,
		Direction:    string(tx.Direction),
		Description:  tx.Description,
		BalanceAfter: tx.BalanceAfter,
		ReferenceID:  tx.ReferenceID,
		CreatedBy:    tx.CreatedBy,
		CreatedAt:    tx.CreatedAt,
	}
}

func toContractDTO(c settlement.Contract) ContractDTO {
	dto := ContractDTO{
		ID:           c.ID,
		OwnerID:      c.OwnerID,
		ContractType: string(c.Type),
		Status:       string(c.Status),
		Currency:     string(c.Currency),
		ExchangeRate: c.ExchangeRate,
		TotalValue:   c.TotalValue,
		Balance:      c.Balance,
		WasReserve:   c.WasReserve,
		Note:         c.Note,
		CreatedBy:    c.CreatedBy,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		CompanyItems: []ContractItemDTO{},
		FarmerItems:  []ContractItemDTO{},
	}
	for _, it := range c.Items {
		item := ContractItemDTO{
			ID:          it.ID,
			Direction:   string(it.Direction),
			ItemType:    string(it.ItemType),
			CultureID:   it.CultureID,
			StockGoodID: it.StockGoodID,
			ItemName:    it.ItemName,
			QuantityKg:  it.QuantityKg,
			PricePerKg:  it.PricePerKg,
			TotalValue:  it.TotalValue,
			DeliveredKg: it.DeliveredKg,
			RemainingKg: it.Remaining(),
		}
		if it.Direction == settlement.FromCompany {
			dto.CompanyItems = append(dto.CompanyItems, item)
		} else {
			dto.FarmerItems = append(dto.FarmerItems, item)
		}
	}
	return dto
}

func toPaymentDTO(p settlement.ContractPayment) PaymentDTO {
	return PaymentDTO{
		ID:             p.ID,
		ContractID:     p.ContractID,
		PaymentType:    string(p.Type),
		ContractItemID: p.ContractItemID,
		CultureID:      p.CultureID,
		ItemName:       p.ItemName,
		QuantityKg:     p.QuantityKg,
		Amount:         p.Amount,
		AmountBase:     p.AmountBase,
		Currency:       string(p.Currency),
		ExchangeRate:   p.ExchangeRate,
		IsCancelled:    p.IsCancelled,
		CancelledAt:    p.CancelledAt,
		PaymentDate:    p.PaymentDate,
		CreatedBy:      p.CreatedBy,
	}
}

func toVoucherDTO(v settlement.Voucher) VoucherDTO {
	return VoucherDTO{
		ID:             v.ID,
		ContractID:     v.ContractID,
		ContractItemID: v.ContractItemID,
		PaymentID:      v.PaymentID,
		OwnerID:        v.OwnerID,
		CultureID:      v.CultureID,
		QuantityKg:     v.QuantityKg,
		PricePerKg:     v.PricePerKg,
		TotalValue:     v.TotalValue,
		IsCancelled:    v.IsCancelled,
		CreatedAt:      v.CreatedAt,
	}
}

func toVoucherPaymentDTO(p settlement.VoucherPayment) VoucherPaymentDTO {
	return VoucherPaymentDTO{
		ID:           p.ID,
		Currency:     string(p.Currency),
		Amount:       p.Amount,
		ExchangeRate: p.ExchangeRate,
		AmountBase:   p.AmountBase,
		Description:  p.Description,
		IsCancelled:  p.IsCancelled,
		CreatedBy:    p.CreatedBy,
		CreatedAt:    p.CreatedAt,
	}
}

// mapSlice converts a slice of domain values; the result is never nil so
// empty lists encode as [].
func mapSlice[T, D any](in []T, fn func(T) D) []D {
	out := make([]D, len(in))
	for i, v := range in {
		out[i] = fn(v)
	}
	return out
}
