/*
Package settlement implements the farmer settlement ledger.

PURPOSE:
  Tracks what the elevator owes each farmer and what each farmer owes the
  elevator: grain credited at intake, contracts that commit goods, grain
  and cash in either direction, partial deliveries against those contracts,
  and vouchers issued to the bakery. Every balance it touches lives in the
  generic posting ledger, so any operation can be cancelled by reversing
  exactly the entries it wrote.

ACCOUNTS (generic.AccountKey):
  farmer_grain   holder=<farmer id>  asset=<culture id>  kg the farmer can still be paid for
  stock_own      holder=culture      asset=<culture id>  company-owned grain in the silo
  stock_farmer   holder=culture      asset=<culture id>  farmer-owned grain in the silo
  stock_goods    holder=good         asset=<good id>     purchase goods (fertilizer, seed)
  stock_reserved holder=culture|good asset=<id>          stock earmarked for open contracts
  cash           holder=register     asset=UAH|USD|EUR   cash register

KEY TYPES (this file):
  Culture, Farmer, StockGood         reference data
  Contract, ContractItem             what was agreed
  ContractPayment, PaymentDelta      what was settled and how to undo it
  Voucher, VoucherPayment            the bakery sub-ledger
  Intake                             grain arriving at the elevator

SEE ALSO:
  - service.go: Service, Repository, Config
  - contract.go / payment.go / voucher.go: operations
*/
package settlement

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/grain-ledger/generic"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

const (
	KindFarmerGrain   generic.AccountKind = "farmer_grain"
	KindStockOwn      generic.AccountKind = "stock_own"
	KindStockFarmer   generic.AccountKind = "stock_farmer"
	KindStockGoods    generic.AccountKind = "stock_goods"
	KindStockReserved generic.AccountKind = "stock_reserved"
	KindCash          generic.AccountKind = "cash"
	KindRequest       generic.AccountKind = "request"
)

const (
	holderCulture  = "culture"
	holderGood     = "good"
	holderRegister = "register"
	holderJournal  = "journal"
)

func farmerAccount(farmerID, cultureID string) generic.AccountKey {
	return generic.AccountKey{Kind: KindFarmerGrain, Holder: farmerID, Asset: cultureID}
}

func ownStockAccount(cultureID string) generic.AccountKey {
	return generic.AccountKey{Kind: KindStockOwn, Holder: holderCulture, Asset: cultureID}
}

func farmerStockAccount(cultureID string) generic.AccountKey {
	return generic.AccountKey{Kind: KindStockFarmer, Holder: holderCulture, Asset: cultureID}
}

func goodsStockAccount(goodID string) generic.AccountKey {
	return generic.AccountKey{Kind: KindStockGoods, Holder: holderGood, Asset: goodID}
}

func grainReservedAccount(cultureID string) generic.AccountKey {
	return generic.AccountKey{Kind: KindStockReserved, Holder: holderCulture, Asset: cultureID}
}

func goodsReservedAccount(goodID string) generic.AccountKey {
	return generic.AccountKey{Kind: KindStockReserved, Holder: holderGood, Asset: goodID}
}

func cashAccount(currency generic.Unit) generic.AccountKey {
	return generic.AccountKey{Kind: KindCash, Holder: holderRegister, Asset: string(currency)}
}

// requestAccount holds the idempotency claims of one operation. Its balance
// is always zero.
func requestAccount(operation string) generic.AccountKey {
	return generic.AccountKey{Kind: KindRequest, Holder: holderJournal, Asset: operation}
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

type Culture struct {
	ID         string
	Name       string
	PricePerKg decimal.Decimal
	CreatedAt  time.Time
}

type Farmer struct {
	ID        string
	FullName  string
	Phone     string
	CreatedAt time.Time
}

type StockCategory string

const (
	CategoryFertilizer StockCategory = "fertilizer"
	CategorySeed       StockCategory = "seed"
)

func (c StockCategory) Valid() bool {
	return c == CategoryFertilizer || c == CategorySeed
}

// StockGood is a purchase good kept in the warehouse.
type StockGood struct {
	ID             string
	Name           string
	NormalizedName string
	Category       StockCategory
	SalePricePerKg decimal.Decimal
	CreatedAt      time.Time
}

// =============================================================================
// CONTRACTS
// =============================================================================

type ContractType string

const (
	ContractDebt        ContractType = "debt"
	ContractTypePayment ContractType = "payment"
	ContractReserve     ContractType = "reserve"
)

type ContractStatus string

const (
	StatusPending   ContractStatus = "pending"
	StatusOpen      ContractStatus = "open"
	StatusClosed    ContractStatus = "closed"
	StatusCancelled ContractStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s ContractStatus) Terminal() bool {
	return s == StatusClosed || s == StatusCancelled
}

type Direction string

const (
	FromCompany Direction = "from_company"
	FromFarmer  Direction = "from_farmer"
)

type ItemType string

const (
	ItemGrain    ItemType = "grain"
	ItemPurchase ItemType = "purchase"
	ItemCash     ItemType = "cash"
	ItemVoucher  ItemType = "voucher"
)

type Contract struct {
	ID           string
	OwnerID      string
	Type         ContractType
	Status       ContractStatus
	Currency     generic.Unit
	ExchangeRate decimal.Decimal // 1 for the base currency
	TotalValue   decimal.Decimal // base currency
	Balance      decimal.Decimal // base currency
	WasReserve   bool
	Note         string
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Items []ContractItem
}

// Item returns the contract item with the given id.
func (c *Contract) Item(id string) (*ContractItem, bool) {
	for i := range c.Items {
		if c.Items[i].ID == id {
			return &c.Items[i], true
		}
	}
	return nil, false
}

// ContractItem is one committed line of a contract. For cash items
// QuantityKg holds the base-currency amount and PricePerKg is 1.
type ContractItem struct {
	ID          string
	ContractID  string
	Direction   Direction
	ItemType    ItemType
	CultureID   string
	StockGoodID string
	ItemName    string
	QuantityKg  decimal.Decimal
	PricePerKg  decimal.Decimal
	TotalValue  decimal.Decimal
	DeliveredKg decimal.Decimal
}

func (i ContractItem) Remaining() decimal.Decimal {
	return i.QuantityKg.Sub(i.DeliveredKg)
}

// =============================================================================
// PAYMENTS
// =============================================================================

type PaymentType string

const (
	PaymentGoodsIssue   PaymentType = "goods_issue"
	PaymentGoodsReceive PaymentType = "goods_receive"
	PaymentCash         PaymentType = "cash"
	PaymentGrain        PaymentType = "grain"
	PaymentVoucher      PaymentType = "voucher"
	PaymentSettlement   PaymentType = "settlement"
)

// ContractPayment is immutable except for the cancellation fields.
type ContractPayment struct {
	ID             string
	ContractID     string
	Type           PaymentType
	ContractItemID string
	CultureID      string
	ItemName       string
	QuantityKg     decimal.Decimal
	Amount         decimal.Decimal // payment currency
	AmountBase     decimal.Decimal
	Currency       generic.Unit
	ExchangeRate   decimal.Decimal
	IsCancelled    bool
	CancelledAt    *time.Time
	PaymentDate    time.Time
	CreatedBy      string
	Delta          PaymentDelta
}

// PaymentDelta records the forward effect of a payment so cancellation can
// apply its exact inverse.
type PaymentDelta struct {
	ItemID       string            `json:"item_id,omitempty"`
	DeliveredKg  decimal.Decimal   `json:"delivered_kg"`
	BalanceDelta decimal.Decimal   `json:"balance_delta"`
	EntryIDs     []generic.EntryID `json:"entry_ids,omitempty"`
	VoucherID    string            `json:"voucher_id,omitempty"`
}

// =============================================================================
// VOUCHERS
// =============================================================================

// Voucher is a wheat-denominated debt of the bakery, snapshotted at issue.
type Voucher struct {
	ID             string
	ContractID     string
	ContractItemID string
	PaymentID      string
	OwnerID        string
	CultureID      string
	QuantityKg     decimal.Decimal
	PricePerKg     decimal.Decimal
	TotalValue     decimal.Decimal
	IsCancelled    bool
	CreatedAt      time.Time
}

// VoucherPayment is cash received against the pooled voucher debt.
type VoucherPayment struct {
	ID           string
	Currency     generic.Unit
	Amount       decimal.Decimal
	ExchangeRate decimal.Decimal
	AmountBase   decimal.Decimal
	Description  string
	CashEntryID  generic.EntryID
	IsCancelled  bool
	CreatedBy    string
	CreatedAt    time.Time
}

// VoucherSummary aggregates the pooled voucher debt.
type VoucherSummary struct {
	Count          int
	TotalKg        decimal.Decimal
	TotalDebt      decimal.Decimal
	TotalPaid      decimal.Decimal
	TotalRemaining decimal.Decimal
}

// VoucherStatus is the FIFO allocation of paid money onto one voucher.
type VoucherStatus struct {
	Voucher   Voucher
	Paid      decimal.Decimal
	Remaining decimal.Decimal
	IsClosed  bool
}

// =============================================================================
// INTAKE
// =============================================================================

type Intake struct {
	ID              string
	FarmerID        string // empty for own grain
	CultureID       string
	IsOwnGrain      bool
	NetWeightKg     decimal.Decimal
	ImpurityPercent decimal.Decimal
	AcceptedKg      decimal.Decimal
	PendingQuality  bool
	Note            string
	CreatedBy       string
	CreatedAt       time.Time
}

// Purchase is goods bought for the warehouse and paid out of the register.
type Purchase struct {
	ID          string
	StockGoodID string
	ItemName    string
	Category    StockCategory
	QuantityKg  decimal.Decimal
	PricePerKg  decimal.Decimal
	Currency    generic.Unit
	TotalAmount decimal.Decimal
	StockEntry  generic.EntryID
	CashEntry   generic.EntryID
	CreatedBy   string
	CreatedAt   time.Time
}

// Shipment is company grain sent out of the elevator.
type Shipment struct {
	ID          string
	CultureID   string
	Destination string
	QuantityKg  decimal.Decimal
	StockEntry  generic.EntryID
	CreatedBy   string
	CreatedAt   time.Time
}

// =============================================================================
// VIEWS
// =============================================================================

// GrainHolding is one line of a farmer's balance.
type GrainHolding struct {
	CultureID   string
	CultureName string
	QuantityKg  decimal.Decimal
}

// StockEntry is the derived stock position of a culture or purchase good.
type StockEntry struct {
	CultureID        string
	StockGoodID      string
	Name             string
	Category         StockCategory // goods only
	QuantityKg       decimal.Decimal
	OwnQuantityKg    decimal.Decimal // grain only
	FarmerQuantityKg decimal.Decimal // grain only
	ReservedKg       decimal.Decimal
}

func (s StockEntry) Available() decimal.Decimal {
	if s.CultureID != "" {
		return s.OwnQuantityKg.Sub(s.ReservedKg)
	}
	return s.QuantityKg.Sub(s.ReservedKg)
}

type CashDirection string

const (
	CashAdd      CashDirection = "add"
	CashSubtract CashDirection = "subtract"
)

// CashTransaction is the cash-register view of a cash ledger entry.
type CashTransaction struct {
	ID           generic.EntryID
	Currency     generic.Unit
	Amount       decimal.Decimal
	Direction    CashDirection
	Description  string
	BalanceAfter decimal.Decimal
	ReferenceID  string
	CreatedBy    string
	CreatedAt    time.Time
}

// ContractFilter narrows ListContracts. Empty fields match everything.
type ContractFilter struct {
	OwnerID string
	Status  ContractStatus
	Type    ContractType
}

// IntakeFilter narrows ListIntakes.
type IntakeFilter struct {
	FarmerID       string
	CultureID      string
	PendingQuality *bool
}
