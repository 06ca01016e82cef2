package settlement

import (
	"context"

	"github.com/warp/grain-ledger/generic"
)

// =============================================================================
// REPOSITORY - Persistence of settlement records
// =============================================================================
// Ledger entries go through generic.Store (append-only). Everything else a
// settlement operation touches is a record with a small amount of mutable
// state (contract status and balance, item delivered_kg, cancellation flags).
// Lookups return an error wrapping ErrNotFound when the record is missing.

type CultureStore interface {
	InsertCulture(ctx context.Context, c Culture) error
	UpdateCulture(ctx context.Context, c Culture) error
	GetCulture(ctx context.Context, id string) (*Culture, error)
	GetCultureByName(ctx context.Context, name string) (*Culture, error)
	ListCultures(ctx context.Context) ([]Culture, error)
}

type FarmerStore interface {
	InsertFarmer(ctx context.Context, f Farmer) error
	GetFarmer(ctx context.Context, id string) (*Farmer, error)
	ListFarmers(ctx context.Context) ([]Farmer, error)
}

type StockGoodStore interface {
	InsertStockGood(ctx context.Context, g StockGood) error
	GetStockGood(ctx context.Context, id string) (*StockGood, error)
	FindStockGood(ctx context.Context, normalizedName string, category StockCategory) (*StockGood, error)
	ListStockGoods(ctx context.Context) ([]StockGood, error)
}

type ContractStore interface {
	// InsertContract stores the contract header and its items.
	InsertContract(ctx context.Context, c Contract) error
	// UpdateContract stores header fields only (status, type, balance, was_reserve).
	UpdateContract(ctx context.Context, c Contract) error
	UpdateContractItem(ctx context.Context, item ContractItem) error
	DeleteContract(ctx context.Context, id string) error
	// GetContract loads the contract with its items.
	GetContract(ctx context.Context, id string) (*Contract, error)
	ListContracts(ctx context.Context, filter ContractFilter) ([]Contract, error)
}

type PaymentStore interface {
	InsertPayment(ctx context.Context, p ContractPayment) error
	UpdatePayment(ctx context.Context, p ContractPayment) error
	GetPayment(ctx context.Context, id string) (*ContractPayment, error)
	// ListPayments returns payments of one contract, or all when contractID is empty.
	ListPayments(ctx context.Context, contractID string) ([]ContractPayment, error)
}

type VoucherStore interface {
	InsertVoucher(ctx context.Context, v Voucher) error
	UpdateVoucher(ctx context.Context, v Voucher) error
	GetVoucher(ctx context.Context, id string) (*Voucher, error)
	// ListVouchers returns vouchers oldest first.
	ListVouchers(ctx context.Context) ([]Voucher, error)

	InsertVoucherPayment(ctx context.Context, p VoucherPayment) error
	UpdateVoucherPayment(ctx context.Context, p VoucherPayment) error
	GetVoucherPayment(ctx context.Context, id string) (*VoucherPayment, error)
	ListVoucherPayments(ctx context.Context) ([]VoucherPayment, error)
}

type IntakeStore interface {
	InsertIntake(ctx context.Context, in Intake) error
	UpdateIntake(ctx context.Context, in Intake) error
	GetIntake(ctx context.Context, id string) (*Intake, error)
	ListIntakes(ctx context.Context, filter IntakeFilter) ([]Intake, error)
}

type MovementStore interface {
	InsertPurchase(ctx context.Context, p Purchase) error
	// ListPurchases returns purchases newest first.
	ListPurchases(ctx context.Context) ([]Purchase, error)
	InsertShipment(ctx context.Context, sh Shipment) error
	// ListShipments returns shipments newest first.
	ListShipments(ctx context.Context) ([]Shipment, error)
}

// Tx is everything a settlement operation may read or write inside one
// database transaction.
type Tx interface {
	generic.Store
	CultureStore
	FarmerStore
	StockGoodStore
	ContractStore
	PaymentStore
	VoucherStore
	IntakeStore
	MovementStore
}

// Repository is a Tx that can also open transactions. Calls made on the
// Repository directly run outside any transaction (reporting reads).
type Repository interface {
	Tx

	// WithTx executes fn within a transaction. Writers are serialised: only
	// one WithTx body runs at a time, so a check and the write that follows
	// it observe the same state.
	WithTx(ctx context.Context, fn func(Tx) error) error
}
