package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/warp/grain-ledger/generic"
	"github.com/warp/grain-ledger/settlement"
)

// =============================================================================
// CULTURE STORE
// =============================================================================

func (q *queries) InsertCulture(ctx context.Context, c settlement.Culture) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO cultures (id, name, price_per_kg, created_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.Name, c.PricePerKg, formatTime(c.CreatedAt))
	if isUniqueConstraintError(err) {
		return fmt.Errorf("culture %q: %w", c.Name, settlement.ErrDuplicateName)
	}
	if err != nil {
		return fmt.Errorf("failed to save culture: %w", err)
	}
	return nil
}

func (q *queries) UpdateCulture(ctx context.Context, c settlement.Culture) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE cultures SET name = ?, price_per_kg = ? WHERE id = ?`,
		c.Name, c.PricePerKg, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update culture: %w", err)
	}
	return rowsAffected(res, "culture", c.ID)
}

const cultureColumns = `id, name, price_per_kg, created_at`

func (q *queries) GetCulture(ctx context.Context, id string) (*settlement.Culture, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+cultureColumns+` FROM cultures WHERE id = ?`, id)
	c, err := scanCulture(row)
	if err != nil {
		return nil, notFound(err, "culture", id)
	}
	return &c, nil
}

func (q *queries) GetCultureByName(ctx context.Context, name string) (*settlement.Culture, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+cultureColumns+` FROM cultures WHERE name = ?`, name)
	c, err := scanCulture(row)
	if err != nil {
		return nil, notFound(err, "culture", name)
	}
	return &c, nil
}

func (q *queries) ListCultures(ctx context.Context) ([]settlement.Culture, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+cultureColumns+` FROM cultures ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cultures: %w", err)
	}
	defer rows.Close()

	var out []settlement.Culture
	for rows.Next() {
		c, err := scanCulture(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCulture(row scanner) (settlement.Culture, error) {
	var c settlement.Culture
	var createdAt string
	if err := row.Scan(&c.ID, &c.Name, &c.PricePerKg, &createdAt); err != nil {
		return c, err
	}
	c.CreatedAt = parseTime(createdAt)
	return c, nil
}

// =============================================================================
// FARMER STORE
// =============================================================================

func (q *queries) InsertFarmer(ctx context.Context, f settlement.Farmer) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO farmers (id, full_name, phone, created_at) VALUES (?, ?, ?, ?)`,
		f.ID, f.FullName, nullString(f.Phone), formatTime(f.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save farmer: %w", err)
	}
	return nil
}

func (q *queries) GetFarmer(ctx context.Context, id string) (*settlement.Farmer, error) {
	row := q.q.QueryRowContext(ctx, `SELECT id, full_name, phone, created_at FROM farmers WHERE id = ?`, id)
	f, err := scanFarmer(row)
	if err != nil {
		return nil, notFound(err, "farmer", id)
	}
	return &f, nil
}

func (q *queries) ListFarmers(ctx context.Context) ([]settlement.Farmer, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT id, full_name, phone, created_at FROM farmers ORDER BY full_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list farmers: %w", err)
	}
	defer rows.Close()

	var out []settlement.Farmer
	for rows.Next() {
		f, err := scanFarmer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanFarmer(row scanner) (settlement.Farmer, error) {
	var f settlement.Farmer
	var phone sql.NullString
	var createdAt string
	if err := row.Scan(&f.ID, &f.FullName, &phone, &createdAt); err != nil {
		return f, err
	}
	f.Phone = phone.String
	f.CreatedAt = parseTime(createdAt)
	return f, nil
}

// =============================================================================
// STOCK GOOD STORE
// =============================================================================

const stockGoodColumns = `id, name, normalized_name, category, sale_price_per_kg, created_at`

func (q *queries) InsertStockGood(ctx context.Context, g settlement.StockGood) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO stock_goods (`+stockGoodColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		g.ID, g.Name, g.NormalizedName, g.Category, g.SalePricePerKg, formatTime(g.CreatedAt))
	if isUniqueConstraintError(err) {
		return fmt.Errorf("stock good %q (%s): %w", g.Name, g.Category, settlement.ErrDuplicateName)
	}
	if err != nil {
		return fmt.Errorf("failed to save stock good: %w", err)
	}
	return nil
}

func (q *queries) GetStockGood(ctx context.Context, id string) (*settlement.StockGood, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+stockGoodColumns+` FROM stock_goods WHERE id = ?`, id)
	g, err := scanStockGood(row)
	if err != nil {
		return nil, notFound(err, "stock good", id)
	}
	return &g, nil
}

func (q *queries) FindStockGood(ctx context.Context, normalizedName string, category settlement.StockCategory) (*settlement.StockGood, error) {
	row := q.q.QueryRowContext(ctx,
		`SELECT `+stockGoodColumns+` FROM stock_goods WHERE normalized_name = ? AND category = ?`,
		normalizedName, category)
	g, err := scanStockGood(row)
	if err != nil {
		return nil, notFound(err, "stock good", normalizedName)
	}
	return &g, nil
}

func (q *queries) ListStockGoods(ctx context.Context) ([]settlement.StockGood, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+stockGoodColumns+` FROM stock_goods ORDER BY category, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stock goods: %w", err)
	}
	defer rows.Close()

	var out []settlement.StockGood
	for rows.Next() {
		g, err := scanStockGood(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func scanStockGood(row scanner) (settlement.StockGood, error) {
	var g settlement.StockGood
	var createdAt string
	if err := row.Scan(&g.ID, &g.Name, &g.NormalizedName, &g.Category, &g.SalePricePerKg, &createdAt); err != nil {
		return g, err
	}
	g.CreatedAt = parseTime(createdAt)
	return g, nil
}

// =============================================================================
// CONTRACT STORE
// =============================================================================

const contractColumns = `id, owner_id, contract_type, status, currency, exchange_rate, total_value,
	balance, was_reserve, note, created_by, created_at, updated_at`

const itemColumns = `id, contract_id, direction, item_type, culture_id, stock_good_id, item_name,
	quantity_kg, price_per_kg, total_value, delivered_kg`

func (q *queries) InsertContract(ctx context.Context, c settlement.Contract) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO contracts (`+contractColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OwnerID, c.Type, c.Status, c.Currency, c.ExchangeRate, c.TotalValue,
		c.Balance, c.WasReserve, nullString(c.Note), nullString(c.CreatedBy),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save contract: %w", err)
	}

	for i, it := range c.Items {
		_, err := q.q.ExecContext(ctx,
			`INSERT INTO contract_items (`+itemColumns+`, position) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			it.ID, c.ID, it.Direction, it.ItemType, nullString(it.CultureID), nullString(it.StockGoodID),
			it.ItemName, it.QuantityKg, it.PricePerKg, it.TotalValue, it.DeliveredKg, i)
		if err != nil {
			return fmt.Errorf("failed to save contract item: %w", err)
		}
	}
	return nil
}

func (q *queries) UpdateContract(ctx context.Context, c settlement.Contract) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE contracts SET contract_type = ?, status = ?, balance = ?, was_reserve = ?, updated_at = ?
		 WHERE id = ?`,
		c.Type, c.Status, c.Balance, c.WasReserve, formatTime(c.UpdatedAt), c.ID)
	if err != nil {
		return fmt.Errorf("failed to update contract: %w", err)
	}
	return rowsAffected(res, "contract", c.ID)
}

func (q *queries) UpdateContractItem(ctx context.Context, it settlement.ContractItem) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE contract_items SET delivered_kg = ? WHERE id = ?`, it.DeliveredKg, it.ID)
	if err != nil {
		return fmt.Errorf("failed to update contract item: %w", err)
	}
	return rowsAffected(res, "contract item", it.ID)
}

func (q *queries) DeleteContract(ctx context.Context, id string) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM contracts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete contract: %w", err)
	}
	return rowsAffected(res, "contract", id)
}

func (q *queries) GetContract(ctx context.Context, id string) (*settlement.Contract, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = ?`, id)
	c, err := scanContract(row)
	if err != nil {
		return nil, notFound(err, "contract", id)
	}
	if c.Items, err = q.contractItems(ctx, c.ID); err != nil {
		return nil, err
	}
	return &c, nil
}

func (q *queries) ListContracts(ctx context.Context, filter settlement.ContractFilter) ([]settlement.Contract, error) {
	var where []string
	var args []any
	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Type != "" {
		where = append(where, "contract_type = ?")
		args = append(args, filter.Type)
	}
	query := `SELECT ` + contractColumns + ` FROM contracts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}
	var out []settlement.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, c)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	// Items are loaded after the header cursor is closed: the store runs on
	// a single connection.
	for i := range out {
		if out[i].Items, err = q.contractItems(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (q *queries) contractItems(ctx context.Context, contractID string) ([]settlement.ContractItem, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM contract_items WHERE contract_id = ? ORDER BY position`, contractID)
	if err != nil {
		return nil, fmt.Errorf("failed to load contract items: %w", err)
	}
	defer rows.Close()

	var items []settlement.ContractItem
	for rows.Next() {
		var it settlement.ContractItem
		var cultureID, goodID sql.NullString
		err := rows.Scan(&it.ID, &it.ContractID, &it.Direction, &it.ItemType, &cultureID, &goodID,
			&it.ItemName, &it.QuantityKg, &it.PricePerKg, &it.TotalValue, &it.DeliveredKg)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contract item: %w", err)
		}
		it.CultureID = cultureID.String
		it.StockGoodID = goodID.String
		items = append(items, it)
	}
	return items, rows.Err()
}

func scanContract(row scanner) (settlement.Contract, error) {
	var c settlement.Contract
	var currency string
	var note, createdBy sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.OwnerID, &c.Type, &c.Status, &currency, &c.ExchangeRate, &c.TotalValue,
		&c.Balance, &c.WasReserve, &note, &createdBy, &createdAt, &updatedAt)
	if err != nil {
		return c, err
	}
	c.Currency = generic.Unit(currency)
	c.Note = note.String
	c.CreatedBy = createdBy.String
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return c, nil
}

// =============================================================================
// PAYMENT STORE
// =============================================================================

const paymentColumns = `id, contract_id, payment_type, contract_item_id, culture_id, item_name,
	quantity_kg, amount, amount_base, currency, exchange_rate, is_cancelled, cancelled_at,
	payment_date, created_by, delta_json`

func (q *queries) InsertPayment(ctx context.Context, p settlement.ContractPayment) error {
	delta, err := json.Marshal(p.Delta)
	if err != nil {
		return fmt.Errorf("failed to encode payment delta: %w", err)
	}
	_, err = q.q.ExecContext(ctx,
		`INSERT INTO contract_payments (`+paymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ContractID, p.Type, nullString(p.ContractItemID), nullString(p.CultureID), nullString(p.ItemName),
		p.QuantityKg, p.Amount, p.AmountBase, p.Currency, p.ExchangeRate, p.IsCancelled, nullTime(p.CancelledAt),
		formatTime(p.PaymentDate), nullString(p.CreatedBy), string(delta))
	if err != nil {
		return fmt.Errorf("failed to save payment: %w", err)
	}
	return nil
}

// UpdatePayment stores the cancellation fields; a payment is otherwise immutable.
func (q *queries) UpdatePayment(ctx context.Context, p settlement.ContractPayment) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE contract_payments SET is_cancelled = ?, cancelled_at = ? WHERE id = ?`,
		p.IsCancelled, nullTime(p.CancelledAt), p.ID)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	return rowsAffected(res, "payment", p.ID)
}

func (q *queries) GetPayment(ctx context.Context, id string) (*settlement.ContractPayment, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM contract_payments WHERE id = ?`, id)
	p, err := scanPayment(row)
	if err != nil {
		return nil, notFound(err, "payment", id)
	}
	return &p, nil
}

func (q *queries) ListPayments(ctx context.Context, contractID string) ([]settlement.ContractPayment, error) {
	query := `SELECT ` + paymentColumns + ` FROM contract_payments`
	var args []any
	if contractID != "" {
		query += ` WHERE contract_id = ?`
		args = append(args, contractID)
	}
	query += ` ORDER BY payment_date ASC, rowid ASC`

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var out []settlement.ContractPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPayment(row scanner) (settlement.ContractPayment, error) {
	var (
		p                           settlement.ContractPayment
		itemID, cultureID, itemName sql.NullString
		currency                    string
		cancelledAt, createdBy      sql.NullString
		paymentDate, delta          string
	)
	err := row.Scan(&p.ID, &p.ContractID, &p.Type, &itemID, &cultureID, &itemName,
		&p.QuantityKg, &p.Amount, &p.AmountBase, &currency, &p.ExchangeRate, &p.IsCancelled, &cancelledAt,
		&paymentDate, &createdBy, &delta)
	if err != nil {
		return p, err
	}
	p.ContractItemID = itemID.String
	p.CultureID = cultureID.String
	p.ItemName = itemName.String
	p.Currency = generic.Unit(currency)
	p.CancelledAt = parseNullTime(cancelledAt)
	p.PaymentDate = parseTime(paymentDate)
	p.CreatedBy = createdBy.String
	if err := json.Unmarshal([]byte(delta), &p.Delta); err != nil {
		return p, fmt.Errorf("failed to decode payment delta: %w", err)
	}
	return p, nil
}

// =============================================================================
// VOUCHER STORE
// =============================================================================

const voucherColumns = `id, contract_id, contract_item_id, payment_id, owner_id, culture_id,
	quantity_kg, price_per_kg, total_value, is_cancelled, created_at`

func (q *queries) InsertVoucher(ctx context.Context, v settlement.Voucher) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO vouchers (`+voucherColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.ContractID, v.ContractItemID, v.PaymentID, v.OwnerID, v.CultureID,
		v.QuantityKg, v.PricePerKg, v.TotalValue, v.IsCancelled, formatTime(v.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save voucher: %w", err)
	}
	return nil
}

func (q *queries) UpdateVoucher(ctx context.Context, v settlement.Voucher) error {
	res, err := q.q.ExecContext(ctx, `UPDATE vouchers SET is_cancelled = ? WHERE id = ?`, v.IsCancelled, v.ID)
	if err != nil {
		return fmt.Errorf("failed to update voucher: %w", err)
	}
	return rowsAffected(res, "voucher", v.ID)
}

func (q *queries) GetVoucher(ctx context.Context, id string) (*settlement.Voucher, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE id = ?`, id)
	v, err := scanVoucher(row)
	if err != nil {
		return nil, notFound(err, "voucher", id)
	}
	return &v, nil
}

func (q *queries) ListVouchers(ctx context.Context) ([]settlement.Voucher, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+voucherColumns+` FROM vouchers ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list vouchers: %w", err)
	}
	defer rows.Close()

	var out []settlement.Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanVoucher(row scanner) (settlement.Voucher, error) {
	var v settlement.Voucher
	var createdAt string
	err := row.Scan(&v.ID, &v.ContractID, &v.ContractItemID, &v.PaymentID, &v.OwnerID, &v.CultureID,
		&v.QuantityKg, &v.PricePerKg, &v.TotalValue, &v.IsCancelled, &createdAt)
	if err != nil {
		return v, err
	}
	v.CreatedAt = parseTime(createdAt)
	return v, nil
}

const voucherPaymentColumns = `id, currency, amount, exchange_rate, amount_base, description,
	cash_entry_id, is_cancelled, created_by, created_at`

func (q *queries) InsertVoucherPayment(ctx context.Context, p settlement.VoucherPayment) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO voucher_payments (`+voucherPaymentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Currency, p.Amount, p.ExchangeRate, p.AmountBase, nullString(p.Description),
		nullString(string(p.CashEntryID)), p.IsCancelled, nullString(p.CreatedBy), formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save voucher payment: %w", err)
	}
	return nil
}

func (q *queries) UpdateVoucherPayment(ctx context.Context, p settlement.VoucherPayment) error {
	res, err := q.q.ExecContext(ctx, `UPDATE voucher_payments SET is_cancelled = ? WHERE id = ?`, p.IsCancelled, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update voucher payment: %w", err)
	}
	return rowsAffected(res, "voucher payment", p.ID)
}

func (q *queries) GetVoucherPayment(ctx context.Context, id string) (*settlement.VoucherPayment, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+voucherPaymentColumns+` FROM voucher_payments WHERE id = ?`, id)
	p, err := scanVoucherPayment(row)
	if err != nil {
		return nil, notFound(err, "voucher payment", id)
	}
	return &p, nil
}

func (q *queries) ListVoucherPayments(ctx context.Context) ([]settlement.VoucherPayment, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+voucherPaymentColumns+` FROM voucher_payments ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list voucher payments: %w", err)
	}
	defer rows.Close()

	var out []settlement.VoucherPayment
	for rows.Next() {
		p, err := scanVoucherPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanVoucherPayment(row scanner) (settlement.VoucherPayment, error) {
	var p settlement.VoucherPayment
	var currency, createdAt string
	var description, cashEntryID, createdBy sql.NullString
	err := row.Scan(&p.ID, &currency, &p.Amount, &p.ExchangeRate, &p.AmountBase, &description,
		&cashEntryID, &p.IsCancelled, &createdBy, &createdAt)
	if err != nil {
		return p, err
	}
	p.Currency = generic.Unit(currency)
	p.Description = description.String
	p.CashEntryID = generic.EntryID(cashEntryID.String)
	p.CreatedBy = createdBy.String
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

// =============================================================================
// INTAKE STORE
// =============================================================================

const intakeColumns = `id, farmer_id, culture_id, is_own_grain, net_weight_kg, impurity_percent,
	accepted_kg, pending_quality, note, created_by, created_at`

func (q *queries) InsertIntake(ctx context.Context, in settlement.Intake) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO intakes (`+intakeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, nullString(in.FarmerID), in.CultureID, in.IsOwnGrain, in.NetWeightKg, in.ImpurityPercent,
		in.AcceptedKg, in.PendingQuality, nullString(in.Note), nullString(in.CreatedBy), formatTime(in.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save intake: %w", err)
	}
	return nil
}

func (q *queries) UpdateIntake(ctx context.Context, in settlement.Intake) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE intakes SET impurity_percent = ?, accepted_kg = ?, pending_quality = ? WHERE id = ?`,
		in.ImpurityPercent, in.AcceptedKg, in.PendingQuality, in.ID)
	if err != nil {
		return fmt.Errorf("failed to update intake: %w", err)
	}
	return rowsAffected(res, "intake", in.ID)
}

func (q *queries) GetIntake(ctx context.Context, id string) (*settlement.Intake, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+intakeColumns+` FROM intakes WHERE id = ?`, id)
	in, err := scanIntake(row)
	if err != nil {
		return nil, notFound(err, "intake", id)
	}
	return &in, nil
}

func (q *queries) ListIntakes(ctx context.Context, filter settlement.IntakeFilter) ([]settlement.Intake, error) {
	var where []string
	var args []any
	if filter.FarmerID != "" {
		where = append(where, "farmer_id = ?")
		args = append(args, filter.FarmerID)
	}
	if filter.CultureID != "" {
		where = append(where, "culture_id = ?")
		args = append(args, filter.CultureID)
	}
	if filter.PendingQuality != nil {
		where = append(where, "pending_quality = ?")
		args = append(args, *filter.PendingQuality)
	}
	query := `SELECT ` + intakeColumns + ` FROM intakes`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list intakes: %w", err)
	}
	defer rows.Close()

	var out []settlement.Intake
	for rows.Next() {
		in, err := scanIntake(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func scanIntake(row scanner) (settlement.Intake, error) {
	var in settlement.Intake
	var farmerID, note, createdBy sql.NullString
	var createdAt string
	err := row.Scan(&in.ID, &farmerID, &in.CultureID, &in.IsOwnGrain, &in.NetWeightKg, &in.ImpurityPercent,
		&in.AcceptedKg, &in.PendingQuality, &note, &createdBy, &createdAt)
	if err != nil {
		return in, err
	}
	in.FarmerID = farmerID.String
	in.Note = note.String
	in.CreatedBy = createdBy.String
	in.CreatedAt = parseTime(createdAt)
	return in, nil
}

// =============================================================================
// PURCHASE AND SHIPMENT STORE
// =============================================================================

const purchaseColumns = `id, stock_good_id, item_name, category, quantity_kg, price_per_kg,
	currency, total_amount, stock_entry_id, cash_entry_id, created_by, created_at`

func (q *queries) InsertPurchase(ctx context.Context, p settlement.Purchase) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO purchases (`+purchaseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.StockGoodID, p.ItemName, p.Category, p.QuantityKg, p.PricePerKg,
		p.Currency, p.TotalAmount, p.StockEntry, p.CashEntry, nullString(p.CreatedBy), formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save purchase: %w", err)
	}
	return nil
}

func (q *queries) ListPurchases(ctx context.Context) ([]settlement.Purchase, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+purchaseColumns+` FROM purchases ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	defer rows.Close()

	var out []settlement.Purchase
	for rows.Next() {
		var p settlement.Purchase
		var category, currency, stockEntry, cashEntry, createdAt string
		var createdBy sql.NullString
		if err := rows.Scan(&p.ID, &p.StockGoodID, &p.ItemName, &category, &p.QuantityKg, &p.PricePerKg,
			&currency, &p.TotalAmount, &stockEntry, &cashEntry, &createdBy, &createdAt); err != nil {
			return nil, err
		}
		p.Category = settlement.StockCategory(category)
		p.Currency = generic.Unit(currency)
		p.StockEntry = generic.EntryID(stockEntry)
		p.CashEntry = generic.EntryID(cashEntry)
		p.CreatedBy = createdBy.String
		p.CreatedAt = parseTime(createdAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

const shipmentColumns = `id, culture_id, destination, quantity_kg, stock_entry_id, created_by, created_at`

func (q *queries) InsertShipment(ctx context.Context, sh settlement.Shipment) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO shipments (`+shipmentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sh.ID, sh.CultureID, sh.Destination, sh.QuantityKg, sh.StockEntry,
		nullString(sh.CreatedBy), formatTime(sh.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save shipment: %w", err)
	}
	return nil
}

func (q *queries) ListShipments(ctx context.Context) ([]settlement.Shipment, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+shipmentColumns+` FROM shipments ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list shipments: %w", err)
	}
	defer rows.Close()

	var out []settlement.Shipment
	for rows.Next() {
		var sh settlement.Shipment
		var stockEntry, createdAt string
		var createdBy sql.NullString
		if err := rows.Scan(&sh.ID, &sh.CultureID, &sh.Destination, &sh.QuantityKg, &stockEntry,
			&createdBy, &createdAt); err != nil {
			return nil, err
		}
		sh.StockEntry = generic.EntryID(stockEntry)
		sh.CreatedBy = createdBy.String
		sh.CreatedAt = parseTime(createdAt)
		out = append(out, sh)
	}
	return out, rows.Err()
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
