package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"pharmacy/backend/internal/domain"
	"pharmacy/backend/internal/store"
)

const maxTxAttempts = 3

const medicineColumns = `id, owner_id, name, category, manufacturer, batch_number, quantity, price,
	purchase_price, expiry_date, reorder_level, is_deleted, created_at, updated_at`

const orderColumns = `id, order_code, owner_id, customer_name, customer_contact, total_amount,
	payment_status, created_at, updated_at`

const salesColumns = `id, sale_code, order_id, line_no, medicine_id, quantity, unit_price, total, sale_date, staff_id`

type Store struct {
	db *sqlx.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RunInTx runs fn in a SERIALIZABLE transaction. Serialization failures and
// deadlocks are retried with a fresh transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTxOnce(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		log.Printf("[postgres] WARN: transaction attempt %d failed, retrying: %v", attempt, err)
	}
	return err
}

func (s *Store) runTxOnce(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) CreateMedicine(ctx context.Context, m domain.Medicine) (*domain.Medicine, error) {
	if err := store.CheckOwner(m.OwnerID); err != nil {
		return nil, err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO medicines (`+medicineColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, m.ID, string(m.OwnerID), m.Name, m.Category, m.Manufacturer, m.BatchNumber, m.Quantity, m.Price,
		m.PurchasePrice, nowDateUTC(m.ExpiryDate), m.ReorderLevel, m.IsDeleted, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: batch number %s already exists", store.ErrConflict, m.BatchNumber)
		}
		return nil, err
	}
	return &m, nil
}

func (s *Store) GetMedicine(ctx context.Context, owner domain.OwnerID, id string) (*domain.Medicine, error) {
	if err := store.CheckOwner(owner); err != nil {
		return nil, err
	}

	var m domain.Medicine
	err := s.db.GetContext(ctx, &m, `
		SELECT `+medicineColumns+`
		FROM medicines
		WHERE owner_id = $1 AND id = $2
	`, string(owner), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) UpdateMedicine(ctx context.Context, owner domain.OwnerID, id string, apply func(*domain.Medicine) error) (*domain.Medicine, error) {
	if err := store.CheckOwner(owner); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var m domain.Medicine
	err = tx.GetContext(ctx, &m, `
		SELECT `+medicineColumns+`
		FROM medicines
		WHERE owner_id = $1 AND id = $2
		FOR UPDATE
	`, string(owner), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := apply(&m); err != nil {
		return nil, err
	}
	if m.Quantity < 0 {
		return nil, fmt.Errorf("%w: quantity cannot be negative", store.ErrInvalidInput)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE medicines
		SET name = $3, category = $4, manufacturer = $5, batch_number = $6, quantity = $7, price = $8,
			purchase_price = $9, expiry_date = $10, reorder_level = $11, is_deleted = $12, updated_at = $13
		WHERE owner_id = $1 AND id = $2
	`, string(owner), id, m.Name, m.Category, m.Manufacturer, m.BatchNumber, m.Quantity, m.Price,
		m.PurchasePrice, nowDateUTC(m.ExpiryDate), m.ReorderLevel, m.IsDeleted, m.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: batch number %s already exists", store.ErrConflict, m.BatchNumber)
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &m, nil
}

var medicineSortColumns = map[string]string{
	"name":        "name",
	"price":       "price",
	"quantity":    "quantity",
	"expiry_date": "expiry_date",
	"created_at":  "created_at",
}

func (s *Store) ListMedicines(ctx context.Context, owner domain.OwnerID, filter domain.MedicineFilter) ([]domain.Medicine, int, error) {
	if err := store.CheckOwner(owner); err != nil {
		return nil, 0, err
	}

	w := newWhere("owner_id = ?", string(owner))
	w.add("is_deleted = false")
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + search + "%"
		w.add("(name ILIKE ? OR manufacturer ILIKE ? OR batch_number ILIKE ?)", pattern, pattern, pattern)
	}
	if len(filter.Categories) > 0 {
		lowered := make([]string, 0, len(filter.Categories))
		for _, c := range filter.Categories {
			lowered = append(lowered, strings.ToLower(c))
		}
		w.add("lower(category) = ANY(?)", lowered)
	}
	if filter.MinPrice != nil {
		w.add("price >= ?", *filter.MinPrice)
	}
	if filter.MaxPrice != nil {
		w.add("price <= ?", *filter.MaxPrice)
	}
	if filter.LowStockOnly {
		w.add("quantity <= reorder_level")
	}
	if filter.ExpiryFrom != nil {
		w.add("expiry_date >= ?", *filter.ExpiryFrom)
	}
	if filter.ExpiryTo != nil {
		w.add("expiry_date <= ?", *filter.ExpiryTo)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, s.db.Rebind("SELECT COUNT(*) FROM medicines"+w.sql()), w.args...); err != nil {
		return nil, 0, err
	}

	column, ok := medicineSortColumns[filter.SortBy]
	if !ok {
		column = "created_at"
	}
	direction := "ASC"
	if filter.SortDesc {
		direction = "DESC"
	}

	query := "SELECT " + medicineColumns + " FROM medicines" + w.sql() +
		fmt.Sprintf(" ORDER BY %s %s, id", column, direction) + pageClause(filter.Page, filter.Limit)
	medicines := make([]domain.Medicine, 0, filter.Limit)
	if err := s.db.SelectContext(ctx, &medicines, s.db.Rebind(query), w.args...); err != nil {
		return nil, 0, err
	}
	return medicines, total, nil
}

func (s *Store) GetOrder(ctx context.Context, owner domain.OwnerID, id string) (*domain.Order, error) {
	if err := store.CheckOwner(owner); err != nil {
		return nil, err
	}

	var order domain.Order
	err := s.db.GetContext(ctx, &order, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE owner_id = $1 AND id = $2
	`, string(owner), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	items, err := loadOrderItems(ctx, s.db, []string{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]
	return &order, nil
}

func (s *Store) ListOrders(ctx context.Context, owner domain.OwnerID, filter domain.OrderFilter) ([]domain.Order, int, error) {
	if err := store.CheckOwner(owner); err != nil {
		return nil, 0, err
	}

	w := newWhere("owner_id = ?", string(owner))
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + search + "%"
		w.add("(customer_name ILIKE ? OR order_code ILIKE ?)", pattern, pattern)
	}
	if filter.Status != "" {
		w.add("payment_status = ?", string(filter.Status))
	}
	if filter.StartDate != nil {
		w.add("created_at >= ?", *filter.StartDate)
	}
	if filter.EndDate != nil {
		w.add("created_at <= ?", *filter.EndDate)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, s.db.Rebind("SELECT COUNT(*) FROM orders"+w.sql()), w.args...); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + orderColumns + " FROM orders" + w.sql() +
		" ORDER BY created_at DESC, id" + pageClause(filter.Page, filter.Limit)
	orders := make([]domain.Order, 0, filter.Limit)
	if err := s.db.SelectContext(ctx, &orders, s.db.Rebind(query), w.args...); err != nil {
		return nil, 0, err
	}

	ids := make([]string, 0, len(orders))
	for _, order := range orders {
		ids = append(ids, order.ID)
	}
	items, err := loadOrderItems(ctx, s.db, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, total, nil
}

func (s *Store) ListSales(ctx context.Context, owner domain.OwnerID, filter domain.SalesFilter) ([]domain.SalesRecord, domain.SalesTotals, error) {
	totals := domain.SalesTotals{Revenue: decimal.Zero}
	if err := store.CheckOwner(owner); err != nil {
		return nil, totals, err
	}

	w := newWhere("staff_id = ?", string(owner))
	if filter.MedicineID != "" {
		w.add("medicine_id = ?", filter.MedicineID)
	}
	if filter.StartDate != nil {
		w.add("sale_date >= ?", *filter.StartDate)
	}
	if filter.EndDate != nil {
		w.add("sale_date <= ?", *filter.EndDate)
	}

	row := s.db.QueryRowxContext(ctx, s.db.Rebind(`
		SELECT COUNT(*), COALESCE(SUM(total), 0), COALESCE(SUM(quantity), 0)
		FROM sales_records`+w.sql()), w.args...)
	if err := row.Scan(&totals.Count, &totals.Revenue, &totals.Quantity); err != nil {
		return nil, totals, err
	}

	query := "SELECT " + salesColumns + " FROM sales_records" + w.sql() +
		" ORDER BY sale_date DESC, order_id, line_no" + pageClause(filter.Page, filter.Limit)
	records := make([]domain.SalesRecord, 0, filter.Limit)
	if err := s.db.SelectContext(ctx, &records, s.db.Rebind(query), w.args...); err != nil {
		return nil, totals, err
	}
	return records, totals, nil
}

func (s *Store) DashboardStats(ctx context.Context, owner domain.OwnerID, now time.Time, expiryWindow time.Duration) (domain.DashboardStats, error) {
	stats := domain.DashboardStats{TodaysSales: decimal.Zero, MonthlyRevenue: decimal.Zero, GeneratedAt: now}
	if err := store.CheckOwner(owner); err != nil {
		return stats, err
	}

	today := nowDateUTC(now)
	monthStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)

	err := s.db.QueryRowxContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE quantity <= reorder_level),
			COUNT(*) FILTER (WHERE expiry_date >= $2 AND expiry_date <= $3)
		FROM medicines
		WHERE owner_id = $1 AND is_deleted = false
	`, string(owner), today, now.Add(expiryWindow)).Scan(&stats.TotalMedicines, &stats.LowStockCount, &stats.ExpiringSoonCount)
	if err != nil {
		return stats, err
	}

	err = s.db.QueryRowxContext(ctx, `
		SELECT
			COALESCE(SUM(total_amount) FILTER (WHERE created_at >= $2), 0),
			COALESCE(SUM(total_amount) FILTER (WHERE created_at >= $3), 0)
		FROM orders
		WHERE owner_id = $1 AND payment_status = 'paid'
	`, string(owner), today, monthStart).Scan(&stats.TodaysSales, &stats.MonthlyRevenue)
	if err != nil {
		return stats, err
	}
	return stats, nil
}

func (s *Store) CreateStaff(ctx context.Context, staff domain.Staff) (*domain.Staff, error) {
	staff.Email = strings.ToLower(strings.TrimSpace(staff.Email))
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO staff (id, username, email, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, string(staff.ID), staff.Username, staff.Email, staff.PasswordHash, staff.Role, staff.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: email already registered", store.ErrConflict)
		}
		return nil, err
	}
	return &staff, nil
}

func (s *Store) GetStaffByEmail(ctx context.Context, email string) (*domain.Staff, error) {
	return s.getStaff(ctx, "email = $1", strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) GetStaffByID(ctx context.Context, id domain.OwnerID) (*domain.Staff, error) {
	return s.getStaff(ctx, "id = $1", string(id))
}

func (s *Store) getStaff(ctx context.Context, cond string, arg any) (*domain.Staff, error) {
	var staff domain.Staff
	err := s.db.GetContext(ctx, &staff, `
		SELECT id, username, email, password_hash, role, created_at
		FROM staff
		WHERE `+cond, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &staff, nil
}

type supplierRow struct {
	domain.Supplier
	Medicines []byte `db:"medicines_supplied"`
}

func (r supplierRow) toDomain() (domain.Supplier, error) {
	out := r.Supplier
	out.MedicinesSupplied = []string{}
	if len(r.Medicines) > 0 {
		if err := json.Unmarshal(r.Medicines, &out.MedicinesSupplied); err != nil {
			return out, fmt.Errorf("decode medicines_supplied: %w", err)
		}
	}
	return out, nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	medicines, err := json.Marshal(nonNil(supplier.MedicinesSupplied))
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, contact, email, address, medicines_supplied, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, supplier.ID, supplier.Name, supplier.Contact, supplier.Email, supplier.Address, string(medicines),
		supplier.CreatedAt, supplier.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: supplier %s already exists", store.ErrConflict, supplier.ID)
		}
		return nil, err
	}
	return &supplier, nil
}

func (s *Store) ListSuppliers(ctx context.Context, filter domain.SupplierFilter) ([]domain.Supplier, int, error) {
	w := &where{}
	if search := strings.TrimSpace(filter.Search); search != "" {
		w.add("name ILIKE ?", "%"+search+"%")
	}

	var total int
	if err := s.db.GetContext(ctx, &total, s.db.Rebind("SELECT COUNT(*) FROM suppliers"+w.sql()), w.args...); err != nil {
		return nil, 0, err
	}

	query := "SELECT id, name, contact, email, address, medicines_supplied, created_at, updated_at FROM suppliers" +
		w.sql() + " ORDER BY name, id" + pageClause(filter.Page, filter.Limit)
	rows := make([]supplierRow, 0, 16)
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), w.args...); err != nil {
		return nil, 0, err
	}

	out := make([]domain.Supplier, 0, len(rows))
	for _, row := range rows {
		supplier, err := row.toDomain()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, supplier)
	}
	return out, total, nil
}

func (s *Store) UpdateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	medicines, err := json.Marshal(nonNil(supplier.MedicinesSupplied))
	if err != nil {
		return nil, err
	}

	var row supplierRow
	err = s.db.GetContext(ctx, &row, `
		UPDATE suppliers
		SET name = $2, contact = $3, email = $4, address = $5, medicines_supplied = $6, updated_at = $7
		WHERE id = $1
		RETURNING id, name, contact, email, address, medicines_supplied, created_at, updated_at
	`, supplier.ID, supplier.Name, supplier.Contact, supplier.Email, supplier.Address, string(medicines), supplier.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	updated, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Store) DeleteSupplier(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM suppliers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	return insertAuditLog(ctx, s.db, entry)
}

func (s *Store) ListAuditLogs(ctx context.Context, owner domain.OwnerID, limit int) ([]domain.AuditLog, error) {
	if err := store.CheckOwner(owner); err != nil {
		return nil, err
	}

	logs := make([]domain.AuditLog, 0, limit)
	err := s.db.SelectContext(ctx, &logs, `
		SELECT id, owner_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, string(owner), limit)
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func loadOrderItems(ctx context.Context, q sqlx.QueryerContext, orderIDs []string) (map[string][]domain.OrderItem, error) {
	out := make(map[string][]domain.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}

	rows, err := q.QueryxContext(ctx, `
		SELECT order_id, line_no, medicine_id, medicine_name, quantity, price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, line_no
	`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := rows.Scan(&orderID, &item.LineNo, &item.MedicineID, &item.MedicineName, &item.Quantity, &item.Price); err != nil {
			return nil, err
		}
		out[orderID] = append(out[orderID], item)
	}
	return out, rows.Err()
}

func insertAuditLog(ctx context.Context, exec sqlx.ExecerContext, entry domain.AuditLog) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO audit_logs (id, owner_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID, string(entry.OwnerID), entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType,
		entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

// where collects AND-ed conditions written with ? placeholders; callers
// Rebind the final query.
type where struct {
	conds []string
	args  []any
}

func newWhere(cond string, args ...any) *where {
	w := &where{}
	w.add(cond, args...)
	return w
}

func (w *where) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func pageClause(page int, limit int) string {
	if limit < 1 {
		return ""
	}
	if page < 1 {
		page = 1
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, (page-1)*limit)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func nowDateUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
