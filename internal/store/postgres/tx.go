package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"pharmacy/backend/internal/domain"
	"pharmacy/backend/internal/store"
)

type pgTx struct {
	tx *sqlx.Tx
}

// LockMedicines takes row locks in id order so concurrent orders touching
// the same medicines cannot deadlock each other.
func (t *pgTx) LockMedicines(ctx context.Context, owner domain.OwnerID, ids []string) (map[string]domain.Medicine, error) {
	if err := store.CheckOwner(owner); err != nil {
		return nil, err
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	medicines := make([]domain.Medicine, 0, len(sorted))
	err := t.tx.SelectContext(ctx, &medicines, `
		SELECT `+medicineColumns+`
		FROM medicines
		WHERE owner_id = $1 AND id = ANY($2)
		ORDER BY id
		FOR UPDATE
	`, string(owner), sorted)
	if err != nil {
		return nil, err
	}

	out := make(map[string]domain.Medicine, len(medicines))
	for _, m := range medicines {
		out[m.ID] = m
	}
	return out, nil
}

func (t *pgTx) SetMedicineQuantity(ctx context.Context, owner domain.OwnerID, id string, qty int) error {
	if err := store.CheckOwner(owner); err != nil {
		return err
	}
	if qty < 0 {
		return fmt.Errorf("%w: quantity cannot be negative", store.ErrInvalidInput)
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE medicines
		SET quantity = $3, updated_at = NOW()
		WHERE owner_id = $1 AND id = $2
	`, string(owner), id, qty)
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

func (t *pgTx) InsertOrder(ctx context.Context, order domain.Order) error {
	if err := store.CheckOwner(order.OwnerID); err != nil {
		return err
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, order.ID, order.OrderCode, string(order.OwnerID), order.CustomerName, order.CustomerContact,
		order.TotalAmount, string(order.PaymentStatus), order.CreatedAt, order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: order %s already exists", store.ErrConflict, order.OrderCode)
		}
		return err
	}

	for _, item := range order.Items {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, line_no, medicine_id, medicine_name, quantity, price)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, order.ID, item.LineNo, item.MedicineID, item.MedicineName, item.Quantity, item.Price); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) LockOrder(ctx context.Context, owner domain.OwnerID, id string) (*domain.Order, error) {
	if err := store.CheckOwner(owner); err != nil {
		return nil, err
	}

	var order domain.Order
	err := t.tx.GetContext(ctx, &order, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE owner_id = $1 AND id = $2
		FOR UPDATE
	`, string(owner), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	items, err := loadOrderItems(ctx, t.tx, []string{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]
	return &order, nil
}

func (t *pgTx) SetOrderStatus(ctx context.Context, owner domain.OwnerID, id string, status domain.PaymentStatus, at time.Time) error {
	if err := store.CheckOwner(owner); err != nil {
		return err
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $3, updated_at = $4
		WHERE owner_id = $1 AND id = $2
	`, string(owner), id, string(status), at)
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

func (t *pgTx) HasSalesRecords(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := t.tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM sales_records WHERE order_id = $1)`, orderID)
	return exists, err
}

func (t *pgTx) InsertSalesRecords(ctx context.Context, records []domain.SalesRecord) error {
	for _, r := range records {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO sales_records (`+salesColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, r.ID, r.SaleCode, r.OrderID, r.LineNo, r.MedicineID, r.Quantity, r.UnitPrice, r.Total, r.SaleDate, string(r.StaffID))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: sales record for order %s line %d already exists", store.ErrConflict, r.OrderID, r.LineNo)
			}
			return err
		}
	}
	return nil
}

func (t *pgTx) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	return insertAuditLog(ctx, t.tx, entry)
}
