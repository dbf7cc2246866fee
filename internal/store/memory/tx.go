package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"pharmacy/backend/internal/domain"
	"pharmacy/backend/internal/store"
)

// memTx runs with Store.mu held for writing. Every mutation records an undo
// step; rollback replays them newest first.
type memTx struct {
	s    *Store
	undo []func()
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memTx) LockMedicines(_ context.Context, owner domain.OwnerID, ids []string) (map[string]domain.Medicine, error) {
	if err := store.CheckOwner(owner); err != nil {
		return nil, err
	}

	out := make(map[string]domain.Medicine, len(ids))
	for _, id := range ids {
		medicine, ok := tx.s.medicinesByID[id]
		if !ok || medicine.OwnerID != owner {
			continue
		}
		out[id] = medicine
	}
	return out, nil
}

func (tx *memTx) SetMedicineQuantity(_ context.Context, owner domain.OwnerID, id string, qty int) error {
	if err := store.CheckOwner(owner); err != nil {
		return err
	}
	if qty < 0 {
		return fmt.Errorf("%w: quantity cannot be negative", store.ErrInvalidInput)
	}

	prev, ok := tx.s.medicinesByID[id]
	if !ok || prev.OwnerID != owner {
		return store.ErrNotFound
	}
	next := prev
	next.Quantity = qty
	next.UpdatedAt = time.Now().UTC()
	tx.s.medicinesByID[id] = next
	tx.undo = append(tx.undo, func() { tx.s.medicinesByID[id] = prev })
	return nil
}

func (tx *memTx) InsertOrder(_ context.Context, order domain.Order) error {
	if err := store.CheckOwner(order.OwnerID); err != nil {
		return err
	}
	if _, exists := tx.s.ordersByID[order.ID]; exists {
		return fmt.Errorf("%w: order %s already exists", store.ErrConflict, order.ID)
	}
	for _, existing := range tx.s.ordersByID {
		if existing.OrderCode == order.OrderCode {
			return fmt.Errorf("%w: order code %s already exists", store.ErrConflict, order.OrderCode)
		}
	}

	tx.s.ordersByID[order.ID] = cloneOrder(&order)
	tx.undo = append(tx.undo, func() { delete(tx.s.ordersByID, order.ID) })
	return nil
}

func (tx *memTx) LockOrder(_ context.Context, owner domain.OwnerID, id string) (*domain.Order, error) {
	if err := store.CheckOwner(owner); err != nil {
		return nil, err
	}
	order, ok := tx.s.ordersByID[id]
	if !ok || order.OwnerID != owner {
		return nil, store.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (tx *memTx) SetOrderStatus(_ context.Context, owner domain.OwnerID, id string, status domain.PaymentStatus, at time.Time) error {
	if err := store.CheckOwner(owner); err != nil {
		return err
	}
	order, ok := tx.s.ordersByID[id]
	if !ok || order.OwnerID != owner {
		return store.ErrNotFound
	}

	prevStatus, prevUpdated := order.PaymentStatus, order.UpdatedAt
	order.PaymentStatus = status
	order.UpdatedAt = at
	tx.undo = append(tx.undo, func() {
		order.PaymentStatus = prevStatus
		order.UpdatedAt = prevUpdated
	})
	return nil
}

func (tx *memTx) HasSalesRecords(_ context.Context, orderID string) (bool, error) {
	for _, record := range tx.s.sales {
		if record.OrderID == orderID {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memTx) InsertSalesRecords(_ context.Context, records []domain.SalesRecord) error {
	keys := make([]string, 0, len(records))
	for _, record := range records {
		key := salesLineKey(record.OrderID, record.LineNo)
		if _, exists := tx.s.salesLines[key]; exists || slices.Contains(keys, key) {
			return fmt.Errorf("%w: sales record for order %s line %d already exists", store.ErrConflict, record.OrderID, record.LineNo)
		}
		keys = append(keys, key)
	}

	prevLen := len(tx.s.sales)
	tx.s.sales = append(tx.s.sales, records...)
	for _, key := range keys {
		tx.s.salesLines[key] = struct{}{}
	}
	tx.undo = append(tx.undo, func() {
		tx.s.sales = tx.s.sales[:prevLen]
		for _, key := range keys {
			delete(tx.s.salesLines, key)
		}
	})
	return nil
}

func (tx *memTx) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	prevLen := len(tx.s.auditLogs)
	tx.s.auditLogs = append(tx.s.auditLogs, entry)
	tx.undo = append(tx.undo, func() { tx.s.auditLogs = tx.s.auditLogs[:prevLen] })
	return nil
}

func salesLineKey(orderID string, lineNo int) string {
	return fmt.Sprintf("%s#%d", orderID, lineNo)
}
