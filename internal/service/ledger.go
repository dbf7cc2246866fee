package service

import (
	"context"
	"fmt"
	"time"

	"pharmacy/backend/internal/domain"
	"pharmacy/backend/internal/store"
)

// Ledger is the inventory as seen from inside one order transaction. It
// holds the locked medicine rows for a single owner and keeps running
// quantities, so two lines for the same medicine see each other.
type Ledger struct {
	tx        store.Tx
	owner     domain.OwnerID
	now       time.Time
	medicines map[string]domain.Medicine
}

func openLedger(ctx context.Context, tx store.Tx, owner domain.OwnerID, ids []string, now time.Time) (*Ledger, error) {
	if err := store.CheckOwner(owner); err != nil {
		return nil, err
	}
	medicines, err := tx.LockMedicines(ctx, owner, uniqueStrings(ids))
	if err != nil {
		return nil, err
	}
	return &Ledger{tx: tx, owner: owner, now: now, medicines: medicines}, nil
}

// FindOwned returns the medicine even when it is soft-deleted; callers that
// sell it must go through CheckAvailable.
func (l *Ledger) FindOwned(id string) (domain.Medicine, error) {
	medicine, ok := l.medicines[id]
	if !ok {
		return domain.Medicine{}, fmt.Errorf("%w: medicine %s", store.ErrNotFound, id)
	}
	return medicine, nil
}

func (l *Ledger) CheckAvailable(m domain.Medicine) error {
	if m.IsDeleted {
		return fmt.Errorf("%w: medicine %s is no longer available", store.ErrUnavailable, m.Name)
	}
	if m.IsExpired(l.now) {
		return fmt.Errorf("%w: medicine %s expired on %s", store.ErrUnavailable, m.Name, m.ExpiryDate.Format("2006-01-02"))
	}
	return nil
}

func (l *Ledger) DecrementStock(ctx context.Context, m domain.Medicine, amount int) error {
	current, err := l.FindOwned(m.ID)
	if err != nil {
		return err
	}
	if amount < 1 {
		return invalidf("quantity must be at least 1")
	}
	if amount > current.Quantity {
		return &store.StockError{MedicineID: current.ID, Name: current.Name, Requested: amount, Available: current.Quantity}
	}
	return l.setQuantity(ctx, current, current.Quantity-amount)
}

// IncrementStock has no upper bound; reorder_level is informational only.
func (l *Ledger) IncrementStock(ctx context.Context, m domain.Medicine, amount int) error {
	current, err := l.FindOwned(m.ID)
	if err != nil {
		return err
	}
	if amount < 0 {
		return invalidf("restock amount cannot be negative")
	}
	return l.setQuantity(ctx, current, current.Quantity+amount)
}

func (l *Ledger) setQuantity(ctx context.Context, m domain.Medicine, qty int) error {
	if err := l.tx.SetMedicineQuantity(ctx, l.owner, m.ID, qty); err != nil {
		return err
	}
	m.Quantity = qty
	l.medicines[m.ID] = m
	return nil
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
