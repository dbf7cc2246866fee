package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pharmacy/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrUnavailable       = errors.New("unavailable")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("conflict")
)

// StockError reports a line that asked for more than the medicine holds.
type StockError struct {
	MedicineID string
	Name       string
	Requested  int
	Available  int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s. Available: %d, requested: %d", e.Name, e.Available, e.Requested)
}

func (e *StockError) Unwrap() error {
	return ErrInsufficientStock
}

// CheckOwner rejects calls made without a tenant. Every owner-scoped
// repository method runs it before touching data.
func CheckOwner(owner domain.OwnerID) error {
	if strings.TrimSpace(string(owner)) == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	return nil
}

type Repository interface {
	// RunInTx runs fn as one atomic unit. Stock, order and sales writes made
	// through tx are all applied or all discarded.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	CreateMedicine(ctx context.Context, medicine domain.Medicine) (*domain.Medicine, error)
	GetMedicine(ctx context.Context, owner domain.OwnerID, id string) (*domain.Medicine, error)
	UpdateMedicine(ctx context.Context, owner domain.OwnerID, id string, apply func(*domain.Medicine) error) (*domain.Medicine, error)
	ListMedicines(ctx context.Context, owner domain.OwnerID, filter domain.MedicineFilter) ([]domain.Medicine, int, error)

	GetOrder(ctx context.Context, owner domain.OwnerID, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, owner domain.OwnerID, filter domain.OrderFilter) ([]domain.Order, int, error)

	ListSales(ctx context.Context, owner domain.OwnerID, filter domain.SalesFilter) ([]domain.SalesRecord, domain.SalesTotals, error)
	DashboardStats(ctx context.Context, owner domain.OwnerID, now time.Time, expiryWindow time.Duration) (domain.DashboardStats, error)

	CreateStaff(ctx context.Context, staff domain.Staff) (*domain.Staff, error)
	GetStaffByEmail(ctx context.Context, email string) (*domain.Staff, error)
	GetStaffByID(ctx context.Context, id domain.OwnerID) (*domain.Staff, error)

	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context, filter domain.SupplierFilter) ([]domain.Supplier, int, error)
	UpdateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	DeleteSupplier(ctx context.Context, id string) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, owner domain.OwnerID, limit int) ([]domain.AuditLog, error)
}

// Tx is the write side of the inventory ledger and order book inside RunInTx.
type Tx interface {
	// LockMedicines returns the owner's medicines for ids, soft-deleted ones
	// included, and holds them until the transaction ends. Unknown ids are
	// absent from the map.
	LockMedicines(ctx context.Context, owner domain.OwnerID, ids []string) (map[string]domain.Medicine, error)
	SetMedicineQuantity(ctx context.Context, owner domain.OwnerID, id string, qty int) error

	InsertOrder(ctx context.Context, order domain.Order) error
	LockOrder(ctx context.Context, owner domain.OwnerID, id string) (*domain.Order, error)
	SetOrderStatus(ctx context.Context, owner domain.OwnerID, id string, status domain.PaymentStatus, at time.Time) error

	HasSalesRecords(ctx context.Context, orderID string) (bool, error)
	InsertSalesRecords(ctx context.Context, records []domain.SalesRecord) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
}
