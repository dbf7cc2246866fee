package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"pharmacy/backend/internal/domain"
	"pharmacy/backend/internal/store"
	"pharmacy/backend/internal/xid"
)

// Store keeps everything in process memory. One mutex serializes every
// write, so stock checks and decrements never interleave.
type Store struct {
	mu            sync.RWMutex
	medicinesByID map[string]domain.Medicine
	ordersByID    map[string]*domain.Order
	sales         []domain.SalesRecord
	salesLines    map[string]struct{}
	staffByID     map[domain.OwnerID]domain.Staff
	staffByEmail  map[string]domain.OwnerID
	suppliersByID map[string]domain.Supplier
	auditLogs     []domain.AuditLog
}

func New() *Store {
	return &Store{
		medicinesByID: make(map[string]domain.Medicine),
		ordersByID:    make(map[string]*domain.Order),
		sales:         make([]domain.SalesRecord, 0, 64),
		salesLines:    make(map[string]struct{}),
		staffByID:     make(map[domain.OwnerID]domain.Staff),
		staffByEmail:  make(map[string]domain.OwnerID),
		suppliersByID: make(map[string]domain.Supplier),
		auditLogs:     make([]domain.AuditLog, 0, 128),
	}
}

// NewSeeded returns a store with a demo admin account and a handful of
// medicines owned by it. The admin password comes from SEED_ADMIN_PASSWORD.
func NewSeeded() *Store {
	s := New()

	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD to override.")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(adminPwd), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("[memory-store] failed to hash seed password: %v", err)
	}

	now := time.Now().UTC()
	admin := domain.Staff{
		ID:           domain.OwnerID(xid.NewID()),
		Username:     "admin",
		Email:        "admin@pharmacy.local",
		PasswordHash: string(hash),
		Role:         domain.RoleAdmin,
		CreatedAt:    now,
	}
	s.staffByID[admin.ID] = admin
	s.staffByEmail[admin.Email] = admin.ID

	for i, seed := range []struct {
		name         string
		category     string
		manufacturer string
		price        string
		cost         string
		qty          int
		months       int
	}{
		{"Paracetamol 500mg", "Analgesic", "Sun Pharma", "5.00", "3.20", 500, 24},
		{"Amoxicillin 250mg", "Antibiotic", "Cipla", "12.50", "8.00", 200, 18},
		{"Cetirizine 10mg", "Antihistamine", "Dr. Reddy's", "3.75", "2.10", 300, 30},
		{"Omeprazole 20mg", "Antacid", "Lupin", "8.90", "5.40", 8, 12},
		{"Metformin 500mg", "Antidiabetic", "Glenmark", "6.30", "4.00", 150, 20},
	} {
		id := xid.NewID()
		s.medicinesByID[id] = domain.Medicine{
			ID:            id,
			OwnerID:       admin.ID,
			Name:          seed.name,
			Category:      seed.category,
			Manufacturer:  seed.manufacturer,
			BatchNumber:   fmt.Sprintf("BATCH-%03d", i+1),
			Quantity:      seed.qty,
			Price:         decimal.RequireFromString(seed.price),
			PurchasePrice: decimal.RequireFromString(seed.cost),
			ExpiryDate:    nowDateUTC(now).AddDate(0, seed.months, 0),
			ReorderLevel:  10,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}

	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	defer func() {
		if p := recover(); p != nil {
			tx.rollback()
			panic(p)
		}
	}()

	if err = fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *Store) CreateMedicine(_ context.Context, medicine domain.Medicine) (*domain.Medicine, error) {
	if err := store.CheckOwner(medicine.OwnerID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.medicinesByID[medicine.ID]; exists {
		return nil, fmt.Errorf("%w: medicine %s already exists", store.ErrConflict, medicine.ID)
	}
	if s.batchTakenLocked(medicine.OwnerID, medicine.BatchNumber, medicine.ID) {
		return nil, fmt.Errorf("%w: batch number %s already exists", store.ErrConflict, medicine.BatchNumber)
	}
	s.medicinesByID[medicine.ID] = medicine
	return &medicine, nil
}

func (s *Store) GetMedicine(_ context.Context, owner domain.OwnerID, id string) (*domain.Medicine, error) {
	if err := store.CheckOwner(owner); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	medicine, ok := s.medicinesByID[id]
	if !ok || medicine.OwnerID != owner {
		return nil, store.ErrNotFound
	}
	return &medicine, nil
}

func (s *Store) UpdateMedicine(_ context.Context, owner domain.OwnerID, id string, apply func(*domain.Medicine) error) (*domain.Medicine, error) {
	if err := store.CheckOwner(owner); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.medicinesByID[id]
	if !ok || current.OwnerID != owner {
		return nil, store.ErrNotFound
	}
	updated := current
	if err := apply(&updated); err != nil {
		return nil, err
	}
	if updated.Quantity < 0 {
		return nil, fmt.Errorf("%w: quantity cannot be negative", store.ErrInvalidInput)
	}
	if !updated.IsDeleted && s.batchTakenLocked(owner, updated.BatchNumber, id) {
		return nil, fmt.Errorf("%w: batch number %s already exists", store.ErrConflict, updated.BatchNumber)
	}
	updated.ID = current.ID
	updated.OwnerID = current.OwnerID
	s.medicinesByID[id] = updated
	return &updated, nil
}

func (s *Store) ListMedicines(_ context.Context, owner domain.OwnerID, filter domain.MedicineFilter) ([]domain.Medicine, int, error) {
	if err := store.CheckOwner(owner); err != nil {
		return nil, 0, err
	}

	s.mu.RLock()
	matched := make([]domain.Medicine, 0, len(s.medicinesByID))
	for _, medicine := range s.medicinesByID {
		if medicine.OwnerID != owner || medicine.IsDeleted {
			continue
		}
		if matchMedicine(medicine, filter) {
			matched = append(matched, medicine)
		}
	}
	s.mu.RUnlock()

	sortMedicines(matched, filter.SortBy, filter.SortDesc)
	start, end := pageBounds(len(matched), filter.Page, filter.Limit)
	return matched[start:end], len(matched), nil
}

func (s *Store) GetOrder(_ context.Context, owner domain.OwnerID, id string) (*domain.Order, error) {
	if err := store.CheckOwner(owner); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.ordersByID[id]
	if !ok || order.OwnerID != owner {
		return nil, store.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (s *Store) ListOrders(_ context.Context, owner domain.OwnerID, filter domain.OrderFilter) ([]domain.Order, int, error) {
	if err := store.CheckOwner(owner); err != nil {
		return nil, 0, err
	}

	search := strings.ToLower(strings.TrimSpace(filter.Search))

	s.mu.RLock()
	matched := make([]domain.Order, 0, len(s.ordersByID))
	for _, order := range s.ordersByID {
		if order.OwnerID != owner {
			continue
		}
		if filter.Status != "" && order.PaymentStatus != filter.Status {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(order.CustomerName), search) &&
			!strings.Contains(strings.ToLower(order.OrderCode), search) {
			continue
		}
		if !inRange(order.CreatedAt, filter.StartDate, filter.EndDate) {
			continue
		}
		matched = append(matched, *cloneOrder(order))
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	start, end := pageBounds(len(matched), filter.Page, filter.Limit)
	return matched[start:end], len(matched), nil
}

func (s *Store) ListSales(_ context.Context, owner domain.OwnerID, filter domain.SalesFilter) ([]domain.SalesRecord, domain.SalesTotals, error) {
	totals := domain.SalesTotals{Revenue: decimal.Zero}
	if err := store.CheckOwner(owner); err != nil {
		return nil, totals, err
	}

	s.mu.RLock()
	matched := make([]domain.SalesRecord, 0, len(s.sales))
	for _, record := range s.sales {
		if record.StaffID != owner {
			continue
		}
		if filter.MedicineID != "" && record.MedicineID != filter.MedicineID {
			continue
		}
		if !inRange(record.SaleDate, filter.StartDate, filter.EndDate) {
			continue
		}
		matched = append(matched, record)
		totals.Revenue = totals.Revenue.Add(record.Total)
		totals.Quantity += record.Quantity
	}
	s.mu.RUnlock()

	totals.Count = len(matched)
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].SaleDate.After(matched[j].SaleDate)
	})
	start, end := pageBounds(len(matched), filter.Page, filter.Limit)
	return matched[start:end], totals, nil
}

func (s *Store) DashboardStats(_ context.Context, owner domain.OwnerID, now time.Time, expiryWindow time.Duration) (domain.DashboardStats, error) {
	stats := domain.DashboardStats{TodaysSales: decimal.Zero, MonthlyRevenue: decimal.Zero, GeneratedAt: now}
	if err := store.CheckOwner(owner); err != nil {
		return stats, err
	}

	today := nowDateUTC(now)
	monthStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	expiryLimit := now.Add(expiryWindow)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, medicine := range s.medicinesByID {
		if medicine.OwnerID != owner || medicine.IsDeleted {
			continue
		}
		stats.TotalMedicines++
		if medicine.IsLowStock() {
			stats.LowStockCount++
		}
		if !medicine.ExpiryDate.Before(today) && !medicine.ExpiryDate.After(expiryLimit) {
			stats.ExpiringSoonCount++
		}
	}
	for _, order := range s.ordersByID {
		if order.OwnerID != owner || order.PaymentStatus != domain.StatusPaid {
			continue
		}
		if !order.CreatedAt.Before(monthStart) {
			stats.MonthlyRevenue = stats.MonthlyRevenue.Add(order.TotalAmount)
		}
		if !order.CreatedAt.Before(today) {
			stats.TodaysSales = stats.TodaysSales.Add(order.TotalAmount)
		}
	}
	return stats, nil
}

func (s *Store) CreateStaff(_ context.Context, staff domain.Staff) (*domain.Staff, error) {
	email := strings.ToLower(strings.TrimSpace(staff.Email))

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.staffByEmail[email]; exists {
		return nil, fmt.Errorf("%w: email already registered", store.ErrConflict)
	}
	staff.Email = email
	s.staffByID[staff.ID] = staff
	s.staffByEmail[email] = staff.ID
	return &staff, nil
}

func (s *Store) GetStaffByEmail(_ context.Context, email string) (*domain.Staff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.staffByEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, store.ErrNotFound
	}
	staff := s.staffByID[id]
	return &staff, nil
}

func (s *Store) GetStaffByID(_ context.Context, id domain.OwnerID) (*domain.Staff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	staff, ok := s.staffByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &staff, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.suppliersByID[supplier.ID]; exists {
		return nil, fmt.Errorf("%w: supplier %s already exists", store.ErrConflict, supplier.ID)
	}
	supplier.MedicinesSupplied = slices.Clone(supplier.MedicinesSupplied)
	s.suppliersByID[supplier.ID] = supplier
	return &supplier, nil
}

func (s *Store) ListSuppliers(_ context.Context, filter domain.SupplierFilter) ([]domain.Supplier, int, error) {
	search := strings.ToLower(strings.TrimSpace(filter.Search))

	s.mu.RLock()
	out := make([]domain.Supplier, 0, len(s.suppliersByID))
	for _, supplier := range s.suppliersByID {
		if search != "" && !strings.Contains(strings.ToLower(supplier.Name), search) {
			continue
		}
		supplier.MedicinesSupplied = slices.Clone(supplier.MedicinesSupplied)
		out = append(out, supplier)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	start, end := pageBounds(len(out), filter.Page, filter.Limit)
	return out[start:end], len(out), nil
}

func (s *Store) UpdateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.suppliersByID[supplier.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	supplier.CreatedAt = current.CreatedAt
	supplier.MedicinesSupplied = slices.Clone(supplier.MedicinesSupplied)
	s.suppliersByID[supplier.ID] = supplier
	return &supplier, nil
}

func (s *Store) DeleteSupplier(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.suppliersByID[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.suppliersByID, id)
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, owner domain.OwnerID, limit int) ([]domain.AuditLog, error) {
	if err := store.CheckOwner(owner); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.auditLogs[i].OwnerID == owner {
			out = append(out, s.auditLogs[i])
		}
	}
	return out, nil
}

func (s *Store) batchTakenLocked(owner domain.OwnerID, batch string, exceptID string) bool {
	if batch == "" {
		return false
	}
	for id, medicine := range s.medicinesByID {
		if id == exceptID || medicine.OwnerID != owner || medicine.IsDeleted {
			continue
		}
		if strings.EqualFold(medicine.BatchNumber, batch) {
			return true
		}
	}
	return false
}

func matchMedicine(m domain.Medicine, filter domain.MedicineFilter) bool {
	if search := strings.ToLower(strings.TrimSpace(filter.Search)); search != "" {
		if !strings.Contains(strings.ToLower(m.Name), search) &&
			!strings.Contains(strings.ToLower(m.Manufacturer), search) &&
			!strings.Contains(strings.ToLower(m.BatchNumber), search) {
			return false
		}
	}
	if len(filter.Categories) > 0 && !slices.ContainsFunc(filter.Categories, func(c string) bool {
		return strings.EqualFold(c, m.Category)
	}) {
		return false
	}
	if filter.MinPrice != nil && m.Price.LessThan(*filter.MinPrice) {
		return false
	}
	if filter.MaxPrice != nil && m.Price.GreaterThan(*filter.MaxPrice) {
		return false
	}
	if filter.LowStockOnly && !m.IsLowStock() {
		return false
	}
	return inRange(m.ExpiryDate, filter.ExpiryFrom, filter.ExpiryTo)
}

func sortMedicines(items []domain.Medicine, field string, desc bool) {
	less := func(a, b domain.Medicine) bool {
		switch field {
		case "name":
			return strings.ToLower(a.Name) < strings.ToLower(b.Name)
		case "price":
			return a.Price.LessThan(b.Price)
		case "quantity":
			return a.Quantity < b.Quantity
		case "expiry_date":
			return a.ExpiryDate.Before(b.ExpiryDate)
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if desc {
			return less(items[j], items[i])
		}
		return less(items[i], items[j])
	})
}

func inRange(t time.Time, from *time.Time, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}

func pageBounds(total int, page int, limit int) (int, int) {
	if limit < 1 {
		return 0, total
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return start, end
}

func nowDateUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func cloneOrder(src *domain.Order) *domain.Order {
	out := *src
	out.Items = slices.Clone(src.Items)
	return &out
}
