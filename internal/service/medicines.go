package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pharmacy/backend/internal/domain"
	"pharmacy/backend/internal/store"
	"pharmacy/backend/internal/xid"
)

var maxMoney = decimal.New(1, 10)

var medicineSortFields = map[string]struct{}{
	"name":        {},
	"price":       {},
	"quantity":    {},
	"expiry_date": {},
	"created_at":  {},
}

func (s *Service) CreateMedicine(ctx context.Context, req domain.MedicineCreateRequest) (domain.Medicine, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Medicine{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Medicine{}, invalidf("name is required")
	}
	if req.Quantity < 0 {
		return domain.Medicine{}, invalidf("quantity cannot be negative")
	}
	price, err := checkMoney("price", req.Price)
	if err != nil {
		return domain.Medicine{}, err
	}
	cost, err := checkMoney("purchase_price", req.PurchasePrice)
	if err != nil {
		return domain.Medicine{}, err
	}
	expiry, err := ParseDate(req.ExpiryDate)
	if err != nil {
		return domain.Medicine{}, invalidf("expiry_date: %v", err)
	}
	reorder := s.defaultReorderLevel
	if req.ReorderLevel != nil {
		if *req.ReorderLevel < 0 {
			return domain.Medicine{}, invalidf("reorder_level cannot be negative")
		}
		reorder = *req.ReorderLevel
	}

	now := s.now()
	created, err := s.repo.CreateMedicine(ctx, domain.Medicine{
		ID:            xid.NewID(),
		OwnerID:       actor.ID,
		Name:          name,
		Category:      strings.TrimSpace(req.Category),
		Manufacturer:  strings.TrimSpace(req.Manufacturer),
		BatchNumber:   strings.TrimSpace(req.BatchNumber),
		Quantity:      req.Quantity,
		Price:         price,
		PurchasePrice: cost,
		ExpiryDate:    expiry,
		ReorderLevel:  reorder,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return domain.Medicine{}, err
	}

	s.logAudit(ctx, actor, "medicine_create", "medicine", created.ID, fmt.Sprintf("name=%s,batch=%s,qty=%d", created.Name, created.BatchNumber, created.Quantity))
	s.invalidateStats(ctx, actor.ID)
	return *created, nil
}

func (s *Service) GetMedicine(ctx context.Context, id string) (domain.Medicine, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Medicine{}, err
	}
	medicine, err := s.repo.GetMedicine(ctx, actor.ID, strings.TrimSpace(id))
	if err != nil {
		return domain.Medicine{}, err
	}
	if medicine.IsDeleted {
		return domain.Medicine{}, store.ErrNotFound
	}
	return *medicine, nil
}

// UpdateMedicine applies the non-nil fields of req. A direct quantity edit
// goes through the same row lock as order stock changes.
func (s *Service) UpdateMedicine(ctx context.Context, id string, req domain.MedicineUpdateRequest) (domain.Medicine, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Medicine{}, err
	}

	var expiry *time.Time
	if req.ExpiryDate != nil {
		parsed, err := ParseDate(*req.ExpiryDate)
		if err != nil {
			return domain.Medicine{}, invalidf("expiry_date: %v", err)
		}
		expiry = &parsed
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return domain.Medicine{}, invalidf("name cannot be empty")
	}
	if req.Quantity != nil && *req.Quantity < 0 {
		return domain.Medicine{}, invalidf("quantity cannot be negative")
	}
	if req.ReorderLevel != nil && *req.ReorderLevel < 0 {
		return domain.Medicine{}, invalidf("reorder_level cannot be negative")
	}
	var price, cost *decimal.Decimal
	if req.Price != nil {
		checked, err := checkMoney("price", *req.Price)
		if err != nil {
			return domain.Medicine{}, err
		}
		price = &checked
	}
	if req.PurchasePrice != nil {
		checked, err := checkMoney("purchase_price", *req.PurchasePrice)
		if err != nil {
			return domain.Medicine{}, err
		}
		cost = &checked
	}

	now := s.now()
	updated, err := s.repo.UpdateMedicine(ctx, actor.ID, strings.TrimSpace(id), func(m *domain.Medicine) error {
		if m.IsDeleted {
			return store.ErrNotFound
		}
		if req.Name != nil {
			m.Name = strings.TrimSpace(*req.Name)
		}
		if req.Category != nil {
			m.Category = strings.TrimSpace(*req.Category)
		}
		if req.Manufacturer != nil {
			m.Manufacturer = strings.TrimSpace(*req.Manufacturer)
		}
		if req.BatchNumber != nil {
			m.BatchNumber = strings.TrimSpace(*req.BatchNumber)
		}
		if req.Quantity != nil {
			m.Quantity = *req.Quantity
		}
		if price != nil {
			m.Price = *price
		}
		if cost != nil {
			m.PurchasePrice = *cost
		}
		if expiry != nil {
			m.ExpiryDate = *expiry
		}
		if req.ReorderLevel != nil {
			m.ReorderLevel = *req.ReorderLevel
		}
		m.UpdatedAt = now
		return nil
	})
	if err != nil {
		return domain.Medicine{}, err
	}

	s.logAudit(ctx, actor, "medicine_update", "medicine", updated.ID, fmt.Sprintf("qty=%d,price=%s", updated.Quantity, updated.Price))
	s.invalidateStats(ctx, actor.ID)
	return *updated, nil
}

// DeleteMedicine soft-deletes; the row stays so past orders keep their
// reference and the batch number becomes reusable.
func (s *Service) DeleteMedicine(ctx context.Context, id string) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}

	now := s.now()
	deleted, err := s.repo.UpdateMedicine(ctx, actor.ID, strings.TrimSpace(id), func(m *domain.Medicine) error {
		if m.IsDeleted {
			return store.ErrNotFound
		}
		m.IsDeleted = true
		m.UpdatedAt = now
		return nil
	})
	if err != nil {
		return err
	}

	s.logAudit(ctx, actor, "medicine_delete", "medicine", deleted.ID, "name="+deleted.Name)
	s.invalidateStats(ctx, actor.ID)
	return nil
}

func (s *Service) ListMedicines(ctx context.Context, filter domain.MedicineFilter) (domain.MedicineListResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.MedicineListResponse{}, err
	}

	if filter.SortBy == "" {
		filter.SortBy = "created_at"
		filter.SortDesc = true
	}
	if _, ok := medicineSortFields[filter.SortBy]; !ok {
		return domain.MedicineListResponse{}, invalidf("cannot sort by %q", filter.SortBy)
	}
	if filter.MinPrice != nil && filter.MaxPrice != nil && filter.MaxPrice.LessThan(*filter.MinPrice) {
		return domain.MedicineListResponse{}, invalidf("max price is below min price")
	}
	filter.Page, filter.Limit = normalizePage(filter.Page, filter.Limit)

	medicines, total, err := s.repo.ListMedicines(ctx, actor.ID, filter)
	if err != nil {
		return domain.MedicineListResponse{}, err
	}
	return domain.MedicineListResponse{
		Medicines:   medicines,
		CurrentPage: filter.Page,
		TotalPages:  totalPages(total, filter.Limit),
		Total:       total,
	}, nil
}

// checkMoney enforces the NUMERIC(12,2) shape of stored prices so both
// stores capture the same unit price.
func checkMoney(field string, d decimal.Decimal) (decimal.Decimal, error) {
	if d.IsNegative() {
		return decimal.Zero, invalidf("%s cannot be negative", field)
	}
	rounded := d.Round(2)
	if !d.Equal(rounded) {
		return decimal.Zero, invalidf("%s must have at most 2 decimal places", field)
	}
	if rounded.GreaterThanOrEqual(maxMoney) {
		return decimal.Zero, invalidf("%s is too large", field)
	}
	return rounded, nil
}

// ParseDate accepts a calendar date or an RFC 3339 timestamp and returns
// midnight UTC of that day.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("date is required")
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", raw)
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// ImportMedicines creates each row independently. A failing row is reported
// and the rest continue.
func (s *Service) ImportMedicines(ctx context.Context, rows []domain.MedicineImportRow) (domain.ImportResult, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.ImportResult{}, err
	}
	result := domain.ImportResult{Failed: []domain.ImportFailure{}}
	for _, row := range rows {
		if _, err := s.CreateMedicine(ctx, row.Request); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return result, err
			}
			result.Failed = append(result.Failed, domain.ImportFailure{Row: row.Row, Name: row.Request.Name, Message: err.Error()})
			continue
		}
		result.Created++
	}
	return result, nil
}
