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

// CreateOrder validates and reserves every line inside one transaction.
// Lines are checked in request order and the first failure aborts the whole
// order with no stock change.
func (s *Service) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	customer := strings.TrimSpace(req.CustomerName)
	if customer == "" {
		return domain.Order{}, invalidf("customer_name is required")
	}

	status := domain.StatusPending
	if strings.TrimSpace(req.PaymentStatus) != "" {
		status, err = domain.ParsePaymentStatus(req.PaymentStatus)
		if err != nil {
			return domain.Order{}, invalidf("%v", err)
		}
	}
	if status == domain.StatusCancelled {
		return domain.Order{}, invalidf("new orders must be pending or paid")
	}

	if len(req.Items) == 0 {
		return domain.Order{}, invalidf("order must contain at least one item")
	}
	ids := make([]string, 0, len(req.Items))
	for i, line := range req.Items {
		if strings.TrimSpace(line.MedicineID) == "" {
			return domain.Order{}, invalidf("item %d: medicine_id is required", i+1)
		}
		if line.Quantity < 1 {
			return domain.Order{}, invalidf("item %d: quantity must be at least 1", i+1)
		}
		ids = append(ids, strings.TrimSpace(line.MedicineID))
	}

	now := s.now()
	order := domain.Order{
		ID:              xid.NewID(),
		OrderCode:       xid.Code("ORD"),
		OwnerID:         actor.ID,
		CustomerName:    customer,
		CustomerContact: strings.TrimSpace(req.CustomerContact),
		PaymentStatus:   status,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ledger, err := openLedger(ctx, tx, actor.ID, ids, now)
		if err != nil {
			return err
		}

		items := make([]domain.OrderItem, 0, len(req.Items))
		total := decimal.Zero
		for i, line := range req.Items {
			medicine, err := ledger.FindOwned(ids[i])
			if err != nil {
				return err
			}
			if err := ledger.CheckAvailable(medicine); err != nil {
				return err
			}
			if err := ledger.DecrementStock(ctx, medicine, line.Quantity); err != nil {
				return err
			}

			item := domain.OrderItem{
				LineNo:       i + 1,
				MedicineID:   medicine.ID,
				MedicineName: medicine.Name,
				Quantity:     line.Quantity,
				Price:        medicine.Price,
			}
			items = append(items, item)
			total = total.Add(item.LineTotal())
		}
		order.Items = items
		order.TotalAmount = total

		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		if status == domain.StatusPaid {
			if err := tx.InsertSalesRecords(ctx, salesRecordsFor(order, actor.ID, now)); err != nil {
				return err
			}
		}
		return tx.CreateAuditLog(ctx, s.auditEntry(actor, "order_create", "order", order.ID,
			fmt.Sprintf("code=%s,status=%s,total=%s,lines=%d", order.OrderCode, order.PaymentStatus, order.TotalAmount, len(order.Items))))
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.invalidateStats(ctx, actor.ID)
	return order, nil
}

// UpdateOrderStatus moves an order along the payment state machine.
// Requesting the current status is a no-op, so repeated calls never write
// sales records or restock twice.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID string, req domain.UpdateOrderStatusRequest) (domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, invalidf("order id is required")
	}
	target, err := domain.ParsePaymentStatus(req.PaymentStatus)
	if err != nil {
		return domain.Order{}, invalidf("%v", err)
	}

	var updated domain.Order
	changed := false
	err = s.repo.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		order, err := tx.LockOrder(ctx, actor.ID, orderID)
		if err != nil {
			return err
		}
		if order.PaymentStatus == target {
			updated = *order
			return nil
		}
		if !domain.CanTransition(order.PaymentStatus, target) {
			return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, order.PaymentStatus, target)
		}

		now := s.now()
		switch target {
		case domain.StatusPaid:
			if err := backfillSales(ctx, tx, *order, actor.ID, now); err != nil {
				return err
			}
		case domain.StatusCancelled:
			if err := restock(ctx, tx, *order, now); err != nil {
				return err
			}
		}

		if err := tx.SetOrderStatus(ctx, actor.ID, order.ID, target, now); err != nil {
			return err
		}
		if err := tx.CreateAuditLog(ctx, s.auditEntry(actor, "order_status", "order", order.ID,
			fmt.Sprintf("code=%s,from=%s,to=%s", order.OrderCode, order.PaymentStatus, target))); err != nil {
			return err
		}

		order.PaymentStatus = target
		order.UpdatedAt = now
		updated = *order
		changed = true
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	if changed {
		s.invalidateStats(ctx, actor.ID)
	}
	return updated, nil
}

func backfillSales(ctx context.Context, tx store.Tx, order domain.Order, staff domain.OwnerID, now time.Time) error {
	exists, err := tx.HasSalesRecords(ctx, order.ID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return tx.InsertSalesRecords(ctx, salesRecordsFor(order, staff, now))
}

// restock returns every line's quantity to inventory. Medicines that were
// removed or soft-deleted since the order was placed are skipped.
func restock(ctx context.Context, tx store.Tx, order domain.Order, now time.Time) error {
	ids := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		ids = append(ids, item.MedicineID)
	}
	ledger, err := openLedger(ctx, tx, order.OwnerID, ids, now)
	if err != nil {
		return err
	}

	for _, item := range order.Items {
		medicine, err := ledger.FindOwned(item.MedicineID)
		if errors.Is(err, store.ErrNotFound) || medicine.IsDeleted {
			continue
		}
		if err != nil {
			return err
		}
		if err := ledger.IncrementStock(ctx, medicine, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func salesRecordsFor(order domain.Order, staff domain.OwnerID, now time.Time) []domain.SalesRecord {
	records := make([]domain.SalesRecord, 0, len(order.Items))
	prefix := xid.Code("SALE")
	for _, item := range order.Items {
		records = append(records, domain.SalesRecord{
			ID:         xid.NewID(),
			SaleCode:   fmt.Sprintf("%s-%d", prefix, item.LineNo),
			OrderID:    order.ID,
			LineNo:     item.LineNo,
			MedicineID: item.MedicineID,
			Quantity:   item.Quantity,
			UnitPrice:  item.Price,
			Total:      item.LineTotal(),
			SaleDate:   now,
			StaffID:    staff,
		})
	}
	return records
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	order, err := s.repo.GetOrder(ctx, actor.ID, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) ListOrders(ctx context.Context, filter domain.OrderFilter) (domain.OrderListResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.OrderListResponse{}, err
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return domain.OrderListResponse{}, invalidf("unknown payment status %q", filter.Status)
	}
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return domain.OrderListResponse{}, invalidf("end date is before start date")
	}
	filter.Page, filter.Limit = normalizePage(filter.Page, filter.Limit)

	orders, total, err := s.repo.ListOrders(ctx, actor.ID, filter)
	if err != nil {
		return domain.OrderListResponse{}, err
	}
	return domain.OrderListResponse{
		Orders:      orders,
		CurrentPage: filter.Page,
		TotalPages:  totalPages(total, filter.Limit),
		Total:       total,
	}, nil
}
