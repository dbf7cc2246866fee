package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"pharmacy/backend/internal/domain"
	"pharmacy/backend/internal/store"
	"pharmacy/backend/internal/store/memory"
)

var testActor = domain.Actor{ID: "staff-1", Username: "apoteker", Role: domain.RoleStaff}

func newTestService() (*Service, context.Context) {
	svc := New(memory.New(), nil, Options{DefaultReorderLevel: 10})
	return svc, WithActor(context.Background(), testActor)
}

func mustCreateMedicine(t *testing.T, svc *Service, ctx context.Context, name string, qty int, price string) domain.Medicine {
	t.Helper()
	medicine, err := svc.CreateMedicine(ctx, domain.MedicineCreateRequest{
		Name:        name,
		Category:    "Analgesic",
		BatchNumber: "BATCH-" + name,
		Quantity:    qty,
		Price:       decimal.RequireFromString(price),
		ExpiryDate:  time.Now().UTC().AddDate(1, 0, 0).Format("2006-01-02"),
	})
	if err != nil {
		t.Fatalf("create medicine failed: %v", err)
	}
	return medicine
}

func stockOf(t *testing.T, svc *Service, ctx context.Context, id string) int {
	t.Helper()
	medicine, err := svc.repo.GetMedicine(ctx, testActor.ID, id)
	if err != nil {
		t.Fatalf("get medicine failed: %v", err)
	}
	return medicine.Quantity
}

func salesFor(t *testing.T, svc *Service, ctx context.Context) domain.SalesListResponse {
	t.Helper()
	sales, err := svc.ListSales(ctx, domain.SalesFilter{Limit: 100})
	if err != nil {
		t.Fatalf("list sales failed: %v", err)
	}
	return sales
}

func TestCreateOrderDecrementsStockAndCapturesPrice(t *testing.T) {
	svc, ctx := newTestService()
	medicine := mustCreateMedicine(t, svc, ctx, "Paracetamol", 10, "2.50")

	order, err := svc.CreateOrder(ctx, domain.CreateOrderRequest{
		CustomerName: "Budi",
		Items:        []domain.OrderLineRequest{{MedicineID: medicine.ID, Quantity: 3}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	if got := stockOf(t, svc, ctx, medicine.ID); got != 7 {
		t.Fatalf("expected stock 7, got %d", got)
	}
	if order.PaymentStatus != domain.StatusPending {
		t.Fatalf("expected default status pending, got %s", order.PaymentStatus)
	}
	if !order.Items[0].Price.Equal(decimal.RequireFromString("2.50")) {
		t.Fatalf("expected captured price 2.50, got %s", order.Items[0].Price)
	}
	if !order.TotalAmount.Equal(decimal.RequireFromString("7.50")) {
		t.Fatalf("expected total 7.50, got %s", order.TotalAmount)
	}
	if order.OrderCode == "" || order.OrderCode[:4] != "ORD-" {
		t.Fatalf("unexpected order code %q", order.OrderCode)
	}
	if sales := salesFor(t, svc, ctx); sales.Total != 0 {
		t.Fatalf("expected no sales records for pending order, got %d", sales.Total)
	}
}

func TestCreateOrderInsufficientStockLeavesStockUnchanged(t *testing.T) {
	svc, ctx := newTestService()
	medicine := mustCreateMedicine(t, svc, ctx, "Amoxicillin", 5, "12.00")

	_, err := svc.CreateOrder(ctx, domain.CreateOrderRequest{
		CustomerName: "Sari",
		Items:        []domain.OrderLineRequest{{MedicineID: medicine.ID, Quantity: 6}},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	var stockErr *store.StockError
	if !errors.As(err, &stockErr) || stockErr.Available != 5 {
		t.Fatalf("expected stock error reporting 5 available, got %v", err)
	}
	if got := stockOf(t, svc, ctx, medicine.ID); got != 5 {
		t.Fatalf("expected stock to stay 5, got %d", got)
	}
}

func TestCreateOrderLaterLineFailureRollsBackEarlierLines(t *testing.T) {
	svc, ctx := newTestService()
	first := mustCreateMedicine(t, svc, ctx, "Cetirizine", 10, "3.00")
	second := mustCreateMedicine(t, svc, ctx, "Omeprazole", 1, "8.00")

	_, err := svc.CreateOrder(ctx, domain.CreateOrderRequest{
		CustomerName: "Andi",
		Items: []domain.OrderLineRequest{
			{MedicineID: first.ID, Quantity: 4},
			{MedicineID: second.ID, Quantity: 2},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if got := stockOf(t, svc, ctx, first.ID); got != 10 {
		t.Fatalf("expected first line stock restored to 10, got %d", got)
	}

	orders, err := svc.ListOrders(ctx, domain.OrderFilter{})
	if err != nil {
		t.Fatalf("list orders failed: %v", err)
	}
	if orders.Total != 0 {
		t.Fatalf("expected no order persisted, got %d", orders.Total)
	}
}

func TestCreateOrderRepeatedMedicineSeesEarlierLines(t *testing.T) {
	svc, ctx := newTestService()
	medicine := mustCreateMedicine(t, svc, ctx, "Metformin", 5, "6.00")

	_, err := svc.CreateOrder(ctx, domain.CreateOrderRequest{
		CustomerName: "Dewi",
		Items: []domain.OrderLineRequest{
			{MedicineID: medicine.ID, Quantity: 3},
			{MedicineID: medicine.ID, Quantity: 3},
		},
	})
	var stockErr *store.StockError
	if !errors.As(err, &stockErr) || stockErr.Available != 2 {
		t.Fatalf("expected second line to see 2 remaining, got %v", err)
	}
	if got := stockOf(t, svc, ctx, medicine.ID); got != 5 {
		t.Fatalf("expected stock 5 after rollback, got %d", got)
	}
}

func TestCreateOrderPaidWritesOneSalesRecordPerLine(t *testing.T) {
	svc, ctx := newTestService()
	a := mustCreateMedicine(t, svc, ctx, "Ibuprofen", 20, "4.25")
	b := mustCreateMedicine(t, svc, ctx, "Loratadine", 20, "1.10")

	order, err := svc.CreateOrder(ctx, domain.CreateOrderRequest{
		CustomerName:  "Rina",
		PaymentStatus: "paid",
		Items: []domain.OrderLineRequest{
			{MedicineID: a.ID, Quantity: 2},
			{MedicineID: b.ID, Quantity: 5},
		},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	sales := salesFor(t, svc, ctx)
	if sales.Total != 2 {
		t.Fatalf("expected 2 sales records, got %d", sales.Total)
	}
	byMedicine := map[string]domain.SalesRecord{}
	for _, record := range sales.Sales {
		if record.OrderID != order.ID {
			t.Fatalf("sales record points at wrong order %s", record.OrderID)
		}
		byMedicine[record.MedicineID] = record
	}
	if r := byMedicine[a.ID]; r.Quantity != 2 || !r.UnitPrice.Equal(a.Price) || !r.Total.Equal(decimal.RequireFromString("8.50")) {
		t.Fatalf("unexpected sales record %+v", r)
	}
	if r := byMedicine[b.ID]; r.Quantity != 5 || !r.Total.Equal(decimal.RequireFromString("5.50")) {
		t.Fatalf("unexpected sales record %+v", r)
	}
	if !sales.TotalRevenue.Equal(order.TotalAmount) || sales.TotalQuantity != 7 {
		t.Fatalf("unexpected sales totals revenue=%s qty=%d", sales.TotalRevenue, sales.TotalQuantity)
	}
}

func TestPendingToPaidBackfillsSalesOnce(t *testing.T) {
	svc, ctx := newTestService()
	a := mustCreateMedicine(t, svc, ctx, "Vitamin C", 50, "0.75")
	b := mustCreateMedicine(t, svc, ctx, "Zinc", 50, "1.25")

	order, err := svc.CreateOrder(ctx, domain.CreateOrderRequest{
		CustomerName: "Tono",
		Items: []domain.OrderLineRequest{
			{MedicineID: a.ID, Quantity: 4},
			{MedicineID: b.ID, Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		updated, err := svc.UpdateOrderStatus(ctx, order.ID, domain.UpdateOrderStatusRequest{PaymentStatus: "paid"})
		if err != nil {
			t.Fatalf("mark paid attempt %d failed: %v", i+1, err)
		}
		if updated.PaymentStatus != domain.StatusPaid {
			t.Fatalf("expected paid, got %s", updated.PaymentStatus)
		}
	}

	if sales := salesFor(t, svc, ctx); sales.Total != 2 {
		t.Fatalf("expected exactly 2 sales records, got %d", sales.Total)
	}
	if got := stockOf(t, svc, ctx, a.ID); got != 46 {
		t.Fatalf("paying must not touch stock, got %d", got)
	}
}

func TestCancelRestoresStockAndKeepsSales(t *testing.T) {
	svc, ctx := newTestService()
	medicine := mustCreateMedicine(t, svc, ctx, "Salbutamol", 10, "9.00")

	pending, err := svc.CreateOrder(ctx, domain.CreateOrderRequest{
		CustomerName: "Nina",
		Items:        []domain.OrderLineRequest{{MedicineID: medicine.ID, Quantity: 4}},
	})
	if err != nil {
		t.Fatalf("create pending order failed: %v", err)
	}
	paid, err := svc.CreateOrder(ctx, domain.CreateOrderRequest{
		CustomerName:  "Nina",
		PaymentStatus: "paid",
		Items:         []domain.OrderLineRequest{{MedicineID: medicine.ID, Quantity: 3}},
	})
	if err != nil {
		t.Fatalf("create paid order failed: %v", err)
	}
	if got := stockOf(t, svc, ctx, medicine.ID); got != 3 {
		t.Fatalf("expected stock 3, got %d", got)
	}

	if _, err := svc.UpdateOrderStatus(ctx, pending.ID, domain.UpdateOrderStatusRequest{PaymentStatus: "cancelled"}); err != nil {
		t.Fatalf("cancel pending failed: %v", err)
	}
	if got := stockOf(t, svc, ctx, medicine.ID); got != 7 {
		t.Fatalf("expected stock 7 after cancelling pending order, got %d", got)
	}

	if _, err := svc.UpdateOrderStatus(ctx, paid.ID, domain.UpdateOrderStatusRequest{PaymentStatus: "cancelled"}); err != nil {
		t.Fatalf("cancel paid failed: %v", err)
	}
	if _, err := svc.UpdateOrderStatus(ctx, paid.ID, domain.UpdateOrderStatusRequest{PaymentStatus: "cancelled"}); err != nil {
		t.Fatalf("repeat cancel failed: %v", err)
	}
	if got := stockOf(t, svc, ctx, medicine.ID); got != 10 {
		t.Fatalf("expected stock 10 after cancelling both orders once, got %d", got)
	}
	if sales := salesFor(t, svc, ctx); sales.Total != 1 {
		t.Fatalf("expected paid order's sales record to survive cancellation, got %d", sales.Total)
	}
}

func TestCancelSkipsDeletedMedicine(t *testing.T) {
	svc, ctx := newTestService()
	kept := mustCreateMedicine(t, svc, ctx, "Kept", 10, "1.00")
	removed := mustCreateMedicine(t, svc, ctx, "Removed", 10, "1.00")

	order, err := svc.CreateOrder(ctx, domain.CreateOrderRequest{
		CustomerName: "Joko",
		Items: []domain.OrderLineRequest{
			{MedicineID: kept.ID, Quantity: 2},
			{MedicineID: removed.ID, Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if err := svc.DeleteMedicine(ctx, removed.ID); err != nil {
		t.Fatalf("delete medicine failed: %v", err)
	}

	if _, err := svc.UpdateOrderStatus(ctx, order.ID, domain.UpdateOrderStatusRequest{PaymentStatus: "cancelled"}); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if got := stockOf(t, svc, ctx, kept.ID); got != 10 {
		t.Fatalf("expected kept medicine restored to 10, got %d", got)
	}
	if got := stockOf(t, svc, ctx, removed.ID); got != 8 {
		t.Fatalf("expected deleted medicine untouched at 8, got %d", got)
	}
}

func TestRejectedTransitions(t *testing.T) {
	svc, ctx := newTestService()
	medicine := mustCreateMedicine(t, svc, ctx, "Antacid", 10, "2.00")

	order, err := svc.CreateOrder(ctx, domain.CreateOrderRequest{
		CustomerName:  "Putri",
		PaymentStatus: "paid",
		Items:         []domain.OrderLineRequest{{MedicineID: medicine.ID, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	if _, err := svc.UpdateOrderStatus(ctx, order.ID, domain.UpdateOrderStatusRequest{PaymentStatus: "pending"}); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected paid -> pending to be rejected, got %v", err)
	}
	if _, err := svc.UpdateOrderStatus(ctx, order.ID, domain.UpdateOrderStatusRequest{PaymentStatus: "cancelled"}); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if _, err := svc.UpdateOrderStatus(ctx, order.ID, domain.UpdateOrderStatusRequest{PaymentStatus: "paid"}); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected cancelled to be terminal, got %v", err)
	}
	if _, err := svc.UpdateOrderStatus(ctx, order.ID, domain.UpdateOrderStatusRequest{PaymentStatus: "refunded"}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected unknown status to be invalid input, got %v", err)
	}
	if _, err := svc.UpdateOrderStatus(ctx, "missing", domain.UpdateOrderStatusRequest{PaymentStatus: "paid"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateOrderSoftDeletedMedicineIsUnavailable(t *testing.T) {
	svc, ctx := newTestService()
	medicine := mustCreateMedicine(t, svc, ctx, "Codeine", 100, "15.00")
	if err := svc.DeleteMedicine(ctx, medicine.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	_, err := svc.CreateOrder(ctx, domain.CreateOrderRequest{
		CustomerName: "Eko",
		Items:        []domain.OrderLineRequest{{MedicineID: medicine.ID, Quantity: 1}},
	})
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if got := stockOf(t, svc, ctx, medicine.ID); got != 100 {
		t.Fatalf("expected stock untouched, got %d", got)
	}
}

func TestCreateOrderExpiredMedicineIsUnavailable(t *testing.T) {
	svc, ctx := newTestService()
	medicine := mustCreateMedicine(t, svc, ctx, "Old Syrup", 10, "5.00")
	past := time.Now().UTC().AddDate(0, 0, -2).Format("2006-01-02")
	if _, err := svc.UpdateMedicine(ctx, medicine.ID, domain.MedicineUpdateRequest{ExpiryDate: &past}); err != nil {
		t.Fatalf("update expiry failed: %v", err)
	}

	_, err := svc.CreateOrder(ctx, domain.CreateOrderRequest{
		CustomerName: "Eko",
		Items:        []domain.OrderLineRequest{{MedicineID: medicine.ID, Quantity: 1}},
	})
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected expired medicine to be unavailable, got %v", err)
	}
}

func TestCreateOrderScopesMedicinesToOwner(t *testing.T) {
	svc, ctx := newTestService()
	medicine := mustCreateMedicine(t, svc, ctx, "Private", 10, "1.00")

	other := WithActor(context.Background(), domain.Actor{ID: "staff-2", Username: "other", Role: domain.RoleStaff})
	_, err := svc.CreateOrder(other, domain.CreateOrderRequest{
		CustomerName: "Intruder",
		Items:        []domain.OrderLineRequest{{MedicineID: medicine.ID, Quantity: 1}},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected other owner's medicine to be not found, got %v", err)
	}

	if _, err := svc.CreateOrder(context.Background(), domain.CreateOrderRequest{
		CustomerName: "Anon",
		Items:        []domain.OrderLineRequest{{MedicineID: medicine.ID, Quantity: 1}},
	}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	svc, ctx := newTestService()
	medicine := mustCreateMedicine(t, svc, ctx, "Valid", 10, "1.00")

	cases := []domain.CreateOrderRequest{
		{CustomerName: "", Items: []domain.OrderLineRequest{{MedicineID: medicine.ID, Quantity: 1}}},
		{CustomerName: "No items"},
		{CustomerName: "Zero qty", Items: []domain.OrderLineRequest{{MedicineID: medicine.ID, Quantity: 0}}},
		{CustomerName: "No id", Items: []domain.OrderLineRequest{{Quantity: 1}}},
		{CustomerName: "Bad status", PaymentStatus: "refunded", Items: []domain.OrderLineRequest{{MedicineID: medicine.ID, Quantity: 1}}},
		{CustomerName: "Cancelled", PaymentStatus: "cancelled", Items: []domain.OrderLineRequest{{MedicineID: medicine.ID, Quantity: 1}}},
	}
	for _, req := range cases {
		if _, err := svc.CreateOrder(ctx, req); !errors.Is(err, store.ErrInvalidInput) {
			t.Fatalf("expected invalid input for %+v, got %v", req, err)
		}
	}
	if got := stockOf(t, svc, ctx, medicine.ID); got != 10 {
		t.Fatalf("validation failures must not touch stock, got %d", got)
	}
}

func TestConcurrentOrdersNeverOversell(t *testing.T) {
	svc, ctx := newTestService()
	medicine := mustCreateMedicine(t, svc, ctx, "Hot Item", 10, "1.00")

	const buyers = 25
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, rejected := 0, 0
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateOrder(ctx, domain.CreateOrderRequest{
				CustomerName:  "Rush",
				PaymentStatus: "paid",
				Items:         []domain.OrderLineRequest{{MedicineID: medicine.ID, Quantity: 1}},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, store.ErrInsufficientStock):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 || rejected != buyers-10 {
		t.Fatalf("expected 10 successes and %d rejections, got %d and %d", buyers-10, succeeded, rejected)
	}
	if got := stockOf(t, svc, ctx, medicine.ID); got != 0 {
		t.Fatalf("expected stock 0, got %d", got)
	}
	if sales := salesFor(t, svc, ctx); sales.Total != 10 {
		t.Fatalf("expected 10 sales records, got %d", sales.Total)
	}
}

func TestOrderTotalMatchesLineSum(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		svc, ctx := newTestService()

		lines := rapid.IntRange(1, 6).Draw(rt, "lines")
		req := domain.CreateOrderRequest{CustomerName: "Property"}
		want := decimal.Zero
		stock := map[string]int{}
		for i := 0; i < lines; i++ {
			cents := rapid.Int64Range(1, 500000).Draw(rt, "price_cents")
			qty := rapid.IntRange(1, 50).Draw(rt, "qty")
			initial := rapid.IntRange(qty, 200).Draw(rt, "stock")

			medicine, err := svc.CreateMedicine(ctx, domain.MedicineCreateRequest{
				Name:       "Line medicine",
				Quantity:   initial,
				Price:      decimal.New(cents, -2),
				ExpiryDate: time.Now().UTC().AddDate(1, 0, 0).Format("2006-01-02"),
			})
			if err != nil {
				rt.Fatalf("create medicine failed: %v", err)
			}
			req.Items = append(req.Items, domain.OrderLineRequest{MedicineID: medicine.ID, Quantity: qty})
			want = want.Add(medicine.Price.Mul(decimal.NewFromInt(int64(qty))))
			stock[medicine.ID] = initial - qty
		}

		order, err := svc.CreateOrder(ctx, req)
		if err != nil {
			rt.Fatalf("create order failed: %v", err)
		}
		if !order.TotalAmount.Equal(want) {
			rt.Fatalf("total %s does not match line sum %s", order.TotalAmount, want)
		}
		sum := decimal.Zero
		for _, item := range order.Items {
			sum = sum.Add(item.LineTotal())
		}
		if !sum.Equal(order.TotalAmount) {
			rt.Fatalf("items sum %s does not match total %s", sum, order.TotalAmount)
		}
		for id, expected := range stock {
			medicine, err := svc.repo.GetMedicine(ctx, testActor.ID, id)
			if err != nil {
				rt.Fatalf("get medicine failed: %v", err)
			}
			if medicine.Quantity != expected {
				rt.Fatalf("expected stock %d, got %d", expected, medicine.Quantity)
			}
		}
	})
}
