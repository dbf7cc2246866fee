package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OwnerID identifies the staff account that owns medicines and orders.
type OwnerID string

type Actor struct {
	ID       OwnerID `json:"id"`
	Username string  `json:"username"`
	Role     string  `json:"role"`
}

const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

type Medicine struct {
	ID            string          `json:"id" db:"id"`
	OwnerID       OwnerID         `json:"user_id" db:"owner_id"`
	Name          string          `json:"name" db:"name"`
	Category      string          `json:"category" db:"category"`
	Manufacturer  string          `json:"manufacturer" db:"manufacturer"`
	BatchNumber   string          `json:"batch_number" db:"batch_number"`
	Quantity      int             `json:"quantity" db:"quantity"`
	Price         decimal.Decimal `json:"price" db:"price"`
	PurchasePrice decimal.Decimal `json:"purchase_price" db:"purchase_price"`
	ExpiryDate    time.Time       `json:"expiry_date" db:"expiry_date"`
	ReorderLevel  int             `json:"reorder_level" db:"reorder_level"`
	IsDeleted     bool            `json:"is_deleted" db:"is_deleted"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

func (m Medicine) IsLowStock() bool {
	return m.Quantity <= m.ReorderLevel
}

// IsExpired reports whether the expiry date falls before the calendar day of now.
func (m Medicine) IsExpired(now time.Time) bool {
	if m.ExpiryDate.IsZero() {
		return false
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return m.ExpiryDate.UTC().Before(today)
}

type MedicineCreateRequest struct {
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	Manufacturer  string          `json:"manufacturer"`
	BatchNumber   string          `json:"batch_number"`
	Quantity      int             `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	ExpiryDate    string          `json:"expiry_date"`
	ReorderLevel  *int            `json:"reorder_level,omitempty"`
}

type MedicineUpdateRequest struct {
	Name          *string          `json:"name,omitempty"`
	Category      *string          `json:"category,omitempty"`
	Manufacturer  *string          `json:"manufacturer,omitempty"`
	BatchNumber   *string          `json:"batch_number,omitempty"`
	Quantity      *int             `json:"quantity,omitempty"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	PurchasePrice *decimal.Decimal `json:"purchase_price,omitempty"`
	ExpiryDate    *string          `json:"expiry_date,omitempty"`
	ReorderLevel  *int             `json:"reorder_level,omitempty"`
}

type MedicineFilter struct {
	Search       string
	Categories   []string
	MinPrice     *decimal.Decimal
	MaxPrice     *decimal.Decimal
	LowStockOnly bool
	ExpiryFrom   *time.Time
	ExpiryTo     *time.Time
	SortBy       string
	SortDesc     bool
	Page         int
	Limit        int
}

type MedicineListResponse struct {
	Medicines   []Medicine `json:"medicines"`
	CurrentPage int        `json:"current_page"`
	TotalPages  int        `json:"total_pages"`
	Total       int        `json:"total_medicines"`
}

type OrderItem struct {
	LineNo       int             `json:"line_no" db:"line_no"`
	MedicineID   string          `json:"medicine_id" db:"medicine_id"`
	MedicineName string          `json:"medicine_name" db:"medicine_name"`
	Quantity     int             `json:"quantity" db:"quantity"`
	Price        decimal.Decimal `json:"price" db:"price"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Order struct {
	ID              string          `json:"id" db:"id"`
	OrderCode       string          `json:"order_id" db:"order_code"`
	OwnerID         OwnerID         `json:"staff_id" db:"owner_id"`
	CustomerName    string          `json:"customer_name" db:"customer_name"`
	CustomerContact string          `json:"customer_contact" db:"customer_contact"`
	Items           []OrderItem     `json:"items" db:"-"`
	TotalAmount     decimal.Decimal `json:"total_amount" db:"total_amount"`
	PaymentStatus   PaymentStatus   `json:"payment_status" db:"payment_status"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

type OrderLineRequest struct {
	MedicineID string `json:"medicine_id"`
	Quantity   int    `json:"quantity"`
}

type CreateOrderRequest struct {
	CustomerName    string             `json:"customer_name"`
	CustomerContact string             `json:"customer_contact"`
	PaymentStatus   string             `json:"payment_status"`
	Items           []OrderLineRequest `json:"items"`
}

type UpdateOrderStatusRequest struct {
	PaymentStatus string `json:"payment_status"`
}

type OrderFilter struct {
	Search    string
	Status    PaymentStatus
	StartDate *time.Time
	EndDate   *time.Time
	Page      int
	Limit     int
}

type OrderListResponse struct {
	Orders      []Order `json:"orders"`
	CurrentPage int     `json:"current_page"`
	TotalPages  int     `json:"total_pages"`
	Total       int     `json:"total_orders"`
}

type SalesRecord struct {
	ID         string          `json:"id" db:"id"`
	SaleCode   string          `json:"sale_id" db:"sale_code"`
	OrderID    string          `json:"order_id" db:"order_id"`
	LineNo     int             `json:"line_no" db:"line_no"`
	MedicineID string          `json:"medicine_id" db:"medicine_id"`
	Quantity   int             `json:"quantity" db:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price" db:"unit_price"`
	Total      decimal.Decimal `json:"total" db:"total"`
	SaleDate   time.Time       `json:"sale_date" db:"sale_date"`
	StaffID    OwnerID         `json:"staff_id" db:"staff_id"`
}

type SalesFilter struct {
	StartDate  *time.Time
	EndDate    *time.Time
	MedicineID string
	Page       int
	Limit      int
}

type SalesTotals struct {
	Count    int
	Revenue  decimal.Decimal
	Quantity int
}

type SalesListResponse struct {
	Sales         []SalesRecord   `json:"sales"`
	CurrentPage   int             `json:"current_page"`
	TotalPages    int             `json:"total_pages"`
	Total         int             `json:"total_sales"`
	TotalRevenue  decimal.Decimal `json:"total_revenue"`
	TotalQuantity int             `json:"total_quantity_sold"`
}

type DashboardStats struct {
	TotalMedicines    int             `json:"total_medicines"`
	LowStockCount     int             `json:"low_stock_count"`
	ExpiringSoonCount int             `json:"expiring_soon_count"`
	TodaysSales       decimal.Decimal `json:"todays_sales"`
	MonthlyRevenue    decimal.Decimal `json:"monthly_revenue"`
	GeneratedAt       time.Time       `json:"generated_at"`
}

type Staff struct {
	ID           OwnerID   `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Role         string    `json:"role" db:"role"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      Staff     `json:"user"`
}

type Supplier struct {
	ID                string    `json:"id" db:"id"`
	Name              string    `json:"name" db:"name"`
	Contact           string    `json:"contact" db:"contact"`
	Email             string    `json:"email" db:"email"`
	Address           string    `json:"address" db:"address"`
	MedicinesSupplied []string  `json:"medicines_supplied" db:"-"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

type SupplierFilter struct {
	Search string
	Page   int
	Limit  int
}

type SupplierListResponse struct {
	Suppliers   []Supplier `json:"suppliers"`
	CurrentPage int        `json:"current_page"`
	TotalPages  int        `json:"total_pages"`
	Total       int        `json:"total_suppliers"`
}

type SupplierRequest struct {
	Name              string   `json:"name"`
	Contact           string   `json:"contact"`
	Email             string   `json:"email"`
	Address           string   `json:"address"`
	MedicinesSupplied []string `json:"medicines_supplied"`
}

type AuditLog struct {
	ID            string    `json:"id" db:"id"`
	OwnerID       OwnerID   `json:"owner_id" db:"owner_id"`
	ActorUsername string    `json:"actor_username" db:"actor_username"`
	ActorRole     string    `json:"actor_role" db:"actor_role"`
	Action        string    `json:"action" db:"action"`
	EntityType    string    `json:"entity_type" db:"entity_type"`
	EntityID      string    `json:"entity_id" db:"entity_id"`
	Detail        string    `json:"detail" db:"detail"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// MedicineImportRow is one spreadsheet row; Row is the 1-based sheet row.
type MedicineImportRow struct {
	Row     int
	Request MedicineCreateRequest
}

type ImportFailure struct {
	Row     int    `json:"row"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

type ImportResult struct {
	Created int             `json:"created"`
	Failed  []ImportFailure `json:"failed"`
}
