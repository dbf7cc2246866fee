package excel

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"pharmacy/backend/internal/domain"
)

var headerAliases = map[string]string{
	"name":           "name",
	"medicine":       "name",
	"medicine name":  "name",
	"nama obat":      "name",
	"category":       "category",
	"kategori":       "category",
	"manufacturer":   "manufacturer",
	"pabrik":         "manufacturer",
	"batch":          "batch_number",
	"batch number":   "batch_number",
	"batch no":       "batch_number",
	"quantity":       "quantity",
	"qty":            "quantity",
	"stock":          "quantity",
	"jumlah":         "quantity",
	"price":          "price",
	"sell price":     "price",
	"harga":          "price",
	"harga jual":     "price",
	"purchase price": "purchase_price",
	"cost":           "purchase_price",
	"harga beli":     "purchase_price",
	"expiry":         "expiry_date",
	"expiry date":    "expiry_date",
	"expired":        "expiry_date",
	"kedaluwarsa":    "expiry_date",
	"reorder level":  "reorder_level",
	"min stock":      "reorder_level",
}

var requiredColumns = []string{"name", "quantity", "price", "expiry_date"}

// ParseMedicineRows reads medicines from sheet, or from the first sheet when
// sheet is empty. Blank-name rows are skipped.
func ParseMedicineRows(reader io.Reader, sheet string) ([]domain.MedicineImportRow, error) {
	file, err := excelize.OpenReader(reader)
	if err != nil {
		return nil, fmt.Errorf("open excel file: %w", err)
	}
	defer file.Close()

	if sheet == "" {
		sheets := file.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("excel file has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := file.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("excel file is empty")
	}

	colMap := mapColumns(rows[0])
	for _, col := range requiredColumns {
		if _, ok := colMap[col]; !ok {
			return nil, fmt.Errorf("missing required column: %s", col)
		}
	}

	result := make([]domain.MedicineImportRow, 0, len(rows)-1)
	for index := 1; index < len(rows); index++ {
		cells := rows[index]
		name := strings.TrimSpace(readCell(cells, colMap["name"]))
		if name == "" {
			continue
		}

		qty, err := parseInt(readCell(cells, colMap["quantity"]))
		if err != nil {
			return nil, fmt.Errorf("row %d invalid quantity: %w", index+1, err)
		}
		price, err := parseDecimal(readCell(cells, colMap["price"]))
		if err != nil {
			return nil, fmt.Errorf("row %d invalid price: %w", index+1, err)
		}
		expiry, err := parseExpiry(readCell(cells, colMap["expiry_date"]))
		if err != nil {
			return nil, fmt.Errorf("row %d invalid expiry_date: %w", index+1, err)
		}

		req := domain.MedicineCreateRequest{
			Name:         name,
			Category:     optional(cells, colMap, "category"),
			Manufacturer: optional(cells, colMap, "manufacturer"),
			BatchNumber:  optional(cells, colMap, "batch_number"),
			Quantity:     qty,
			Price:        price,
			ExpiryDate:   expiry,
		}
		if raw := optional(cells, colMap, "purchase_price"); raw != "" {
			cost, err := parseDecimal(raw)
			if err != nil {
				return nil, fmt.Errorf("row %d invalid purchase_price: %w", index+1, err)
			}
			req.PurchasePrice = cost
		}
		if raw := optional(cells, colMap, "reorder_level"); raw != "" {
			level, err := parseInt(raw)
			if err != nil {
				return nil, fmt.Errorf("row %d invalid reorder_level: %w", index+1, err)
			}
			req.ReorderLevel = &level
		}

		result = append(result, domain.MedicineImportRow{Row: index + 1, Request: req})
	}

	if len(result) == 0 {
		return nil, fmt.Errorf("excel file has no valid data rows")
	}
	return result, nil
}

func mapColumns(header []string) map[string]int {
	mapped := make(map[string]int)
	for idx, col := range header {
		canonical, ok := headerAliases[normalizeHeader(col)]
		if !ok {
			continue
		}
		if _, exists := mapped[canonical]; !exists {
			mapped[canonical] = idx
		}
	}
	return mapped
}

func normalizeHeader(raw string) string {
	value := strings.TrimSpace(raw)
	value = strings.TrimPrefix(value, "\ufeff")
	value = strings.ToLower(value)
	value = strings.ReplaceAll(value, "_", " ")
	return strings.Join(strings.Fields(value), " ")
}

func readCell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func optional(row []string, colMap map[string]int, column string) string {
	idx, ok := colMap[column]
	if !ok {
		return ""
	}
	return strings.TrimSpace(readCell(row, idx))
}

func parseInt(raw string) (int, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, fmt.Errorf("value is empty")
	}
	asFloat, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}
	if math.Mod(asFloat, 1) != 0 {
		return 0, fmt.Errorf("must be an integer")
	}
	return int(asFloat), nil
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return decimal.Zero, fmt.Errorf("value is empty")
	}
	parsed, err := decimal.NewFromString(strings.ReplaceAll(value, ",", ""))
	if err != nil {
		return decimal.Zero, fmt.Errorf("not a number")
	}
	// Numeric cells are binary floats; drop the noise past the sixth place.
	return parsed.Round(6), nil
}

// parseExpiry accepts a YYYY-MM-DD text cell or a date cell, which arrives
// as an Excel serial number with raw cell values.
func parseExpiry(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("value is empty")
	}
	if _, err := time.Parse("2006-01-02", value); err == nil {
		return value, nil
	}
	serial, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return "", fmt.Errorf("expected YYYY-MM-DD or a date cell")
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return "", err
	}
	return t.Format("2006-01-02"), nil
}
