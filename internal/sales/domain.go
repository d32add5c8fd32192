package sales

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// PaymentMethod is how a sale was paid.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentDebit    PaymentMethod = "debit"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentTransfer, PaymentDebit:
		return true
	default:
		return false
	}
}

// Label returns the display label.
func (m PaymentMethod) Label() string {
	switch m {
	case PaymentCash:
		return "Tunai"
	case PaymentTransfer:
		return "Transfer Bank"
	case PaymentDebit:
		return "Kartu Debit"
	default:
		return string(m)
	}
}

// Sale is a completed point of sale transaction.
type Sale struct {
	ID            int64           `json:"id"`
	InvoiceNumber string          `json:"invoice_number"`
	BranchID      int64           `json:"branch_id"`
	OperatorID    int64           `json:"operator_id"`
	SaleDate      time.Time       `json:"sale_date"`
	CustomerName  string          `json:"customer_name,omitempty"`
	CustomerPhone string          `json:"customer_phone,omitempty"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Notes         string          `json:"notes,omitempty"`
	Items         []SaleItem      `json:"items,omitempty"`
}

// SaleItem is a sold product line. UnitPrice is the price at the time of sale.
type SaleItem struct {
	ID        int64           `json:"id"`
	SaleID    int64           `json:"sale_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// ItemInput is a requested sale line. A nil UnitPrice sells at the product's
// current price.
type ItemInput struct {
	ProductID int64
	Quantity  int64
	UnitPrice *decimal.Decimal
}

// RecordSaleInput describes a sale to record.
type RecordSaleInput struct {
	BranchID      int64
	Items         []ItemInput
	Discount      decimal.Decimal
	PaymentMethod PaymentMethod
	CustomerName  string
	CustomerPhone string
	Notes         string
}

// ListFilter narrows sale listings. To is exclusive.
type ListFilter struct {
	BranchID      int64
	PaymentMethod PaymentMethod
	From          time.Time
	To            time.Time
	Limit         int
	Offset        int
}

// Totals computes line subtotals, the sale subtotal and the grand total.
// A discount above the subtotal is rejected.
func Totals(items []SaleItem, discount decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if discount.IsNegative() {
		return decimal.Zero, decimal.Zero, shared.Invalid("discount", discount.String(), "cannot be negative")
	}
	subtotal := decimal.Zero
	for i := range items {
		items[i].Subtotal = items[i].UnitPrice.Mul(decimal.NewFromInt(items[i].Quantity))
		subtotal = subtotal.Add(items[i].Subtotal)
	}
	if discount.GreaterThan(subtotal) {
		return decimal.Zero, decimal.Zero, shared.Invalid("discount", discount.String(), "exceeds subtotal "+subtotal.String())
	}
	return subtotal, subtotal.Sub(discount), nil
}
