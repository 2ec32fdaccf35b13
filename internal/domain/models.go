package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalkInCustomer is the customer name recorded when the cashier leaves the
// field empty at checkout.
const WalkInCustomer = "Walk-in"

// InventoryItem is a sellable catalog entry. Barcode is expected to be unique
// but uniqueness is not enforced; lookups take the first match.
type InventoryItem struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Barcode  string          `json:"barcode"`
	MRP      decimal.Decimal `json:"mrp"`
	Discount decimal.Decimal `json:"discount"`
	GST      decimal.Decimal `json:"gst"`
	Cost     decimal.Decimal `json:"cost"`
	Stock    int             `json:"stock"`
}

type InventoryItemDraft struct {
	Name     string          `json:"name"`
	Barcode  string          `json:"barcode"`
	MRP      decimal.Decimal `json:"mrp"`
	Discount decimal.Decimal `json:"discount"`
	GST      decimal.Decimal `json:"gst"`
	Cost     decimal.Decimal `json:"cost"`
	Stock    int             `json:"stock"`
}

type InventoryItemPatch struct {
	Name     *string          `json:"name,omitempty"`
	Barcode  *string          `json:"barcode,omitempty"`
	MRP      *decimal.Decimal `json:"mrp,omitempty"`
	Discount *decimal.Decimal `json:"discount,omitempty"`
	GST      *decimal.Decimal `json:"gst,omitempty"`
	Cost     *decimal.Decimal `json:"cost,omitempty"`
	Stock    *int             `json:"stock,omitempty"`
}

// CartLine snapshots an inventory item at scan time plus the quantity being
// sold. The cart holds at most one line per item id.
type CartLine struct {
	Item     InventoryItem `json:"item"`
	Quantity int           `json:"quantity"`
}

type CartTotals struct {
	TotalMRP      decimal.Decimal `json:"total_mrp"`
	TotalDiscount decimal.Decimal `json:"total_discount"`
	TotalTax      decimal.Decimal `json:"total_tax"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
}

// TransactionLineItem is a frozen copy of the inventory fields at time of
// sale. Barcode is a soft foreign key used only to route stock restoration on
// return; no referential integrity is enforced if the item was since deleted.
type TransactionLineItem struct {
	ItemID      string          `json:"item_id"`
	Name        string          `json:"name"`
	Barcode     string          `json:"barcode"`
	MRP         decimal.Decimal `json:"mrp"`
	Discount    decimal.Decimal `json:"discount"`
	GST         decimal.Decimal `json:"gst"`
	Cost        decimal.Decimal `json:"cost"`
	Quantity    int             `json:"quantity"`
	ReturnedQty int             `json:"returned_qty"`
}

// Transaction is a committed sale. Totals are snapshotted at checkout and
// never recomputed; the only mutation after creation is ReturnedQty on its
// line items.
type Transaction struct {
	ID            string                `json:"id"`
	Date          time.Time             `json:"date"`
	CustomerName  string                `json:"customer_name"`
	Items         []TransactionLineItem `json:"items"`
	Total         decimal.Decimal       `json:"total"`
	TotalMRP      decimal.Decimal       `json:"total_mrp"`
	TotalDiscount decimal.Decimal       `json:"total_discount"`
	TotalTax      decimal.Decimal       `json:"total_tax"`
}

type ScanRequest struct {
	Query string `json:"query"`
}

type CartQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type CartResponse struct {
	Lines  []CartLine `json:"lines"`
	Totals CartTotals `json:"totals"`
}

type CheckoutRequest struct {
	CustomerName string `json:"customer_name"`
}

type CheckoutResponse struct {
	Transaction Transaction `json:"transaction"`
}

type ReturnRequest struct {
	TransactionID string `json:"transaction_id"`
	ItemID        string `json:"item_id"`
	Quantity      int    `json:"quantity"`
}

// ReturnResult reports what a processed return did to the ledger and the
// inventory.
type ReturnResult struct {
	TransactionID     string       `json:"transaction_id"`
	ItemID            string       `json:"item_id"`
	ReturnedQty       int          `json:"returned_qty"`
	TransactionPurged bool         `json:"transaction_purged"`
	Transaction       *Transaction `json:"transaction,omitempty"`
	StockRestored     bool         `json:"stock_restored"`
	RestoredToBarcode string       `json:"restored_to_barcode,omitempty"`
}

type DashboardReport struct {
	Date             string          `json:"date"`
	SalesToday       decimal.Decimal `json:"sales_today"`
	MarginToday      decimal.Decimal `json:"margin_today"`
	TransactionCount int             `json:"transaction_count"`
	ItemsSoldToday   int             `json:"items_sold_today"`
	LowStockItems    []InventoryItem `json:"low_stock_items"`
}

type ReceiptResponse struct {
	TransactionID string `json:"transaction_id"`
	EscposBase64  string `json:"escpos_base64"`
	PreviewText   string `json:"preview_text"`
	FileName      string `json:"file_name"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}
