package store

import (
	"context"
	"errors"

	"canteenpos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrEmptyCart         = errors.New("empty cart")
	ErrReturnExceedsSold = errors.New("return exceeds sold quantity")
)

// Repository owns the three mutable collections of the POS engine: the
// inventory catalog, the in-progress cart and the transaction ledger. Every
// method is atomic with respect to all three collections; an observer never
// sees stock decremented without the matching transaction appended, or a
// return applied without its stock restoration.
type Repository interface {
	ListItems(ctx context.Context) ([]domain.InventoryItem, error)
	CreateItem(ctx context.Context, draft domain.InventoryItemDraft) (*domain.InventoryItem, error)
	GetItemByID(ctx context.Context, id string) (*domain.InventoryItem, error)
	UpdateItem(ctx context.Context, id string, patch domain.InventoryItemPatch) (*domain.InventoryItem, error)
	DeleteItem(ctx context.Context, id string) error
	// FindItemByBarcodeOrName resolves a scanned or typed query to the first
	// item whose barcode matches exactly, or failing that whose name matches
	// case-insensitively. Duplicate barcodes are not detected; first match
	// wins.
	FindItemByBarcodeOrName(ctx context.Context, query string) (*domain.InventoryItem, error)
	// AdjustStock applies a signed delta to the first item with the given
	// barcode. A missing barcode is a silent no-op: returns restock against
	// items deleted after the sale simply leak.
	AdjustStock(ctx context.Context, barcode string, delta int) error

	GetCart(ctx context.Context) ([]domain.CartLine, error)
	// AddCartLine increments the existing line for the item id, or inserts a
	// new line with quantity 1. The cart is a pure accumulator; stock guards
	// are the caller's responsibility.
	AddCartLine(ctx context.Context, item domain.InventoryItem) (*domain.CartLine, error)
	SetCartQuantity(ctx context.Context, itemID string, qty int) error
	RemoveCartLine(ctx context.Context, itemID string) error
	ClearCart(ctx context.Context) error

	ListTransactions(ctx context.Context) ([]domain.Transaction, error)
	FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error)
	// CreateCheckout appends the transaction and decrements stock for every
	// sold barcode in a single critical section. The caller's cart is not
	// touched.
	CreateCheckout(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	// DeleteTransaction removes the ledger entry outright with no stock
	// restoration. This is a destructive administrative override, not a
	// return; it is non-reversible and non-stock-correcting.
	DeleteTransaction(ctx context.Context, id string) error
	// ApplyReturn validates and applies a partial or full return: bumps the
	// line's returned quantity, purges the transaction when every line is
	// fully returned, and restores stock for the line's barcode. On any
	// validation failure nothing is mutated.
	ApplyReturn(ctx context.Context, transactionID string, itemID string, qty int) (*domain.ReturnResult, error)
}
