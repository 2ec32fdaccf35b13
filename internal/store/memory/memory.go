// Package memory implements the POS repository as a mutex-guarded in-memory
// state machine with write-through persistence to a blob store. All public
// operations run under a single lock, so the three collections are always
// observed in a consistent state.
package memory

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"canteenpos/backend/internal/blob"
	"canteenpos/backend/internal/domain"
	"canteenpos/backend/internal/store"
	"canteenpos/backend/internal/xid"
)

type Store struct {
	mu           sync.Mutex
	blob         blob.Store
	logger       *zap.SugaredLogger
	items        []domain.InventoryItem
	cart         []domain.CartLine
	transactions []domain.Transaction
	unsaved      bool
}

// Open loads the three collections from the blob store. A collection that was
// never saved, or whose payload no longer parses into the expected shape,
// falls back to seed/default data rather than failing startup: the engine
// favors availability over fidelity to stale or corrupt local data.
func Open(ctx context.Context, blobStore blob.Store, logger *zap.SugaredLogger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Store{blob: blobStore, logger: logger}

	if !loadCollection(ctx, blobStore, logger, blob.CollectionInventory, &s.items) {
		s.items = seedCatalog()
		logger.Infow("inventory initialized from seed catalog", "items", len(s.items))
	}
	if !loadCollection(ctx, blobStore, logger, blob.CollectionTransactions, &s.transactions) {
		s.transactions = []domain.Transaction{}
	}
	if !loadCollection(ctx, blobStore, logger, blob.CollectionCart, &s.cart) {
		s.cart = []domain.CartLine{}
	}

	return s, nil
}

func loadCollection[T any](ctx context.Context, blobStore blob.Store, logger *zap.SugaredLogger, name string, dest *[]T) bool {
	payload, err := blobStore.Load(ctx, name)
	if err != nil {
		if err != blob.ErrNoPayload {
			logger.Warnw("failed to load collection, using defaults", "collection", name, "error", err)
		}
		return false
	}

	var records []T
	if err := json.Unmarshal(payload, &records); err != nil {
		logger.Warnw("corrupt payload for collection, using defaults", "collection", name, "error", err)
		return false
	}
	*dest = records
	return true
}

// seedCatalog is the fixed starter inventory used when no persisted catalog
// exists, so the register is usable on first run.
func seedCatalog() []domain.InventoryItem {
	return []domain.InventoryItem{
		{
			ID:       xid.New("item"),
			Name:     "Premium Wireless Headset",
			Barcode:  "WH-001",
			MRP:      decimal.NewFromInt(2999),
			Discount: decimal.NewFromInt(10),
			GST:      decimal.Zero,
			Cost:     decimal.NewFromInt(1500),
			Stock:    45,
		},
		{
			ID:       xid.New("item"),
			Name:     "Mechanical Keyboard RGB",
			Barcode:  "MK-RGB",
			MRP:      decimal.NewFromInt(4500),
			Discount: decimal.NewFromInt(15),
			GST:      decimal.Zero,
			Cost:     decimal.NewFromInt(2800),
			Stock:    20,
		},
		{
			ID:       xid.New("item"),
			Name:     "Gaming Mouse",
			Barcode:  "GM-PRO",
			MRP:      decimal.NewFromInt(1200),
			Discount: decimal.NewFromInt(5),
			GST:      decimal.Zero,
			Cost:     decimal.NewFromInt(600),
			Stock:    80,
		},
	}
}

// UnsavedChanges reports whether any write-through save has failed since the
// last successful one. In-memory state is never rolled back on a persistence
// failure; the condition is surfaced so operators can act on it.
func (s *Store) UnsavedChanges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsaved
}

// saveLocked persists one collection; callers must hold s.mu.
func (s *Store) saveLocked(ctx context.Context, collection string, records any) {
	payload, err := json.Marshal(records)
	if err != nil {
		s.logger.Warnw("failed to encode collection", "collection", collection, "error", err)
		s.unsaved = true
		return
	}
	if err := s.blob.Save(ctx, collection, payload); err != nil {
		s.logger.Warnw("failed to persist collection", "collection", collection, "error", err)
		s.unsaved = true
		return
	}
	s.unsaved = false
}

func (s *Store) ListItems(_ context.Context) ([]domain.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]domain.InventoryItem, len(s.items))
	copy(items, s.items)
	return items, nil
}

func (s *Store) CreateItem(ctx context.Context, draft domain.InventoryItemDraft) (*domain.InventoryItem, error) {
	item := domain.InventoryItem{
		ID:       xid.New("item"),
		Name:     draft.Name,
		Barcode:  draft.Barcode,
		MRP:      draft.MRP,
		Discount: draft.Discount,
		GST:      draft.GST,
		Cost:     draft.Cost,
		Stock:    draft.Stock,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append(s.items, item)
	s.saveLocked(ctx, blob.CollectionInventory, s.items)

	created := item
	return &created, nil
}

func (s *Store) GetItemByID(_ context.Context, id string) (*domain.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range s.items {
		if item.ID == id {
			found := item
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateItem(ctx context.Context, id string, patch domain.InventoryItemPatch) (*domain.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].ID != id {
			continue
		}
		applyPatch(&s.items[i], patch)
		s.saveLocked(ctx, blob.CollectionInventory, s.items)
		updated := s.items[i]
		return &updated, nil
	}
	return nil, store.ErrNotFound
}

func applyPatch(item *domain.InventoryItem, patch domain.InventoryItemPatch) {
	if patch.Name != nil {
		item.Name = *patch.Name
	}
	if patch.Barcode != nil {
		item.Barcode = *patch.Barcode
	}
	if patch.MRP != nil {
		item.MRP = *patch.MRP
	}
	if patch.Discount != nil {
		item.Discount = *patch.Discount
	}
	if patch.GST != nil {
		item.GST = *patch.GST
	}
	if patch.Cost != nil {
		item.Cost = *patch.Cost
	}
	if patch.Stock != nil {
		item.Stock = *patch.Stock
	}
}

func (s *Store) DeleteItem(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].ID != id {
			continue
		}
		s.items = append(s.items[:i], s.items[i+1:]...)
		s.saveLocked(ctx, blob.CollectionInventory, s.items)
		return nil
	}
	return store.ErrNotFound
}

func (s *Store) FindItemByBarcodeOrName(_ context.Context, query string) (*domain.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := findByBarcodeOrName(s.items, query)
	if !ok {
		return nil, store.ErrNotFound
	}
	found := item
	return &found, nil
}

func findByBarcodeOrName(items []domain.InventoryItem, query string) (domain.InventoryItem, bool) {
	for _, item := range items {
		if item.Barcode == query {
			return item, true
		}
	}
	for _, item := range items {
		if strings.EqualFold(item.Name, query) {
			return item, true
		}
	}
	return domain.InventoryItem{}, false
}

func (s *Store) AdjustStock(ctx context.Context, barcode string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.adjustStockLocked(barcode, delta) {
		s.saveLocked(ctx, blob.CollectionInventory, s.items)
	}
	return nil
}

// adjustStockLocked applies a signed delta to the first item with the given
// barcode and reports whether a match was found. Callers must hold s.mu.
func (s *Store) adjustStockLocked(barcode string, delta int) bool {
	for i := range s.items {
		if s.items[i].Barcode == barcode {
			s.items[i].Stock += delta
			return true
		}
	}
	return false
}

func (s *Store) GetCart(_ context.Context) ([]domain.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := make([]domain.CartLine, len(s.cart))
	copy(lines, s.cart)
	return lines, nil
}

func (s *Store) AddCartLine(ctx context.Context, item domain.InventoryItem) (*domain.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.cart {
		if s.cart[i].Item.ID == item.ID {
			s.cart[i].Quantity++
			s.saveLocked(ctx, blob.CollectionCart, s.cart)
			line := s.cart[i]
			return &line, nil
		}
	}

	line := domain.CartLine{Item: item, Quantity: 1}
	s.cart = append(s.cart, line)
	s.saveLocked(ctx, blob.CollectionCart, s.cart)
	return &line, nil
}

func (s *Store) SetCartQuantity(ctx context.Context, itemID string, qty int) error {
	if qty < 1 {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.cart {
		if s.cart[i].Item.ID != itemID {
			continue
		}
		s.cart[i].Quantity = qty
		s.saveLocked(ctx, blob.CollectionCart, s.cart)
		return nil
	}
	return store.ErrNotFound
}

func (s *Store) RemoveCartLine(ctx context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.cart {
		if s.cart[i].Item.ID != itemID {
			continue
		}
		s.cart = append(s.cart[:i], s.cart[i+1:]...)
		s.saveLocked(ctx, blob.CollectionCart, s.cart)
		return nil
	}
	return store.ErrNotFound
}

func (s *Store) ClearCart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cart = []domain.CartLine{}
	s.saveLocked(ctx, blob.CollectionCart, s.cart)
	return nil
}

func (s *Store) ListTransactions(_ context.Context) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]domain.Transaction, 0, len(s.transactions))
	for i := range s.transactions {
		result = append(result, cloneTransaction(s.transactions[i]))
	}
	return result, nil
}

func (s *Store) FindTransactionByID(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.transactions {
		if s.transactions[i].ID == id {
			tx := cloneTransaction(s.transactions[i])
			return &tx, nil
		}
	}
	return nil, store.ErrNotFound
}

// CreateCheckout validates stock against the live inventory, appends the
// transaction and decrements stock per sold barcode, all in one critical
// section. Steps either all apply or none do.
func (s *Store) CreateCheckout(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if len(tx.Items) == 0 {
		return nil, store.ErrEmptyCart
	}
	for _, line := range tx.Items {
		if line.Quantity < 1 {
			return nil, store.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Stock must never go negative for any item still in the catalog.
	// Quantities are summed per barcode first so that two lines sharing a
	// barcode cannot each pass validation against the full stock. A sold
	// barcode with no catalog match is tolerated (the item may have been
	// deleted between scan and checkout); its decrement is simply lost.
	required := make(map[string]int, len(tx.Items))
	for _, line := range tx.Items {
		required[line.Barcode] += line.Quantity
	}
	for barcode, qty := range required {
		for i := range s.items {
			if s.items[i].Barcode != barcode {
				continue
			}
			if s.items[i].Stock < qty {
				return nil, store.ErrInsufficientStock
			}
			break
		}
	}

	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if tx.Date.IsZero() {
		tx.Date = time.Now().UTC()
	}
	if tx.CustomerName == "" {
		tx.CustomerName = domain.WalkInCustomer
	}
	for i := range tx.Items {
		tx.Items[i].ReturnedQty = 0
	}

	s.transactions = append(s.transactions, cloneTransaction(tx))
	for _, line := range tx.Items {
		s.adjustStockLocked(line.Barcode, -line.Quantity)
	}

	s.saveLocked(ctx, blob.CollectionTransactions, s.transactions)
	s.saveLocked(ctx, blob.CollectionInventory, s.items)

	created := cloneTransaction(tx)
	return &created, nil
}

func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.transactions {
		if s.transactions[i].ID != id {
			continue
		}
		s.transactions = append(s.transactions[:i], s.transactions[i+1:]...)
		s.saveLocked(ctx, blob.CollectionTransactions, s.transactions)
		return nil
	}
	return store.ErrNotFound
}

func (s *Store) ApplyReturn(ctx context.Context, transactionID string, itemID string, qty int) (*domain.ReturnResult, error) {
	if qty < 1 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	txIndex := -1
	for i := range s.transactions {
		if s.transactions[i].ID == transactionID {
			txIndex = i
			break
		}
	}
	if txIndex == -1 {
		return nil, store.ErrNotFound
	}

	tx := &s.transactions[txIndex]
	lineIndex := -1
	for i := range tx.Items {
		if tx.Items[i].ItemID == itemID {
			lineIndex = i
			break
		}
	}
	if lineIndex == -1 {
		return nil, store.ErrNotFound
	}

	line := &tx.Items[lineIndex]
	if line.ReturnedQty+qty > line.Quantity {
		return nil, store.ErrReturnExceedsSold
	}

	line.ReturnedQty += qty
	barcode := line.Barcode

	allReturned := true
	for _, item := range tx.Items {
		if item.ReturnedQty < item.Quantity {
			allReturned = false
			break
		}
	}

	result := &domain.ReturnResult{
		TransactionID:     transactionID,
		ItemID:            itemID,
		ReturnedQty:       qty,
		TransactionPurged: allReturned,
	}

	if allReturned {
		// Fully refunded transactions are not retained in the ledger.
		s.transactions = append(s.transactions[:txIndex], s.transactions[txIndex+1:]...)
	} else {
		retained := cloneTransaction(*tx)
		result.Transaction = &retained
	}

	// Restore stock even when the transaction itself was purged.
	result.StockRestored = s.adjustStockLocked(barcode, qty)
	if result.StockRestored {
		result.RestoredToBarcode = barcode
	}

	s.saveLocked(ctx, blob.CollectionTransactions, s.transactions)
	s.saveLocked(ctx, blob.CollectionInventory, s.items)

	return result, nil
}

func cloneTransaction(src domain.Transaction) domain.Transaction {
	dup := src
	items := make([]domain.TransactionLineItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return dup
}
