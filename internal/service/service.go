package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"canteenpos/backend/internal/domain"
	"canteenpos/backend/internal/store"
	"canteenpos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// lowStockThreshold marks items that should be flagged for reordering on the
// dashboard.
const lowStockThreshold = 10

type Service struct {
	repo   store.Repository
	logger *zap.SugaredLogger
}

func New(repo store.Repository, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{repo: repo, logger: logger}
}

func (s *Service) ListItems(ctx context.Context) ([]domain.InventoryItem, error) {
	return s.repo.ListItems(ctx)
}

func (s *Service) CreateItem(ctx context.Context, draft domain.InventoryItemDraft) (*domain.InventoryItem, error) {
	draft.Name = strings.TrimSpace(draft.Name)
	draft.Barcode = strings.TrimSpace(draft.Barcode)
	if draft.Name == "" || draft.Barcode == "" {
		return nil, store.ErrInvalidInput
	}
	if err := validateItemNumbers(draft.MRP, draft.Discount, draft.GST, draft.Cost, draft.Stock); err != nil {
		return nil, err
	}

	created, err := s.repo.CreateItem(ctx, draft)
	if err != nil {
		return nil, err
	}

	actor, _ := ActorFromContext(ctx)
	s.logger.Infow("inventory item created", "item_id", created.ID, "barcode", created.Barcode, "actor", actor.Username)
	return created, nil
}

func (s *Service) GetItem(ctx context.Context, id string) (*domain.InventoryItem, error) {
	if strings.TrimSpace(id) == "" {
		return nil, store.ErrInvalidInput
	}
	return s.repo.GetItemByID(ctx, id)
}

func (s *Service) UpdateItem(ctx context.Context, id string, patch domain.InventoryItemPatch) (*domain.InventoryItem, error) {
	if strings.TrimSpace(id) == "" {
		return nil, store.ErrInvalidInput
	}
	if patch.Name != nil {
		trimmed := strings.TrimSpace(*patch.Name)
		if trimmed == "" {
			return nil, store.ErrInvalidInput
		}
		patch.Name = &trimmed
	}
	if patch.Barcode != nil {
		trimmed := strings.TrimSpace(*patch.Barcode)
		if trimmed == "" {
			return nil, store.ErrInvalidInput
		}
		patch.Barcode = &trimmed
	}
	if patch.MRP != nil && patch.MRP.IsNegative() {
		return nil, store.ErrInvalidInput
	}
	if patch.Discount != nil && (patch.Discount.IsNegative() || patch.Discount.GreaterThan(decimal.NewFromInt(100))) {
		return nil, store.ErrInvalidInput
	}
	if patch.GST != nil && patch.GST.IsNegative() {
		return nil, store.ErrInvalidInput
	}
	if patch.Cost != nil && patch.Cost.IsNegative() {
		return nil, store.ErrInvalidInput
	}
	if patch.Stock != nil && *patch.Stock < 0 {
		return nil, store.ErrInvalidInput
	}

	updated, err := s.repo.UpdateItem(ctx, id, patch)
	if err != nil {
		return nil, err
	}

	actor, _ := ActorFromContext(ctx)
	s.logger.Infow("inventory item updated", "item_id", id, "actor", actor.Username)
	return updated, nil
}

func (s *Service) DeleteItem(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return store.ErrInvalidInput
	}
	if err := s.repo.DeleteItem(ctx, id); err != nil {
		return err
	}

	actor, _ := ActorFromContext(ctx)
	s.logger.Infow("inventory item deleted", "item_id", id, "actor", actor.Username)
	return nil
}

func (s *Service) LookupItem(ctx context.Context, query string) (*domain.InventoryItem, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, store.ErrInvalidInput
	}
	return s.repo.FindItemByBarcodeOrName(ctx, query)
}

func validateItemNumbers(mrp, discount, gst, cost decimal.Decimal, stock int) error {
	if mrp.IsNegative() || cost.IsNegative() || gst.IsNegative() {
		return store.ErrInvalidInput
	}
	if discount.IsNegative() || discount.GreaterThan(decimal.NewFromInt(100)) {
		return store.ErrInvalidInput
	}
	if stock < 0 {
		return store.ErrInvalidInput
	}
	return nil
}

// Scan resolves a barcode or item name and adds one unit to the cart. The
// caller may not put more units in the cart than the catalog currently has in
// stock.
func (s *Service) Scan(ctx context.Context, query string) (*domain.CartLine, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, store.ErrInvalidInput
	}

	item, err := s.repo.FindItemByBarcodeOrName(ctx, query)
	if err != nil {
		return nil, err
	}
	if item.Stock < 1 {
		return nil, store.ErrInsufficientStock
	}

	lines, err := s.repo.GetCart(ctx)
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		if line.Item.ID == item.ID && line.Quantity >= item.Stock {
			return nil, store.ErrInsufficientStock
		}
	}

	return s.repo.AddCartLine(ctx, *item)
}

func (s *Service) Cart(ctx context.Context) (domain.CartResponse, error) {
	lines, err := s.repo.GetCart(ctx)
	if err != nil {
		return domain.CartResponse{}, err
	}
	return domain.CartResponse{
		Lines:  lines,
		Totals: domain.ComputeTotals(lines),
	}, nil
}

func (s *Service) SetCartQuantity(ctx context.Context, itemID string, qty int) error {
	if strings.TrimSpace(itemID) == "" {
		return store.ErrInvalidInput
	}
	if qty < 1 {
		return store.ErrInvalidInput
	}

	item, err := s.repo.GetItemByID(ctx, itemID)
	if err != nil {
		return err
	}
	if qty > item.Stock {
		return store.ErrInsufficientStock
	}

	return s.repo.SetCartQuantity(ctx, itemID, qty)
}

func (s *Service) RemoveCartLine(ctx context.Context, itemID string) error {
	if strings.TrimSpace(itemID) == "" {
		return store.ErrInvalidInput
	}
	return s.repo.RemoveCartLine(ctx, itemID)
}

func (s *Service) ClearCart(ctx context.Context) error {
	return s.repo.ClearCart(ctx)
}

// Checkout freezes the current cart into a ledger transaction. The cart is
// left in place; clearing it is an explicit separate step so a failed
// downstream action (receipt printing, payment capture) can retry against the
// same cart.
func (s *Service) Checkout(ctx context.Context, customerName string) (*domain.Transaction, error) {
	lines, err := s.repo.GetCart(ctx)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, store.ErrEmptyCart
	}

	customerName = strings.TrimSpace(customerName)
	if customerName == "" {
		customerName = domain.WalkInCustomer
	}

	totals := domain.ComputeTotals(lines)
	tx := domain.Transaction{
		ID:            xid.New("tx"),
		Date:          time.Now().UTC(),
		CustomerName:  customerName,
		Items:         make([]domain.TransactionLineItem, 0, len(lines)),
		Total:         totals.GrandTotal,
		TotalMRP:      totals.TotalMRP,
		TotalDiscount: totals.TotalDiscount,
		TotalTax:      totals.TotalTax,
	}
	for _, line := range lines {
		tx.Items = append(tx.Items, domain.TransactionLineItem{
			ItemID:   line.Item.ID,
			Name:     line.Item.Name,
			Barcode:  line.Item.Barcode,
			MRP:      line.Item.MRP,
			Discount: line.Item.Discount,
			GST:      line.Item.GST,
			Cost:     line.Item.Cost,
			Quantity: line.Quantity,
		})
	}

	created, err := s.repo.CreateCheckout(ctx, tx)
	if err != nil {
		return nil, err
	}

	actor, _ := ActorFromContext(ctx)
	s.logger.Infow("checkout completed",
		"transaction_id", created.ID,
		"customer", created.CustomerName,
		"lines", len(created.Items),
		"total", created.Total,
		"actor", actor.Username,
	)
	return created, nil
}

// ListTransactions returns the ledger newest first, optionally filtered by a
// free-text query matched against the transaction id, the customer name and
// the sale date (YYYY-MM-DD).
func (s *Service) ListTransactions(ctx context.Context, query string) ([]domain.Transaction, error) {
	transactions, err := s.repo.ListTransactions(ctx)
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(strings.TrimSpace(query))
	if query != "" {
		filtered := transactions[:0]
		for _, tx := range transactions {
			if strings.Contains(strings.ToLower(tx.ID), query) ||
				strings.Contains(strings.ToLower(tx.CustomerName), query) ||
				strings.Contains(tx.Date.Format("2006-01-02"), query) {
				filtered = append(filtered, tx)
			}
		}
		transactions = filtered
	}

	sort.SliceStable(transactions, func(i, j int) bool {
		return transactions[i].Date.After(transactions[j].Date)
	})
	return transactions, nil
}

func (s *Service) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	if strings.TrimSpace(id) == "" {
		return nil, store.ErrInvalidInput
	}
	return s.repo.FindTransactionByID(ctx, id)
}

// DeleteTransaction drops a ledger entry without touching stock. Returns are
// the stock-correcting path; this exists for voiding bad records only.
func (s *Service) DeleteTransaction(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return store.ErrInvalidInput
	}
	if err := s.repo.DeleteTransaction(ctx, id); err != nil {
		return err
	}

	actor, _ := ActorFromContext(ctx)
	s.logger.Infow("transaction deleted", "transaction_id", id, "actor", actor.Username)
	return nil
}

func (s *Service) ProcessReturn(ctx context.Context, req domain.ReturnRequest) (*domain.ReturnResult, error) {
	req.TransactionID = strings.TrimSpace(req.TransactionID)
	req.ItemID = strings.TrimSpace(req.ItemID)
	if req.TransactionID == "" || req.ItemID == "" {
		return nil, store.ErrInvalidInput
	}

	result, err := s.repo.ApplyReturn(ctx, req.TransactionID, req.ItemID, req.Quantity)
	if err != nil {
		return nil, err
	}

	actor, _ := ActorFromContext(ctx)
	s.logger.Infow("return processed",
		"transaction_id", result.TransactionID,
		"item_id", result.ItemID,
		"quantity", result.ReturnedQty,
		"purged", result.TransactionPurged,
		"stock_restored", result.StockRestored,
		"actor", actor.Username,
	)
	return result, nil
}

// DashboardReport summarizes today's trading. Sales and margin are taken from
// the transaction snapshots as sold; partial returns do not retroactively
// shrink the day's figures.
func (s *Service) DashboardReport(ctx context.Context) (domain.DashboardReport, error) {
	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	transactions, err := s.repo.ListTransactions(ctx)
	if err != nil {
		return domain.DashboardReport{}, err
	}

	report := domain.DashboardReport{
		Date:        dayStart.Format("2006-01-02"),
		SalesToday:  decimal.Zero,
		MarginToday: decimal.Zero,
	}
	for _, tx := range transactions {
		if tx.Date.Before(dayStart) || !tx.Date.Before(dayEnd) {
			continue
		}
		report.TransactionCount++
		report.SalesToday = report.SalesToday.Add(tx.Total)
		for _, line := range tx.Items {
			qty := decimal.NewFromInt(int64(line.Quantity))
			unitPrice := domain.LinePrice(domain.InventoryItem{MRP: line.MRP, Discount: line.Discount})
			report.MarginToday = report.MarginToday.Add(unitPrice.Sub(line.Cost).Mul(qty))
			report.ItemsSoldToday += line.Quantity
		}
	}

	items, err := s.repo.ListItems(ctx)
	if err != nil {
		return domain.DashboardReport{}, err
	}
	report.LowStockItems = make([]domain.InventoryItem, 0, 8)
	for _, item := range items {
		if item.Stock <= lowStockThreshold {
			report.LowStockItems = append(report.LowStockItems, item)
		}
	}

	return report, nil
}

// BuildReceipt renders a transaction as raw ESC/POS bytes plus a plain-text
// preview, for a local printer bridge to forward to receipt hardware.
func (s *Service) BuildReceipt(ctx context.Context, transactionID string) (domain.ReceiptResponse, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return domain.ReceiptResponse{}, store.ErrInvalidInput
	}
	tx, err := s.repo.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return domain.ReceiptResponse{}, err
	}

	lines := []string{
		"CanteenPOS",
		"========================",
		"TX: " + tx.ID,
		"Customer: " + tx.CustomerName,
		"Date: " + tx.Date.Format("2006-01-02 15:04:05"),
		"------------------------",
	}
	for _, item := range tx.Items {
		unitPrice := domain.LinePrice(domain.InventoryItem{MRP: item.MRP, Discount: item.Discount})
		lines = append(lines, fmt.Sprintf("%s x%d", item.Name, item.Quantity))
		lines = append(lines, "  "+unitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))).StringFixed(2))
	}
	lines = append(lines,
		"------------------------",
		"MRP      : "+tx.TotalMRP.StringFixed(2),
		"Discount : "+tx.TotalDiscount.StringFixed(2),
		"Tax      : "+tx.TotalTax.StringFixed(2),
		"Total    : "+tx.Total.StringFixed(2),
		"========================",
		"Thank you",
		"",
	)

	escpos := []byte{0x1b, 0x40}
	for _, line := range lines {
		escpos = append(escpos, []byte(line)...)
		escpos = append(escpos, '\n')
	}
	escpos = append(escpos, []byte{0x1d, 0x56, 0x41, 0x10}...)

	return domain.ReceiptResponse{
		TransactionID: tx.ID,
		EscposBase64:  base64.StdEncoding.EncodeToString(escpos),
		PreviewText:   strings.Join(lines, "\n"),
		FileName:      fmt.Sprintf("receipt-%s.bin", tx.ID),
	}, nil
}
