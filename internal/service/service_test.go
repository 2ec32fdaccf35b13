package service

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"canteenpos/backend/internal/blob"
	"canteenpos/backend/internal/domain"
	"canteenpos/backend/internal/store"
	"canteenpos/backend/internal/store/memory"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	repo, err := memory.Open(context.Background(), blob.NewMemoryStore(), nil)
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	return New(repo, nil)
}

func scanTimes(t *testing.T, svc *Service, query string, times int) {
	t.Helper()
	for i := 0; i < times; i++ {
		if _, err := svc.Scan(context.Background(), query); err != nil {
			t.Fatalf("scan %s: %v", query, err)
		}
	}
}

func TestScanIncrementsExistingLine(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	scanTimes(t, svc, "WH-001", 2)
	scanTimes(t, svc, "gaming mouse", 1)

	cart, err := svc.Cart(ctx)
	if err != nil {
		t.Fatalf("cart: %v", err)
	}
	if len(cart.Lines) != 2 {
		t.Fatalf("expected 2 cart lines, got %d", len(cart.Lines))
	}
	if cart.Lines[0].Quantity != 2 {
		t.Fatalf("expected quantity 2 on first line, got %d", cart.Lines[0].Quantity)
	}
}

func TestScanUnknownQuery(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Scan(context.Background(), "no-such-item"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Scan(context.Background(), "  "); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank query, got %v", err)
	}
}

func TestScanStockGuard(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	item, err := svc.CreateItem(ctx, domain.InventoryItemDraft{
		Name:     "Last Unit Cable",
		Barcode:  "LU-01",
		MRP:      decimal.NewFromInt(99),
		Discount: decimal.Zero,
		GST:      decimal.Zero,
		Cost:     decimal.NewFromInt(40),
		Stock:    1,
	})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}

	if _, err := svc.Scan(ctx, "LU-01"); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if _, err := svc.Scan(ctx, "LU-01"); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock on second scan, got %v", err)
	}

	zero := 0
	if _, err := svc.UpdateItem(ctx, item.ID, domain.InventoryItemPatch{Stock: &zero}); err != nil {
		t.Fatalf("zero out stock: %v", err)
	}
	if err := svc.RemoveCartLine(ctx, item.ID); err != nil {
		t.Fatalf("remove cart line: %v", err)
	}
	if _, err := svc.Scan(ctx, "LU-01"); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock at zero stock, got %v", err)
	}
}

func TestSetCartQuantityGuards(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	line, err := svc.Scan(ctx, "MK-RGB")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	if err := svc.SetCartQuantity(ctx, line.Item.ID, 0); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for qty 0, got %v", err)
	}
	if err := svc.SetCartQuantity(ctx, line.Item.ID, 21); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock above stock, got %v", err)
	}
	if err := svc.SetCartQuantity(ctx, line.Item.ID, 20); err != nil {
		t.Fatalf("set quantity at stock limit: %v", err)
	}
}

func TestCartTotals(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// Gaming Mouse: mrp 1200, discount 5%, gst 0.
	scanTimes(t, svc, "GM-PRO", 2)

	cart, err := svc.Cart(ctx)
	if err != nil {
		t.Fatalf("cart: %v", err)
	}
	if !cart.Totals.TotalMRP.Equal(decimal.NewFromInt(2400)) {
		t.Fatalf("expected total mrp 2400, got %s", cart.Totals.TotalMRP)
	}
	if !cart.Totals.TotalDiscount.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("expected discount 120, got %s", cart.Totals.TotalDiscount)
	}
	if !cart.Totals.TotalTax.Equal(decimal.Zero) {
		t.Fatalf("expected tax 0, got %s", cart.Totals.TotalTax)
	}
	if !cart.Totals.GrandTotal.Equal(decimal.NewFromInt(2280)) {
		t.Fatalf("expected grand total 2280, got %s", cart.Totals.GrandTotal)
	}
}

func TestCheckoutSnapshotsAndLeavesCart(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// Premium Wireless Headset: mrp 2999, discount 10%, stock 45.
	scanTimes(t, svc, "WH-001", 2)

	tx, err := svc.Checkout(ctx, "")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if tx.CustomerName != domain.WalkInCustomer {
		t.Fatalf("expected walk-in default, got %q", tx.CustomerName)
	}
	if !tx.Total.Equal(decimal.RequireFromString("5398.2")) {
		t.Fatalf("expected total 5398.2, got %s", tx.Total)
	}
	if len(tx.Items) != 1 || tx.Items[0].Quantity != 2 || tx.Items[0].ReturnedQty != 0 {
		t.Fatalf("unexpected transaction items: %+v", tx.Items)
	}

	item, err := svc.LookupItem(ctx, "WH-001")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if item.Stock != 43 {
		t.Fatalf("expected stock 43 after checkout, got %d", item.Stock)
	}

	// Clearing the cart is the caller's call, not checkout's.
	cart, err := svc.Cart(ctx)
	if err != nil {
		t.Fatalf("cart: %v", err)
	}
	if len(cart.Lines) != 1 {
		t.Fatalf("checkout must not clear the cart, got %d lines", len(cart.Lines))
	}
}

func TestCheckoutEmptyCart(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Checkout(context.Background(), "Alex"); !errors.Is(err, store.ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
}

func TestProcessReturnFlow(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	scanTimes(t, svc, "WH-001", 3)
	tx, err := svc.Checkout(ctx, "Morgan")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if err := svc.ClearCart(ctx); err != nil {
		t.Fatalf("clear cart: %v", err)
	}

	result, err := svc.ProcessReturn(ctx, domain.ReturnRequest{
		TransactionID: tx.ID,
		ItemID:        tx.Items[0].ItemID,
		Quantity:      1,
	})
	if err != nil {
		t.Fatalf("process return: %v", err)
	}
	if result.TransactionPurged {
		t.Fatal("partial return must retain the transaction")
	}

	item, _ := svc.LookupItem(ctx, "WH-001")
	if item.Stock != 43 {
		t.Fatalf("expected stock 43 after returning 1 of 3, got %d", item.Stock)
	}

	result, err = svc.ProcessReturn(ctx, domain.ReturnRequest{
		TransactionID: tx.ID,
		ItemID:        tx.Items[0].ItemID,
		Quantity:      2,
	})
	if err != nil {
		t.Fatalf("final return: %v", err)
	}
	if !result.TransactionPurged {
		t.Fatal("expected fully returned transaction purged")
	}
	if _, err := svc.GetTransaction(ctx, tx.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected purged transaction gone, got %v", err)
	}
}

func TestListTransactionsFilter(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	scanTimes(t, svc, "WH-001", 1)
	if _, err := svc.Checkout(ctx, "Alice"); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if err := svc.ClearCart(ctx); err != nil {
		t.Fatalf("clear cart: %v", err)
	}
	scanTimes(t, svc, "GM-PRO", 1)
	if _, err := svc.Checkout(ctx, "Bob"); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	all, err := svc.ListTransactions(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(all))
	}
	if all[0].CustomerName != "Bob" {
		t.Fatalf("expected newest first, got %q", all[0].CustomerName)
	}

	byCustomer, err := svc.ListTransactions(ctx, "alice")
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(byCustomer) != 1 || byCustomer[0].CustomerName != "Alice" {
		t.Fatalf("unexpected filter result: %+v", byCustomer)
	}

	none, err := svc.ListTransactions(ctx, "zzz")
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no matches, got %d", len(none))
	}
}

func TestDashboardReport(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// Headset x2: price 2699.10 each, cost 1500 each.
	scanTimes(t, svc, "WH-001", 2)
	if _, err := svc.Checkout(ctx, ""); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	report, err := svc.DashboardReport(ctx)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if report.TransactionCount != 1 {
		t.Fatalf("expected 1 transaction today, got %d", report.TransactionCount)
	}
	if report.ItemsSoldToday != 2 {
		t.Fatalf("expected 2 items sold, got %d", report.ItemsSoldToday)
	}
	if !report.SalesToday.Equal(decimal.RequireFromString("5398.2")) {
		t.Fatalf("expected sales 5398.2, got %s", report.SalesToday)
	}
	if !report.MarginToday.Equal(decimal.RequireFromString("2398.2")) {
		t.Fatalf("expected margin 2398.2, got %s", report.MarginToday)
	}
	if len(report.LowStockItems) != 0 {
		t.Fatalf("no seed item is low stock, got %d", len(report.LowStockItems))
	}

	one := 1
	item, _ := svc.LookupItem(ctx, "GM-PRO")
	if _, err := svc.UpdateItem(ctx, item.ID, domain.InventoryItemPatch{Stock: &one}); err != nil {
		t.Fatalf("update stock: %v", err)
	}
	report, err = svc.DashboardReport(ctx)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if len(report.LowStockItems) != 1 || report.LowStockItems[0].Barcode != "GM-PRO" {
		t.Fatalf("unexpected low stock items: %+v", report.LowStockItems)
	}
}

func TestBuildReceipt(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	scanTimes(t, svc, "GM-PRO", 2)
	tx, err := svc.Checkout(ctx, "Sam")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	receipt, err := svc.BuildReceipt(ctx, tx.ID)
	if err != nil {
		t.Fatalf("build receipt: %v", err)
	}
	if !strings.Contains(receipt.PreviewText, "Gaming Mouse x2") {
		t.Fatalf("preview missing line item:\n%s", receipt.PreviewText)
	}
	if !strings.Contains(receipt.PreviewText, "Total    : 2280.00") {
		t.Fatalf("preview missing total:\n%s", receipt.PreviewText)
	}

	raw, err := base64.StdEncoding.DecodeString(receipt.EscposBase64)
	if err != nil {
		t.Fatalf("decode escpos payload: %v", err)
	}
	if len(raw) < 6 || raw[0] != 0x1b || raw[1] != 0x40 {
		t.Fatal("escpos payload missing printer init sequence")
	}
	tail := raw[len(raw)-4:]
	if tail[0] != 0x1d || tail[1] != 0x56 || tail[2] != 0x41 || tail[3] != 0x10 {
		t.Fatal("escpos payload missing cut sequence")
	}

	if _, err := svc.BuildReceipt(ctx, "tx-missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateItemValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cases := []domain.InventoryItemDraft{
		{Name: "", Barcode: "X-1", MRP: decimal.NewFromInt(10)},
		{Name: "No Barcode", Barcode: "", MRP: decimal.NewFromInt(10)},
		{Name: "Negative", Barcode: "X-2", MRP: decimal.NewFromInt(-1)},
		{Name: "Discount", Barcode: "X-3", MRP: decimal.NewFromInt(10), Discount: decimal.NewFromInt(101)},
		{Name: "Stock", Barcode: "X-4", MRP: decimal.NewFromInt(10), Stock: -1},
	}
	for _, draft := range cases {
		if _, err := svc.CreateItem(ctx, draft); !errors.Is(err, store.ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %+v, got %v", draft, err)
		}
	}
}
