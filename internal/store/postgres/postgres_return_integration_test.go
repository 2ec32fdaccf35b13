package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/shopspring/decimal"

	"canteenpos/backend/internal/domain"
	"canteenpos/backend/internal/store"
)

func TestApplyReturnRestocksInventory(t *testing.T) {
	databaseURL := os.Getenv("CANTEENPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set CANTEENPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	item, err := s.CreateItem(ctx, domain.InventoryItemDraft{
		Name:     "Return IT Mug",
		Barcode:  fmt.Sprintf("RET-IT-%d", os.Getpid()),
		MRP:      decimal.NewFromInt(500),
		Discount: decimal.NewFromInt(10),
		GST:      decimal.Zero,
		Cost:     decimal.NewFromInt(250),
		Stock:    10,
	})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}

	var txID string
	t.Cleanup(func() {
		if txID != "" {
			_ = s.DeleteTransaction(ctx, txID)
		}
		_ = s.DeleteItem(ctx, item.ID)
	})

	tx, err := s.CreateCheckout(ctx, domain.Transaction{
		Items: []domain.TransactionLineItem{{
			ItemID:   item.ID,
			Name:     item.Name,
			Barcode:  item.Barcode,
			MRP:      item.MRP,
			Discount: item.Discount,
			GST:      item.GST,
			Cost:     item.Cost,
			Quantity: 3,
		}},
		Total: decimal.NewFromInt(1350),
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	txID = tx.ID

	afterSale, err := s.GetItemByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if afterSale.Stock != 7 {
		t.Fatalf("expected stock 7 after sale, got %d", afterSale.Stock)
	}

	result, err := s.ApplyReturn(ctx, tx.ID, item.ID, 1)
	if err != nil {
		t.Fatalf("apply return: %v", err)
	}
	if result.TransactionPurged {
		t.Fatal("partial return should not purge the transaction")
	}

	afterReturn, err := s.GetItemByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if afterReturn.Stock != 8 {
		t.Fatalf("expected stock 8 after return, got %d", afterReturn.Stock)
	}

	result, err = s.ApplyReturn(ctx, tx.ID, item.ID, 2)
	if err != nil {
		t.Fatalf("apply final return: %v", err)
	}
	if !result.TransactionPurged {
		t.Fatal("expected fully returned transaction to be purged")
	}
	if _, err := s.FindTransactionByID(ctx, tx.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected purged transaction gone, got %v", err)
	}
	txID = ""
}
