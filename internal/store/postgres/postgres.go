// Package postgres implements the POS repository on PostgreSQL. Multi-step
// operations (checkout, returns) run in serializable transactions with row
// locks, so the invariants the in-memory engine gets from its single mutex
// hold here across processes.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"canteenpos/backend/internal/domain"
	"canteenpos/backend/internal/store"
	"canteenpos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const itemColumns = `id, name, barcode, mrp, discount, gst, cost, stock`

func scanItem(row interface{ Scan(...any) error }, item *domain.InventoryItem) error {
	return row.Scan(&item.ID, &item.Name, &item.Barcode, &item.MRP, &item.Discount, &item.GST, &item.Cost, &item.Stock)
}

func (s *Store) ListItems(ctx context.Context) ([]domain.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM inventory_items
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.InventoryItem, 0, 128)
	for rows.Next() {
		var item domain.InventoryItem
		if err := scanItem(rows, &item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_items (id, name, barcode, mrp, discount, gst, cost, stock, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now(),now())
	`, item.ID, item.Name, item.Barcode, item.MRP, item.Discount, item.GST, item.Cost, item.Stock)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := item
	return &created, nil
}

func (s *Store) GetItemByID(ctx context.Context, id string) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := scanItem(s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM inventory_items
		WHERE id = $1
	`, id), &item)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpdateItem(ctx context.Context, id string, patch domain.InventoryItemPatch) (*domain.InventoryItem, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var item domain.InventoryItem
	err = scanItem(pgTx.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM inventory_items
		WHERE id = $1
		FOR UPDATE
	`, id), &item)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

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

	_, err = pgTx.ExecContext(ctx, `
		UPDATE inventory_items
		SET name = $2, barcode = $3, mrp = $4, discount = $5, gst = $6, cost = $7, stock = $8, updated_at = now()
		WHERE id = $1
	`, item.ID, item.Name, item.Barcode, item.MRP, item.Discount, item.GST, item.Cost, item.Stock)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) DeleteItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM inventory_items WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) FindItemByBarcodeOrName(ctx context.Context, query string) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := scanItem(s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM inventory_items
		WHERE barcode = $1
		ORDER BY created_at, id
		LIMIT 1
	`, query), &item)
	if err == nil {
		return &item, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	err = scanItem(s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM inventory_items
		WHERE lower(name) = lower($1)
		ORDER BY created_at, id
		LIMIT 1
	`, query), &item)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) AdjustStock(ctx context.Context, barcode string, delta int) error {
	// Missing barcode is deliberately a no-op.
	_, err := s.db.ExecContext(ctx, `
		UPDATE inventory_items
		SET stock = stock + $2, updated_at = now()
		WHERE id = (
			SELECT id FROM inventory_items
			WHERE barcode = $1
			ORDER BY created_at, id
			LIMIT 1
		)
	`, barcode, delta)
	return err
}

func (s *Store) GetCart(ctx context.Context) ([]domain.CartLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, name, barcode, mrp, discount, gst, cost, stock, quantity
		FROM cart_lines
		ORDER BY added_at, item_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.CartLine, 0, 16)
	for rows.Next() {
		var line domain.CartLine
		if err := rows.Scan(&line.Item.ID, &line.Item.Name, &line.Item.Barcode, &line.Item.MRP, &line.Item.Discount, &line.Item.GST, &line.Item.Cost, &line.Item.Stock, &line.Quantity); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return lines, nil
}

func (s *Store) AddCartLine(ctx context.Context, item domain.InventoryItem) (*domain.CartLine, error) {
	// On conflict only the quantity moves; the item snapshot stays as taken
	// at the first scan.
	var quantity int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO cart_lines (item_id, name, barcode, mrp, discount, gst, cost, stock, quantity, added_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,1,now())
		ON CONFLICT (item_id)
		DO UPDATE SET quantity = cart_lines.quantity + 1
		RETURNING quantity
	`, item.ID, item.Name, item.Barcode, item.MRP, item.Discount, item.GST, item.Cost, item.Stock).Scan(&quantity)
	if err != nil {
		return nil, err
	}

	return &domain.CartLine{Item: item, Quantity: quantity}, nil
}

func (s *Store) SetCartQuantity(ctx context.Context, itemID string, qty int) error {
	if qty < 1 {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE cart_lines
		SET quantity = $2
		WHERE item_id = $1
	`, itemID, qty)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) RemoveCartLine(ctx context.Context, itemID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cart_lines WHERE item_id = $1`, itemID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ClearCart(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cart_lines`)
	return err
}

const transactionColumns = `id, customer_name, date, total, total_mrp, total_discount, total_tax`

func scanTransaction(row interface{ Scan(...any) error }, tx *domain.Transaction) error {
	if err := row.Scan(&tx.ID, &tx.CustomerName, &tx.Date, &tx.Total, &tx.TotalMRP, &tx.TotalDiscount, &tx.TotalTax); err != nil {
		return err
	}
	tx.Date = tx.Date.UTC()
	return nil
}

func (s *Store) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM pos_transactions
		ORDER BY date, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := make([]domain.Transaction, 0, 64)
	index := make(map[string]int, 64)
	for rows.Next() {
		var tx domain.Transaction
		if err := scanTransaction(rows, &tx); err != nil {
			return nil, err
		}
		tx.Items = []domain.TransactionLineItem{}
		index[tx.ID] = len(transactions)
		transactions = append(transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, item_id, name, barcode, mrp, discount, gst, cost, quantity, returned_qty
		FROM pos_transaction_items
		ORDER BY transaction_id, position
	`)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var txID string
		var line domain.TransactionLineItem
		if err := itemRows.Scan(&txID, &line.ItemID, &line.Name, &line.Barcode, &line.MRP, &line.Discount, &line.GST, &line.Cost, &line.Quantity, &line.ReturnedQty); err != nil {
			return nil, err
		}
		if i, ok := index[txID]; ok {
			transactions[i].Items = append(transactions[i].Items, line)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	return transactions, nil
}

func (s *Store) FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := scanTransaction(s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM pos_transactions
		WHERE id = $1
	`, id), &tx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	items, err := s.listTransactionItems(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	tx.Items = items
	return &tx, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) listTransactionItems(ctx context.Context, q querier, transactionID string) ([]domain.TransactionLineItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT item_id, name, barcode, mrp, discount, gst, cost, quantity, returned_qty
		FROM pos_transaction_items
		WHERE transaction_id = $1
		ORDER BY position
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.TransactionLineItem, 0, 8)
	for rows.Next() {
		var line domain.TransactionLineItem
		if err := rows.Scan(&line.ItemID, &line.Name, &line.Barcode, &line.MRP, &line.Discount, &line.GST, &line.Cost, &line.Quantity, &line.ReturnedQty); err != nil {
			return nil, err
		}
		items = append(items, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CreateCheckout(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if len(tx.Items) == 0 {
		return nil, store.ErrEmptyCart
	}
	for _, line := range tx.Items {
		if line.Quantity < 1 {
			return nil, store.ErrInvalidInput
		}
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	// Lock and validate stock per sold barcode. A barcode with no catalog
	// row is tolerated; its decrement is lost.
	for _, line := range tx.Items {
		var itemID string
		var stock int
		err := pgTx.QueryRowContext(ctx, `
			SELECT id, stock
			FROM inventory_items
			WHERE barcode = $1
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE
		`, line.Barcode).Scan(&itemID, &stock)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if stock < line.Quantity {
			return nil, store.ErrInsufficientStock
		}

		_, err = pgTx.ExecContext(ctx, `
			UPDATE inventory_items
			SET stock = stock - $2, updated_at = now()
			WHERE id = $1
		`, itemID, line.Quantity)
		if err != nil {
			return nil, err
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

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO pos_transactions (id, customer_name, date, total, total_mrp, total_discount, total_tax)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, tx.ID, tx.CustomerName, tx.Date, tx.Total, tx.TotalMRP, tx.TotalDiscount, tx.TotalTax)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	for i := range tx.Items {
		tx.Items[i].ReturnedQty = 0
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO pos_transaction_items (transaction_id, position, item_id, name, barcode, mrp, discount, gst, cost, quantity, returned_qty)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,0)
		`, tx.ID, i, tx.Items[i].ItemID, tx.Items[i].Name, tx.Items[i].Barcode, tx.Items[i].MRP, tx.Items[i].Discount, tx.Items[i].GST, tx.Items[i].Cost, tx.Items[i].Quantity)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return &tx, nil
}

func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	if _, err := pgTx.ExecContext(ctx, `DELETE FROM pos_transaction_items WHERE transaction_id = $1`, id); err != nil {
		return err
	}
	res, err := pgTx.ExecContext(ctx, `DELETE FROM pos_transactions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	return pgTx.Commit()
}

func (s *Store) ApplyReturn(ctx context.Context, transactionID string, itemID string, qty int) (*domain.ReturnResult, error) {
	if qty < 1 {
		return nil, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var exists bool
	if err := pgTx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM pos_transactions WHERE id = $1)
	`, transactionID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}

	var sold, returned int
	var barcode string
	err = pgTx.QueryRowContext(ctx, `
		SELECT barcode, quantity, returned_qty
		FROM pos_transaction_items
		WHERE transaction_id = $1 AND item_id = $2
		FOR UPDATE
	`, transactionID, itemID).Scan(&barcode, &sold, &returned)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if returned+qty > sold {
		return nil, store.ErrReturnExceedsSold
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE pos_transaction_items
		SET returned_qty = returned_qty + $3
		WHERE transaction_id = $1 AND item_id = $2
	`, transactionID, itemID, qty)
	if err != nil {
		return nil, err
	}

	var openLines int
	if err := pgTx.QueryRowContext(ctx, `
		SELECT count(*)
		FROM pos_transaction_items
		WHERE transaction_id = $1 AND returned_qty < quantity
	`, transactionID).Scan(&openLines); err != nil {
		return nil, err
	}

	result := &domain.ReturnResult{
		TransactionID:     transactionID,
		ItemID:            itemID,
		ReturnedQty:       qty,
		TransactionPurged: openLines == 0,
	}

	if openLines == 0 {
		if _, err := pgTx.ExecContext(ctx, `DELETE FROM pos_transaction_items WHERE transaction_id = $1`, transactionID); err != nil {
			return nil, err
		}
		if _, err := pgTx.ExecContext(ctx, `DELETE FROM pos_transactions WHERE id = $1`, transactionID); err != nil {
			return nil, err
		}
	} else {
		var tx domain.Transaction
		if err := scanTransaction(pgTx.QueryRowContext(ctx, `
			SELECT `+transactionColumns+`
			FROM pos_transactions
			WHERE id = $1
		`, transactionID), &tx); err != nil {
			return nil, err
		}
		items, err := s.listTransactionItems(ctx, pgTx, transactionID)
		if err != nil {
			return nil, err
		}
		tx.Items = items
		result.Transaction = &tx
	}

	// Restock against the first catalog item with the sold barcode; a
	// deleted item means the returned units go nowhere.
	var restockID string
	err = pgTx.QueryRowContext(ctx, `
		SELECT id
		FROM inventory_items
		WHERE barcode = $1
		ORDER BY created_at, id
		LIMIT 1
		FOR UPDATE
	`, barcode).Scan(&restockID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err == nil {
		_, err = pgTx.ExecContext(ctx, `
			UPDATE inventory_items
			SET stock = stock + $2, updated_at = now()
			WHERE id = $1
		`, restockID, qty)
		if err != nil {
			return nil, err
		}
		result.StockRestored = true
		result.RestoredToBarcode = barcode
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return result, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
