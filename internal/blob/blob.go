// Package blob is the durable storage boundary of the POS engine. Each
// collection (inventory, transactions, cart) is persisted as one opaque JSON
// payload, rewritten in full after every mutation.
package blob

import (
	"context"
	"errors"
)

const (
	CollectionInventory    = "inventory"
	CollectionTransactions = "transactions"
	CollectionCart         = "cart"
)

// ErrNoPayload is returned by Load when the collection has never been saved.
var ErrNoPayload = errors.New("no payload for collection")

type Store interface {
	Load(ctx context.Context, collection string) ([]byte, error)
	Save(ctx context.Context, collection string, payload []byte) error
	Close() error
}

// MemoryStore keeps payloads in a plain map. Used in tests and as a
// last-resort fallback when no durable backend is configured.
type MemoryStore struct {
	payloads map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{payloads: make(map[string][]byte)}
}

func (m *MemoryStore) Load(_ context.Context, collection string) ([]byte, error) {
	payload, ok := m.payloads[collection]
	if !ok {
		return nil, ErrNoPayload
	}
	return payload, nil
}

func (m *MemoryStore) Save(_ context.Context, collection string, payload []byte) error {
	dup := make([]byte, len(payload))
	copy(dup, payload)
	m.payloads[collection] = dup
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
