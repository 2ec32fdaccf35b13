// Package xid generates prefixed, time-ordered identifiers for catalog items
// and ledger transactions (e.g. "tx-1735689600123456789-9f2c01ab44d0e3b7").
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns a fresh identifier. The nanosecond stamp keeps ids sortable by
// creation time; the random suffix breaks ties within the same nanosecond.
func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}
