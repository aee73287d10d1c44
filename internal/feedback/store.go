// Package feedback persists reviewed classifications so later runs
// over the same document reuse the human-confirmed labels.
package feedback

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Record is a stored classification override.
type Record struct {
	Tipo       string  `json:"tipo"`
	Ramo       string  `json:"ramo"`
	Confidence float64 `json:"confidence"`
}

// Store defines the persistence interface for classification feedback.
type Store interface {
	// Get returns the stored record for a document key, or nil when
	// none exists.
	Get(ctx context.Context, key string) (*Record, error)
	Save(ctx context.Context, key string, rec Record) error
	Migrate(ctx context.Context) error
	Close() error
}

// Key builds the stable document identity used for feedback lookups.
// The same issuer, recipient and file name always map to the same row
// regardless of upload order.
func Key(emitente, destinatario, name string) string {
	if name == "" {
		name = "documento"
	}
	return fmt.Sprintf("%s|%s|%s", emitente, destinatario, name)
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
