// Package store provides the key-value persistence contract the trading core
// depends on. The core is storage-agnostic: proposals, tracked positions, and
// daily stats are saved as opaque JSON documents under stable keys.
package store

import "context"

// Well-known state keys. Key names are stable for compatibility with
// deployments migrating from the source system's client-local storage.
const (
	KeyProposals          = "proposals"
	KeyTrackedPositions   = "tracked_positions"
	KeyDailyStats         = "daily_stats"
	KeyTradeLedger        = "trade_ledger"
	KeyAutomationSettings = "automation_settings"
)

// Store is the only persistence primitive the trading core requires.
type Store interface {
	// Load returns the bytes stored under key. A missing key returns an error
	// with code ErrCodeStateNotFound.
	Load(ctx context.Context, key string) ([]byte, error)
	// Save stores the bytes under key, replacing any previous value.
	Save(ctx context.Context, key string, value []byte) error
	// Close releases any underlying resources.
	Close() error
}
