// Package cache provides the shared, TTL-bounded key/value state the engine
// reads between processes: the regime snapshot, per-symbol sentiment scores
// and the global control flags.
//
// The cache is advisory. Readers treat a miss or stale entry as "recompute";
// writers are last-writer-wins with no cross-process lock. Duplicate
// recomputation is tolerated by design.
package cache

import (
	"context"
	"time"

	"github.com/stockpilot/engine/pkg/types"
)

// Flag names the engine's global control switches.
type Flag string

const (
	FlagPause  Flag = "pause"
	FlagStop   Flag = "stop"
	FlagDryRun Flag = "dry_run"
)

// FlagState is a boolean control flag with an optional reason.
type FlagState struct {
	Enabled bool      `json:"enabled"`
	Reason  string    `json:"reason,omitempty"`
	SetAt   time.Time `json:"setAt"`
}

// Cache is the typed interface over the shared store. Implementations are
// Redis-wire-protocol compatible or in-memory.
type Cache interface {
	// RegimeSnapshot returns the cached snapshot; found is false on a miss
	// or when the entry is older than its TTL.
	RegimeSnapshot(ctx context.Context) (snap *types.RegimeSnapshot, found bool, err error)
	SetRegimeSnapshot(ctx context.Context, snap *types.RegimeSnapshot, ttl time.Duration) error

	// SentimentScore returns the exponential-moving-average sentiment for a
	// symbol, if one has been recorded.
	SentimentScore(ctx context.Context, symbol string) (score float64, found bool, err error)
	// UpdateSentiment folds a new observation into the EMA with the given
	// alpha and returns the updated value.
	UpdateSentiment(ctx context.Context, symbol string, observation, alpha float64) (float64, error)

	GetFlag(ctx context.Context, flag Flag) (FlagState, error)
	SetFlag(ctx context.Context, flag Flag, enabled bool, reason string) error
}
