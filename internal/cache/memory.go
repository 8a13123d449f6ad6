package cache

import (
	"context"
	"sync"
	"time"

	"github.com/stockpilot/engine/pkg/types"
)

// Memory is an in-process Cache used by tests and the backtester.
type Memory struct {
	mu        sync.RWMutex
	regime    *types.RegimeSnapshot
	regimeExp time.Time
	sentiment map[string]float64
	flags     map[Flag]FlagState

	now func() time.Time
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		sentiment: make(map[string]float64),
		flags:     make(map[Flag]FlagState),
		now:       time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (m *Memory) SetClock(now func() time.Time) { m.now = now }

func (m *Memory) RegimeSnapshot(ctx context.Context) (*types.RegimeSnapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.regime == nil || m.now().After(m.regimeExp) {
		return nil, false, nil
	}
	snap := *m.regime
	return &snap, true, nil
}

func (m *Memory) SetRegimeSnapshot(ctx context.Context, snap *types.RegimeSnapshot, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *snap
	m.regime = &cp
	m.regimeExp = m.now().Add(ttl)
	return nil
}

func (m *Memory) SentimentScore(ctx context.Context, symbol string) (float64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	score, ok := m.sentiment[symbol]
	return score, ok, nil
}

func (m *Memory) UpdateSentiment(ctx context.Context, symbol string, observation, alpha float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.sentiment[symbol]
	next := observation
	if ok {
		next = alpha*observation + (1-alpha)*prev
	}
	m.sentiment[symbol] = next
	return next, nil
}

func (m *Memory) GetFlag(ctx context.Context, flag Flag) (FlagState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flags[flag], nil
}

func (m *Memory) SetFlag(ctx context.Context, flag Flag, enabled bool, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[flag] = FlagState{Enabled: enabled, Reason: reason, SetAt: m.now()}
	return nil
}
