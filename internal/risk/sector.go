// Package risk enforces portfolio concentration limits.
package risk

import (
	"sync"

	"github.com/stockpilot/engine/pkg/utils"
)

// DefaultSector is assigned when no classification exists for a symbol.
const DefaultSector = "unclassified"

// SectorClassifier maps instrument symbols to sectors. The table is seeded
// from the watchlist and can be extended at runtime.
type SectorClassifier struct {
	mu      sync.RWMutex
	sectors map[string]string
}

// NewSectorClassifier creates a classifier with an optional seed table.
func NewSectorClassifier(seed map[string]string) *SectorClassifier {
	sectors := make(map[string]string, len(seed))
	for sym, sector := range seed {
		sectors[utils.FormatSymbol(sym)] = sector
	}
	return &SectorClassifier{sectors: sectors}
}

// Classify returns the sector for a symbol, or DefaultSector.
func (c *SectorClassifier) Classify(symbol string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if sector, ok := c.sectors[utils.FormatSymbol(symbol)]; ok && sector != "" {
		return sector
	}
	return DefaultSector
}

// Register adds or updates a classification.
func (c *SectorClassifier) Register(symbol, sector string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sectors[utils.FormatSymbol(symbol)] = sector
}
