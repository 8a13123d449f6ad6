// Package utils provides utility functions for the trading engine.
package utils

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GenerateID generates a unique ID with optional prefix.
func GenerateID(prefix string) string {
	id := uuid.NewString()
	if prefix != "" {
		return fmt.Sprintf("%s_%s", prefix, id)
	}
	return id
}

// GenerateTradeID generates a unique trade ID.
func GenerateTradeID() string {
	return GenerateID("trd")
}

// FormatSymbol normalizes an instrument symbol.
func FormatSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Pct formats a ratio as a percentage string with one decimal place.
func Pct(ratio float64) string {
	return decimal.NewFromFloat(ratio * 100).Round(1).String() + "%"
}

// ClampInt64 clamps v to [lo, hi].
func ClampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
