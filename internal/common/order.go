package common

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidSize = errors.New("order size must be positive")

// Order is an immutable description of trading intent. The book only ever
// reads it; resting liquidity is folded into the price level aggregate and
// the order itself is not retained.
type Order struct {
	ID     uint64 // Caller assigned, carried for traceability only
	Symbol string // Instrument the order is routed to
	Side   Side   //
	Price  uint64 // Limit price in ticks
	Size   uint64 // Quantity
}

// Validate checks the caller contract. Prices are unsigned ticks so the only
// remaining malformed inputs are an unknown side and a zero size.
func (order Order) Validate() error {
	if !order.Side.Valid() {
		return fmt.Errorf("order %d: %w", order.ID, ErrInvalidSide)
	}
	if order.Size == 0 {
		return fmt.Errorf("order %d: %w", order.ID, ErrInvalidSize)
	}
	return nil
}

// NormalizeSymbol is the canonical form of a symbol: trimmed and upper case.
// Configured books and inbound orders both go through it.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// WithSize returns a copy of the order carrying a different size. Used when
// the unfilled remainder of an aggressor is matched again or rested.
func (order Order) WithSize(size uint64) Order {
	order.Size = size
	return order
}

func (order Order) String() string {
	return fmt.Sprintf(
		"ID: %d Symbol: %s Side: %v Price: %d Size: %d",
		order.ID,
		order.Symbol,
		order.Side,
		order.Price,
		order.Size,
	)
}
