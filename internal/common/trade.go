package common

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Fill is the result of a single match: the resting level's price and the
// quantity taken from it.
type Fill struct {
	Price uint64
	Size  uint64
}

// Trade is a fill attributed to the aggressing order, as handed to the
// trade-reporting consumer. Resting liquidity is aggregated so there is no
// resting counterparty identity to report.
type Trade struct {
	ID        uuid.UUID
	Symbol    string
	OrderID   uint64 // Aggressor
	Side      Side   // Aggressor side
	Price     uint64
	Size      uint64
	Timestamp time.Time
}

func NewTrade(aggressor Order, fill Fill) Trade {
	return Trade{
		ID:        uuid.New(),
		Symbol:    aggressor.Symbol,
		OrderID:   aggressor.ID,
		Side:      aggressor.Side,
		Price:     fill.Price,
		Size:      fill.Size,
		Timestamp: time.Now(),
	}
}

func (t Trade) String() string {
	return fmt.Sprintf(
		`ID:        %v
Symbol:    %s
OrderID:   %d
Side:      %v
Price:     %d
Size:      %d
Timestamp: %v`,
		t.ID,
		t.Symbol,
		t.OrderID,
		t.Side,
		t.Price,
		t.Size,
		t.Timestamp.Format(time.RFC3339Nano),
	)
}
