package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderValidate(t *testing.T) {
	assert.NoError(t, Order{ID: 1, Side: Bid, Price: 0, Size: 1}.Validate())
	assert.ErrorIs(t, Order{ID: 2, Side: Ask, Price: 100}.Validate(), ErrInvalidSize)
	assert.ErrorIs(t, Order{ID: 3, Side: Side(2), Price: 100, Size: 1}.Validate(), ErrInvalidSide)
}

func TestOrderWithSizeCopies(t *testing.T) {
	original := Order{ID: 1, Symbol: "AAPL", Side: Bid, Price: 100, Size: 10}
	remainder := original.WithSize(4)

	assert.Equal(t, uint64(10), original.Size)
	assert.Equal(t, uint64(4), remainder.Size)
	assert.Equal(t, original.Price, remainder.Price)
	assert.Equal(t, original.ID, remainder.ID)
}

func TestSide(t *testing.T) {
	assert.Equal(t, Ask, Bid.Opposite())
	assert.Equal(t, Bid, Ask.Opposite())
	assert.Equal(t, "bid", Bid.String())
	assert.Equal(t, "unknown", Side(9).String())

	for input, want := range map[string]Side{"bid": Bid, "BUY": Bid, " ask ": Ask, "Sell": Ask} {
		side, err := ParseSide(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, side, input)
	}
	_, err := ParseSide("hold")
	assert.ErrorIs(t, err, ErrInvalidSide)
}

func TestNewTrade(t *testing.T) {
	aggressor := Order{ID: 42, Symbol: "NVDA", Side: Ask, Price: 90, Size: 10}
	trade := NewTrade(aggressor, Fill{Price: 95, Size: 3})

	assert.Equal(t, "NVDA", trade.Symbol)
	assert.Equal(t, uint64(42), trade.OrderID)
	assert.Equal(t, Ask, trade.Side)
	assert.Equal(t, uint64(95), trade.Price)
	assert.Equal(t, uint64(3), trade.Size)
	assert.False(t, trade.Timestamp.IsZero())
	assert.NotEqual(t, trade.ID, NewTrade(aggressor, Fill{Price: 95, Size: 3}).ID)
}

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "AAPL", NormalizeSymbol(" aapl "))
	assert.Equal(t, "NVDA", NormalizeSymbol("NVDA"))
	assert.Empty(t, NormalizeSymbol("  "))
}
