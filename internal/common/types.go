package common

import (
	"errors"
	"strings"
)

var ErrInvalidSide = errors.New("invalid side")

type Side uint8

const (
	// Bid is interest to buy. Resting bids are consumed by incoming asks.
	Bid Side = iota
	// Ask is interest to sell. Resting asks are consumed by incoming bids.
	Ask
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	default:
		return "unknown"
	}
}

// Opposite returns the side an order on s trades against.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

func (s Side) Valid() bool {
	return s == Bid || s == Ask
}

// ParseSide accepts both the book naming (bid/ask) and the trader naming
// (buy/sell).
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bid", "buy":
		return Bid, nil
	case "ask", "sell":
		return Ask, nil
	}
	return 0, ErrInvalidSide
}
