package engine

import (
	"errors"
	"math"

	. "tickmatch/internal/common"

	"github.com/tidwall/btree"
)

var ErrQuantityOverflow = errors.New("price level quantity overflow")

// PriceLevel is the aggregated resting quantity at one price on one side.
// Individual orders are folded into the aggregate on arrival, so neither
// their identity nor their arrival order is kept.
type PriceLevel struct {
	price    uint64
	quantity uint64
}

// Level is a read-only copy of a price level handed out by the book queries.
type Level struct {
	Price    uint64
	Quantity uint64
}

type PriceLevels = btree.BTreeG[*PriceLevel]

// OrderBook holds the resting liquidity of a single instrument. It has no
// internal synchronisation: exactly one goroutine may own a book at a time.
type OrderBook struct {
	// Both trees keep their best price at Min().
	bids *PriceLevels
	asks *PriceLevels

	// Some book keeping
	bidQuantity uint64 // Track the bid-side liquidity of the book.
	askQuantity uint64 // Track the ask-side liquidity of the book.
}

func NewOrderBook() *OrderBook {
	// The book is single owner, so skip the tree's own locking.
	opts := btree.Options{NoLocks: true}
	// Sorted greatest first.
	bids := btree.NewBTreeGOptions(func(a, b *PriceLevel) bool {
		return a.price > b.price
	}, opts)
	// Sorted least first.
	asks := btree.NewBTreeGOptions(func(a, b *PriceLevel) bool {
		return a.price < b.price
	}, opts)
	return &OrderBook{
		bids: bids,
		asks: asks,
	}
}

func (book *OrderBook) levels(side Side) *PriceLevels {
	if side == Bid {
		return book.bids
	}
	return book.asks
}

func (book *OrderBook) liquidity(side Side) *uint64 {
	if side == Bid {
		return &book.bidQuantity
	}
	return &book.askQuantity
}

// AddOrder rests order.Size at order.Price on order.Side, creating the price
// level if it does not exist yet. The book is left untouched if the order is
// malformed or the aggregate would overflow.
func (book *OrderBook) AddOrder(order Order) error {
	if err := order.Validate(); err != nil {
		return err
	}

	levels := book.levels(order.Side)
	total := book.liquidity(order.Side)
	if *total > math.MaxUint64-order.Size {
		return ErrQuantityOverflow
	}

	// Levels comparator only accounts for price levels, so we create a dummy price
	// level for the search.
	level, ok := levels.GetMut(&PriceLevel{price: order.Price})
	if ok {
		level.quantity += order.Size
	} else {
		levels.Set(&PriceLevel{
			price:    order.Price,
			quantity: order.Size,
		})
	}
	*total += order.Size
	return nil
}

// MatchOrder crosses incoming against the best price level of the opposite
// side. At most one level is consulted: if incoming is larger than that level
// the remainder is left to the caller, who may match again or rest it.
//
// The fill is always priced at the resting level. The incoming order is never
// added to the book. An empty opposite side, a price that does not cross, or a
// zero size all report no match and leave the book unchanged.
func (book *OrderBook) MatchOrder(incoming Order) (Fill, bool) {
	if incoming.Size == 0 || !incoming.Side.Valid() {
		return Fill{}, false
	}

	resting := incoming.Side.Opposite()
	levels := book.levels(resting)
	best, ok := levels.MinMut()
	if !ok {
		return Fill{}, false
	}

	switch incoming.Side {
	case Bid:
		if incoming.Price < best.price {
			return Fill{}, false
		}
	case Ask:
		if incoming.Price > best.price {
			return Fill{}, false
		}
	}

	size := min(incoming.Size, best.quantity)
	best.quantity -= size
	*book.liquidity(resting) -= size
	if best.quantity == 0 {
		levels.Delete(best)
	}
	return Fill{Price: best.price, Size: size}, true
}

// BestBid returns the highest resting bid.
func (book *OrderBook) BestBid() (Level, bool) {
	return book.best(Bid)
}

// BestAsk returns the lowest resting ask.
func (book *OrderBook) BestAsk() (Level, bool) {
	return book.best(Ask)
}

func (book *OrderBook) best(side Side) (Level, bool) {
	level, ok := book.levels(side).Min()
	if !ok {
		return Level{}, false
	}
	return Level{Price: level.price, Quantity: level.quantity}, true
}

// Spread is best ask minus best bid. It is only reported when both sides are
// populated and the book is not crossed or locked.
func (book *OrderBook) Spread() (uint64, bool) {
	bid, bidOk := book.BestBid()
	ask, askOk := book.BestAsk()
	if !bidOk || !askOk || ask.Price <= bid.Price {
		return 0, false
	}
	return ask.Price - bid.Price, true
}

// Quantity is the resting quantity at price on side, zero if there is no
// such level.
func (book *OrderBook) Quantity(side Side, price uint64) uint64 {
	level, ok := book.levels(side).Get(&PriceLevel{price: price})
	if !ok {
		return 0
	}
	return level.quantity
}

// Levels snapshots one side of the book, best price first.
func (book *OrderBook) Levels(side Side) []Level {
	levels := book.levels(side)
	out := make([]Level, 0, levels.Len())
	levels.Scan(func(level *PriceLevel) bool {
		out = append(out, Level{Price: level.price, Quantity: level.quantity})
		return true
	})
	return out
}

// Depth is the number of distinct price levels on side.
func (book *OrderBook) Depth(side Side) int {
	return book.levels(side).Len()
}

// Liquidity is the total resting quantity on side.
func (book *OrderBook) Liquidity(side Side) uint64 {
	return *book.liquidity(side)
}
