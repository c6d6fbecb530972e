package engine

import (
	"errors"
	"fmt"
	"slices"

	. "tickmatch/internal/common"
	"tickmatch/internal/metrics"

	"github.com/rs/zerolog/log"
)

// This is the main matching engine. It owns one book per symbol and composes
// the single level book primitives into full order handling.

var ErrUnknownSymbol = errors.New("unknown symbol")

// Reporter is the trade-reporting consumer. The engine does not know what
// happens to a trade after it is reported.
type Reporter interface {
	ReportTrade(trade Trade) error
}

// Execution summarises what happened to a submitted order.
type Execution struct {
	Order  Order
	Trades []Trade
	Filled uint64 // Quantity matched against resting liquidity
	Rested uint64 // Remainder left in the book
}

// Engine is not safe for concurrent use. Callers serialise access per
// symbol, see the dispatch package.
type Engine struct {
	books    map[string]*OrderBook
	reporter Reporter
}

func New(reporter Reporter, symbols ...string) *Engine {
	engine := &Engine{
		books:    make(map[string]*OrderBook, len(symbols)),
		reporter: reporter,
	}
	for _, symbol := range symbols {
		engine.books[symbol] = NewOrderBook()
	}
	return engine
}

func (engine *Engine) SetReporter(reporter Reporter) {
	engine.reporter = reporter
}

// Book returns the book for symbol.
func (engine *Engine) Book(symbol string) (*OrderBook, bool) {
	book, ok := engine.books[symbol]
	return book, ok
}

// Symbols lists every symbol the engine has a book for, sorted.
func (engine *Engine) Symbols() []string {
	symbols := make([]string, 0, len(engine.books))
	for symbol := range engine.books {
		symbols = append(symbols, symbol)
	}
	slices.Sort(symbols)
	return symbols
}

func (engine *Engine) lookup(order Order) (*OrderBook, error) {
	book, ok := engine.books[order.Symbol]
	if !ok {
		engine.reject(order, ErrUnknownSymbol)
		return nil, fmt.Errorf("%q: %w", order.Symbol, ErrUnknownSymbol)
	}
	if err := order.Validate(); err != nil {
		engine.reject(order, err)
		return nil, err
	}
	return book, nil
}

// Rest places order in its book as resting liquidity without matching it.
func (engine *Engine) Rest(order Order) error {
	book, err := engine.lookup(order)
	if err != nil {
		return err
	}
	if err := book.AddOrder(order); err != nil {
		engine.reject(order, err)
		return err
	}
	metrics.OrdersTotal.WithLabelValues("rest", order.Symbol).Inc()
	engine.observe(order.Symbol, book)
	return nil
}

// Match crosses order against the single best opposite level of its book.
// The resulting trade is reported before it is returned. Nothing is rested.
func (engine *Engine) Match(order Order) (Trade, bool, error) {
	book, err := engine.lookup(order)
	if err != nil {
		return Trade{}, false, err
	}
	metrics.OrdersTotal.WithLabelValues("match", order.Symbol).Inc()

	fill, ok := book.MatchOrder(order)
	if !ok {
		return Trade{}, false, nil
	}
	trade := engine.trade(order, fill)
	engine.observe(order.Symbol, book)
	return trade, true, nil
}

// Submit handles order as a limit order: it sweeps the opposite side one
// level at a time while the price crosses, then rests whatever is left.
func (engine *Engine) Submit(order Order) (Execution, error) {
	book, err := engine.lookup(order)
	if err != nil {
		return Execution{}, err
	}
	metrics.OrdersTotal.WithLabelValues("submit", order.Symbol).Inc()

	execution := Execution{Order: order}
	remaining := order.Size
	for remaining > 0 {
		fill, ok := book.MatchOrder(order.WithSize(remaining))
		if !ok {
			break
		}
		remaining -= fill.Size
		execution.Filled += fill.Size
		execution.Trades = append(execution.Trades, engine.trade(order, fill))
	}

	if remaining > 0 {
		if err := book.AddOrder(order.WithSize(remaining)); err != nil {
			// The fills above already happened, so the execution is still
			// returned alongside the error.
			engine.reject(order, err)
			engine.observe(order.Symbol, book)
			return execution, err
		}
		execution.Rested = remaining
	}

	engine.observe(order.Symbol, book)
	return execution, nil
}

// trade records a fill taken by aggressor and hands it to the reporter. A
// failing reporter does not undo the fill.
func (engine *Engine) trade(aggressor Order, fill Fill) Trade {
	trade := NewTrade(aggressor, fill)
	metrics.TradesTotal.WithLabelValues(trade.Symbol).Inc()
	metrics.TradedVolume.WithLabelValues(trade.Symbol).Add(float64(trade.Size))

	log.Debug().
		Str("symbol", trade.Symbol).
		Uint64("order", trade.OrderID).
		Stringer("side", trade.Side).
		Uint64("price", trade.Price).
		Uint64("size", trade.Size).
		Msg("trade")

	if engine.reporter != nil {
		if err := engine.reporter.ReportTrade(trade); err != nil {
			log.Error().
				Err(err).
				Str("trade", trade.ID.String()).
				Msg("unable to report trade")
		}
	}
	return trade
}

func (engine *Engine) reject(order Order, err error) {
	reason := "invalid"
	switch {
	case errors.Is(err, ErrUnknownSymbol):
		reason = "unknown_symbol"
	case errors.Is(err, ErrInvalidSize):
		reason = "invalid_size"
	case errors.Is(err, ErrInvalidSide):
		reason = "invalid_side"
	case errors.Is(err, ErrQuantityOverflow):
		reason = "overflow"
	}
	symbol := order.Symbol
	if _, ok := engine.books[symbol]; !ok {
		symbol = metrics.UnknownSymbol
	}
	metrics.RejectsTotal.WithLabelValues(reason, symbol).Inc()
	log.Warn().
		Err(err).
		Uint64("order", order.ID).
		Str("symbol", order.Symbol).
		Msg("order rejected")
}

func (engine *Engine) observe(symbol string, book *OrderBook) {
	for _, side := range []Side{Bid, Ask} {
		metrics.BookDepth.WithLabelValues(symbol, side.String()).Set(float64(book.Depth(side)))
		metrics.BookLiquidity.WithLabelValues(symbol, side.String()).Set(float64(book.Liquidity(side)))
	}
}
