package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"

	. "tickmatch/internal/common"
	"tickmatch/internal/engine"
	"tickmatch/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReporter struct {
	mu     sync.Mutex
	trades int
}

func (r *countingReporter) ReportTrade(Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades++
	return nil
}

func startDispatcher(t *testing.T, symbols ...string) (*Dispatcher, *engine.Engine, *countingReporter) {
	t.Helper()
	reporter := &countingReporter{}
	eng := engine.New(reporter, symbols...)
	d := New(eng, 3, 8)
	d.Start(context.Background())
	t.Cleanup(func() {
		assert.NoError(t, d.Stop())
	})
	return d, eng, reporter
}

func TestDispatcher_NotRunning(t *testing.T) {
	d := New(engine.New(nil, "AAPL"), 1, 1)
	_, err := d.Do(context.Background(), Rest, Order{Symbol: "AAPL", Side: Bid, Price: 1, Size: 1})
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.NoError(t, d.Stop())
}

func TestDispatcher_Actions(t *testing.T) {
	d, _, reporter := startDispatcher(t, "AAPL")
	ctx := context.Background()

	res, err := d.Do(ctx, Rest, Order{ID: 1, Symbol: "AAPL", Side: Ask, Price: 100, Size: 5})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), res.Execution.Rested)

	res, err = d.Do(ctx, Match, Order{ID: 2, Symbol: "AAPL", Side: Bid, Price: 99, Size: 5})
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Empty(t, res.Execution.Trades)

	res, err = d.Do(ctx, Match, Order{ID: 3, Symbol: "AAPL", Side: Bid, Price: 110, Size: 3})
	require.NoError(t, err)
	assert.True(t, res.Matched)
	require.Len(t, res.Execution.Trades, 1)
	assert.Equal(t, uint64(100), res.Execution.Trades[0].Price)
	assert.Equal(t, uint64(3), res.Execution.Filled)
	assert.Zero(t, res.Execution.Rested)

	res, err = d.Do(ctx, Submit, Order{ID: 4, Symbol: "AAPL", Side: Bid, Price: 100, Size: 6})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Execution.Filled)
	assert.Equal(t, uint64(4), res.Execution.Rested)

	assert.Equal(t, 2, reporter.trades)
}

func TestDispatcher_Errors(t *testing.T) {
	d, _, _ := startDispatcher(t, "AAPL")
	ctx := context.Background()

	_, err := d.Do(ctx, Rest, Order{ID: 1, Symbol: "AAPL", Side: Ask, Price: 100})
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, err = d.Do(ctx, Submit, Order{ID: 2, Symbol: "MSFT", Side: Ask, Price: 100, Size: 1})
	assert.ErrorIs(t, err, engine.ErrUnknownSymbol)

	_, err = d.Do(ctx, Action(42), Order{ID: 3, Symbol: "AAPL", Side: Ask, Price: 100, Size: 1})
	assert.ErrorIs(t, err, ErrUnknownAction)

	// Order level failures never take the worker down.
	res, err := d.Do(ctx, Rest, Order{ID: 4, Symbol: "AAPL", Side: Ask, Price: 100, Size: 1})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Execution.Rested)
}

func TestDispatcher_ConcurrentSymbols(t *testing.T) {
	symbols := []string{"AAPL", "NVDA", "MSFT", "AMZN", "GOOG"}
	d, eng, reporter := startDispatcher(t, symbols...)
	ctx := context.Background()

	const perSymbol = 200
	var wg sync.WaitGroup
	for _, symbol := range symbols {
		for client := range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				// One client rests asks, the other takes them one unit at a time.
				for i := range perSymbol {
					o := Order{ID: uint64(i), Symbol: symbol, Price: 100, Size: 1}
					if client == 0 {
						o.Side = Ask
						_, err := d.Do(ctx, Rest, o)
						assert.NoError(t, err)
					} else {
						o.Side = Bid
						_, err := d.Do(ctx, Match, o)
						assert.NoError(t, err)
					}
				}
			}()
		}
	}
	wg.Wait()

	var traded int
	for _, symbol := range symbols {
		book, ok := eng.Book(symbol)
		require.True(t, ok)
		resting := book.Liquidity(Ask)
		assert.LessOrEqual(t, resting, uint64(perSymbol), symbol)
		traded += perSymbol - int(resting)
		for _, level := range book.Levels(Ask) {
			assert.NotZero(t, level.Quantity, fmt.Sprintf("%s %d", symbol, level.Price))
		}
		assert.Zero(t, book.Depth(Bid))
	}
	assert.Equal(t, traded, reporter.trades)
}

func TestDispatcher_StopUnblocksCallers(t *testing.T) {
	d := New(engine.New(nil, "AAPL"), 1, 1)
	d.Start(context.Background())
	require.NoError(t, d.Stop())

	_, err := d.Do(context.Background(), Rest, Order{Symbol: "AAPL", Side: Bid, Price: 1, Size: 1})
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestAction_String(t *testing.T) {
	assert.Equal(t, "submit", Submit.String())
	assert.Equal(t, "rest", Rest.String())
	assert.Equal(t, "match", Match.String())
	assert.Equal(t, "unknown", Action(9).String())
}

func TestDispatcher_StartTwiceKeepsOneOwner(t *testing.T) {
	d, eng, _ := startDispatcher(t, "AAPL")
	pool := d.pool
	d.Start(context.Background())
	require.Same(t, pool, d.pool, "a running dispatcher must not start new workers")

	const clients, perClient = 4, 250
	var wg sync.WaitGroup
	for c := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perClient {
				o := Order{ID: uint64(c*perClient + i), Symbol: "AAPL", Side: Ask, Price: 100 + uint64(i%3), Size: 1}
				_, err := d.Do(context.Background(), Rest, o)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	book, _ := eng.Book("AAPL")
	assert.Equal(t, uint64(clients*perClient), book.Liquidity(Ask))
}

func TestDispatcher_RestartUsesFreshQueues(t *testing.T) {
	eng := engine.New(nil, "AAPL")
	d := New(eng, 2, 4)
	d.Start(context.Background())
	first := d.pool
	require.NoError(t, d.Stop())

	d.Start(context.Background())
	t.Cleanup(func() { assert.NoError(t, d.Stop()) })
	assert.NotSame(t, first, d.pool)

	res, err := d.Do(context.Background(), Rest, Order{ID: 1, Symbol: "AAPL", Side: Bid, Price: 10, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Execution.Rested)
}

func processedCount(t *testing.T, action Action) uint64 {
	t.Helper()
	m := &dto.Metric{}
	observer := metrics.OrderProcessing.WithLabelValues(action.String())
	require.NoError(t, observer.(prometheus.Metric).Write(m))
	return m.GetHistogram().GetSampleCount()
}

func TestDispatcher_RecordsProcessingTime(t *testing.T) {
	d, _, _ := startDispatcher(t, "AAPL")
	ctx := context.Background()
	rests, matches := processedCount(t, Rest), processedCount(t, Match)

	_, err := d.Do(ctx, Rest, Order{ID: 1, Symbol: "AAPL", Side: Ask, Price: 100, Size: 5})
	require.NoError(t, err)
	_, err = d.Do(ctx, Match, Order{ID: 2, Symbol: "AAPL", Side: Bid, Price: 100, Size: 1})
	require.NoError(t, err)
	// Rejected orders are timed too.
	_, err = d.Do(ctx, Rest, Order{ID: 3, Symbol: "AAPL", Side: Ask, Price: 100})
	require.Error(t, err)

	assert.Equal(t, rests+2, processedCount(t, Rest))
	assert.Equal(t, matches+1, processedCount(t, Match))
}
