package engine

import (
	. "tickmatch/internal/common"

	"github.com/rs/zerolog"
)

// LogReporter writes every trade to a structured log. It is the default
// downstream consumer when nothing else is wired in.
type LogReporter struct {
	logger zerolog.Logger
}

func NewLogReporter(logger zerolog.Logger) *LogReporter {
	return &LogReporter{logger: logger.With().Str("component", "trades").Logger()}
}

func (r *LogReporter) ReportTrade(trade Trade) error {
	r.logger.Info().
		Str("id", trade.ID.String()).
		Str("symbol", trade.Symbol).
		Uint64("order", trade.OrderID).
		Stringer("side", trade.Side).
		Uint64("price", trade.Price).
		Uint64("size", trade.Size).
		Time("ts", trade.Timestamp).
		Msg("trade")
	return nil
}
