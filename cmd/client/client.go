package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"tickmatch/internal/common"
	tickNet "tickmatch/internal/net"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	// 1. CLI Parameter Parsing
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the matching engine")
	action := flag.String("action", "submit", "Action to perform: ['submit', 'rest', 'match', 'heartbeat']")

	// Order Parameters
	symbol := flag.String("symbol", "AAPL", "Instrument symbol")
	sideStr := flag.String("side", "bid", "Order side: 'bid'/'buy' or 'ask'/'sell'")
	price := flag.Uint64("price", 100, "Limit price in ticks")
	sizeStr := flag.String("size", "10", "Size or comma-separated list (e.g. 10,20,50)")
	firstID := flag.Uint64("id", uint64(time.Now().UnixNano()), "ID of the first order, incremented per order")
	wait := flag.Duration("wait", 2*time.Second, "How long to wait for reports after sending")

	flag.Parse()

	side, err := common.ParseSide(*sideStr)
	if err != nil {
		log.Fatal().Err(err).Str("side", *sideStr).Msg("invalid side")
	}

	var messageType tickNet.MessageType
	switch strings.ToLower(*action) {
	case "submit":
		messageType = tickNet.NewOrder
	case "rest":
		messageType = tickNet.RestOrder
	case "match":
		messageType = tickNet.MatchOrder
	case "heartbeat":
		messageType = tickNet.Heartbeat
	default:
		log.Fatal().Str("action", *action).Msg("unknown action")
	}

	sizes, err := parseSizes(*sizeStr)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid size")
	}

	// Connect to Server
	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatal().Err(err).Str("server", *serverAddr).Msg("failed to connect")
	}
	defer conn.Close()
	log.Info().Str("server", *serverAddr).Msg("connected")

	// Start Listening for Reports (Async)
	go readReports(conn)

	if messageType == tickNet.Heartbeat {
		if err := tickNet.WriteFrame(conn, tickNet.HeartbeatMessage()); err != nil {
			log.Error().Err(err).Msg("failed to send heartbeat")
		}
	}
	for i, size := range sizes {
		if messageType == tickNet.Heartbeat {
			break
		}
		order := common.Order{
			ID:     *firstID + uint64(i),
			Symbol: common.NormalizeSymbol(*symbol),
			Side:   side,
			Price:  *price,
			Size:   size,
		}
		msg, err := tickNet.NewOrderMessage(messageType, order)
		if err != nil {
			log.Error().Err(err).Msg("failed to build order")
			continue
		}
		if err := tickNet.WriteFrame(conn, msg.Serialize()); err != nil {
			log.Error().Err(err).Uint64("size", size).Msg("failed to send order")
			continue
		}
		log.Info().
			Str("action", messageType.String()).
			Uint64("id", order.ID).
			Str("symbol", order.Symbol).
			Stringer("side", order.Side).
			Uint64("price", order.Price).
			Uint64("size", order.Size).
			Msg("sent")
	}

	// Keep the client alive to receive reports
	time.Sleep(*wait)
}

func parseSizes(list string) ([]uint64, error) {
	var sizes []uint64
	for _, field := range strings.Split(list, ",") {
		size, err := strconv.ParseUint(strings.TrimSpace(field), 10, 64)
		if err != nil {
			return nil, err
		}
		sizes = append(sizes, size)
	}
	return sizes, nil
}

func readReports(conn net.Conn) {
	reader := bufio.NewReader(conn)
	for {
		frame, err := tickNet.ReadFrame(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Error().Err(err).Msg("connection lost")
			}
			return
		}
		report, err := tickNet.ParseReport(frame)
		if err != nil {
			log.Error().Err(err).Msg("malformed report")
			continue
		}
		printReport(report)
	}
}

func printReport(r tickNet.Report) {
	switch r.MessageType {
	case tickNet.ExecutionReport:
		fmt.Printf("<- TRADE %s order=%d %v %s %d @ %d\n", r.TradeID, r.OrderID, r.Side, r.Symbol, r.Size, r.Price)
	case tickNet.RestedReport:
		fmt.Printf("<- RESTED order=%d %v %s %d @ %d\n", r.OrderID, r.Side, r.Symbol, r.Size, r.Price)
	case tickNet.NoMatchReport:
		fmt.Printf("<- NO MATCH order=%d %v %s @ %d\n", r.OrderID, r.Side, r.Symbol, r.Price)
	case tickNet.ErrorReport:
		fmt.Printf("<- ERROR order=%d: %s\n", r.OrderID, r.Err)
	case tickNet.HeartbeatReport:
		fmt.Println("<- HEARTBEAT")
	default:
		fmt.Printf("<- UNKNOWN report type %d\n", r.MessageType)
	}
}
