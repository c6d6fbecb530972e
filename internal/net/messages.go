package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	. "tickmatch/internal/common"

	"github.com/google/uuid"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short")
	ErrMessageTooLong     = errors.New("message too long")
	ErrSymbolTooLong      = errors.New("symbol too long")
)

type MessageType uint16

const (
	Heartbeat MessageType = iota
	// NewOrder matches across levels while the price crosses and rests the
	// remainder.
	NewOrder
	// RestOrder adds liquidity without matching.
	RestOrder
	// MatchOrder takes from the single best opposite level only.
	MatchOrder
)

func (m MessageType) String() string {
	switch m {
	case Heartbeat:
		return "heartbeat"
	case NewOrder:
		return "new_order"
	case RestOrder:
		return "rest_order"
	case MatchOrder:
		return "match_order"
	default:
		return "unknown"
	}
}

type ReportMessageType uint8

const (
	HeartbeatReport ReportMessageType = iota
	ExecutionReport
	RestedReport
	NoMatchReport
	ErrorReport
)

// Message format constants. Every message travels in a frame prefixed with
// its big endian uint16 body length.
const (
	FrameHeaderLen           = 2
	MaxFrameLen              = math.MaxUint16
	BaseMessageHeaderLen     = 2
	OrderMessageHeaderLen    = 8 + 1 + 8 + 8 + 1
	MaxSymbolLen             = math.MaxUint8
	ReportFixedHeaderLen     = 1 + 1 + 8 + 8 + 8 + 8 + 16 + 1 + 2
	reportSymbolLenOffset    = 50
	reportErrLenOffset       = 51
	orderMessageSymbolOffset = 26
)

type Message interface {
	GetType() MessageType
}

// Generic message type.
type BaseMessage struct {
	TypeOf MessageType // 2 bytes
}

func (m BaseMessage) GetType() MessageType {
	return m.TypeOf
}

// OrderMessage carries an order for any of the order message types.
type OrderMessage struct {
	BaseMessage
	OrderID   uint64 // 8 bytes
	Side      Side   // 1 byte
	Price     uint64 // 8 bytes
	Size      uint64 // 8 bytes
	SymbolLen uint8  // 1 byte
	Symbol    string // n bytes
}

// Order converts the message to an order. The symbol is normalised so that
// clients need not match the configured casing.
func (o OrderMessage) Order() Order {
	return Order{
		ID:     o.OrderID,
		Symbol: NormalizeSymbol(o.Symbol),
		Side:   o.Side,
		Price:  o.Price,
		Size:   o.Size,
	}
}

// NewOrderMessage builds the wire form of order for the given message type.
func NewOrderMessage(typeOf MessageType, order Order) (OrderMessage, error) {
	if len(order.Symbol) > MaxSymbolLen {
		return OrderMessage{}, ErrSymbolTooLong
	}
	return OrderMessage{
		BaseMessage: BaseMessage{TypeOf: typeOf},
		OrderID:     order.ID,
		Side:        order.Side,
		Price:       order.Price,
		Size:        order.Size,
		SymbolLen:   uint8(len(order.Symbol)),
		Symbol:      order.Symbol,
	}, nil
}

func (o OrderMessage) Serialize() []byte {
	buf := make([]byte, BaseMessageHeaderLen+OrderMessageHeaderLen+len(o.Symbol))
	binary.BigEndian.PutUint16(buf[0:2], uint16(o.TypeOf))
	body := buf[BaseMessageHeaderLen:]
	binary.BigEndian.PutUint64(body[0:8], o.OrderID)
	body[8] = byte(o.Side)
	binary.BigEndian.PutUint64(body[9:17], o.Price)
	binary.BigEndian.PutUint64(body[17:25], o.Size)
	body[25] = o.SymbolLen
	copy(body[orderMessageSymbolOffset:], o.Symbol)
	return buf
}

// HeartbeatMessage serializes an inbound heartbeat.
func HeartbeatMessage() []byte {
	buf := make([]byte, BaseMessageHeaderLen)
	binary.BigEndian.PutUint16(buf, uint16(Heartbeat))
	return buf
}

func parseMessage(msg []byte) (Message, error) {
	if len(msg) < BaseMessageHeaderLen {
		return BaseMessage{}, fmt.Errorf("header: %w", ErrMessageTooShort)
	}

	typeOf := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	msg = msg[2:]
	switch typeOf {
	case Heartbeat:
		return BaseMessage{TypeOf: Heartbeat}, nil
	case NewOrder, RestOrder, MatchOrder:
		return parseOrder(typeOf, msg)
	default:
		return BaseMessage{}, fmt.Errorf("%d: %w", typeOf, ErrInvalidMessageType)
	}
}

func parseOrder(typeOf MessageType, msg []byte) (OrderMessage, error) {
	if len(msg) < OrderMessageHeaderLen {
		return OrderMessage{}, fmt.Errorf("%v: %w", typeOf, ErrMessageTooShort)
	}

	m := OrderMessage{BaseMessage: BaseMessage{TypeOf: typeOf}}
	m.OrderID = binary.BigEndian.Uint64(msg[0:8])
	m.Side = Side(msg[8])
	m.Price = binary.BigEndian.Uint64(msg[9:17])
	m.Size = binary.BigEndian.Uint64(msg[17:25])
	m.SymbolLen = msg[25]

	// Calculate expected total length.
	expectedTotalLen := OrderMessageHeaderLen + int(m.SymbolLen)
	if len(msg) < expectedTotalLen {
		return OrderMessage{}, fmt.Errorf("%v symbol: %w", typeOf, ErrMessageTooShort)
	}
	m.Symbol = string(msg[orderMessageSymbolOffset:expectedTotalLen])
	return m, nil
}

// Report is the outbound message sent back to the client that placed an
// order.
type Report struct {
	MessageType ReportMessageType // 1 byte
	Side        Side              // 1 byte
	Timestamp   uint64            // 8 bytes, unix nanoseconds
	OrderID     uint64            // 8 bytes
	Price       uint64            // 8 bytes
	Size        uint64            // 8 bytes
	TradeID     uuid.UUID         // 16 bytes, zero unless an execution
	SymbolLen   uint8             // 1 byte
	ErrStrLen   uint16            // 2 bytes
	Symbol      string            // n bytes
	Err         string            // n bytes
}

// Serialize converts the report to be sent on the wire.
func (r *Report) Serialize() ([]byte, error) {
	if len(r.Symbol) > MaxSymbolLen {
		return nil, ErrSymbolTooLong
	}
	errStr := r.Err
	if len(errStr) > MaxFrameLen-ReportFixedHeaderLen-len(r.Symbol) {
		errStr = errStr[:MaxFrameLen-ReportFixedHeaderLen-len(r.Symbol)]
	}
	r.SymbolLen = uint8(len(r.Symbol))
	r.ErrStrLen = uint16(len(errStr))

	buf := make([]byte, ReportFixedHeaderLen+len(r.Symbol)+len(errStr))
	buf[0] = byte(r.MessageType)
	buf[1] = byte(r.Side)
	binary.BigEndian.PutUint64(buf[2:10], r.Timestamp)
	binary.BigEndian.PutUint64(buf[10:18], r.OrderID)
	binary.BigEndian.PutUint64(buf[18:26], r.Price)
	binary.BigEndian.PutUint64(buf[26:34], r.Size)
	copy(buf[34:50], r.TradeID[:])
	buf[reportSymbolLenOffset] = r.SymbolLen
	binary.BigEndian.PutUint16(buf[reportErrLenOffset:ReportFixedHeaderLen], r.ErrStrLen)

	offset := ReportFixedHeaderLen
	copy(buf[offset:], r.Symbol)
	offset += len(r.Symbol)
	copy(buf[offset:], errStr)
	return buf, nil
}

// ParseReport decodes a report body, as read by clients.
func ParseReport(msg []byte) (Report, error) {
	if len(msg) < ReportFixedHeaderLen {
		return Report{}, fmt.Errorf("report: %w", ErrMessageTooShort)
	}

	r := Report{
		MessageType: ReportMessageType(msg[0]),
		Side:        Side(msg[1]),
		Timestamp:   binary.BigEndian.Uint64(msg[2:10]),
		OrderID:     binary.BigEndian.Uint64(msg[10:18]),
		Price:       binary.BigEndian.Uint64(msg[18:26]),
		Size:        binary.BigEndian.Uint64(msg[26:34]),
		SymbolLen:   msg[reportSymbolLenOffset],
		ErrStrLen:   binary.BigEndian.Uint16(msg[reportErrLenOffset:ReportFixedHeaderLen]),
	}
	copy(r.TradeID[:], msg[34:50])

	symbolEnd := ReportFixedHeaderLen + int(r.SymbolLen)
	errEnd := symbolEnd + int(r.ErrStrLen)
	if len(msg) < errEnd {
		return Report{}, fmt.Errorf("report strings: %w", ErrMessageTooShort)
	}
	r.Symbol = string(msg[ReportFixedHeaderLen:symbolEnd])
	r.Err = string(msg[symbolEnd:errEnd])
	return r, nil
}

// tradeReport builds the execution report for a trade, addressed to the
// aggressor.
func tradeReport(trade Trade) Report {
	return Report{
		MessageType: ExecutionReport,
		Side:        trade.Side,
		Timestamp:   uint64(trade.Timestamp.UnixNano()),
		OrderID:     trade.OrderID,
		Price:       trade.Price,
		Size:        trade.Size,
		TradeID:     trade.ID,
		Symbol:      trade.Symbol,
	}
}

// orderReport acknowledges an order outcome that is not a trade.
func orderReport(typeOf ReportMessageType, order Order, size uint64) Report {
	return Report{
		MessageType: typeOf,
		Side:        order.Side,
		Timestamp:   uint64(time.Now().UnixNano()),
		OrderID:     order.ID,
		Price:       order.Price,
		Size:        size,
		Symbol:      order.Symbol,
	}
}

func errorReport(order Order, err error) Report {
	return Report{
		MessageType: ErrorReport,
		Side:        order.Side,
		Timestamp:   uint64(time.Now().UnixNano()),
		OrderID:     order.ID,
		Symbol:      order.Symbol,
		Err:         err.Error(),
	}
}

// WriteFrame writes body prefixed with its length.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrameLen {
		return ErrMessageTooLong
	}
	buf := make([]byte, FrameHeaderLen+len(body))
	binary.BigEndian.PutUint16(buf[0:FrameHeaderLen], uint16(len(body)))
	copy(buf[FrameHeaderLen:], body)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one length prefixed body from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [FrameHeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	body := make([]byte, binary.BigEndian.Uint16(header[:]))
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}
