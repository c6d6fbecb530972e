package net

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	. "tickmatch/internal/common"
	"tickmatch/internal/dispatch"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	defaultIdleTimeout = 5 * time.Minute
	minAcceptDelay     = 5 * time.Millisecond
	maxAcceptDelay     = time.Second
)

var (
	ErrClientDoesNotExist = errors.New("client does not exist")
)

// Submitter is the part of the dispatcher the server needs.
type Submitter interface {
	Do(ctx context.Context, action dispatch.Action, order Order) (dispatch.Result, error)
}

// ClientSession contains relevant information pertaining to an individual
// connected TCP session.
type ClientSession struct {
	conn net.Conn
	mu   sync.Mutex // Serialises writes to conn
}

type Server struct {
	address            string
	port               int
	idleTimeout        time.Duration
	submitter          Submitter
	listener           net.Listener
	ready              chan struct{}
	clientSessions     map[string]*ClientSession
	clientSessionsLock sync.Mutex
}

func New(address string, port int, submitter Submitter) *Server {
	return &Server{
		address:        address,
		port:           port,
		idleTimeout:    defaultIdleTimeout,
		submitter:      submitter,
		ready:          make(chan struct{}),
		clientSessions: make(map[string]*ClientSession),
	}
}

// SetIdleTimeout bounds how long a client may stay silent before it is
// disconnected.
func (s *Server) SetIdleTimeout(timeout time.Duration) {
	s.idleTimeout = timeout
}

// Addr blocks until the listener is up and returns its address. Useful when
// the server was asked to listen on port 0.
func (s *Server) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ready:
		return s.listener.Addr(), nil
	}
}

// Run serves clients until ctx is cancelled. Every client connection is
// handled by its own goroutine; ordering between clients is decided by the
// dispatcher.
func (s *Server) Run(ctx context.Context) error {
	t, ctx := tomb.WithContext(ctx)

	// Start a tcp listener.
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		log.Error().Err(err).Msg("unable to start listener")
		return err
	}
	s.listener = listener
	close(s.ready)

	// Closing the listener is what unblocks Accept on shutdown.
	t.Go(func() error {
		<-t.Dying()
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
		s.closeClientSessions()
		return nil
	})

	log.Info().Str("address", listener.Addr().String()).Msg("server running")

	t.Go(func() error {
		var backoff acceptBackoff
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-t.Dying():
					return nil
				default:
				}
				delay := backoff.next()
				log.Error().Err(err).Dur("retry", delay).Msg("error accepting client")
				select {
				case <-t.Dying():
					return nil
				case <-time.After(delay):
				}
				continue
			}
			backoff.reset()
			select {
			case <-t.Dying():
				_ = conn.Close()
				return nil
			default:
			}

			log.Info().
				Str("address", conn.RemoteAddr().String()).
				Msg("new client added")
			session := s.addClientSession(conn)

			t.Go(func() error {
				s.handleConnection(ctx, session)
				return nil
			})
		}
	})

	<-t.Dying()
	log.Info().Msg("server shutting down")
	err = t.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// acceptBackoff spaces out retries while Accept keeps failing, e.g. when the
// process is out of file descriptors.
type acceptBackoff struct {
	delay time.Duration
}

func (b *acceptBackoff) next() time.Duration {
	if b.delay == 0 {
		b.delay = minAcceptDelay
	} else {
		b.delay = min(2*b.delay, maxAcceptDelay)
	}
	return b.delay
}

func (b *acceptBackoff) reset() {
	b.delay = 0
}

// Report sends a report to a connected client.
func (s *Server) Report(clientAddress string, report Report) error {
	s.clientSessionsLock.Lock()
	client, ok := s.clientSessions[clientAddress]
	s.clientSessionsLock.Unlock()
	if !ok {
		return ErrClientDoesNotExist
	}

	if err := client.write(report); err != nil {
		s.deleteClientSession(clientAddress)
		return fmt.Errorf("unable to send report: %w", err)
	}
	return nil
}

// handleConnection reads frames off the connection until it fails or the
// server stops. Each order is handed to the dispatcher and its outcome is
// written back before the next frame is read, so a client sees its reports in
// the order it sent its orders.
func (s *Server) handleConnection(ctx context.Context, session *ClientSession) {
	address := session.conn.RemoteAddr().String()
	defer s.deleteClientSession(address)

	reader := bufio.NewReader(session.conn)
	for {
		if err := session.conn.SetReadDeadline(time.Now().Add(s.idleTimeout)); err != nil {
			log.Error().Err(err).Str("address", address).Msg("failed setting deadline for connection")
			return
		}

		frame, err := ReadFrame(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Error().Err(err).Str("address", address).Msg("error reading from connection")
			}
			return
		}

		message, err := parseMessage(frame)
		if err != nil {
			log.Error().Err(err).Str("address", address).Msg("error parsing message")
			if err := s.Report(address, errorReport(Order{}, err)); err != nil {
				return
			}
			continue
		}

		for _, report := range s.handleMessage(ctx, message) {
			if err := s.Report(address, report); err != nil {
				log.Error().Err(err).Str("address", address).Msg("unable to write report")
				return
			}
		}
	}
}

// handleMessage turns a decoded message into the reports owed to its sender.
func (s *Server) handleMessage(ctx context.Context, message Message) []Report {
	orderMessage, ok := message.(OrderMessage)
	if !ok {
		return []Report{{
			MessageType: HeartbeatReport,
			Timestamp:   uint64(time.Now().UnixNano()),
		}}
	}

	order := orderMessage.Order()
	var action dispatch.Action
	switch orderMessage.TypeOf {
	case NewOrder:
		action = dispatch.Submit
	case RestOrder:
		action = dispatch.Rest
	case MatchOrder:
		action = dispatch.Match
	}

	res, err := s.submitter.Do(ctx, action, order)
	reports := make([]Report, 0, len(res.Execution.Trades)+1)
	for _, trade := range res.Execution.Trades {
		reports = append(reports, tradeReport(trade))
	}
	if err != nil {
		return append(reports, errorReport(order, err))
	}

	switch {
	case res.Execution.Rested > 0:
		reports = append(reports, orderReport(RestedReport, order, res.Execution.Rested))
	case action == dispatch.Match && !res.Matched:
		reports = append(reports, orderReport(NoMatchReport, order, 0))
	}
	return reports
}

func (c *ClientSession) write(report Report) error {
	body, err := report.Serialize()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return WriteFrame(c.conn, body)
}

// addClientSession is an atomic map add
func (s *Server) addClientSession(conn net.Conn) *ClientSession {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	session := &ClientSession{conn: conn}
	s.clientSessions[conn.RemoteAddr().String()] = session
	return session
}

// deleteClientSession is an atomic map remove that also closes the
// connection.
func (s *Server) deleteClientSession(address string) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	session, ok := s.clientSessions[address]
	if !ok {
		return
	}
	delete(s.clientSessions, address)
	if err := session.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Error().Err(err).Str("address", address).Msg("unable to close connection")
	}
}

func (s *Server) closeClientSessions() {
	s.clientSessionsLock.Lock()
	addresses := make([]string, 0, len(s.clientSessions))
	for address := range s.clientSessions {
		addresses = append(addresses, address)
	}
	s.clientSessionsLock.Unlock()

	for _, address := range addresses {
		s.deleteClientSession(address)
	}
}
