package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sutd_chunkdfs/helper"
	"github.com/sutd_chunkdfs/models"
)

// Handler processes one decoded message. A non-nil return value is sent back
// on the same connection.
type Handler interface {
	Handle(ctx context.Context, msg models.Message) models.Message
}

type HandlerFunc func(ctx context.Context, msg models.Message) models.Message

func (f HandlerFunc) Handle(ctx context.Context, msg models.Message) models.Message {
	return f(ctx, msg)
}

// Server runs the accept loop of one node. Every accepted connection gets its
// own goroutine which keeps decoding frames until the peer hangs up.
type Server struct {
	listener net.Listener
	handler  Handler
	log      zerolog.Logger

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func Listen(address string, handler Handler, logger zerolog.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		handler:  handler,
		log:      logger,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve blocks until the listener is closed, either by Close or by ctx.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	s.log.Info().Str("addr", s.Addr().String()).Msg("listening")
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Error().Err(err).Msg("error accepting connection")
			continue
		}
		if !s.track(conn) {
			conn.Close()
			return nil
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, raw net.Conn) {
	defer s.wg.Done()
	defer s.untrack(raw)

	conn := NewConn(raw)
	defer conn.Close()
	for {
		msg, err := conn.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			if errors.Is(err, helper.ErrUnknownMessage) {
				s.log.Warn().Err(err).Str("peer", raw.RemoteAddr().String()).Msg("dropping message")
				continue
			}
			s.log.Warn().Err(err).Str("peer", raw.RemoteAddr().String()).Msg("closing connection")
			return
		}

		reply := s.handler.Handle(ctx, msg)
		if reply == nil {
			continue
		}
		if err := conn.Send(reply); err != nil {
			s.log.Error().Err(err).Str("peer", raw.RemoteAddr().String()).Msg("failed to send reply")
			return
		}
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops accepting, drops open connections and waits for their
// goroutines to finish. Every caller waits, including ones that find the
// server already closed.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.wg.Wait()
		return nil
	}
	s.closed = true
	err := s.listener.Close()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}
