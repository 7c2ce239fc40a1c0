package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/sutd_chunkdfs/helper"
	"github.com/sutd_chunkdfs/models"
)

// Conn frames messages over one TCP connection: 4-byte big-endian length,
// then the encoded payload.
type Conn struct {
	conn net.Conn
	rd   *bufio.Reader
	mu   sync.Mutex // one send completes before the next starts
}

func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn, rd: bufio.NewReader(conn)}
}

func Dial(ctx context.Context, address string) (*Conn, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return NewConn(conn), nil
}

func (c *Conn) Send(msg models.Message) error {
	payload, err := models.Encode(msg)
	if err != nil {
		return err
	}
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("send %s to %s: %w", msg.Type(), c.conn.RemoteAddr(), err)
	}
	return nil
}

// Receive blocks until a whole frame arrives. A clean close between frames
// is reported as io.EOF.
func (c *Conn) Receive() (models.Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(c.rd, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > helper.MAX_FRAME_SIZE {
		return nil, fmt.Errorf("%w: %d bytes", helper.ErrFrameTooLarge, length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(c.rd, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return models.Decode(payload)
}

func (c *Conn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *Conn) Close() error {
	return c.conn.Close()
}

// Request performs one request/reply exchange on a fresh connection. There is
// no protocol deadline; only cancelling ctx unblocks a missing reply.
func Request(ctx context.Context, address string, msg models.Message) (models.Message, error) {
	conn, err := Dial(ctx, address)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return conn.Exchange(ctx, msg)
}

// Exchange sends msg and waits for the single reply on this connection.
func (c *Conn) Exchange(ctx context.Context, msg models.Message) (models.Message, error) {
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	if err := c.Send(msg); err != nil {
		return nil, err
	}
	reply, err := c.Receive()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("await reply to %s from %s: %w", msg.Type(), c.conn.RemoteAddr(), err)
	}
	return reply, nil
}

// Notify delivers msg on a fresh connection without waiting for anything back.
func Notify(ctx context.Context, address string, msg models.Message) error {
	conn, err := Dial(ctx, address)
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.Send(msg)
}
