// Package transport implements framed connections and REQ sockets.
//
// A Conn carries whole multipart messages over a byte stream: one message is
// one protocol frame, so a reader never sees half a message. Both ends send
// heartbeat frames while idle; a Conn configured with a ReadTimeout treats a
// silent peer as dead.
//
//	client ──Send([ "", "Hello World" ])──▶ broker
//	client ◀──Recv([ "", "Worker Result:1" ])── broker
package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"mini-broker/codec"
	"mini-broker/message"
	"mini-broker/protocol"
)

// ErrClosed is returned by operations on a closed Conn.
var ErrClosed = errors.New("transport: connection closed")

// Options tune a Conn.
type Options struct {
	Codec             codec.CodecType
	HeartbeatInterval time.Duration // 0 disables outgoing heartbeats
	ReadTimeout       time.Duration // 0 waits forever for the peer
	DialTimeout       time.Duration
}

// DefaultOptions returns the options used by the command line tools.
func DefaultOptions() Options {
	return Options{
		Codec:             codec.CodecTypeBinary,
		HeartbeatInterval: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		DialTimeout:       5 * time.Second,
	}
}

// Conn is a framed, heartbeat-aware connection.
type Conn struct {
	conn    net.Conn
	codec   codec.Codec
	opts    Options
	sending sync.Mutex // whole frames only, never interleaved

	deadlineMu sync.Mutex
	cancelled  bool

	closeOnce sync.Once
	done      chan struct{}
}

// NewConn wraps an established connection and starts its heartbeat loop.
func NewConn(conn net.Conn, opts Options) *Conn {
	c := &Conn{
		conn:  conn,
		codec: codec.GetCodec(opts.Codec),
		opts:  opts,
		done:  make(chan struct{}),
	}
	if opts.HeartbeatInterval > 0 {
		go c.heartbeatLoop(opts.HeartbeatInterval)
	}
	return c
}

// Dial connects to addr ("host:port" or "tcp://host:port").
func Dial(ctx context.Context, addr string, opts Options) (*Conn, error) {
	d := net.Dialer{Timeout: opts.DialTimeout}
	nc, err := d.DialContext(ctx, "tcp", StripScheme(addr))
	if err != nil {
		return nil, err
	}
	return NewConn(nc, opts), nil
}

// Send writes m as a single protocol frame.
func (c *Conn) Send(m message.Multipart) error {
	if len(m) > 0xffff {
		return protocol.ErrPartsOverflows
	}
	body, err := c.codec.Encode(m)
	if err != nil {
		return err
	}
	header := protocol.Header{
		CodecType: byte(c.codec.Type()),
		MsgType:   protocol.MsgTypeMessage,
		Parts:     uint16(len(m)),
		BodyLen:   uint32(len(body)),
	}

	c.sending.Lock()
	defer c.sending.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	return protocol.Encode(c.conn, &header, body)
}

// Recv blocks until the next multipart message arrives.
func (c *Conn) Recv() (message.Multipart, error) {
	return c.RecvContext(context.Background())
}

// RecvContext is Recv bounded by ctx. Heartbeat frames are consumed silently.
// After a cancelled receive the stream position is unknown; callers should
// discard the Conn.
func (c *Conn) RecvContext(ctx context.Context) (message.Multipart, error) {
	c.deadlineMu.Lock()
	c.cancelled = false
	c.deadlineMu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		c.deadlineMu.Lock()
		c.cancelled = true
		c.conn.SetReadDeadline(time.Now())
		c.deadlineMu.Unlock()
	})
	defer stop()

	for {
		if err := c.armDeadline(ctx); err != nil {
			return nil, err
		}
		header, body, err := protocol.Decode(c.conn)
		if err != nil {
			if ctxErr := contextError(ctx); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}

		cdc := codec.GetCodec(codec.CodecType(header.CodecType))
		m, err := cdc.Decode(body)
		if err != nil {
			return nil, err
		}
		if m.Len() != int(header.Parts) {
			return nil, message.ErrNotEnoughFrames
		}
		return m, nil
	}
}

// armDeadline sets the read deadline for the next frame: the earlier of the
// liveness timeout and the context deadline.
func (c *Conn) armDeadline(ctx context.Context) error {
	c.deadlineMu.Lock()
	defer c.deadlineMu.Unlock()
	if c.cancelled {
		return ctx.Err()
	}

	var deadline time.Time
	if c.opts.ReadTimeout > 0 {
		deadline = time.Now().Add(c.opts.ReadTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	return c.conn.SetReadDeadline(deadline)
}

// contextError reports ctx as failed as soon as its deadline has passed,
// even if the context's own timer has not fired yet.
func contextError(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
		return context.DeadlineExceeded
	}
	return nil
}

// heartbeatLoop sends empty heartbeat frames so the peer's read deadline
// keeps moving while no messages flow.
func (c *Conn) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	header := &protocol.Header{CodecType: byte(c.codec.Type()), MsgType: protocol.MsgTypeHeartbeat}
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}
		c.sending.Lock()
		err := protocol.Encode(c.conn, header, nil)
		c.sending.Unlock()
		if err != nil {
			return
		}
	}
}

// Close closes the underlying connection. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// StripScheme turns "tcp://host:port" into "host:port" and "*" hosts into
// the wildcard address.
func StripScheme(addr string) string {
	const scheme = "tcp://"
	if len(addr) > len(scheme) && addr[:len(scheme)] == scheme {
		addr = addr[len(scheme):]
	}
	if len(addr) > 1 && addr[0] == '*' && addr[1] == ':' {
		addr = addr[1:]
	}
	return addr
}
