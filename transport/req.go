package transport

import (
	"context"
	"errors"
	"sync"

	"mini-broker/message"
)

var (
	ErrSendBeforeRecv = errors.New("transport: request outstanding, receive the reply first")
	ErrRecvBeforeSend = errors.New("transport: no request outstanding")
	ErrBroken         = errors.New("transport: socket broken by an earlier failure")
)

// ReqSocket enforces strict request/reply alternation on a Conn: every Send
// must be followed by exactly one Recv. Outgoing messages get an empty
// delimiter frame in front; the delimiter is stripped from replies.
type ReqSocket struct {
	mu      sync.Mutex
	conn    *Conn
	pending bool
	broken  bool
}

// NewReqSocket wraps conn.
func NewReqSocket(conn *Conn) *ReqSocket {
	return &ReqSocket{conn: conn}
}

// DialReq connects a REQ socket to addr.
func DialReq(ctx context.Context, addr string, opts Options) (*ReqSocket, error) {
	conn, err := Dial(ctx, addr, opts)
	if err != nil {
		return nil, err
	}
	return NewReqSocket(conn), nil
}

// Send sends frames as one request.
func (s *ReqSocket) Send(frames ...[]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return ErrBroken
	}
	if s.pending {
		return ErrSendBeforeRecv
	}

	m := make(message.Multipart, 0, len(frames)+1)
	m.PushBack([]byte{})
	for _, f := range frames {
		m.PushBack(f)
	}
	if err := s.conn.Send(m); err != nil {
		s.broken = true
		return err
	}
	s.pending = true
	return nil
}

// Recv waits for the reply to the last Send.
func (s *ReqSocket) Recv(ctx context.Context) (message.Multipart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return nil, ErrBroken
	}
	if !s.pending {
		return nil, ErrRecvBeforeSend
	}

	m, err := s.conn.RecvContext(ctx)
	if err != nil {
		s.broken = true
		return nil, err
	}
	delim, err := m.PopFront()
	if err != nil || len(delim) != 0 {
		s.broken = true
		return nil, message.ErrFrameNotEmpty
	}
	s.pending = false
	return m, nil
}

// Request performs one Send followed by one Recv.
func (s *ReqSocket) Request(ctx context.Context, frames ...[]byte) (message.Multipart, error) {
	if err := s.Send(frames...); err != nil {
		return nil, err
	}
	return s.Recv(ctx)
}

// Broken reports whether the socket must be discarded.
func (s *ReqSocket) Broken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broken
}

// Close closes the connection.
func (s *ReqSocket) Close() error {
	return s.conn.Close()
}
