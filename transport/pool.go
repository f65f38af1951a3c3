// Pool keeps REQ sockets to one broker address for reuse.
//
// A REQ socket carries one request at a time, so concurrent callers each
// borrow their own socket. Sockets that failed are closed on Put and a fresh
// one is dialed on the next Get.
package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed is returned by Get after Close.
var ErrPoolClosed = errors.New("transport: pool closed")

// Dialer creates a new REQ socket.
type Dialer func(ctx context.Context) (*ReqSocket, error)

// Pool manages reusable REQ sockets to a single address.
type Pool struct {
	idle  chan *ReqSocket // FIFO of idle sockets
	slots chan struct{}   // one token per socket owned by the pool
	dial  Dialer

	mu     sync.Mutex
	closed bool
}

// NewPool creates a pool holding at most maxConns sockets.
// Sockets are created lazily.
func NewPool(maxConns int, dial Dialer) *Pool {
	if maxConns <= 0 {
		maxConns = 1
	}
	return &Pool{
		idle:  make(chan *ReqSocket, maxConns),
		slots: make(chan struct{}, maxConns),
		dial:  dial,
	}
}

// Get borrows a socket: an idle one if available, a new one while under the
// limit, otherwise it waits for a Put or for ctx.
func (p *Pool) Get(ctx context.Context) (*ReqSocket, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	select {
	case s := <-p.idle:
		return s, nil
	default:
	}

	select {
	case s := <-p.idle:
		return s, nil
	case p.slots <- struct{}{}:
		s, err := p.dial(ctx)
		if err != nil {
			<-p.slots
			return nil, err
		}
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put returns a socket. Broken sockets are closed and their slot freed.
func (p *Pool) Put(s *ReqSocket) {
	if p.isClosed() || s.Broken() {
		s.Close()
		<-p.slots
		return
	}
	p.idle <- s
}

// Close closes idle sockets; sockets still borrowed are closed on Put.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	for {
		select {
		case s := <-p.idle:
			s.Close()
			<-p.slots
		default:
			return nil
		}
	}
}

// Size returns the number of sockets currently owned by the pool.
func (p *Pool) Size() int {
	return len(p.slots)
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
