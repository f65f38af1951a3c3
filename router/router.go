package router

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"mini-broker/log"
	"mini-broker/message"
	"mini-broker/transport"
)

// Router is a ROUTER socket over plain TCP.
//
// One goroutine per peer reads frames and funnels them, followed by the
// peer's disconnect notice, into a shared inbox. A reader blocks until its
// message fits in the inbox before reading the next one, so with an
// unbuffered inbox the router holds at most one message per peer and TCP
// flow control pushes back on the rest.
type Router struct {
	listener net.Listener
	opts     Options
	logger   log.Logger
	mu       sync.RWMutex
	peers    map[string]*transport.Conn // identity → connection
	inbox    chan Event
	read     atomic.Int64 // messages taken off peer connections
	shutdown atomic.Bool
	done     chan struct{}
	wg       sync.WaitGroup
}

// Listen binds addr ("tcp://*:5672", ":5672", "127.0.0.1:0") and starts
// accepting peers.
func Listen(addr string, opts Options) (*Router, error) {
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if opts.InboxSize < 0 {
		opts.InboxSize = 0
	}
	listener, err := net.Listen("tcp", transport.StripScheme(addr))
	if err != nil {
		return nil, err
	}

	r := &Router{
		listener: listener,
		opts:     opts,
		logger:   opts.Logger,
		peers:    make(map[string]*transport.Conn),
		inbox:    make(chan Event, opts.InboxSize),
		done:     make(chan struct{}),
	}
	r.wg.Add(1)
	go r.serve()
	return r, nil
}

// serve is the accept loop: one goroutine per peer.
func (r *Router) serve() {
	defer r.wg.Done()
	for {
		nc, err := r.listener.Accept()
		if err != nil {
			// Close() makes Accept fail; anything else is logged.
			if !r.shutdown.Load() {
				r.logger.Error("accept failed", log.String("addr", r.Addr()), log.Err(err))
			}
			return
		}
		r.wg.Add(1)
		go r.handleConn(nc)
	}
}

// handleConn registers the peer under a fresh identity and forwards its
// messages until the connection fails or the router closes.
func (r *Router) handleConn(nc net.Conn) {
	defer r.wg.Done()

	id := uuid.New()
	identity := id[:]
	conn := transport.NewConn(nc, r.opts.Transport)

	r.mu.Lock()
	if r.shutdown.Load() {
		r.mu.Unlock()
		conn.Close()
		return
	}
	r.peers[string(identity)] = conn
	r.mu.Unlock()

	r.logger.Debug("peer connected",
		log.Hex("identity", identity),
		log.String("remote", nc.RemoteAddr().String()),
	)

	defer r.dropPeer(identity, conn)
	for {
		m, err := conn.Recv()
		if err != nil {
			if !r.shutdown.Load() {
				r.logger.Debug("peer gone", log.Hex("identity", identity), log.Err(err))
			}
			return
		}
		r.read.Add(1)
		m.PushFront(identity)
		select {
		case r.inbox <- Event{Msg: m}:
		case <-r.done:
			return
		}
	}
}

func (r *Router) dropPeer(identity []byte, conn *transport.Conn) {
	conn.Close()
	r.mu.Lock()
	delete(r.peers, string(identity))
	r.mu.Unlock()

	// Same inbox as the messages, so the notice cannot overtake them.
	select {
	case r.inbox <- Event{Gone: identity}:
	case <-r.done:
	}
}

// Next returns the next message or disconnect notice from any peer.
func (r *Router) Next(ctx context.Context) (Event, error) {
	select {
	case ev := <-r.inbox:
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case <-r.done:
		return Event{}, ErrClosed
	}
}

// Recv returns the next message from any peer, identity first.
func (r *Router) Recv(ctx context.Context) (message.Multipart, error) {
	for {
		ev, err := r.Next(ctx)
		if err != nil {
			return nil, err
		}
		if ev.Gone == nil {
			return ev.Msg, nil
		}
	}
}

// Send routes m[1:] to the peer named by m[0].
func (r *Router) Send(m message.Multipart) error {
	identity, err := m.PopFront()
	if err != nil {
		return err
	}
	if r.shutdown.Load() {
		return ErrClosed
	}

	r.mu.RLock()
	conn, ok := r.peers[string(identity)]
	r.mu.RUnlock()
	if !ok {
		return ErrUnroutable
	}
	if err := conn.Send(m); err != nil {
		// The reader goroutine notices the closed conn and reports the disconnect.
		conn.Close()
		return err
	}
	return nil
}

// Peers returns the number of connected peers.
func (r *Router) Peers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Addr returns the bound listen address.
func (r *Router) Addr() string {
	return r.listener.Addr().String()
}

// Close stops accepting, disconnects every peer and waits for the peer
// goroutines to exit.
func (r *Router) Close() error {
	if r.shutdown.Swap(true) {
		return nil
	}
	err := r.listener.Close()
	close(r.done)

	r.mu.Lock()
	for _, conn := range r.peers {
		conn.Close()
	}
	r.mu.Unlock()

	r.wg.Wait()
	return err
}
