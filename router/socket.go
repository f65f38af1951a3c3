// Package router implements ROUTER sockets: the broker-side endpoints that
// accept many peers and address each of them by identity.
//
// Every message read from a ROUTER socket starts with the identity of the
// peer that sent it. To reply, the identity is put back in front and the
// socket strips it again before writing the rest to that peer.
//
//	peer sends      [ "", "Hello World" ]
//	Recv returns    [ <id>, "", "Hello World" ]
//	Send takes      [ <id>, "", "Worker Result:1" ]
//	peer receives   [ "", "Worker Result:1" ]
package router

import (
	"context"
	"errors"
	"fmt"

	"mini-broker/log"
	"mini-broker/message"
	"mini-broker/transport"
)

var (
	// ErrUnroutable is returned by Send when no peer has the identity.
	ErrUnroutable = errors.New("router: unroutable identity")
	// ErrClosed is returned once the socket has been closed.
	ErrClosed = errors.New("router: socket closed")
	// ErrZMQUnavailable is returned when the binary was built without the zmq tag.
	ErrZMQUnavailable = errors.New("router: built without ZeroMQ support (rebuild with -tags zmq)")
)

// Event is one item read from a ROUTER socket: either a message from a peer
// or the notice that the peer went away. A peer's Gone event is delivered
// after its last message.
type Event struct {
	Msg  message.Multipart // identity first; nil for a Gone event
	Gone []byte            // identity of the disconnected peer
}

// Socket is a ROUTER endpoint.
type Socket interface {
	// Next returns the next message or disconnect notice. Sockets that cannot
	// observe disconnects only return messages.
	Next(ctx context.Context) (Event, error)
	// Recv returns the next message, identity frame first, skipping
	// disconnect notices.
	Recv(ctx context.Context) (message.Multipart, error)
	// Send pops the identity frame and writes the rest to that peer.
	Send(m message.Multipart) error
	// Addr returns the bound address.
	Addr() string
	Close() error
}

// Options configure a ROUTER socket.
type Options struct {
	Transport transport.Options
	// InboxSize is the number of received messages buffered ahead of Next.
	// 0 leaves each peer reader holding at most one message.
	InboxSize int
	Logger    log.Logger
}

// Bind opens a ROUTER socket of the given kind ("tcp" or "zmq") on addr.
func Bind(kind, addr string, opts Options) (Socket, error) {
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	switch kind {
	case "", "tcp":
		return Listen(addr, opts)
	case "zmq":
		return ListenZMQ(addr, opts)
	}
	return nil, fmt.Errorf("router: unknown socket kind %q", kind)
}
