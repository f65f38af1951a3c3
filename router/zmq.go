//go:build zmq

package router

import (
	"context"
	"strings"
	"sync"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"

	"mini-broker/log"
	"mini-broker/message"
)

const zmqPollInterval = 20 * time.Millisecond

type zmqSend struct {
	frames message.Multipart
	errc   chan error
}

// ZMQRouter is a ZeroMQ ROUTER socket. It speaks the real ZMTP wire
// protocol, so stock REQ peers (pyzmq, czmq) can talk to the broker.
//
// A ZeroMQ socket must only be touched by one goroutine, so a single loop
// owns it and Recv/Send talk to that loop over channels.
type ZMQRouter struct {
	zctx     *zmq.Context
	sock     *zmq.Socket
	endpoint string
	logger   log.Logger
	inbox    chan message.Multipart
	out      chan zmqSend
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

// ListenZMQ binds a ROUTER socket on addr ("tcp://*:5672" or ":5672").
func ListenZMQ(addr string, opts Options) (Socket, error) {
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	zctx, err := zmq.NewContext()
	if err != nil {
		return nil, err
	}
	sock, err := zctx.NewSocket(zmq.ROUTER)
	if err != nil {
		zctx.Term()
		return nil, err
	}
	// Report unknown identities instead of silently dropping.
	if err := sock.SetRouterMandatory(1); err != nil {
		sock.Close()
		zctx.Term()
		return nil, err
	}
	sock.SetLinger(0)

	endpoint := zmqEndpoint(addr)
	if err := sock.Bind(endpoint); err != nil {
		sock.Close()
		zctx.Term()
		return nil, err
	}

	z := &ZMQRouter{
		zctx:     zctx,
		sock:     sock,
		endpoint: endpoint,
		logger:   opts.Logger,
		inbox:    make(chan message.Multipart),
		out:      make(chan zmqSend),
		done:     make(chan struct{}),
	}
	z.wg.Add(1)
	go z.loop()
	return z, nil
}

func (z *ZMQRouter) loop() {
	defer z.wg.Done()
	defer func() {
		z.sock.Close()
		z.zctx.Term()
	}()

	poller := zmq.NewPoller()
	poller.Add(z.sock, zmq.POLLIN)

	var pending message.Multipart
	for {
		// While a message waits for a reader, keep serving sends so that
		// replies are never stuck behind an unread request.
		if pending != nil {
			select {
			case z.inbox <- pending:
				pending = nil
			case req := <-z.out:
				req.errc <- z.send(req.frames)
			case <-z.done:
				return
			}
			continue
		}

		for drained := false; !drained; {
			select {
			case req := <-z.out:
				req.errc <- z.send(req.frames)
			case <-z.done:
				return
			default:
				drained = true
			}
		}

		polled, err := poller.Poll(zmqPollInterval)
		if err != nil {
			z.logger.Warn("zmq poll failed", log.Err(err))
			continue
		}
		if len(polled) == 0 {
			continue
		}
		frames, err := z.sock.RecvMessageBytes(zmq.DONTWAIT)
		if err != nil {
			continue
		}
		pending = message.Multipart(frames)
	}
}

func (z *ZMQRouter) send(m message.Multipart) error {
	_, err := z.sock.SendMessage([][]byte(m))
	if err != nil && zmq.AsErrno(err) == zmq.Errno(syscall.EHOSTUNREACH) {
		return ErrUnroutable
	}
	return err
}

// Next only ever returns messages: ZeroMQ hides peer disconnects from
// ROUTER sockets.
func (z *ZMQRouter) Next(ctx context.Context) (Event, error) {
	m, err := z.Recv(ctx)
	if err != nil {
		return Event{}, err
	}
	return Event{Msg: m}, nil
}

func (z *ZMQRouter) Recv(ctx context.Context) (message.Multipart, error) {
	select {
	case m := <-z.inbox:
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-z.done:
		return nil, ErrClosed
	}
}

func (z *ZMQRouter) Send(m message.Multipart) error {
	if m.Len() < 2 {
		return message.ErrNotEnoughFrames
	}
	req := zmqSend{frames: m, errc: make(chan error, 1)}
	select {
	case z.out <- req:
	case <-z.done:
		return ErrClosed
	}
	select {
	case err := <-req.errc:
		return err
	case <-z.done:
		return ErrClosed
	}
}

func (z *ZMQRouter) Addr() string {
	return z.endpoint
}

func (z *ZMQRouter) Close() error {
	z.once.Do(func() { close(z.done) })
	z.wg.Wait()
	return nil
}

// zmqEndpoint turns ":5672" into "tcp://*:5672".
func zmqEndpoint(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	if strings.HasPrefix(addr, ":") {
		addr = "*" + addr
	}
	return "tcp://" + addr
}
