// Package client sends requests to the broker frontend over pooled REQ
// sockets. Each Request is exactly one send followed by one receive.
package client

import (
	"context"
	"errors"
	"sync"

	"mini-broker/loadbalance"
	"mini-broker/log"
	"mini-broker/message"
	"mini-broker/middleware"
	"mini-broker/registry"
	"mini-broker/transport"
)

var ErrClosed = errors.New("client: closed")

type Options struct {
	Transport transport.Options
	// PoolSize bounds the REQ sockets per broker endpoint.
	PoolSize int
	// Middlewares wrap every call, outermost first.
	Middlewares []middleware.Middleware
	// Rate caps calls per second ahead of the middlewares; 0 is unlimited.
	// Calls over the limit fail with middleware.ErrRateLimited.
	Rate  float64
	Burst int
}

type Client struct {
	registry registry.Registry // frontend endpoints
	balancer loadbalance.Balancer
	opts     Options
	logger   log.Logger
	handler  middleware.HandlerFunc

	mu     sync.Mutex
	pools  map[string]*transport.Pool // endpoint → sockets
	closed bool
}

func NewClient(reg registry.Registry, bal loadbalance.Balancer, opts Options, logger log.Logger) *Client {
	if bal == nil {
		bal = &loadbalance.RoundRobinBalancer{}
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = 1
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	c := &Client{
		registry: reg,
		balancer: bal,
		opts:     opts,
		logger:   logger,
		pools:    make(map[string]*transport.Pool),
	}
	chain := opts.Middlewares
	if opts.Rate > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		chain = append([]middleware.Middleware{middleware.RateLimitMiddleware(opts.Rate, burst)}, chain...)
	}
	c.handler = middleware.Chain(chain...)(c.call)
	return c
}

// Request sends payload and returns the reply frames.
func (c *Client) Request(ctx context.Context, payload []byte) (message.Multipart, error) {
	return c.Do(ctx, &message.Request{Payload: payload})
}

// Do sends req through the middleware chain.
func (c *Client) Do(ctx context.Context, req *message.Request) (message.Multipart, error) {
	resp := c.handler(ctx, req)
	return resp.Frames, resp.Err
}

// call is the innermost handler: pick an endpoint, borrow a socket, do one
// request/reply.
func (c *Client) call(ctx context.Context, req *message.Request) *message.Response {
	instances, err := c.registry.Discover(ctx, registry.ServiceFrontend)
	if err != nil {
		return &message.Response{Err: err}
	}
	instance, err := c.balancer.Pick(instances, req.AffinityKey)
	if err != nil {
		return &message.Response{Err: err}
	}

	pool, err := c.pool(instance.Addr)
	if err != nil {
		return &message.Response{Err: err}
	}
	sock, err := pool.Get(ctx)
	if err != nil {
		return &message.Response{Err: err}
	}
	defer pool.Put(sock)

	frames, err := sock.Request(ctx, req.Payload)
	if err != nil {
		return &message.Response{Err: err}
	}
	return &message.Response{Frames: frames}
}

func (c *Client) pool(addr string) (*transport.Pool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	p, ok := c.pools[addr]
	if !ok {
		opts := c.opts.Transport
		p = transport.NewPool(c.opts.PoolSize, func(ctx context.Context) (*transport.ReqSocket, error) {
			return transport.DialReq(ctx, addr, opts)
		})
		c.pools[addr] = p
		c.logger.Debug("new endpoint pool", log.String("addr", addr), log.Int("size", c.opts.PoolSize))
	}
	return p, nil
}

// Close closes every pooled socket. Sockets still in use are closed when
// their request ends.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for addr, p := range c.pools {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(c.pools, addr)
	}
	return errors.Join(errs...)
}
