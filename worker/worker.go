// Package worker implements the REQ side of the backend: connect, announce
// READY, then answer one request at a time forever.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"mini-broker/lifecycle"
	"mini-broker/loadbalance"
	"mini-broker/log"
	"mini-broker/message"
	"mini-broker/registry"
	"mini-broker/transport"
)

// Handler turns a request body into a result.
type Handler func(ctx context.Context, request []byte) ([]byte, error)

// CounterHandler answers "Worker Result:1", "Worker Result:2", ... no matter
// what the request says.
func CounterHandler() Handler {
	var index atomic.Int64
	return func(context.Context, []byte) ([]byte, error) {
		return []byte(fmt.Sprintf("Worker Result:%d", index.Add(1))), nil
	}
}

type Config struct {
	// BackendAddr is used when Registry is nil.
	BackendAddr string
	Registry    registry.Registry
	Balancer    loadbalance.Balancer
	Transport   transport.Options

	// Interval is the pause after every reply.
	Interval time.Duration
	// MaxRequests stops Run after that many replies; 0 runs forever.
	MaxRequests int

	ReconnectInitial time.Duration
	ReconnectMax     time.Duration

	// Out, when set, receives one "Result:<message>" line per request.
	Out io.Writer
}

func DefaultConfig() Config {
	return Config{
		BackendAddr:      "tcp://127.0.0.1:5673",
		Transport:        transport.DefaultOptions(),
		Interval:         time.Second,
		ReconnectInitial: 100 * time.Millisecond,
		ReconnectMax:     10 * time.Second,
	}
}

type Worker struct {
	cfg     Config
	handler Handler
	logger  log.Logger
	served  atomic.Int64
}

var errQuota = errors.New("worker: request quota reached")

func New(cfg Config, handler Handler, logger log.Logger) *Worker {
	if handler == nil {
		handler = CounterHandler()
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	if cfg.Balancer == nil {
		cfg.Balancer = &loadbalance.RoundRobinBalancer{}
	}
	if cfg.ReconnectInitial <= 0 {
		cfg.ReconnectInitial = 100 * time.Millisecond
	}
	if cfg.ReconnectMax < cfg.ReconnectInitial {
		cfg.ReconnectMax = cfg.ReconnectInitial
	}
	return &Worker{cfg: cfg, handler: handler, logger: logger}
}

// Served returns the number of replies sent so far.
func (w *Worker) Served() int {
	return int(w.served.Load())
}

// Run serves requests until ctx is cancelled, reconnecting with backoff
// whenever the broker goes away. It returns nil once MaxRequests replies
// were sent and ctx.Err() otherwise.
func (w *Worker) Run(ctx context.Context) error {
	backoff := lifecycle.NewBackoff(w.cfg.ReconnectInitial, w.cfg.ReconnectMax)

	for {
		err := w.session(ctx, backoff)
		if errors.Is(err, errQuota) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		w.logger.Warn("broker connection lost",
			log.Err(err),
			log.Duration("retry_in", backoff.Current()),
		)
		if err := backoff.Wait(ctx); err != nil {
			return err
		}
	}
}

// session runs one connection: READY, then request/reply until failure.
func (w *Worker) session(ctx context.Context, backoff *lifecycle.Backoff) error {
	addr, err := w.resolve(ctx)
	if err != nil {
		return err
	}
	sock, err := transport.DialReq(ctx, addr, w.cfg.Transport)
	if err != nil {
		return err
	}
	defer sock.Close()

	if err := sock.Send(message.ReadyPayload); err != nil {
		return err
	}
	backoff.Reset()
	w.logger.Info("worker ready", log.String("backend", addr))

	for {
		w.logger.Debug("Message was sent")
		m, err := sock.Recv(ctx)
		if err != nil {
			return err
		}
		w.logger.Info("received", log.String("message", m.String()))
		if w.cfg.Out != nil {
			fmt.Fprintf(w.cfg.Out, "Result:%s\n", m)
		}

		reply, err := w.process(ctx, m)
		if err != nil {
			return err
		}
		if err := sock.Send(reply...); err != nil {
			return err
		}

		if n := w.served.Add(1); w.cfg.MaxRequests > 0 && int(n) >= w.cfg.MaxRequests {
			return errQuota
		}
		if err := sleep(ctx, w.cfg.Interval); err != nil {
			return err
		}
	}
}

// process builds [frame0, result] for a request [frame0, body].
func (w *Worker) process(ctx context.Context, m message.Multipart) (message.Multipart, error) {
	envelope, err := m.Front()
	if err != nil {
		return nil, err
	}
	var body []byte
	if m.Len() > 1 {
		body = m[1]
	}

	result, err := w.handler(ctx, body)
	if err != nil {
		w.logger.Warn("handler failed", log.Err(err))
		result = []byte("Worker Error:" + err.Error())
	}
	return message.NewMultipart(envelope, result), nil
}

func (w *Worker) resolve(ctx context.Context) (string, error) {
	if w.cfg.Registry == nil {
		return w.cfg.BackendAddr, nil
	}
	instances, err := w.cfg.Registry.Discover(ctx, registry.ServiceBackend)
	if err != nil {
		return "", err
	}
	inst, err := w.cfg.Balancer.Pick(instances, "")
	if err != nil {
		return "", err
	}
	return inst.Addr, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
