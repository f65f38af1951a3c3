// Package broker is the load-balancing message broker that sits between
// REQ clients and REQ workers.
//
// Clients connect to the frontend ROUTER, workers to the backend ROUTER.
// A worker announces itself with READY and is then handed one request at a
// time, least recently ready worker first:
//
//	client  [ "", body ]                    ─▶ frontend ─▶ [ client, "", body ]
//	backend [ worker, "", client, body ]    ─▶ worker
//	worker  [ "", client, result ]          ─▶ backend  ─▶ [ worker, "", client, result ]
//	client  [ "", result ]                  ◀─ frontend ◀─ [ client, "", result ]
//
// The frontend is only read while a worker is ready. Until then the broker
// holds at most one request per connected client and the rest wait in the
// clients' sockets.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"mini-broker/lifecycle"
	"mini-broker/log"
	"mini-broker/message"
	"mini-broker/registry"
	"mini-broker/router"
	"mini-broker/transport"
)

// Config holds everything a Broker needs.
type Config struct {
	FrontendAddr string
	BackendAddr  string
	// SocketKind selects the ROUTER implementation: "tcp" or "zmq".
	SocketKind string
	Transport  transport.Options

	// MaxRedeliveries bounds how often a request is re-dispatched after its
	// worker disconnected. 0 disables redelivery.
	MaxRedeliveries int

	// FrontendRate limits admitted requests per second; 0 means unlimited.
	FrontendRate  float64
	FrontendBurst int

	// AdminAddr is the admin HTTP listen address; empty disables it.
	AdminAddr string

	// Registry, when set, receives the frontend and backend endpoints.
	Registry      registry.Registry
	RegistryTTL   int64
	AdvertiseHost string
}

// DefaultConfig mirrors the classic ports: 5672 for clients, 5673 for workers.
func DefaultConfig() Config {
	return Config{
		FrontendAddr:    "tcp://*:5672",
		BackendAddr:     "tcp://*:5673",
		SocketKind:      "tcp",
		Transport:       transport.DefaultOptions(),
		MaxRedeliveries: 1,
		FrontendBurst:   1,
		RegistryTTL:     10,
		AdvertiseHost:   "127.0.0.1",
	}
}

type endpoint struct {
	service string
	addr    string
}

// job is a client request waiting for or assigned to a worker.
type job struct {
	client   []byte
	body     []byte
	attempts int
}

// Broker routes client requests to ready workers.
type Broker struct {
	cfg     Config
	logger  log.Logger
	lc      *lifecycle.Manager
	limiter *rate.Limiter

	frontend router.Socket
	backend  router.Socket
	admin    *http.Server
	adminLn  net.Listener

	frontendCh chan message.Multipart
	backendCh  chan router.Event

	mu         sync.Mutex
	queue      *workerQueue
	inflight   map[string]*job // worker identity → job
	redeliver  []*job
	registered []endpoint // deregistered on Stop

	stats counters
}

type counters struct {
	received    atomic.Uint64
	replied     atomic.Uint64
	dropped     atomic.Uint64
	redelivered atomic.Uint64
	workersSeen atomic.Uint64
}

var (
	ErrNotRunning = errors.New("broker: not running")
)

// backendInboxSize buffers worker messages. The frontend inbox stays
// unbuffered so requests are not pulled off client sockets early.
const backendInboxSize = 64

func New(cfg Config, logger log.Logger) *Broker {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Broker{
		cfg:      cfg,
		logger:   logger,
		lc:       lifecycle.NewManager(logger),
		limiter:  rate.NewLimiter(limitOf(cfg.FrontendRate), burstOf(cfg.FrontendBurst)),
		queue:    newWorkerQueue(),
		inflight: make(map[string]*job),
	}
}

func limitOf(r float64) rate.Limit {
	if r <= 0 {
		return rate.Inf
	}
	return rate.Limit(r)
}

func burstOf(b int) int {
	if b < 1 {
		return 1
	}
	return b
}

// Start binds both ROUTER sockets, the admin server, registers the
// endpoints and starts dispatching. It returns once the broker is Running.
func (b *Broker) Start(ctx context.Context) error {
	if !b.lc.CanStart() {
		return lifecycle.ErrAlreadyRunning
	}
	if err := b.lc.TransitionTo(lifecycle.StateStarting, "start requested"); err != nil {
		return err
	}
	if err := b.start(ctx); err != nil {
		b.deregister()
		b.closeSockets()
		if b.adminLn != nil {
			b.adminLn.Close()
		}
		b.lc.TransitionTo(lifecycle.StateCrashed, err.Error())
		return err
	}
	return b.lc.TransitionTo(lifecycle.StateRunning, "sockets bound")
}

func (b *Broker) start(ctx context.Context) error {
	opts := router.Options{Transport: b.cfg.Transport, Logger: b.logger}

	var err error
	b.frontend, err = router.Bind(b.cfg.SocketKind, b.cfg.FrontendAddr, opts)
	if err != nil {
		return fmt.Errorf("bind frontend %s: %w", b.cfg.FrontendAddr, err)
	}
	opts.InboxSize = backendInboxSize
	b.backend, err = router.Bind(b.cfg.SocketKind, b.cfg.BackendAddr, opts)
	if err != nil {
		return fmt.Errorf("bind backend %s: %w", b.cfg.BackendAddr, err)
	}
	b.logger.Info("broker listening",
		log.String("frontend", b.frontend.Addr()),
		log.String("backend", b.backend.Addr()),
		log.String("kind", b.cfg.SocketKind),
	)

	if b.cfg.AdminAddr != "" {
		b.adminLn, err = net.Listen("tcp", b.cfg.AdminAddr)
		if err != nil {
			return fmt.Errorf("bind admin %s: %w", b.cfg.AdminAddr, err)
		}
		b.admin = &http.Server{Handler: b.adminHandler(), ReadHeaderTimeout: 5 * time.Second}
	}

	if err := b.register(ctx); err != nil {
		return fmt.Errorf("register endpoints: %w", err)
	}

	b.frontendCh = make(chan message.Multipart)
	b.backendCh = make(chan router.Event)

	runCtx, cancel := context.WithCancel(context.Background())
	b.lc.SetCancel(cancel)
	b.lc.Go(func() { b.readFrontend(runCtx) })
	b.lc.Go(func() { b.readBackend(runCtx) })
	b.lc.Go(func() { b.dispatch(runCtx) })
	if b.admin != nil {
		srv, ln := b.admin, b.adminLn
		b.lc.Go(func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				b.logger.Error("admin server failed", log.Err(err))
			}
		})
		b.logger.Info("admin listening", log.String("addr", ln.Addr().String()))
	}
	return nil
}

func (b *Broker) register(ctx context.Context) error {
	if b.cfg.Registry == nil {
		return nil
	}
	endpoints := []endpoint{
		{registry.ServiceFrontend, advertise(b.frontend.Addr(), b.cfg.AdvertiseHost)},
		{registry.ServiceBackend, advertise(b.backend.Addr(), b.cfg.AdvertiseHost)},
	}
	for _, ep := range endpoints {
		inst := registry.ServiceInstance{Addr: ep.addr, Weight: 1, Version: "1"}
		if err := b.cfg.Registry.Register(ctx, ep.service, inst, b.cfg.RegistryTTL); err != nil {
			return err
		}
		b.mu.Lock()
		b.registered = append(b.registered, ep)
		b.mu.Unlock()
		b.logger.Info("registered endpoint", log.String("service", ep.service), log.String("addr", ep.addr))
	}
	return nil
}

func (b *Broker) deregister() {
	b.mu.Lock()
	registered := b.registered
	b.registered = nil
	b.mu.Unlock()
	if b.cfg.Registry == nil || len(registered) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, ep := range registered {
		if err := b.cfg.Registry.Deregister(ctx, ep.service, ep.addr); err != nil {
			b.logger.Warn("deregister failed", log.String("service", ep.service), log.Err(err))
		}
	}
}

// advertise replaces an unspecified listen host with host.
func advertise(addr, host string) string {
	h, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if ip := net.ParseIP(h); h == "" || h == "*" || (ip != nil && ip.IsUnspecified()) {
		if host == "" {
			host = "127.0.0.1"
		}
		h = host
	}
	return net.JoinHostPort(h, port)
}

// Stop deregisters, closes the sockets and waits up to timeout for the
// broker goroutines. Pending requests are dropped.
func (b *Broker) Stop(timeout time.Duration) error {
	if !b.lc.CanStop() {
		return ErrNotRunning
	}
	if err := b.lc.TransitionTo(lifecycle.StateStopping, "stop requested"); err != nil {
		return err
	}

	b.deregister()
	b.lc.Cancel()
	b.closeSockets()
	if b.admin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		b.admin.Shutdown(ctx)
		cancel()
	}

	if err := b.lc.WaitWithTimeout(timeout); err != nil {
		b.lc.TransitionTo(lifecycle.StateCrashed, err.Error())
		return err
	}
	return b.lc.TransitionTo(lifecycle.StateStopped, "stopped")
}

func (b *Broker) closeSockets() {
	if b.frontend != nil {
		b.frontend.Close()
	}
	if b.backend != nil {
		b.backend.Close()
	}
}

// Status returns the lifecycle state.
func (b *Broker) Status() lifecycle.State {
	return b.lc.State()
}

// FrontendAddr returns the bound frontend address, once started.
func (b *Broker) FrontendAddr() string {
	if b.frontend == nil {
		return ""
	}
	return b.frontend.Addr()
}

// BackendAddr returns the bound backend address, once started.
func (b *Broker) BackendAddr() string {
	if b.backend == nil {
		return ""
	}
	return b.backend.Addr()
}

// AdminAddr returns the bound admin address, or "" when disabled.
func (b *Broker) AdminAddr() string {
	if b.adminLn == nil {
		return ""
	}
	return b.adminLn.Addr().String()
}

// SetFrontendRate changes the admission rate of a running broker.
func (b *Broker) SetFrontendRate(r float64, burst int) {
	b.limiter.SetBurst(burstOf(burst))
	b.limiter.SetLimit(limitOf(r))
	b.logger.Info("frontend rate changed", log.Any("rate", r), log.Int("burst", burstOf(burst)))
}
