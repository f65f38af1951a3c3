package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"mini-broker/lifecycle"
	"mini-broker/message"
	"mini-broker/registry"
	"mini-broker/transport"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FrontendAddr = "127.0.0.1:0"
	cfg.BackendAddr = "127.0.0.1:0"
	cfg.Transport = transport.Options{}
	return cfg
}

func startBroker(t *testing.T, mutate func(*Config)) *Broker {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	b := New(cfg, nil)
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Stop(time.Second) })
	return b
}

func dialReq(t *testing.T, addr string) *transport.ReqSocket {
	t.Helper()
	s, err := transport.DialReq(context.Background(), addr, transport.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func eventually(t *testing.T, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf(format, args...)
}

func recv(t *testing.T, s *transport.ReqSocket) message.Multipart {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m, err := s.Recv(ctx)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

// readyWorker connects a worker and waits until the broker queued it.
func readyWorker(t *testing.T, b *Broker) *transport.ReqSocket {
	t.Helper()
	want := b.Stats().WorkersSeen + 1
	w := dialReq(t, b.BackendAddr())
	if err := w.Send(message.ReadyPayload); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return b.Stats().WorkersSeen == want }, "worker never became ready")
	return w
}

func TestBrokerRoutesRequest(t *testing.T) {
	b := startBroker(t, nil)
	w := readyWorker(t, b)
	c := dialReq(t, b.FrontendAddr())

	if err := c.Send([]byte("Hello World")); err != nil {
		t.Fatal(err)
	}

	work := recv(t, w)
	if work.Len() != 2 || string(work[1]) != "Hello World" {
		t.Fatalf("worker got %s", work)
	}
	if err := w.Send(work[0], []byte("Worker Result:1")); err != nil {
		t.Fatal(err)
	}

	reply := recv(t, c)
	want := message.NewMultipart([]byte("Worker Result:1"))
	if !reply.Equal(want) {
		t.Fatalf("expect %s, got %s", want, reply)
	}

	eventually(t, func() bool {
		st := b.Stats()
		return st.ReadyWorkers == 1 && st.RepliesSent == 1
	}, "worker not ready after reply")
	st := b.Stats()
	if st.RequestsReceived != 1 || st.WorkersSeen != 1 || st.Dropped != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestBrokerLeastRecentlyReadyFirst(t *testing.T) {
	b := startBroker(t, nil)
	w1 := readyWorker(t, b)
	w2 := readyWorker(t, b)

	c1 := dialReq(t, b.FrontendAddr())
	c1.Send([]byte("first"))
	if m := recv(t, w1); string(m[1]) != "first" {
		t.Fatalf("w1 got %s", m)
	}

	c2 := dialReq(t, b.FrontendAddr())
	c2.Send([]byte("second"))
	if m := recv(t, w2); string(m[1]) != "second" {
		t.Fatalf("w2 got %s", m)
	}

	if st := b.Stats(); st.BusyWorkers != 2 || st.ReadyWorkers != 0 {
		t.Fatalf("expect 2 busy workers, got %+v", st)
	}
}

func TestBrokerHoldsRequestsUntilWorkerReady(t *testing.T) {
	b := startBroker(t, nil)
	c := dialReq(t, b.FrontendAddr())
	c.Send([]byte("Hello World"))

	time.Sleep(100 * time.Millisecond)
	if st := b.Stats(); st.RequestsReceived != 0 {
		t.Fatalf("request dispatched without workers: %+v", st)
	}

	w := readyWorker(t, b)
	work := recv(t, w)
	if string(work[1]) != "Hello World" {
		t.Fatalf("worker got %s", work)
	}
}

func TestBrokerDropsMalformedMessages(t *testing.T) {
	b := startBroker(t, nil)
	readyWorker(t, b)

	raw, err := transport.Dial(context.Background(), b.FrontendAddr(), transport.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()

	bad := []message.Multipart{
		message.NewMultipart([]byte("not-empty"), []byte("body")),
		message.NewMultipart([]byte{}, []byte("a"), []byte("b")),
		message.NewMultipart([]byte{}),
	}
	for _, m := range bad {
		if err := raw.Send(m); err != nil {
			t.Fatal(err)
		}
	}

	eventually(t, func() bool { return b.Stats().Dropped == uint64(len(bad)) }, "expected %d drops, got %+v", len(bad), b.Stats())
	if st := b.Stats(); st.ReadyWorkers != 1 {
		t.Fatalf("worker consumed by malformed message: %+v", st)
	}
}

func TestBrokerDropsMalformedWorkerMessage(t *testing.T) {
	b := startBroker(t, nil)

	raw, err := transport.Dial(context.Background(), b.BackendAddr(), transport.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()

	raw.Send(message.NewMultipart([]byte("x"), []byte("READY")))
	eventually(t, func() bool { return b.Stats().Dropped == 1 }, "malformed READY not dropped")
	if st := b.Stats(); st.ReadyWorkers != 0 {
		t.Fatalf("malformed READY registered a worker: %+v", st)
	}
}

func TestBrokerRedeliversOnWorkerLoss(t *testing.T) {
	b := startBroker(t, func(c *Config) { c.MaxRedeliveries = 1 })
	w1 := readyWorker(t, b)
	w2 := readyWorker(t, b)

	c := dialReq(t, b.FrontendAddr())
	c.Send([]byte("Hello World"))

	if m := recv(t, w1); string(m[1]) != "Hello World" {
		t.Fatalf("w1 got %s", m)
	}
	w1.Close()

	work := recv(t, w2)
	if string(work[1]) != "Hello World" {
		t.Fatalf("w2 got %s", work)
	}
	w2.Send(work[0], []byte("Worker Result:1"))

	if reply := recv(t, c); string(reply[0]) != "Worker Result:1" {
		t.Fatalf("client got %s", reply)
	}
	if st := b.Stats(); st.Redelivered != 1 {
		t.Fatalf("expect 1 redelivery, got %+v", st)
	}
}

// A worker that replies and hangs up straight away must not get its
// answered request handed to the next worker.
func TestBrokerDoesNotRedeliverAnsweredRequest(t *testing.T) {
	for i := 0; i < 20; i++ {
		b := startBroker(t, func(c *Config) { c.MaxRedeliveries = 1 })
		w1 := readyWorker(t, b)

		c := dialReq(t, b.FrontendAddr())
		c.Send([]byte("Hello World"))
		work := recv(t, w1)
		if err := w1.Send(work[0], []byte("Worker Result:1")); err != nil {
			t.Fatal(err)
		}
		w1.Close()

		if reply := recv(t, c); string(reply[0]) != "Worker Result:1" {
			t.Fatalf("trial %d: client got %s", i, reply)
		}
		eventually(t, func() bool { return b.Stats().ReadyWorkers == 0 }, "trial %d: closed worker still ready", i)

		w2 := readyWorker(t, b)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		m, err := w2.Recv(ctx)
		cancel()
		if err == nil {
			t.Fatalf("trial %d: answered request sent again: %s", i, m)
		}
		if st := b.Stats(); st.Redelivered != 0 || st.PendingRedelivery != 0 || st.RepliesSent != 1 {
			t.Fatalf("trial %d: unexpected stats %+v", i, st)
		}
		b.Stop(time.Second)
	}
}

func TestBrokerRedeliversWhenWorkerRestartsMidRequest(t *testing.T) {
	b := startBroker(t, func(c *Config) { c.MaxRedeliveries = 1 })
	w1 := readyWorker(t, b)
	w2 := readyWorker(t, b)

	c := dialReq(t, b.FrontendAddr())
	c.Send([]byte("Hello World"))
	if m := recv(t, w1); string(m[1]) != "Hello World" {
		t.Fatalf("w1 got %s", m)
	}
	// READY instead of an answer.
	if err := w1.Send(message.ReadyPayload); err != nil {
		t.Fatal(err)
	}

	work := recv(t, w2)
	if string(work[1]) != "Hello World" {
		t.Fatalf("w2 got %s", work)
	}
	w2.Send(work[0], []byte("Worker Result:1"))
	if reply := recv(t, c); string(reply[0]) != "Worker Result:1" {
		t.Fatalf("client got %s", reply)
	}
	if st := b.Stats(); st.Redelivered != 1 || st.Dropped != 0 {
		t.Fatalf("expect 1 redelivery, got %+v", st)
	}
}

func TestBrokerDropsAfterMaxRedeliveries(t *testing.T) {
	b := startBroker(t, func(c *Config) { c.MaxRedeliveries = 0 })
	w := readyWorker(t, b)

	c := dialReq(t, b.FrontendAddr())
	c.Send([]byte("Hello World"))
	recv(t, w)
	w.Close()

	eventually(t, func() bool { return b.Stats().Dropped == 1 }, "request not dropped: %+v", b.Stats())
	if st := b.Stats(); st.Redelivered != 0 || st.PendingRedelivery != 0 || st.BusyWorkers != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestBrokerDropsReplyForGoneClient(t *testing.T) {
	b := startBroker(t, nil)
	w := readyWorker(t, b)

	c := dialReq(t, b.FrontendAddr())
	c.Send([]byte("Hello World"))
	work := recv(t, w)
	c.Close()
	time.Sleep(100 * time.Millisecond)

	w.Send(work[0], []byte("Worker Result:1"))
	eventually(t, func() bool { return b.Stats().Dropped == 1 }, "reply to gone client not dropped")
	eventually(t, func() bool { return b.Stats().ReadyWorkers == 1 }, "worker not ready again")
}

func TestBrokerLifecycle(t *testing.T) {
	b := New(testConfig(), nil)
	if err := b.Stop(time.Second); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expect ErrNotRunning, got %v", err)
	}
	if b.Status() != lifecycle.StateStopped {
		t.Fatalf("initial state %s", b.Status())
	}

	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if b.Status() != lifecycle.StateRunning {
		t.Fatalf("state after start %s", b.Status())
	}
	if err := b.Start(context.Background()); !errors.Is(err, lifecycle.ErrAlreadyRunning) {
		t.Fatalf("expect ErrAlreadyRunning, got %v", err)
	}

	if err := b.Stop(time.Second); err != nil {
		t.Fatal(err)
	}
	if b.Status() != lifecycle.StateStopped {
		t.Fatalf("state after stop %s", b.Status())
	}

	// A stopped broker can start again.
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := b.Stop(time.Second); err != nil {
		t.Fatal(err)
	}
}

func TestBrokerStartFailsOnBusyPort(t *testing.T) {
	first := startBroker(t, nil)

	cfg := testConfig()
	cfg.BackendAddr = first.BackendAddr()
	b := New(cfg, nil)
	if err := b.Start(context.Background()); err == nil {
		b.Stop(time.Second)
		t.Fatal("expect bind error")
	}
	if b.Status() != lifecycle.StateCrashed {
		t.Fatalf("expect Crashed, got %s", b.Status())
	}
}

func TestBrokerRegistersEndpoints(t *testing.T) {
	reg := registry.NewStaticRegistry()
	b := New(func() Config {
		cfg := testConfig()
		cfg.Registry = reg
		return cfg
	}(), nil)
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	for service, addr := range map[string]string{
		registry.ServiceFrontend: b.FrontendAddr(),
		registry.ServiceBackend:  b.BackendAddr(),
	} {
		list, _ := reg.Discover(ctx, service)
		if len(list) != 1 || list[0].Addr != addr {
			t.Fatalf("%s: expect [%s], got %+v", service, addr, list)
		}
	}

	if err := b.Stop(time.Second); err != nil {
		t.Fatal(err)
	}
	if list, _ := reg.Discover(ctx, registry.ServiceFrontend); len(list) != 0 {
		t.Fatalf("frontend still registered after stop: %+v", list)
	}
}

func TestAdvertise(t *testing.T) {
	tests := []struct {
		addr, host, want string
	}{
		{"127.0.0.1:5672", "10.0.0.1", "127.0.0.1:5672"},
		{"[::]:5672", "10.0.0.1", "10.0.0.1:5672"},
		{"0.0.0.0:5673", "", "127.0.0.1:5673"},
		{":5672", "broker.local", "broker.local:5672"},
		{"not-an-addr", "x", "not-an-addr"},
	}
	for _, tt := range tests {
		if got := advertise(tt.addr, tt.host); got != tt.want {
			t.Errorf("advertise(%q, %q) = %s, want %s", tt.addr, tt.host, got, tt.want)
		}
	}
}

func TestSetFrontendRate(t *testing.T) {
	b := New(testConfig(), nil)
	b.SetFrontendRate(5, 0)
	if b.limiter.Limit() != 5 || b.limiter.Burst() != 1 {
		t.Fatalf("limit=%v burst=%d", b.limiter.Limit(), b.limiter.Burst())
	}
	b.SetFrontendRate(0, 3)
	if b.limiter.Burst() != 3 || b.limiter.Limit() != limitOf(0) {
		t.Fatalf("limit=%v burst=%d", b.limiter.Limit(), b.limiter.Burst())
	}
}
