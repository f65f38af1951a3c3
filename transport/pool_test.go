package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func countingDialer(t *testing.T, addr string, dials *int32) Dialer {
	return func(ctx context.Context) (*ReqSocket, error) {
		atomic.AddInt32(dials, 1)
		return DialReq(ctx, addr, Options{})
	}
}

func TestPoolReuse(t *testing.T) {
	addr := startEcho(t, Options{}, echo)
	var dials int32
	p := NewPool(2, countingDialer(t, addr, &dials))
	defer p.Close()

	s1, err := p.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	p.Put(s1)
	s2, err := p.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Fatal("expect the idle socket to be reused")
	}
	p.Put(s2)

	if atomic.LoadInt32(&dials) != 1 {
		t.Fatalf("expect 1 dial, got %d", dials)
	}
	if p.Size() != 1 {
		t.Fatalf("expect pool size 1, got %d", p.Size())
	}
}

func TestPoolBlocksAtCapacity(t *testing.T) {
	addr := startEcho(t, Options{}, echo)
	var dials int32
	p := NewPool(1, countingDialer(t, addr, &dials))
	defer p.Close()

	s, err := p.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Get(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expect context.DeadlineExceeded at capacity, got %v", err)
	}

	// A Put hands the socket to a waiting Get.
	got := make(chan *ReqSocket, 1)
	go func() {
		s2, err := p.Get(context.Background())
		if err != nil {
			t.Errorf("get after put: %v", err)
		}
		got <- s2
	}()
	time.Sleep(20 * time.Millisecond)
	p.Put(s)
	if s2 := <-got; s2 != s {
		t.Fatal("expect waiting Get to receive the returned socket")
	}
}

func TestPoolReplacesBrokenSocket(t *testing.T) {
	addr := startEcho(t, Options{}, echo)
	var dials int32
	p := NewPool(1, countingDialer(t, addr, &dials))
	defer p.Close()

	s, err := p.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	s.broken = true
	p.Put(s)
	if p.Size() != 0 {
		t.Fatalf("expect broken socket to free its slot, size %d", p.Size())
	}

	s2, err := p.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s2 == s {
		t.Fatal("expect a fresh socket")
	}
	if atomic.LoadInt32(&dials) != 2 {
		t.Fatalf("expect 2 dials, got %d", dials)
	}
	p.Put(s2)
}

func TestPoolClosed(t *testing.T) {
	p := NewPool(1, func(ctx context.Context) (*ReqSocket, error) {
		return nil, errors.New("unused")
	})
	p.Close()
	if _, err := p.Get(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expect ErrPoolClosed, got %v", err)
	}
}
