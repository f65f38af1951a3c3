package registry

import (
	"context"
	"sync"
)

// StaticRegistry keeps instances in memory. It serves fixed addresses from
// configuration and stands in for etcd in tests.
type StaticRegistry struct {
	mu       sync.Mutex
	services map[string][]ServiceInstance
	watchers map[string][]chan []ServiceInstance
}

func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{
		services: make(map[string][]ServiceInstance),
		watchers: make(map[string][]chan []ServiceInstance),
	}
}

// NewStaticRegistryWith seeds serviceName with the given addresses, weight 1.
func NewStaticRegistryWith(serviceName string, addrs ...string) *StaticRegistry {
	r := NewStaticRegistry()
	for _, addr := range addrs {
		r.services[serviceName] = append(r.services[serviceName], ServiceInstance{Addr: addr, Weight: 1})
	}
	return r
}

// Register adds or replaces an instance. ttl is ignored.
func (r *StaticRegistry) Register(_ context.Context, serviceName string, instance ServiceInstance, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.services[serviceName]
	for i := range list {
		if list[i].Addr == instance.Addr {
			list[i] = instance
			r.notifyLocked(serviceName)
			return nil
		}
	}
	r.services[serviceName] = append(list, instance)
	r.notifyLocked(serviceName)
	return nil
}

func (r *StaticRegistry) Deregister(_ context.Context, serviceName string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.services[serviceName]
	for i := range list {
		if list[i].Addr == addr {
			r.services[serviceName] = append(list[:i:i], list[i+1:]...)
			r.notifyLocked(serviceName)
			return nil
		}
	}
	return nil
}

func (r *StaticRegistry) Discover(_ context.Context, serviceName string) ([]ServiceInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ServiceInstance(nil), r.services[serviceName]...), nil
}

// Watch emits the current list immediately and again after every change.
// A slow reader only ever sees the latest list.
func (r *StaticRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)

	r.mu.Lock()
	r.watchers[serviceName] = append(r.watchers[serviceName], ch)
	ch <- append([]ServiceInstance(nil), r.services[serviceName]...)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		list := r.watchers[serviceName]
		for i, w := range list {
			if w == ch {
				r.watchers[serviceName] = append(list[:i:i], list[i+1:]...)
				close(ch)
				break
			}
		}
	}()
	return ch
}

func (r *StaticRegistry) notifyLocked(serviceName string) {
	snapshot := r.services[serviceName]
	for _, ch := range r.watchers[serviceName] {
		// Drop the stale list, if any, then push the new one.
		select {
		case <-ch:
		default:
		}
		ch <- append([]ServiceInstance(nil), snapshot...)
	}
}

func (r *StaticRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, list := range r.watchers {
		for _, ch := range list {
			close(ch)
		}
		delete(r.watchers, name)
	}
	return nil
}
