// Package loadbalance picks the broker endpoint a client or worker talks to
// when the registry returns more than one.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity brokers
//   - WeightedRandom:  brokers of different capacity
//   - ConsistentHash:  pin an affinity key to one broker
package loadbalance

import (
	"fmt"

	"mini-broker/registry"
)

// Balancer selects one instance per call. Implementations are goroutine-safe.
type Balancer interface {
	// Pick selects one instance from the available list. key is the
	// affinity key of the call and may be empty.
	Pick(instances []registry.ServiceInstance, key string) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer registered under name.
func New(name string) (Balancer, error) {
	switch name {
	case "", "roundrobin":
		return &RoundRobinBalancer{}, nil
	case "weighted":
		return &WeightedRandomBalancer{}, nil
	case "consistenthash":
		return NewConsistentHashBalancer(), nil
	}
	return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
}
