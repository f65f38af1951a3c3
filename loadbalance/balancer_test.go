package loadbalance

import (
	"errors"
	"fmt"
	"testing"

	"mini-broker/registry"
)

var testInstances = []registry.ServiceInstance{
	{Addr: ":5672", Weight: 10, Version: "1.0"},
	{Addr: ":6672", Weight: 5, Version: "1.0"},
	{Addr: ":7672", Weight: 10, Version: "1.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		inst, err := b.Pick(testInstances, "")
		if err != nil {
			t.Fatal(err)
		}
		results[i] = inst.Addr
	}
	if results[0] != ":5672" || results[1] != ":6672" || results[2] != ":7672" {
		t.Fatalf("expect instances in order, got %v", results)
	}

	// Pick again, should wrap around to first
	inst, _ := b.Pick(testInstances, "")
	if inst.Addr != results[0] {
		t.Fatalf("expect wrap around to %s, got %s", results[0], inst.Addr)
	}
}

func TestEmptyInstances(t *testing.T) {
	for _, b := range []Balancer{&RoundRobinBalancer{}, &WeightedRandomBalancer{}, NewConsistentHashBalancer()} {
		if _, err := b.Pick(nil, "k"); !errors.Is(err, registry.ErrNoInstances) {
			t.Fatalf("%s: expect ErrNoInstances, got %v", b.Name(), err)
		}
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick(testInstances, "")
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.Addr]++
	}

	// Weight ratio is 10:5:10, so :5672 and :7672 should be ~2x of :6672
	ratio := float64(counts[":5672"]) / float64(counts[":6672"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio :5672/:6672 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomZeroWeight(t *testing.T) {
	b := &WeightedRandomBalancer{}
	zero := []registry.ServiceInstance{{Addr: "a"}, {Addr: "b", Weight: -3}}

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		inst, err := b.Pick(zero, "")
		if err != nil {
			t.Fatal(err)
		}
		seen[inst.Addr] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Fatalf("expect both zero-weight instances picked, got %v", seen)
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()

	inst1, _ := b.Pick(testInstances, "client-123")
	inst2, _ := b.Pick(testInstances, "client-123")
	if inst1.Addr != inst2.Addr {
		t.Fatalf("same key mapped to different instances: %s vs %s", inst1.Addr, inst2.Addr)
	}

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, _ := b.Pick(testInstances, fmt.Sprintf("key-%d", i))
		seen[inst.Addr] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different instances, got %d", len(seen))
	}
}

func TestConsistentHashRebuildsOnChange(t *testing.T) {
	b := NewConsistentHashBalancer()
	first, _ := b.Pick(testInstances, "client-123")

	var rest []registry.ServiceInstance
	for _, inst := range testInstances {
		if inst.Addr != first.Addr {
			rest = append(rest, inst)
		}
	}
	moved, _ := b.Pick(rest, "client-123")
	if moved.Addr == first.Addr {
		t.Fatalf("key still mapped to removed instance %s", first.Addr)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"", "RoundRobin"},
		{"roundrobin", "RoundRobin"},
		{"weighted", "WeightedRandom"},
		{"consistenthash", "ConsistentHash"},
	}
	for _, tt := range tests {
		b, err := New(tt.name)
		if err != nil {
			t.Fatal(err)
		}
		if b.Name() != tt.want {
			t.Errorf("New(%q).Name() = %s, want %s", tt.name, b.Name(), tt.want)
		}
	}
	if _, err := New("random"); err == nil {
		t.Fatal("expect error for unknown strategy")
	}
}
