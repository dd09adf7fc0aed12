package loadbalance

import (
	"errors"
	"fmt"
	"testing"

	"duplex-rpc/registry"
)

var testInstances = []registry.ServiceInstance{
	{Addr: ":8001", Weight: 10, Version: "1.0"},
	{Addr: ":8002", Weight: 5, Version: "1.0"},
	{Addr: ":8003", Weight: 10, Version: "1.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	// Pick 3 times, should cycle through all instances
	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		inst, err := b.Pick("", testInstances)
		if err != nil {
			t.Fatal(err)
		}
		results[i] = inst.Addr
	}
	if results[0] != ":8001" || results[1] != ":8002" || results[2] != ":8003" {
		t.Fatalf("unexpected order %v", results)
	}

	// Pick again, should wrap around to first
	inst, _ := b.Pick("", testInstances)
	if inst.Addr != results[0] {
		t.Fatalf("expect wrap around to %s, got %s", results[0], inst.Addr)
	}
}

func TestEmptyInstances(t *testing.T) {
	for _, b := range []Balancer{&RoundRobinBalancer{}, &WeightedRandomBalancer{}, NewConsistentHashBalancer()} {
		if _, err := b.Pick("k", nil); !errors.Is(err, ErrNoInstances) {
			t.Fatalf("%s: expect ErrNoInstances, got %v", b.Name(), err)
		}
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick("", testInstances)
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.Addr]++
	}

	// Weight ratio is 10:5:10, so :8001 and :8003 should be ~2x of :8002
	ratio := float64(counts[":8001"]) / float64(counts[":8002"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio :8001/:8002 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	insts := []registry.ServiceInstance{{Addr: "a"}, {Addr: "b"}}
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		inst, err := b.Pick("", insts)
		if err != nil {
			t.Fatal(err)
		}
		seen[inst.Addr] = true
	}
	if len(seen) != 2 {
		t.Fatalf("zero weights must count as 1, saw %v", seen)
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()

	// Same key should always map to the same instance
	inst1, _ := b.Pick("user-123", testInstances)
	inst2, _ := b.Pick("user-123", testInstances)
	if inst1.Addr != inst2.Addr {
		t.Fatalf("same key mapped to different instances: %s vs %s", inst1.Addr, inst2.Addr)
	}

	// Different keys should (likely) map to different instances
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, _ := b.Pick(fmt.Sprintf("key-%d", i), testInstances)
		seen[inst.Addr] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different instances, got %d", len(seen))
	}
}

func TestConsistentHashRebuildsOnChange(t *testing.T) {
	b := NewConsistentHashBalancer()
	before := map[string]string{}
	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("session-%d", i)
		inst, _ := b.Pick(key, testInstances)
		before[key] = inst.Addr
	}

	// Dropping :8002 only moves the keys that lived there.
	shrunk := []registry.ServiceInstance{testInstances[0], testInstances[2]}
	for key, addr := range before {
		inst, err := b.Pick(key, shrunk)
		if err != nil {
			t.Fatal(err)
		}
		if inst.Addr == ":8002" {
			t.Fatalf("%s still routed to a removed instance", key)
		}
		if addr != ":8002" && inst.Addr != addr {
			t.Fatalf("%s moved from %s to %s although its instance stayed", key, addr, inst.Addr)
		}
	}
}

func TestNew(t *testing.T) {
	for name, want := range map[string]string{"": "RoundRobin", "random": "WeightedRandom", "hash": "ConsistentHash"} {
		b, err := New(name)
		if err != nil || b.Name() != want {
			t.Fatalf("New(%q) = %v, %v", name, b, err)
		}
	}
	if _, err := New("bogus"); err == nil {
		t.Fatal("expect an error for an unknown strategy")
	}
}
