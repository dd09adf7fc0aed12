// Package loadbalance picks which service instance a client connects to.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity instances, the key is ignored
//   - WeightedRandom:  heterogeneous instances, picked in proportion to their weight
//   - ConsistentHash:  the same key keeps landing on the same instance, so a long-lived
//     bidirectional session can be resumed where its state lives
package loadbalance

import (
	"errors"

	"duplex-rpc/registry"
)

// ErrNoInstances is returned by every balancer for an empty instance list.
var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer is the interface for load balancing strategies.
// The client calls Pick before opening a connection; implementations must be goroutine-safe.
type Balancer interface {
	// Pick selects one instance from the available list. key identifies the caller's session and
	// only matters to key-aware strategies.
	Pick(key string, instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer registered under name: "roundrobin", "random" or "hash".
func New(name string) (Balancer, error) {
	switch name {
	case "roundrobin", "":
		return &RoundRobinBalancer{}, nil
	case "random":
		return &WeightedRandomBalancer{}, nil
	case "hash":
		return NewConsistentHashBalancer(), nil
	}
	return nil, errors.New("loadbalance: unknown strategy " + name)
}

func weight(inst registry.ServiceInstance) int {
	if inst.Weight <= 0 {
		return 1
	}
	return inst.Weight
}
