package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"duplex-rpc/registry"
)

// DefaultReplicas is the number of virtual nodes per instance.
const DefaultReplicas = 100

// ConsistentHashBalancer maps keys to instances using a hash ring.
// The same key always maps to the same instance until the instance set changes, and a change
// only moves the keys of the instances that came or went.
//
// Each instance is placed on the ring as many virtual nodes so a handful of instances still
// split the key space evenly.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	replicas int

	mu    sync.Mutex
	sig   string         // addresses the ring was built from
	ring  []uint32       // sorted virtual node hashes
	nodes map[uint32]int // virtual node hash → index into the instance list
}

func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return NewConsistentHashBalancerWithReplicas(DefaultReplicas)
}

func NewConsistentHashBalancerWithReplicas(replicas int) *ConsistentHashBalancer {
	if replicas <= 0 {
		replicas = DefaultReplicas
	}
	return &ConsistentHashBalancer{replicas: replicas}
}

// Pick hashes key and walks clockwise to the first virtual node, wrapping around past the
// largest one. The ring is rebuilt whenever instances differs from the previous call.
func (b *ConsistentHashBalancer) Pick(key string, instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if sig := signature(instances); sig != b.sig {
		b.build(instances)
		b.sig = sig
	}

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	return &instances[b.nodes[b.ring[idx]]], nil
}

// build places every instance on a fresh ring, virtual node i hashed from "{addr}#{i}".
func (b *ConsistentHashBalancer) build(instances []registry.ServiceInstance) {
	b.ring = make([]uint32, 0, len(instances)*b.replicas)
	b.nodes = make(map[uint32]int, len(instances)*b.replicas)
	for idx, inst := range instances {
		for i := 0; i < b.replicas; i++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", inst.Addr, i)))
			if _, taken := b.nodes[hash]; taken {
				continue
			}
			b.ring = append(b.ring, hash)
			b.nodes[hash] = idx
		}
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

// signature identifies an instance list by its addresses in order; the node map stores indexes,
// so a reordered list needs a rebuild as well.
func signature(instances []registry.ServiceInstance) string {
	var sb strings.Builder
	for _, inst := range instances {
		sb.WriteString(inst.Addr)
		sb.WriteByte(0)
	}
	return sb.String()
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
