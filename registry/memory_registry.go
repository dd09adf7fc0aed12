package registry

import (
	"context"
	"sort"
	"sync"
)

// MemoryRegistry is a Registry living in process memory. Entries never expire; ttl is ignored.
type MemoryRegistry struct {
	mu        sync.Mutex
	instances map[string]map[string]ServiceInstance // service → addr → instance
	watchers  map[string]map[chan []ServiceInstance]struct{}
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		instances: make(map[string]map[string]ServiceInstance),
		watchers:  make(map[string]map[chan []ServiceInstance]struct{}),
	}
}

// Register adds or replaces the instance at instance.Addr.
func (r *MemoryRegistry) Register(serviceName string, instance ServiceInstance, ttl int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byAddr, ok := r.instances[serviceName]
	if !ok {
		byAddr = make(map[string]ServiceInstance)
		r.instances[serviceName] = byAddr
	}
	byAddr[instance.Addr] = instance
	r.notify(serviceName)
	return nil
}

func (r *MemoryRegistry) Deregister(serviceName string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[serviceName][addr]; !ok {
		return nil
	}
	delete(r.instances[serviceName], addr)
	r.notify(serviceName)
	return nil
}

// Discover returns the instances ordered by address.
func (r *MemoryRegistry) Discover(serviceName string) ([]ServiceInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(serviceName), nil
}

func (r *MemoryRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	r.mu.Lock()
	ws, ok := r.watchers[serviceName]
	if !ok {
		ws = make(map[chan []ServiceInstance]struct{})
		r.watchers[serviceName] = ws
	}
	ws[ch] = struct{}{}
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		delete(r.watchers[serviceName], ch)
		close(ch)
		r.mu.Unlock()
	}()
	return ch
}

func (r *MemoryRegistry) list(serviceName string) []ServiceInstance {
	out := make([]ServiceInstance, 0, len(r.instances[serviceName]))
	for _, inst := range r.instances[serviceName] {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// notify must be called with mu held.
func (r *MemoryRegistry) notify(serviceName string) {
	ws := r.watchers[serviceName]
	if len(ws) == 0 {
		return
	}
	list := r.list(serviceName)
	for ch := range ws {
		publish(ch, list)
	}
}
