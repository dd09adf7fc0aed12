package endpoint

import (
	"sync"

	"github.com/golang/groupcache/lru"

	"duplex-rpc/promise"
)

// Stub calls one remote operation and waits for its result.
type Stub func(args []any, kwargs map[string]any) (any, error)

// Interface calls operations on the peer by name.
//
// The stub for a name is built on first use and kept in a bounded cache, so repeated calls skip
// the generic path. Eviction only costs rebuilding the stub.
type Interface struct {
	ep *Endpoint

	mu    sync.Mutex
	stubs *lru.Cache
}

func NewInterface(ep *Endpoint) *Interface {
	return &Interface{ep: ep, stubs: lru.New(ep.opts.stubCacheSize)}
}

func (i *Interface) Endpoint() *Endpoint { return i.ep }

// Method returns the stub for name.
func (i *Interface) Method(name string) Stub {
	i.mu.Lock()
	defer i.mu.Unlock()
	if v, ok := i.stubs.Get(name); ok {
		return v.(Stub)
	}
	ep := i.ep
	stub := Stub(func(args []any, kwargs map[string]any) (any, error) {
		return ep.SyncCall(name, args, kwargs)
	})
	i.stubs.Add(name, stub)
	return stub
}

// Invoke calls name with positional arguments and waits for the result.
func (i *Interface) Invoke(name string, args ...any) (any, error) {
	return i.Method(name)(args, nil)
}

// InvokeKw calls name with keyword and positional arguments and waits for the result.
func (i *Interface) InvokeKw(name string, kwargs map[string]any, args ...any) (any, error) {
	return i.Method(name)(args, kwargs)
}

// Async calls name without waiting.
func (i *Interface) Async(name string, args []any, kwargs map[string]any) *promise.Promise {
	return i.ep.Call(name, args, kwargs, nil)
}

// Cached reports how many stubs are currently materialized.
func (i *Interface) Cached() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stubs.Len()
}
