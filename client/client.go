// Package client finds a service through the registry and keeps one endpoint per server address.
//
//	Call("Arith", "add", ...) → instances (registry, kept fresh by Watch)
//	  → balancer.Pick(key) → endpoint for that address (cached, dialed once)
//	  → SyncCall
//
// Endpoints stay open and are shared by every call to the same address; the server may call back
// over them at any time. An endpoint that closes, for whatever reason, is dropped from the cache
// and the next call dials again.
package client

import (
	"context"
	"errors"
	"sync"

	"github.com/golang/groupcache/singleflight"
	"github.com/op/go-logging"

	"duplex-rpc/endpoint"
	"duplex-rpc/loadbalance"
	"duplex-rpc/registry"
	"duplex-rpc/transport"
)

var log = logging.MustGetLogger("client")

// ErrClosed is returned by calls on a closed client.
var ErrClosed = errors.New("client: closed")

type Client struct {
	registry registry.Registry
	balancer loadbalance.Balancer
	opts     options

	dials singleflight.Group

	mu        sync.Mutex
	endpoints map[string]*endpoint.Endpoint // keyed by address
	watched   map[string][]registry.ServiceInstance
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
}

func NewClient(reg registry.Registry, bal loadbalance.Balancer, opts ...Option) *Client {
	o := options{dialTimeout: DefaultDialTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if bal == nil {
		bal = &loadbalance.RoundRobinBalancer{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		registry:  reg,
		balancer:  bal,
		opts:      o,
		endpoints: make(map[string]*endpoint.Endpoint),
		watched:   make(map[string][]registry.ServiceInstance),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Call invokes method on an instance of service and waits for the result.
func (c *Client) Call(service, method string, args []any, kwargs map[string]any) (any, error) {
	return c.CallContext(context.Background(), service, method, args, kwargs)
}

// CallContext is Call with a deadline on both the dial and the wait for the result.
func (c *Client) CallContext(ctx context.Context, service, method string, args []any, kwargs map[string]any) (any, error) {
	ep, err := c.EndpointContext(ctx, service, "")
	if err != nil {
		return nil, err
	}
	return ep.SyncCallContext(ctx, method, args, kwargs)
}

// Endpoint returns a connected endpoint for service. key is handed to the balancer; with the
// consistent hash balancer the same key keeps reaching the same instance.
func (c *Client) Endpoint(service, key string) (*endpoint.Endpoint, error) {
	return c.EndpointContext(context.Background(), service, key)
}

func (c *Client) EndpointContext(ctx context.Context, service, key string) (*endpoint.Endpoint, error) {
	instances, err := c.instances(service)
	if err != nil {
		return nil, err
	}
	inst, err := c.balancer.Pick(key, instances)
	if err != nil {
		return nil, err
	}
	return c.connect(ctx, inst.Addr)
}

// instances returns the watched list when there is one, else asks the registry and starts
// watching the service.
func (c *Client) instances(service string) ([]registry.ServiceInstance, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	list, ok := c.watched[service]
	c.mu.Unlock()
	if ok {
		return list, nil
	}

	list, err := c.registry.Discover(service)
	if err != nil {
		return nil, err
	}
	if c.opts.watch {
		c.watch(service, list)
	}
	return list, nil
}

func (c *Client) watch(service string, initial []registry.ServiceInstance) {
	c.mu.Lock()
	if _, ok := c.watched[service]; ok || c.closed {
		c.mu.Unlock()
		return
	}
	c.watched[service] = initial
	c.mu.Unlock()

	updates := c.registry.Watch(c.ctx, service)
	go func() {
		for list := range updates {
			log.Debugf("%s now has %d instances", service, len(list))
			c.mu.Lock()
			c.watched[service] = list
			c.mu.Unlock()
		}
	}()
}

// connect returns the cached endpoint for addr or dials one. Concurrent callers for the same
// address share a single dial.
func (c *Client) connect(ctx context.Context, addr string) (*endpoint.Endpoint, error) {
	c.mu.Lock()
	ep, ok := c.endpoints[addr]
	c.mu.Unlock()
	if ok && !ep.Closed() {
		return ep, nil
	}

	v, err := c.dials.Do(addr, func() (any, error) {
		c.mu.Lock()
		if ep, ok := c.endpoints[addr]; ok && !ep.Closed() {
			c.mu.Unlock()
			return ep, nil
		}
		c.mu.Unlock()
		return c.dial(ctx, addr)
	})
	if err != nil {
		return nil, err
	}
	return v.(*endpoint.Endpoint), nil
}

func (c *Client) dial(ctx context.Context, addr string) (*endpoint.Endpoint, error) {
	dctx, cancel := context.WithTimeout(ctx, c.opts.dialTimeout)
	defer cancel()
	t, err := transport.Dial(dctx, "tcp", addr, c.opts.wire, c.opts.transport...)
	if err != nil {
		return nil, err
	}

	opts := append([]endpoint.Option{endpoint.WithName(addr)}, c.opts.endpoint...)
	ep := endpoint.New(t, opts...)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ep.Close()
		return nil, ErrClosed
	}
	c.endpoints[addr] = ep
	c.mu.Unlock()

	ep.OnClose(func() {
		c.mu.Lock()
		if c.endpoints[addr] == ep {
			delete(c.endpoints, addr)
		}
		c.mu.Unlock()
		log.Debugf("dropped endpoint %s", addr)
	})
	log.Infof("connected to %s (%s)", addr, c.opts.wire)
	return ep, nil
}

// Cached returns the number of open endpoints.
func (c *Client) Cached() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.endpoints)
}

// Close stops watching the registry and closes every endpoint.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	eps := make([]*endpoint.Endpoint, 0, len(c.endpoints))
	for _, ep := range c.endpoints {
		eps = append(eps, ep)
	}
	c.mu.Unlock()

	c.cancel()
	for _, ep := range eps {
		_ = ep.Close()
	}
	return nil
}
