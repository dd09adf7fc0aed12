// Package server accepts connections and runs one endpoint per connection.
//
// Connection lifecycle:
//
//	Accept conn → transport (codec per options) → endpoint
//	  → factory(ep) picks the provider before any envelope is processed
//	  → endpoint serves the peer's calls and can call back into it
//	  → conn closes → endpoint fails its pending calls → server forgets it
//
// A server is symmetric to its clients: once a connection is up both sides may call each other.
// The server only adds the listening, registration and shutdown bookkeeping.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/op/go-logging"
	pkgerrors "github.com/pkg/errors"

	"duplex-rpc/endpoint"
	"duplex-rpc/middleware"
	"duplex-rpc/registry"
)

var log = logging.MustGetLogger("server")

// ErrShutdownTimeout is returned by Shutdown when connections outlive the timeout.
var ErrShutdownTimeout = errors.New("server: timeout waiting for connections to finish")

// ProviderFactory returns the provider target for a new connection, or nil for none. It runs
// before the connection's first envelope is processed and may register handlers on ep directly.
// An error closes the connection.
type ProviderFactory func(ep *endpoint.Endpoint) (any, error)

type Server struct {
	factory ProviderFactory
	opts    options

	mu          sync.Mutex
	listener    net.Listener
	acceptDone  chan struct{} // closed when the accept loop returns
	endpoints   map[*endpoint.Endpoint]struct{}
	middlewares []middleware.Middleware

	ready    chan struct{} // closed once Serve has a listener or failed to get one
	readyOne sync.Once
	wg       sync.WaitGroup // one per live connection
	shutdown atomic.Bool    // set before the listener closes so Accept errors are expected

	registry      registry.Registry
	advertiseAddr string
}

func NewServer(factory ProviderFactory, opts ...Option) *Server {
	o := options{serviceName: DefaultServiceName, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{
		factory:   factory,
		opts:      o,
		endpoints: make(map[*endpoint.Endpoint]struct{}),
		ready:     make(chan struct{}),
	}
}

// Use adds a middleware around request dispatch on connections accepted from now on.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.mu.Lock()
	svr.middlewares = append(svr.middlewares, mw)
	svr.mu.Unlock()
}

// Serve listens on address, registers the service if reg is non-nil and accepts connections
// until Shutdown. advertiseAddr is the address announced in the registry; when empty the
// listener's own address is used.
func (svr *Server) Serve(network, address string, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		svr.readyOne.Do(func() { close(svr.ready) })
		return pkgerrors.Wrapf(err, "server: listen %s", address)
	}
	return svr.ServeListener(listener, advertiseAddr, reg)
}

// ServeListener is Serve on an existing listener.
func (svr *Server) ServeListener(listener net.Listener, advertiseAddr string, reg registry.Registry) error {
	if advertiseAddr == "" {
		advertiseAddr = listener.Addr().String()
	}
	acceptDone := make(chan struct{})
	defer close(acceptDone)
	svr.mu.Lock()
	svr.listener = listener
	svr.acceptDone = acceptDone
	svr.advertiseAddr = advertiseAddr
	svr.registry = reg
	svr.mu.Unlock()
	svr.readyOne.Do(func() { close(svr.ready) })

	if reg != nil {
		err := reg.Register(svr.opts.serviceName, registry.ServiceInstance{
			Addr:    advertiseAddr,
			Weight:  svr.opts.weight,
			Version: svr.opts.version,
		}, svr.opts.ttl)
		if err != nil {
			_ = listener.Close()
			return err
		}
	}
	log.Infof("serving %s on %s (%s)", svr.opts.serviceName, listener.Addr(), svr.opts.wire)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if svr.shutdown.Load() {
				return nil
			}
			return pkgerrors.Wrap(err, "server: accept")
		}
		svr.handleConn(conn)
	}
}

// Ready is closed once Serve is listening (or failed to listen).
func (svr *Server) Ready() <-chan struct{} { return svr.ready }

// Addr returns the listening address, nil before Serve.
func (svr *Server) Addr() net.Addr {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

// Endpoints returns the endpoints of the live connections.
func (svr *Server) Endpoints() []*endpoint.Endpoint {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	eps := make([]*endpoint.Endpoint, 0, len(svr.endpoints))
	for ep := range svr.endpoints {
		eps = append(eps, ep)
	}
	return eps
}

// handleConn wires a fresh endpoint onto conn. The endpoint's transport reads in its own
// goroutine, so the accept loop moves on immediately.
func (svr *Server) handleConn(conn net.Conn) {
	svr.mu.Lock()
	// Shutdown sets the flag under mu before it waits on wg, so no Add can follow its Wait.
	if svr.shutdown.Load() {
		svr.mu.Unlock()
		log.Debugf("refusing %s: shutting down", conn.RemoteAddr())
		_ = conn.Close()
		return
	}
	svr.wg.Add(1)
	opts := append([]endpoint.Option{endpoint.WithName(conn.RemoteAddr().String())}, svr.opts.endpoint...)
	if len(svr.middlewares) > 0 {
		opts = append(opts, endpoint.WithMiddleware(svr.middlewares...))
	}
	svr.mu.Unlock()
	opts = append(opts, endpoint.WithSetup(svr.setup))

	t := svr.opts.wire.Wrap(conn, svr.opts.transport...)
	ep := endpoint.New(t, opts...)
	log.Debugf("accepted %s", conn.RemoteAddr())

	go func() {
		defer svr.wg.Done()
		<-ep.Done()
		ep.Wait()
		svr.mu.Lock()
		delete(svr.endpoints, ep)
		svr.mu.Unlock()
		log.Debugf("connection %s finished", ep.Name())
	}()
}

func (svr *Server) setup(ep *endpoint.Endpoint) error {
	svr.mu.Lock()
	if svr.shutdown.Load() {
		svr.mu.Unlock()
		return errors.New("server: shutting down")
	}
	svr.endpoints[ep] = struct{}{}
	svr.mu.Unlock()

	if svr.factory == nil {
		return nil
	}
	target, err := svr.factory(ep)
	if err != nil {
		return err
	}
	if target == nil {
		return nil
	}
	return ep.SetProvider(target)
}

// Shutdown performs graceful shutdown:
//  1. Deregister from the registry so clients stop picking this server
//  2. Set the shutdown flag and close the listener
//  3. Give running handlers up to timeout to answer, then close every connection
//     (their pending calls fail with endpoint.ErrClosed)
func (svr *Server) Shutdown(timeout time.Duration) error {
	svr.mu.Lock()
	reg, addr, listener, acceptDone := svr.registry, svr.advertiseAddr, svr.listener, svr.acceptDone
	svr.shutdown.Store(true)
	svr.mu.Unlock()

	if reg != nil {
		if err := reg.Deregister(svr.opts.serviceName, addr); err != nil {
			log.Warningf("deregister %s: %v", addr, err)
		}
	}
	if listener != nil {
		_ = listener.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if acceptDone != nil {
		select {
		case <-acceptDone:
		case <-ctx.Done():
		}
	}

	eps := svr.Endpoints()
	drained := make(chan struct{})
	go func() {
		for _, ep := range eps {
			ep.Wait()
		}
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = ErrShutdownTimeout
	}
	for _, ep := range eps {
		_ = ep.Close()
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = ErrShutdownTimeout
	}
	log.Infof("%s on %s shut down", svr.opts.serviceName, addr)
	return err
}
