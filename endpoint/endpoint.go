// Package endpoint implements the protocol engine shared by both peers.
//
// An Endpoint owns one Transport and keeps two independent serial counters: outSerial is stamped
// on every envelope it sends, inSerial is the serial the next incoming envelope must carry.
// Anything out of sequence aborts the connection; there is no reordering or gap tolerance.
//
// Outgoing calls are correlated with their responses through the pending table:
//
//	Call("add", 1, 2) ──▶ pending[7] = cont ──▶ {serial:7, cmd:add, args:[1,2]} ──▶ peer
//	peer ──▶ {serial:4, ref:7, result:3} ──▶ pending[7] removed ──▶ cont(3, nil)
//
// Incoming requests go to the provider, a named handler or the fallback handler, and their
// outcome is sent back as an ordinary envelope that consumes the next outSerial:
//
//	peer ──▶ {serial:5, cmd:foo} ──▶ handler ──▶ {serial:8, ref:5, result:...} ──▶ peer
//
// Locking: sendMu covers serial assignment together with the physical send, recvMu covers
// serial validation, and pendMu guards the pending table on its own so a synchronous transport
// can deliver a response while the sender still holds sendMu.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/op/go-logging"

	"duplex-rpc/message"
	"duplex-rpc/middleware"
	"duplex-rpc/promise"
	"duplex-rpc/transport"
)

var log = logging.MustGetLogger("endpoint")

// HandlerFunc serves one named operation.
type HandlerFunc func(args []any, kwargs map[string]any) (any, error)

// FallbackFunc serves any operation without a more specific handler.
type FallbackFunc func(name string, args []any, kwargs map[string]any) (any, error)

// Continuation receives the outcome of an outgoing call. err is a *RemoteError when the peer's
// handler failed, ErrClosed when the connection went away first.
type Continuation func(result any, err error)

type Endpoint struct {
	id   string
	opts options
	t    transport.Transport

	sendMu    sync.Mutex
	outSerial int64

	recvMu   sync.Mutex
	inSerial int64

	pendMu     sync.Mutex
	pending    map[int64]Continuation
	pendClosed bool

	hmu      sync.RWMutex
	provider *provider
	handlers map[string]HandlerFunc
	fallback FallbackFunc
	chain    middleware.HandlerFunc

	remoteOnce sync.Once
	remote     *Interface

	lmu          sync.Mutex
	abortHandler func(reason string, err error)
	closeHandler []func()

	closed atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Requests being served. A cond rather than a WaitGroup: requests keep arriving while
	// someone waits for the current ones.
	flightMu sync.Mutex
	flight   int
	idle     *sync.Cond
}

// New builds an endpoint over t and takes ownership of it. Envelopes the transport buffered
// before this point are processed right away, after handlers and provider given as options are
// in place.
func New(t transport.Transport, opts ...Option) *Endpoint {
	return newEndpoint(t, nil, opts)
}

// NewProviderEndpoint builds an endpoint over t with target attached as its provider.
func NewProviderEndpoint(t transport.Transport, target any, opts ...Option) (*Endpoint, error) {
	p, err := newProvider(target)
	if err != nil {
		return nil, err
	}
	return newEndpoint(t, p, opts), nil
}

func newEndpoint(t transport.Transport, p *provider, opts []Option) *Endpoint {
	o := options{stubCacheSize: DefaultStubCacheSize, handlers: make(map[string]HandlerFunc)}
	for _, opt := range opts {
		opt(&o)
	}
	if p == nil && o.provider != nil {
		p = o.provider
	}
	e := &Endpoint{
		id:       uuid.NewString(),
		opts:     o,
		t:        t,
		pending:  make(map[int64]Continuation),
		handlers: o.handlers,
		fallback: o.fallback,
		done:     make(chan struct{}),
	}
	e.idle = sync.NewCond(&e.flightMu)
	if e.opts.name == "" {
		e.opts.name = e.id[:8]
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.rebuildChain()
	if p != nil {
		e.attach(p)
	}

	t.OnClose(e.transportClosed)
	for _, fn := range e.opts.setup {
		if err := fn(e); err != nil {
			log.Errorf("%s: setup failed: %v", e.opts.name, err)
			e.finish(err)
			_ = t.Close()
			return e
		}
	}
	t.SetReceiver(e.receive)
	return e
}

func (e *Endpoint) ID() string   { return e.id }
func (e *Endpoint) Name() string { return e.opts.name }

// Transport returns the transport the endpoint owns.
func (e *Endpoint) Transport() transport.Transport { return e.t }

// Call sends a request and returns at once. When the response arrives, onComplete (if any)
// runs first and then the returned promise completes, on whichever goroutine delivered it.
func (e *Endpoint) Call(name string, args []any, kwargs map[string]any, onComplete Continuation) *promise.Promise {
	p := promise.New()
	cont := func(result any, err error) {
		if onComplete != nil {
			onComplete(result, err)
		}
		_ = p.Complete(result, err)
	}
	e.send(message.NewRequest(name, args, kwargs), cont)
	return p
}

// SyncCall sends a request and blocks until its response arrives.
//
// The outcome travels through a one-slot channel, so if the response is delivered on this very
// goroutine (a synchronous transport serving the request inline) the value is already waiting and
// the receive below does not block.
func (e *Endpoint) SyncCall(name string, args []any, kwargs map[string]any) (any, error) {
	return e.SyncCallContext(context.Background(), name, args, kwargs)
}

// SyncCallContext is SyncCall that stops waiting when ctx is done. The call itself stays pending.
func (e *Endpoint) SyncCallContext(ctx context.Context, name string, args []any, kwargs map[string]any) (any, error) {
	type outcome struct {
		result any
		err    error
	}
	ch := make(chan outcome, 1)
	e.send(message.NewRequest(name, args, kwargs), func(result any, err error) {
		ch <- outcome{result, err}
	})
	select {
	case o := <-ch:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// On registers a handler for incoming requests named name.
func (e *Endpoint) On(name string, h HandlerFunc) {
	e.hmu.Lock()
	defer e.hmu.Unlock()
	if h == nil {
		delete(e.handlers, name)
		return
	}
	e.handlers[name] = h
}

// OnRemoteCall registers the handler for requests nothing else serves.
func (e *Endpoint) OnRemoteCall(fn FallbackFunc) {
	e.hmu.Lock()
	e.fallback = fn
	e.hmu.Unlock()
}

// SetProvider exposes target to the peer; nil removes the current provider.
// See newProvider for the rules deciding which methods become callable.
func (e *Endpoint) SetProvider(target any) error {
	if target == nil {
		e.attach(nil)
		return nil
	}
	p, err := newProvider(target)
	if err != nil {
		return err
	}
	e.attach(p)
	return nil
}

// Provider returns the current provider target, or nil.
func (e *Endpoint) Provider() any {
	e.hmu.RLock()
	defer e.hmu.RUnlock()
	if e.provider == nil {
		return nil
	}
	return e.provider.target
}

func (e *Endpoint) attach(p *provider) {
	e.hmu.Lock()
	old := e.provider
	e.provider = p
	e.hmu.Unlock()
	if old != nil && (p == nil || old.target != p.target) {
		old.bind(nil)
	}
	if p != nil {
		p.bind(e)
	}
}

// Use appends middlewares around request dispatch.
func (e *Endpoint) Use(mws ...middleware.Middleware) {
	e.hmu.Lock()
	e.opts.middlewares = append(e.opts.middlewares, mws...)
	e.hmu.Unlock()
	e.rebuildChain()
}

func (e *Endpoint) rebuildChain() {
	e.hmu.Lock()
	defer e.hmu.Unlock()
	e.chain = middleware.Chain(e.opts.middlewares...)(e.route)
}

// Remote returns the interface for calling the peer. It is created once per endpoint.
func (e *Endpoint) Remote() *Interface {
	e.remoteOnce.Do(func() {
		e.remote = NewInterface(e)
	})
	return e.remote
}

// OnAbort sets the observer fired when a framing violation aborts the connection.
func (e *Endpoint) OnAbort(fn func(reason string, err error)) {
	e.lmu.Lock()
	e.abortHandler = fn
	e.lmu.Unlock()
}

// OnClose adds an observer fired once when the endpoint closes, for whatever reason.
// It fires immediately if the endpoint is already closed.
func (e *Endpoint) OnClose(fn func()) {
	e.lmu.Lock()
	if e.closed.Load() {
		e.lmu.Unlock()
		fn()
		return
	}
	e.closeHandler = append(e.closeHandler, fn)
	e.lmu.Unlock()
}

// Close fails pending calls with ErrClosed, fires the close observers and closes the transport.
// The peer sees an orderly disconnect.
func (e *Endpoint) Close() error {
	e.finish(nil)
	return e.t.Close()
}

// Done is closed once the endpoint has closed and its close observers have run.
func (e *Endpoint) Done() <-chan struct{} { return e.done }

func (e *Endpoint) Closed() bool { return e.closed.Load() }

// Wait blocks until no request is being served.
func (e *Endpoint) Wait() {
	e.flightMu.Lock()
	for e.flight > 0 {
		e.idle.Wait()
	}
	e.flightMu.Unlock()
}

// Serving returns the number of requests being served.
func (e *Endpoint) Serving() int {
	e.flightMu.Lock()
	defer e.flightMu.Unlock()
	return e.flight
}

// Pending returns the number of calls still waiting for a response.
func (e *Endpoint) Pending() int {
	e.pendMu.Lock()
	defer e.pendMu.Unlock()
	return len(e.pending)
}

// send stamps env with the next serial and transmits it. If cont is set it is registered under
// that serial first, and completed with the error if the envelope could not be sent.
func (e *Endpoint) send(env *message.Envelope, cont Continuation) error {
	if e.closed.Load() {
		if cont != nil {
			cont(nil, ErrClosed)
		}
		return ErrClosed
	}
	failed, err := e.transmit(env, cont)
	if failed != nil {
		failed(nil, err)
	}
	return err
}

func (e *Endpoint) transmit(env *message.Envelope, cont Continuation) (Continuation, error) {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	serial := e.outSerial
	env.Serial = serial
	if cont != nil && !e.addPending(serial, cont) {
		return cont, ErrClosed
	}
	if err := e.t.Send(env.Map()); err != nil {
		if errors.Is(err, transport.ErrClosed) {
			err = ErrClosed
		}
		if cont != nil {
			// nil when the close path already completed it.
			return e.takePending(serial), err
		}
		return nil, err
	}
	e.outSerial++
	return nil, nil
}

func (e *Endpoint) addPending(serial int64, cont Continuation) bool {
	e.pendMu.Lock()
	defer e.pendMu.Unlock()
	if e.pendClosed {
		return false
	}
	e.pending[serial] = cont
	return true
}

func (e *Endpoint) takePending(serial int64) Continuation {
	e.pendMu.Lock()
	defer e.pendMu.Unlock()
	cont, ok := e.pending[serial]
	if !ok {
		return nil
	}
	delete(e.pending, serial)
	return cont
}

// receive is the transport's Receiver. A returned error aborts the connection.
func (e *Endpoint) receive(m message.Map) error {
	if e.closed.Load() {
		return nil
	}
	env, err := message.Parse(m)
	if err != nil {
		switch {
		case errors.Is(err, message.ErrMissingSerial), errors.Is(err, message.ErrBadSerial):
			return e.abort("missing or bad serial", err)
		case errors.Is(err, message.ErrNoCommand):
			return e.abort("unknown command", err)
		}
		return e.abort("malformed envelope", err)
	}

	e.recvMu.Lock()
	if env.Serial != e.inSerial {
		expected := e.inSerial
		e.recvMu.Unlock()
		return e.abort("framing error (wrong serial)", fmt.Errorf("got serial %d, expected %d", env.Serial, expected))
	}
	e.inSerial++
	e.recvMu.Unlock()

	if env.Kind == message.KindRequest {
		e.dispatch(env)
		return nil
	}

	cont := e.takePending(env.Ref)
	if cont == nil {
		log.Debugf("%s: dropping response to unknown serial %d", e.opts.name, env.Ref)
		return nil
	}
	if env.Error != nil {
		cont(nil, remoteError(env.Error))
	} else {
		cont(env.Result, nil)
	}
	return nil
}

func (e *Endpoint) abort(reason string, err error) error {
	log.Errorf("%s: abort: %s: %v", e.opts.name, reason, err)
	e.lmu.Lock()
	fn := e.abortHandler
	e.lmu.Unlock()
	if fn != nil {
		fn(reason, err)
	}
	return &ProtocolError{Reason: reason, Err: err}
}

func (e *Endpoint) dispatch(env *message.Envelope) {
	call := &message.Call{Name: env.Cmd, Serial: env.Serial, Args: env.Args, Kwargs: env.Kwargs}
	e.flightMu.Lock()
	e.flight++
	e.flightMu.Unlock()
	if e.opts.inline {
		e.serve(call)
		return
	}
	go e.serve(call)
}

// serve runs the handler chain for call and sends back its outcome.
func (e *Endpoint) serve(call *message.Call) {
	defer func() {
		e.flightMu.Lock()
		e.flight--
		if e.flight == 0 {
			e.idle.Broadcast()
		}
		e.flightMu.Unlock()
	}()
	result, err := e.invoke(call)

	var resp *message.Envelope
	if err != nil {
		resp = message.NewFailure(call.Serial, errorInfo(err))
	} else {
		resp = message.NewResult(call.Serial, result)
	}
	err = e.send(resp, nil)
	if err == nil || e.closed.Load() {
		return
	}
	// The connection is fine but the outcome could not be encoded; report that instead.
	log.Warningf("%s: cannot send response to %s: %v", e.opts.name, call.Name, err)
	_ = e.send(message.NewFailure(call.Serial, &message.ErrorInfo{
		Class: ClassRuntime,
		Text:  fmt.Sprintf("cannot encode response: %v", err),
	}), nil)
}

func (e *Endpoint) invoke(call *message.Call) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("%s: handler %s panicked: %v", e.opts.name, call.Name, r)
			result, err = nil, &RemoteError{Class: ClassRuntime, Text: fmt.Sprint(r)}
		}
	}()
	e.hmu.RLock()
	chain := e.chain
	e.hmu.RUnlock()
	return chain(e.ctx, call)
}

// route resolves the handler for call: provider, then named handler, then fallback.
// With a provider set, a name the provider does not expose and no handler claims is
// "not found" rather than falling through to the fallback.
func (e *Endpoint) route(ctx context.Context, call *message.Call) (any, error) {
	e.hmu.RLock()
	prov, named, fallback := e.provider, e.handlers[call.Name], e.fallback
	e.hmu.RUnlock()

	if prov != nil {
		if h, ok := prov.lookup(call.Name); ok {
			return h(call.Args, call.Kwargs)
		}
	}
	if named != nil {
		return named(call.Args, call.Kwargs)
	}
	if prov != nil {
		return nil, noMethod(call.Name)
	}
	if fallback != nil {
		return fallback(call.Name, call.Args, call.Kwargs)
	}
	return nil, noMethod(call.Name)
}

// transportClosed is the transport's close observer.
func (e *Endpoint) transportClosed(cause error) {
	e.finish(cause)
}

func (e *Endpoint) finish(cause error) {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	e.cancel()

	e.pendMu.Lock()
	pending := e.pending
	e.pending = make(map[int64]Continuation)
	e.pendClosed = true
	e.pendMu.Unlock()

	if cause != nil {
		log.Warningf("%s: closed: %v (%d pending calls failed)", e.opts.name, cause, len(pending))
	} else {
		log.Infof("%s: closed (%d pending calls failed)", e.opts.name, len(pending))
	}
	for _, cont := range pending {
		cont(nil, ErrClosed)
	}

	e.lmu.Lock()
	handlers := e.closeHandler
	e.closeHandler = nil
	e.lmu.Unlock()
	for _, fn := range handlers {
		fn()
	}
	close(e.done)
}
