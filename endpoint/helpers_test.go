package endpoint

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"duplex-rpc/message"
	"duplex-rpc/transport"
)

// testProvider exposes foo, a, b and get_hash. Everything else must stay unreachable.
type testProvider struct {
	ProviderBase

	mu       sync.Mutex
	fooCalls int
	a, b     int64
}

func (p *testProvider) Foo(args []any, kwargs map[string]any) (any, error) {
	if len(args) != 2 {
		return nil, NewError("ArgumentError", fmt.Sprintf("wrong number of arguments (given %d, expected 2)", len(args)), nil)
	}
	a, okA := message.Int64(args[0])
	b, okB := message.Int64(args[1])
	if !okA || !okB {
		return nil, NewError("TypeError", "foo expects two integers", args)
	}
	optional := "none"
	if v, ok := kwargs["optional"]; ok {
		optional = fmt.Sprint(v)
	}

	p.mu.Lock()
	p.fooCalls++
	p.a, p.b = a, b
	p.mu.Unlock()
	return fmt.Sprintf("Foo: %d, %s", a+b, optional), nil
}

func (p *testProvider) A(args []any, kwargs map[string]any) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.a, nil
}

func (p *testProvider) B(args []any, kwargs map[string]any) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.b, nil
}

func (p *testProvider) GetHash(args []any, kwargs map[string]any) (any, error) {
	return map[string]any{"foo": "bar", "bardd": "buzz", "last": "item", "bar": "test"}, nil
}

// AskPeer calls back into the connected peer while serving a request.
func (p *testProvider) AskPeer(args []any, kwargs map[string]any) (any, error) {
	v, err := p.FarInterface().Invoke("value")
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("peer says %v", v), nil
}

// Sleep has the wrong shape and is not exposed.
func (p *testProvider) Sleep(d time.Duration) { time.Sleep(d) }

func (p *testProvider) dontcall(args []any, kwargs map[string]any) (any, error) {
	return "should not be reachable", nil
}

// stringProvider is what the calling side exposes back.
type stringProvider struct {
	ProviderBase
	str string
}

func (p *stringProvider) Value(args []any, kwargs map[string]any) (any, error) {
	return p.str, nil
}

func (p *stringProvider) ProvideHash(args []any, kwargs map[string]any) (any, error) {
	return map[string]any{"bar": "test", "foo": "bar"}, nil
}

// recorder wraps a transport and records the serial of every envelope sent through it.
type recorder struct {
	transport.Transport
	mu      sync.Mutex
	serials []int64
}

func (r *recorder) Send(msg message.Map) error {
	err := r.Transport.Send(msg)
	if err == nil {
		s, _ := message.Int64(msg["serial"])
		r.mu.Lock()
		r.serials = append(r.serials, s)
		r.mu.Unlock()
	}
	return err
}

func (r *recorder) sent() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.serials...)
}

// within fails the test if fn does not return in time, so a deadlock cannot hang the suite.
func within(t *testing.T, d time.Duration, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("%s did not finish within %s", what, d)
	}
}

func remoteClass(err error) string {
	if re, ok := err.(*RemoteError); ok {
		return re.Class
	}
	return fmt.Sprintf("<%T %v>", err, err)
}

// rawPeer is the far side of a pipe driven by hand, for feeding an endpoint arbitrary envelopes.
type rawPeer struct {
	t   transport.Transport
	got chan message.Map
}

func newRawPeer(tr transport.Transport) *rawPeer {
	p := &rawPeer{t: tr, got: make(chan message.Map, 64)}
	tr.SetReceiver(func(m message.Map) error {
		p.got <- m
		return nil
	})
	return p
}

func (p *rawPeer) next(t *testing.T) message.Map {
	t.Helper()
	select {
	case m := <-p.got:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope from the endpoint")
	}
	return nil
}
