package endpoint

import (
	"testing"

	"duplex-rpc/transport"
)

func TestMethodName(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"foo", "Foo", true},
		{"get_hash", "GetHash", true},
		{"provide_hash", "ProvideHash", true},
		{"a", "A", true},
		{"ask__peer_", "AskPeer", true},
		{"Foo", "Foo", true},
		{"_foo", "", false},
		{"1foo", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := MethodName(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("MethodName(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestProviderScan(t *testing.T) {
	p, err := newProvider(&testProvider{})
	if err != nil {
		t.Fatalf("newProvider failed: %v", err)
	}
	for _, name := range []string{"Foo", "A", "B", "GetHash", "AskPeer"} {
		if _, ok := p.methods[name]; !ok {
			t.Errorf("%s must be exposed", name)
		}
	}
	for _, name := range []string{"Sleep", "dontcall", "FarInterface", "CloseConnection", "Endpoint"} {
		if _, ok := p.methods[name]; ok {
			t.Errorf("%s must not be exposed", name)
		}
	}
	if len(p.methods) != 5 {
		t.Fatalf("unexpected method set %v", len(p.methods))
	}
}

type greeterBase struct{}

func (greeterBase) Greet(args []any, kwargs map[string]any) (any, error) { return "base", nil }

func (*greeterBase) Wave(args []any, kwargs map[string]any) (any, error) { return "base", nil }

// overrider redeclares Greet and inherits Wave.
type overrider struct {
	greeterBase
}

func (*overrider) Greet(args []any, kwargs map[string]any) (any, error) { return "outer", nil }

// valueProvider declares its handler with a value receiver.
type valueProvider struct {
	*greeterBase
}

func (valueProvider) Ping(args []any, kwargs map[string]any) (any, error) { return "pong", nil }

func TestProviderOverrides(t *testing.T) {
	p, err := newProvider(&overrider{})
	if err != nil {
		t.Fatalf("newProvider failed: %v", err)
	}
	h, ok := p.methods["Greet"]
	if !ok {
		t.Fatal("an overriding method must be exposed")
	}
	if r, _ := h(nil, nil); r != "outer" {
		t.Fatalf("Greet resolved to %v", r)
	}
	if _, ok := p.methods["Wave"]; ok {
		t.Fatal("Wave is only promoted and must stay hidden")
	}

	p, err = newProvider(&valueProvider{greeterBase: &greeterBase{}})
	if err != nil {
		t.Fatalf("newProvider failed: %v", err)
	}
	if _, ok := p.methods["Ping"]; !ok {
		t.Fatal("a value receiver method must be exposed")
	}
	if len(p.methods) != 1 {
		t.Fatalf("unexpected method set %d", len(p.methods))
	}

	ta, tb := transport.Pipe()
	server, err := NewProviderEndpoint(ta, &overrider{})
	if err != nil {
		t.Fatalf("NewProviderEndpoint failed: %v", err)
	}
	client := New(tb)
	defer server.Close()
	defer client.Close()
	if r, err := client.SyncCall("greet", nil, nil); err != nil || r != "outer" {
		t.Fatalf("greet = %v, %v", r, err)
	}
	if _, err := client.SyncCall("wave", nil, nil); remoteClass(err) != ClassNoMethod {
		t.Fatalf("expect NoMethodError for wave, got %v", err)
	}
}

type notAStruct int

func (notAStruct) Foo(args []any, kwargs map[string]any) (any, error) { return nil, nil }

func TestProviderValidation(t *testing.T) {
	if _, err := newProvider(testProvider{}); err == nil {
		t.Fatal("expect an error for a struct value")
	}
	n := notAStruct(1)
	if _, err := newProvider(&n); err == nil {
		t.Fatal("expect an error for a pointer to a non-struct")
	}

	ta, _ := transport.Pipe()
	defer ta.Close()
	if _, err := NewProviderEndpoint(ta, 42); err == nil {
		t.Fatal("expect NewProviderEndpoint to reject a plain value")
	}

	defer func() {
		if recover() == nil {
			t.Fatal("WithProvider must panic on an invalid target")
		}
	}()
	WithProvider("nope")
}

type router struct {
	calls []string
}

func (r *router) RemoteCall(name string, args []any, kwargs map[string]any) (any, error) {
	r.calls = append(r.calls, name)
	if name == "boom" {
		return nil, NewError("ValueError", "boom", nil)
	}
	return len(args), nil
}

func TestDispatcherProvider(t *testing.T) {
	ta, tb := transport.Pipe()
	r := &router{}
	server, err := NewProviderEndpoint(ta, r, WithInlineDispatch())
	if err != nil {
		t.Fatalf("NewProviderEndpoint failed: %v", err)
	}
	client := New(tb)
	defer server.Close()
	defer client.Close()

	if n, err := client.SyncCall("_anything goes", []any{1, 2, 3}, nil); err != nil || n != int64(3) {
		t.Fatalf("got %v, %v", n, err)
	}
	if _, err := client.SyncCall("boom", nil, nil); remoteClass(err) != "ValueError" {
		t.Fatalf("expect ValueError, got %v", err)
	}
	if len(r.calls) != 2 || server.Provider() != r {
		t.Fatalf("dispatcher saw %v", r.calls)
	}
}

func TestProviderBinding(t *testing.T) {
	ta, tb := transport.Pipe()
	first, second := &testProvider{}, &testProvider{}
	ep := New(ta)
	peer := New(tb)
	defer peer.Close()

	if first.FarInterface() != nil || first.CloseConnection() != nil {
		t.Fatal("a detached provider has no peer")
	}
	if err := ep.SetProvider(first); err != nil {
		t.Fatalf("SetProvider failed: %v", err)
	}
	if first.Endpoint() != ep || first.FarInterface() != ep.Remote() {
		t.Fatal("provider must be bound to its endpoint")
	}

	_ = ep.SetProvider(second)
	if first.Endpoint() != nil || second.Endpoint() != ep {
		t.Fatal("replacing the provider must rebind")
	}

	if err := second.CloseConnection(); err != nil {
		t.Fatalf("CloseConnection failed: %v", err)
	}
	if !ep.Closed() {
		t.Fatal("CloseConnection must close the endpoint")
	}
	<-peer.Done()
}
