package endpoint

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// Dispatcher lets a provider decide on its own how to serve every incoming call.
// A target implementing it bypasses the method scan entirely.
type Dispatcher interface {
	RemoteCall(name string, args []any, kwargs map[string]any) (any, error)
}

// ProviderBase can be embedded in a provider struct to reach the connected peer.
// Its methods, like those of any embedded type, are never callable remotely.
type ProviderBase struct {
	mu sync.RWMutex
	ep *Endpoint
}

// Endpoint returns the endpoint the provider is attached to, or nil.
func (b *ProviderBase) Endpoint() *Endpoint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ep
}

// FarInterface returns the interface for calling back into the peer, or nil when detached.
func (b *ProviderBase) FarInterface() *Interface {
	if ep := b.Endpoint(); ep != nil {
		return ep.Remote()
	}
	return nil
}

// CloseConnection closes the attached endpoint.
func (b *ProviderBase) CloseConnection() error {
	if ep := b.Endpoint(); ep != nil {
		return ep.Close()
	}
	return nil
}

func (b *ProviderBase) bindEndpoint(ep *Endpoint) {
	b.mu.Lock()
	b.ep = ep
	b.mu.Unlock()
}

type endpointBinder interface {
	bindEndpoint(ep *Endpoint)
}

var (
	argsType   = reflect.TypeOf([]any(nil))
	kwargsType = reflect.TypeOf(map[string]any(nil))
	anyType    = reflect.TypeOf((*any)(nil)).Elem()
	errorType  = reflect.TypeOf((*error)(nil)).Elem()
)

type provider struct {
	target     any
	dispatcher Dispatcher
	methods    map[string]HandlerFunc // keyed by Go method name
}

// newProvider checks target once and records which operations it exposes.
//
// A Dispatcher is used as is. Otherwise target must be a pointer to a struct, and only its exported
// methods with the signature
//
//	func(args []any, kwargs map[string]any) (any, error)
//
// declared on the type itself are exposed, including ones that override a method of an embedded
// field. Methods promoted from embedded fields (ProviderBase included) are not, and neither are
// methods of any other shape.
func newProvider(target any) (*provider, error) {
	p := &provider{target: target}
	if d, ok := target.(Dispatcher); ok {
		p.dispatcher = d
		return p, nil
	}

	typ := reflect.TypeOf(target)
	if typ.Kind() != reflect.Pointer {
		return nil, fmt.Errorf("endpoint: provider must be a pointer, got %s", typ.Kind())
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("endpoint: provider must point to a struct, got %s", typ.Elem().Kind())
	}

	val := reflect.ValueOf(target)
	p.methods = make(map[string]HandlerFunc)
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		if !isHandlerMethod(method.Type) || !declared(typ, method) {
			continue
		}
		fn := val.Method(i).Interface().(func([]any, map[string]any) (any, error))
		p.methods[method.Name] = fn
	}
	return p, nil
}

// isHandlerMethod checks the method type including its receiver.
func isHandlerMethod(mt reflect.Type) bool {
	return mt.NumIn() == 3 && mt.NumOut() == 2 &&
		mt.In(1) == argsType && mt.In(2) == kwargsType &&
		mt.Out(0) == anyType && mt.Out(1) == errorType
}

// declared reports whether m is implemented by the struct itself rather than reached through an
// embedded field. Promotion goes through compiler-generated wrappers, which carry no source file.
// (*T).M also wraps a method declared with a value receiver on T, so that case is checked on T.
func declared(typ reflect.Type, m reflect.Method) bool {
	if !generated(m.Func) {
		return true
	}
	if vm, ok := typ.Elem().MethodByName(m.Name); ok {
		return !generated(vm.Func)
	}
	return false
}

func generated(fn reflect.Value) bool {
	f := runtime.FuncForPC(fn.Pointer())
	if f == nil {
		return true
	}
	file, _ := f.FileLine(f.Entry())
	return file == "<autogenerated>"
}

func (p *provider) lookup(name string) (HandlerFunc, bool) {
	if p.dispatcher != nil {
		return func(args []any, kwargs map[string]any) (any, error) {
			return p.dispatcher.RemoteCall(name, args, kwargs)
		}, true
	}
	goName, ok := MethodName(name)
	if !ok {
		return nil, false
	}
	h, ok := p.methods[goName]
	return h, ok
}

func (p *provider) bind(ep *Endpoint) {
	if b, ok := p.target.(endpointBinder); ok {
		b.bindEndpoint(ep)
	}
}

// MethodName maps a remote operation name to the Go method serving it:
// "foo" → "Foo", "get_hash" → "GetHash". Names must start with a letter.
func MethodName(name string) (string, bool) {
	first, _ := utf8.DecodeRuneInString(name)
	if !unicode.IsLetter(first) {
		return "", false
	}
	var sb strings.Builder
	for _, part := range strings.Split(name, "_") {
		if part == "" {
			continue
		}
		r, size := utf8.DecodeRuneInString(part)
		sb.WriteRune(unicode.ToUpper(r))
		sb.WriteString(part[size:])
	}
	return sb.String(), true
}
