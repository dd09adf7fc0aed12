// Package message defines the envelope exchanged between two peers.
//
// Every envelope is a mapping with a mandatory "serial". A request adds "cmd", "args" and
// "kwargs"; a response adds "ref" (the serial of the request it answers) and exactly one of
// "result" or "error":
//
//	request:  {"serial": 3, "cmd": "add", "args": [1, 2], "kwargs": {}}
//	response: {"serial": 7, "ref": 3, "result": 3}
//	failure:  {"serial": 8, "ref": 4, "error": {"class": "NoMethodError", "text": "..."}}
//
// Transports move the raw mapping (Map). The endpoint turns it into a typed Envelope with Parse,
// which is also where shape violations are detected.
package message

import (
	"fmt"
	"math"
)

// Map is the generic dictionary form of an envelope, as produced and consumed by codecs.
type Map = map[string]any

// Field names of the wire format.
const (
	FieldSerial = "serial"
	FieldCmd    = "cmd"
	FieldArgs   = "args"
	FieldKwargs = "kwargs"
	FieldRef    = "ref"
	FieldResult = "result"
	FieldError  = "error"

	FieldClass = "class"
	FieldText  = "text"
	FieldData  = "data"
)

// Kind tells a request from a response.
type Kind byte

const (
	KindRequest  Kind = 1
	KindResponse Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	}
	return fmt.Sprintf("Kind(%d)", byte(k))
}

// ErrorInfo is the payload of a failed response.
// Data is optional structured diagnostics; nil means absent.
type ErrorInfo struct {
	Class string
	Text  string
	Data  any
}

// Envelope is a parsed, shape-checked envelope.
//
//   - Request:  Cmd is set, Args/Kwargs carry the arguments (never nil after Parse).
//   - Response: Ref is set, Error is non-nil if the remote handler failed, else Result holds the value.
type Envelope struct {
	Kind   Kind
	Serial int64

	Cmd    string
	Args   []any
	Kwargs map[string]any

	Ref    int64
	Result any
	Error  *ErrorInfo
}

// NewRequest builds an outgoing request. Serial is assigned by the sender at send time.
func NewRequest(cmd string, args []any, kwargs map[string]any) *Envelope {
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return &Envelope{Kind: KindRequest, Cmd: cmd, Args: args, Kwargs: kwargs}
}

// NewResult builds a successful response to the request with serial ref.
func NewResult(ref int64, result any) *Envelope {
	return &Envelope{Kind: KindResponse, Ref: ref, Result: result}
}

// NewFailure builds an error response to the request with serial ref.
func NewFailure(ref int64, info *ErrorInfo) *Envelope {
	return &Envelope{Kind: KindResponse, Ref: ref, Error: info}
}

// Map renders the envelope into its wire dictionary.
func (e *Envelope) Map() Map {
	m := Map{FieldSerial: e.Serial}
	switch e.Kind {
	case KindRequest:
		args, kwargs := e.Args, e.Kwargs
		if args == nil {
			args = []any{}
		}
		if kwargs == nil {
			kwargs = map[string]any{}
		}
		m[FieldCmd] = e.Cmd
		m[FieldArgs] = args
		m[FieldKwargs] = kwargs
	case KindResponse:
		m[FieldRef] = e.Ref
		if e.Error != nil {
			em := Map{FieldClass: e.Error.Class, FieldText: e.Error.Text}
			if e.Error.Data != nil {
				em[FieldData] = e.Error.Data
			}
			m[FieldError] = em
		} else {
			m[FieldResult] = e.Result
		}
	}
	return m
}

func (e *Envelope) String() string {
	if e.Kind == KindRequest {
		return fmt.Sprintf("request{serial=%d cmd=%q args=%d kwargs=%d}", e.Serial, e.Cmd, len(e.Args), len(e.Kwargs))
	}
	if e.Error != nil {
		return fmt.Sprintf("response{serial=%d ref=%d error=%s}", e.Serial, e.Ref, e.Error.Class)
	}
	return fmt.Sprintf("response{serial=%d ref=%d}", e.Serial, e.Ref)
}

// Call is one incoming request as seen by the handler chain.
type Call struct {
	Name   string
	Serial int64
	Args   []any
	Kwargs map[string]any
}

// Int64 converts a decoded number into an int64. It accepts every Go integer type,
// integral floats and json.Number-like values; ok is false for anything else.
func Int64(v any) (n int64, ok bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), x <= math.MaxInt64
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return int64(x), x <= math.MaxInt64
	case float32:
		return int64(x), float32(int64(x)) == x
	case float64:
		return int64(x), float64(int64(x)) == x && !math.IsInf(x, 0)
	case number:
		i, err := x.Int64()
		return i, err == nil
	}
	return 0, false
}

// number matches json.Number from either encoding/json or goccy/go-json.
type number interface {
	Int64() (int64, error)
	Float64() (float64, error)
	String() string
}
