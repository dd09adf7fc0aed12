package endpoint

import (
	"errors"
	"fmt"

	"duplex-rpc/message"
)

// Error classes reported over the wire when the failing error does not name its own.
const (
	ClassRuntime  = "RuntimeError"
	ClassNoMethod = "NoMethodError"
)

// ErrClosed completes every call still pending when the endpoint closes,
// and is returned for calls made after that.
var ErrClosed = errors.New("endpoint: closed")

// RemoteError is a failure reported by the peer's handler.
type RemoteError struct {
	Class string
	Text  string
	Data  any // optional structured diagnostics, nil when absent
}

func (e *RemoteError) Error() string {
	return e.Class + ": " + e.Text
}

// NewError builds an error that a handler can return to report a specific class and payload.
func NewError(class, text string, data any) *RemoteError {
	return &RemoteError{Class: class, Text: text, Data: data}
}

// ClassedError lets a handler error choose the class reported to the caller.
type ClassedError interface {
	error
	ErrorClass() string
}

// DataError lets a handler error attach structured data to the response.
type DataError interface {
	error
	ErrorData() any
}

// ProtocolError is a framing violation. It is fatal to the connection.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func noMethod(name string) *RemoteError {
	return &RemoteError{Class: ClassNoMethod, Text: fmt.Sprintf("method %s is not found", name)}
}

// errorInfo classifies a handler error for the response envelope.
func errorInfo(err error) *message.ErrorInfo {
	var re *RemoteError
	if errors.As(err, &re) {
		return &message.ErrorInfo{Class: re.Class, Text: re.Text, Data: re.Data}
	}
	info := &message.ErrorInfo{Class: ClassRuntime, Text: err.Error()}
	var ce ClassedError
	if errors.As(err, &ce) && ce.ErrorClass() != "" {
		info.Class = ce.ErrorClass()
	}
	var de DataError
	if errors.As(err, &de) {
		info.Data = de.ErrorData()
	}
	return info
}

func remoteError(info *message.ErrorInfo) *RemoteError {
	return &RemoteError{Class: info.Class, Text: info.Text, Data: info.Data}
}
