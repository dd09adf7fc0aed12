package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"duplex-rpc/message"
)

// A simple handler that echoes the call name.
func echoHandler(ctx context.Context, call *message.Call) (any, error) {
	return "ok:" + call.Name, nil
}

// A slow handler: sleeps 200ms unless cancelled.
func slowHandler(ctx context.Context, call *message.Call) (any, error) {
	select {
	case <-time.After(200 * time.Millisecond):
		return "ok", nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newCall() *message.Call {
	return &message.Call{Name: "add", Args: []any{int64(1), int64(2)}, Kwargs: map[string]any{}}
}

func TestLogging(t *testing.T) {
	handler := LoggingMiddleware()(echoHandler)

	result, err := handler(context.Background(), newCall())
	if err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
	if result != "ok:add" {
		t.Fatalf("expect 'ok:add', got '%v'", result)
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	if _, err := handler(context.Background(), newCall()); err != nil {
		t.Fatalf("expect no error, got '%v'", err)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	_, err := handler(context.Background(), newCall())
	if err != ErrTimeout {
		t.Fatalf("expect timeout error, got '%v'", err)
	}
	if err.(*Error).ErrorClass() != "TimeoutError" {
		t.Fatalf("unexpected class %q", err.(*Error).ErrorClass())
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2: the first 2 pass, the 3rd is rejected
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		if _, err := handler(context.Background(), newCall()); err != nil {
			t.Fatalf("request %d should pass, got error: %v", i, err)
		}
	}

	if _, err := handler(context.Background(), newCall()); err != ErrRateLimit {
		t.Fatalf("request 3 should be rate limited, got: '%v'", err)
	}
}

func TestRetryTemporary(t *testing.T) {
	attempts := 0
	flaky := func(ctx context.Context, call *message.Call) (any, error) {
		attempts++
		if attempts < 3 {
			return nil, fmt.Errorf("backend: %w", ErrTimeout)
		}
		return "done", nil
	}

	result, err := RetryMiddleware(5, time.Millisecond)(flaky)(context.Background(), newCall())
	if err != nil || result != "done" {
		t.Fatalf("expect success after retries, got %v, %v", result, err)
	}
	if attempts != 3 {
		t.Fatalf("expect 3 attempts, got %d", attempts)
	}
}

func TestRetryPermanent(t *testing.T) {
	attempts := 0
	broken := func(ctx context.Context, call *message.Call) (any, error) {
		attempts++
		return nil, errors.New("no such record")
	}

	if _, err := RetryMiddleware(5, time.Millisecond)(broken)(context.Background(), newCall()); err == nil {
		t.Fatal("expect the permanent error back")
	}
	if attempts != 1 {
		t.Fatalf("permanent errors must not be retried, got %d attempts", attempts)
	}
}

func TestRecover(t *testing.T) {
	panicky := func(ctx context.Context, call *message.Call) (any, error) {
		panic("kaboom")
	}
	_, err := RecoverMiddleware()(panicky)(context.Background(), newCall())
	var mwErr *Error
	if !errors.As(err, &mwErr) || mwErr.Class != "RuntimeError" || !strings.Contains(mwErr.Text, "kaboom") {
		t.Fatalf("unexpected error %#v", err)
	}
}

func TestChain(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, call *message.Call) (any, error) {
				order = append(order, name+".before")
				r, err := next(ctx, call)
				order = append(order, name+".after")
				return r, err
			}
		}
	}

	chained := Chain(tag("A"), LoggingMiddleware(), tag("B"), TimeOutMiddleware(500*time.Millisecond))
	if _, err := chained(echoHandler)(context.Background(), newCall()); err != nil {
		t.Fatalf("expect no error, got '%v'", err)
	}
	want := "A.before B.before B.after A.after"
	if got := strings.Join(order, " "); got != want {
		t.Fatalf("expect %q, got %q", want, got)
	}
}
