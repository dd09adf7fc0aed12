package transport

import (
	"sync"

	pkgerrors "github.com/pkg/errors"

	"duplex-rpc/message"
)

// Pipe returns two connected in-process transports. Each direction has its own unbounded queue
// and delivery goroutine, so Send never blocks and order is preserved.
//
// Envelopes are normalized on the way (structs become maps, integers widen) so receivers see the
// same shapes a codec would produce.
func Pipe(opts ...Option) (Transport, Transport) {
	o := buildOptions(opts)
	a, b := newPipeEnd(o), newPipeEnd(o)
	a.peer, b.peer = b, a
	go a.pump()
	go b.pump()
	return a, b
}

type pipeEnd struct {
	base
	peer *pipeEnd

	// Envelopes waiting to be delivered to this end.
	qmu    sync.Mutex
	queue  []message.Map
	signal chan struct{}
	done   chan struct{} // closed when pump exits
}

func newPipeEnd(o options) *pipeEnd {
	e := &pipeEnd{signal: make(chan struct{}, 1), done: make(chan struct{})}
	e.init(o.inboxSize)
	e.release = e.wake
	return e
}

func (e *pipeEnd) Send(msg message.Map) error {
	if e.isClosed() || e.peer.isClosed() {
		return ErrClosed
	}
	plain, err := message.Normalize(msg)
	if err != nil {
		return pkgerrors.Wrap(err, "transport: pipe")
	}
	e.peer.push(plain.(map[string]any))
	return nil
}

func (e *pipeEnd) push(msg message.Map) {
	e.qmu.Lock()
	e.queue = append(e.queue, msg)
	e.qmu.Unlock()
	e.wake()
}

func (e *pipeEnd) wake() {
	select {
	case e.signal <- struct{}{}:
	default:
	}
}

func (e *pipeEnd) pump() {
	var cause error
	defer func() {
		close(e.done)
		e.shutdown(cause)
	}()

	for range e.signal {
		for {
			if e.isClosed() {
				return
			}
			e.qmu.Lock()
			if len(e.queue) == 0 {
				e.qmu.Unlock()
				break
			}
			msg := e.queue[0]
			e.queue[0] = nil
			e.queue = e.queue[1:]
			e.qmu.Unlock()

			if err := e.loopDeliver(msg); err != nil {
				if err != ErrClosed {
					cause = err
				}
				return
			}
		}
	}
}

// shutdown closes this end with cause and the peer as an orderly close.
func (e *pipeEnd) shutdown(cause error) {
	e.terminate(cause)
	e.peer.terminate(nil)
}

// Close closes both ends and waits for this end's delivery goroutine, unless called from a
// receiver running on it.
func (e *pipeEnd) Close() error {
	e.shutdown(nil)
	e.join(e.done)
	return nil
}

// DirectPair returns two connected in-process transports that deliver synchronously: Send on one
// end runs the other end's receiver on the calling goroutine before returning.
func DirectPair(opts ...Option) (Transport, Transport) {
	o := buildOptions(opts)
	a, b := &directEnd{}, &directEnd{}
	a.init(o.inboxSize)
	b.init(o.inboxSize)
	a.peer, b.peer = b, a
	return a, b
}

type directEnd struct {
	base
	peer *directEnd
}

// Send returns once the peer has consumed msg. A receiver error aborts the peer, which in turn
// closes this end; the send itself still counts as delivered.
func (e *directEnd) Send(msg message.Map) error {
	if e.isClosed() || e.peer.isClosed() {
		return ErrClosed
	}
	plain, err := message.Normalize(msg)
	if err != nil {
		return pkgerrors.Wrap(err, "transport: direct")
	}
	if err := e.peer.deliver(plain.(map[string]any), &e.peer.closed); err != nil {
		if err == ErrClosed {
			return err
		}
		e.peer.terminate(err)
		e.terminate(nil)
	}
	return nil
}

func (e *directEnd) Close() error {
	e.terminate(nil)
	e.peer.terminate(nil)
	return nil
}
