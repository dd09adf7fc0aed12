package transport

import (
	"sync"
	"sync/atomic"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"

	"duplex-rpc/message"
)

// inbox routes incoming envelopes to the receiver, parking them in a bounded ring until one is set.
//
// The receiver pointer only becomes visible once the ring is empty, so everything buffered is
// delivered before anything that arrives later. The ring itself is single-producer single-consumer;
// mu serializes both sides because a DirectPair may deliver from several goroutines.
type inbox struct {
	mu   sync.Mutex
	ring lfq.SPSC[message.Map]
	recv Receiver
}

func (in *inbox) init(size int) {
	in.ring.Init(size)
}

// deliver hands msg to the receiver or buffers it. When the ring is full the producer backs off
// until the receiver drains it or the transport closes.
func (in *inbox) deliver(msg message.Map, closed *atomix.Uint32) error {
	var bo iox.Backoff
	for {
		in.mu.Lock()
		if fn := in.recv; fn != nil {
			in.mu.Unlock()
			return fn(msg)
		}
		err := in.ring.Enqueue(&msg)
		in.mu.Unlock()
		if err == nil {
			return nil
		}
		if closed.Load() != 0 {
			return ErrClosed
		}
		bo.Wait()
	}
}

// attach drains the ring into fn, one envelope at a time outside the lock, then installs fn.
// It returns the first receiver error; fn is not installed in that case.
func (in *inbox) attach(fn Receiver) error {
	for {
		in.mu.Lock()
		msg, err := in.ring.Dequeue()
		if err != nil {
			// Empty: from now on deliver calls fn directly.
			in.recv = fn
			in.mu.Unlock()
			return nil
		}
		in.mu.Unlock()
		if err := fn(msg); err != nil {
			return err
		}
	}
}

// base carries what every transport shares: the inbox, the closed flag and close observers.
type base struct {
	inbox
	closed atomix.Uint32

	obsMu     sync.Mutex
	observers []func(error)
	cause     error
	finished  bool

	// release is run once by terminate before observers fire.
	release func()

	// Set while the delivery goroutine is inside the receiver.
	inLoop atomic.Bool
}

// loopDeliver is deliver as called by a transport's own delivery goroutine.
func (b *base) loopDeliver(msg message.Map) error {
	b.inLoop.Store(true)
	defer b.inLoop.Store(false)
	return b.deliver(msg, &b.closed)
}

// join waits for done, the delivery goroutine's exit. While that goroutine is inside the
// receiver, Close may be running on it, so join returns at once; the goroutine sees the
// closed flag and exits after the receiver returns.
func (b *base) join(done <-chan struct{}) {
	if b.inLoop.Load() {
		return
	}
	<-done
}

func (b *base) isClosed() bool {
	return b.closed.Load() != 0
}

func (b *base) SetReceiver(fn Receiver) {
	if err := b.attach(fn); err != nil {
		log.Errorf("receiver rejected a buffered envelope: %v", err)
		b.terminate(err)
	}
}

func (b *base) OnClose(fn func(err error)) {
	b.obsMu.Lock()
	if b.finished {
		cause := b.cause
		b.obsMu.Unlock()
		fn(cause)
		return
	}
	b.observers = append(b.observers, fn)
	b.obsMu.Unlock()
}

// terminate marks the transport closed, releases it and fires the observers.
// Only the first call does anything; it never waits for the receive loop.
func (b *base) terminate(cause error) bool {
	if b.closed.Add(1) != 1 {
		return false
	}
	if b.release != nil {
		b.release()
	}

	b.obsMu.Lock()
	b.finished = true
	b.cause = cause
	observers := b.observers
	b.observers = nil
	b.obsMu.Unlock()

	for _, fn := range observers {
		fn(cause)
	}
	return true
}
