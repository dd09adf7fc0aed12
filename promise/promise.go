// Package promise provides a single-assignment result container with completion observers.
//
// A Promise starts pending and is completed exactly once, either with SetSuccess or SetFail.
// Observers can be attached at any time:
//
//	p.Success(func(data any) { ... }).
//		Fail(func(err error) { ... }).
//		Always(func(p *Promise) { ... })
//
// Observers attached before completion are queued and fired in registration order when the
// promise completes; Always observers run after the Success/Fail ones. Observers attached after
// completion run immediately on the calling goroutine. Every observer runs at most once.
package promise

import (
	"context"
	"errors"
	"sync"
)

// ErrAlreadyCompleted is returned by a second SetSuccess/SetFail.
var ErrAlreadyCompleted = errors.New("promise: state is already set")

type State int32

const (
	Pending State = iota
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return "pending"
}

type Promise struct {
	mu    sync.Mutex
	state State
	data  any
	err   error

	success []func(data any)
	fail    []func(err error)
	always  []func(p *Promise)

	done chan struct{}
}

func New() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Success adds an observer for the success outcome.
func (p *Promise) Success(fn func(data any)) *Promise {
	p.mu.Lock()
	switch p.state {
	case Pending:
		p.success = append(p.success, fn)
		p.mu.Unlock()
	case Succeeded:
		data := p.data
		p.mu.Unlock()
		fn(data)
	default:
		p.mu.Unlock()
	}
	return p
}

// Fail adds an observer for the failure outcome.
func (p *Promise) Fail(fn func(err error)) *Promise {
	p.mu.Lock()
	switch p.state {
	case Pending:
		p.fail = append(p.fail, fn)
		p.mu.Unlock()
	case Failed:
		err := p.err
		p.mu.Unlock()
		fn(err)
	default:
		p.mu.Unlock()
	}
	return p
}

// Always adds an observer for either outcome. It receives the promise itself so it can inspect
// the state, Data and Err.
func (p *Promise) Always(fn func(p *Promise)) *Promise {
	p.mu.Lock()
	if p.state == Pending {
		p.always = append(p.always, fn)
		p.mu.Unlock()
		return p
	}
	p.mu.Unlock()
	fn(p)
	return p
}

// SetSuccess completes the promise with data and fires the success and always observers.
func (p *Promise) SetSuccess(data any) error {
	p.mu.Lock()
	if p.state != Pending {
		p.mu.Unlock()
		return ErrAlreadyCompleted
	}
	p.state, p.data = Succeeded, data
	success, always := p.success, p.always
	p.clear()
	p.mu.Unlock()

	for _, fn := range success {
		fn(data)
	}
	p.finish(always)
	return nil
}

// SetFail completes the promise with err and fires the fail and always observers.
func (p *Promise) SetFail(err error) error {
	p.mu.Lock()
	if p.state != Pending {
		p.mu.Unlock()
		return ErrAlreadyCompleted
	}
	p.state, p.err = Failed, err
	fail, always := p.fail, p.always
	p.clear()
	p.mu.Unlock()

	for _, fn := range fail {
		fn(err)
	}
	p.finish(always)
	return nil
}

// Complete is SetFail when err is non-nil, else SetSuccess.
func (p *Promise) Complete(data any, err error) error {
	if err != nil {
		return p.SetFail(err)
	}
	return p.SetSuccess(data)
}

func (p *Promise) clear() {
	p.success, p.fail, p.always = nil, nil, nil
	close(p.done)
}

func (p *Promise) finish(always []func(*Promise)) {
	for _, fn := range always {
		fn(p)
	}
}

func (p *Promise) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Promise) Succeeded() bool { return p.State() == Succeeded }
func (p *Promise) Failed() bool    { return p.State() == Failed }
func (p *Promise) Completed() bool { return p.State() != Pending }

// Data returns the success value, or nil.
func (p *Promise) Data() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data
}

// Err returns the failure value, or nil.
func (p *Promise) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Done is closed when the promise completes.
func (p *Promise) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until completion or until ctx is done. Giving up only stops this wait;
// the promise itself stays pending.
func (p *Promise) Wait(ctx context.Context) (any, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data, p.err
}
