// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import "context"

// Pending is a cancellable handle on an asynchronous operation. It
// drives the identical code path as the blocking form, on its own
// goroutine.
type Pending[T any] struct {
	cancel context.CancelFunc
	done   chan struct{}

	value T
	err   error
}

// newPending runs fn on a goroutine under a child context.
func newPending[T any](ctx context.Context, fn func(context.Context) (T, error)) *Pending[T] {
	ctx, cancel := context.WithCancel(ctx)
	p := &Pending[T]{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		defer cancel()
		p.value, p.err = fn(ctx)
	}()
	return p
}

// Wait blocks until the operation finishes and returns its result. A
// cancelled operation returns context.Canceled unless the result had
// fully arrived first, in which case the result is delivered.
func (p *Pending[T]) Wait() (T, error) {
	<-p.done
	return p.value, p.err
}

// Cancel requests cancellation. It does not wait; a result that has
// already arrived is still delivered by Wait. Safe to call more than
// once.
func (p *Pending[T]) Cancel() {
	p.cancel()
}

// Done is closed when the operation has finished (successfully,
// with an error, or cancelled).
func (p *Pending[T]) Done() <-chan struct{} {
	return p.done
}
