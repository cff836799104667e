package finalize

import (
	"context"
	"sync"
)

// Pending is a value that a compositor will produce later.
type Pending[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

func NewPending[T any]() *Pending[T] {
	return &Pending[T]{done: make(chan struct{})}
}

// Resolved returns an already settled Pending.
func Resolved[T any](v T, err error) *Pending[T] {
	p := NewPending[T]()
	p.Resolve(v, err)
	return p
}

// Resolve settles the value. Later calls are ignored.
func (p *Pending[T]) Resolve(v T, err error) {
	p.once.Do(func() {
		p.val, p.err = v, err
		close(p.done)
	})
}

// Wait blocks until the value is settled or ctx ends.
func (p *Pending[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.val, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done reports whether the value has settled.
func (p *Pending[T]) Done() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
