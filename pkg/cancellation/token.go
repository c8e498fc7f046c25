// Package cancellation provides the write-once flag that stops a pipeline run
package cancellation

import (
	"context"
	"sync"
	"time"
)

// Token is tripped at most once and never reset. The zero value is not
// usable; create tokens with New.
type Token struct {
	once sync.Once
	done chan struct{}
}

// New creates an untripped token
func New() *Token {
	return &Token{done: make(chan struct{})}
}

// Trip marks the token cancelled. Safe to call repeatedly and concurrently.
func (t *Token) Trip() {
	t.once.Do(func() { close(t.done) })
}

// Tripped reports whether Trip has been called
func (t *Token) Tripped() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the token trips
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Sleep waits for d or until the token trips, whichever comes first.
// It returns false if the wait was cut short by cancellation.
func (t *Token) Sleep(d time.Duration) bool {
	if d <= 0 {
		return !t.Tripped()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-t.done:
		return false
	case <-timer.C:
		return !t.Tripped()
	}
}

// Context returns a child of parent that is cancelled when the token trips
func (t *Token) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// TripOnDone trips the token when ctx is cancelled. The returned stop
// function releases the watcher goroutine.
func (t *Token) TripOnDone(ctx context.Context) (stop func()) {
	quit := make(chan struct{})
	var once sync.Once
	go func() {
		select {
		case <-ctx.Done():
			t.Trip()
		case <-quit:
		case <-t.done:
		}
	}()
	return func() { once.Do(func() { close(quit) }) }
}
