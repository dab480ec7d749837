package task

import "sync/atomic"

// CancelToken signals cooperative cancellation. The execution loop
// polls it only at its suspension points (awaiting the provider,
// awaiting a tool call); nothing is torn down forcefully.
type CancelToken struct {
	cancelled atomic.Bool
	ch        chan struct{}
}

// NewCancelToken returns an unsignalled token.
func NewCancelToken() *CancelToken {
	return &CancelToken{ch: make(chan struct{})}
}

// Cancel signals the token. Safe to call more than once.
func (c *CancelToken) Cancel() {
	if c.cancelled.CompareAndSwap(false, true) {
		close(c.ch)
	}
}

// Cancelled reports whether the token has been signalled.
func (c *CancelToken) Cancelled() bool {
	return c.cancelled.Load()
}

// Done returns a channel closed when the token is signalled, for use
// in select statements.
func (c *CancelToken) Done() <-chan struct{} {
	return c.ch
}
