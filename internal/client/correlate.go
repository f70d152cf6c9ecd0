package client

import (
	"time"

	"github.com/tinymq/tinymq-go/internal/wire"
)

// corrEntry is a one-shot delivery slot for a correlated response. The
// channel is buffered so delivery never blocks the reader.
type corrEntry struct {
	ch chan corrResult
}

type corrResult struct {
	payload []byte
	err     error
}

func (e *corrEntry) deliver(payload []byte, err error) {
	select {
	case e.ch <- corrResult{payload: payload, err: err}:
	default:
	}
}

// register installs a one-shot entry for responses of type t. A prior
// entry for the same type is superseded and its waiter released with
// ErrReplaced.
func (c *Client) register(t wire.Type) *corrEntry {
	e := &corrEntry{ch: make(chan corrResult, 1)}
	c.corrMu.Lock()
	if prev, ok := c.corr[t]; ok {
		prev.deliver(nil, ErrReplaced)
	}
	c.corr[t] = e
	c.corrMu.Unlock()
	return e
}

// unregister removes e unless a newer registration already took its
// place.
func (c *Client) unregister(t wire.Type, e *corrEntry) {
	c.corrMu.Lock()
	if c.corr[t] == e {
		delete(c.corr, t)
	}
	c.corrMu.Unlock()
}

// deliverCorrelated hands an inbound frame to a waiting request, if
// any. Called from the reader before the built-in routes.
func (c *Client) deliverCorrelated(f *wire.Frame) bool {
	c.corrMu.Lock()
	e, ok := c.corr[f.Type]
	if ok {
		delete(c.corr, f.Type)
	}
	c.corrMu.Unlock()
	if !ok {
		return false
	}
	e.deliver(f.Payload, nil)
	return true
}

// releaseWaiters fails every outstanding correlation waiter, called on
// teardown with ErrConnectionLost.
func (c *Client) releaseWaiters(err error) {
	c.corrMu.Lock()
	entries := make([]*corrEntry, 0, len(c.corr))
	for t, e := range c.corr {
		entries = append(entries, e)
		delete(c.corr, t)
	}
	c.corrMu.Unlock()

	for _, e := range entries {
		e.deliver(nil, err)
	}
}

// request sends f and waits up to the request timeout for the response
// frame of type want. Timeout and connection loss unregister the
// waiter; no resend is attempted.
func (c *Client) request(f *wire.Frame, want wire.Type) ([]byte, error) {
	e := c.register(want)

	if err := c.Send(f); err != nil {
		c.unregister(want, e)
		return nil, err
	}

	select {
	case res := <-e.ch:
		return res.payload, res.err
	case <-time.After(c.requestTimeout):
		c.unregister(want, e)
		// The response may have won the race with the timer.
		select {
		case res := <-e.ch:
			return res.payload, res.err
		default:
		}
		return nil, ErrTimeout
	}
}
