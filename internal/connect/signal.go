package connect

import (
	"context"
	"sync"
	"time"
)

// Signal is an external approval/event delivered to a suspended wait step.
type Signal struct {
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload,omitempty"`
}

// SignalSource is the wait/approval collaborator. Await blocks until a
// signal for the given name arrives, the timeout elapses (nil Signal, nil
// error), or ctx is cancelled. A zero timeout means wait indefinitely.
type SignalSource interface {
	Await(ctx context.Context, name string, timeout time.Duration) (*Signal, error)
}

// ChannelSignalSource is an in-process SignalSource backed by one buffered
// channel per signal name, so a waiter only ever sees its own signals.
// Suitable for embedding and tests.
type ChannelSignalSource struct {
	mu    sync.Mutex
	names map[string]chan Signal
}

// NewChannelSignalSource creates an empty ChannelSignalSource.
func NewChannelSignalSource() *ChannelSignalSource {
	return &ChannelSignalSource{names: make(map[string]chan Signal)}
}

// channel returns the buffered channel for a signal name, creating it on
// first use by either side.
func (s *ChannelSignalSource) channel(name string) chan Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.names[name]
	if !ok {
		ch = make(chan Signal, 16)
		s.names[name] = ch
	}
	return ch
}

// Deliver sends a signal to its name's waiters. Non-blocking: returns false
// if that name's buffer is full.
func (s *ChannelSignalSource) Deliver(sig Signal) bool {
	select {
	case s.channel(sig.Name) <- sig:
		return true
	default:
		return false
	}
}

// Await implements SignalSource.
func (s *ChannelSignalSource) Await(ctx context.Context, name string, timeout time.Duration) (*Signal, error) {
	var expire <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expire = timer.C
	}

	select {
	case sig := <-s.channel(name):
		return &sig, nil
	case <-expire:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
