package scheduler

import "sync"

// Handle controls a running poll loop.
type Handle struct {
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newHandle() *Handle {
	return &Handle{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Stop ends the poll loop. It does not wait for an in-progress tick, so it
// may be called from inside a task callback. Calling Stop more than once is a no-op.
func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.stopOnce.Do(func() { close(h.stop) })
}

// Done is closed once the poll loop has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the poll loop has exited.
func (h *Handle) Wait() {
	<-h.done
}

func (h *Handle) stopped() bool {
	select {
	case <-h.stop:
		return true
	default:
		return false
	}
}
