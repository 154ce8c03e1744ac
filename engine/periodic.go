package engine

import (
	"sync"
	"time"
)

// loop runs fn on a ticker in its own goroutine. start replaces a running
// loop, so there is never more than one goroutine per loop.
type loop struct {
	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func (l *loop) start(interval time.Duration, fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopLocked()

	stop := make(chan struct{})
	done := make(chan struct{})
	l.stop, l.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// halt blocks until the goroutine has exited. fn must not call halt.
func (l *loop) halt() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
}

func (l *loop) stopLocked() {
	if l.stop == nil {
		return
	}
	close(l.stop)
	<-l.done
	l.stop, l.done = nil, nil
}

func (l *loop) running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stop != nil
}
