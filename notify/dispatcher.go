package notify

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Dispatcher serializes callbacks onto a single goroutine.
type Dispatcher struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

// NewDispatcher starts a dispatcher goroutine.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{done: make(chan struct{})}
	d.cond = sync.NewCond(&d.mu)
	go d.run()

	logrus.WithFields(logrus.Fields{
		"function": "NewDispatcher",
	}).Debug("Notification dispatcher started")

	return d
}

// Post enqueues fn for execution on the notification context. It never
// blocks. Post returns false if the dispatcher has been closed.
func (d *Dispatcher) Post(fn func()) bool {
	if fn == nil {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		logrus.WithFields(logrus.Fields{
			"function": "Post",
		}).Warn("Dispatcher closed, dropping callback")
		return false
	}

	d.queue = append(d.queue, fn)
	d.cond.Signal()
	return true
}

// Close stops accepting callbacks, runs everything already queued, and
// waits for the dispatcher goroutine to exit. Close must not be called from
// a callback running on the dispatcher.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()

	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 && d.closed {
			d.mu.Unlock()
			return
		}
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()

		for _, fn := range batch {
			d.invoke(fn)
		}
	}
}

// invoke runs fn and keeps the dispatcher alive if it panics.
func (d *Dispatcher) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"function": "invoke",
				"panic":    r,
			}).Error("Notification callback panicked")
		}
	}()
	fn()
}
