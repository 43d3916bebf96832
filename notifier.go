package cache

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Notifier delivers events to callbacks on a single goroutine, in the order
// they were emitted. Emitting never blocks, so engines may emit while holding
// their own locks.
type Notifier[K comparable, V any] struct {
	callbacks   []func(Event[K, V])
	callbacksMu sync.RWMutex

	mu          sync.Mutex
	cond        *sync.Cond
	queue       []Event[K, V]
	dispatching bool
	closed      bool
	done        chan struct{}

	logger *logrus.Entry
}

func NewNotifier[K comparable, V any](logger *logrus.Logger) *Notifier[K, V] {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	n := &Notifier[K, V]{
		done:   make(chan struct{}),
		logger: logger.WithField("component", "go-cache.notifier"),
	}
	n.cond = sync.NewCond(&n.mu)
	go n.run()
	return n
}

func (n *Notifier[K, V]) AddCallback(callback func(Event[K, V])) {
	n.callbacksMu.Lock()
	defer n.callbacksMu.Unlock()
	n.callbacks = append(n.callbacks, callback)
}

func (n *Notifier[K, V]) Subscribe(observer Observer[K, V]) {
	n.AddCallback(func(ev Event[K, V]) {
		Dispatch(ev, observer)
	})
}

func (n *Notifier[K, V]) emit(ev Event[K, V]) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		n.logger.WithField("type", ev.Type().String()).Debug("dropping event emitted after close")
		return
	}
	n.queue = append(n.queue, ev)
	n.mu.Unlock()
	n.cond.Broadcast()
}

// Flush waits until every event emitted so far has been delivered.
// It must not be called from inside a callback.
func (n *Notifier[K, V]) Flush() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for len(n.queue) > 0 || n.dispatching {
		n.cond.Wait()
	}
}

// Close delivers the remaining queued events and stops the dispatcher.
func (n *Notifier[K, V]) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.done
		return
	}
	n.closed = true
	n.mu.Unlock()
	n.cond.Broadcast()
	<-n.done
}

func (n *Notifier[K, V]) run() {
	defer close(n.done)
	for {
		n.mu.Lock()
		for len(n.queue) == 0 && !n.closed {
			n.cond.Wait()
		}
		if len(n.queue) == 0 {
			n.mu.Unlock()
			return
		}
		ev := n.queue[0]
		var zero Event[K, V]
		n.queue[0] = zero
		n.queue = n.queue[1:]
		n.dispatching = true
		n.mu.Unlock()

		n.dispatch(ev)

		n.mu.Lock()
		n.dispatching = false
		n.mu.Unlock()
		n.cond.Broadcast()
	}
}

func (n *Notifier[K, V]) dispatch(ev Event[K, V]) {
	n.callbacksMu.RLock()
	callbacks := n.callbacks
	n.callbacksMu.RUnlock()
	for _, callback := range callbacks {
		n.invoke(callback, ev)
	}
}

func (n *Notifier[K, V]) invoke(callback func(Event[K, V]), ev Event[K, V]) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.WithFields(logrus.Fields{
				"type":  ev.Type().String(),
				"panic": r,
			}).Error("event callback panicked")
		}
	}()
	callback(ev)
}
