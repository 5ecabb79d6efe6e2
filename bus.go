package main

import (
	"sync"
)

// StopSignal tells the controller of exactly one connector to end its
// session. Every observer sees every signal; controllers discard ids that
// are not their own.
type StopSignal struct {
	ConnectorID int
}

// StopBus broadcasts stop signals to all registered observers. Publishing
// never blocks: when an observer's queue is full the oldest queued signal
// is dropped to make room.
type StopBus struct {
	mu        sync.Mutex
	observers []*StopObserver
	queueLen  int
}

// StopObserver is one controller's registration on the bus. Observers must
// be registered before waiting and unsubscribed on every exit path, or a
// later controller on the same connector would inherit stale signals.
type StopObserver struct {
	ch  chan StopSignal
	bus *StopBus
}

func NewStopBus(queueLen int) *StopBus {
	if queueLen <= 0 {
		queueLen = 8
	}
	return &StopBus{queueLen: queueLen}
}

func (b *StopBus) Subscribe() *StopObserver {
	obs := &StopObserver{
		ch:  make(chan StopSignal, b.queueLen),
		bus: b,
	}
	b.mu.Lock()
	b.observers = append(b.observers, obs)
	b.mu.Unlock()
	return obs
}

// Publish delivers the signal to every observer registered right now.
func (b *StopBus) Publish(sig StopSignal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, obs := range b.observers {
		select {
		case obs.ch <- sig:
		default:
			// drop oldest if queue full
			select {
			case <-obs.ch:
			default:
			}
			select {
			case obs.ch <- sig:
			default:
			}
		}
	}
}

func (b *StopBus) unsubscribe(obs *StopObserver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, o := range b.observers {
		if o == obs {
			b.observers = append(b.observers[:i], b.observers[i+1:]...)
			close(obs.ch)
			return
		}
	}
}

func (o *StopObserver) C() <-chan StopSignal { return o.ch }

func (o *StopObserver) Unsubscribe() { o.bus.unsubscribe(o) }
