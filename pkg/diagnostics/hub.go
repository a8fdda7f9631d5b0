package diagnostics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var droppedEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "exemptions_diagnostic_events_dropped_total",
	Help: "Diagnostic events dropped because an observer was not keeping up",
})

// DefaultBuffer is the per-observer queue length.
const DefaultBuffer = 16

// Hub retains the last published event and fans events out to registered
// observers. Publish never blocks: each observer has its own queue and events
// are dropped for an observer whose queue is full.
type Hub struct {
	mu     sync.RWMutex
	last   *Event
	subs   []*subscription
	closed bool
	wg     sync.WaitGroup
	logger zerolog.Logger
}

type subscription struct {
	observer Observer
	events   chan Event
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{logger: logger}
}

// Subscribe registers an observer. The observer is called from a dedicated
// goroutine, in publish order.
func (h *Hub) Subscribe(obs Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	sub := &subscription{observer: obs, events: make(chan Event, DefaultBuffer)}
	h.subs = append(h.subs, sub)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for ev := range sub.events {
			sub.observer.OnRequestCompleted(ev)
		}
	}()
}

// Publish records ev as the last event and queues it for every observer.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	last := ev
	h.last = &last
	if h.closed {
		return
	}

	for _, sub := range h.subs {
		select {
		case sub.events <- ev:
		default:
			droppedEventsTotal.Inc()
			h.logger.Debug().Str("url", ev.URL).Msg("Observer queue full, dropping diagnostic event")
		}
	}
}

// Last returns the most recently published event.
func (h *Hub) Last() (Event, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.last == nil {
		return Event{}, false
	}
	return *h.last, true
}

// Close stops delivery and waits for observers to drain their queues.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for _, sub := range h.subs {
		close(sub.events)
	}
	h.mu.Unlock()

	h.wg.Wait()
}
