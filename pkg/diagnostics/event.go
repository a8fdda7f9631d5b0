// Package diagnostics carries the per-request diagnostic events emitted by
// the upstream client. Events are for inspection only; nothing in the lookup
// flow makes decisions based on them.
package diagnostics

import "time"

// Event describes the outcome of one logical upstream request, after any
// rate-limit retries.
type Event struct {
	URL         string    `json:"url"`
	Status      int       `json:"status"`
	TokenSent   bool      `json:"token_sent"`
	Retries     int       `json:"retries"`
	RateLimited bool      `json:"rate_limited"`
	Time        time.Time `json:"time"`
}

// Observer receives completed request events.
type Observer interface {
	OnRequestCompleted(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// OnRequestCompleted calls f(ev).
func (f ObserverFunc) OnRequestCompleted(ev Event) {
	f(ev)
}

// Publisher accepts completed request events.
type Publisher interface {
	Publish(Event)
}
