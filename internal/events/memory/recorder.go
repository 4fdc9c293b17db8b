package memory

import (
	"context"
	"sync"
)

// Published is one event delivered to a Recorder.
type Published struct {
	Topic string `json:"topic"`
	Event any    `json:"event"`
}

// Recorder keeps published events in delivery order. With a limit set only
// the most recent events are kept.
type Recorder struct {
	mu     sync.Mutex
	events []Published
	limit  int
}

// NewRecorder returns a recorder that keeps every event.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// NewBoundedRecorder keeps at most limit events.
func NewBoundedRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

// Publish appends event, dropping the oldest event when the limit is reached.
func (r *Recorder) Publish(ctx context.Context, topic string, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, Published{Topic: topic, Event: event})
	if r.limit > 0 && len(r.events) > r.limit {
		r.events = append(r.events[:0:0], r.events[len(r.events)-r.limit:]...)
	}
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Published {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := make([]Published, len(r.events))
	copy(copied, r.events)
	return copied
}

// Topic returns the events recorded under topic.
func (r *Recorder) Topic(topic string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []any
	for _, e := range r.events {
		if e.Topic == topic {
			out = append(out, e.Event)
		}
	}
	return out
}
