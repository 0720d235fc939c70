package appcore

import "sync"

const (
	defaultSubscriberBuffer = 16
	maxRememberedRuns       = 1024
)

// EventHub is an Observer that lets other goroutines follow a run by id.
// Slow subscribers lose events rather than stall the pipeline.
type EventHub struct {
	mu     sync.Mutex
	buffer int
	nextID int
	subs   map[string]map[int]chan Event
	last   map[string]Event
	order  []string
}

func NewEventHub(buffer int) *EventHub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &EventHub{
		buffer: buffer,
		subs:   make(map[string]map[int]chan Event),
		last:   make(map[string]Event),
	}
}

func (h *EventHub) OnEvent(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, seen := h.last[e.RunID]; !seen {
		h.order = append(h.order, e.RunID)
		h.evictLocked()
	}
	h.last[e.RunID] = e

	for id, ch := range h.subs[e.RunID] {
		select {
		case ch <- e:
		default:
		}
		if e.Stage.IsTerminal() {
			close(ch)
			delete(h.subs[e.RunID], id)
		}
	}
	if e.Stage.IsTerminal() {
		delete(h.subs, e.RunID)
	}
}

// Subscribe returns a channel of events for runID starting with the latest
// known one. The channel is closed after a terminal event or on cancel.
func (h *EventHub) Subscribe(runID string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, h.buffer)
	last, ok := h.last[runID]
	if ok {
		ch <- last
		if last.Stage.IsTerminal() {
			close(ch)
			return ch, func() {}
		}
	}

	h.nextID++
	id := h.nextID
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[int]chan Event)
	}
	h.subs[runID][id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[runID][id]; ok {
			close(sub)
			delete(h.subs[runID], id)
			if len(h.subs[runID]) == 0 {
				delete(h.subs, runID)
			}
		}
	}
}

// Last returns the most recent event seen for runID.
func (h *EventHub) Last(runID string) (Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.last[runID]
	return e, ok
}

func (h *EventHub) evictLocked() {
	for len(h.order) > maxRememberedRuns {
		oldest := h.order[0]
		h.order = h.order[1:]
		delete(h.last, oldest)
	}
}
