package events

import (
	"encoding/json"
	"sync"
	"time"
)

// ThreadsFiltered is published on the Hub after each filter run.
const ThreadsFiltered = "threads.filtered"

// ThreadRouted is published when a visitor opens a thread with an operator code.
const ThreadRouted = "thread.routed"

// Record is one observation kept by the Hub.
type Record struct {
	Seq  int64           `json:"seq"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Hub fans records out to observers and keeps the most recent ones so late
// observers can catch up.
type Hub struct {
	mu      sync.Mutex
	seq     int64
	backlog []Record
	head    int
	count   int

	observers map[int]chan Record
	nextObs   int
	obsBuffer int
}

func NewHub(backlog int) *Hub {
	if backlog <= 0 {
		backlog = 256
	}
	return &Hub{
		backlog:   make([]Record, backlog),
		observers: make(map[int]chan Record),
		obsBuffer: 64,
	}
}

// Publish records data under kind. Observers that are not keeping up miss
// the record but can recover it from Since.
func (h *Hub) Publish(kind string, data any) Record {
	payload := json.RawMessage(`{}`)
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	// Seq is assigned under mu so backlog and observers see it in order.
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	rec := Record{
		Seq:  h.seq,
		Type: kind,
		At:   time.Now().UTC(),
		Data: payload,
	}
	h.appendLocked(rec)
	for _, ch := range h.observers {
		select {
		case ch <- rec:
		default:
		}
	}
	return rec
}

// Observe registers a new observer. The returned func unregisters it and
// closes the channel.
func (h *Hub) Observe() (<-chan Record, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextObs
	h.nextObs++
	ch := make(chan Record, h.obsBuffer)
	h.observers[id] = ch

	var once sync.Once
	stop := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.observers, id)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, stop
}

// Since returns retained records with Seq > after, oldest first.
func (h *Hub) Since(after int64) []Record {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Record, 0, h.count)
	for i := 0; i < h.count; i++ {
		rec := h.backlog[(h.head+i)%len(h.backlog)]
		if rec.Seq > after {
			out = append(out, rec)
		}
	}
	return out
}

func (h *Hub) appendLocked(rec Record) {
	n := len(h.backlog)
	if h.count < n {
		h.backlog[(h.head+h.count)%n] = rec
		h.count++
		return
	}
	h.backlog[h.head] = rec
	h.head = (h.head + 1) % n
}
