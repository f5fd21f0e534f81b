package events

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/mattjoyce/threadgate/internal/thread"
)

// UsersUpdateThreadsAlter fires before the pending threads list is sent to
// an operator. Listeners receive *ThreadsAlterArgs and may replace Threads.
const UsersUpdateThreadsAlter = "usersUpdateThreadsAlter"

// ThreadsAlterArgs is the payload of UsersUpdateThreadsAlter.
type ThreadsAlterArgs struct {
	// DispatchID is unique per Dispatch call.
	DispatchID string
	// Operator is the viewer, or nil when no session operator was resolved.
	Operator *thread.Operator
	Threads  []thread.Summary
}

// Listener handles one named event. args is the event-specific payload and
// is shared with the listeners that run after it.
type Listener func(ctx context.Context, args any)

// Subscriber is the registration side of the dispatcher.
type Subscriber interface {
	AttachListener(event string, l Listener)
}

// Dispatcher runs listeners for named events in registration order on the
// calling goroutine.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[string][]Listener
}

var _ Subscriber = (*Dispatcher)(nil)

func NewDispatcher() *Dispatcher {
	return &Dispatcher{listeners: make(map[string][]Listener)}
}

func (d *Dispatcher) AttachListener(event string, l Listener) {
	if l == nil {
		return
	}
	d.mu.Lock()
	d.listeners[event] = append(d.listeners[event], l)
	d.mu.Unlock()
}

// Dispatch calls every listener of event with args. It returns false when
// nothing is attached.
func (d *Dispatcher) Dispatch(ctx context.Context, event string, args any) bool {
	d.mu.RLock()
	ls := append([]Listener(nil), d.listeners[event]...)
	d.mu.RUnlock()

	if a, ok := args.(*ThreadsAlterArgs); ok && a.DispatchID == "" {
		a.DispatchID = uuid.NewString()
	}
	for _, l := range ls {
		if err := ctx.Err(); err != nil {
			return true
		}
		l(ctx, args)
	}
	return len(ls) > 0
}
