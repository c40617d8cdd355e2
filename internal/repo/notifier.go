package repo

import (
	"errors"
	"fmt"
	"sync"
)

// EventKind names what changed in a repository.
type EventKind string

const (
	HistoryChanged    EventKind = "history_changed"
	ModelChanged      EventKind = "model_changed"
	RepositoryChanged EventKind = "repository_changed"
)

// Event is published once per successfully completed sync session.
type Event struct {
	Kind      EventKind
	Source    *Handle
	SessionID string
}

// Listener receives repository events. Implementations must be comparable
// (pointer receivers) so they can be unsubscribed.
type Listener interface {
	OnRepositoryEvent(Event) error
}

// Notifier is an ordered listener registry.
type Notifier struct {
	mu        sync.Mutex
	listeners []Listener
}

// NewNotifier creates an empty registry.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Subscribe registers l. Registering the same listener twice is a no-op.
func (n *Notifier) Subscribe(l Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, existing := range n.listeners {
		if existing == l {
			return
		}
	}
	n.listeners = append(n.listeners, l)
}

// Unsubscribe removes l if registered.
func (n *Notifier) Unsubscribe(l Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, existing := range n.listeners {
		if existing == l {
			n.listeners = append(n.listeners[:i:i], n.listeners[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered listeners.
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners)
}

// Publish delivers ev synchronously in registration order. A listener that
// fails or panics does not stop delivery to the rest; the joined failures are
// returned for logging.
func (n *Notifier) Publish(ev Event) error {
	n.mu.Lock()
	snapshot := make([]Listener, len(n.listeners))
	copy(snapshot, n.listeners)
	n.mu.Unlock()

	var errs []error
	for i, l := range snapshot {
		if err := deliver(l, ev); err != nil {
			errs = append(errs, fmt.Errorf("listener %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func deliver(l Listener, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return l.OnRepositoryEvent(ev)
}
