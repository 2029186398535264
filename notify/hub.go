package notify

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultSubscriptionBuffer is the channel capacity of a new subscription.
const DefaultSubscriptionBuffer = 16

// RecipientEvent reports that a recipient's directory entry changed.
type RecipientEvent struct {
	Recipient int64
	// SeenUnregistered is the preference value after the change.
	SeenUnregistered bool
	// Removed is set when the recipient disappeared from the directory.
	Removed bool
}

// Subscription receives events for one recipient.
type Subscription struct {
	ID        uuid.UUID
	Recipient int64
	C         <-chan RecipientEvent

	ch chan RecipientEvent
}

// Hub fans recipient events out to subscribers via a Dispatcher.
type Hub struct {
	dispatcher *Dispatcher

	mu   sync.RWMutex
	subs map[int64]map[uuid.UUID]*Subscription
}

// NewHub creates a hub delivering on d.
func NewHub(d *Dispatcher) *Hub {
	return &Hub{
		dispatcher: d,
		subs:       make(map[int64]map[uuid.UUID]*Subscription),
	}
}

// Subscribe registers interest in recipient.
func (h *Hub) Subscribe(recipient int64) *Subscription {
	ch := make(chan RecipientEvent, DefaultSubscriptionBuffer)
	sub := &Subscription{
		ID:        uuid.New(),
		Recipient: recipient,
		C:         ch,
		ch:        ch,
	}

	h.mu.Lock()
	set, ok := h.subs[recipient]
	if !ok {
		set = make(map[uuid.UUID]*Subscription)
		h.subs[recipient] = set
	}
	set[sub.ID] = sub
	h.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":        "Subscribe",
		"recipient_id":    recipient,
		"subscription_id": sub.ID.String(),
	}).Debug("Recipient subscription added")

	return sub
}

// Unsubscribe removes sub and closes its channel. Unsubscribing twice is a
// no-op. The close happens on the notification context so it cannot race
// with an in-flight delivery.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	set, ok := h.subs[sub.Recipient]
	if ok {
		if _, present := set[sub.ID]; !present {
			ok = false
		}
		delete(set, sub.ID)
		if len(set) == 0 {
			delete(h.subs, sub.Recipient)
		}
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	if !h.dispatcher.Post(func() { close(sub.ch) }) {
		// dispatcher is shutting down; once it has drained nothing else can deliver
		<-h.dispatcher.done
		close(sub.ch)
	}
}

// Publish queues ev for every subscriber of ev.Recipient.
func (h *Hub) Publish(ev RecipientEvent) {
	h.dispatcher.Post(func() { h.deliver(ev) })
}

// deliver runs on the notification context.
func (h *Hub) deliver(ev RecipientEvent) {
	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.subs[ev.Recipient]))
	for _, sub := range h.subs[ev.Recipient] {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.ch <- ev:
		default:
			logrus.WithFields(logrus.Fields{
				"function":        "deliver",
				"recipient_id":    ev.Recipient,
				"subscription_id": sub.ID.String(),
			}).Warn("Subscriber buffer full, dropping recipient event")
		}
	}
}
