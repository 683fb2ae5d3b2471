// Package notification provides the notification manager for broadcasting
// events to connected viewers.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message kinds pushed to viewers.
const (
	TypeTrackChange   = "track-change"
	TypeQueueData     = "queue-data"
	TypeUserQueue     = "user-queue"
	TypeLoginResult   = "login-result"
	TypeQueueUpdate   = "queue-update"
	TypeQueueError    = "queue-error"
	TypeSearchResults = "search-results"
	TypeSongAnalysis  = "song-analysis"
	TypePlaylistData  = "playlist-data"
	TypeAccessUpdated = "access-updated"
)

// Message is one event on the wire. Seq is assigned by the manager on
// broadcast so viewers can detect missed events.
type Message struct {
	Type    string `json:"type"`
	Seq     uint64 `json:"seq,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// New creates a message of the given kind.
func New(msgType string, payload any) *Message {
	return &Message{Type: msgType, Payload: payload}
}

// Stream represents a notification stream for a subscriber.
type Stream interface {
	Send(*Message) error
}

// subscription represents a subscriber's subscription.
type subscription struct {
	id     string
	stream Stream
}

// Manager manages notification subscriptions and broadcasting.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
func (m *Manager) Subscribe(stream Stream) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = &subscription{
		id:     id,
		stream: stream,
	}
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
}

// Broadcast sends a message to all subscribers.
// Each stream send is done in a goroutine with a timeout so one slow viewer
// cannot block the rest.
func (m *Manager) Broadcast(msg *Message) {
	m.sequenceNoMu.Lock()
	m.sequenceNo++
	msg.Seq = m.sequenceNo
	m.sequenceNoMu.Unlock()

	m.mu.RLock()
	// Copy subscriptions to avoid holding lock during sends
	subs := make([]*subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.stream.Send(msg)
			}()

			select {
			case <-done:
				// Send errors are ignored; the subscription is removed when
				// its connection closes.
			case <-ctx.Done():
				// Timeout - continue to next subscriber
			}
		}(sub)
	}

	wg.Wait()
}

// Send sends a message to a specific subscriber.
func (m *Manager) Send(subscriptionID string, msg *Message) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.subscriptions[subscriptionID]
	if !ok {
		return nil
	}

	return sub.stream.Send(msg)
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close closes the manager and removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription)
}
