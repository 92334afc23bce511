package notify

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Sent is one notification captured by a Recorder.
type Sent struct {
	UserID primitive.ObjectID
	Message
}

// Event is one realtime event captured by a Recorder.
type Event struct {
	UserID  primitive.ObjectID
	Name    string
	Payload interface{}
}

// Recorder is a synchronous Notifier for tests and local runs.
type Recorder struct {
	mu     sync.Mutex
	sent   []Sent
	events []Event
}

var _ Notifier = (*Recorder)(nil)

func (r *Recorder) Notify(_ context.Context, userID primitive.ObjectID, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Sent{UserID: userID, Message: msg})
}

func (r *Recorder) Publish(userID primitive.ObjectID, event string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{UserID: userID, Name: event, Payload: payload})
}

func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// SentTo returns the notifications delivered to userID.
func (r *Recorder) SentTo(userID primitive.ObjectID) []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Sent
	for _, s := range r.sent {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
