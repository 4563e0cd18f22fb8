// Package events carries the broadcast frames pushed to connected observers
// when requests are created and dispatched.
package events

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Broadcast channel names. Observers subscribe to one of these groups.
const (
	ChannelNewRequests = "new_requests"
	ChannelDispatched  = "dispatched"
)

// Frame type discriminators.
const (
	TypeNewRequest        = "new_request"
	TypeRequestDispatched = "request_dispatched"
)

// NewRequest announces a freshly created request on ChannelNewRequests.
type NewRequest struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// RequestDispatched announces a committed assignment on ChannelDispatched.
type RequestDispatched struct {
	Type      string    `json:"type"`
	RequestID string    `json:"request_id"`
	User      string    `json:"user"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher pushes a frame to a broadcast channel. Delivery is best effort:
// implementations attempt once and return the error for logging only, a
// failed broadcast never fails the operation that emitted it.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// PublishNewRequest broadcasts a new_request frame.
func PublishNewRequest(ctx context.Context, p Publisher, id, status string, ts time.Time) error {
	payload, err := jsoniter.Marshal(NewRequest{
		Type:      TypeNewRequest,
		ID:        id,
		Status:    status,
		Timestamp: ts,
	})
	if err != nil {
		return err
	}
	return p.Publish(ctx, ChannelNewRequests, payload)
}

// PublishRequestDispatched broadcasts a request_dispatched frame.
func PublishRequestDispatched(ctx context.Context, p Publisher, requestID, user string, ts time.Time) error {
	payload, err := jsoniter.Marshal(RequestDispatched{
		Type:      TypeRequestDispatched,
		RequestID: requestID,
		User:      user,
		Timestamp: ts,
	})
	if err != nil {
		return err
	}
	return p.Publish(ctx, ChannelDispatched, payload)
}

// NopPublisher drops every frame.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, []byte) error { return nil }
