// internal/relay/broker.go
package relay

import "context"

// Envelope is one room-directed event crossing the fan-out channel.
// ExcludeID names a participant to skip at delivery time; relay events are
// never echoed back to their sender.
type Envelope struct {
	RoomID    string                 `json:"roomId"`
	ExcludeID string                 `json:"excludeId,omitempty"`
	Event     map[string]interface{} `json:"event"`
}

// Handler receives envelopes published to a subscribed room.
type Handler func(Envelope)

// Broker fans room events out to every instance holding members of the room.
// Publish loops back to the publishing instance too, so local and remote
// delivery share one code path.
type Broker interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe registers a handler for a room and returns its unsubscribe
	// function.
	Subscribe(roomID string, h Handler) (func(), error)
	Close() error
}
