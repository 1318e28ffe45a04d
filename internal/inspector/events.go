package inspector

import "encoding/json"

// Event is the tagged union broadcast to WebSocket subscribers,
// matching the {"type": ..., "data": ...} wire shape of
// original_source's InspectorEvent.
type Event interface {
	eventType() string
}

type RequestEvent struct{ Request CapturedRequest }

func (RequestEvent) eventType() string { return "request" }

// ClearEvent's TunnelID is empty when all tunnels were cleared.
type ClearEvent struct{ TunnelID string }

func (ClearEvent) eventType() string { return "clear" }

type TunnelRegisteredEvent struct{ Tunnel RegisteredTunnel }

func (TunnelRegisteredEvent) eventType() string { return "tunnel_registered" }

type TunnelUnregisteredEvent struct{ TunnelID string }

func (TunnelUnregisteredEvent) eventType() string { return "tunnel_unregistered" }

type TunnelStatusEvent struct {
	TunnelID string
	Status   TunnelStatus
}

func (TunnelStatusEvent) eventType() string { return "tunnel_status" }

type TunnelUpdatedEvent struct{ Tunnel RegisteredTunnel }

func (TunnelUpdatedEvent) eventType() string { return "tunnel_updated" }

// wireEvent is the JSON envelope written to WebSocket subscribers.
type wireEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func encodeEvent(ev Event) ([]byte, error) {
	var data any
	switch e := ev.(type) {
	case RequestEvent:
		data = e.Request
	case ClearEvent:
		data = map[string]string{"tunnel_id": e.TunnelID}
	case TunnelRegisteredEvent:
		data = e.Tunnel
	case TunnelUnregisteredEvent:
		data = map[string]string{"tunnel_id": e.TunnelID}
	case TunnelStatusEvent:
		data = map[string]any{"tunnel_id": e.TunnelID, "status": e.Status}
	case TunnelUpdatedEvent:
		data = e.Tunnel
	}
	return json.Marshal(wireEvent{Type: ev.eventType(), Data: data})
}
