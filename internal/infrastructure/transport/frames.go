package transport

import (
	"time"

	"github.com/davidleathers/plugin-event-delivery/internal/domain/delivery"
)

// Frame types exchanged with plugins
const (
	FrameEvent = "event"
	FrameAck   = "ack"
	FramePing  = "ping"
	FramePong  = "pong"
)

// Ack statuses a plugin may answer with
const (
	AckSuccess     = "success"
	AckFailed      = "failed"
	AckRejected    = "rejected"
	AckBusy        = "busy"
	AckUnavailable = "unavailable"
)

// EventFrame carries one serialized event to a plugin
type EventFrame struct {
	Type        string                    `json:"type"`
	DeliveryID  string                    `json:"delivery_id"`
	AckRequired bool                      `json:"ack_required"`
	Event       *delivery.SerializedEvent `json:"event"`
	SentAt      time.Time                 `json:"sent_at"`
}

// ClientFrame is anything a plugin sends back: acks and keepalive pings
type ClientFrame struct {
	Type       string `json:"type"`
	DeliveryID string `json:"delivery_id,omitempty"`
	Status     string `json:"status,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// result maps an ack to the delivery outcome
func (f ClientFrame) result() delivery.DeliveryResult {
	switch f.Status {
	case AckSuccess:
		return delivery.Success()
	case AckRejected:
		return delivery.Rejected(f.Reason)
	case AckBusy, AckUnavailable:
		return delivery.Unavailable()
	case AckFailed:
		return delivery.Failed(f.Reason)
	default:
		return delivery.Failed("unknown ack status " + f.Status)
	}
}
