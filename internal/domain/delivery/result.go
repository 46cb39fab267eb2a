package delivery

import (
	"fmt"
	"time"
)

// DeliveryStatus is the outcome category reported by a transport
type DeliveryStatus int

const (
	StatusSuccess DeliveryStatus = iota
	StatusFailed
	StatusTimeout
	StatusUnavailable
	StatusRejected
)

func (s DeliveryStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	case StatusTimeout:
		return "timeout"
	case StatusUnavailable:
		return "unavailable"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// DeliveryResult is the outcome of one delivery attempt. Reason carries the
// error text for Failed and the refusal reason for Rejected.
type DeliveryResult struct {
	Status DeliveryStatus `json:"status"`
	Reason string         `json:"reason,omitempty"`
}

func Success() DeliveryResult { return DeliveryResult{Status: StatusSuccess} }

func Failed(reason string) DeliveryResult {
	return DeliveryResult{Status: StatusFailed, Reason: reason}
}

func Timeout() DeliveryResult { return DeliveryResult{Status: StatusTimeout} }

func Unavailable() DeliveryResult { return DeliveryResult{Status: StatusUnavailable} }

func Rejected(reason string) DeliveryResult {
	return DeliveryResult{Status: StatusRejected, Reason: reason}
}

func (r DeliveryResult) String() string {
	if r.Reason == "" {
		return r.Status.String()
	}
	return fmt.Sprintf("%s: %s", r.Status, r.Reason)
}

// Metadata keys set on every SerializedEvent
const (
	MetadataEventID        = "event_id"
	MetadataEventType      = "event_type"
	MetadataSubscriptionID = "subscription_id"
	// MetadataAckEnabled is "false" when the subscription does not wait for acks
	MetadataAckEnabled = "ack_enabled"
)

// SerializedEvent is the payload handed to the transport after the outbound pipeline
type SerializedEvent struct {
	Data        []byte            `json:"data"`
	ContentType string            `json:"content_type"`
	Encoding    string            `json:"encoding"`
	Compression string            `json:"compression,omitempty"`
	Encryption  string            `json:"encryption,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// PluginStatus is the connection state of a plugin
type PluginStatus int

const (
	PluginConnected PluginStatus = iota
	PluginDisconnected
	PluginError
	PluginBusy
)

func (s PluginStatus) String() string {
	switch s {
	case PluginConnected:
		return "connected"
	case PluginDisconnected:
		return "disconnected"
	case PluginError:
		return "error"
	case PluginBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// PluginHealth is reported by the connection manager
type PluginHealth struct {
	Status       PluginStatus      `json:"status"`
	LastActivity time.Time         `json:"last_activity"`
	ResponseTime time.Duration     `json:"response_time"`
	ErrorCount   uint64            `json:"error_count"`
	Details      map[string]string `json:"details,omitempty"`
}
