package delivery

import "time"

// DeadLetter is an event the engine gave up on, either because retries were
// exhausted or because the plugin rejected it.
type DeadLetter struct {
	SubscriptionID string         `json:"subscription_id"`
	PluginID       string         `json:"plugin_id"`
	Event          Event          `json:"event"`
	Attempts       uint32         `json:"attempts"`
	Result         DeliveryResult `json:"result"`
	FailedAt       time.Time      `json:"failed_at"`
}
