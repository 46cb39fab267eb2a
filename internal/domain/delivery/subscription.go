package delivery

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/davidleathers/plugin-event-delivery/internal/domain/errors"
)

// SubscriptionKind distinguishes realtime from batched subscriptions
type SubscriptionKind int

const (
	KindRealtime SubscriptionKind = iota
	KindBatched
)

func (k SubscriptionKind) String() string {
	switch k {
	case KindRealtime:
		return "realtime"
	case KindBatched:
		return "batched"
	default:
		return "unknown"
	}
}

// MaxBatchSizeLimit is the largest accepted batch size
const MaxBatchSizeLimit = 10000

// SubscriptionType describes how events reach the queue. Interval and
// MaxBatchSize only apply to batched subscriptions.
type SubscriptionType struct {
	Kind         SubscriptionKind `json:"kind"`
	Interval     time.Duration    `json:"interval,omitempty"`
	MaxBatchSize int              `json:"max_batch_size,omitempty"`
}

// Realtime returns a subscription type that queues every event individually
func Realtime() SubscriptionType {
	return SubscriptionType{Kind: KindRealtime}
}

// Batched returns a subscription type that groups events into batch envelopes
func Batched(interval time.Duration, maxBatchSize int) SubscriptionType {
	return SubscriptionType{Kind: KindBatched, Interval: interval, MaxBatchSize: maxBatchSize}
}

// IsBatched reports whether events are accumulated before queuing
func (t SubscriptionType) IsBatched() bool {
	return t.Kind == KindBatched
}

// Ordering selects the dequeue order of a subscription queue
type Ordering int

const (
	OrderingFIFO Ordering = iota
	OrderingPriority
)

func (o Ordering) String() string {
	switch o {
	case OrderingFIFO:
		return "fifo"
	case OrderingPriority:
		return "priority"
	default:
		return "unknown"
	}
}

// AuthContext carries the identity the subscription was created under
type AuthContext struct {
	PrincipalID string   `json:"principal_id" validate:"required"`
	Permissions []string `json:"permissions,omitempty"`
}

// DeliveryOptions controls queuing, retries and pipeline behavior of one subscription
type DeliveryOptions struct {
	// MaxEventSize is the queue capacity for the subscription.
	MaxEventSize       int                  `json:"max_event_size" validate:"gt=0"`
	Ordering           Ordering             `json:"ordering" validate:"gte=0,lte=1"`
	Backpressure       BackpressureHandling `json:"backpressure_handling"`
	MaxRetries         uint32               `json:"max_retries"`
	RetryBackoff       RetryBackoff         `json:"retry_backoff"`
	AckEnabled         bool                 `json:"ack_enabled"`
	CompressionEnabled bool                 `json:"compression_enabled"`
	EncryptionEnabled  bool                 `json:"encryption_enabled"`
}

// DefaultDeliveryOptions returns the options used when none are given
func DefaultDeliveryOptions() DeliveryOptions {
	return DeliveryOptions{
		MaxEventSize:       1000,
		Ordering:           OrderingFIFO,
		Backpressure:       Buffer(1000),
		MaxRetries:         3,
		RetryBackoff:       ExponentialBackoff(time.Second, time.Minute),
		AckEnabled:         true,
		CompressionEnabled: true,
	}
}

// SubscriptionConfig is immutable once registered. Replacing it requires
// unregistering and registering again.
type SubscriptionConfig struct {
	ID              string           `json:"id" validate:"required"`
	PluginID        string           `json:"plugin_id" validate:"required"`
	Name            string           `json:"name"`
	Type            SubscriptionType `json:"subscription_type"`
	DeliveryOptions DeliveryOptions  `json:"delivery_options"`
	Auth            AuthContext      `json:"auth"`
}

// NewSubscriptionConfig creates a config with a fresh id and default delivery options
func NewSubscriptionConfig(pluginID, name string, typ SubscriptionType, auth AuthContext) SubscriptionConfig {
	return SubscriptionConfig{
		ID:              uuid.New().String(),
		PluginID:        pluginID,
		Name:            name,
		Type:            typ,
		DeliveryOptions: DefaultDeliveryOptions(),
		Auth:            auth,
	}
}

// WithDeliveryOptions returns a copy of the config with the given options
func (c SubscriptionConfig) WithDeliveryOptions(opts DeliveryOptions) SubscriptionConfig {
	c.DeliveryOptions = opts
	return c
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(validateSubscriptionType, SubscriptionType{})
	v.RegisterStructValidation(validateBackpressure, BackpressureHandling{})
	v.RegisterStructValidation(validateBackoff, RetryBackoff{})
	return v
}

func validateSubscriptionType(sl validator.StructLevel) {
	t := sl.Current().Interface().(SubscriptionType)
	switch t.Kind {
	case KindRealtime:
	case KindBatched:
		if t.MaxBatchSize <= 0 {
			sl.ReportError(t.MaxBatchSize, "MaxBatchSize", "MaxBatchSize", "gt", "0")
		}
		if t.MaxBatchSize > MaxBatchSizeLimit {
			sl.ReportError(t.MaxBatchSize, "MaxBatchSize", "MaxBatchSize", "lte", strconv.Itoa(MaxBatchSizeLimit))
		}
		if t.Interval <= 0 {
			sl.ReportError(t.Interval, "Interval", "Interval", "gt", "0")
		}
	default:
		sl.ReportError(t.Kind, "Kind", "Kind", "oneof", "realtime batched")
	}
}

func validateBackpressure(sl validator.StructLevel) {
	b := sl.Current().Interface().(BackpressureHandling)
	switch b.Strategy {
	case StrategyBuffer, StrategyDropOldest:
		if b.MaxSize <= 0 {
			sl.ReportError(b.MaxSize, "MaxSize", "MaxSize", "gt", "0")
		}
	case StrategyDropNewest, StrategyApplyBackpressure:
	case StrategyCustom:
		if b.HandlerName == "" {
			sl.ReportError(b.HandlerName, "HandlerName", "HandlerName", "required", "")
		}
	default:
		sl.ReportError(b.Strategy, "Strategy", "Strategy", "oneof", "")
	}
}

func validateBackoff(sl validator.StructLevel) {
	b := sl.Current().Interface().(RetryBackoff)
	switch b.Kind {
	case BackoffFixed, BackoffExponential, BackoffLinear, BackoffCustom:
	default:
		sl.ReportError(b.Kind, "Kind", "Kind", "oneof", "")
	}
	if b.Delay < 0 || b.Base < 0 || b.Max < 0 || b.Increment < 0 {
		sl.ReportError(b, "RetryBackoff", "RetryBackoff", "gte", "0")
	}
}

// Validate checks the config before registration
func (c SubscriptionConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.NewValidationError("INVALID_SUBSCRIPTION",
			fmt.Sprintf("invalid subscription %q", c.ID)).WithCause(err)
	}
	return nil
}
