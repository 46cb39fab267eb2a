package delivery

import "time"

// BackpressureStrategy is the admission policy applied when a queue is at capacity
type BackpressureStrategy int

const (
	StrategyBuffer BackpressureStrategy = iota
	StrategyDropOldest
	StrategyDropNewest
	StrategyApplyBackpressure
	StrategyCustom
)

func (s BackpressureStrategy) String() string {
	switch s {
	case StrategyBuffer:
		return "buffer"
	case StrategyDropOldest:
		return "drop_oldest"
	case StrategyDropNewest:
		return "drop_newest"
	case StrategyApplyBackpressure:
		return "apply_backpressure"
	case StrategyCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// BackpressureHandling is the single strategy configured for a subscription.
// MaxSize applies to Buffer and DropOldest, HandlerName to Custom.
type BackpressureHandling struct {
	Strategy    BackpressureStrategy `json:"strategy"`
	MaxSize     int                  `json:"max_size,omitempty"`
	HandlerName string               `json:"handler_name,omitempty"`
}

func Buffer(maxSize int) BackpressureHandling {
	return BackpressureHandling{Strategy: StrategyBuffer, MaxSize: maxSize}
}

func DropOldest(maxSize int) BackpressureHandling {
	return BackpressureHandling{Strategy: StrategyDropOldest, MaxSize: maxSize}
}

func DropNewest() BackpressureHandling {
	return BackpressureHandling{Strategy: StrategyDropNewest}
}

func ApplyBackpressure() BackpressureHandling {
	return BackpressureHandling{Strategy: StrategyApplyBackpressure}
}

func CustomBackpressure(handlerName string) BackpressureHandling {
	return BackpressureHandling{Strategy: StrategyCustom, HandlerName: handlerName}
}

// BackoffKind selects the retry delay formula
type BackoffKind int

const (
	BackoffFixed BackoffKind = iota
	BackoffExponential
	BackoffLinear
	BackoffCustom
)

func (k BackoffKind) String() string {
	switch k {
	case BackoffFixed:
		return "fixed"
	case BackoffExponential:
		return "exponential"
	case BackoffLinear:
		return "linear"
	case BackoffCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// CustomBackoffFallback is used for custom backoff functions, which are resolved outside the engine
const CustomBackoffFallback = time.Second

// RetryBackoff maps a retry attempt number to the delay before the next attempt
type RetryBackoff struct {
	Kind         BackoffKind   `json:"kind"`
	Delay        time.Duration `json:"delay,omitempty"`
	Base         time.Duration `json:"base,omitempty"`
	Max          time.Duration `json:"max,omitempty"`
	Increment    time.Duration `json:"increment,omitempty"`
	FunctionName string        `json:"function_name,omitempty"`
}

func FixedBackoff(delay time.Duration) RetryBackoff {
	return RetryBackoff{Kind: BackoffFixed, Delay: delay}
}

func ExponentialBackoff(base, max time.Duration) RetryBackoff {
	return RetryBackoff{Kind: BackoffExponential, Base: base, Max: max}
}

func LinearBackoff(increment time.Duration) RetryBackoff {
	return RetryBackoff{Kind: BackoffLinear, Increment: increment}
}

func CustomBackoff(functionName string) RetryBackoff {
	return RetryBackoff{Kind: BackoffCustom, FunctionName: functionName}
}

// Compute returns the delay before retrying after the given (zero-based) attempt.
//
//	Fixed       -> Delay
//	Exponential -> min(Base * 2^attempt, Max)
//	Linear      -> Increment * (attempt + 1)
//	Custom      -> CustomBackoffFallback
func (b RetryBackoff) Compute(attempt uint32) time.Duration {
	switch b.Kind {
	case BackoffFixed:
		return b.Delay
	case BackoffExponential:
		// base << attempt overflows long before 63 shifts; cap first.
		if b.Base <= 0 {
			return 0
		}
		if attempt >= 62 || b.Base > b.Max>>attempt {
			return b.Max
		}
		return b.Base << attempt
	case BackoffLinear:
		return b.Increment * time.Duration(uint64(attempt)+1)
	default:
		return CustomBackoffFallback
	}
}
