package codec

import (
	"fmt"

	"github.com/davidleathers/plugin-event-delivery/internal/domain/errors"
)

// ErrNotImplemented is returned for codecs that are named but not available
var ErrNotImplemented = &errors.AppError{
	Type:    errors.ErrorTypePipeline,
	Code:    "NOT_IMPLEMENTED",
	Message: "codec not implemented",
}

// ErrMissingKey is returned when encryption is requested without a key
var ErrMissingKey = errors.NewSecurityError("MISSING_ENCRYPTION_KEY", "encryption key not configured")

func notImplemented(what string) error {
	return &errors.AppError{
		Type:    errors.ErrorTypePipeline,
		Code:    ErrNotImplemented.Code,
		Message: what + " not implemented",
		Details: map[string]interface{}{"codec": what},
	}
}

// Pipeline stages
const (
	StageSerialization = "serialization"
	StageCompression   = "compression"
	StageEncryption    = "encryption"
)

// PipelineError reports which outbound stage failed
type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}
