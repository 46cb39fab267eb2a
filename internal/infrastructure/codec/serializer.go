package codec

import (
	"encoding/json"
	"fmt"
	"strings"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/fxamacker/cbor/v2"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/davidleathers/plugin-event-delivery/internal/domain/delivery"
)

// Format identifies a wire serialization format
type Format string

const (
	FormatJSON        Format = "json"
	FormatCBOR        Format = "cbor"
	FormatProtobuf    Format = "protobuf"
	FormatCloudEvents Format = "cloudevents"
	FormatMessagePack Format = "msgpack"
)

// ParseFormat maps a config value to a Format. Unknown names are kept as-is
// so that the serializer can fail explicitly on first use.
func ParseFormat(s string) Format {
	return Format(strings.ToLower(strings.TrimSpace(s)))
}

// Serializer turns a domain event into transport bytes
type Serializer interface {
	Serialize(event delivery.Event) (*delivery.SerializedEvent, error)
	Format() Format
}

// NewSerializer returns the serializer for format. Formats without an
// implementation get a serializer that fails every call.
func NewSerializer(format Format) Serializer {
	switch format {
	case FormatJSON, "":
		return jsonSerializer{}
	case FormatCBOR:
		return cborSerializer{}
	case FormatProtobuf:
		return protobufSerializer{}
	case FormatCloudEvents:
		return cloudEventsSerializer{}
	default:
		return unsupportedSerializer{format: format}
	}
}

func newSerialized(data []byte, contentType, encoding string) *delivery.SerializedEvent {
	return &delivery.SerializedEvent{
		Data:        data,
		ContentType: contentType,
		Encoding:    encoding,
		Metadata:    map[string]string{},
	}
}

type jsonSerializer struct{}

func (jsonSerializer) Format() Format { return FormatJSON }

func (jsonSerializer) Serialize(event delivery.Event) (*delivery.SerializedEvent, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal json: %w", err)
	}
	return newSerialized(data, "application/json", "utf-8"), nil
}

// genericView decodes the JSON form of an event into plain maps so formats
// without a native json.RawMessage notion see the payload as structured data.
func genericView(event delivery.Event) (map[string]interface{}, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	var view map[string]interface{}
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil, err
	}
	return view, nil
}

type cborSerializer struct{}

func (cborSerializer) Format() Format { return FormatCBOR }

func (cborSerializer) Serialize(event delivery.Event) (*delivery.SerializedEvent, error) {
	view, err := genericView(event)
	if err != nil {
		return nil, fmt.Errorf("build cbor view: %w", err)
	}
	data, err := cbor.Marshal(view)
	if err != nil {
		return nil, fmt.Errorf("marshal cbor: %w", err)
	}
	return newSerialized(data, "application/cbor", "binary"), nil
}

type protobufSerializer struct{}

func (protobufSerializer) Format() Format { return FormatProtobuf }

func (protobufSerializer) Serialize(event delivery.Event) (*delivery.SerializedEvent, error) {
	view, err := genericView(event)
	if err != nil {
		return nil, fmt.Errorf("build protobuf view: %w", err)
	}
	msg, err := structpb.NewStruct(view)
	if err != nil {
		return nil, fmt.Errorf("build protobuf struct: %w", err)
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal protobuf: %w", err)
	}
	return newSerialized(data, "application/x-protobuf", "binary"), nil
}

type cloudEventsSerializer struct{}

func (cloudEventsSerializer) Format() Format { return FormatCloudEvents }

func (cloudEventsSerializer) Serialize(event delivery.Event) (*delivery.SerializedEvent, error) {
	ce := cloudevents.NewEvent()
	ce.SetID(event.ID.String())
	ce.SetSource(event.Source.ID)
	ce.SetType(event.EventType)
	ce.SetTime(event.CreatedAt)
	ce.SetSpecVersion(cloudevents.VersionV1)
	ce.SetExtension("priority", int32(event.Priority))
	if event.CorrelationID != nil {
		ce.SetExtension("correlationid", event.CorrelationID.String())
	}
	if len(event.Payload) > 0 {
		if err := ce.SetData(cloudevents.ApplicationJSON, []byte(event.Payload)); err != nil {
			return nil, fmt.Errorf("set cloudevent data: %w", err)
		}
	}
	if err := ce.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cloudevent: %w", err)
	}
	data, err := json.Marshal(ce)
	if err != nil {
		return nil, fmt.Errorf("marshal cloudevent: %w", err)
	}
	return newSerialized(data, "application/cloudevents+json", "utf-8"), nil
}

type unsupportedSerializer struct {
	format Format
}

func (s unsupportedSerializer) Format() Format { return s.format }

func (s unsupportedSerializer) Serialize(delivery.Event) (*delivery.SerializedEvent, error) {
	return nil, notImplemented("serialization format " + string(s.format))
}
