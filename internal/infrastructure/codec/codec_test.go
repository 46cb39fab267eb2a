package codec_test

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/davidleathers/plugin-event-delivery/internal/domain/delivery"
	"github.com/davidleathers/plugin-event-delivery/internal/domain/errors"
	"github.com/davidleathers/plugin-event-delivery/internal/infrastructure/codec"
)

func testEvent() delivery.Event {
	return delivery.NewEvent("plugin.file_changed",
		delivery.EventSource{ID: "fs-watcher", Type: delivery.SourceFilesystem},
		json.RawMessage(`{"path":"/tmp/a.txt","size":42}`)).WithPriority(delivery.PriorityHigh)
}

func TestSerializer_Formats(t *testing.T) {
	event := testEvent()

	t.Run("json", func(t *testing.T) {
		out, err := codec.NewSerializer(codec.FormatJSON).Serialize(event)
		require.NoError(t, err)
		assert.Equal(t, "application/json", out.ContentType)

		var decoded delivery.Event
		require.NoError(t, json.Unmarshal(out.Data, &decoded))
		assert.Equal(t, event.ID, decoded.ID)
		assert.Equal(t, delivery.PriorityHigh, decoded.Priority)
		assert.JSONEq(t, string(event.Payload), string(decoded.Payload))
	})

	t.Run("cbor", func(t *testing.T) {
		out, err := codec.NewSerializer(codec.FormatCBOR).Serialize(event)
		require.NoError(t, err)
		assert.Equal(t, "application/cbor", out.ContentType)

		var decoded map[string]interface{}
		require.NoError(t, cbor.Unmarshal(out.Data, &decoded))
		assert.Equal(t, event.ID.String(), decoded["id"])
		assert.Equal(t, "plugin.file_changed", decoded["event_type"])
	})

	t.Run("protobuf", func(t *testing.T) {
		out, err := codec.NewSerializer(codec.FormatProtobuf).Serialize(event)
		require.NoError(t, err)
		assert.Equal(t, "application/x-protobuf", out.ContentType)

		var decoded structpb.Struct
		require.NoError(t, proto.Unmarshal(out.Data, &decoded))
		assert.Equal(t, event.ID.String(), decoded.Fields["id"].GetStringValue())
		payload := decoded.Fields["payload"].GetStructValue()
		require.NotNil(t, payload)
		assert.Equal(t, float64(42), payload.Fields["size"].GetNumberValue())
	})

	t.Run("cloudevents", func(t *testing.T) {
		out, err := codec.NewSerializer(codec.FormatCloudEvents).Serialize(event)
		require.NoError(t, err)
		assert.Equal(t, "application/cloudevents+json", out.ContentType)

		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(out.Data, &decoded))
		assert.Equal(t, event.ID.String(), decoded["id"])
		assert.Equal(t, "fs-watcher", decoded["source"])
		assert.Equal(t, "plugin.file_changed", decoded["type"])
		assert.Equal(t, "1.0", decoded["specversion"])
	})
}

func TestSerializer_Unsupported(t *testing.T) {
	for _, format := range []codec.Format{codec.FormatMessagePack, codec.ParseFormat("yaml")} {
		s := codec.NewSerializer(format)
		assert.Equal(t, format, s.Format())

		_, err := s.Serialize(testEvent())
		require.Error(t, err)
		assert.True(t, stderrors.Is(err, codec.ErrNotImplemented))
		assert.Contains(t, err.Error(), string(format))
	}
}

func TestCompressor_Threshold(t *testing.T) {
	c, err := codec.NewCompressor(codec.CompressionGzip, 64)
	require.NoError(t, err)
	defer c.Close()

	small := &delivery.SerializedEvent{Data: []byte("tiny")}
	out, err := c.Compress(small)
	require.NoError(t, err)
	assert.Same(t, small, out)
	assert.Empty(t, out.Compression)

	big := &delivery.SerializedEvent{Data: bytes.Repeat([]byte("a"), 64)}
	out, err = c.Compress(big)
	require.NoError(t, err)
	assert.Equal(t, "gzip", out.Compression)
	assert.Empty(t, big.Compression, "input must not be mutated")
}

func TestCompressor_RoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte(`{"k":"value"}`), 200)

	for _, alg := range []codec.CompressionAlgorithm{codec.CompressionGzip, codec.CompressionZstd, codec.CompressionLZ4} {
		t.Run(string(alg), func(t *testing.T) {
			c, err := codec.NewCompressor(alg, 0)
			require.NoError(t, err)
			defer c.Close()

			out, err := c.Compress(&delivery.SerializedEvent{Data: payload})
			require.NoError(t, err)
			assert.Equal(t, string(alg), out.Compression)
			assert.Less(t, len(out.Data), len(payload))

			plain, err := c.Decompress(out)
			require.NoError(t, err)
			assert.Equal(t, payload, plain)
		})
	}
}

func TestCompressor_UnknownAlgorithm(t *testing.T) {
	_, err := codec.NewCompressor(codec.ParseCompression("brotli"), 0)
	assert.ErrorIs(t, err, codec.ErrNotImplemented)
}

func TestEncryptor_RoundTrip(t *testing.T) {
	for _, alg := range []codec.EncryptionAlgorithm{codec.EncryptionAES256GCM, codec.EncryptionChaCha20Poly1305} {
		t.Run(string(alg), func(t *testing.T) {
			e, err := codec.NewEncryptor(alg, "s3cret")
			require.NoError(t, err)

			in := &delivery.SerializedEvent{Data: []byte("hello plugin")}
			out, err := e.Encrypt(in)
			require.NoError(t, err)
			assert.Equal(t, string(alg), out.Encryption)
			assert.NotEqual(t, in.Data, out.Data)

			plain, err := e.Decrypt(out.Data)
			require.NoError(t, err)
			assert.Equal(t, []byte("hello plugin"), plain)

			other, err := codec.NewEncryptor(alg, "other")
			require.NoError(t, err)
			_, err = other.Decrypt(out.Data)
			assert.Error(t, err)
		})
	}
}

func TestEncryptor_MissingKey(t *testing.T) {
	_, err := codec.NewEncryptor(codec.EncryptionAES256GCM, "")
	assert.ErrorIs(t, err, codec.ErrMissingKey)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSecurity))

	none, err := codec.NewEncryptor(codec.EncryptionNone, "")
	require.NoError(t, err)
	in := &delivery.SerializedEvent{Data: []byte("x")}
	out, err := none.Encrypt(in)
	require.NoError(t, err)
	assert.Same(t, in, out)
}

func TestPipeline_Process(t *testing.T) {
	cfg := codec.DefaultConfig()
	cfg.EnableCompression = true
	cfg.CompressionThreshold = 16
	cfg.EnableEncryption = true
	cfg.EncryptionKey = "pipeline-key"

	p, err := codec.NewPipeline(cfg)
	require.NoError(t, err)
	defer p.Close()

	event := testEvent()
	out, err := p.Process(event, codec.Options{Compress: true, Encrypt: true})
	require.NoError(t, err)
	assert.Equal(t, "gzip", out.Compression)
	assert.Equal(t, "aes-256-gcm", out.Encryption)
	assert.Equal(t, event.ID.String(), out.Metadata["event_id"])

	plain, err := p.Decode(out)
	require.NoError(t, err)
	var decoded delivery.Event
	require.NoError(t, json.Unmarshal(plain, &decoded))
	assert.Equal(t, event.ID, decoded.ID)

	// Subscription switches gate each stage
	out, err = p.Process(event, codec.Options{})
	require.NoError(t, err)
	assert.Empty(t, out.Compression)
	assert.Empty(t, out.Encryption)
}

func TestPipeline_StageErrors(t *testing.T) {
	cfg := codec.DefaultConfig()
	cfg.Format = codec.FormatMessagePack
	p, err := codec.NewPipeline(cfg)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Process(testEvent(), codec.Options{})
	var perr *codec.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, codec.StageSerialization, perr.Stage)
	assert.Contains(t, err.Error(), "serialization failed")

	// encryption requested from a pipeline without a key
	plain, err := codec.NewPipeline(codec.DefaultConfig())
	require.NoError(t, err)
	defer plain.Close()
	out, err := plain.Process(testEvent(), codec.Options{Encrypt: true})
	assert.Nil(t, out)
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, codec.StageEncryption, perr.Stage)
	assert.ErrorIs(t, err, codec.ErrMissingKey)
	assert.Contains(t, err.Error(), "encryption failed")

	cfg = codec.DefaultConfig()
	cfg.EnableEncryption = true
	_, err = codec.NewPipeline(cfg)
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, codec.StageEncryption, perr.Stage)
	assert.ErrorIs(t, err, codec.ErrMissingKey)
}
