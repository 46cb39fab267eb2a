package codec

import (
	"github.com/davidleathers/plugin-event-delivery/internal/domain/delivery"
)

// Config selects the codecs of the outbound pipeline
type Config struct {
	Format               Format
	EnableCompression    bool
	CompressionAlgorithm CompressionAlgorithm
	CompressionThreshold int
	EnableEncryption     bool
	EncryptionAlgorithm  EncryptionAlgorithm
	EncryptionKey        string
}

// DefaultConfig is JSON with compression and encryption disabled
func DefaultConfig() Config {
	return Config{
		Format:               FormatJSON,
		CompressionAlgorithm: CompressionGzip,
		CompressionThreshold: 1024,
		EncryptionAlgorithm:  EncryptionAES256GCM,
	}
}

// Pipeline runs serialize -> compress -> encrypt
type Pipeline struct {
	serializer Serializer
	compressor *Compressor
	encryptor  *Encryptor
}

// NewPipeline builds the codecs named by cfg. Disabled stages get the none
// algorithm so they pass events through.
func NewPipeline(cfg Config) (*Pipeline, error) {
	compression := CompressionNone
	if cfg.EnableCompression {
		compression = cfg.CompressionAlgorithm
	}
	compressor, err := NewCompressor(compression, cfg.CompressionThreshold)
	if err != nil {
		return nil, &PipelineError{Stage: StageCompression, Err: err}
	}

	encryption := EncryptionNone
	if cfg.EnableEncryption {
		encryption = cfg.EncryptionAlgorithm
	}
	encryptor, err := NewEncryptor(encryption, cfg.EncryptionKey)
	if err != nil {
		compressor.Close()
		return nil, &PipelineError{Stage: StageEncryption, Err: err}
	}

	return &Pipeline{
		serializer: NewSerializer(cfg.Format),
		compressor: compressor,
		encryptor:  encryptor,
	}, nil
}

// Options are the per-subscription switches of one pipeline run
type Options struct {
	Compress bool
	Encrypt  bool
}

// Process runs the pipeline. Any stage failure is returned as a
// *PipelineError naming the stage. Requesting encryption from a pipeline
// built without it fails rather than sending plaintext.
func (p *Pipeline) Process(event delivery.Event, opts Options) (*delivery.SerializedEvent, error) {
	out, err := p.serializer.Serialize(event)
	if err != nil {
		return nil, &PipelineError{Stage: StageSerialization, Err: err}
	}
	out.Metadata[delivery.MetadataEventID] = event.ID.String()
	out.Metadata[delivery.MetadataEventType] = event.EventType

	if opts.Compress {
		if out, err = p.compressor.Compress(out); err != nil {
			return nil, &PipelineError{Stage: StageCompression, Err: err}
		}
	}
	if opts.Encrypt {
		if p.encryptor.Algorithm() == EncryptionNone {
			return nil, &PipelineError{Stage: StageEncryption, Err: ErrMissingKey}
		}
		if out, err = p.encryptor.Encrypt(out); err != nil {
			return nil, &PipelineError{Stage: StageEncryption, Err: err}
		}
	}
	return out, nil
}

// Decode reverses encryption and compression, returning serialized bytes.
// Plugin-side consumers and tests use it.
func (p *Pipeline) Decode(event *delivery.SerializedEvent) ([]byte, error) {
	data := event.Data
	if event.Encryption != "" && event.Encryption != string(EncryptionNone) {
		plain, err := p.encryptor.Decrypt(data)
		if err != nil {
			return nil, &PipelineError{Stage: StageEncryption, Err: err}
		}
		data = plain
	}
	cp := *event
	cp.Data = data
	plain, err := p.compressor.Decompress(&cp)
	if err != nil {
		return nil, &PipelineError{Stage: StageCompression, Err: err}
	}
	return plain, nil
}

func (p *Pipeline) Format() Format { return p.serializer.Format() }

// Close releases codec resources
func (p *Pipeline) Close() {
	p.compressor.Close()
}
