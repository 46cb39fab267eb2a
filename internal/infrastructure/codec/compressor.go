package codec

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/davidleathers/plugin-event-delivery/internal/domain/delivery"
)

// CompressionAlgorithm names a payload compression scheme
type CompressionAlgorithm string

const (
	CompressionNone CompressionAlgorithm = "none"
	CompressionGzip CompressionAlgorithm = "gzip"
	CompressionZstd CompressionAlgorithm = "zstd"
	CompressionLZ4  CompressionAlgorithm = "lz4"
)

// ParseCompression maps a config value to a CompressionAlgorithm
func ParseCompression(s string) CompressionAlgorithm {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return CompressionNone
	}
	return CompressionAlgorithm(s)
}

// Compressor compresses serialized events at or above a size threshold
type Compressor struct {
	algorithm CompressionAlgorithm
	threshold int

	// EncodeAll/DecodeAll are safe for concurrent use
	zenc *zstd.Encoder
	zdec *zstd.Decoder
}

// NewCompressor builds a compressor. Unknown algorithms are rejected here so
// that misconfiguration surfaces at startup.
func NewCompressor(algorithm CompressionAlgorithm, threshold int) (*Compressor, error) {
	c := &Compressor{algorithm: algorithm, threshold: threshold}
	switch algorithm {
	case CompressionNone, CompressionGzip, CompressionLZ4:
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		c.zenc, c.zdec = enc, dec
	default:
		return nil, notImplemented("compression algorithm " + string(algorithm))
	}
	return c, nil
}

func (c *Compressor) Algorithm() CompressionAlgorithm { return c.algorithm }

// Compress returns event unchanged when it is below the threshold or the
// algorithm is none. Otherwise it returns a copy with compressed data.
func (c *Compressor) Compress(event *delivery.SerializedEvent) (*delivery.SerializedEvent, error) {
	if len(event.Data) < c.threshold || c.algorithm == CompressionNone {
		return event, nil
	}

	var (
		data []byte
		err  error
	)
	switch c.algorithm {
	case CompressionGzip:
		data, err = gzipCompress(event.Data)
	case CompressionZstd:
		data = c.zenc.EncodeAll(event.Data, make([]byte, 0, len(event.Data)))
	case CompressionLZ4:
		data, err = lz4Compress(event.Data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s compress: %w", c.algorithm, err)
	}

	out := *event
	out.Data = data
	out.Compression = string(c.algorithm)
	return &out, nil
}

// Decompress reverses Compress based on the event's Compression field
func (c *Compressor) Decompress(event *delivery.SerializedEvent) ([]byte, error) {
	switch CompressionAlgorithm(event.Compression) {
	case "", CompressionNone:
		return event.Data, nil
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(event.Data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case CompressionZstd:
		if c.zdec == nil {
			dec, err := zstd.NewReader(nil)
			if err != nil {
				return nil, err
			}
			defer dec.Close()
			return dec.DecodeAll(event.Data, nil)
		}
		return c.zdec.DecodeAll(event.Data, nil)
	case CompressionLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(event.Data)))
	default:
		return nil, notImplemented("compression algorithm " + event.Compression)
	}
}

// Close releases zstd resources
func (c *Compressor) Close() {
	if c.zenc != nil {
		c.zenc.Close()
	}
	if c.zdec != nil {
		c.zdec.Close()
	}
}

func gzipCompress(in []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(in); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func lz4Compress(in []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(in); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
