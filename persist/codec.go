package persist

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/zero-day-ai/aggregator/group"
)

// Compression selects how snapshot payloads are stored.
type Compression string

const (
	// CompressionNone stores plain JSON.
	CompressionNone Compression = "none"

	// CompressionZSTD stores zstd-compressed JSON.
	CompressionZSTD Compression = "zstd"
)

// zstdMagic is the frame header of every zstd payload. JSON never starts
// with it, so Decode can tell the two formats apart.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Codec encodes group snapshots for storage. A Codec decodes both plain and
// compressed payloads regardless of its own compression setting, so the
// setting can change between runs. Safe for concurrent use.
type Codec struct {
	compression Compression
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
}

// NewCodec creates a codec. An empty compression means CompressionNone.
func NewCodec(compression Compression) (*Codec, error) {
	if compression == "" {
		compression = CompressionNone
	}

	c := &Codec{compression: compression}
	switch compression {
	case CompressionNone:
	case CompressionZSTD:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		c.encoder = enc
	default:
		return nil, fmt.Errorf("unsupported compression: %s", compression)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	c.decoder = dec

	return c, nil
}

// Compression returns the compression used by Encode.
func (c *Codec) Compression() Compression {
	return c.compression
}

// Encode serializes a snapshot.
func (c *Codec) Encode(s group.Snapshot) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	if c.encoder == nil {
		return data, nil
	}
	return c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

// Decode parses a payload produced by Encode.
func (c *Codec) Decode(data []byte) (group.Snapshot, error) {
	var s group.Snapshot

	if bytes.HasPrefix(data, zstdMagic) {
		raw, err := c.decoder.DecodeAll(data, nil)
		if err != nil {
			return s, fmt.Errorf("zstd decompress: %w", err)
		}
		data = raw
	}

	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return s, nil
}

// Close releases the zstd encoder and decoder.
func (c *Codec) Close() {
	if c.encoder != nil {
		_ = c.encoder.Close()
	}
	c.decoder.Close()
}
