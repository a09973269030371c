// Package compression encodes objects for the local on-disk layout.
//
// Every encoded payload starts with one format byte so that small or
// incompressible objects can be kept raw without guessing on decode.
package compression

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

const (
	formatRaw  byte = 0x00
	formatZstd byte = 0x01

	minCompressSize = 128
)

// ErrUnknownFormat is returned when a payload carries an unknown format byte.
var ErrUnknownFormat = errors.New("compression: unknown format")

type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	enabled bool
}

// NewCompressor returns a compressor. Level 1..3 maps to zstd fastest,
// default and better compression. A disabled compressor still decodes
// zstd payloads written by an enabled one.
func NewCompressor(level int, enabled bool) (*Compressor, error) {
	var encoderLevel zstd.EncoderLevel
	switch level {
	case 1:
		encoderLevel = zstd.SpeedFastest
	case 3:
		encoderLevel = zstd.SpeedBetterCompression
	default:
		encoderLevel = zstd.SpeedDefault
	}

	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(encoderLevel),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, err
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}

	return &Compressor{
		encoder: encoder,
		decoder: decoder,
		enabled: enabled,
	}, nil
}

func (c *Compressor) Compress(data []byte) []byte {
	if c.enabled && len(data) >= minCompressSize {
		compressed := c.encoder.EncodeAll(data, []byte{formatZstd})
		if len(compressed) < len(data)+1 {
			return compressed
		}
	}

	out := make([]byte, 0, len(data)+1)
	out = append(out, formatRaw)
	return append(out, data...)
}

func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrUnknownFormat)
	}

	switch data[0] {
	case formatRaw:
		return data[1:], nil
	case formatZstd:
		out, err := c.decoder.DecodeAll(data[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decode: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownFormat, data[0])
	}
}

func (c *Compressor) Close() error {
	c.encoder.Close()
	c.decoder.Close()
	return nil
}
