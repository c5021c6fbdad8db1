package container

import (
	"fmt"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// Codec selects the compression applied to every dataset chunk.
type Codec uint8

const (
	// CodecNone stores chunks uncompressed.
	CodecNone Codec = iota

	// CodecFast is a low-latency lossless codec (s2).
	CodecFast

	// CodecBalanced is a high-ratio lossless codec (zstd).
	CodecBalanced
)

func (c Codec) String() string {
	switch c {
	case CodecFast:
		return "fast-lossless"
	case CodecBalanced:
		return "balanced-lossless"
	default:
		return "none"
	}
}

// ParseCodec maps a user-facing compression name onto a codec. The gzip and
// lzf names familiar from HDF5 tooling are accepted as aliases.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "none":
		return CodecNone, nil
	case "fast", "fast-lossless", "lzf":
		return CodecFast, nil
	case "balanced", "balanced-lossless", "gzip", "zstd":
		return CodecBalanced, nil
	default:
		return 0, fmt.Errorf("container: unknown compression %q", name)
	}
}

func parseCodecName(name string) (Codec, error) {
	switch name {
	case "none":
		return CodecNone, nil
	case "fast-lossless":
		return CodecFast, nil
	case "balanced-lossless":
		return CodecBalanced, nil
	default:
		return 0, fmt.Errorf("container: unknown codec %q in index", name)
	}
}

// Options configures a container writer.
type Options struct {
	Codec Codec
	// Level is the compression intensity. For the balanced codec it maps
	// onto zstd levels; for the fast codec levels above 4 select the
	// better-compression mode. Ignored for none.
	Level int
}

// DefaultOptions selects the high-ratio codec at a moderate level.
func DefaultOptions() Options {
	return Options{Codec: CodecBalanced, Level: 4}
}

// compressor compresses chunks deterministically: the same input bytes,
// codec, and level always produce the same output bytes.
type compressor struct {
	opts Options
	zenc *zstd.Encoder
}

func newCompressor(opts Options) (*compressor, error) {
	c := &compressor{opts: opts}
	if opts.Codec == CodecBalanced {
		// Single-goroutine encoding keeps output bytes independent of
		// scheduling.
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.Level)),
			zstd.WithEncoderConcurrency(1),
		)
		if err != nil {
			return nil, fmt.Errorf("container: zstd encoder: %w", err)
		}
		c.zenc = enc
	}
	return c, nil
}

func (c *compressor) compress(chunk []byte) []byte {
	switch c.opts.Codec {
	case CodecFast:
		if c.opts.Level > 4 {
			return s2.EncodeBetter(nil, chunk)
		}
		return s2.Encode(nil, chunk)
	case CodecBalanced:
		return c.zenc.EncodeAll(chunk, nil)
	default:
		return chunk
	}
}

func (c *compressor) close() {
	if c.zenc != nil {
		c.zenc.Close()
	}
}

// decompress reverses compress for a single chunk.
func decompress(codec Codec, data []byte, rawSize int64) ([]byte, error) {
	switch codec {
	case CodecFast:
		out, err := s2.Decode(make([]byte, 0, rawSize), data)
		if err != nil {
			return nil, fmt.Errorf("container: s2 chunk: %w", err)
		}
		return out, nil
	case CodecBalanced:
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("container: zstd decoder: %w", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(data, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("container: zstd chunk: %w", err)
		}
		return out, nil
	default:
		return data, nil
	}
}
