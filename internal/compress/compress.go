// Package compress provides the block compression used for checkpoint
// payloads and replay items on the wire.
package compress

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Tag identifies a compression algorithm.
type Tag uint8

const (
	// None stores data uncompressed.
	None Tag = 0
	// LZ4 favours speed; used for replay items.
	LZ4 Tag = 1
	// Zstd favours ratio; used for checkpoints.
	Zstd Tag = 2
)

// ErrUnknownTag is returned for an unsupported compression tag.
var ErrUnknownTag = errors.New("unknown compression tag")

func (t Tag) String() string {
	switch t {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// ParseTag parses the name produced by Tag.String.
func ParseTag(name string) (Tag, error) {
	switch name {
	case "none", "":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownTag, name)
	}
}

// Block is a compressed payload together with what is needed to reverse it.
// Incompressible data is stored with tag None.
type Block struct {
	Tag  Tag    `cbor:"tag"`
	Size int    `cbor:"size"`
	Data []byte `cbor:"data"`
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress compresses data with the requested algorithm, falling back to
// None when the output would not be smaller.
func Compress(data []byte, tag Tag) (Block, error) {
	raw := Block{Tag: None, Size: len(data), Data: data}

	switch tag {
	case None:
		return raw, nil
	case LZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return Block{}, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 || n >= len(data) {
			return raw, nil
		}
		return Block{Tag: LZ4, Size: len(data), Data: dst[:n]}, nil
	case Zstd:
		out := zstdEncoder.EncodeAll(data, nil)
		if len(out) >= len(data) {
			return raw, nil
		}
		return Block{Tag: Zstd, Size: len(data), Data: out}, nil
	default:
		return Block{}, fmt.Errorf("%w: %d", ErrUnknownTag, tag)
	}
}

// Decompress reverses Compress.
func Decompress(b Block) ([]byte, error) {
	switch b.Tag {
	case None:
		if len(b.Data) != b.Size {
			return nil, fmt.Errorf("uncompressed block: size %d does not match expected %d", len(b.Data), b.Size)
		}
		return b.Data, nil
	case LZ4:
		dst := make([]byte, b.Size)
		n, err := lz4.UncompressBlock(b.Data, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != b.Size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, b.Size)
		}
		return dst, nil
	case Zstd:
		out, err := zstdDecoder.DecodeAll(b.Data, make([]byte, 0, b.Size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != b.Size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), b.Size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownTag, b.Tag)
	}
}
