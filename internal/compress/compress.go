package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/blkcache/internal/hash"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type defines the compression algorithm used for a frame.
type Type uint8

const (
	// None stores the payload as is.
	None Type = 0
	// LZ4 selects LZ4 block compression (fast, good for hot blocks).
	LZ4 Type = 1
	// ZSTD selects ZSTD compression (better ratio, good for cold blocks).
	ZSTD Type = 2
)

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Frame layout: [Type uint8][UncompressedSize uint32][CompressedSize uint32][CRC32C uint32][Data...]
// The checksum covers the uncompressed bytes. The payload is stored raw with
// Type None when compression does not pay off.
const headerSize = 13

var (
	// ErrShortFrame is returned when a frame is smaller than its header claims.
	ErrShortFrame = errors.New("compress: frame too small")
	// ErrSizeMismatch is returned when the decoded size differs from the header.
	ErrSizeMismatch = errors.New("compress: decompressed size mismatch")
	// ErrChecksum is returned when the decoded bytes fail verification.
	ErrChecksum = errors.New("compress: checksum mismatch")
	// ErrUnknownType is returned for an unknown algorithm tag.
	ErrUnknownType = errors.New("compress: unknown compression type")
)

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Encode wraps data in a self-describing frame compressed with t.
func Encode(data []byte, t Type) ([]byte, error) {
	var (
		payload []byte
		err     error
	)

	switch t {
	case None:
	case LZ4:
		payload, err = encodeLZ4(data)
	case ZSTD:
		enc := getZstdEncoder()
		payload = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint8(t))
	}
	if err != nil {
		return nil, err
	}

	// Keep the raw bytes unless we save at least 10%.
	if len(payload) == 0 || float64(len(payload)) > float64(len(data))*0.9 {
		t = None
		payload = data
	}

	frame := make([]byte, headerSize+len(payload))
	frame[0] = byte(t)
	binary.LittleEndian.PutUint32(frame[1:], uint32(len(data)))
	binary.LittleEndian.PutUint32(frame[5:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(frame[9:], hash.CRC32C(data))
	copy(frame[headerSize:], payload)
	return frame, nil
}

func encodeLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))

	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil // incompressible
	}
	return dst[:n], nil
}

// Decode unpacks a frame produced by Encode. The algorithm is read from the
// frame header.
func Decode(frame []byte) ([]byte, error) {
	out, err := decode(frame)
	if err != nil {
		return nil, err
	}
	if hash.CRC32C(out) != binary.LittleEndian.Uint32(frame[9:]) {
		return nil, ErrChecksum
	}
	return out, nil
}

func decode(frame []byte) ([]byte, error) {
	if len(frame) < headerSize {
		return nil, ErrShortFrame
	}

	t := Type(frame[0])
	size := binary.LittleEndian.Uint32(frame[1:])
	stored := binary.LittleEndian.Uint32(frame[5:])
	if uint64(len(frame)) < uint64(headerSize)+uint64(stored) {
		return nil, ErrShortFrame
	}
	payload := frame[headerSize : headerSize+stored]

	switch t {
	case None:
		if stored != size {
			return nil, ErrSizeMismatch
		}
		out := make([]byte, size)
		copy(out, payload)
		return out, nil

	case LZ4:
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, err
		}
		if uint32(n) != size {
			return nil, ErrSizeMismatch
		}
		return out, nil

	case ZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)

		out, err := dec.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, err
		}
		if uint32(len(out)) != size {
			return nil, ErrSizeMismatch
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint8(t))
	}
}

// Parse returns the Type for an algorithm name as used in configuration.
func Parse(name string) (Type, error) {
	switch name {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return ZSTD, nil
	default:
		return None, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
}
