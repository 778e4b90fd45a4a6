package cache

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec names as stored per entry.
const (
	CodecZstd = "zstd"
	CodecLZ4  = "lz4"
)

// maxDecodedSize bounds decompression of a single payload.
const maxDecodedSize = 64 << 20

// Codec compresses analysis payloads.
type Codec interface {
	Name() string
	Encode(src []byte) ([]byte, error)
	Decode(src []byte) ([]byte, error)
}

// NewCodec returns the codec registered under name.
func NewCodec(name string) (Codec, error) {
	switch name {
	case CodecZstd, "":
		return newZstdCodec()
	case CodecLZ4:
		return lz4Codec{}, nil
	default:
		return nil, fmt.Errorf("unknown cache codec %q", name)
	}
}

type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCodec() (*zstdCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedSize))
	if err != nil {
		return nil, err
	}
	return &zstdCodec{enc: enc, dec: dec}, nil
}

func (z *zstdCodec) Name() string { return CodecZstd }

func (z *zstdCodec) Encode(src []byte) ([]byte, error) {
	return z.enc.EncodeAll(src, nil), nil
}

func (z *zstdCodec) Decode(src []byte) ([]byte, error) {
	return z.dec.DecodeAll(src, nil)
}

// lz4Codec uses the block format behind a uvarint length prefix and a mode
// byte; incompressible input is stored raw.
type lz4Codec struct{}

const (
	lz4Raw   byte = 0
	lz4Block byte = 1
)

var errShortLZ4 = errors.New("lz4 payload truncated")

func (lz4Codec) Name() string { return CodecLZ4 }

func (lz4Codec) Encode(src []byte) ([]byte, error) {
	header := make([]byte, binary.MaxVarintLen64+1)
	n := binary.PutUvarint(header, uint64(len(src)))

	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	written, err := lz4.CompressBlock(src, dst, nil)
	if err != nil {
		return nil, err
	}
	if written == 0 || written >= len(src) {
		header[n] = lz4Raw
		return append(header[:n+1], src...), nil
	}
	header[n] = lz4Block
	return append(header[:n+1], dst[:written]...), nil
}

func (lz4Codec) Decode(src []byte) ([]byte, error) {
	size, n := binary.Uvarint(src)
	if n <= 0 || len(src) < n+1 {
		return nil, errShortLZ4
	}
	if size > maxDecodedSize {
		return nil, fmt.Errorf("lz4 payload declares %d bytes", size)
	}
	mode, body := src[n], src[n+1:]

	switch mode {
	case lz4Raw:
		if uint64(len(body)) != size {
			return nil, errShortLZ4
		}
		return append([]byte(nil), body...), nil
	case lz4Block:
		out := make([]byte, size)
		written, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, err
		}
		if uint64(written) != size {
			return nil, errShortLZ4
		}
		return out, nil
	default:
		return nil, fmt.Errorf("lz4 payload has unknown mode %d", mode)
	}
}
