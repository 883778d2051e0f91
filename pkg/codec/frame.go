package codec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Frame tags. Any other leading byte marks data written before framing was
// introduced, which is read back as-is.
const (
	TagRaw  byte = 0x00
	TagZstd byte = 0x01
)

// framer holds the shared zstd encoder and decoder. EncodeAll and DecodeAll
// are safe for concurrent use.
type framer struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newFramer(level zstd.EncoderLevel, maxDecoded uint64) (*framer, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0), zstd.WithDecoderMaxMemory(maxDecoded))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &framer{enc: enc, dec: dec}, nil
}

// frame compresses payload when it is larger than threshold and compression
// actually shrinks it. The returned flag reports whether compression was kept.
func (f *framer) frame(payload []byte, threshold int) ([]byte, bool) {
	if len(payload) > threshold {
		compressed := f.enc.EncodeAll(payload, make([]byte, 1, len(payload)/2+1))
		compressed[0] = TagZstd
		if len(compressed) < len(payload)+1 {
			return compressed, true
		}
	}
	out := make([]byte, len(payload)+1)
	out[0] = TagRaw
	copy(out[1:], payload)
	return out, false
}

func (f *framer) unframe(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty value", ErrCorrupt)
	}
	switch data[0] {
	case TagRaw:
		return data[1:], nil
	case TagZstd:
		out, err := f.dec.DecodeAll(data[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress: %v", ErrCorrupt, err)
		}
		return out, nil
	default:
		return data, nil
	}
}

func (f *framer) close() {
	f.enc.Close()
	f.dec.Close()
}
