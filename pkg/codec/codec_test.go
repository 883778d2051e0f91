package codec

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rensir56/SegTool-for-Jade/pkg/tensor"
)

type artifact struct {
	Name   string    `cbor:"name" json:"name"`
	Scores []float64 `cbor:"scores" json:"scores"`
	Blob   []byte    `cbor:"blob" json:"blob"`
}

func newCodec(t *testing.T, cfg Config) *Codec {
	t.Helper()
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestEncodeDecode_SmallValueStaysRaw(t *testing.T) {
	c := newCodec(t, DefaultConfig())
	in := artifact{Name: "mask", Scores: []float64{0.9, 0.1}}

	data, compressed, err := c.EncodeInfo(in)
	require.NoError(t, err)
	assert.False(t, compressed)
	assert.Equal(t, TagRaw, data[0])

	var out artifact
	require.NoError(t, c.Decode(data, &out))
	assert.Equal(t, in.Name, out.Name)
	assert.Equal(t, in.Scores, out.Scores)
}

func TestEncodeDecode_CompressibleValue(t *testing.T) {
	c := newCodec(t, DefaultConfig())
	in := artifact{Name: "embedding", Blob: bytes.Repeat([]byte("abcd"), 64*1024)}

	data, compressed, err := c.EncodeInfo(in)
	require.NoError(t, err)
	assert.True(t, compressed)
	assert.Equal(t, TagZstd, data[0])
	assert.Less(t, len(data), len(in.Blob))

	var out artifact
	require.NoError(t, c.Decode(data, &out))
	assert.Equal(t, in.Blob, out.Blob)
}

func TestEncode_IncompressibleKeepsRaw(t *testing.T) {
	c := newCodec(t, DefaultConfig())
	blob := make([]byte, 200*1024)
	rand.New(rand.NewSource(1)).Read(blob)

	data, compressed, err := c.EncodeInfo(artifact{Blob: blob})
	require.NoError(t, err)
	assert.False(t, compressed)
	assert.Equal(t, TagRaw, data[0])
}

func TestDecode_LegacyUnframedData(t *testing.T) {
	c := newCodec(t, DefaultConfig())
	s, err := CBOR()
	require.NoError(t, err)

	legacy, err := s.Marshal(artifact{Name: "old"})
	require.NoError(t, err)
	require.NotEqual(t, TagRaw, legacy[0])
	require.NotEqual(t, TagZstd, legacy[0])

	var out artifact
	require.NoError(t, c.Decode(legacy, &out))
	assert.Equal(t, "old", out.Name)
}

func TestDecode_Corrupt(t *testing.T) {
	c := newCodec(t, DefaultConfig())
	var out artifact

	assert.ErrorIs(t, c.Decode(nil, &out), ErrCorrupt)
	assert.ErrorIs(t, c.Decode([]byte{TagZstd, 0xde, 0xad}, &out), ErrCorrupt)
	assert.ErrorIs(t, c.Decode([]byte{TagRaw, 0xff, 0xff}, &out), ErrCorrupt)
}

func TestJSONSerializer(t *testing.T) {
	c := newCodec(t, Config{Serializer: "json"})
	assert.Equal(t, ContentTypeJSON, c.ContentType())

	data, err := c.Encode(map[string]int{"n": 3})
	require.NoError(t, err)
	assert.Equal(t, `{"n":3}`, string(data[1:]))

	var out map[string]int
	require.NoError(t, c.Decode(data, &out))
	assert.Equal(t, 3, out["n"])
}

func TestNew_RejectsBadConfig(t *testing.T) {
	_, err := New(Config{Serializer: "xml"})
	assert.Error(t, err)

	_, err = New(Config{MaxValueSize: 1024, ChunkSize: 4096})
	assert.Error(t, err)
}

func TestTensorRoundTrip(t *testing.T) {
	c := newCodec(t, DefaultConfig())
	values := make([]float32, 256*64)
	for i := range values {
		values[i] = float32(i % 17)
	}
	in, err := tensor.FromFloat32([]int{1, 256, 64}, values)
	require.NoError(t, err)

	data, err := c.Encode(in)
	require.NoError(t, err)

	var out tensor.Tensor
	require.NoError(t, c.Decode(data, &out))
	require.NoError(t, out.Validate())
	got, err := out.Float32s()
	require.NoError(t, err)
	assert.Equal(t, values, got)
	assert.Equal(t, in.Shape, out.Shape)
}

func TestSplitJoin_LargeValue(t *testing.T) {
	c := newCodec(t, DefaultConfig())
	blob := make([]byte, 700*1024)
	rand.New(rand.NewSource(2)).Read(blob)

	framed, err := c.Encode(artifact{Blob: blob})
	require.NoError(t, err)
	require.True(t, c.NeedsChunking(framed))

	chunks := c.Split(framed)
	m := NewManifest(framed, chunks, DefaultChunkSize)
	assert.Equal(t, (len(framed)+DefaultChunkSize-1)/DefaultChunkSize, m.Chunks)
	for _, ch := range chunks[:len(chunks)-1] {
		assert.Len(t, ch, DefaultChunkSize)
	}

	joined, err := Join(m, chunks)
	require.NoError(t, err)

	var out artifact
	require.NoError(t, c.Decode(joined, &out))
	assert.Equal(t, blob, out.Blob)
}

func TestJoin_MissingChunkFails(t *testing.T) {
	data := bytes.Repeat([]byte{7}, 10)
	chunks := Split(data, 4)
	require.Len(t, chunks, 3)
	m := NewManifest(data, chunks, 4)

	broken := [][]byte{chunks[0], nil, chunks[2]}
	_, err := Join(m, broken)
	assert.ErrorIs(t, err, ErrMissingChunk)

	_, err = Join(m, chunks[:2])
	assert.ErrorIs(t, err, ErrMissingChunk)

	_, err = Join(m, [][]byte{chunks[0], chunks[1], {7}})
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestChunkKeys(t *testing.T) {
	assert.Equal(t, "sam:embedding:abc:info", InfoKey("sam:embedding:abc"))
	assert.Equal(t, "sam:embedding:abc:chunk:3", ChunkKey("sam:embedding:abc", 3))

	base, idx, ok := ParseChunkKey("sam:embedding:abc:chunk:12")
	assert.True(t, ok)
	assert.Equal(t, "sam:embedding:abc", base)
	assert.Equal(t, 12, idx)

	_, _, ok = ParseChunkKey("sam:embedding:abc")
	assert.False(t, ok)
	_, _, ok = ParseChunkKey("x:chunk:notanumber")
	assert.False(t, ok)
}
