package codec

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Key suffixes of chunked values.
const (
	InfoSuffix  = ":info"
	chunkMarker = ":chunk:"
)

// Manifest describes a chunked value. It is stored as JSON under InfoKey.
type Manifest struct {
	Chunks    int     `json:"chunk_count"`
	TotalSize int     `json:"total_size"`
	ChunkSize int     `json:"chunk_size"`
	CreatedAt float64 `json:"created_at"`
}

// NewManifest describes framed split into chunks.
func NewManifest(framed []byte, chunks [][]byte, chunkSize int) Manifest {
	return Manifest{
		Chunks:    len(chunks),
		TotalSize: len(framed),
		ChunkSize: chunkSize,
		CreatedAt: float64(time.Now().UnixNano()) / 1e9,
	}
}

// InfoKey returns the manifest key for key.
func InfoKey(key string) string { return key + InfoSuffix }

// ChunkKey returns the key of chunk i of key.
func ChunkKey(key string, i int) string { return key + chunkMarker + strconv.Itoa(i) }

// ParseChunkKey splits a chunk key into its base key and index.
func ParseChunkKey(k string) (base string, index int, ok bool) {
	pos := strings.LastIndex(k, chunkMarker)
	if pos < 0 {
		return "", 0, false
	}
	index, err := strconv.Atoi(k[pos+len(chunkMarker):])
	if err != nil || index < 0 {
		return "", 0, false
	}
	return k[:pos], index, true
}

// Split cuts data into pieces of at most size bytes. The pieces share data's
// backing array.
func Split(data []byte, size int) [][]byte {
	if size <= 0 {
		size = DefaultChunkSize
	}
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for start := 0; start < len(data); start += size {
		end := min(start+size, len(data))
		chunks = append(chunks, data[start:end])
	}
	return chunks
}

// Join reassembles chunks described by m. Any nil chunk or a size mismatch
// fails the whole value.
func Join(m Manifest, chunks [][]byte) ([]byte, error) {
	if len(chunks) != m.Chunks {
		return nil, fmt.Errorf("%w: have %d of %d chunks", ErrMissingChunk, len(chunks), m.Chunks)
	}
	out := make([]byte, 0, m.TotalSize)
	for i, c := range chunks {
		if c == nil {
			return nil, fmt.Errorf("%w: chunk %d", ErrMissingChunk, i)
		}
		out = append(out, c...)
	}
	if len(out) != m.TotalSize {
		return nil, fmt.Errorf("%w: reassembled %d bytes, manifest says %d", ErrCorrupt, len(out), m.TotalSize)
	}
	return out, nil
}
