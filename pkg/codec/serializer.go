package codec

import (
	"encoding/json"
	"fmt"

	cbor "github.com/fxamacker/cbor/v2"
)

// Serializer turns typed values into bytes and back.
// Implementations must be deterministic and safe for concurrent use.
type Serializer interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Content types of the built-in serializers.
const (
	ContentTypeCBOR = "application/cbor"
	ContentTypeJSON = "application/json"
)

type cborSerializer struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// CBOR returns a canonical CBOR serializer.
func CBOR() (Serializer, error) {
	opts := cbor.CanonicalEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor enc mode: %w", err)
	}
	dm, err := cbor.DecOptions{
		MaxArrayElements: 1 << 24,
		MaxMapPairs:      1 << 20,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor dec mode: %w", err)
	}
	return cborSerializer{enc: em, dec: dm}, nil
}

func (c cborSerializer) ContentType() string                { return ContentTypeCBOR }
func (c cborSerializer) Marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c cborSerializer) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

type jsonSerializer struct{}

// JSON returns a JSON serializer.
func JSON() Serializer { return jsonSerializer{} }

func (jsonSerializer) ContentType() string                { return ContentTypeJSON }
func (jsonSerializer) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonSerializer) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Registry maps content types to serializers.
type Registry struct {
	byType map[string]Serializer
}

// NewRegistry returns a registry holding the CBOR and JSON serializers.
func NewRegistry() (*Registry, error) {
	r := &Registry{byType: make(map[string]Serializer)}
	c, err := CBOR()
	if err != nil {
		return nil, err
	}
	r.Register(c)
	r.Register(JSON())
	return r, nil
}

// Register adds or replaces a serializer.
func (r *Registry) Register(s Serializer) { r.byType[s.ContentType()] = s }

// Get returns the serializer for contentType, or nil.
func (r *Registry) Get(contentType string) Serializer { return r.byType[contentType] }

// Lookup accepts short names ("cbor", "json") as well as content types.
func (r *Registry) Lookup(name string) (Serializer, error) {
	switch name {
	case "", "cbor":
		name = ContentTypeCBOR
	case "json":
		name = ContentTypeJSON
	}
	if s := r.Get(name); s != nil {
		return s, nil
	}
	return nil, fmt.Errorf("codec: unknown serializer %q", name)
}
