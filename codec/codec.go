package codec

import "fmt"

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// ByName resolves a codec from configuration: "json" (default), "msgpack" or "cbor".
// maxDecode > 0 wraps the result in a Limit.
func ByName[V any](name string, maxDecode int) (Codec[V], error) {
	var inner Codec[V]
	switch name {
	case "", "json":
		inner = JSON[V]{}
	case "msgpack":
		inner = Msgpack[V]{}
	case "cbor":
		cb, err := NewCBOR[V](false)
		if err != nil {
			return nil, err
		}
		inner = cb
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
	if maxDecode > 0 {
		return Limit[V]{Inner: inner, MaxDecode: maxDecode}, nil
	}
	return inner, nil
}
