package codec

import "encoding/json"

// JSON uses the same field names as the REST payloads, which keeps cached entries
// readable when inspected in Redis.
type JSON[V any] struct{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }
func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}
