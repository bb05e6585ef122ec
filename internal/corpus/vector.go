package corpus

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DecodeVector decodes a little-endian float32 byte blob into a vector of
// the expected dimension.
func DecodeVector(blob []byte, dim int) ([]float32, error) {
	if len(blob) != dim*4 {
		return nil, fmt.Errorf("embedding blob is %d bytes, want %d (dim %d)", len(blob), dim*4, dim)
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}

// EncodeVector encodes a vector as a little-endian float32 byte blob.
// The ingestion side owns writes; this exists for test fixtures.
func EncodeVector(vec []float32) []byte {
	blob := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}
