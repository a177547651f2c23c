package storage

import (
	"encoding/binary"
	"fmt"
	"math"
)

// vectorToBytes encodes a vector as fixed-width little-endian float32s so
// persistence is bit-exact.
func vectorToBytes(v []float32) []byte {
	if v == nil {
		return nil
	}
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

// bytesToVector decodes a vector produced by vectorToBytes.
func bytesToVector(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}
