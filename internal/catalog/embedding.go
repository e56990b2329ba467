package catalog

import (
	"encoding/binary"
	"math"
)

// EncodeEmbedding serializes a float32 slice to its fixed 4*D-byte,
// little-endian blob representation.
func EncodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeEmbedding deserializes a 4*D-byte blob into a float32 slice.
func DecodeEmbedding(b []byte) []float32 {
	n := len(b) / 4
	v := make([]float32, n)
	for i := range n {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// zeroFisherBlob returns a zero-filled D-length float32 blob, used to seed
// the singleton fisher_info row's importance and running_sum columns.
func zeroFisherBlob(dims int) []byte {
	return make([]byte, 4*dims)
}

// CosineSimilarity computes cosine similarity between two equal-length
// float32 vectors. Zero-norm inputs yield zero, never NaN.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		af, bf := float64(a[i]), float64(b[i])
		dot += af * bf
		normA += af * af
		normB += bf * bf
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
