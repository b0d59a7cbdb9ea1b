package vectorindex

import (
	"container/heap"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into buf, growing it only
// when needed. Pass nil to get a fresh slice.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// innerProduct returns dot(a, b). Vectors of different length score zero.
func innerProduct(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot)
}

// topK keeps the k best hits seen so far in a min-heap.
type topK struct {
	k int
	h hitHeap
}

func newTopK(k int) *topK {
	return &topK{k: k, h: make(hitHeap, 0, k)}
}

func (t *topK) offer(id string, score float32) {
	if t.k <= 0 {
		return
	}
	if t.h.Len() < t.k {
		heap.Push(&t.h, Hit{ID: id, Score: score})
		return
	}
	if worse(t.h[0], Hit{ID: id, Score: score}) {
		t.h[0] = Hit{ID: id, Score: score}
		heap.Fix(&t.h, 0)
	}
}

// sorted returns the kept hits by descending score, ties by ascending id.
func (t *topK) sorted() []Hit {
	if len(t.h) == 0 {
		return nil
	}
	out := make([]Hit, len(t.h))
	copy(out, t.h)
	sort.Slice(out, func(i, j int) bool { return worse(out[j], out[i]) })
	return out
}

// worse reports whether a ranks below b.
func worse(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.ID > b.ID
}

type hitHeap []Hit

func (h hitHeap) Len() int            { return len(h) }
func (h hitHeap) Less(i, j int) bool  { return worse(h[i], h[j]) }
func (h hitHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x interface{}) { *h = append(*h, x.(Hit)) }
func (h *hitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
