package embedding

// Normalize returns vec resized to dim: the tail is truncated when vec is
// longer and zero-padded when shorter. The input slice is never modified.
func Normalize(vec []float32, dim int) []float32 {
	out := make([]float32, dim)
	copy(out, vec)
	return out
}

// Degenerate reports whether vec carries no signal: it is empty or every
// component is zero.
func Degenerate(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
