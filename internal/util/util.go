package util

// FastEqual short-circuits pointer comparison: identical or both-nil
// pointers are equal, a single nil is not, and anything else defers to
// the provided comparison.
func FastEqual[V any](a, b *V, slowEqual func(a, b *V) bool) bool {
	if a == b {
		return true
	}

	if a == nil || b == nil {
		return false
	}

	return slowEqual(a, b)
}

func PtrEqual[T comparable](a, b *T) bool {
	return FastEqual(a, b, func(a, b *T) bool { return *a == *b })
}
