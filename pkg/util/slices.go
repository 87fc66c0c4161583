package util

// FilterInPlace keeps the elements of s matching keep, reusing s's backing
// array, and returns the shortened slice.
func FilterInPlace[T any](s []T, keep func(T) bool) []T {
	filtered := s[:0]

	for _, element := range s {
		if keep(element) {
			filtered = append(filtered, element)
		}
	}

	return filtered
}
