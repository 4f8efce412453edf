package util

// Batches splits items into consecutive slices of at most size elements.
// The slices share the backing array of items.
func Batches[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1000
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[i:end])
	}
	return out
}
