package utils

func Ptr[T any](v T) *T {
	return &v
}

// Deref returns the pointed-to value or the zero value when ptr is nil.
func Deref[T any](ptr *T) T {
	var zero T
	if ptr == nil {
		return zero
	}
	return *ptr
}
