package training

// Optional holds either a value or nothing. It replaces the nil checks the
// model heads would otherwise need for targets and logits that a particular
// architecture does not produce.
type Optional[T any] struct {
	value   T
	present bool
}

// Present wraps a value
func Present[T any](value T) Optional[T] {
	return Optional[T]{value: value, present: true}
}

// Absent returns an empty Optional
func Absent[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the wrapped value and whether it is present
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.present
}

func (o Optional[T]) IsPresent() bool {
	return o.present
}

// OrElse returns the wrapped value, or fallback when absent
func (o Optional[T]) OrElse(fallback T) T {
	if o.present {
		return o.value
	}
	return fallback
}
