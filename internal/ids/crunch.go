package ids

// Crunch is the "inline-or-indirect" vector optimization described by the
// spec: a discriminated union keyed on a guard tag, where zero elements
// need no storage, one element is inlined directly (no allocation), and
// anything larger is an index into an out-of-line vector file. This is
// the common case for a job's star-target list, which is usually empty
// or a single file.
//
// T must be a small, comparable value type (an index or similar); Crunch
// does not itself own the indirect storage, it only remembers where to
// find it.
type Crunch[T comparable] struct {
	guard   uint8
	inline  T
	indirect uint32 // index into the caller's vector file, valid iff guard==guardIndirect
	n        uint32 // element count, valid iff guard==guardIndirect
}

// Empty returns a Crunch holding no elements.
func Empty[T comparable]() Crunch[T] {
	return Crunch[T]{guard: guardNone}
}

// One returns a Crunch inlining a single value.
func One[T comparable](v T) Crunch[T] {
	return Crunch[T]{guard: guardInline, inline: v}
}

// Many returns a Crunch referencing n elements starting at index idx in
// the caller's vector file.
func Many[T comparable](idx uint32, n uint32) Crunch[T] {
	if n == 0 {
		return Empty[T]()
	}
	return Crunch[T]{guard: guardIndirect, indirect: idx, n: n}
}

// Len returns the number of elements represented, without touching the
// indirect vector file.
func (c Crunch[T]) Len() int {
	switch c.guard {
	case guardNone:
		return 0
	case guardInline:
		return 1
	default:
		return int(c.n)
	}
}

// InlineValue returns the inlined value and true iff this Crunch holds
// exactly one element stored inline.
func (c Crunch[T]) InlineValue() (T, bool) {
	if c.guard == guardInline {
		return c.inline, true
	}
	var zero T
	return zero, false
}

// Indirect returns the (index, count) of the out-of-line run, and true
// iff this Crunch is indirect.
func (c Crunch[T]) Indirect() (idx uint32, n uint32, ok bool) {
	if c.guard == guardIndirect {
		return c.indirect, c.n, true
	}
	return 0, 0, false
}
