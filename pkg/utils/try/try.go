package try

// something have method `Fatal`.
//
// For example in standard libraries: *testing.T, log.Logger
type Fataler interface {
	Fatal(...any)
}

type helperer interface {
	Helper()
}

// Either wraps a pair of (T, error).
type Either[T any] struct {
	value T
	err   error
}

func (e Either[T]) Get() (T, error) {
	return e.value, e.err
}

// When the Either is ok, return the T value.
//
// Otherwise call ftl.Fatal(err). If ftl has a "Helper()" method
// (like *testing.T), that is called before Fatal.
func (e Either[T]) OrFatal(ftl Fataler) T {
	if e.err != nil {
		if h, ok := ftl.(helperer); ok {
			h.Helper()
		}
		ftl.Fatal(e.err)
	}
	return e.value
}

func (e Either[T]) OrDefault(def T) T {
	if e.err != nil {
		return def
	}
	return e.value
}

// To wraps the return values of a (T, error) call.
func To[T any](value T, err error) Either[T] {
	return Either[T]{value: value, err: err}
}
