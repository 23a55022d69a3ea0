package client

// ResultState tags the outcome of a fetch so callers can render success,
// an empty list, or a recoverable error.
type ResultState int

const (
	StateLoading ResultState = iota
	StateSuccess
	StateEmpty
	StateError
)

func (s ResultState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateSuccess:
		return "success"
	case StateEmpty:
		return "empty"
	case StateError:
		return "error"
	}
	return "unknown"
}

func stateFor(n int, err error) ResultState {
	switch {
	case err != nil:
		return StateError
	case n == 0:
		return StateEmpty
	default:
		return StateSuccess
	}
}
