package luaengine

import "errors"

// Engine errors.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrNotAFunction is returned when a named global is not callable.
	ErrNotAFunction = errors.New("global is not a function")

	// ErrFunctionNotFound is returned when a named global does not exist.
	ErrFunctionNotFound = errors.New("function not found")
)
