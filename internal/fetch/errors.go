package fetch

import (
	"errors"
	"fmt"
)

// Sentinel errors wrapped by FetchError.
var (
	ErrStatus           = errors.New("unsuccessful response status")
	ErrTransport        = errors.New("request failed")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrInvalidRoot      = errors.New("invalid root url")
)

// FetchError describes a single failed entity request. The branch of the
// graph behind it is missing from the result; the fetch itself goes on.
type FetchError struct {
	URL    string
	Ref    string // global key the request was issued for, empty for the root
	Status int
	Err    error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetching %s: status %d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying cause.
func (e *FetchError) Unwrap() error {
	return e.Err
}
