package sandpolis

import (
	"errors"
	"fmt"
)

// ErrNoConnection is returned when no connection can reach an instance.
var ErrNoConnection = errors.New("no suitable connection")

// InvalidServerURLError is returned from [ParseServerURL].
type InvalidServerURLError struct {
	URL    string
	Reason string

	// Err is the underlying parse error, if any.
	Err error
}

func (e InvalidServerURLError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid server URL %q: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid server URL %q: %s", e.URL, e.Reason)
}

func (e InvalidServerURLError) Unwrap() error {
	return e.Err
}
