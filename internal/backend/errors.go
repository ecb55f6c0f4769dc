package backend

import (
	"errors"
	"fmt"
	"net/http"

	"clipstudio/internal/domain"
)

var (
	ErrHTTP      = errors.New("backend http error")
	ErrTransport = errors.New("backend transport error")
)

// StatusError is returned for any non-2xx backend response.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: backend HTTP %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: backend HTTP %d: %s", e.Op, e.Code, e.Body)
}

func (e *StatusError) Is(target error) bool {
	if target == ErrHTTP {
		return true
	}
	return target == domain.ErrNotFound && e.Code == http.StatusNotFound
}

func wrapTransport(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrTransport, op, err)
}
