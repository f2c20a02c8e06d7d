package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/pilot-net/ctrl-upgrade/pkg/types"
)

// ErrRequestTimeout is matched by every *TimeoutError.
var ErrRequestTimeout = errors.New("request timed out")

// ServerError is a non-success response from the server.
type ServerError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *ServerError) Error() string {
	switch {
	case e.Message != "" && e.Code != "":
		return e.Message + " " + e.Code
	case e.Message != "":
		return e.Message
	case e.Code != "":
		return fmt.Sprintf("server returned HTTP %d: %s", e.StatusCode, e.Code)
	default:
		text := http.StatusText(e.StatusCode)
		if text == "" {
			return fmt.Sprintf("server returned HTTP %d", e.StatusCode)
		}
		return fmt.Sprintf("server returned HTTP %d %s", e.StatusCode, text)
	}
}

// TimeoutError is returned when a request exceeds its timeout.
type TimeoutError struct {
	Method string
	Path   string
	Err    error
}

func (e *TimeoutError) Error() string {
	path := e.Path
	if path == "" {
		path = "/"
	}
	return fmt.Sprintf("%s %s: %v", e.Method, path, ErrRequestTimeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrRequestTimeout) hold.
func (e *TimeoutError) Is(target error) bool { return target == ErrRequestTimeout }

// readError builds a ServerError from a failed response, using the server's
// errorMessage/errorCode when the body carries them.
func readError(resp *Response) error {
	serr := &ServerError{StatusCode: resp.StatusCode}

	var payload types.ErrorPayload
	if err := json.Unmarshal(resp.Body, &payload); err == nil {
		serr.Message = strings.TrimSpace(payload.ErrorMessage)
		serr.Code = strings.TrimSpace(payload.ErrorCode)
	}

	return serr
}
