// Package clienttest provides an in-memory client.Transport for tests.
package clienttest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/pilot-net/ctrl-upgrade/internal/client"
)

// Call records one request made through the fake.
type Call struct {
	Method string
	Path   string
	Body   []byte
}

// Handler answers a request. Returning an error simulates a transport failure.
type Handler func(call Call) (*client.Response, error)

// Transport routes requests to handlers keyed by "METHOD path".
// Unrouted requests get a 404 with an error payload.
type Transport struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []Call
}

// New creates an empty fake transport.
func New() *Transport {
	return &Transport{handlers: make(map[string]Handler)}
}

// Handle registers a handler for method and path.
func (t *Transport) Handle(method, path string, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[method+" "+path] = h
}

// Respond registers a fixed JSON response.
func (t *Transport) Respond(method, path string, status int, body any) {
	t.Handle(method, path, func(Call) (*client.Response, error) {
		return JSON(status, body), nil
	})
}

// Sequence registers responses returned in order; the last one repeats.
func (t *Transport) Sequence(method, path string, responses ...*client.Response) {
	var mu sync.Mutex
	i := 0
	t.Handle(method, path, func(Call) (*client.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		resp := responses[i]
		if i < len(responses)-1 {
			i++
		}
		return resp, nil
	})
}

// Get implements client.Transport.
func (t *Transport) Get(ctx context.Context, path string) (*client.Response, error) {
	return t.do(http.MethodGet, path, nil)
}

// Post implements client.Transport.
func (t *Transport) Post(ctx context.Context, path string, body any) (*client.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return t.do(http.MethodPost, path, data)
}

func (t *Transport) do(method, path string, body []byte) (*client.Response, error) {
	call := Call{Method: method, Path: path, Body: body}

	t.mu.Lock()
	t.calls = append(t.calls, call)
	h, ok := t.handlers[method+" "+path]
	t.mu.Unlock()

	if !ok {
		return JSON(http.StatusNotFound, map[string]string{
			"errorMessage": fmt.Sprintf("no route for %s %s", method, path),
			"errorCode":    "NOT_FOUND",
		}), nil
	}
	return h(call)
}

// Calls returns every request made so far.
func (t *Transport) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Call, len(t.calls))
	copy(out, t.calls)
	return out
}

// Count returns how many requests matched method and path.
func (t *Transport) Count(method, path string) int {
	n := 0
	for _, c := range t.Calls() {
		if c.Method == method && c.Path == path {
			n++
		}
	}
	return n
}

// CountMethod returns how many requests used method.
func (t *Transport) CountMethod(method string) int {
	n := 0
	for _, c := range t.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// JSON builds a response with a JSON-encoded body.
func JSON(status int, body any) *client.Response {
	var data []byte
	switch b := body.(type) {
	case nil:
	case string:
		data = []byte(b)
	case []byte:
		data = b
	default:
		data, _ = json.Marshal(b)
	}
	return &client.Response{StatusCode: status, Body: data}
}
