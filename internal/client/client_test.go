package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHTTPTransport_Headers(t *testing.T) {
	var got *http.Request
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":7}`))
	}))
	defer server.Close()

	tr := NewHTTPTransport(Config{
		BaseURL:   server.URL + "/apm/acc/",
		AuthToken: "secret",
		RequestID: "run-1",
		Logger:    testLogger(),
	})

	resp, err := tr.Post(context.Background(), "/controllerUpgradeTask", map[string]string{"controller": "controllers/a1"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.JSONEq(t, `{"id":7}`, string(resp.Body))

	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/apm/acc/controllerUpgradeTask", got.URL.Path)
	assert.Equal(t, "Bearer secret", got.Header.Get("Authorization"))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, "run-1", got.Header.Get("X-Request-ID"))
	assert.JSONEq(t, `{"controller":"controllers/a1"}`, string(gotBody))
}

func TestHTTPTransport_GetBase(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Write([]byte(`{"serverVersion":"10.7.0"}`))
	}))
	defer server.Close()

	tr := NewHTTPTransport(Config{BaseURL: server.URL + "/apm/acc", Logger: testLogger()})
	resp, err := tr.Get(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/apm/acc", path)
}

func TestHTTPTransport_NoTokenNoAuthHeader(t *testing.T) {
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
	}))
	defer server.Close()

	tr := NewHTTPTransport(Config{BaseURL: server.URL, Logger: testLogger()})
	_, err := tr.Get(context.Background(), "/controller")
	require.NoError(t, err)
	assert.Empty(t, auth)
}

func TestHTTPTransport_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	tr := NewHTTPTransport(Config{
		BaseURL:        server.URL,
		RequestTimeout: 50 * time.Millisecond,
		Logger:         testLogger(),
	})

	_, err := tr.Get(context.Background(), "/controller")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRequestTimeout), "expected timeout, got %v", err)

	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.MethodGet, terr.Method)
	assert.Equal(t, "/controller", terr.Path)
}

func TestHTTPTransport_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	tr := NewHTTPTransport(Config{BaseURL: url, Logger: testLogger()})
	_, err := tr.Get(context.Background(), "")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRequestTimeout))
}

func TestServerError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  ServerError
		want string
	}{
		{"message and code", ServerError{StatusCode: 404, Message: "Controller not found", Code: "404"}, "Controller not found 404"},
		{"message only", ServerError{StatusCode: 400, Message: "Bad controller"}, "Bad controller"},
		{"code only", ServerError{StatusCode: 409, Code: "E_CONFLICT"}, "server returned HTTP 409: E_CONFLICT"},
		{"generic", ServerError{StatusCode: 500}, "server returned HTTP 500 Internal Server Error"},
		{"unknown status", ServerError{StatusCode: 599}, "server returned HTTP 599"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestReadError_NonJSONBody(t *testing.T) {
	err := readError(&Response{StatusCode: http.StatusBadGateway, Body: []byte("<html>bad gateway</html>")})

	var serr *ServerError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusBadGateway, serr.StatusCode)
	assert.Empty(t, serr.Message)
	assert.Equal(t, "server returned HTTP 502 Bad Gateway", serr.Error())
}

func TestHTTPTransport_EndToEndWithAPI(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/acc/controllerUpgradeTask/42", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"id": 42, "status": "FAILED", "upgradeErrors": []string{"disk full"}})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	api := NewAPI(NewHTTPTransport(Config{BaseURL: server.URL + "/acc", Logger: testLogger()}))
	task, err := api.GetUpgradeTask(context.Background(), 42)
	require.NoError(t, err)
	assert.EqualValues(t, 42, task.ID)
	assert.Equal(t, "FAILED", string(task.Status))
	assert.JSONEq(t, `["disk full"]`, string(task.UpgradeErrors))
}
