package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudrun-ide/internal/engine"
	"cloudrun-ide/internal/language"
	"cloudrun-ide/internal/sandbox"
)

// stubDriver satisfies engine.ContainerDriver with canned output.
type stubDriver struct {
	output   string
	exitCode int64
}

func (s *stubDriver) Create(_ context.Context, opts sandbox.CreateOptions) (string, error) {
	return "ctr_" + opts.ExecutionID, nil
}
func (s *stubDriver) Upload(context.Context, string, io.Reader, string) error { return nil }
func (s *stubDriver) Start(context.Context, string) error                     { return nil }
func (s *stubDriver) StreamLogs(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(s.output)), nil
}
func (s *stubDriver) Wait(context.Context, string) (int64, error) { return s.exitCode, nil }
func (s *stubDriver) Stop(context.Context, string, time.Duration) {}
func (s *stubDriver) Remove(context.Context, string)              {}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func newTestRouter(driver engine.ContainerDriver, pinger Pinger) *gin.Engine {
	gin.SetMode(gin.TestMode)

	registry := language.NewRegistry()
	eng := engine.New(registry, driver, engine.Config{MaxExecutionTime: 5 * time.Second})
	h := New(eng, registry, pinger, nil)

	router := gin.New()
	h.Register(router, func(c *gin.Context) { c.Next() })
	return router
}

func doRequest(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router := newTestRouter(&stubDriver{}, stubPinger{})

	w := doRequest(t, router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestStatus(t *testing.T) {
	router := newTestRouter(&stubDriver{}, stubPinger{})

	w := doRequest(t, router, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status   string `json:"status"`
		Services struct {
			Docker struct {
				Status string `json:"status"`
			} `json:"docker"`
		} `json:"services"`
		Languages []string `json:"languages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "running", body.Status)
	assert.Equal(t, "ok", body.Services.Docker.Status)
	assert.Contains(t, body.Languages, "python")
}

func TestLanguages(t *testing.T) {
	router := newTestRouter(&stubDriver{}, stubPinger{})

	w := doRequest(t, router, http.MethodGet, "/api/languages", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "python")
	assert.Contains(t, w.Body.String(), "html")
}

func TestTemplate(t *testing.T) {
	router := newTestRouter(&stubDriver{}, stubPinger{})

	w := doRequest(t, router, http.MethodGet, "/api/templates/python", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Hello, World!")

	w = doRequest(t, router, http.MethodGet, "/api/templates/fortran", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStopUnknownExecution(t *testing.T) {
	router := newTestRouter(&stubDriver{}, stubPinger{})

	w := doRequest(t, router, http.MethodPost, "/api/execute/stop/exec_unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExecuteREST(t *testing.T) {
	router := newTestRouter(&stubDriver{output: "Hello\n"}, stubPinger{})

	w := doRequest(t, router, http.MethodPost, "/api/execute",
		`{"language":"python","code":"print('Hello')"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp ExecuteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, "Hello\n", resp.Stdout)
	assert.Equal(t, 0, resp.ExitCode)
	assert.True(t, strings.HasPrefix(resp.ExecutionID, "exec_"))
}

func TestExecuteRESTValidationError(t *testing.T) {
	router := newTestRouter(&stubDriver{}, stubPinger{})

	w := doRequest(t, router, http.MethodPost, "/api/execute",
		`{"language":"python","code":"   "}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp ExecuteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, resp.Stderr, "empty")
}

func TestExecuteWSStreamsEvents(t *testing.T) {
	router := newTestRouter(&stubDriver{output: "Hello\n"}, stubPinger{})

	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/execute"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{
		"language": "python",
		"code":     "print('Hello')",
	}))

	var seen []engine.Event
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var ev engine.Event
		if err := conn.ReadJSON(&ev); err != nil {
			break
		}
		seen = append(seen, ev)
		if ev.Type == engine.EventComplete {
			break
		}
	}

	require.Len(t, seen, 4)
	assert.Equal(t, engine.EventStatus, seen[0].Type)
	assert.Equal(t, "Starting execution...", seen[0].Content)
	assert.Equal(t, engine.EventStatus, seen[1].Type)
	assert.Equal(t, engine.EventStdout, seen[2].Type)
	assert.Equal(t, "Hello\n", seen[2].Content)
	assert.Equal(t, engine.EventComplete, seen[3].Type)
	assert.NotEmpty(t, seen[3].Timestamp)
}

func TestExecuteWSMissingFields(t *testing.T) {
	router := newTestRouter(&stubDriver{}, stubPinger{})

	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/execute"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"language": "python"}))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev engine.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, engine.EventError, ev.Type)
	assert.Contains(t, ev.Content, "Missing required fields")
}
