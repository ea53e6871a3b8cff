package engine

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mykhaliev/answer-checker/model"
)

func testConfig(baseURL string, maxRetries int) *model.AgentConfig {
	return &model.AgentConfig{
		AgentName:         "test-agent",
		BaseURL:           baseURL,
		EndpointPath:      "/api/chat",
		TimeoutSeconds:    5,
		MaxRetries:        maxRetries,
		RetryDelaySeconds: 0.01,
	}
}

func TestSendParsesJSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"answer":"Paris","session_id":"abc"}`))
	}))
	defer server.Close()

	c := NewHttpClient(testConfig(server.URL, 0))
	resp, err := c.Send(context.Background(), &model.HttpRequest{
		Method: model.MethodPost,
		URL:    server.URL,
		JSONData: map[string]interface{}{
			"user_input": "capital of France?",
		},
	})
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())
	assert.Equal(t, "Paris", resp.JSONData["answer"])
}

func TestSendStatusErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("agent exploded"))
	}))
	defer server.Close()

	c := NewHttpClient(testConfig(server.URL, 3))
	_, err := c.Send(context.Background(), &model.HttpRequest{Method: model.MethodGet, URL: server.URL})

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.Equal(t, "agent exploded", statusErr.Body)
	assert.Equal(t, int32(1), calls.Load(), "non-2xx must not be retried")
}

func TestSendRetriesConnectionErrorsExactly(t *testing.T) {
	// A listener that accepts and immediately closes every connection
	// produces retryable transport errors, and its accept count is the
	// attempt count.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	var accepts atomic.Int32
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			accepts.Add(1)
			conn.Close()
		}
	}()

	const maxRetries = 3
	c := NewHttpClient(testConfig("http://"+listener.Addr().String(), maxRetries))
	_, err = c.Send(context.Background(), &model.HttpRequest{
		Method: model.MethodGet,
		URL:    "http://" + listener.Addr().String(),
	})

	require.Error(t, err)
	assert.True(t, isRetryable(err), "expected a retryable error, got %v", err)
	assert.Equal(t, int32(maxRetries+1), accepts.Load(), "total attempts must be 1+max_retries")
}

func TestSendConnectionRefused(t *testing.T) {
	// Bind then close to get a port nothing listens on.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	listener.Close()

	c := NewHttpClient(testConfig("http://"+addr, 1))
	_, err = c.Send(context.Background(), &model.HttpRequest{Method: model.MethodGet, URL: "http://" + addr})

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
}

func TestSendFreshBodyPerAttempt(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			// Kill the first connection mid-response to force a retry.
			hj := w.(http.Hijacker)
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		body := make([]byte, r.ContentLength)
		r.Body.Read(body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"answer":"ok"}`))
	}))
	defer server.Close()

	c := NewHttpClient(testConfig(server.URL, 2))
	resp, err := c.Send(context.Background(), &model.HttpRequest{
		Method:   model.MethodPost,
		URL:      server.URL,
		JSONData: map[string]interface{}{"user_input": "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.JSONData["answer"])
	assert.Equal(t, int32(2), calls.Load())
}

func TestConsumeEventStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(
			"event: session-started\n" +
				"data: {\"sessionId\":\"sess-42\"}\n" +
				"\n" +
				"event: text\n" +
				"data: The capital \n" +
				"\n" +
				"garbage line without a prefix\n" +
				"event: text\n" +
				"data: is Paris.\n" +
				"\n" +
				"event: end\n" +
				"data: {}\n"))
	}))
	defer server.Close()

	c := NewHttpClient(testConfig(server.URL, 0))
	resp, err := c.Send(context.Background(), &model.HttpRequest{Method: model.MethodPost, URL: server.URL})
	require.NoError(t, err)
	assert.True(t, resp.Streamed)
	assert.Equal(t, "The capitalis Paris.", resp.JSONData["answer"])
	assert.Equal(t, "sess-42", resp.JSONData["session_id"])
}

func TestConsumeEventStreamNoTextFrames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("event: end\ndata: {}\n"))
	}))
	defer server.Close()

	c := NewHttpClient(testConfig(server.URL, 0))
	_, err := c.Send(context.Background(), &model.HttpRequest{Method: model.MethodGet, URL: server.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no text frames")
}

func TestClassifyTransportError(t *testing.T) {
	assert.IsType(t, &TimeoutError{}, classifyTransportError("u", context.DeadlineExceeded))
	assert.IsType(t, &ConnectionError{}, classifyTransportError("u", errors.New("connection reset")))
	assert.ErrorIs(t, classifyTransportError("u", context.Canceled), context.Canceled)
}

func TestSendCancelledDuringBackoffIsNotATimeout(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	cfg := testConfig("http://"+listener.Addr().String(), 3)
	cfg.RetryDelaySeconds = 10 // park the client in backoff
	c := NewHttpClient(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err = c.Send(ctx, &model.HttpRequest{
		Method: model.MethodGet,
		URL:    "http://" + listener.Addr().String(),
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	var timeoutErr *TimeoutError
	assert.False(t, errors.As(err, &timeoutErr), "cancellation must not be reported as a timeout")
}
