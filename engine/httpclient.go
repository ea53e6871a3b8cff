package engine

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/mykhaliev/answer-checker/logger"
	"github.com/mykhaliev/answer-checker/model"
)

// ============================================================================
// CLIENT ERRORS
// ============================================================================

// TimeoutError wraps a request that exceeded its deadline. Retryable.
type TimeoutError struct {
	URL string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request to %s timed out: %v", e.URL, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// ConnectionError wraps a transport-level failure (refused, DNS, reset).
// Retryable.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// HTTPStatusError reports a non-2xx response. The agent answered, so this
// is never retried. Body is carried raw and untruncated for diagnostics.
type HTTPStatusError struct {
	StatusCode int
	Body       string
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("request to %s returned HTTP %d: %s", e.URL, e.StatusCode, e.Body)
}

// ============================================================================
// HTTP CLIENT
// ============================================================================

// HttpClient sends agent requests with bounded retries. Only transient
// transport failures are retried; status errors mean the agent is reachable
// and retrying would just repeat the answer.
type HttpClient struct {
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
}

func NewHttpClient(cfg *model.AgentConfig) *HttpClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.SSLVerificationEnabled() {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &HttpClient{
		client: &http.Client{
			Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
			Transport: transport,
		},
		maxRetries: cfg.MaxRetries,
		retryDelay: time.Duration(cfg.RetryDelaySeconds * float64(time.Second)),
	}
}

// Send performs the request with up to maxRetries additional attempts, so
// the total attempt count is 1+maxRetries. Backoff doubles from the
// configured base delay. A fresh http.Request is built per attempt; bodies
// are never reused across attempts.
func (c *HttpClient) Send(ctx context.Context, req *model.HttpRequest) (*model.HttpResponse, error) {
	var lastErr error
	attempts := c.maxRetries + 1

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1))
			logger.Logger.Warn("Retrying request",
				"url", req.URL,
				"attempt", attempt+1,
				"of", attempts,
				"delay", delay,
				"error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				// An interrupt is not a timeout; report it as what it is.
				return nil, fmt.Errorf("request to %s aborted: %w", req.URL, ctx.Err())
			}
		}

		resp, err := c.sendOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return nil, err
		}
	}

	return nil, lastErr
}

func isRetryable(err error) bool {
	var te *TimeoutError
	var ce *ConnectionError
	return errors.As(err, &te) || errors.As(err, &ce)
}

func (c *HttpClient) sendOnce(ctx context.Context, req *model.HttpRequest) (*model.HttpResponse, error) {
	var body io.Reader
	if req.JSONData != nil {
		encoded, err := sonic.Marshal(req.JSONData)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, string(req.Method), req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.JSONData != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if len(req.QueryParams) > 0 {
		q := httpReq.URL.Query()
		for k, v := range req.QueryParams {
			q.Set(k, v)
		}
		httpReq.URL.RawQuery = q.Encode()
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(req.URL, err)
	}
	defer resp.Body.Close()

	elapsed := float64(time.Since(start)) / float64(time.Millisecond)

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return c.consumeEventStream(req.URL, resp, start)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(req.URL, err)
	}
	text := string(raw)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: text, URL: req.URL}
	}

	result := &model.HttpResponse{
		StatusCode:     resp.StatusCode,
		Headers:        flattenHeaders(resp.Header),
		Text:           text,
		ResponseTimeMs: elapsed,
		URL:            req.URL,
	}
	var jsonData map[string]interface{}
	if err := sonic.Unmarshal(raw, &jsonData); err == nil {
		result.JSONData = jsonData
	}
	return result, nil
}

func classifyTransportError(reqURL string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("request to %s aborted: %w", reqURL, context.Canceled)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{URL: reqURL, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{URL: reqURL, Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return &TimeoutError{URL: reqURL, Err: err}
	}
	return &ConnectionError{URL: reqURL, Err: err}
}

// ============================================================================
// EVENT STREAMS
// ============================================================================

// consumeEventStream folds an SSE body frame by frame as it arrives.
// "event: text" frames contribute their data payloads to the answer in
// arrival order; "event: session-started" yields the session id; malformed
// frames are skipped with a diagnostic. A stream that ends without a single
// valid text frame is an error, not an empty answer.
func (c *HttpClient) consumeEventStream(reqURL string, resp *http.Response, start time.Time) (*model.HttpResponse, error) {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(raw), URL: reqURL}
	}

	var answer strings.Builder
	var sessionID string
	var currentEvent string
	textFrames := 0

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			currentEvent = ""
		case strings.HasPrefix(line, "event:"):
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			switch currentEvent {
			case "text":
				answer.WriteString(data)
				textFrames++
			case "session-started":
				var payload map[string]interface{}
				if err := sonic.UnmarshalString(data, &payload); err == nil {
					if id, ok := payload["sessionId"]; ok {
						sessionID = fmt.Sprint(id)
					}
				} else {
					logger.Logger.Debug("Skipping malformed session frame", "data", data)
				}
			case "end", "done":
				// terminal frame, keep draining until EOF
			}
		case strings.HasPrefix(line, ":"):
			// comment frame, ignored
		default:
			logger.Logger.Debug("Skipping malformed event stream line", "line", line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, classifyTransportError(reqURL, err)
	}

	if textFrames == 0 {
		return nil, fmt.Errorf("event stream from %s contained no text frames", reqURL)
	}

	jsonData := map[string]interface{}{"answer": strings.TrimSpace(answer.String())}
	if sessionID != "" {
		jsonData["session_id"] = sessionID
	}
	return &model.HttpResponse{
		StatusCode:     resp.StatusCode,
		Headers:        flattenHeaders(resp.Header),
		JSONData:       jsonData,
		ResponseTimeMs: float64(time.Since(start)) / float64(time.Millisecond),
		URL:            reqURL,
		Streamed:       true,
	}, nil
}

func flattenHeaders(h http.Header) map[string]string {
	headers := make(map[string]string, len(h))
	for k := range h {
		headers[k] = h.Get(k)
	}
	return headers
}
