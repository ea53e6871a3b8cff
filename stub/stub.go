package stub

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/yalp/jsonpath"

	"github.com/mykhaliev/answer-checker/logger"
	"github.com/mykhaliev/answer-checker/model"
)

// ============================================================================
// STUB SERVICE
// ============================================================================

// PortInUseError reports that the stub port could not be bound within the
// grace period. The orchestrator treats it as fatal for the whole run.
type PortInUseError struct {
	Port int
	Err  error
}

func (e *PortInUseError) Error() string {
	return fmt.Sprintf("stub port %d is unavailable: %v", e.Port, e.Err)
}

func (e *PortInUseError) Unwrap() error { return e.Err }

// RuleSet is the rules active for one test: test-specific rules are
// consulted first, the agent-level pool after.
type RuleSet struct {
	TestRules  map[string][]model.ToolStubRule
	AgentRules map[string][]model.ToolStubRule
}

// ToolNames lists every tool either layer declares, test layer first.
func (rs RuleSet) ToolNames() []string {
	var names []string
	seen := map[string]bool{}
	for name := range rs.TestRules {
		names = append(names, name)
		seen[name] = true
	}
	for name := range rs.AgentRules {
		if !seen[name] {
			names = append(names, name)
		}
	}
	return names
}

// rulesFor returns the ordered matcher list for one tool.
func (rs RuleSet) rulesFor(tool string) []model.ToolStubRule {
	rules := append([]model.ToolStubRule{}, rs.TestRules[tool]...)
	return append(rules, rs.AgentRules[tool]...)
}

const (
	bindGracePeriod = 5 * time.Second
	bindRetryDelay  = 250 * time.Millisecond
)

// Service is the mock tool backend agents call during a test. One instance
// per process; the port is the only exclusive resource it holds.
type Service struct {
	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	port     int

	rulesMu sync.RWMutex
	rules   RuleSet
}

func NewService() *Service {
	return &Service{}
}

// Start makes the service listen on port with exactly the given rules.
// Already running on the same port, the rule set is swapped in place;
// running on a different port, the old listener is stopped first. Binding
// is retried over a short grace period to ride out a previous process
// releasing the port.
func (s *Service) Start(port int, rules RuleSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil && s.port == port {
		s.setRules(rules)
		logger.Logger.Debug("Stub service rules swapped", "port", port, "tools", len(rules.ToolNames()))
		return nil
	}
	if s.listener != nil {
		s.stopLocked()
	}

	listener, err := bindWithGrace(port)
	if err != nil {
		return &PortInUseError{Port: port, Err: err}
	}

	s.setRules(rules)
	s.listener = listener
	// Port 0 binds an ephemeral port; record what the kernel picked.
	s.port = listener.Addr().(*net.TCPAddr).Port
	s.server = &http.Server{Handler: s.buildRouter()}

	go func(srv *http.Server, l net.Listener) {
		if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
			logger.Logger.Error("Stub service stopped unexpectedly", "error", err)
		}
	}(s.server, listener)

	logger.Logger.Info("Stub service started", "port", s.port, "tools", len(rules.ToolNames()))
	return nil
}

// Port reports the bound port, 0 when not running.
func (s *Service) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return 0
	}
	return s.port
}

// Stop releases the listener. Safe to call when the service never started
// and safe to call more than once.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Service) stopLocked() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.server.Close()
	}
	s.server = nil
	s.listener = nil
	logger.Logger.Debug("Stub service stopped", "port", s.port)
}

// WaitReady polls /health until the service answers or the timeout lapses.
// The successful bind already guarantees the listener exists; this confirms
// the accept loop is serving.
func (s *Service) WaitReady(timeout time.Duration) error {
	s.mu.Lock()
	port := s.port
	running := s.listener != nil
	s.mu.Unlock()
	if !running {
		return fmt.Errorf("stub service is not running")
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	client := &http.Client{Timeout: 500 * time.Millisecond}
	deadline := time.Now().Add(timeout)
	for {
		resp, err := client.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("stub service not ready after %s", timeout)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (s *Service) setRules(rules RuleSet) {
	s.rulesMu.Lock()
	s.rules = rules
	s.rulesMu.Unlock()
}

func (s *Service) currentRules() RuleSet {
	s.rulesMu.RLock()
	defer s.rulesMu.RUnlock()
	return s.rules
}

func bindWithGrace(port int) (net.Listener, error) {
	deadline := time.Now().Add(bindGracePeriod)
	for {
		listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			return listener, nil
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		time.Sleep(bindRetryDelay)
	}
}

// ============================================================================
// ROUTING
// ============================================================================

func (s *Service) buildRouter() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	router.GET("/api/mcp/service/:name", func(c *gin.Context) {
		s.handleServiceDefinition(c, c.Param("name"))
	})

	router.Any("/mcp", gin.WrapH(s.mcpHandler()))

	// Everything else is a tool call; the tool name is the full path so
	// nested paths like /crm/orders/search work too.
	router.NoRoute(func(c *gin.Context) {
		tool := strings.Trim(c.Request.URL.Path, "/")
		s.handleToolCall(c, tool)
	})

	return router
}

func (s *Service) handleToolCall(c *gin.Context, tool string) {
	rules := s.currentRules().rulesFor(tool)
	if len(rules) == 0 {
		s.notFound(c, tool, "no stub rules declared for tool")
		return
	}

	request, err := s.incomingRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	for i, rule := range rules {
		if ruleMatches(rule, request) {
			logger.Logger.Debug("Stub rule matched", "tool", tool, "rule", i)
			s.respond(c, rule)
			return
		}
	}

	s.notFound(c, tool, "no stub rule matched the request")
}

// handleServiceDefinition answers MCP service-definition lookups. With a
// matching stub rule the rule's body is returned; otherwise a minimal
// definition pointing back at this service.
func (s *Service) handleServiceDefinition(c *gin.Context, name string) {
	rules := s.currentRules().rulesFor("api/mcp/service/" + name)
	for _, rule := range rules {
		if ruleMatches(rule, map[string]interface{}{}) {
			s.respond(c, rule)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"name":      name,
		"transport": "streamable-http",
		"url":       fmt.Sprintf("http://127.0.0.1:%d/mcp", s.port),
	})
}

// incomingRequest flattens the request into a field map: query parameters
// for GET, the JSON body for anything with one.
func (s *Service) incomingRequest(c *gin.Context) (map[string]interface{}, error) {
	request := map[string]interface{}{}

	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			request[key] = values[0]
		}
	}

	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		var body map[string]interface{}
		if err := c.ShouldBindJSON(&body); err != nil {
			return nil, fmt.Errorf("request body is not valid JSON: %w", err)
		}
		for k, v := range body {
			request[k] = v
		}
	}

	return request, nil
}

// notFound is the contract for unmatched calls: a 404 carrying the matcher
// inventory so the test author can see what the stub expected.
func (s *Service) notFound(c *gin.Context, tool, reason string) {
	rules := s.currentRules().rulesFor(tool)
	matchers := make([]map[string]interface{}, 0, len(rules))
	for _, rule := range rules {
		matchers = append(matchers, rule.Request)
	}
	logger.Logger.Warn("Unmatched stub call", "tool", tool, "reason", reason)
	c.JSON(http.StatusNotFound, gin.H{
		"error":              reason,
		"tool":               tool,
		"available_matchers": matchers,
	})
}

func (s *Service) respond(c *gin.Context, rule model.ToolStubRule) {
	body, err := ResolveResponse(rule)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, body)
}

// ============================================================================
// MATCHING
// ============================================================================

// ruleMatches checks that every field the rule declares equals the incoming
// value. Extra incoming fields are ignored. A key starting with '$' is a
// JSONPath expression evaluated against the whole request.
func ruleMatches(rule model.ToolStubRule, request map[string]interface{}) bool {
	for key, want := range rule.Request {
		var got interface{}
		if strings.HasPrefix(key, "$") {
			value, err := jsonpath.Read(request, key)
			if err != nil {
				return false
			}
			got = value
		} else {
			value, ok := request[key]
			if !ok {
				return false
			}
			got = value
		}
		if !valuesEqual(want, got) {
			return false
		}
	}
	return true
}

// valuesEqual tolerates the type drift between YAML matchers, JSON bodies
// and query-param strings (int vs float64 vs "42").
func valuesEqual(want, got interface{}) bool {
	if reflect.DeepEqual(want, got) {
		return true
	}
	return fmt.Sprint(want) == fmt.Sprint(got)
}

// ResolveResponse produces the response body for a rule: inline response
// first, then the response file (parsed as JSON when possible, raw text
// otherwise).
func ResolveResponse(rule model.ToolStubRule) (interface{}, error) {
	if rule.ResponseData != nil {
		return rule.ResponseData, nil
	}
	if rule.Response != nil {
		return rule.Response, nil
	}
	if rule.ResponseFile == "" {
		return nil, fmt.Errorf("stub rule has no response")
	}

	data, err := os.ReadFile(rule.ResponseFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read stub response file: %w", err)
	}
	var parsed interface{}
	if err := sonic.Unmarshal(data, &parsed); err != nil {
		return string(data), nil
	}
	return parsed, nil
}
