package model

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mykhaliev/answer-checker/logger"
	"gopkg.in/yaml.v3"
)

// ============================================================================
// COMPARISON METHOD
// ============================================================================

// ComparisonMethod is the closed set of strategies used to judge an actual
// answer against the expected one. Adding a method means extending the
// switch in the compare package, not registering a string at runtime.
type ComparisonMethod string

const (
	CompareExact     ComparisonMethod = "exact"
	CompareSemantic  ComparisonMethod = "semantic"
	CompareSubstring ComparisonMethod = "substring"
)

func (m ComparisonMethod) Valid() bool {
	switch m {
	case CompareExact, CompareSemantic, CompareSubstring:
		return true
	}
	return false
}

// ============================================================================
// TOOL STUBS
// ============================================================================

// ToolStubRule pairs a request matcher with a canned response. Matcher
// fields are compared by exact value equality; fields present on the
// incoming request but absent from the matcher are ignored. A matcher key
// starting with '$' is treated as a JSONPath expression evaluated against
// the incoming request body.
type ToolStubRule struct {
	Request      map[string]interface{} `yaml:"request" json:"request"`
	ResponseFile string                 `yaml:"response_file,omitempty" json:"responseFile,omitempty"`
	Response     map[string]interface{} `yaml:"response,omitempty" json:"response,omitempty"`
	// ResponseData is the resolved body (inline or loaded from ResponseFile),
	// populated before the rule is handed to the stub service.
	ResponseData interface{} `yaml:"-" json:"-"`
}

// ============================================================================
// TEST CASE
// ============================================================================

const (
	DefaultSemanticThreshold = 0.85
)

type TestCase struct {
	// TestName is derived from the source file name, never from YAML content.
	TestName          string                    `yaml:"-" json:"testName"`
	Variables         map[string]string         `yaml:"variables,omitempty" json:"variables,omitempty"`
	UserInput         string                    `yaml:"user_input" json:"userInput"`
	ExpectedAnswer    string                    `yaml:"expected_answer" json:"expectedAnswer"`
	SemanticThreshold float64                   `yaml:"semantic_threshold" json:"semanticThreshold"`
	ComparisonMethod  ComparisonMethod          `yaml:"comparison_method" json:"comparisonMethod"`
	RequiredWords     []string                  `yaml:"required_words,omitempty" json:"requiredWords,omitempty"`
	ToolStubs         map[string][]ToolStubRule `yaml:"tool_stubs,omitempty" json:"toolStubs,omitempty"`
}

// ParseTestCase loads a single test case from a YAML file. The test name is
// the file stem. Defaults are applied here; semantic threshold range and
// other per-test configuration errors are reported by Validate so the
// runner can surface them as error outcomes instead of aborting the load.
func ParseTestCase(path string) (*TestCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	tc := TestCase{
		SemanticThreshold: DefaultSemanticThreshold,
		ComparisonMethod:  CompareSemantic,
	}
	if err := yaml.Unmarshal(data, &tc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML test case: %w", err)
	}

	tc.TestName = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if tc.ComparisonMethod == "" {
		tc.ComparisonMethod = CompareSemantic
	}
	return &tc, nil
}

// Validate returns configuration problems that must block network I/O for
// this test. An empty slice means the test is runnable.
func (tc *TestCase) Validate() []string {
	var errs []string

	if strings.TrimSpace(tc.UserInput) == "" && !tc.IsHealthcheck() {
		errs = append(errs, "user_input cannot be empty")
	}
	if strings.TrimSpace(tc.ExpectedAnswer) == "" && tc.ComparisonMethod != CompareSubstring && !tc.IsHealthcheck() {
		errs = append(errs, "expected_answer cannot be empty")
	}
	if !tc.ComparisonMethod.Valid() {
		errs = append(errs, fmt.Sprintf("unknown comparison_method: %s", tc.ComparisonMethod))
	}
	// The method selects which knob is consulted; the other one is ignored,
	// never validated against.
	if tc.ComparisonMethod == CompareSemantic && (tc.SemanticThreshold < 0.0 || tc.SemanticThreshold > 1.0) {
		errs = append(errs, "semantic_threshold must be between 0.0 and 1.0")
	}
	if tc.ComparisonMethod == CompareSubstring && len(tc.RequiredWords) == 0 {
		errs = append(errs, "substring comparison requires a required_words list")
	}

	for toolName, rules := range tc.ToolStubs {
		for i, rule := range rules {
			if rule.ResponseFile == "" && rule.Response == nil {
				errs = append(errs, fmt.Sprintf("tool_stubs.%s[%d]: response_file or inline response is required", toolName, i))
			}
		}
	}

	return errs
}

// IsHealthcheck reports whether this test only probes agent liveness.
// Healthcheck tests pass on any 2xx response and skip comparison.
func (tc *TestCase) IsHealthcheck() bool {
	return strings.EqualFold(tc.TestName, "healthcheck")
}

// ============================================================================
// TEST SUITE
// ============================================================================

type FailedLoad struct {
	TestName string `json:"testName"`
	Error    string `json:"error"`
	FilePath string `json:"filePath"`
}

type AgentTestSuite struct {
	AgentName   string                    `json:"agentName"`
	TestCases   []TestCase                `json:"testCases"`
	FailedLoads []FailedLoad              `json:"failedLoads,omitempty"`
	AgentStubs  map[string][]ToolStubRule `json:"agentStubs,omitempty"`
	// TotalTests counts loaded plus failed-to-load cases; a broken file is
	// still a test that must appear in the report.
	TotalTests int `json:"totalTests"`
}

const agentServicesFile = "agent-services"

// DiscoverAgents lists the agent directories under testsDir that contain at
// least one YAML test file.
func DiscoverAgents(testsDir string) ([]string, error) {
	entries, err := os.ReadDir(testsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read tests directory: %w", err)
	}

	var agents []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		files, err := listTestFiles(filepath.Join(testsDir, entry.Name()))
		if err == nil && len(files) > 0 {
			agents = append(agents, entry.Name())
		}
	}
	sort.Strings(agents)
	return agents, nil
}

// LoadAgentTestSuite loads every test case for an agent. Files that fail to
// parse are collected as FailedLoads rather than aborting the suite, so the
// runner can emit synthetic error outcomes for them.
func LoadAgentTestSuite(testsDir, agentName string) (*AgentTestSuite, error) {
	agentDir := filepath.Join(testsDir, agentName)
	files, err := listTestFiles(agentDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no test files found for agent: %s", agentName)
	}

	suite := &AgentTestSuite{AgentName: agentName}
	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		if name == agentServicesFile {
			continue
		}
		tc, err := ParseTestCase(file)
		if err != nil {
			logger.Logger.Warn("Failed to load test case", "file", file, "error", err)
			suite.FailedLoads = append(suite.FailedLoads, FailedLoad{
				TestName: name,
				Error:    err.Error(),
				FilePath: file,
			})
			continue
		}
		suite.TestCases = append(suite.TestCases, *tc)
	}

	suite.AgentStubs = loadAgentStubs(agentDir)
	suite.TotalTests = len(suite.TestCases) + len(suite.FailedLoads)
	return suite, nil
}

// LoadSingleTest loads exactly one named test case into a suite.
func LoadSingleTest(testsDir, agentName, testName string) (*AgentTestSuite, error) {
	agentDir := filepath.Join(testsDir, agentName)
	if _, err := os.Stat(agentDir); err != nil {
		return nil, fmt.Errorf("agent test directory not found: %s", agentDir)
	}

	var testFile string
	for _, ext := range []string{".yaml", ".yml"} {
		candidate := filepath.Join(agentDir, testName+ext)
		if _, err := os.Stat(candidate); err == nil {
			testFile = candidate
			break
		}
	}
	if testFile == "" {
		return nil, fmt.Errorf("test file not found: %s.yaml (or .yml) in %s", testName, agentDir)
	}

	suite := &AgentTestSuite{AgentName: agentName, AgentStubs: loadAgentStubs(agentDir)}
	tc, err := ParseTestCase(testFile)
	if err != nil {
		suite.FailedLoads = append(suite.FailedLoads, FailedLoad{
			TestName: testName,
			Error:    err.Error(),
			FilePath: testFile,
		})
	} else {
		suite.TestCases = append(suite.TestCases, *tc)
	}
	suite.TotalTests = 1
	return suite, nil
}

func listTestFiles(agentDir string) ([]string, error) {
	info, err := os.Stat(agentDir)
	if err != nil {
		return nil, fmt.Errorf("agent test directory not found: %s", agentDir)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", agentDir)
	}

	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(agentDir, pattern))
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			base := filepath.Base(m)
			if strings.HasPrefix(base, ".") {
				continue
			}
			if strings.TrimSuffix(base, filepath.Ext(base)) == agentServicesFile {
				continue
			}
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}

// loadAgentStubs reads the optional agent-services.yaml file holding the
// agent-level stub pool, consulted when no test-specific rule matches.
func loadAgentStubs(agentDir string) map[string][]ToolStubRule {
	var path string
	for _, ext := range []string{".yaml", ".yml"} {
		candidate := filepath.Join(agentDir, agentServicesFile+ext)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
			break
		}
	}
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Logger.Warn("Failed to read agent services file", "file", path, "error", err)
		return nil
	}

	var doc struct {
		AgentStubs map[string][]ToolStubRule `yaml:"agent_stubs"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		logger.Logger.Warn("Failed to parse agent services file", "file", path, "error", err)
		return nil
	}
	if len(doc.AgentStubs) == 0 {
		logger.Logger.Warn("No agent_stubs section in agent services file", "file", path)
		return nil
	}

	logger.Logger.Info("Loaded agent-level stubs", "file", path, "tools", len(doc.AgentStubs))
	return doc.AgentStubs
}

// ============================================================================
// AGENT CONFIGURATION
// ============================================================================

const (
	DefaultTimeoutSeconds    = 30
	DefaultMaxRetries        = 3
	DefaultRetryDelaySeconds = 1.0
	DefaultStubPort          = 9876
)

// SemanticConfig points at an OpenAI-compatible embeddings endpoint used by
// semantic comparisons. Leave empty to go straight to the lexical fallback.
type SemanticConfig struct {
	BaseURL  string `yaml:"base_url,omitempty"`
	Model    string `yaml:"model,omitempty"`
	TokenEnv string `yaml:"token_env,omitempty"`
}

type AgentConfig struct {
	AgentName         string            `yaml:"agent_name"`
	BaseURL           string            `yaml:"base_url"`
	EndpointPath      string            `yaml:"endpoint_path"`
	TimeoutSeconds    int               `yaml:"timeout_seconds"`
	MaxRetries        int               `yaml:"max_retries"`
	RetryDelaySeconds float64           `yaml:"retry_delay_seconds"`
	Headers           map[string]string `yaml:"headers,omitempty"`
	AuthHeader        string            `yaml:"auth_header,omitempty"`
	CookieHeader      string            `yaml:"cookie_header,omitempty"`
	VerifySSL         *bool             `yaml:"verify_ssl,omitempty"`
	StubPort          int               `yaml:"stub_port,omitempty"`
	Semantic          SemanticConfig    `yaml:"semantic,omitempty"`
}

func (c *AgentConfig) SSLVerificationEnabled() bool {
	return c.VerifySSL == nil || *c.VerifySSL
}

// LoadAgentConfig resolves the effective configuration for an agent in one
// environment. Sources are merged in priority order: default.yaml[env],
// then <agent>.yaml[env], then AI_AGENT_* environment variables. ${VAR}
// and ${VAR:default} references inside values are expanded from the
// process environment.
func LoadAgentConfig(configsDir, agentName, environment string) (*AgentConfig, error) {
	merged := map[string]interface{}{}
	var sources []string

	for _, file := range []string{"default.yaml", agentName + ".yaml"} {
		path := filepath.Join(configsDir, file)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var doc map[string]map[string]interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			logger.Logger.Warn("Failed to parse config file", "file", path, "error", err)
			continue
		}
		if envSection, ok := doc[environment]; ok {
			for k, v := range envSection {
				merged[k] = v
			}
			sources = append(sources, fmt.Sprintf("%s[%s]", file, environment))
		}
	}

	if overrides := configFromEnvironment(agentName, environment); len(overrides) > 0 {
		for k, v := range overrides {
			merged[k] = v
		}
		sources = append(sources, "environment variables")
	}

	if len(sources) == 0 {
		return nil, fmt.Errorf("no configuration found for agent %q in environment %q (looked in %s)",
			agentName, environment, configsDir)
	}

	expandEnvValues(merged)

	cfg := AgentConfig{
		AgentName:         agentName,
		TimeoutSeconds:    DefaultTimeoutSeconds,
		MaxRetries:        DefaultMaxRetries,
		RetryDelaySeconds: DefaultRetryDelaySeconds,
		StubPort:          DefaultStubPort,
	}
	raw, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode merged config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration for agent %q: %w", agentName, err)
	}
	if cfg.AgentName == "" {
		cfg.AgentName = agentName
	}

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("invalid configuration for agent %q: base_url is required", agentName)
	}
	if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		return nil, fmt.Errorf("invalid configuration for agent %q: base_url must start with http:// or https://", agentName)
	}
	if cfg.EndpointPath == "" {
		return nil, fmt.Errorf("invalid configuration for agent %q: endpoint_path is required", agentName)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("invalid configuration for agent %q: max_retries cannot be negative", agentName)
	}

	logger.Logger.Info("Loaded agent configuration",
		"agent", agentName,
		"environment", environment,
		"sources", strings.Join(sources, ", "))
	return &cfg, nil
}

// configFromEnvironment collects AI_AGENT_<NAME>_<ENV>_<SETTING> overrides.
func configFromEnvironment(agentName, environment string) map[string]interface{} {
	normalize := func(s string) string {
		return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(s))
	}
	prefix := fmt.Sprintf("AI_AGENT_%s_%s_", normalize(agentName), normalize(environment))

	overrides := map[string]interface{}{}
	for suffix, key := range map[string]string{
		"BASE_URL":            "base_url",
		"ENDPOINT_PATH":       "endpoint_path",
		"TIMEOUT_SECONDS":     "timeout_seconds",
		"MAX_RETRIES":         "max_retries",
		"RETRY_DELAY_SECONDS": "retry_delay_seconds",
		"AUTH_HEADER":         "auth_header",
		"COOKIE_HEADER":       "cookie_header",
		"VERIFY_SSL":          "verify_ssl",
		"STUB_PORT":           "stub_port",
	} {
		value, ok := os.LookupEnv(prefix + suffix)
		if !ok {
			continue
		}
		switch key {
		case "timeout_seconds", "max_retries", "stub_port":
			if n, err := strconv.Atoi(value); err == nil {
				overrides[key] = n
			} else {
				logger.Logger.Warn("Invalid integer in environment override", "variable", prefix+suffix, "value", value)
			}
		case "retry_delay_seconds":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				overrides[key] = f
			} else {
				logger.Logger.Warn("Invalid float in environment override", "variable", prefix+suffix, "value", value)
			}
		case "verify_ssl":
			overrides[key] = strings.EqualFold(value, "true")
		default:
			overrides[key] = value
		}
	}
	return overrides
}

var envRefPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvValues rewrites ${VAR} and ${VAR:default} references in string
// values, recursing into nested maps and slices.
func expandEnvValues(m map[string]interface{}) {
	for k, v := range m {
		m[k] = expandValue(v)
	}
}

func expandValue(v interface{}) interface{} {
	switch typed := v.(type) {
	case string:
		return envRefPattern.ReplaceAllStringFunc(typed, func(match string) string {
			groups := envRefPattern.FindStringSubmatch(match)
			if value, ok := os.LookupEnv(groups[1]); ok {
				return value
			}
			return groups[2]
		})
	case map[string]interface{}:
		expandEnvValues(typed)
		return typed
	case []interface{}:
		for i, item := range typed {
			typed[i] = expandValue(item)
		}
		return typed
	default:
		return v
	}
}

// ============================================================================
// HTTP MODELS
// ============================================================================

type HttpMethod string

const (
	MethodGet  HttpMethod = "GET"
	MethodPost HttpMethod = "POST"
)

type HttpRequest struct {
	Method      HttpMethod
	URL         string
	Headers     map[string]string
	JSONData    map[string]interface{}
	QueryParams map[string]string
}

type HttpResponse struct {
	StatusCode     int
	Headers        map[string]string
	Text           string
	JSONData       map[string]interface{}
	ResponseTimeMs float64
	URL            string
	// Streamed indicates the body was assembled frame by frame from an
	// event stream rather than read in one piece.
	Streamed bool
}

func (r *HttpResponse) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// ============================================================================
// AGENT REQUEST / RESPONSE
// ============================================================================

type LLMConfig struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
}

type AgentRequest struct {
	UserInput string                    `json:"user_input"`
	Variables map[string]string         `json:"variables,omitempty"`
	SessionID string                    `json:"session_id,omitempty"`
	ToolStubs map[string][]ToolStubRule `json:"tool_stubs,omitempty"`
	LLMConfig *LLMConfig                `json:"llm_config,omitempty"`
}

// ToJSONPayload renders the request as a generic map so callers can merge
// additional fields before serialization.
func (r *AgentRequest) ToJSONPayload() map[string]interface{} {
	payload := map[string]interface{}{
		"user_input": r.UserInput,
	}
	if len(r.Variables) > 0 {
		payload["variables"] = r.Variables
	}
	if r.SessionID != "" {
		payload["session_id"] = r.SessionID
	}
	if len(r.ToolStubs) > 0 {
		payload["tool_stubs"] = r.ToolStubs
	}
	if r.LLMConfig != nil {
		payload["llm_config"] = map[string]interface{}{
			"model":       r.LLMConfig.Model,
			"temperature": r.LLMConfig.Temperature,
		}
	}
	return payload
}

type AgentResponse struct {
	Answer        string                   `json:"answer"`
	SessionID     string                   `json:"session_id,omitempty"`
	ToolCallsMade []map[string]interface{} `json:"tool_calls_made,omitempty"`
	Metadata      map[string]interface{}   `json:"metadata,omitempty"`
}

// AgentResponseFromHTTP extracts the logical answer from a raw response.
// JSON bodies contribute their "answer" field; SSE-shaped bodies are folded
// frame by frame; anything else is taken verbatim as the answer text.
func AgentResponseFromHTTP(resp *HttpResponse) *AgentResponse {
	if resp.JSONData != nil {
		ar := &AgentResponse{}
		if answer, ok := resp.JSONData["answer"].(string); ok {
			ar.Answer = answer
		}
		if sessionID, ok := resp.JSONData["session_id"].(string); ok {
			ar.SessionID = sessionID
		}
		if calls, ok := resp.JSONData["tool_calls_made"].([]interface{}); ok {
			for _, call := range calls {
				if m, ok := call.(map[string]interface{}); ok {
					ar.ToolCallsMade = append(ar.ToolCallsMade, m)
				}
			}
		}
		if meta, ok := resp.JSONData["metadata"].(map[string]interface{}); ok {
			ar.Metadata = meta
		}
		return ar
	}

	text := resp.Text
	if strings.Contains(text, "event:") && strings.Contains(text, "data:") {
		return &AgentResponse{
			Answer:    ParseSSEAnswer(text),
			SessionID: ExtractSSESessionID(text),
		}
	}
	return &AgentResponse{Answer: text}
}

// ParseSSEAnswer concatenates the data payloads of "event: text" frames in
// arrival order into one logical answer.
func ParseSSEAnswer(sseText string) string {
	lines := strings.Split(strings.TrimSpace(sseText), "\n")
	var parts []string
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "event: text") {
			continue
		}
		if i+1 < len(lines) {
			data := strings.TrimSpace(lines[i+1])
			if content, ok := strings.CutPrefix(data, "data: "); ok && content != "" {
				parts = append(parts, content)
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, ""))
}

// ExtractSSESessionID pulls the session identifier from a
// "event: session-started" frame if one is present.
func ExtractSSESessionID(sseText string) string {
	lines := strings.Split(strings.TrimSpace(sseText), "\n")
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "event: session-started") {
			continue
		}
		if i+1 < len(lines) {
			data := strings.TrimSpace(lines[i+1])
			if content, ok := strings.CutPrefix(data, "data: "); ok {
				var payload map[string]interface{}
				if err := yaml.Unmarshal([]byte(content), &payload); err == nil {
					if id, ok := payload["sessionId"]; ok {
						return fmt.Sprint(id)
					}
				}
			}
		}
	}
	return ""
}

// ============================================================================
// COMPARISON RESULT
// ============================================================================

type ComparisonResult struct {
	IsMatch      bool             `json:"isMatch"`
	Score        float64          `json:"score"`
	Method       ComparisonMethod `json:"method"`
	Details      string           `json:"details,omitempty"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
}

// ============================================================================
// TEST RESULT
// ============================================================================

// TestStatus distinguishes "ran and failed comparison" (fail) from "could
// not run" (error) and from dry-run placeholders (skipped).
type TestStatus string

const (
	StatusPass    TestStatus = "pass"
	StatusFail    TestStatus = "fail"
	StatusError   TestStatus = "error"
	StatusSkipped TestStatus = "skipped"
)

type TestResult struct {
	TestName          string                   `json:"testName"`
	Status            TestStatus               `json:"status"`
	ActualResponse    string                   `json:"actualResponse,omitempty"`
	ExpectedResponse  string                   `json:"expectedResponse,omitempty"`
	SemanticScore     *float64                 `json:"semanticScore,omitempty"`
	ComparisonMethod  ComparisonMethod         `json:"comparisonMethod,omitempty"`
	ComparisonDetails string                   `json:"comparisonDetails,omitempty"`
	ErrorMessage      string                   `json:"errorMessage,omitempty"`
	ExecutionTimeMs   float64                  `json:"executionTimeMs"`
	ToolCallsMade     []map[string]interface{} `json:"toolCallsMade,omitempty"`
}

// ============================================================================
// TEST REPORT
// ============================================================================

type Criteria struct {
	// SuccessRate is the minimum pass fraction (0..1) the run must reach
	// for a zero exit code. Empty means "no failures allowed".
	SuccessRate string `yaml:"success_rate" json:"successRate"`
}

type TestReport struct {
	AgentName            string       `json:"agentName"`
	TotalTests           int          `json:"totalTests"`
	Passed               int          `json:"passed"`
	Failed               int          `json:"failed"`
	Errors               int          `json:"errors"`
	Skipped              int          `json:"skipped"`
	Results              []TestResult `json:"results"`
	ExecutionTimeTotalMs float64      `json:"executionTimeTotalMs"`
}

func (r *TestReport) PassPercentage() float64 {
	if r.TotalTests == 0 {
		return 0.0
	}
	return float64(r.Passed) / float64(r.TotalTests) * 100.0
}

// PassFraction ignores skipped (dry-run) results so a validation-only run
// does not count against the success criteria.
func (r *TestReport) PassFraction() float64 {
	executed := r.Passed + r.Failed + r.Errors
	if executed == 0 {
		return 1.0
	}
	return float64(r.Passed) / float64(executed)
}

func (r *TestReport) OverallStatus() string {
	switch {
	case r.Errors > 0:
		return "ERROR"
	case r.Failed > 0:
		return "FAILED"
	case r.Passed+r.Skipped == r.TotalTests && r.TotalTests > 0:
		return "PASSED"
	default:
		return "INCOMPLETE"
	}
}
