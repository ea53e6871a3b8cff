package model

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// ============================================================================
// TEST CASE PARSING
// ============================================================================

func TestParseTestCaseDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "capital_of_france.yaml",
		"user_input: capital of France?\nexpected_answer: Paris\n")

	tc, err := ParseTestCase(path)
	require.NoError(t, err)

	assert.Equal(t, "capital_of_france", tc.TestName, "name comes from the file stem")
	assert.Equal(t, CompareSemantic, tc.ComparisonMethod)
	assert.Equal(t, DefaultSemanticThreshold, tc.SemanticThreshold)
	assert.Empty(t, tc.Validate())
}

func TestParseTestCaseFull(t *testing.T) {
	path := writeFile(t, t.TempDir(), "weather.yaml", `
variables:
  city: Paris
user_input: "weather in {{city}}?"
expected_answer: sunny
comparison_method: exact
semantic_threshold: 0.9
tool_stubs:
  weather:
    - request:
        city: Paris
      response_file: stubs/weather.json
`)

	tc, err := ParseTestCase(path)
	require.NoError(t, err)
	assert.Equal(t, CompareExact, tc.ComparisonMethod)
	assert.Equal(t, 0.9, tc.SemanticThreshold)
	assert.Equal(t, "Paris", tc.Variables["city"])
	require.Len(t, tc.ToolStubs["weather"], 1)
	assert.Equal(t, "stubs/weather.json", tc.ToolStubs["weather"][0].ResponseFile)
}

func TestParseTestCaseInvalidYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.yaml", "user_input: [unclosed\n")
	_, err := ParseTestCase(path)
	require.Error(t, err)
}

func TestTestCaseValidate(t *testing.T) {
	tests := []struct {
		name    string
		tc      TestCase
		wantErr string
	}{
		{
			"empty user input",
			TestCase{TestName: "t", ExpectedAnswer: "a", ComparisonMethod: CompareExact},
			"user_input",
		},
		{
			"threshold out of range",
			TestCase{TestName: "t", UserInput: "q", ExpectedAnswer: "a", ComparisonMethod: CompareSemantic, SemanticThreshold: 1.2},
			"semantic_threshold",
		},
		{
			"unknown method",
			TestCase{TestName: "t", UserInput: "q", ExpectedAnswer: "a", ComparisonMethod: "fuzzy"},
			"comparison_method",
		},
		{
			"substring without words",
			TestCase{TestName: "t", UserInput: "q", ComparisonMethod: CompareSubstring},
			"required_words",
		},
		{
			"stub rule without response",
			TestCase{
				TestName: "t", UserInput: "q", ExpectedAnswer: "a", ComparisonMethod: CompareExact,
				ToolStubs: map[string][]ToolStubRule{"tool": {{Request: map[string]interface{}{}}}},
			},
			"response_file",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := tt.tc.Validate()
			require.NotEmpty(t, errs)
			assert.Contains(t, strings.Join(errs, "; "), tt.wantErr)
		})
	}
}

func TestValidateIgnoresKnobsOfOtherModes(t *testing.T) {
	t.Run("exact ignores out-of-range threshold", func(t *testing.T) {
		tc := TestCase{
			TestName:          "t",
			UserInput:         "q",
			ExpectedAnswer:    "a",
			ComparisonMethod:  CompareExact,
			SemanticThreshold: 1.5,
		}
		assert.Empty(t, tc.Validate())
	})

	t.Run("substring ignores out-of-range threshold", func(t *testing.T) {
		tc := TestCase{
			TestName:          "t",
			UserInput:         "q",
			ComparisonMethod:  CompareSubstring,
			RequiredWords:     []string{"a"},
			SemanticThreshold: -3,
		}
		assert.Empty(t, tc.Validate())
	})

	t.Run("semantic ignores required words", func(t *testing.T) {
		tc := TestCase{
			TestName:          "t",
			UserInput:         "q",
			ExpectedAnswer:    "a",
			ComparisonMethod:  CompareSemantic,
			SemanticThreshold: 0.8,
			RequiredWords:     []string{},
		}
		assert.Empty(t, tc.Validate())
	})
}

// ============================================================================
// SUITE LOADING
// ============================================================================

func TestLoadAgentTestSuite(t *testing.T) {
	testsDir := t.TempDir()
	writeFile(t, testsDir, "billing/good.yaml", "user_input: q\nexpected_answer: a\n")
	writeFile(t, testsDir, "billing/broken.yaml", "user_input: [unclosed\n")
	writeFile(t, testsDir, "billing/agent-services.yaml", `
agent_stubs:
  weather:
    - request:
        city: Paris
      response:
        forecast: sunny
`)

	suite, err := LoadAgentTestSuite(testsDir, "billing")
	require.NoError(t, err)

	assert.Equal(t, 2, suite.TotalTests, "agent-services.yaml is not a test")
	require.Len(t, suite.TestCases, 1)
	require.Len(t, suite.FailedLoads, 1)
	assert.Equal(t, "broken", suite.FailedLoads[0].TestName)
	require.Contains(t, suite.AgentStubs, "weather")
}

func TestLoadAgentTestSuiteMissingAgent(t *testing.T) {
	_, err := LoadAgentTestSuite(t.TempDir(), "ghost")
	require.Error(t, err)
}

func TestLoadSingleTest(t *testing.T) {
	testsDir := t.TempDir()
	writeFile(t, testsDir, "billing/smoke.yaml", "user_input: q\nexpected_answer: a\n")

	suite, err := LoadSingleTest(testsDir, "billing", "smoke")
	require.NoError(t, err)
	require.Len(t, suite.TestCases, 1)
	assert.Equal(t, "smoke", suite.TestCases[0].TestName)

	_, err = LoadSingleTest(testsDir, "billing", "missing")
	require.Error(t, err)
}

func TestDiscoverAgents(t *testing.T) {
	testsDir := t.TempDir()
	writeFile(t, testsDir, "billing/a.yaml", "user_input: q\n")
	writeFile(t, testsDir, "support/b.yml", "user_input: q\n")
	require.NoError(t, os.MkdirAll(filepath.Join(testsDir, "empty"), 0755))

	agents, err := DiscoverAgents(testsDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"billing", "support"}, agents)
}

// ============================================================================
// AGENT CONFIG
// ============================================================================

func TestLoadAgentConfigMergeAndDefaults(t *testing.T) {
	configsDir := t.TempDir()
	writeFile(t, configsDir, "default.yaml", `
dev:
  base_url: http://default.local
  endpoint_path: /api/chat
  timeout_seconds: 10
`)
	writeFile(t, configsDir, "billing.yaml", `
dev:
  base_url: http://billing.local
`)

	cfg, err := LoadAgentConfig(configsDir, "billing", "dev")
	require.NoError(t, err)

	assert.Equal(t, "http://billing.local", cfg.BaseURL, "agent file overrides default")
	assert.Equal(t, "/api/chat", cfg.EndpointPath, "default file fills the gaps")
	assert.Equal(t, 10, cfg.TimeoutSeconds)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, DefaultStubPort, cfg.StubPort)
	assert.True(t, cfg.SSLVerificationEnabled())
}

func TestLoadAgentConfigEnvOverrides(t *testing.T) {
	configsDir := t.TempDir()
	writeFile(t, configsDir, "billing.yaml", `
dev:
  base_url: http://billing.local
  endpoint_path: /api/chat
`)

	t.Setenv("AI_AGENT_BILLING_DEV_BASE_URL", "http://override.local")
	t.Setenv("AI_AGENT_BILLING_DEV_MAX_RETRIES", "7")
	t.Setenv("AI_AGENT_BILLING_DEV_VERIFY_SSL", "false")

	cfg, err := LoadAgentConfig(configsDir, "billing", "dev")
	require.NoError(t, err)
	assert.Equal(t, "http://override.local", cfg.BaseURL)
	assert.Equal(t, 7, cfg.MaxRetries)
	assert.False(t, cfg.SSLVerificationEnabled())
}

func TestLoadAgentConfigEnvExpansion(t *testing.T) {
	configsDir := t.TempDir()
	writeFile(t, configsDir, "billing.yaml", `
dev:
  base_url: http://billing.local
  endpoint_path: /api/chat
  auth_header: "Bearer ${BILLING_TOKEN:fallback-token}"
`)

	t.Run("default when unset", func(t *testing.T) {
		cfg, err := LoadAgentConfig(configsDir, "billing", "dev")
		require.NoError(t, err)
		assert.Equal(t, "Bearer fallback-token", cfg.AuthHeader)
	})

	t.Run("env value wins", func(t *testing.T) {
		t.Setenv("BILLING_TOKEN", "real-token")
		cfg, err := LoadAgentConfig(configsDir, "billing", "dev")
		require.NoError(t, err)
		assert.Equal(t, "Bearer real-token", cfg.AuthHeader)
	})
}

func TestLoadAgentConfigValidation(t *testing.T) {
	configsDir := t.TempDir()

	_, err := LoadAgentConfig(configsDir, "ghost", "dev")
	require.Error(t, err, "no config at all")

	writeFile(t, configsDir, "bad.yaml", "dev:\n  endpoint_path: /x\n")
	_, err = LoadAgentConfig(configsDir, "bad", "dev")
	require.ErrorContains(t, err, "base_url")

	writeFile(t, configsDir, "scheme.yaml", "dev:\n  base_url: ftp://x\n  endpoint_path: /x\n")
	_, err = LoadAgentConfig(configsDir, "scheme", "dev")
	require.ErrorContains(t, err, "http")
}

// ============================================================================
// RESPONSE PARSING
// ============================================================================

func TestAgentResponseFromHTTP(t *testing.T) {
	t.Run("json body", func(t *testing.T) {
		resp := &HttpResponse{JSONData: map[string]interface{}{
			"answer":     "Paris",
			"session_id": "s1",
		}}
		ar := AgentResponseFromHTTP(resp)
		assert.Equal(t, "Paris", ar.Answer)
		assert.Equal(t, "s1", ar.SessionID)
	})

	t.Run("plain text body", func(t *testing.T) {
		ar := AgentResponseFromHTTP(&HttpResponse{Text: "just text"})
		assert.Equal(t, "just text", ar.Answer)
	})

	t.Run("sse shaped body", func(t *testing.T) {
		sse := "event: session-started\ndata: {\"sessionId\": \"s2\"}\n\nevent: text\ndata: Par\n\nevent: text\ndata: is\n"
		ar := AgentResponseFromHTTP(&HttpResponse{Text: sse})
		assert.Equal(t, "Paris", ar.Answer)
		assert.Equal(t, "s2", ar.SessionID)
	})
}

func TestParseSSEAnswerIgnoresOtherEvents(t *testing.T) {
	sse := "event: tool-call\ndata: {\"tool\": \"weather\"}\n\nevent: text\ndata: Paris\n"
	assert.Equal(t, "Paris", ParseSSEAnswer(sse))
	assert.Equal(t, "", ParseSSEAnswer("event: end\ndata: {}\n"))
}

// ============================================================================
// REPORT MODEL
// ============================================================================

func TestReportAggregates(t *testing.T) {
	rep := TestReport{
		TotalTests: 4,
		Passed:     2,
		Failed:     1,
		Errors:     1,
	}
	assert.Equal(t, 50.0, rep.PassPercentage())
	assert.Equal(t, 0.5, rep.PassFraction())
	assert.Equal(t, "ERROR", rep.OverallStatus())

	rep = TestReport{TotalTests: 2, Passed: 2}
	assert.Equal(t, "PASSED", rep.OverallStatus())

	rep = TestReport{TotalTests: 2, Passed: 1, Failed: 1}
	assert.Equal(t, "FAILED", rep.OverallStatus())

	rep = TestReport{TotalTests: 2, Skipped: 2}
	assert.Equal(t, "PASSED", rep.OverallStatus())
	assert.Equal(t, 1.0, rep.PassFraction(), "dry runs do not count against the criteria")
}
