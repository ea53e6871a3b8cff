package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mykhaliev/answer-checker/compare"
	"github.com/mykhaliev/answer-checker/logger"
	"github.com/mykhaliev/answer-checker/model"
	"github.com/mykhaliev/answer-checker/stub"
)

// ============================================================================
// ORCHESTRATOR
// ============================================================================

type Options struct {
	TestsDir string
	// DryRun validates and builds requests without any network I/O.
	DryRun bool
	// KeepStubs defers stub release to the end of the run instead of after
	// each test. The documented carve-out from per-test scoping.
	KeepStubs bool
	// NoStubs skips the mock tool service entirely.
	NoStubs bool
}

// answerComparer is what the orchestrator needs from the comparison
// engine; narrowed to an interface so tests can substitute it.
type answerComparer interface {
	Compare(ctx context.Context, tc *model.TestCase, actual string) model.ComparisonResult
}

// Engine runs a test suite against one agent: per test it scopes the stub
// service, builds and sends the request, and judges the answer.
type Engine struct {
	cfg      *model.AgentConfig
	opts     Options
	client   *HttpClient
	builder  *RequestBuilder
	comparer answerComparer
	stubs    *stub.Service
}

func NewEngine(cfg *model.AgentConfig, opts Options) *Engine {
	return &Engine{
		cfg:      cfg,
		opts:     opts,
		client:   NewHttpClient(cfg),
		builder:  NewRequestBuilder(cfg),
		comparer: compare.NewEngine(cfg.Semantic),
		stubs:    stub.NewService(),
	}
}

// Run executes the suite sequentially. Every loaded test and every failed
// load yields exactly one TestResult. Cancellation stops before the next
// test. The stub service is released on every exit path.
func (e *Engine) Run(ctx context.Context, suite *model.AgentTestSuite) *model.TestReport {
	start := time.Now()
	report := &model.TestReport{
		AgentName:  suite.AgentName,
		TotalTests: suite.TotalTests,
	}

	defer e.stubs.Stop()

	for _, failed := range suite.FailedLoads {
		logger.Logger.Error("Test file failed to load", "test", failed.TestName, "file", failed.FilePath)
		report.Results = append(report.Results, model.TestResult{
			TestName:     failed.TestName,
			Status:       model.StatusError,
			ErrorMessage: fmt.Sprintf("failed to load test file: %s", failed.Error),
		})
	}

	var abortReason string
	for i := range suite.TestCases {
		tc := &suite.TestCases[i]

		if err := ctx.Err(); err != nil {
			logger.Logger.Warn("Run interrupted, skipping remaining tests", "remaining", len(suite.TestCases)-i)
			break
		}
		if abortReason != "" {
			report.Results = append(report.Results, model.TestResult{
				TestName:     tc.TestName,
				Status:       model.StatusError,
				ErrorMessage: "aborted: " + abortReason,
			})
			continue
		}

		logger.Logger.Info("Running test", "test", tc.TestName, "agent", suite.AgentName)
		result, fatal := e.runTest(ctx, tc, suite)
		report.Results = append(report.Results, result)
		if fatal != nil {
			logger.Logger.Error("Aborting remaining tests", "error", fatal)
			abortReason = fatal.Error()
		}
	}

	for _, result := range report.Results {
		switch result.Status {
		case model.StatusPass:
			report.Passed++
		case model.StatusFail:
			report.Failed++
		case model.StatusSkipped:
			report.Skipped++
		default:
			report.Errors++
		}
	}
	report.ExecutionTimeTotalMs = float64(time.Since(start)) / float64(time.Millisecond)
	return report
}

// runTest executes one test. The returned fatal error is non-nil only for
// resource-lifecycle failures (stub port unavailable) that must abort the
// rest of the run.
func (e *Engine) runTest(ctx context.Context, tc *model.TestCase, suite *model.AgentTestSuite) (result model.TestResult, fatal error) {
	start := time.Now()
	result = model.TestResult{
		TestName:         tc.TestName,
		ExpectedResponse: tc.ExpectedAnswer,
		ComparisonMethod: tc.ComparisonMethod,
	}
	defer func() {
		result.ExecutionTimeMs = float64(time.Since(start)) / float64(time.Millisecond)
		if r := recover(); r != nil {
			logger.Logger.Error("Panic during test execution", "test", tc.TestName, "panic", r)
			result.Status = model.StatusError
			result.ErrorMessage = fmt.Sprintf("internal error: %v", r)
			fatal = nil
		}
	}()

	needStubs := !e.opts.NoStubs && !e.opts.DryRun &&
		(len(tc.ToolStubs) > 0 || len(suite.AgentStubs) > 0)
	if needStubs {
		agentDir := filepath.Join(e.opts.TestsDir, suite.AgentName)
		rules := stub.RuleSet{
			TestRules:  resolveStubPaths(tc.ToolStubs, agentDir),
			AgentRules: resolveStubPaths(suite.AgentStubs, agentDir),
		}
		if err := e.stubs.Start(e.cfg.StubPort, rules); err != nil {
			result.Status = model.StatusError
			result.ErrorMessage = err.Error()
			var portErr *stub.PortInUseError
			if errors.As(err, &portErr) {
				return result, err
			}
			return result, nil
		}
		if !e.opts.KeepStubs {
			defer e.stubs.Stop()
		}
		if err := e.stubs.WaitReady(5 * time.Second); err != nil {
			result.Status = model.StatusError
			result.ErrorMessage = err.Error()
			return result, nil
		}
	}

	req, err := e.builder.Build(tc)
	if err != nil {
		result.Status = model.StatusError
		result.ErrorMessage = err.Error()
		return result, nil
	}

	if e.opts.DryRun {
		result.Status = model.StatusSkipped
		result.ComparisonDetails = "dry run: request built successfully, not executed"
		return result, nil
	}

	resp, err := e.client.Send(ctx, req)
	if err != nil {
		result.Status = model.StatusError
		result.ErrorMessage = err.Error()
		result.ActualResponse = err.Error()
		return result, nil
	}

	// Healthcheck tests only assert liveness; any 2xx passes.
	if tc.IsHealthcheck() {
		result.Status = model.StatusPass
		result.ActualResponse = fmt.Sprintf("HTTP %d", resp.StatusCode)
		result.ComparisonDetails = "healthcheck: agent responded"
		return result, nil
	}

	agentResp := model.AgentResponseFromHTTP(resp)
	result.ActualResponse = agentResp.Answer
	result.ToolCallsMade = agentResp.ToolCallsMade

	cmp := e.comparer.Compare(ctx, tc, agentResp.Answer)
	score := cmp.Score
	result.SemanticScore = &score
	result.ComparisonDetails = cmp.Details
	switch {
	case cmp.ErrorMessage != "":
		result.Status = model.StatusError
		result.ErrorMessage = cmp.ErrorMessage
	case cmp.IsMatch:
		result.Status = model.StatusPass
	default:
		result.Status = model.StatusFail
	}
	return result, nil
}

// resolveStubPaths rewrites relative response file paths against the agent
// test directory so rules work no matter where the runner was started.
func resolveStubPaths(rules map[string][]model.ToolStubRule, agentDir string) map[string][]model.ToolStubRule {
	if len(rules) == 0 {
		return nil
	}
	resolved := make(map[string][]model.ToolStubRule, len(rules))
	for tool, toolRules := range rules {
		copies := make([]model.ToolStubRule, len(toolRules))
		copy(copies, toolRules)
		for i := range copies {
			if copies[i].ResponseFile != "" && !filepath.IsAbs(copies[i].ResponseFile) {
				copies[i].ResponseFile = filepath.Join(agentDir, copies[i].ResponseFile)
			}
		}
		resolved[tool] = copies
	}
	return resolved
}
