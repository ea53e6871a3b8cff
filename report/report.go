package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/life4/genesis/slices"

	"github.com/mykhaliev/answer-checker/logger"
	"github.com/mykhaliev/answer-checker/model"
)

// ============================================================================
// REPORT WRITER
// ============================================================================

const (
	FilePermission = 0644
	DirPermission  = 0755

	timestampFormat = "20060102_150405"
)

var csvHeader = []string{
	"test_name", "test_type", "status", "similarity", "error", "expected_answer", "actual_answer",
}

// WriteCSV writes the report in the flat CSV format consumed by downstream
// dashboards: header, one summary row, then one row per test. Returns the
// written path.
func WriteCSV(reportsDir string, rep *model.TestReport) (string, error) {
	if err := os.MkdirAll(reportsDir, DirPermission); err != nil {
		return "", fmt.Errorf("failed to create reports directory: %w", err)
	}

	filename := fmt.Sprintf("%s_results_%s.csv", slugify(rep.AgentName), time.Now().Format(timestampFormat))
	path := filepath.Join(reportsDir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, FilePermission)
	if err != nil {
		return "", fmt.Errorf("failed to create CSV report: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(csvHeader); err != nil {
		return "", fmt.Errorf("failed to write CSV header: %w", err)
	}

	summary := []string{
		"SUMMARY",
		rep.AgentName,
		rep.OverallStatus(),
		fmt.Sprintf("%.1f%%", rep.PassPercentage()),
		fmt.Sprintf("%d/%d passed, %d failed, %d errors", rep.Passed, rep.TotalTests, rep.Failed, rep.Errors),
		"", "",
	}
	if err := w.Write(summary); err != nil {
		return "", fmt.Errorf("failed to write CSV summary: %w", err)
	}

	for _, result := range rep.Results {
		similarity := ""
		if result.SemanticScore != nil {
			similarity = fmt.Sprintf("%.4f", *result.SemanticScore)
		}
		row := []string{
			result.TestName,
			string(result.ComparisonMethod),
			string(result.Status),
			similarity,
			scrub(result.ErrorMessage),
			scrub(result.ExpectedResponse),
			scrub(result.ActualResponse),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush CSV report: %w", err)
	}

	logger.Logger.Info("CSV report written", "path", path)
	return path, nil
}

// WriteJSON writes the full report, results included, as indented JSON.
func WriteJSON(reportsDir string, rep *model.TestReport) (string, error) {
	if err := os.MkdirAll(reportsDir, DirPermission); err != nil {
		return "", fmt.Errorf("failed to create reports directory: %w", err)
	}

	filename := fmt.Sprintf("%s_results_%s.json", slugify(rep.AgentName), time.Now().Format(timestampFormat))
	path := filepath.Join(reportsDir, filename)

	data, err := sonic.ConfigDefault.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode JSON report: %w", err)
	}
	if err := os.WriteFile(path, data, FilePermission); err != nil {
		return "", fmt.Errorf("failed to write JSON report: %w", err)
	}

	logger.Logger.Info("JSON report written", "path", path)
	return path, nil
}

// PrintSummary logs the run outcome, listing non-passing tests by name.
func PrintSummary(rep *model.TestReport) {
	logger.Logger.Info("Test run finished",
		"agent", rep.AgentName,
		"status", rep.OverallStatus(),
		"total", rep.TotalTests,
		"passed", rep.Passed,
		"failed", rep.Failed,
		"errors", rep.Errors,
		"skipped", rep.Skipped,
		"pass_rate", fmt.Sprintf("%.1f%%", rep.PassPercentage()),
		"duration_ms", fmt.Sprintf("%.0f", rep.ExecutionTimeTotalMs))

	failed := slices.Filter(rep.Results, func(r model.TestResult) bool {
		return r.Status == model.StatusFail
	})
	for _, r := range failed {
		logger.Logger.Warn("Failed test", "test", r.TestName, "details", r.ComparisonDetails)
	}

	errored := slices.Filter(rep.Results, func(r model.TestResult) bool {
		return r.Status == model.StatusError
	})
	for _, r := range errored {
		logger.Logger.Error("Errored test", "test", r.TestName, "error", r.ErrorMessage)
	}
}

// ExitCode maps the report to the process exit code. A non-negative
// successRate is the minimum acceptable pass fraction over executed tests;
// a negative value means the strict default: any fail or error is a
// failure. Independent of per-test thresholds.
func ExitCode(rep *model.TestReport, successRate float64) int {
	if successRate >= 0 {
		if rep.PassFraction() >= successRate {
			return 0
		}
		return 1
	}
	if rep.Failed > 0 || rep.Errors > 0 {
		return 1
	}
	return 0
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	slug := slugPattern.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(slug, "-")
}

// scrub keeps multi-line answers on one CSV row.
func scrub(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}
