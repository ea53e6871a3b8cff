package scaffold

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"

	"github.com/mykhaliev/answer-checker/logger"
	"github.com/mykhaliev/answer-checker/model"
)

// ============================================================================
// TEST SCAFFOLDING
// ============================================================================

const (
	filePermission = 0644
	dirPermission  = 0755
)

// Generate writes a starter test suite for an agent: one smoke test with a
// stubbed tool call, the stub response file, and a config skeleton. Sample
// data comes from gofakeit so generated suites don't all look alike.
// Existing files are never overwritten.
func Generate(testsDir, configsDir, agentName string) error {
	agentDir := filepath.Join(testsDir, agentName)
	stubsDir := filepath.Join(agentDir, "stubs")
	if err := os.MkdirAll(stubsDir, dirPermission); err != nil {
		return fmt.Errorf("failed to create agent test directory: %w", err)
	}

	faker := gofakeit.New(0)
	customer := faker.Name()
	city := faker.City()

	stubBody := map[string]interface{}{
		"customer": customer,
		"city":     city,
		"status":   "active",
		"balance":  faker.Price(10, 500),
	}

	tc := model.TestCase{
		Variables: map[string]string{
			"customer": customer,
		},
		UserInput:         "What is the account status for {{customer}}?",
		ExpectedAnswer:    fmt.Sprintf("The account for %s is active.", customer),
		ComparisonMethod:  model.CompareSemantic,
		SemanticThreshold: model.DefaultSemanticThreshold,
		ToolStubs: map[string][]model.ToolStubRule{
			"crm/lookup": {
				{
					Request:      map[string]interface{}{"customer": customer},
					ResponseFile: "stubs/crm_lookup.json",
				},
			},
		},
	}

	if err := writeYAMLOnce(filepath.Join(agentDir, "smoke.yaml"), tc); err != nil {
		return err
	}
	if err := writeJSONOnce(filepath.Join(stubsDir, "crm_lookup.json"), stubBody); err != nil {
		return err
	}

	if err := os.MkdirAll(configsDir, dirPermission); err != nil {
		return fmt.Errorf("failed to create configs directory: %w", err)
	}
	config := map[string]map[string]interface{}{
		"dev": {
			"base_url":      "http://localhost:8080",
			"endpoint_path": "/api/chat",
		},
	}
	if err := writeYAMLOnce(filepath.Join(configsDir, agentName+".yaml"), config); err != nil {
		return err
	}

	logger.Logger.Info("Scaffolded starter suite", "agent", agentName, "dir", agentDir)
	return nil
}

func writeYAMLOnce(path string, v interface{}) error {
	if _, err := os.Stat(path); err == nil {
		logger.Logger.Warn("File already exists, skipping", "path", path)
		return nil
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, data, filePermission)
}

func writeJSONOnce(path string, v interface{}) error {
	if _, err := os.Stat(path); err == nil {
		logger.Logger.Warn("File already exists, skipping", "path", path)
		return nil
	}
	data, err := sonic.ConfigDefault.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, data, filePermission)
}
