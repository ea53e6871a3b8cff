package scaffold

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mykhaliev/answer-checker/model"
)

func TestGenerate(t *testing.T) {
	testsDir := t.TempDir()
	configsDir := t.TempDir()

	require.NoError(t, Generate(testsDir, configsDir, "billing"))

	tc, err := model.ParseTestCase(filepath.Join(testsDir, "billing", "smoke.yaml"))
	require.NoError(t, err, "the generated test must load back")
	assert.Empty(t, tc.Validate())
	assert.NotEmpty(t, tc.ToolStubs)

	_, err = os.Stat(filepath.Join(testsDir, "billing", "stubs", "crm_lookup.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(configsDir, "billing.yaml"))
	assert.NoError(t, err)
}

func TestGenerateDoesNotOverwrite(t *testing.T) {
	testsDir := t.TempDir()
	configsDir := t.TempDir()
	agentDir := filepath.Join(testsDir, "billing")
	require.NoError(t, os.MkdirAll(agentDir, 0755))

	custom := []byte("user_input: keep me\nexpected_answer: ok\n")
	require.NoError(t, os.WriteFile(filepath.Join(agentDir, "smoke.yaml"), custom, 0644))

	require.NoError(t, Generate(testsDir, configsDir, "billing"))

	data, err := os.ReadFile(filepath.Join(agentDir, "smoke.yaml"))
	require.NoError(t, err)
	assert.Equal(t, custom, data)
}
