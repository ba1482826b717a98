package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitGraphDependenciesResolvable(t *testing.T) {
	steps := InitGraph()
	seen := make(map[string]bool, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			assert.True(t, seen[dep], "步骤 %s 依赖的 %s 必须排在前面", step.ID, dep)
		}
		require.NotNil(t, step.Execute, "步骤 %s 缺少执行函数", step.ID)
		seen[step.ID] = true
	}
}

func TestExecuteInitStepsRejectsUnsatisfiedDependency(t *testing.T) {
	steps := []initStep{
		{
			ID:        "b",
			DependsOn: []string{"a"},
			Execute:   func(context.Context, *appState) error { return nil },
		},
	}
	err := executeInitSteps(context.Background(), steps, &appState{})
	require.Error(t, err)
}

func TestLoadConfigStepReadsYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("web:\n  enabled: false\n  port: 9000\n"), 0o644))

	state := &appState{opts: Options{ConfigPath: path}}
	require.NoError(t, loadConfigStep(context.Background(), state))
	assert.False(t, state.config.Web.Enabled)
	assert.Equal(t, 9000, state.config.Web.Port)
	assert.Equal(t, path, state.configPath)
}
