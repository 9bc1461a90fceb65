package job_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobcore/pkg/job"
)

const catalogue = `
jobs:
  - name: send-report
    queue: reports
    priority: 2
    max_retries: 2
    timeout: 1m
    rate_limit:
      max: 10
      window: 30s
  - name: cleanup
    max_retries: 0
`

func TestParseDefinitions(t *testing.T) {
	t.Parallel()

	defs, err := job.ParseDefinitions([]byte(catalogue))
	require.NoError(t, err)
	require.Len(t, defs, 2)

	report := defs[0]
	assert.Equal(t, "send-report", report.Name)
	assert.Equal(t, "reports", report.Queue)
	assert.Equal(t, 2, report.Priority)
	assert.Equal(t, 2, report.MaxRetries)
	assert.Equal(t, time.Minute, report.Timeout)
	require.NotNil(t, report.RateLimit)
	assert.Equal(t, 10, report.RateLimit.Max)
	assert.Equal(t, 30*time.Second, report.RateLimit.Window)

	cleanup := defs[1]
	assert.Equal(t, "cleanup", cleanup.Name)
	assert.Empty(t, cleanup.Queue, "defaults are applied at registration")
	assert.Nil(t, cleanup.RateLimit)
}

func TestParseDefinitions_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{name: "missing name", yaml: "jobs:\n  - queue: reports\n"},
		{name: "negative retries", yaml: "jobs:\n  - name: a\n    max_retries: -1\n"},
		{name: "duplicate", yaml: "jobs:\n  - name: a\n  - name: a\n"},
		{name: "zero rate window", yaml: "jobs:\n  - name: a\n    rate_limit:\n      max: 1\n"},
		{name: "malformed", yaml: "jobs: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := job.ParseDefinitions([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadDefinitions(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "jobs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogue), 0o600))

	defs, err := job.LoadDefinitions(path)
	require.NoError(t, err)
	assert.Len(t, defs, 2)

	_, err = job.LoadDefinitions(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
