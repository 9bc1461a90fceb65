package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobcore/pkg/config"
)

type workerConfig struct {
	Broker      string        `env:"JC_TEST_BROKER" envDefault:"memory"`
	Concurrency int           `env:"JC_TEST_CONCURRENCY" envDefault:"10"`
	Timeout     time.Duration `env:"JC_TEST_TIMEOUT" envDefault:"60s"`
}

type requiredConfig struct {
	URL string `env:"JC_TEST_REQUIRED_URL,required"`
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load[workerConfig]()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Broker)
	assert.Equal(t, 10, cfg.Concurrency)
	assert.Equal(t, time.Minute, cfg.Timeout)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("JC_TEST_BROKER", "river")
	t.Setenv("JC_TEST_TIMEOUT", "5s")

	cfg, err := config.Load[workerConfig]()
	require.NoError(t, err)
	assert.Equal(t, "river", cfg.Broker)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
}

func TestLoad_MissingRequired(t *testing.T) {
	_, err := config.Load[requiredConfig]()
	assert.ErrorIs(t, err, config.ErrParsingConfig)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("JC_TEST_FILE_CONCURRENCY=3\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("JC_TEST_FILE_CONCURRENCY") })

	type fileConfig struct {
		Concurrency int `env:"JC_TEST_FILE_CONCURRENCY"`
	}
	cfg, err := config.Load[fileConfig](path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Concurrency)

	_, err = config.Load[fileConfig](filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorIs(t, err, config.ErrLoadingEnvFile)
}

func TestMustLoad_Panics(t *testing.T) {
	assert.Panics(t, func() { config.MustLoad[requiredConfig]() })
}
