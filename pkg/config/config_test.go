package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Port    int           `env:"TEST_CFG_PORT" envDefault:"8080"`
	Brokers []string      `env:"TEST_CFG_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	TTL     time.Duration `env:"TEST_CFG_TTL" envDefault:"15m"`
	DLQ     bool          `env:"TEST_CFG_DLQ" envDefault:"true"`
}

func TestLoad_Defaults(t *testing.T) {
	var cfg testConfig

	require.NoError(t, Load(&cfg))
	assert.Equal(t, testConfig{Port: 8080, Brokers: []string{"localhost:9092"}, TTL: 15 * time.Minute, DLQ: true}, cfg)
}

func TestLoad_FromEnvVars(t *testing.T) {
	t.Setenv("TEST_CFG_PORT", "9090")
	t.Setenv("TEST_CFG_BROKERS", "k1:9092,k2:9092")
	t.Setenv("TEST_CFG_TTL", "90s")
	t.Setenv("TEST_CFG_DLQ", "false")

	var cfg testConfig
	require.NoError(t, Load(&cfg))

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers)
	assert.Equal(t, 90*time.Second, cfg.TTL)
	assert.False(t, cfg.DLQ)
}

func TestLoad_InvalidValue(t *testing.T) {
	t.Setenv("TEST_CFG_PORT", "not-a-number")

	var cfg testConfig
	err := Load(&cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
	assert.Contains(t, err.Error(), `"Port"`)
}

func TestLoad_NamesEveryInvalidValue(t *testing.T) {
	t.Setenv("TEST_CFG_PORT", "x")
	t.Setenv("TEST_CFG_TTL", "soon")

	var cfg testConfig
	err := Load(&cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 errors")
	assert.Contains(t, err.Error(), `"Port"`)
	assert.Contains(t, err.Error(), `"TTL"`)
}

func TestLoad_NonPointer(t *testing.T) {
	assert.Error(t, Load(testConfig{}))
}
