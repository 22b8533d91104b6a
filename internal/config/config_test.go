package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/saibing/groovyls/internal/protocol"
)

func TestApplyNilOptionsIsNoop(t *testing.T) {
	c := NewDefaultConfig()
	assert.Equal(t, c, c.Apply(nil))
}

func TestApplyOverridesOnlySetFields(t *testing.T) {
	c := NewDefaultConfig()
	logLevel := "DEBUG"
	ttlSeconds := 120

	got := c.Apply(&protocol.InitializationOptions{
		LogLevel:                &logLevel,
		ScopeEvictionTTLSeconds: &ttlSeconds,
	})

	assert.Equal(t, "DEBUG", got.LogLevel)
	assert.Equal(t, 120*time.Second, got.ScopeEvictionTTL)
	assert.Equal(t, c.ClasspathCache, got.ClasspathCache, "unset fields keep their default")
	assert.Equal(t, c.MemoryPressureThreshold, got.MemoryPressureThreshold)
}

func TestImporterEnabled(t *testing.T) {
	c := NewDefaultConfig()
	assert.True(t, c.ImporterEnabled("gradle"), "empty allowlist permits everything")

	c.EnabledImporters = []string{"gradle"}
	assert.True(t, c.ImporterEnabled("gradle"))
	assert.False(t, c.ImporterEnabled("maven"))
}
