package fake

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveClasspathReturnsSeededValue(t *testing.T) {
	im := New("gradle", logr.Discard())
	im.Seed("/proj/a", []string{"a.jar", "b.jar"})

	cp, err := im.ResolveClasspath(context.Background(), "/proj/a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jar", "b.jar"}, cp)

	cp, err = im.ResolveClasspath(context.Background(), "/proj/unseeded")
	require.NoError(t, err)
	assert.Empty(t, cp)
}

func TestResolveClasspathFailRoot(t *testing.T) {
	im := New("maven", logr.Discard())
	im.FailRoots = map[string]bool{"/proj/broken": true}

	_, err := im.ResolveClasspath(context.Background(), "/proj/broken")
	assert.Error(t, err)
}

func TestResolveClasspathsForRootStopsAtFirstFailure(t *testing.T) {
	im := New("gradle", logr.Discard())
	im.Seed("/proj/a", []string{"a.jar"})
	im.Seed("/proj/b", []string{"b.jar"})
	im.FailRoots = map[string]bool{"/proj/b": true}

	_, err := im.ResolveClasspathsForRoot(context.Background(), "/proj", []string{"/proj/a", "/proj/b"})
	assert.Error(t, err)
}

func TestSiblingBatchingAndBuildToolRoot(t *testing.T) {
	im := New("gradle", logr.Discard())
	assert.False(t, im.SupportsSiblingBatching())
	assert.Equal(t, "/proj/sub", im.GetBuildToolRoot("/proj/sub"))

	im.SeedBuildRoot("/proj/sub", "/proj")
	assert.True(t, im.SupportsSiblingBatching())
	assert.Equal(t, "/proj", im.GetBuildToolRoot("/proj/sub"))
}

func TestShouldMarkClasspathResolvedHonorsDegraded(t *testing.T) {
	im := New("gradle", logr.Discard())
	assert.True(t, im.ShouldMarkClasspathResolved("/proj/a", nil))

	im.SeedDegraded("/proj/a")
	assert.False(t, im.ShouldMarkClasspathResolved("/proj/a", nil))
}

func TestDetectProjectLanguageVersion(t *testing.T) {
	im := New("gradle", logr.Discard())
	assert.Nil(t, im.DetectProjectLanguageVersion("/proj/a", nil))

	im.SeedVersion("/proj/a", "3.0.9")
	v := im.DetectProjectLanguageVersion("/proj/a", nil)
	require.NotNil(t, v)
	assert.Equal(t, "3.0.9", *v)
}

func TestRecompileRecordsRoot(t *testing.T) {
	im := New("gradle", logr.Discard())
	require.NoError(t, im.Recompile(context.Background(), "/proj/a"))
	require.NoError(t, im.Recompile(context.Background(), "/proj/b"))
	assert.Equal(t, []string{"/proj/a", "/proj/b"}, im.Recompiled)
}

func TestName(t *testing.T) {
	im := New("maven", logr.Discard())
	assert.Equal(t, "maven", im.Name())
}
