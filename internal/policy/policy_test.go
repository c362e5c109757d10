package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoConstraintsIncludesEverything(t *testing.T) {
	p := New(0, nil, 0, nil)
	d := p.Evaluate("src/main.go", 1<<30)
	assert.Equal(t, Include, d.Outcome)
	assert.True(t, d.ShouldSync())
	assert.False(t, p.HasConstraints())
}

func TestOversizeSkipped(t *testing.T) {
	p := New(1024, nil, 0, nil)
	d := p.Evaluate("big.bin", 4096)
	assert.Equal(t, Skip, d.Outcome)
	assert.Equal(t, "oversize", d.Reason)
	assert.Equal(t, int64(4096), d.Size)
	assert.Equal(t, int64(1024), d.Limit)
	assert.False(t, d.ShouldSync())

	d = p.Evaluate("small.txt", 10)
	assert.Equal(t, Include, d.Outcome)
}

func TestIgnorePatterns(t *testing.T) {
	p := New(0, []string{"*.log", "build/**"}, 0, nil)

	d := p.Evaluate("trace.log", 50)
	assert.Equal(t, Skip, d.Outcome)
	assert.Equal(t, "ignore", d.Reason)
	assert.Equal(t, "*.log", d.Pattern)

	d = p.Evaluate("build/out/app", 50)
	assert.Equal(t, Skip, d.Outcome)

	d = p.Evaluate("src/app.go", 50)
	assert.Equal(t, Include, d.Outcome)
}

func TestIgnoreMatchesNestedPaths(t *testing.T) {
	p := New(0, []string{"*.log"}, 0, nil)
	d := p.Evaluate("logs/deep/trace.log", 1)
	assert.Equal(t, Skip, d.Outcome)
}

func TestIgnoreWinsOverSize(t *testing.T) {
	// An ignored file reports "ignore" even when it is also oversize.
	p := New(10, []string{"*.log"}, 0, nil)
	d := p.Evaluate("big.log", 100)
	assert.Equal(t, "ignore", d.Reason)
}

func TestLfsThreshold(t *testing.T) {
	p := New(0, nil, 1024, nil)

	d := p.Evaluate("model.bin", 2048)
	assert.Equal(t, LfsTrack, d.Outcome)
	assert.True(t, d.ShouldSync())

	d = p.Evaluate("model.bin", 512)
	assert.Equal(t, Include, d.Outcome)
}

func TestLfsPatternRegardlessOfSize(t *testing.T) {
	p := New(0, nil, 0, []string{"*.psd"})
	d := p.Evaluate("art/logo.psd", 10)
	assert.Equal(t, LfsTrack, d.Outcome)
	assert.Equal(t, "*.psd", d.Pattern)
	assert.True(t, p.LfsEnabled())
}

func TestDetailStrings(t *testing.T) {
	p := New(1024, []string{"*.log"}, 0, nil)

	d := p.Evaluate("big.bin", 4096)
	assert.Contains(t, d.Detail("big.bin"), "4096 bytes > 1024 limit")

	d = p.Evaluate("trace.log", 50)
	assert.Contains(t, d.Detail("trace.log"), "matches '*.log'")
}

func TestEvaluatePathMissingFileIncluded(t *testing.T) {
	p := New(10, nil, 0, nil)
	d := p.EvaluatePath(t.TempDir(), "does-not-exist.txt")
	assert.Equal(t, Include, d.Outcome)
}
