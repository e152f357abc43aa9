package resourceguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestShouldAcceptMatchRejectsAtCeiling(t *testing.T) {
	g := New(Config{MaxMatchedReaders: 2}, zap.NewNop())
	g.RecordMatch()
	g.RecordMatch()

	accept, reason := g.ShouldAcceptMatch()
	assert.False(t, accept)
	assert.Contains(t, reason, "max matched readers")
}

func TestShouldAcceptMatchAllowsBelowCeiling(t *testing.T) {
	g := New(Config{MaxMatchedReaders: 2}, zap.NewNop())
	g.RecordMatch()

	accept, reason := g.ShouldAcceptMatch()
	assert.True(t, accept)
	assert.Equal(t, "OK", reason)
}

func TestRecordUnmatchFreesASlot(t *testing.T) {
	g := New(Config{MaxMatchedReaders: 1}, zap.NewNop())
	g.RecordMatch()
	accept, _ := g.ShouldAcceptMatch()
	assert.False(t, accept)

	g.RecordUnmatch()
	accept, _ = g.ShouldAcceptMatch()
	assert.True(t, accept)
}

func TestShouldPauseSendingReflectsCPUSample(t *testing.T) {
	g := New(Config{CPUPausePercent: 50}, zap.NewNop())
	g.currentCPU.Store(80.0)
	assert.True(t, g.ShouldPauseSending())

	g.currentCPU.Store(10.0)
	assert.False(t, g.ShouldPauseSending())
}
