package cliutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfirmWithForceSkipsPrompt(t *testing.T) {
	ok, err := ConfirmWithForce("discard history?", true)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestIsAbortedRecognizesErrAborted(t *testing.T) {
	assert.True(t, IsAborted(ErrAborted))
	assert.False(t, IsAborted(nil))
}
