package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := GetRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"run", "status", "assert-liveliness", "reset-history"} {
		assert.True(t, names[want], "expected %q subcommand to be registered", want)
	}
}
