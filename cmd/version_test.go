package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())

	got := out.String()
	assert.True(t, strings.HasPrefix(got, "quill "), "output %q should start with binary name", got)
	assert.Contains(t, got, Version)
	assert.Contains(t, got, "Build Time:")
	assert.Contains(t, got, "Git Commit:")
}
