package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeEnv(t *testing.T) {
	got := mergeEnv([]string{"PATH=/bin", "HOME=/root"}, map[string]string{"HOME": "/tmp", "B": "2", "A": "1"})
	assert.Equal(t, []string{"PATH=/bin", "A=1", "B=2", "HOME=/tmp", "TERM=xterm-256color"}, got)

	got = mergeEnv([]string{"TERM=dumb"}, nil)
	assert.Equal(t, []string{"TERM=dumb"}, got)
}

func TestExitCode(t *testing.T) {
	assert.Nil(t, exitCode(nil))
	assert.Equal(t, "none", formatCode(nil))
	assert.Equal(t, "4", formatCode(IntPtr(4)))
}
