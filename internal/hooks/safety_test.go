package hooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckSafety(t *testing.T) {
	tests := []struct {
		name  string
		tool  string
		input map[string]any
		want  int
	}{
		{name: "rm root", tool: "Bash", input: map[string]any{"command": "rm -rf /"}, want: 1},
		{name: "rm root glob", tool: "Bash", input: map[string]any{"command": "sudo rm -fr /*"}, want: 1},
		{name: "rm project dir", tool: "Bash", input: map[string]any{"command": "rm -rf ./build"}, want: 0},
		{name: "fork bomb", tool: "Bash", input: map[string]any{"command": ":(){ :|:& };:"}, want: 1},
		{name: "mkfs", tool: "Bash", input: map[string]any{"command": "mkfs.ext4 /dev/sdb1"}, want: 1},
		{name: "dd to disk", tool: "Bash", input: map[string]any{"command": "dd if=/dev/zero of=/dev/sda bs=1M"}, want: 1},
		{name: "harmless", tool: "Bash", input: map[string]any{"command": "go test ./..."}, want: 0},
		{name: "command ignored for non-shell", tool: "Write", input: map[string]any{"command": "rm -rf /", "file_path": "/tmp/x"}, want: 0},
		{name: "shadow", tool: "Write", input: map[string]any{"file_path": "/etc/shadow"}, want: 1},
		{name: "ssh key", tool: "Edit", input: map[string]any{"file_path": "/home/me/.ssh/authorized_keys"}, want: 1},
		{name: "ordinary etc file", tool: "Write", input: map[string]any{"file_path": "/etc/hosts"}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := CheckSafety(tt.tool, tt.input)
			assert.Len(t, flags, tt.want)
			for _, f := range flags {
				assert.NotEmpty(t, f.Reason)
			}
		})
	}
}

func TestSafetyReasons(t *testing.T) {
	reasons := SafetyReasons(CheckSafety("Bash", map[string]any{"command": "rm -rf /"}))
	assert.Equal(t, []string{"safety check: recursive delete of the filesystem root"}, reasons)
}
