package models

// Canonical tool names. Providers translate their own tool names into these
// so gating and hooks never depend on a vendor's naming.
const (
	ToolBash         = "Bash"
	ToolWrite        = "Write"
	ToolEdit         = "Edit"
	ToolMultiEdit    = "MultiEdit"
	ToolNotebookEdit = "NotebookEdit"
	ToolRead         = "Read"
	ToolGlob         = "Glob"
	ToolGrep         = "Grep"
	ToolLS           = "LS"
	ToolTask         = "Task"
	ToolTodoWrite    = "TodoWrite"
	ToolWebFetch     = "WebFetch"
	ToolWebSearch    = "WebSearch"
	ToolMCP          = "MCP"
)

// IsFileEditTool reports whether the tool modifies files in the working directory.
func IsFileEditTool(name string) bool {
	switch name {
	case ToolWrite, ToolEdit, ToolMultiEdit, ToolNotebookEdit:
		return true
	}
	return false
}

// IsShellTool reports whether the tool runs a shell command.
func IsShellTool(name string) bool {
	return name == ToolBash
}

// ToolCommand returns the shell command of a shell tool input.
func ToolCommand(input map[string]any) string {
	cmd, _ := input["command"].(string)
	return cmd
}

// ToolPaths returns the file paths referenced by a tool input.
func ToolPaths(input map[string]any) []string {
	var paths []string
	for _, key := range []string{"file_path", "path", "notebook_path"} {
		if p, ok := input[key].(string); ok && p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}
