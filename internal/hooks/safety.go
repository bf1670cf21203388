package hooks

import (
	"regexp"

	"github.com/kandev/agentgate/internal/models"
)

// SafetyFlag is one hit of the built-in safety check.
type SafetyFlag struct {
	Category string `json:"category"`
	Pattern  string `json:"pattern"`
	Reason   string `json:"reason"`
}

type safetyRule struct {
	re     *regexp.Regexp
	reason string
}

// Built in and not configurable: hook configuration cannot turn these off.
var (
	commandRules = []safetyRule{
		{regexp.MustCompile(`rm\s+-[a-zA-Z]*r[a-zA-Z]*f?[a-zA-Z]*\s+(--no-preserve-root\s+)?/(\s|$|\*)`), "recursive delete of the filesystem root"},
		{regexp.MustCompile(`rm\s+-[a-zA-Z]*r[a-zA-Z]*\s+(~|\$HOME)/?(\s|$)`), "recursive delete of the home directory"},
		{regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`), "fork bomb"},
		{regexp.MustCompile(`\bmkfs(\.\w+)?\s`), "filesystem format"},
		{regexp.MustCompile(`\bdd\s+.*\bof=/dev/(sd|nvme|hd|disk)`), "raw write to a block device"},
		{regexp.MustCompile(`>\s*/dev/(sd|nvme|hd)[a-z0-9]*`), "redirect onto a block device"},
		{regexp.MustCompile(`chmod\s+-R\s+0?777\s+/(\s|$)`), "world-writable filesystem root"},
	}
	pathRules = []safetyRule{
		{regexp.MustCompile(`^/etc/(passwd|shadow|sudoers)`), "system account database"},
		{regexp.MustCompile(`^/boot/`), "boot partition"},
		{regexp.MustCompile(`^/dev/`), "device file"},
		{regexp.MustCompile(`(^|/)\.ssh/(authorized_keys|id_[a-z0-9]+)`), "ssh credentials"},
	}
)

// CheckSafety flags highly destructive commands and paths. The result is advisory
// input for the approval gate, not a hook result.
func CheckSafety(toolName string, input map[string]any) []SafetyFlag {
	var flags []SafetyFlag
	if models.IsShellTool(toolName) {
		if cmd := models.ToolCommand(input); cmd != "" {
			for _, r := range commandRules {
				if r.re.MatchString(cmd) {
					flags = append(flags, SafetyFlag{Category: "command", Pattern: r.re.String(), Reason: r.reason})
				}
			}
		}
	}
	for _, path := range models.ToolPaths(input) {
		for _, r := range pathRules {
			if r.re.MatchString(path) {
				flags = append(flags, SafetyFlag{Category: "path", Pattern: r.re.String(), Reason: r.reason + ": " + path})
			}
		}
	}
	return flags
}

// SafetyReasons flattens flags into reason strings.
func SafetyReasons(flags []SafetyFlag) []string {
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		out = append(out, "safety check: "+f.Reason)
	}
	return out
}
