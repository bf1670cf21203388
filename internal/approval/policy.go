package approval

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kandev/agentgate/internal/common/config"
	"github.com/kandev/agentgate/internal/models"
)

// DecisionSource says what produced a decision.
type DecisionSource string

const (
	SourcePolicy  DecisionSource = "policy"
	SourceUser    DecisionSource = "user"
	SourceTimeout DecisionSource = "timeout"
	SourceSession DecisionSource = "session"
	SourceHook    DecisionSource = "hook"
	SourceSystem  DecisionSource = "system"
)

// Classification is the classifier verdict for one tool call.
type Classification struct {
	Risk     models.RiskCategory
	Escalate bool
	Source   DecisionSource
	Reason   string
	Reasons  []string
}

// Policy holds the configured tool lists and dangerous-input patterns.
type Policy struct {
	autoAllow       map[string]bool
	requireApproval map[string]bool
	commandPatterns []*regexp.Regexp
	pathPatterns    []*regexp.Regexp
}

// NewPolicy compiles the approval config.
func NewPolicy(cfg config.ApprovalConfig) (*Policy, error) {
	p := &Policy{
		autoAllow:       toSet(cfg.AutoAllowTools),
		requireApproval: toSet(cfg.RequireApprovalTools),
	}
	var err error
	if p.commandPatterns, err = compilePatterns(cfg.DangerousCommandPatterns); err != nil {
		return nil, fmt.Errorf("dangerous command pattern: %w", err)
	}
	if p.pathPatterns, err = compilePatterns(cfg.DangerousPathPatterns); err != nil {
		return nil, fmt.Errorf("dangerous path pattern: %w", err)
	}
	return p, nil
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			set[item] = true
		}
	}
	return set
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, pat := range patterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", pat, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// DangerousMatches returns the patterns the input matches. Commands are checked for
// shell tools and paths for every tool that carries one.
func (p *Policy) DangerousMatches(toolName string, input map[string]any) []string {
	var matched []string
	if models.IsShellTool(toolName) {
		if cmd := models.ToolCommand(input); cmd != "" {
			for _, re := range p.commandPatterns {
				if re.MatchString(cmd) {
					matched = append(matched, "command matches "+re.String())
				}
			}
		}
	}
	for _, path := range models.ToolPaths(input) {
		for _, re := range p.pathPatterns {
			if re.MatchString(path) {
				matched = append(matched, "path "+path+" matches "+re.String())
			}
		}
	}
	return matched
}

// Classify applies, first match wins: bypass mode, dangerous input (or forced),
// accept-edits for file edits, session grant, auto-allow list, requires-approval list,
// default allow.
func (p *Policy) Classify(req models.ToolCallRequest, state SessionState, opts CheckOptions) Classification {
	if state.Mode == models.PermissionModeBypass {
		return Classification{Risk: models.RiskSafe, Source: SourceSession, Reason: "session is in bypassPermissions mode"}
	}

	matches := p.DangerousMatches(req.ToolName, req.Input)
	if opts.ForceDangerous || len(matches) > 0 {
		reasons := append(append([]string{}, opts.Reasons...), matches...)
		if len(reasons) == 0 {
			reasons = []string{"flagged dangerous by safety check"}
		}
		return Classification{
			Risk:     models.RiskDangerous,
			Escalate: true,
			Reason:   "dangerous: " + strings.Join(reasons, "; "),
			Reasons:  reasons,
		}
	}

	switch {
	case state.Mode == models.PermissionModeAcceptEdits && models.IsFileEditTool(req.ToolName):
		return Classification{Risk: models.RiskSafe, Source: SourceSession, Reason: "file edits are accepted for this session"}
	case state.allows(req.ToolName):
		return Classification{Risk: models.RiskSafe, Source: SourceSession, Reason: req.ToolName + " is allowed for this session"}
	case p.autoAllow[req.ToolName]:
		return Classification{Risk: models.RiskSafe, Source: SourcePolicy, Reason: req.ToolName + " is auto-allowed"}
	case p.requireApproval[req.ToolName]:
		return Classification{
			Risk:     models.RiskRequiresApproval,
			Escalate: true,
			Reason:   req.ToolName + " requires approval",
			Reasons:  []string{req.ToolName + " is on the requires-approval list"},
		}
	}
	return Classification{Risk: models.RiskSafe, Source: SourcePolicy, Reason: "allowed by default policy"}
}
