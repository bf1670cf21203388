package hooks

import (
	"slices"
	"sort"

	"github.com/kandev/agentgate/internal/models"
)

// matchesFilter applies the hook's predicate. Empty lists match everything; a
// non-empty list never matches an event that lacks the field.
func matchesFilter(f models.HookFilter, hctx Context) bool {
	return matchList(f.ToolNames, hctx.ToolName) &&
		matchList(f.Statuses, hctx.Status) &&
		matchList(f.Providers, hctx.Provider)
}

func matchList(allowed []string, value string) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return true
	}
	return value != "" && slices.Contains(allowed, value)
}

// sortByPriority orders hooks by descending priority, then by name.
func sortByPriority(hooks []*models.Hook) {
	sort.SliceStable(hooks, func(i, j int) bool {
		if hooks[i].Priority != hooks[j].Priority {
			return hooks[i].Priority > hooks[j].Priority
		}
		return hooks[i].Name < hooks[j].Name
	})
}
