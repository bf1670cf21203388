package models

import "time"

// Project is the owner of tasks; its prompt overrides the global default.
type Project struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Path         string    `json:"path" db:"path"`
	SystemPrompt string    `json:"system_prompt,omitempty" db:"system_prompt"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Task is the unit of work sessions run against.
type Task struct {
	ID          string    `json:"id" db:"id"`
	ProjectID   string    `json:"project_id" db:"project_id"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description" db:"description"`
	AgentID     *string   `json:"agent_id,omitempty" db:"agent_id"`
	WorkingDir  string    `json:"working_dir,omitempty" db:"working_dir"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Agent is a configured persona with a role prompt and provider defaults.
type Agent struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Role      string    `json:"role" db:"role"`
	Provider  string    `json:"provider,omitempty" db:"provider"`
	Model     string    `json:"model,omitempty" db:"model"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Settings are the global defaults.
type Settings struct {
	DefaultProvider string  `json:"default_provider" db:"default_provider"`
	DefaultModel    string  `json:"default_model" db:"default_model"`
	FallbackModel   string  `json:"fallback_model,omitempty" db:"fallback_model"`
	SystemPrompt    string  `json:"system_prompt,omitempty" db:"system_prompt"`
	MaxBudgetUSD    float64 `json:"max_budget_usd,omitempty" db:"max_budget_usd"`
	SummaryLimit    int     `json:"summary_limit" db:"summary_limit"`
}
