package agentproc

import (
	"strconv"
	"strings"
)

// cmdBuilder accumulates CLI arguments.
type cmdBuilder struct {
	path string
	args []string
}

func newCmd(path string, args ...string) *cmdBuilder {
	return &cmdBuilder{path: path, args: append([]string{}, args...)}
}

// Flag appends the given parts verbatim.
func (b *cmdBuilder) Flag(parts ...string) *cmdBuilder {
	b.args = append(b.args, parts...)
	return b
}

// Opt appends flag and value when value is non-empty.
func (b *cmdBuilder) Opt(flag, value string) *cmdBuilder {
	if value == "" {
		return b
	}
	b.args = append(b.args, flag, value)
	return b
}

// If appends parts when cond holds.
func (b *cmdBuilder) If(cond bool, parts ...string) *cmdBuilder {
	if cond {
		b.args = append(b.args, parts...)
	}
	return b
}

// List appends flag with a comma-joined list when the list is non-empty.
func (b *cmdBuilder) List(flag string, values []string) *cmdBuilder {
	if len(values) == 0 {
		return b
	}
	b.args = append(b.args, flag, strings.Join(values, ","))
	return b
}

// Float appends flag with a float value when the value is positive.
func (b *cmdBuilder) Float(flag string, value float64) *cmdBuilder {
	if value <= 0 {
		return b
	}
	b.args = append(b.args, flag, strconv.FormatFloat(value, 'f', -1, 64))
	return b
}

// Build returns the final command.
func (b *cmdBuilder) Build() *Command {
	return &Command{Path: b.path, Args: b.args}
}
