package discover

import (
	"strings"

	"shadowcheck/internal/procedure"
	"shadowcheck/internal/registry"
)

// Classifier splits procedures into read-only and mutating by name.
type Classifier struct {
	verbs []string
	reg   *registry.Registry
}

// NewClassifier matches verbs case-insensitively as substrings of the
// procedure name. Registry force lists take precedence.
func NewClassifier(verbs []string, reg *registry.Registry) *Classifier {
	if reg == nil {
		reg = registry.Empty()
	}
	c := &Classifier{reg: reg}
	for _, v := range verbs {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			c.verbs = append(c.verbs, v)
		}
	}
	return c
}

// Classify returns the execution mode for name.
func (c *Classifier) Classify(name string) procedure.Mode {
	if mutating, ok := c.reg.ForcedMode(name); ok {
		if mutating {
			return procedure.ModeMutating
		}
		return procedure.ModeReadOnly
	}
	lower := strings.ToLower(name)
	for _, v := range c.verbs {
		if strings.Contains(lower, v) {
			return procedure.ModeMutating
		}
	}
	return procedure.ModeReadOnly
}
