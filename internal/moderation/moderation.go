// Package moderation defines the content-check contract. How content is
// judged lives outside the engine; only the flagged / clean verdict matters
// here.
package moderation

import (
	"context"
	"strings"
)

// Checker inspects a submitted contribution. flagged means the turn enters
// moderation review instead of completing.
type Checker interface {
	Check(ctx context.Context, content string) (flagged bool, err error)
}

// WordlistChecker flags content containing any banned term. It is the
// built-in checker; platform deployments plug in their own.
type WordlistChecker struct {
	banned []string
}

func NewWordlistChecker(banned []string) *WordlistChecker {
	lowered := make([]string, 0, len(banned))
	for _, w := range banned {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			lowered = append(lowered, w)
		}
	}
	return &WordlistChecker{banned: lowered}
}

func (c *WordlistChecker) Check(ctx context.Context, content string) (bool, error) {
	lowered := strings.ToLower(content)
	for _, w := range c.banned {
		if strings.Contains(lowered, w) {
			return true, nil
		}
	}
	return false, nil
}
