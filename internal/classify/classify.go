// Package classify decides which scope a described use case belongs to.
// Classification is deterministic, side-effect-free and safe for any number
// of concurrent callers.
package classify

import (
	"fmt"
	"strings"

	"github.com/chirino/memory-policy/internal/model"
)

// KeywordTable holds the three fixed keyword sets scored against a
// description. Tables are copied at construction so a Classifier never
// shares mutable state with its caller.
type KeywordTable struct {
	// User terms signal persistent preferences and durable per-user facts.
	User []string
	// Agent terms signal learned agent behavior and skills.
	Agent []string
	// Session terms signal short-lived, run-local context.
	Session []string
}

// DefaultKeywords is the built-in scoring table.
var DefaultKeywords = KeywordTable{
	User: []string{
		"preference", "prefers", "dietary", "profile", "likes", "dislikes",
		"favorite", "settings", "persistent", "always", "user's", "across sessions",
	},
	Agent: []string{
		"agent", "behavior", "learned", "skill", "strategy", "instruction",
		"persona", "tool usage", "capability", "improve", "self",
	},
	Session: []string{
		"current", "session", "today", "now", "temporary", "this conversation",
		"issue", "error", "debug", "in progress", "right now", "ticket",
	},
}

// Result is the classifier's output.
type Result struct {
	Scope      model.Scope      `json:"scope"`
	Confidence model.Confidence `json:"confidence"`
	Rationale  string           `json:"rationale"`
}

// Classifier scores descriptions against an immutable keyword table.
type Classifier struct {
	table KeywordTable
}

// New returns a Classifier using the given table. Nil slices fall back to
// DefaultKeywords. The table is deep-copied.
func New(table KeywordTable) *Classifier {
	c := &Classifier{table: KeywordTable{
		User:    copyLower(table.User, DefaultKeywords.User),
		Agent:   copyLower(table.Agent, DefaultKeywords.Agent),
		Session: copyLower(table.Session, DefaultKeywords.Session),
	}}
	return c
}

func copyLower(terms, fallback []string) []string {
	if terms == nil {
		terms = fallback
	}
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = strings.ToLower(t)
	}
	return out
}

// Classify assigns the scope whose keyword set matches the description best.
// Confidence is high when the top score beats the runner-up by at least 2,
// low on a tie or a top score ≤ 1, medium otherwise. Ties and zero-match
// inputs fall back to User with low confidence; that fallback is deliberate
// policy, not an accident.
func (c *Classifier) Classify(description string) (Result, error) {
	if strings.TrimSpace(description) == "" {
		return Result{}, &model.InvalidInputError{Field: "description", Message: "must not be empty"}
	}

	text := strings.ToLower(description)
	scores := map[model.Scope]int{
		model.ScopeUser:    countMatches(text, c.table.User),
		model.ScopeAgent:   countMatches(text, c.table.Agent),
		model.ScopeSession: countMatches(text, c.table.Session),
	}

	// Fixed evaluation order keeps tie detection deterministic.
	order := []model.Scope{model.ScopeUser, model.ScopeAgent, model.ScopeSession}
	best, runnerUp := order[0], 0
	for _, s := range order[1:] {
		if scores[s] > scores[best] {
			best = s
		}
	}
	tied := false
	for _, s := range order {
		if s == best {
			continue
		}
		if scores[s] == scores[best] {
			tied = true
		}
		if scores[s] > runnerUp {
			runnerUp = scores[s]
		}
	}

	if scores[best] == 0 || tied {
		return Result{
			Scope:      model.ScopeUser,
			Confidence: model.ConfidenceLow,
			Rationale: fmt.Sprintf("no clear signal (user=%d agent=%d session=%d); defaulting to user scope",
				scores[model.ScopeUser], scores[model.ScopeAgent], scores[model.ScopeSession]),
		}, nil
	}

	confidence := model.ConfidenceMedium
	switch {
	case scores[best]-runnerUp >= 2:
		confidence = model.ConfidenceHigh
	case scores[best] <= 1:
		confidence = model.ConfidenceLow
	}

	return Result{
		Scope:      best,
		Confidence: confidence,
		Rationale: fmt.Sprintf("%s terms scored %d vs runner-up %d (user=%d agent=%d session=%d)",
			best, scores[best], runnerUp,
			scores[model.ScopeUser], scores[model.ScopeAgent], scores[model.ScopeSession]),
	}, nil
}

func countMatches(text string, terms []string) int {
	n := 0
	for _, term := range terms {
		if strings.Contains(text, term) {
			n++
		}
	}
	return n
}
