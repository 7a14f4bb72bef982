package analysis

import (
	"context"
	"errors"
	"strings"

	"github.com/kalambet/dishdex/internal/locale"
	"github.com/kalambet/dishdex/internal/retry"
)

// DishRef names a dish in a profile summary.
type DishRef struct {
	Name     string
	DishType string
}

// ProfileStats is the input for an eating profile sentence.
type ProfileStats struct {
	TotalDishes int
	DishTypes   map[string]int
	Favorites   []DishRef
	Recent      []DishRef
}

// ProfileWriter produces one-sentence eating profiles.
type ProfileWriter struct {
	client   Completer
	policy   retry.Policy
	messages locale.Messages
}

// NewProfileWriter creates a ProfileWriter. Only the policy and locale
// options apply.
func NewProfileWriter(client Completer, opts ...AnalyzerOption) *ProfileWriter {
	a := &Analyzer{messages: locale.For(locale.Default)}
	for _, o := range opts {
		o(a)
	}
	p := a.policy
	if p.Name == "" {
		p.Name = "profile summary"
	}
	return &ProfileWriter{client: client, policy: p, messages: a.messages}
}

// Write returns the profile sentence for s. An empty reply is an error.
func (w *ProfileWriter) Write(ctx context.Context, s ProfileStats) (string, error) {
	prompt := profilePrompt(w.messages, s)
	text, err := retry.Do(ctx, w.policy, func(ctx context.Context) (string, error) {
		return chat(ctx, w.client, prompt, "")
	})
	if err != nil {
		return "", err
	}
	out := cleanSentence(text)
	if out == "" {
		return "", errors.New("empty profile response")
	}
	return out, nil
}

// cleanSentence keeps the first non-empty line without wrapping quotes.
func cleanSentence(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.Trim(line, `"“”'`)
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}
