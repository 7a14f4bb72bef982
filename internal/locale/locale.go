// Package locale holds the user-facing strings that the catalog writes into
// stored data or sends to the analysis service.
package locale

import "strings"

const (
	PtBR    = "pt-BR"
	En      = "en"
	Default = PtBR
)

// Messages is the set of strings for one locale.
type Messages struct {
	Tag string
	// Placeholder is the name given to a dish created without one.
	Placeholder string
	// Analyzing is the description shown while enrichment is pending.
	Analyzing string
	// AnalysisUnavailable replaces the description when enrichment fails.
	AnalysisUnavailable string
	// DefaultProfile is the eating profile of an owner without dishes.
	DefaultProfile string
	// Instruction opens every prompt and fixes the response language.
	Instruction string
}

var catalog = map[string]Messages{
	PtBR: {
		Tag:                 PtBR,
		Placeholder:         "Prato sem nome",
		Analyzing:           "Analisando o prato...",
		AnalysisUnavailable: "Análise indisponível no momento. Tente novamente mais tarde.",
		DefaultProfile:      "Começando a jornada gastronômica",
		Instruction:         "IMPORTANTE: Responda SEMPRE em português brasileiro.",
	},
	En: {
		Tag:                 En,
		Placeholder:         "Untitled dish",
		Analyzing:           "Analyzing dish...",
		AnalysisUnavailable: "Analysis unavailable right now. Please try again later.",
		DefaultProfile:      "Just starting the culinary journey",
		Instruction:         "IMPORTANT: Always answer in English.",
	},
}

// Supported reports whether tag names a known locale.
func Supported(tag string) bool {
	_, ok := lookup(tag)
	return ok
}

// Tags returns the known locale tags, default first.
func Tags() []string {
	return []string{PtBR, En}
}

// For returns the messages for tag, falling back to the default locale.
// Matching ignores case and accepts "pt" or "en-US" style variants.
func For(tag string) Messages {
	if m, ok := lookup(tag); ok {
		return m
	}
	return catalog[Default]
}

func lookup(tag string) (Messages, bool) {
	t := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(tag), "_", "-"))
	switch {
	case t == "pt" || strings.HasPrefix(t, "pt-"):
		return catalog[PtBR], true
	case t == "en" || strings.HasPrefix(t, "en-"):
		return catalog[En], true
	}
	return Messages{}, false
}
