package analysis

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/dishdex/internal/locale"
	"github.com/kalambet/dishdex/internal/retry"
	"github.com/kalambet/dishdex/internal/storage"
)

// Completer sends messages to a model and returns its text reply.
type Completer interface {
	Messages(ctx context.Context, msgs []Message, system string) (string, error)
}

// Image is a dish photo to analyze.
type Image struct {
	ContentType string
	Data        []byte
}

// Result is the structured description returned for a dish photo.
type Result struct {
	DishName        string            `json:"dish_name"`
	Description     string            `json:"description"`
	DishType        string            `json:"dish_type"`
	CulturalContext string            `json:"cultural_context"`
	Pairings        []storage.Pairing `json:"pairing_suggestions"`
}

// DishAnalysis converts r to the fields persisted on a dish.
func (r Result) DishAnalysis() storage.DishAnalysis {
	pairings := r.Pairings
	if pairings == nil {
		pairings = []storage.Pairing{}
	}
	return storage.DishAnalysis{
		Name:            strings.TrimSpace(r.DishName),
		Description:     strings.TrimSpace(r.Description),
		DishType:        strings.TrimSpace(r.DishType),
		CulturalContext: strings.TrimSpace(r.CulturalContext),
		Pairings:        pairings,
	}
}

// Outcome is either an analyzed Result or a degraded marker with a reason.
type Outcome struct {
	Result   Result
	Degraded bool
	Reason   string
}

// Analyzed wraps a successful result.
func Analyzed(r Result) Outcome { return Outcome{Result: r} }

// Degraded reports that no usable result was produced.
func Degraded(reason string) Outcome { return Outcome{Degraded: true, Reason: reason} }

var errEmptyResult = errors.New("analysis returned no dish name or description")

// Analyzer turns dish photos into structured descriptions.
type Analyzer struct {
	client        Completer
	policy        retry.Policy
	messages      locale.Messages
	philosophical bool
	logger        *slog.Logger
}

// AnalyzerOption customizes an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithPolicy sets the retry policy for model calls.
func WithPolicy(p retry.Policy) AnalyzerOption {
	return func(a *Analyzer) { a.policy = p }
}

// WithLocale sets the response language.
func WithLocale(tag string) AnalyzerOption {
	return func(a *Analyzer) { a.messages = locale.For(tag) }
}

// WithPhilosophicalMode appends the reflective prompt add-on.
func WithPhilosophicalMode(on bool) AnalyzerOption {
	return func(a *Analyzer) { a.philosophical = on }
}

// NewAnalyzer creates an Analyzer over client.
func NewAnalyzer(client Completer, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		client:   client,
		messages: locale.For(locale.Default),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.policy.Name == "" {
		a.policy.Name = "dish analysis"
	}
	return a
}

// Analyze describes img. Failures of any kind are reported as a degraded
// Outcome rather than an error.
func (a *Analyzer) Analyze(ctx context.Context, img Image) Outcome {
	if len(img.Data) == 0 {
		return Degraded("image is empty")
	}

	msgs := []Message{{
		Role: "user",
		Content: []ContentBlock{
			ImageBlock(img.ContentType, base64.StdEncoding.EncodeToString(img.Data)),
			TextBlock(dishPrompt(a.messages, a.philosophical)),
		},
	}}

	text, err := retry.Do(ctx, a.policy, func(ctx context.Context) (string, error) {
		return a.client.Messages(ctx, msgs, "")
	})
	if err != nil {
		return Degraded(retry.Redact(err.Error()))
	}

	res, err := ParseResult(text)
	if err != nil {
		a.logger.Error("failed to parse analysis response", "error", err)
		return Degraded(err.Error())
	}
	return Analyzed(res)
}

// ParseResult decodes a model reply, tolerating markdown code fences and
// surrounding prose.
func ParseResult(text string) (Result, error) {
	body := stripFences(text)

	var res Result
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		start, end := strings.Index(body, "{"), strings.LastIndex(body, "}")
		if start < 0 || end <= start {
			return Result{}, fmt.Errorf("parsing analysis: %w", err)
		}
		res = Result{}
		if err := json.Unmarshal([]byte(body[start:end+1]), &res); err != nil {
			return Result{}, fmt.Errorf("parsing analysis: %w", err)
		}
	}
	if strings.TrimSpace(res.DishName) == "" && strings.TrimSpace(res.Description) == "" {
		return Result{}, errEmptyResult
	}
	if res.Pairings == nil {
		res.Pairings = []storage.Pairing{}
	}
	return res, nil
}

func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
