package analysis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/dishdex/internal/locale"
	"github.com/kalambet/dishdex/internal/retry"
)

type mockCompleter struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   int
	last    []Message
}

func (m *mockCompleter) Messages(_ context.Context, msgs []Message, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	m.last = msgs
	var err error
	if i < len(m.errs) {
		err = m.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(m.replies) {
		return m.replies[i], nil
	}
	if len(m.replies) > 0 {
		return m.replies[len(m.replies)-1], nil
	}
	return "", nil
}

func (m *mockCompleter) prompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var b strings.Builder
	for _, msg := range m.last {
		for _, c := range msg.Content {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

func noSleep(context.Context, time.Duration) error { return nil }

var testImage = Image{ContentType: "image/png", Data: []byte("\x89PNG fake")}

const feijoadaJSON = `{
  "dish_name": "Feijoada",
  "description": "Feijão preto com carnes",
  "dish_type": "Brasileira",
  "cultural_context": "Sábado em família",
  "pairing_suggestions": [
    {"type": "cocktail", "name": "Caipirinha", "description": "Limão e cachaça", "is_easter_egg": true}
  ]
}`

func TestAnalyze_ParsesFencedReply(t *testing.T) {
	m := &mockCompleter{replies: []string{"```json\n" + feijoadaJSON + "\n```"}}
	a := NewAnalyzer(m, WithPolicy(retry.Policy{Sleep: noSleep}))

	out := a.Analyze(context.Background(), testImage)
	if out.Degraded {
		t.Fatalf("degraded: %s", out.Reason)
	}
	if out.Result.DishName != "Feijoada" || out.Result.DishType != "Brasileira" {
		t.Errorf("result = %+v", out.Result)
	}
	if len(out.Result.Pairings) != 1 || !out.Result.Pairings[0].EasterEgg {
		t.Errorf("pairings = %+v", out.Result.Pairings)
	}

	img := m.last[0].Content[0]
	if img.Type != "image" || img.Source.MediaType != "image/png" || img.Source.Data == "" {
		t.Errorf("image block = %+v", img)
	}
}

func TestAnalyze_RetriesTransientFailures(t *testing.T) {
	m := &mockCompleter{
		errs:    []error{&RateLimitError{Status: 429}, &RateLimitError{Status: 429}},
		replies: []string{"", "", feijoadaJSON},
	}
	a := NewAnalyzer(m, WithPolicy(retry.Policy{Sleep: noSleep}))

	out := a.Analyze(context.Background(), testImage)
	if out.Degraded {
		t.Fatalf("degraded: %s", out.Reason)
	}
	if m.calls != 3 {
		t.Errorf("calls = %d, want 3", m.calls)
	}
}

func TestAnalyze_PermanentFailureDegrades(t *testing.T) {
	m := &mockCompleter{errs: []error{&StatusError{Status: 401, Message: "invalid x-api-key sk-ant-secret-123"}}}
	a := NewAnalyzer(m, WithPolicy(retry.Policy{Sleep: noSleep}))

	out := a.Analyze(context.Background(), testImage)
	if !out.Degraded {
		t.Fatal("expected degraded outcome")
	}
	if m.calls != 1 {
		t.Errorf("calls = %d, want 1", m.calls)
	}
	if strings.Contains(out.Reason, "sk-ant-secret") {
		t.Errorf("reason leaks key: %q", out.Reason)
	}
}

func TestAnalyze_ExhaustedRetriesDegrade(t *testing.T) {
	rl := &RateLimitError{Status: 429}
	m := &mockCompleter{errs: []error{rl, rl, rl, rl}}
	a := NewAnalyzer(m, WithPolicy(retry.Policy{Sleep: noSleep}))

	out := a.Analyze(context.Background(), testImage)
	if !out.Degraded || m.calls != 3 {
		t.Errorf("degraded = %v, calls = %d; want degraded after 3", out.Degraded, m.calls)
	}
}

func TestAnalyze_UnparseableReplyDegrades(t *testing.T) {
	m := &mockCompleter{replies: []string{"I cannot see any food here."}}
	out := NewAnalyzer(m).Analyze(context.Background(), testImage)
	if !out.Degraded {
		t.Error("expected degraded outcome for prose reply")
	}
}

func TestAnalyze_EmptyImage(t *testing.T) {
	m := &mockCompleter{}
	out := NewAnalyzer(m).Analyze(context.Background(), Image{ContentType: "image/png"})
	if !out.Degraded || m.calls != 0 {
		t.Errorf("degraded = %v, calls = %d", out.Degraded, m.calls)
	}
}

func TestAnalyze_PromptLocaleAndMode(t *testing.T) {
	m := &mockCompleter{replies: []string{feijoadaJSON}}
	NewAnalyzer(m).Analyze(context.Background(), testImage)
	if p := m.prompt(); !strings.Contains(p, "português brasileiro") || strings.Contains(p, "FILOSÓFICO") {
		t.Errorf("default prompt unexpected: %q", p[:80])
	}

	m = &mockCompleter{replies: []string{feijoadaJSON}}
	NewAnalyzer(m, WithLocale("en"), WithPhilosophicalMode(true)).Analyze(context.Background(), testImage)
	p := m.prompt()
	if !strings.Contains(p, "Always answer in English") {
		t.Error("english instruction missing")
	}
	if !strings.Contains(p, "PHILOSOPHICAL MODE") {
		t.Error("philosophical add-on missing")
	}
}

func TestParseResult(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"bare json", feijoadaJSON, "Feijoada", false},
		{"json fence", "```json\n" + feijoadaJSON + "\n```", "Feijoada", false},
		{"plain fence", "```\n" + feijoadaJSON + "\n```", "Feijoada", false},
		{"surrounding prose", "Here it is:\n" + feijoadaJSON + "\nEnjoy!", "Feijoada", false},
		{"no pairings", `{"dish_name":"Pastel","description":"Frito"}`, "Pastel", false},
		{"empty object", `{}`, "", true},
		{"not json", "no idea", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResult(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				if got.DishName != tt.want {
					t.Errorf("DishName = %q, want %q", got.DishName, tt.want)
				}
				if got.Pairings == nil {
					t.Error("Pairings is nil, want empty slice")
				}
			}
		})
	}
}

func TestResult_DishAnalysisTrims(t *testing.T) {
	a := Result{DishName: "  Coxinha ", Description: "Frango\n"}.DishAnalysis()
	if a.Name != "Coxinha" || a.Description != "Frango" || a.Pairings == nil {
		t.Errorf("DishAnalysis = %+v", a)
	}
}

func TestProfileWriter(t *testing.T) {
	m := &mockCompleter{replies: []string{"\n\"Alma brasileira com pitadas de curiosidade\"\nextra line"}}
	w := NewProfileWriter(m, WithLocale(locale.PtBR))

	got, err := w.Write(context.Background(), ProfileStats{
		TotalDishes: 7,
		DishTypes:   map[string]int{"Brasileira": 5, "Japonesa": 2},
		Favorites:   []DishRef{{Name: "Feijoada", DishType: "Brasileira"}},
		Recent:      []DishRef{{Name: "Sushi", DishType: "Japonesa"}},
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got != "Alma brasileira com pitadas de curiosidade" {
		t.Errorf("profile = %q", got)
	}

	p := m.prompt()
	for _, want := range []string{"Total de pratos: 7", `"Brasileira":5`, "Feijoada (Brasileira)", "Sushi (Japonesa)", "15 palavras"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestProfileWriter_Errors(t *testing.T) {
	w := NewProfileWriter(&mockCompleter{replies: []string{"  \n "}})
	if _, err := w.Write(context.Background(), ProfileStats{TotalDishes: 1}); err == nil {
		t.Error("expected error for blank reply")
	}

	perm := errors.New("boom")
	w = NewProfileWriter(&mockCompleter{errs: []error{perm}}, WithPolicy(retry.Policy{Sleep: noSleep}))
	_, err := w.Write(context.Background(), ProfileStats{TotalDishes: 1})
	var ex *retry.ExhaustedError
	if !errors.As(err, &ex) || ex.Attempts != 1 {
		t.Errorf("err = %v, want exhausted after 1 attempt", err)
	}
}
