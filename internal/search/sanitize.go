package search

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MatchAll is the query that matches every indexed entry.
const MatchAll = "*"

// MaxQueryBytes bounds the raw input processed by Sanitize.
const MaxQueryBytes = 4096

var (
	disallowed = regexp.MustCompile(`[^\p{L}\p{N}_\s*"&|!()\-]`)
	operators  = regexp.MustCompile(`["&|!*()]`)
	nonWord    = regexp.MustCompile(`[^\p{L}\p{N}_]+`)
)

// Sanitize turns raw user input into an FTS5 query.
//
// Characters outside letters, digits, whitespace and the operator set
// `* " & | ! ( ) -` are dropped and whitespace is collapsed. Blank input
// becomes MatchAll. Input without operators gets a prefix wildcard on every
// word. Input with operators keeps AND/OR/NOT, quoted phrases and decorated
// words as typed and only wildcards the plain words.
//
// The result is always valid FTS5 syntax: `&`, `|` and `!` become AND, OR
// and NOT, hyphenated words become phrases ("pão-de-queijo" is
// `"pão de queijo"*`), a group next to a term is joined with AND, and
// dangling operators and unbalanced parentheses are dropped or closed.
func Sanitize(raw string) string {
	raw = truncate(raw, MaxQueryBytes)
	cleaned := strings.Join(strings.Fields(disallowed.ReplaceAllString(raw, " ")), " ")
	if cleaned == "" {
		return MatchAll
	}

	toks := balance(lex(cleaned, operators.MatchString(cleaned)))
	if len(toks) == 0 {
		return MatchAll
	}
	return render(toks)
}

type tokenKind int

const (
	termToken tokenKind = iota
	opToken
	openToken
	closeToken
)

type token struct {
	kind tokenKind
	text string
}

// lex splits cleaned input into terms, operators and parentheses. In
// operator mode only undecorated words, those with whitespace on both sides,
// get a wildcard; otherwise every word does.
func lex(s string, opMode bool) []token {
	rs := []rune(s)
	var toks []token
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case r == '(':
			toks = append(toks, token{kind: openToken, text: "("})
			i++
		case r == ')':
			toks = append(toks, token{kind: closeToken, text: ")"})
			i++
		case r == '&':
			toks = append(toks, token{kind: opToken, text: "AND"})
			i++
		case r == '|':
			toks = append(toks, token{kind: opToken, text: "OR"})
			i++
		case r == '!':
			toks = append(toks, token{kind: opToken, text: "NOT"})
			i++
		case r == '"':
			j := i + 1
			for j < len(rs) && rs[j] != '"' {
				j++
			}
			words := strings.Fields(nonWord.ReplaceAllString(string(rs[i+1:j]), " "))
			i = min(j+1, len(rs))
			starred := i < len(rs) && rs[i] == '*'
			if len(words) > 0 {
				toks = append(toks, term(words, true, starred))
			}
		case isWordRune(r):
			start := i
			for i < len(rs) && isWordRune(rs[i]) {
				i++
			}
			word := string(rs[start:i])
			starred := i < len(rs) && rs[i] == '*'
			for i < len(rs) && rs[i] == '*' {
				i++
			}
			decorated := (start > 0 && rs[start-1] != ' ') || (i < len(rs) && rs[i] != ' ')

			parts := strings.FieldsFunc(word, func(r rune) bool { return r == '-' })
			if len(parts) == 0 {
				continue
			}
			if opMode && !starred && len(parts) == 1 && isKeyword(parts[0]) {
				toks = append(toks, token{kind: opToken, text: strings.ToUpper(parts[0])})
				continue
			}
			toks = append(toks, term(parts, len(parts) > 1, starred || !opMode || !decorated))
		default:
			// Spaces and stray wildcards.
			i++
		}
	}
	return toks
}

func term(words []string, phrase, prefix bool) token {
	var text string
	if phrase {
		text = `"` + strings.Join(words, " ") + `"`
	} else {
		text = words[0]
		if isKeyword(text) || strings.EqualFold(text, "NEAR") {
			text = strings.ToLower(text)
		}
	}
	if prefix {
		text += "*"
	}
	return token{kind: termToken, text: text}
}

// balance drops operators with a missing operand, drops empty or unopened
// groups, closes open groups and puts an explicit AND between a group and
// a neighbouring term.
func balance(in []token) []token {
	out := make([]token, 0, len(in))
	depth := 0
	last := func() tokenKind {
		if len(out) == 0 {
			return -1
		}
		return out[len(out)-1].kind
	}
	trimOps := func() {
		for last() == opToken {
			out = out[:len(out)-1]
		}
	}
	and := token{kind: opToken, text: "AND"}

	for _, t := range in {
		switch t.kind {
		case opToken:
			if k := last(); k == -1 || k == opToken || k == openToken {
				continue
			}
			out = append(out, t)
		case openToken:
			if k := last(); k == termToken || k == closeToken {
				out = append(out, and)
			}
			out = append(out, t)
			depth++
		case closeToken:
			if depth == 0 {
				continue
			}
			trimOps()
			depth--
			if last() == openToken {
				out = out[:len(out)-1]
				trimOps()
				continue
			}
			out = append(out, t)
		case termToken:
			if last() == closeToken {
				out = append(out, and)
			}
			out = append(out, t)
		}
	}

	trimOps()
	for ; depth > 0; depth-- {
		if last() == openToken {
			out = out[:len(out)-1]
			trimOps()
			continue
		}
		out = append(out, token{kind: closeToken, text: ")"})
	}
	return out
}

func render(toks []token) string {
	var b strings.Builder
	for i, t := range toks {
		if i > 0 && t.kind != closeToken && toks[i-1].kind != openToken {
			b.WriteByte(' ')
		}
		b.WriteString(t.text)
	}
	return b.String()
}

func isWordRune(r rune) bool {
	return r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsNumber(r)
}

func isKeyword(w string) bool {
	switch strings.ToUpper(w) {
	case "AND", "OR", "NOT":
		return true
	}
	return false
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
