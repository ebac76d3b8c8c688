package transform

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Rule replaces every whole-word occurrence of From with To.
type Rule struct {
	From string
	To   string
}

// DefaultRules mirrors the substitutions the relay has always applied.
var DefaultRules = []Rule{
	{From: "SersanSistemas", To: "ASniper"},
	{From: "Apolo", To: ""},
}

type compiled struct {
	re *regexp.Regexp
	to string
}

// Transformer applies an ordered list of rules followed by whitespace
// normalization. It is safe for concurrent use.
type Transformer struct {
	rules []compiled
}

// New compiles rules in order. Rules with an empty From are skipped.
func New(rules []Rule) *Transformer {
	t := &Transformer{}
	for _, r := range rules {
		if r.From == "" {
			continue
		}
		t.rules = append(t.rules, compiled{
			re: regexp.MustCompile("(?i)" + regexp.QuoteMeta(r.From)),
			to: r.To,
		})
	}
	return t
}

// Apply returns text with every rule applied and whitespace collapsed.
func (t *Transformer) Apply(text string) string {
	out := text
	for _, r := range t.rules {
		out = replaceWords(out, r.re, r.to)
	}
	return strings.Join(strings.Fields(out), " ")
}

// replaceWords substitutes matches of re that sit on word boundaries.
func replaceWords(s string, re *regexp.Regexp, to string) string {
	var b strings.Builder
	last, pos := 0, 0
	for pos <= len(s) {
		loc := re.FindStringIndex(s[pos:])
		if loc == nil {
			break
		}
		start, end := pos+loc[0], pos+loc[1]
		if end > start && atBoundary(s, start) && atBoundary(s, end) {
			b.WriteString(s[last:start])
			b.WriteString(to)
			last, pos = end, end
			continue
		}
		_, size := utf8.DecodeRuneInString(s[start:])
		if size == 0 {
			break
		}
		pos = start + size
	}
	if last == 0 {
		return s
	}
	b.WriteString(s[last:])
	return b.String()
}

// atBoundary reports whether i is a word boundary: the runes on each side
// differ in word-ness.
func atBoundary(s string, i int) bool {
	before, after := false, false
	if i > 0 {
		r, _ := utf8.DecodeLastRuneInString(s[:i])
		before = isWord(r)
	}
	if i < len(s) {
		r, _ := utf8.DecodeRuneInString(s[i:])
		after = isWord(r)
	}
	return before != after
}

func isWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// ParseRules parses "from=to;from2=" into rules, preserving order.
func ParseRules(list string) ([]Rule, error) {
	var rules []Rule
	for _, part := range strings.Split(list, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		from, to, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("replacement %q: missing '='", part)
		}
		from = strings.TrimSpace(from)
		if from == "" {
			return nil, fmt.Errorf("replacement %q: empty pattern", part)
		}
		rules = append(rules, Rule{From: from, To: strings.TrimSpace(to)})
	}
	return rules, nil
}
