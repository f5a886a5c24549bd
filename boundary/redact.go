package boundary

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

const (
	placeholderPrefix = "[REDACTED:"
	fallbackLabel     = "unverified_secret"
	minSecretLength   = 5
	maxPasses         = 16
)

// Placeholder returns the replacement text for a match of the labeled rule.
func Placeholder(label string) string {
	return placeholderPrefix + label + "]"
}

// Rule is a labeled secret pattern as written in the rules file.
type Rule struct {
	Label      string `yaml:"label"`
	Pattern    string `yaml:"pattern"`
	IgnoreCase bool   `yaml:"ignore_case,omitempty"`
}

// DefaultRules are applied unless disabled in configuration.
var DefaultRules = []Rule{
	{Label: "private_key", Pattern: `-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`},
	{Label: "openai_key", Pattern: `sk-[A-Za-z0-9_-]{20,}`},
	{Label: "aws_access_key", Pattern: `\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`},
	{Label: "github_token", Pattern: `\bgh[pousr]_[A-Za-z0-9]{36,}\b`},
	{Label: "slack_token", Pattern: `\bxox[abprs]-[A-Za-z0-9-]{10,}`},
	{Label: "bearer_token", Pattern: `bearer\s+[A-Za-z0-9._~+/-]{8,}=*`, IgnoreCase: true},
}

var labelSanitizer = regexp.MustCompile(`[^a-z0-9_.-]+`)

func normalizeLabel(label string) string {
	label = labelSanitizer.ReplaceAllString(strings.ToLower(strings.TrimSpace(label)), "_")
	if label == "" {
		return "secret"
	}
	return label
}

type matcher struct {
	label       string
	placeholder string
	re          *regexp.Regexp
	accept      func(string) bool
}

func (m matcher) replace(segment string) string {
	return m.re.ReplaceAllStringFunc(segment, func(match string) string {
		if m.accept != nil && !m.accept(match) {
			return match
		}
		return m.placeholder
	})
}

type literal struct {
	value       string
	placeholder string
}

// fallbackMatcher is the conservative rule substituted for any unusable
// pattern: tokens of 16 or more characters mixing letters and digits.
func fallbackMatcher() matcher {
	return matcher{
		label:       fallbackLabel,
		placeholder: Placeholder(fallbackLabel),
		re:          regexp.MustCompile(`[A-Za-z0-9_+/=-]{16,}`),
		accept: func(token string) bool {
			var letter, digit bool
			for _, r := range token {
				switch {
				case unicode.IsDigit(r):
					digit = true
				case unicode.IsLetter(r):
					letter = true
				}
			}
			return letter && digit
		},
	}
}

// Redactor replaces configured secret patterns and literal secret values with
// labeled placeholders. Redact is idempotent: placeholders it produced are
// never rescanned and rules are applied until the text stops changing.
type Redactor struct {
	matchers  []matcher
	literals  []literal
	protected *regexp.Regexp
}

// NewRedactor compiles rules and registers literal secrets (keyed by name).
// Unusable rules are reported as *PatternError values and replaced by the
// fallback rule; the returned Redactor is always usable.
func NewRedactor(rules []Rule, secrets map[string]string) (*Redactor, []error) {
	return newRedactor(rules, secrets, false)
}

func newRedactor(rules []Rule, secrets map[string]string, fallback bool) (*Redactor, []error) {
	r := &Redactor{}
	var errs []error

	for _, rule := range rules {
		m, err := compileRule(rule)
		if err != nil {
			errs = append(errs, &PatternError{Label: rule.Label, Err: err})
			fallback = true
			continue
		}
		r.matchers = append(r.matchers, m)
	}
	if fallback {
		r.matchers = append(r.matchers, fallbackMatcher())
	}

	names := make([]string, 0, len(secrets))
	for name := range secrets {
		names = append(names, name)
	}
	sort.Strings(names)

	seen := make(map[string]bool)
	for _, name := range names {
		value := secrets[name]
		if len(value) < minSecretLength || seen[value] {
			continue
		}
		seen[value] = true
		r.literals = append(r.literals, literal{value: value, placeholder: Placeholder(normalizeLabel(name))})
	}
	sort.SliceStable(r.literals, func(i, j int) bool {
		return len(r.literals[i].value) > len(r.literals[j].value)
	})

	r.protected = r.placeholderPattern()
	return r, errs
}

func compileRule(rule Rule) (matcher, error) {
	if strings.TrimSpace(rule.Pattern) == "" {
		return matcher{}, errors.New("empty pattern")
	}

	expr := rule.Pattern
	if rule.IgnoreCase {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return matcher{}, err
	}
	if re.MatchString("") {
		return matcher{}, errors.New("pattern matches empty input")
	}

	label := normalizeLabel(rule.Label)
	return matcher{label: label, placeholder: Placeholder(label), re: re}, nil
}

// placeholderPattern matches only placeholders this redactor can emit, so
// text that merely imitates a placeholder is still scanned.
func (r *Redactor) placeholderPattern() *regexp.Regexp {
	labels := make(map[string]bool)
	for _, m := range r.matchers {
		labels[m.label] = true
	}
	for _, l := range r.literals {
		labels[strings.TrimSuffix(strings.TrimPrefix(l.placeholder, placeholderPrefix), "]")] = true
	}
	if len(labels) == 0 {
		return nil
	}

	quoted := make([]string, 0, len(labels))
	for label := range labels {
		quoted = append(quoted, regexp.QuoteMeta(label))
	}
	sort.Strings(quoted)
	return regexp.MustCompile(regexp.QuoteMeta(placeholderPrefix) + `(?:` + strings.Join(quoted, "|") + `)\]`)
}

// Labels returns the labels of active pattern rules.
func (r *Redactor) Labels() []string {
	labels := make([]string, len(r.matchers))
	for i, m := range r.matchers {
		labels[i] = m.label
	}
	return labels
}

// Redact returns text with every secret match replaced.
func (r *Redactor) Redact(text string) string {
	if r.protected == nil || text == "" {
		return text
	}

	for range maxPasses {
		next := r.once(text)
		if next == text {
			return next
		}
		text = next
	}
	return text
}

func (r *Redactor) once(text string) string {
	for _, l := range r.literals {
		text = r.outsidePlaceholders(text, func(s string) string {
			return strings.ReplaceAll(s, l.value, l.placeholder)
		})
	}
	for _, m := range r.matchers {
		text = r.outsidePlaceholders(text, m.replace)
	}
	return text
}

func (r *Redactor) outsidePlaceholders(text string, fn func(string) string) string {
	locs := r.protected.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return fn(text)
	}

	var b strings.Builder
	last := 0
	for _, loc := range locs {
		b.WriteString(fn(text[last:loc[0]]))
		b.WriteString(text[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(fn(text[last:]))
	return b.String()
}

func (r *Redactor) String() string {
	return fmt.Sprintf("Redactor(%d rules, %d literals)", len(r.matchers), len(r.literals))
}
