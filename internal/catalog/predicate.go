package catalog

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Veraticus/notesync/internal/common"
)

var headingLine = regexp.MustCompile(`^\s*[A-Za-z][A-Za-z0-9 /&()-]{0,60}:\s*$`)

func compilePredicate(p Predicate) (Predicate, error) {
	switch p.Kind {
	case PredicateContains, PredicateNotContains:
		if p.Value == "" {
			return p, fmt.Errorf("%s predicate needs a value", p.Kind)
		}
	case PredicateRegex, PredicateNotRegex:
		re, err := common.CompilePattern(p.Value, p.CaseSensitive)
		if err != nil {
			return p, fmt.Errorf("invalid regex %q: %w", p.Value, err)
		}
		p.re = re
	case PredicateSection:
		if strings.TrimSpace(p.Value) == "" {
			return p, fmt.Errorf("section predicate needs a heading")
		}
		re, err := common.CompilePattern(`^\s*`+regexp.QuoteMeta(strings.TrimSpace(p.Value))+`\s*:(.*)$`, p.CaseSensitive)
		if err != nil {
			return p, err
		}
		p.re = re
	case PredicateMinLength, PredicateMaxLength:
		if p.Length <= 0 {
			return p, fmt.Errorf("%s predicate needs a positive length", p.Kind)
		}
	default:
		return p, fmt.Errorf("unknown predicate kind %q", p.Kind)
	}
	return p, nil
}

// Evaluate applies the predicate to text. The detail string explains a failure.
func (p Predicate) Evaluate(text string) (bool, string) {
	switch p.Kind {
	case PredicateContains:
		if p.contains(text) {
			return true, ""
		}
		return false, fmt.Sprintf("expected text %q not found", p.Value)
	case PredicateNotContains:
		if !p.contains(text) {
			return true, ""
		}
		return false, fmt.Sprintf("forbidden text %q present", p.Value)
	case PredicateRegex:
		if p.re != nil && p.re.MatchString(text) {
			return true, ""
		}
		return false, fmt.Sprintf("pattern %q not matched", p.Value)
	case PredicateNotRegex:
		if p.re != nil && !p.re.MatchString(text) {
			return true, ""
		}
		if p.re == nil {
			return false, "pattern not compiled"
		}
		return false, fmt.Sprintf("forbidden pattern %q matched %q", p.Value, p.re.FindString(text))
	case PredicateMinLength:
		n := utf8.RuneCountInString(strings.TrimSpace(text))
		if n >= p.Length {
			return true, ""
		}
		return false, fmt.Sprintf("note has %d characters, minimum is %d", n, p.Length)
	case PredicateMaxLength:
		n := utf8.RuneCountInString(strings.TrimSpace(text))
		if n <= p.Length {
			return true, ""
		}
		return false, fmt.Sprintf("note has %d characters, maximum is %d", n, p.Length)
	case PredicateSection:
		return p.section(text)
	}
	return false, fmt.Sprintf("unknown predicate kind %q", p.Kind)
}

func (p Predicate) contains(text string) bool {
	if p.CaseSensitive {
		return strings.Contains(text, p.Value)
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(p.Value))
}

// section passes when the heading exists and is followed by content, either
// on the heading line or on the next non-blank line that is not itself a heading.
func (p Predicate) section(text string) (bool, string) {
	if p.re == nil {
		return false, "section pattern not compiled"
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		m := p.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if strings.TrimSpace(m[1]) != "" {
			return true, ""
		}
		for _, next := range lines[i+1:] {
			if strings.TrimSpace(next) == "" {
				continue
			}
			if headingLine.MatchString(next) {
				break
			}
			return true, ""
		}
		return false, fmt.Sprintf("section %q is empty", p.Value)
	}
	return false, fmt.Sprintf("section %q missing", p.Value)
}

// Describe renders the predicate for display.
func (p Predicate) Describe() string {
	switch p.Kind {
	case PredicateMinLength, PredicateMaxLength:
		return fmt.Sprintf("%s %d", p.Kind, p.Length)
	default:
		return fmt.Sprintf("%s %q", p.Kind, p.Value)
	}
}
