// Package classify decides which document items of an e-book are chapters
// worth narrating. Selection is driven by an ordered list of named rules so
// the heuristic can be swapped or extended without touching the pipeline.
package classify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/virinci/audiblez/internal/ebook"
)

// Rule is a single named predicate over a lowercased item name.
type Rule struct {
	Name  string
	match func(name string) bool
}

// Matches reports whether the rule matches the given item name. Matching is
// case-insensitive.
func (r Rule) Matches(name string) bool {
	return r.match(strings.ToLower(name))
}

// Substring returns a rule matching any name containing sub.
func Substring(name, sub string) Rule {
	return Rule{Name: name, match: func(s string) bool { return strings.Contains(s, sub) }}
}

// Pattern returns a rule matching names against a regular expression.
func Pattern(name, expr string) Rule {
	re := regexp.MustCompile(expr)
	return Rule{Name: name, match: re.MatchString}
}

// DefaultRules is the full chapter heuristic.
var DefaultRules = []Rule{
	Substring("chapter-substring", "chapter"),
	Pattern("part-number", `part\d{1,3}`),
	Pattern("ch-number", `ch\d{1,3}`),
	Pattern("chap-number", `chap\d{1,3}`),
}

// LegacyRules is the older variant of the heuristic, without the chap-number
// pattern. Kept selectable for books that were originally converted with it.
var LegacyRules = []Rule{
	Substring("chapter-substring", "chapter"),
	Pattern("part-number", `part\d{1,3}`),
	Pattern("ch-number", `ch\d{1,3}`),
}

// RuleSet resolves a named rule set.
func RuleSet(name string) ([]Rule, error) {
	switch name {
	case "", "default":
		return DefaultRules, nil
	case "legacy":
		return LegacyRules, nil
	default:
		return nil, fmt.Errorf("unknown chapter rule set %q (valid sets: default, legacy)", name)
	}
}

// Classify returns the document items selected as chapters, as an
// order-preserving subsequence of items. If no rule matches any document the
// selection widens to every document item: an audiobook with zero chapters is
// never a valid outcome.
func Classify(items []ebook.Item, rules []Rule) []ebook.Item {
	var docs []ebook.Item
	for _, it := range items {
		if it.Kind == ebook.KindDocument {
			docs = append(docs, it)
			log.Debug("Chapter candidate", "name", it.Name, "bytes", len(it.RawBody))
		}
	}

	var chapters []ebook.Item
	for _, it := range docs {
		if matchesAny(it.Name, rules) {
			chapters = append(chapters, it)
		}
	}

	if len(chapters) == 0 {
		log.Info("Not easy to find the chapters, defaulting to all available documents")
		return docs
	}
	return chapters
}

func matchesAny(name string, rules []Rule) bool {
	for _, r := range rules {
		if r.Matches(name) {
			return true
		}
	}
	return false
}
