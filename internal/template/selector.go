package template

import "strings"

// Select returns the best-matching template for normalized text. A template
// is a candidate when any of its keywords occurs as a substring of the
// text. Candidates are ranked by priority, ties resolved to the
// lexicographically smallest identifier. When nothing matches, the built-in
// Fallback is returned, so selection never fails.
func Select(text string, templates []*ExtractionTemplate) *ExtractionTemplate {
	best := Fallback
	for _, tpl := range templates {
		if !matchesKeyword(text, tpl.Keywords) {
			continue
		}
		if tpl.Priority > best.Priority || (tpl.Priority == best.Priority && tpl.ID < best.ID) {
			best = tpl
		}
	}
	return best
}

func matchesKeyword(text string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
