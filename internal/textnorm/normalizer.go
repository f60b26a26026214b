// Package textnorm repairs OCR layout artifacts before template matching.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"piaoju/internal/template"
)

// verticalLabels are invoice labels that OCR often splits one character
// per line when the source prints them vertically. Each entry is the
// canonical joined form; the repair matches its characters separated by
// line breaks and rejoins them.
var verticalLabels = []string{
	"购买方",
	"销售方",
	"密码区",
	"备注",
	"价税合计",
	"开票日期",
	"发票号码",
	"发票代码",
	"机器编号",
	"校验码",
	"纳税人识别号",
}

var verticalRepairs = compileVerticalRepairs(verticalLabels)

type verticalRepair struct {
	pattern *regexp.Regexp
	joined  string
}

func compileVerticalRepairs(labels []string) []verticalRepair {
	repairs := make([]verticalRepair, 0, len(labels))
	for _, label := range labels {
		chars := []rune(label)
		parts := make([]string, len(chars))
		for i, c := range chars {
			parts[i] = regexp.QuoteMeta(string(c))
		}
		// Characters separated by at least one line break, with optional
		// surrounding horizontal padding.
		expr := strings.Join(parts, `[ \t]*[\r\n]+[ \t]*`)
		repairs = append(repairs, verticalRepair{
			pattern: regexp.MustCompile(expr),
			joined:  label,
		})
	}
	return repairs
}

// Normalize applies, in fixed order: vertical-label repair and width
// folding, whitespace collapse or removal, accent stripping, and
// lowercasing. The result is idempotent: normalizing already-normalized
// text returns it unchanged.
func Normalize(text string, opts template.ExtractionOptions) string {
	text = repairVertical(text)
	text = foldWidth(text)

	if opts.RemoveWhitespace {
		text = stripWhitespace(text)
	} else {
		text = collapseWhitespace(text)
	}

	if opts.RemoveAccents {
		text = StripAccents(text)
	}
	if opts.Lowercase {
		text = strings.ToLower(text)
	}
	return text
}

// repairVertical rejoins vertically split labels, repeating until no
// further replacement applies.
func repairVertical(text string) string {
	for {
		changed := false
		for _, r := range verticalRepairs {
			repaired := r.pattern.ReplaceAllString(text, r.joined)
			if repaired != text {
				text = repaired
				changed = true
			}
		}
		if !changed {
			return text
		}
	}
}

// foldWidth maps full-width ASCII variants to their half-width forms and
// the ideographic space to a plain space, so one pattern set matches both
// widths.
func foldWidth(text string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == 0x3000:
			return ' '
		case r >= 0xFF01 && r <= 0xFF5E:
			return r - 0xFEE0
		}
		return r
	}, text)
}

var whitespaceRun = regexp.MustCompile(`\s+`)

func collapseWhitespace(text string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
}

func stripWhitespace(text string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
}

// StripAccents removes combining marks: decompose, drop nonspacing marks,
// recompose.
func StripAccents(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return out
}
