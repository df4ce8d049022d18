// Package prompt rewrites raw user prompts into cleaner generation prompts.
// The rewrite is deterministic text hygiene, not a model call, so the stored
// optimized_prompt fully explains what the provider actually received.
package prompt

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Optimizer normalizes prompts before provider submission.
type Optimizer struct {
	qualitySuffix string
	casers        map[string]cases.Caser
}

// NewOptimizer builds an optimizer with the default quality suffix.
func NewOptimizer() *Optimizer {
	return &Optimizer{
		qualitySuffix: "high quality, detailed",
		casers: map[string]cases.Caser{
			"en": cases.Upper(language.English),
			"id": cases.Upper(language.Indonesian),
			"ja": cases.Upper(language.Japanese),
			"es": cases.Upper(language.Spanish),
		},
	}
}

// Optimize cleans up the prompt and reports whether anything changed. The
// locale selects the casing rules for the leading character; unknown locales
// fall back to English.
func (o *Optimizer) Optimize(raw, locale string) (string, bool) {
	cleaned := collapseWhitespace(strings.TrimSpace(raw))
	if cleaned == "" {
		return raw, false
	}

	cleaned = o.capitalize(cleaned, locale)

	if !o.hasQualityHint(cleaned) {
		cleaned = strings.TrimRight(cleaned, " ,.") + ", " + o.qualitySuffix
	}

	return cleaned, cleaned != raw
}

func (o *Optimizer) capitalize(s, locale string) string {
	caser, ok := o.casers[locale]
	if !ok {
		caser = o.casers["en"]
	}
	runes := []rune(s)
	head := caser.String(string(runes[0]))
	return head + string(runes[1:])
}

func (o *Optimizer) hasQualityHint(s string) bool {
	lower := strings.ToLower(s)
	for _, hint := range []string{"high quality", "detailed", "4k", "8k", "masterpiece", "best quality"} {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
