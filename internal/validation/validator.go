package validation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is a single finding about a translated unit. Errors mark the unit
// failed; warnings are recorded but the translation is still persisted.
type Issue struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

var placeholderPattern = regexp.MustCompile(`%(?:\d+\$)?[sdif]`)

// minimum rune count before language detection is trustworthy enough to warn
const langDetectMinLength = 25

// Validator checks provider output against the source text. Stateless.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// Validate inspects a single source/translation pair. key is the unit's
// natural-language key, used only in messages.
func (v *Validator) Validate(source, translated, key, targetLang string) []Issue {
	var issues []Issue

	if strings.TrimSpace(translated) == "" {
		if strings.TrimSpace(source) == "" {
			return nil
		}
		return []Issue{{
			Severity: SeverityError,
			Message:  fmt.Sprintf("unit %s: translation is empty", key),
		}}
	}

	if issue := v.checkPlaceholders(source, translated, key); issue != nil {
		issues = append(issues, *issue)
	}
	if issue := v.checkLanguage(translated, key, targetLang); issue != nil {
		issues = append(issues, *issue)
	}
	if issue := v.checkLengthRatio(source, translated, key); issue != nil {
		issues = append(issues, *issue)
	}

	return issues
}

// HasErrors reports whether any issue is severity error.
func HasErrors(issues []Issue) bool {
	for _, issue := range issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

// checkPlaceholders verifies every printf-style placeholder from the source
// survives in the translation (order-insensitive: languages reorder freely).
func (v *Validator) checkPlaceholders(source, translated, key string) *Issue {
	want := placeholderPattern.FindAllString(source, -1)
	got := placeholderPattern.FindAllString(translated, -1)
	sort.Strings(want)
	sort.Strings(got)

	if strings.Join(want, ",") != strings.Join(got, ",") {
		return &Issue{
			Severity: SeverityError,
			Message: fmt.Sprintf("unit %s: placeholder mismatch, source has [%s] but translation has [%s]",
				key, strings.Join(want, " "), strings.Join(got, " ")),
		}
	}
	return nil
}

// checkLanguage warns when the detected language of the translation clearly
// disagrees with the target. Short strings are skipped: detection is noise.
func (v *Validator) checkLanguage(translated, key, targetLang string) *Issue {
	if utf8.RuneCountInString(translated) < langDetectMinLength {
		return nil
	}

	info := whatlanggo.Detect(translated)
	if !info.IsReliable() {
		return nil
	}

	detected := info.Lang.Iso6391()
	target := baseLang(targetLang)
	if detected == "" || target == "" || detected == target {
		return nil
	}
	return &Issue{
		Severity: SeverityWarning,
		Message:  fmt.Sprintf("unit %s: translation looks like %q, expected %q", key, detected, target),
	}
}

// checkLengthRatio warns on extreme expansion or contraction of longer texts.
func (v *Validator) checkLengthRatio(source, translated, key string) *Issue {
	srcLen := utf8.RuneCountInString(source)
	dstLen := utf8.RuneCountInString(translated)
	if srcLen < 20 || dstLen == 0 {
		return nil
	}

	ratio := float64(dstLen) / float64(srcLen)
	if ratio > 3 || ratio < 1.0/3 {
		return &Issue{
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("unit %s: suspicious length ratio %.2f", key, ratio),
		}
	}
	return nil
}

func baseLang(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		return lang[:i]
	}
	return lang
}
