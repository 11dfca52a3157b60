package scoring

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	bracketed   = regexp.MustCompile(`\s*[\(\[][^\)\]]*[\)\]]`)
	featuring   = regexp.MustCompile(`\s+(feat\.?|ft\.?|featuring)\s+.*$`)
	nonWordRuns = regexp.MustCompile(`[^\p{L}\p{N}]+`)
)

// Normalize folds an artist or title into the form used for comparison:
// lower case, no diacritics, no bracketed suffixes or featured artists, no
// punctuation and no leading article.
func Normalize(s string) string {
	folded := foldDiacritics(strings.ToLower(strings.TrimSpace(s)))

	stripped := bracketed.ReplaceAllString(folded, "")
	stripped = featuring.ReplaceAllString(stripped, "")
	out := collapse(stripped)
	if out == "" {
		// "(untitled)" and friends would otherwise vanish entirely
		out = collapse(folded)
	}

	if rest, ok := strings.CutPrefix(out, "the "); ok && rest != "" {
		out = rest
	}
	return out
}

func collapse(s string) string {
	s = strings.ReplaceAll(s, "&", " and ")
	return strings.TrimSpace(nonWordRuns.ReplaceAllString(s, " "))
}

func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
