// Package canonical turns diocese and church display names into matching keys.
//
// Every function here is pure: the same input always yields the same key, and
// applying a function to its own output returns that output unchanged.
package canonical

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Prefixes are written in normalized form (lowercase, no diacritics) and end with a space.
var diocesePrefixes = byLengthDesc([]string{
	"roman catholic metropolitan archdiocese of ",
	"roman catholic archdiocese of ",
	"roman catholic diocese of ",
	"catholic archdiocese of ",
	"catholic diocese of ",
	"metropolitan archdiocese of ",
	"archdiocese of ",
	"diocese of ",
	"apostolic vicariate of ",
	"apostolic prefecture of ",
	"territorial prelature of ",
	"military ordinariate of ",
	"keuskupan agung ",
	"keuskupan ",
	"vikariat apostolik ",
	"prefektur apostolik ",
	"ordinariat militer ",
	"arquidiocesis de ",
	"diocesis de ",
	"arquidiocese de ",
	"diocese de ",
	"archidiocese de ",
	"arcidiocesi di ",
	"diocesi di ",
	"erzbistum ",
	"bistum ",
})

var churchPrefixes = byLengthDesc([]string{
	"gereja ",
	"paroki ",
	"church of ",
	"cathedral of ",
	"basilica of ",
})

// churchQualifiers mark an older display name of the same church ("lama" is
// Indonesian for former).
var churchQualifiers = []string{" lama"}

// dioceseAliases collapse known irregular or historical names onto one spelling.
// Values must already be canonical and must not be keys themselves.
var dioceseAliases = map[string]string{
	"djakarta":       "jakarta",
	"ujung pandang":  "makassar",
	"ujungpandang":   "makassar",
	"bandar lampung": "tanjungkarang",
	"tanjung karang": "tanjungkarang",
	"waitabula":      "weetebula",
	"djokjakarta":    "semarang",
}

var dashVariants = strings.NewReplacer(
	"‐", "-", // hyphen
	"‑", "-", // non-breaking hyphen
	"‒", "-", // figure dash
	"–", "-", // en dash
	"—", "-", // em dash
	"―", "-", // horizontal bar
	"−", "-", // minus sign
	"﹘", "-",
	"﹣", "-",
	"－", "-",
)

var (
	spaceRun        = regexp.MustCompile(`\s+`)
	spaceAroundDash = regexp.MustCompile(`\s*-\s*`)
	coCathedral     = regexp.MustCompile(`\b(?:co|ko)-?\s?(?:cathedral|katedral)\b`)
)

// DioceseName canonicalizes a diocese display name.
func DioceseName(raw string) string {
	s := normalize(raw)
	s = stripPrefixes(s, diocesePrefixes)
	if alias, ok := dioceseAliases[s]; ok {
		s = alias
	}
	return collapseDashes(s)
}

// ChurchName canonicalizes a church display name.
func ChurchName(raw string) string {
	s := normalize(raw)
	s = stripPrefixes(s, churchPrefixes)
	s = coCathedral.ReplaceAllString(s, "co-cathedral")
	s = stripSuffixes(s, churchQualifiers)
	return collapseDashes(s)
}

// NameQuality scores a display name; longer names and names carrying a church
// keyword win when two source rows compete for the same identity.
func NameQuality(name string) int {
	folded := normalize(name)
	score := utf8.RuneCountInString(strings.TrimSpace(name))
	if strings.Contains(folded, "cathedral") || strings.Contains(folded, "katedral") {
		score += 30
	}
	if strings.Contains(folded, "church") || strings.Contains(folded, "gereja") {
		score += 20
	}
	if strings.Contains(folded, "parish") || strings.Contains(folded, "paroki") {
		score += 15
	}
	return score
}

// normalize folds diacritics, lowercases, unifies dashes and reduces every run of
// characters outside [letter digit space . -] to one space.
func normalize(raw string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, raw)
	if err != nil {
		folded = raw
	}
	folded = strings.ToLower(dashVariants.Replace(folded))

	var b strings.Builder
	b.Grow(len(folded))
	inJunk := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-' || unicode.IsSpace(r) {
			b.WriteRune(r)
			inJunk = false
			continue
		}
		if !inJunk {
			b.WriteRune(' ')
			inJunk = true
		}
	}

	return collapseDashes(b.String())
}

func collapseDashes(s string) string {
	s = spaceRun.ReplaceAllString(strings.TrimSpace(s), " ")
	return spaceAroundDash.ReplaceAllString(s, "-")
}

// stripPrefixes removes leading prefixes until none applies, keeping at least one character.
func stripPrefixes(s string, prefixes []string) string {
	for {
		stripped := false
		for _, prefix := range prefixes {
			if strings.HasPrefix(s, prefix) && len(s) > len(prefix) {
				s = strings.TrimSpace(s[len(prefix):])
				stripped = true
				break
			}
		}
		if !stripped {
			return s
		}
	}
}

func stripSuffixes(s string, suffixes []string) string {
	for {
		stripped := false
		for _, suffix := range suffixes {
			if strings.HasSuffix(s, suffix) && len(s) > len(suffix) {
				s = strings.TrimSpace(s[:len(s)-len(suffix)])
				stripped = true
				break
			}
		}
		if !stripped {
			return s
		}
	}
}

func byLengthDesc(prefixes []string) []string {
	sorted := append([]string(nil), prefixes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i]) > len(sorted[j])
	})
	return sorted
}
