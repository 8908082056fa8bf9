// Package normalize canonicalizes raw contact fields into comparable forms
// for match indexing. All functions are pure; an empty result means the
// input carried no usable signal.
package normalize

import (
	"regexp"
	"strings"
	"unicode"
)

// Email lowercases and trims an email address. Returns "" when the value
// does not look like an address at all.
func Email(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.Contains(s, "@") {
		return ""
	}
	return s
}

// Phone reduces a phone number to its 10 significant digits. An 11-digit
// number with a leading country code 1 is accepted; anything else that is
// not exactly 10 digits normalizes to "".
func Phone(s string) string {
	digits := DigitsOnly(s)
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return ""
	}
	return digits
}

// nameSuffixes are honorifics and generational suffixes stripped before
// comparison. Order matters: dotted forms first.
var nameSuffixes = []string{" jr.", " jr", " sr.", " sr", " iii", " ii", " iv", " dvm", " phd", " md", " dds"}

// Name normalizes a display name for similarity comparison: lowercase,
// suffixes removed, diacritics folded, punctuation collapsed to spaces.
func Name(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	for _, suffix := range nameSuffixes {
		if strings.HasSuffix(s, suffix) {
			s = s[:len(s)-len(suffix)]
		}
	}

	var result strings.Builder
	prevSpace := false
	for _, r := range s {
		r = foldDiacritic(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
			prevSpace = false
		} else if !prevSpace && result.Len() > 0 {
			result.WriteRune(' ')
			prevSpace = true
		}
	}

	return strings.TrimSpace(result.String())
}

// addressReplacements maps long street and unit tokens to the short forms
// used for address comparison.
var addressReplacements = map[string]string{
	"street":    "st",
	"avenue":    "ave",
	"boulevard": "blvd",
	"drive":     "dr",
	"road":      "rd",
	"lane":      "ln",
	"court":     "ct",
	"circle":    "cir",
	"place":     "pl",
	"highway":   "hwy",
	"parkway":   "pkwy",
	"apartment": "apt",
	"suite":     "ste",
	"unit":      "unit",
	"north":     "n",
	"south":     "s",
	"east":      "e",
	"west":      "w",
}

var addressSpaceRe = regexp.MustCompile(`\s+`)

// Address normalizes a postal address: lowercase, punctuation stripped,
// directional and street-type tokens abbreviated, whitespace collapsed.
func Address(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}

	var cleaned strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cleaned.WriteRune(foldDiacritic(r))
		} else {
			cleaned.WriteRune(' ')
		}
	}

	tokens := strings.Fields(cleaned.String())
	for i, tok := range tokens {
		if abbr, ok := addressReplacements[tok]; ok {
			tokens[i] = abbr
		}
	}

	return addressSpaceRe.ReplaceAllString(strings.Join(tokens, " "), " ")
}

// DigitsOnly keeps only digit characters
func DigitsOnly(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// foldDiacritic maps common accented Latin letters onto their base letter.
// Matching only cares about the letters intake staff actually type.
func foldDiacritic(r rune) rune {
	switch r {
	case 'á', 'à', 'â', 'ä', 'ã', 'å':
		return 'a'
	case 'é', 'è', 'ê', 'ë':
		return 'e'
	case 'í', 'ì', 'î', 'ï':
		return 'i'
	case 'ó', 'ò', 'ô', 'ö', 'õ':
		return 'o'
	case 'ú', 'ù', 'û', 'ü':
		return 'u'
	case 'ñ':
		return 'n'
	case 'ç':
		return 'c'
	}
	return r
}
