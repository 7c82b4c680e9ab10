// Package normalize holds the pure string-cleaning helpers shared by the
// source adapters and the cache fingerprint. Everything here is deterministic
// and side-effect free so each rule can be tested on its own.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	yearPattern       = regexp.MustCompile(`(1[7-9]\d{2}|20\d{2})`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	safeQueryPattern  = regexp.MustCompile(`[^a-zA-Z0-9\s\.:,]`)
)

// leading articles rotated to the end for shelf sorting.
var articles = []string{"The ", "A ", "An "}

// minor words that stay lowercase in MLA title capitalization unless first
// or last.
var mlaMinorWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "but": true, "or": true,
	"for": true, "nor": true, "on": true, "at": true, "to": true, "from": true,
	"by": true, "in": true, "of": true, "off": true, "out": true, "up": true,
	"so": true, "yet": true,
}

// CleanTitle moves a leading article to the end: "The Hobbit" -> "Hobbit, The".
func CleanTitle(title string) string {
	for _, article := range articles {
		if strings.HasPrefix(title, article) {
			return title[len(article):] + ", " + strings.TrimSpace(article)
		}
	}
	return title
}

// CapitalizeTitleMLA capitalizes a title per MLA style: every word except
// interior minor words, with the first and last word always capitalized.
func CapitalizeTitleMLA(title string) string {
	if title == "" {
		return ""
	}
	words := strings.Fields(strings.ToLower(title))
	for i, word := range words {
		if i == 0 || i == len(words)-1 || !mlaMinorWords[word] {
			words[i] = capitalizeWord(word)
		}
	}
	return strings.Join(words, " ")
}

func capitalizeWord(w string) string {
	r := []rune(w)
	if len(r) == 0 {
		return w
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// CleanAuthor normalizes an author name to "Last, First Middle" spacing.
// Names without a comma pass through unchanged.
func CleanAuthor(author string) string {
	parts := strings.Split(author, ",")
	if len(parts) == 2 {
		return strings.TrimSpace(parts[0]) + ", " + strings.TrimSpace(parts[1])
	}
	return strings.TrimSpace(author)
}

// ExtractYear pulls the earliest plausible publication year (1700-2099) out
// of a free-form date string, e.g. "c1987." or "2001-2003". Returns "" when
// no year is present.
func ExtractYear(s string) string {
	matches := yearPattern.FindAllString(s, -1)
	if len(matches) == 0 {
		return ""
	}
	min := 0
	for _, m := range matches {
		y, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		if min == 0 || y < min {
			min = y
		}
	}
	if min == 0 {
		return ""
	}
	return strconv.Itoa(min)
}

// SafeQueryTerm strips characters that break provider query syntax while
// keeping word shape intact for fuzzy matching.
func SafeQueryTerm(s string) string {
	s = safeQueryPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

// CleanCallNumber collapses whitespace and strips trailing punctuation left
// over from MARC subfield separators.
func CleanCallNumber(s string) string {
	s = whitespacePattern.ReplaceAllString(strings.TrimSpace(s), " ")
	return strings.TrimRight(s, " ;/.")
}

// stripMarks removes combining marks after NFD decomposition, turning
// "Brontë" into "Bronte".
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold lower-cases, removes diacritics, drops punctuation, and collapses
// whitespace. It is the normalization behind cache fingerprints: two queries
// that differ only cosmetically must fold to the same string.
func Fold(s string) string {
	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(b.String(), " "))
}
