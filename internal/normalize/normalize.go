// Package normalize cleans up names scraped from vendor charts so they line
// up with the reference service's spelling, and builds search keywords.
package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

//nolint:gochecknoglobals // Compiled patterns
var (
	trailingParen   = regexp.MustCompile(`^(.*)\(.*\)$`)
	lastParenGroup  = regexp.MustCompile(`\(.+\)$`)
	ostWithParen    = regexp.MustCompile(`(?i)^(.*ost.*)\(.*\)$`)
	parenBeforeOST  = regexp.MustCompile(`(?i)^(.*)\(.*\)(.*ost.*)$`)
	albumWord       = regexp.MustCompile(`(?i)^(.*\s)album(\s.*)?$`)
	featSection     = regexp.MustCompile(`(?i)^.*\(feat\.?.*\)`)
	bracketedGroup  = regexp.MustCompile(`^(.+?)\s*\[(.+)\]\s*$`)
	dropPunctuation = strings.NewReplacer("'", "", `"`, "", "`", "", "‘", "")
	foldCase        = cases.Fold()
	lowerCase       = cases.Lower(language.Und)
)

// Melonify rewrites a vendor name into the reference service's conventions:
// U+20A9 WON SIGN becomes U+FFE6 FULLWIDTH WON SIGN, quote characters are
// removed, and the result is NFC composed.
func Melonify(name string) string {
	name = strings.ReplaceAll(name, "₩", "￦")
	name = dropPunctuation.Replace(name)
	return norm.NFC.String(strings.TrimSpace(name))
}

// IsInstrumental reports whether a title carries an instrumental marker.
// The marker is the substring "inst" in any case, which covers "Inst.",
// "(Instrumental)" and vendor abbreviations alike.
func IsInstrumental(title string) bool {
	return strings.Contains(foldCase.String(title), "inst")
}

// StripTrailingParen removes one trailing parenthetical, e.g. a
// transliteration: "그룹(Group)" becomes "그룹". ok is false when nothing changed.
func StripTrailingParen(name string) (string, bool) {
	m := trailingParen.FindStringSubmatch(strings.TrimSpace(name))
	if m == nil {
		return name, false
	}
	return strings.TrimSpace(m[1]), true
}

// DropParens removes the final parenthetical group from an artist name. It
// is the last-resort retry of the resolver.
func DropParens(name string) (string, bool) {
	if !strings.Contains(name, "(") {
		return name, false
	}
	out := lastParenGroup.ReplaceAllString(name, "")
	return out, out != name
}

// StripParenNames applies StripTrailingParen to each name. changed reports
// whether any name was altered.
func StripParenNames(names []string) (out []string, changed bool) {
	out = make([]string, len(names))
	for i, n := range names {
		var ok bool
		out[i], ok = StripTrailingParen(n)
		if !ok {
			out[i] = strings.TrimSpace(n)
		}
		changed = changed || ok
	}
	return out, changed
}

// StripOSTParen removes parentheticals attached to soundtrack album names:
// "Goblin OST (Part 1)" and "Goblin (도깨비) OST Part 1" both lose the
// parenthetical.
func StripOSTParen(album string) string {
	if m := ostWithParen.FindStringSubmatch(album); m != nil {
		album = strings.TrimSpace(m[1])
	}
	if m := parenBeforeOST.FindStringSubmatch(album); m != nil {
		album = strings.Join(strings.Fields(m[1]+" "+m[2]), " ")
	}
	return album
}

// DropAlbumWord removes a standalone word "album" (any case) from a title
// such as "The 1st Album Love". ok is false when the word is absent.
func DropAlbumWord(name string) (string, bool) {
	m := albumWord.FindStringSubmatch(name)
	if m == nil {
		return name, false
	}
	return m[1] + m[2], true
}

// HasFeat reports whether a title has a "(feat...)" section.
func HasFeat(title string) bool {
	return featSection.MatchString(title)
}

// AmpToAnd replaces " & " with " and ", the reference service's spelling in
// titles.
func AmpToAnd(s string) string {
	return strings.ReplaceAll(s, " & ", " and ")
}

// Keyword joins the non-empty parts with spaces and lower-cases the result
// for use as a search query.
func Keyword(parts ...string) string {
	return lowerCase.String(strings.Join(strings.Fields(strings.Join(parts, " ")), " "))
}

// Unbracket rewrites "member[group]" as "member (group)". When the member
// part already has a parenthetical the bracketed group is dropped instead.
func Unbracket(name string) string {
	name = strings.TrimSpace(name)
	m := bracketedGroup.FindStringSubmatch(name)
	if m == nil {
		return name
	}
	if strings.Contains(m[1], "(") {
		return strings.TrimSpace(m[1])
	}
	return m[1] + " (" + m[2] + ")"
}

// FoldWidth maps fullwidth ASCII variants to their narrow forms, leaving
// Hangul and the fullwidth won sign alone. Used for search index keys.
func FoldWidth(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '！' && r <= '～' {
			b.WriteString(width.Narrow.String(string(r)))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
