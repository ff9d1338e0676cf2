// Package dispatch turns a normalized answer into outbound chat messages:
// block quoting, fixed-width chunking, attachment placement and strictly
// ordered delivery.
package dispatch

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Per-message ceilings, in characters.
const (
	CommandLimit = 4000
	MessageLimit = 2000
)

var lineBreak = regexp.MustCompile(`\r?\n`)

// Quote prefixes every line of text with a block quote marker. Lines that are
// blank after trimming become a bare marker.
func Quote(text string) string {
	lines := lineBreak.Split(text, -1)
	for i, l := range lines {
		if strings.TrimSpace(l) == "" {
			lines[i] = "> "
			continue
		}
		lines[i] = "> " + l
	}
	return strings.Join(lines, "\n")
}

// Split cuts text into consecutive pieces of at most max characters. It does
// not look for word or line boundaries; joining the pieces gives back text.
// Empty text yields no pieces.
func Split(text string, max int) []string {
	if text == "" {
		return nil
	}
	if max <= 0 {
		return []string{text}
	}
	out := make([]string, 0, utf8.RuneCountInString(text)/max+1)
	for text != "" {
		cut, n := 0, 0
		for cut < len(text) && n < max {
			_, size := utf8.DecodeRuneInString(text[cut:])
			cut += size
			n++
		}
		out = append(out, text[:cut])
		text = text[cut:]
	}
	return out
}

// urlSuffix renders URL-only image references as a trailing list.
func urlSuffix(urls []string) string {
	if len(urls) == 0 {
		return ""
	}
	return "\n\n" + strings.Join(urls, "\n")
}

// truncate keeps at most n characters of s.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
