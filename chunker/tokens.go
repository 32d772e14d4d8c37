package chunker

import (
	"unicode"
	"unicode/utf8"
)

func isWord(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// tokenStarts returns the byte offset at which each token of text begins.
// Whitespace-only text has no tokens.
func tokenStarts(text string) []int {
	var starts []int
	pos := skipSpace(text, 0)
	if pos == len(text) {
		return nil
	}
	starts = append(starts, 0)
	for {
		r, size := utf8.DecodeRuneInString(text[pos:])
		pos += size
		if isWord(r) {
			for pos < len(text) {
				r, size = utf8.DecodeRuneInString(text[pos:])
				if !isWord(r) {
					break
				}
				pos += size
			}
		}
		pos = skipSpace(text, pos)
		if pos == len(text) {
			return starts
		}
		starts = append(starts, pos)
	}
}

func skipSpace(text string, pos int) int {
	for pos < len(text) {
		r, size := utf8.DecodeRuneInString(text[pos:])
		if !unicode.IsSpace(r) {
			break
		}
		pos += size
	}
	return pos
}

// CountTokens returns the number of tokens in text.
func CountTokens(text string) int {
	return len(tokenStarts(text))
}
