package classifier

import (
	"strings"
	"unicode"
)

var suffixes = []string{"ing", "ed", "ly", "s"}

// stem strips one common English suffix, keeping at least three letters.
func stem(word string) string {
	for _, suf := range suffixes {
		if strings.HasSuffix(word, suf) && len(word)-len(suf) >= 3 {
			return word[:len(word)-len(suf)]
		}
	}
	return word
}

func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func stemSet(lower string) map[string]struct{} {
	tokens := tokenize(lower)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[stem(t)] = struct{}{}
	}
	return set
}
