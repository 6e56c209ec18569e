package textutil

import (
	"strings"
	"unicode"
)

// Tokenize lower-cases s and splits it on every rune that is not a letter or
// a digit. "High-end, 4-star?" yields [high end 4 star].
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ContainsPhrase reports whether phrase, tokenized, occurs as a contiguous
// run in tokens.
func ContainsPhrase(tokens []string, phrase string) bool {
	want := Tokenize(phrase)
	if len(want) == 0 || len(want) > len(tokens) {
		return false
	}
	for i := 0; i+len(want) <= len(tokens); i++ {
		match := true
		for j, w := range want {
			if tokens[i+j] != w {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// ContainsAny reports whether any of phrases occurs in tokens.
func ContainsAny(tokens []string, phrases ...string) bool {
	for _, p := range phrases {
		if ContainsPhrase(tokens, p) {
			return true
		}
	}
	return false
}
