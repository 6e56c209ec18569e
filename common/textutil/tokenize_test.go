package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"high", "end", "4", "star"}, Tokenize("High-end, 4-star?"))
	assert.Equal(t, []string{"what", "s", "this"}, Tokenize("What's this"))
	assert.Empty(t, Tokenize(" ?! "))
}

func TestContainsPhrase(t *testing.T) {
	tokens := Tokenize("Hi there, thank you so much")
	tests := []struct {
		phrase string
		want   bool
	}{
		{"hi", true},
		{"thank you", true},
		{"you so", true},
		{"thanks", false},
		{"this", false},
		{"", false},
		{"thank you so much indeed", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ContainsPhrase(tokens, tt.phrase), tt.phrase)
	}
	// whole tokens only
	assert.False(t, ContainsPhrase(Tokenize("which headphones"), "hi"))
	assert.True(t, ContainsAny(Tokenize("premium sound"), "cheap", "premium"))
}
