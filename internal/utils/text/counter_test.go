package text_test

import (
	"testing"

	"catchup-pipeline/internal/utils/text"
)

// TestCountRunes tests the CountRunes function with various character types
func TestCountRunes(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int
	}{
		{
			name:     "ASCII text",
			input:    "hello",
			expected: 5,
		},
		{
			name:     "ASCII with spaces",
			input:    "hello world",
			expected: 11,
		},
		{
			name:     "accented text",
			input:    "café",
			expected: 4,
		},
		{
			name:     "ASCII with emoji",
			input:    "Hello👋",
			expected: 6,
		},
		{
			name:     "multiple emojis",
			input:    "🚀✨🤖💡",
			expected: 4,
		},
		{
			name:     "empty string",
			input:    "",
			expected: 0,
		},
		{
			name:     "whitespace only",
			input:    " \t\n ",
			expected: 4,
		},
		{
			name:     "punctuation",
			input:    "Hello, World!",
			expected: 13,
		},
		{
			name:     "cyrillic characters",
			input:    "Привет",
			expected: 6,
		},
		{
			name:     "zero-width space",
			input:    "hello​world",
			expected: 11,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := text.CountRunes(tt.input)
			if result != tt.expected {
				t.Errorf("CountRunes(%q) = %d, expected %d", tt.input, result, tt.expected)
			}
		})
	}
}

func TestCountWords(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int
	}{
		{"empty", "", 0},
		{"single word", "breaking", 1},
		{"sentence", "Seven hostages were handed over on Saturday.", 7},
		{"extra whitespace", "  a \n b\t c ", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := text.CountWords(tt.input); got != tt.expected {
				t.Errorf("CountWords(%q) = %d, expected %d", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFirstSentence(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"period", "Seven hostages were released. More may follow.", "Seven hostages were released."},
		{"question", "Will markets rally? Analysts disagree.", "Will markets rally?"},
		{"no terminator", "Headline without punctuation", "Headline without punctuation"},
		{"leading whitespace", "  Trimmed. Rest", "Trimmed."},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := text.FirstSentence(tt.input); got != tt.expected {
				t.Errorf("FirstSentence(%q) = %q, expected %q", tt.input, got, tt.expected)
			}
		})
	}
}

// BenchmarkCountRunes benchmarks the performance of CountRunes
func BenchmarkCountRunes(b *testing.B) {
	input := "Seven hostages were handed over to the Red Cross on Saturday 🚀"
	for i := 0; i < b.N; i++ {
		text.CountRunes(input)
	}
}
