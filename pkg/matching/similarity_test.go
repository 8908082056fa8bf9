package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNameSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected float64
	}{
		{"identical", "jane doe", "jane doe", 1.0},
		{"token order ignored", "doe jane", "jane doe", 1.0},
		{"empty left", "", "jane doe", 0},
		{"empty right", "jane doe", "", 0},
		{"single char name", "j", "jane doe", 0},
		{"disjoint", "jane doe", "bob smith", 0.2222222222222222},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, NameSimilarity(tt.a, tt.b), 0.0001)
		})
	}

	t.Run("middle initial scores high", func(t *testing.T) {
		sim := NameSimilarity("jane doe", "jane b doe")
		assert.Greater(t, sim, 0.85)
	})

	t.Run("typo scores above threshold", func(t *testing.T) {
		sim := NameSimilarity("jane doe", "jane does")
		assert.Greater(t, sim, 0.8)
	})

	t.Run("symmetric", func(t *testing.T) {
		assert.InDelta(t, NameSimilarity("jane b doe", "jane doe"), NameSimilarity("jane doe", "jane b doe"), 0.0001)
	})
}

func TestLevenshteinDistance(t *testing.T) {
	assert.Equal(t, 0, levenshteinDistance("kitten", "kitten"))
	assert.Equal(t, 3, levenshteinDistance("kitten", "sitting"))
	assert.Equal(t, 6, levenshteinDistance("", "kitten"))
	assert.Equal(t, 6, levenshteinDistance("kitten", ""))
}
