package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Classification
		rule     string
	}{
		{"plain person", "jane doe", ClassLikelyPerson, "person_shaped"},
		{"single token person", "cher", ClassLikelyPerson, "person_shaped"},
		{"thrift store", "forgotten felines thrift store", ClassOrganization, "corporate_suffix"},
		{"llc suffix", "oak grove properties llc", ClassOrganization, "corporate_suffix"},
		{"clinic", "westside spay clinic", ClassOrganization, "corporate_suffix"},
		{"business keyword", "downtown parking garage", ClassOrganization, "business_keyword"},
		{"internal test account", "test account", ClassOrganization, "internal_account"},
		{"no name filler", "no name", ClassOrganization, "internal_account"},
		{"street address", "123 main st", ClassAddress, "leading_street_number"},
		{"street suffix no number", "old mill rd", ClassAddress, "street_suffix"},
		{"unit designator", "willow creek apt 4b", ClassAddress, "unit_designator"},
		{"apartment complex", "riverbend apartments", ClassApartmentComplex, "apartment_complex"},
		{"empty", "", ClassUnknown, ""},
		{"whitespace only", "   ", ClassUnknown, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DisplayName(tt.input)
			assert.Equal(t, tt.expected, result.Class)
			assert.Equal(t, tt.rule, result.Rule)
		})
	}
}

func TestResult_IsPerson(t *testing.T) {
	assert.True(t, DisplayName("jane doe").IsPerson())
	assert.False(t, DisplayName("riverbend apartments").IsPerson())
	assert.False(t, DisplayName("").IsPerson())
}

func TestRuleOrdering(t *testing.T) {
	// A numbered business name classifies as an address, not an
	// organization: the street-number rule runs first and both reject.
	result := DisplayName("4500 industrial blvd suite 12")
	assert.Equal(t, ClassAddress, result.Class)
}
