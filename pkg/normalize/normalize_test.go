package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhone(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"formatted", "(555) 123-4567", "5551234567"},
		{"dotted", "555.123.4567", "5551234567"},
		{"leading country code", "1-555-123-4567", "5551234567"},
		{"plus one", "+1 555 123 4567", "5551234567"},
		{"bare ten digits", "5551234567", "5551234567"},
		{"too short", "123-4567", ""},
		{"eleven digits no leading one", "25551234567", ""},
		{"empty", "", ""},
		{"letters only", "call me", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Phone(tt.input))
		})
	}
}

func TestEmail(t *testing.T) {
	assert.Equal(t, "jane.doe@example.org", Email("  Jane.Doe@Example.ORG "))
	assert.Equal(t, "", Email("not an email"))
	assert.Equal(t, "", Email(""))
}

func TestName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple", "Jane Doe", "jane doe"},
		{"suffix stripped", "John Smith Jr.", "john smith"},
		{"dvm stripped", "Sarah Chen DVM", "sarah chen"},
		{"punctuation collapsed", "Mary-Anne O'Brien", "mary anne o brien"},
		{"diacritics folded", "José Muñoz", "jose munoz"},
		{"extra whitespace", "  Jane   Doe  ", "jane doe"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Name(tt.input))
		})
	}
}

func TestAddress(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"street abbreviated", "123 Main Street", "123 main st"},
		{"directional and type", "45 North Oak Avenue", "45 n oak ave"},
		{"apartment", "123 Main St, Apartment 4B", "123 main st apt 4b"},
		{"already short", "123 Main St", "123 main st"},
		{"punctuation stripped", "123 Main St., #4", "123 main st 4"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Address(tt.input))
		})
	}
}

func TestIsPlaceholderEmail(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"real address", "jane.doe@gmail.com", false},
		{"info prefix", "info@catclinic.com", true},
		{"office prefix", "office@shelter.org", true},
		{"fabricated domain", "jane@noemail.com", true},
		{"ordinary custom domain", "j.doe@example.com", false},
		{"filler local part", "none@gmail.com", true},
		{"empty", "", true},
		{"no local part", "@gmail.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsPlaceholderEmail(tt.input))
		})
	}
}
