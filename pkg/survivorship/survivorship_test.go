package survivorship

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pawmark/trapper/pkg/models"
)

func TestRules_Resolve(t *testing.T) {
	rules := NewRules().Set(models.EntityKindPerson, "phone", "clinichq", "shelterluv", "webform")

	tests := []struct {
		name        string
		current     FieldValue
		incoming    FieldValue
		expectValue string
		incomingWon bool
	}{
		{
			name:        "incoming empty keeps current",
			current:     FieldValue{Value: "5551111111", Source: "webform"},
			incoming:    FieldValue{Value: "", Source: "clinichq"},
			expectValue: "5551111111",
		},
		{
			name:        "current empty adopts incoming",
			current:     FieldValue{Value: "", Source: ""},
			incoming:    FieldValue{Value: "5552222222", Source: "webform"},
			expectValue: "5552222222",
			incomingWon: true,
		},
		{
			name:        "higher priority incoming wins",
			current:     FieldValue{Value: "5551111111", Source: "webform"},
			incoming:    FieldValue{Value: "5552222222", Source: "clinichq"},
			expectValue: "5552222222",
			incomingWon: true,
		},
		{
			name:        "lower priority incoming loses",
			current:     FieldValue{Value: "5551111111", Source: "clinichq"},
			incoming:    FieldValue{Value: "5552222222", Source: "webform"},
			expectValue: "5551111111",
		},
		{
			name:        "same source tie keeps current",
			current:     FieldValue{Value: "5551111111", Source: "shelterluv"},
			incoming:    FieldValue{Value: "5552222222", Source: "shelterluv"},
			expectValue: "5551111111",
		},
		{
			name:        "unlisted incoming source loses to listed",
			current:     FieldValue{Value: "5551111111", Source: "webform"},
			incoming:    FieldValue{Value: "5552222222", Source: "mystery_import"},
			expectValue: "5551111111",
		},
		{
			name:        "listed incoming beats unlisted current",
			current:     FieldValue{Value: "5551111111", Source: "mystery_import"},
			incoming:    FieldValue{Value: "5552222222", Source: "webform"},
			expectValue: "5552222222",
			incomingWon: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			winner, decision := rules.Resolve(models.EntityKindPerson, "phone", tt.current, tt.incoming)
			assert.Equal(t, tt.expectValue, winner.Value)
			assert.Equal(t, tt.incomingWon, decision.IncomingWon)
			assert.Equal(t, winner.Source, decision.Winner)
			assert.NotEmpty(t, decision.Reason)
		})
	}
}

func TestRules_UnconfiguredFieldDefaults(t *testing.T) {
	rules := NewRules()

	t.Run("current non-empty wins regardless of source", func(t *testing.T) {
		winner, decision := rules.Resolve(models.EntityKindPerson, "email",
			FieldValue{Value: "old@x.com", Source: "webform"},
			FieldValue{Value: "new@x.com", Source: "clinichq"})
		assert.Equal(t, "old@x.com", winner.Value)
		assert.False(t, decision.IncomingWon)
	})

	t.Run("first non-empty wins", func(t *testing.T) {
		winner, _ := rules.Resolve(models.EntityKindPerson, "email",
			FieldValue{},
			FieldValue{Value: "new@x.com", Source: "webform"})
		assert.Equal(t, "new@x.com", winner.Value)
	})
}

func TestRules_Determinism(t *testing.T) {
	rules := DefaultRules()
	current := FieldValue{Value: "5551111111", Source: "shelterluv"}
	incoming := FieldValue{Value: "5552222222", Source: "clinichq"}

	first, firstDecision := rules.Resolve(models.EntityKindPerson, "phone", current, incoming)
	for i := 0; i < 10; i++ {
		again, againDecision := rules.Resolve(models.EntityKindPerson, "phone", current, incoming)
		assert.Equal(t, first, again)
		assert.Equal(t, firstDecision, againDecision)
	}
}

func TestDefaultRules_ClinicOutranksSelfReported(t *testing.T) {
	rules := DefaultRules()
	winner, _ := rules.Resolve(models.EntityKindPerson, "address",
		FieldValue{Value: "old addr", Source: "webform"},
		FieldValue{Value: "new addr", Source: "clinichq"})
	assert.Equal(t, "new addr", winner.Value)
}
