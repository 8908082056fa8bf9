package matching

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawmark/trapper/pkg/models"
	"github.com/pawmark/trapper/pkg/suppression"
)

func floatPtr(v float64) *float64 { return &v }

func TestScorer_Score(t *testing.T) {
	scorer := NewScorer(suppression.EmptySnapshot())

	cand := Candidate{
		EntityID:    "e1",
		DisplayName: "jane doe",
		Emails:      []string{"jane@gmail.com"},
		Phones:      []string{"5551234567"},
		Addresses: []CandidateAddress{
			{AddressNormalized: "123 main st", SourceSystem: "clinichq"},
		},
	}

	t.Run("all components hit", func(t *testing.T) {
		record := Record{
			SourceSystem: "clinichq",
			Email:        "jane@gmail.com",
			Phone:        "5551234567",
			Name:         "jane doe",
			Address:      "123 main st",
		}
		info := scorer.Score(record, cand)
		assert.InDelta(t, 1.0, info.Score, 0.0001)
		assert.ElementsMatch(t, []string{"email", "phone", "name", "address"}, info.MatchedOn)
		assert.InDelta(t, 0.40, info.Components["email"], 0.0001)
		assert.InDelta(t, 0.25, info.Components["phone"], 0.0001)
		assert.InDelta(t, 0.25, info.Components["name"], 0.0001)
		assert.InDelta(t, 0.10, info.Components["address"], 0.0001)
	})

	t.Run("email only", func(t *testing.T) {
		record := Record{SourceSystem: "webform", Email: "jane@gmail.com"}
		info := scorer.Score(record, cand)
		assert.InDelta(t, 0.40, info.Score, 0.0001)
		assert.Equal(t, []string{"email"}, info.MatchedOn)
	})

	t.Run("no signal", func(t *testing.T) {
		record := Record{SourceSystem: "webform", Email: "other@gmail.com", Phone: "5550000000"}
		info := scorer.Score(record, cand)
		assert.Zero(t, info.Score)
		assert.Empty(t, info.MatchedOn)
	})

	t.Run("cross source address gets partial credit", func(t *testing.T) {
		record := Record{SourceSystem: "shelterluv", Address: "123 main str"}
		info := scorer.Score(record, cand)
		assert.InDelta(t, 0.05, info.Components["address"], 0.0001)
	})

	t.Run("same source near address gets nothing", func(t *testing.T) {
		record := Record{SourceSystem: "clinichq", Address: "123 main str"}
		info := scorer.Score(record, cand)
		assert.Zero(t, info.Components["address"])
	})
}

func TestScorer_Suppression(t *testing.T) {
	cand := Candidate{
		EntityID:    "e1",
		DisplayName: "jane doe",
		Emails:      []string{"frontdesk@clinic.com"},
		Phones:      []string{"5551234567"},
		Addresses: []CandidateAddress{
			{AddressNormalized: "123 main st", SourceSystem: "clinichq"},
		},
	}

	t.Run("soft phone halves the weight", func(t *testing.T) {
		snap := suppression.NewSnapshot([]models.SuppressionEntry{
			{Type: models.IdentifierTypePhone, ValueNormalized: "5551234567", Tier: models.SuppressionTierSoft},
		})
		info := NewScorer(snap).Score(Record{Phone: "5551234567"}, cand)
		assert.InDelta(t, 0.125, info.Components["phone"], 0.0001)
	})

	t.Run("hard phone without corroboration scores zero", func(t *testing.T) {
		snap := suppression.NewSnapshot([]models.SuppressionEntry{
			{Type: models.IdentifierTypePhone, ValueNormalized: "5551234567", Tier: models.SuppressionTierHard},
		})
		info := NewScorer(snap).Score(Record{Phone: "5551234567"}, cand)
		assert.Zero(t, info.Components["phone"])
	})

	t.Run("hard phone with name corroboration scores full", func(t *testing.T) {
		snap := suppression.NewSnapshot([]models.SuppressionEntry{
			{
				Type:              models.IdentifierTypePhone,
				ValueNormalized:   "5551234567",
				Tier:              models.SuppressionTierHard,
				MinNameSimilarity: floatPtr(0.9),
			},
		})
		info := NewScorer(snap).Score(Record{Phone: "5551234567", Name: "jane doe"}, cand)
		assert.InDelta(t, 0.25, info.Components["phone"], 0.0001)
	})

	t.Run("hard phone requiring address match", func(t *testing.T) {
		snap := suppression.NewSnapshot([]models.SuppressionEntry{
			{
				Type:                models.IdentifierTypePhone,
				ValueNormalized:     "5551234567",
				Tier:                models.SuppressionTierHard,
				MinNameSimilarity:   floatPtr(0.9),
				RequireAddressMatch: true,
			},
		})
		scorer := NewScorer(snap)

		noAddr := scorer.Score(Record{Phone: "5551234567", Name: "jane doe"}, cand)
		assert.Zero(t, noAddr.Components["phone"])

		withAddr := scorer.Score(Record{Phone: "5551234567", Name: "jane doe", Address: "123 main st"}, cand)
		assert.InDelta(t, 0.25, withAddr.Components["phone"], 0.0001)
	})

	t.Run("soft email halves the weight", func(t *testing.T) {
		snap := suppression.NewSnapshot([]models.SuppressionEntry{
			{Type: models.IdentifierTypeEmail, ValueNormalized: "frontdesk@clinic.com", Tier: models.SuppressionTierSoft},
		})
		info := NewScorer(snap).Score(Record{Email: "frontdesk@clinic.com"}, cand)
		assert.InDelta(t, 0.20, info.Components["email"], 0.0001)
	})
}

func TestScorer_Rank(t *testing.T) {
	scorer := NewScorer(suppression.EmptySnapshot())
	record := Record{SourceSystem: "webform", Email: "jane@gmail.com", Name: "jane doe"}

	candidates := []Candidate{
		{EntityID: "e1", DisplayName: "jane doe", Emails: []string{"jane@gmail.com"}},
		{EntityID: "e2", DisplayName: "jane doe"},
		{EntityID: "e3", DisplayName: "someone else"},
	}

	ranked := scorer.Rank(record, candidates)
	require.Len(t, ranked, 3)
	assert.Equal(t, "e1", ranked[0].EntityID)
	assert.Equal(t, "e2", ranked[1].EntityID)
	assert.Greater(t, ranked[0].Score, ranked[1].Score)

	t.Run("zero score candidates are dropped", func(t *testing.T) {
		ranked := scorer.Rank(Record{SourceSystem: "webform", Phone: "5550000000"}, candidates)
		assert.Empty(t, ranked)
	})

	t.Run("capped at max candidates", func(t *testing.T) {
		var pool []Candidate
		for i := 0; i < 10; i++ {
			pool = append(pool, Candidate{
				EntityID:    fmt.Sprintf("e%02d", i),
				DisplayName: "jane doe",
			})
		}
		ranked := scorer.Rank(record, pool)
		assert.Len(t, ranked, MaxCandidates)
	})

	t.Run("ties break deterministically on entity id", func(t *testing.T) {
		pool := []Candidate{
			{EntityID: "b", DisplayName: "jane doe"},
			{EntityID: "a", DisplayName: "jane doe"},
		}
		ranked := scorer.Rank(record, pool)
		require.Len(t, ranked, 2)
		assert.Equal(t, "a", ranked[0].EntityID)
	})
}

