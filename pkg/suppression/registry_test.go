package suppression

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawmark/trapper/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestSnapshot_Lookup(t *testing.T) {
	snap := NewSnapshot([]models.SuppressionEntry{
		{Type: models.IdentifierTypePhone, ValueNormalized: "5551234567", Tier: models.SuppressionTierHard},
		{Type: models.IdentifierTypeEmail, ValueNormalized: "shared@vetoffice.com", Tier: models.SuppressionTierSoft},
	})

	t.Run("hard phone entry", func(t *testing.T) {
		entry := snap.Lookup(models.IdentifierTypePhone, "5551234567")
		require.NotNil(t, entry)
		assert.Equal(t, models.SuppressionTierHard, entry.Tier)
		assert.True(t, snap.IsHard(models.IdentifierTypePhone, "5551234567"))
		assert.False(t, snap.IsSoft(models.IdentifierTypePhone, "5551234567"))
	})

	t.Run("soft email entry", func(t *testing.T) {
		assert.True(t, snap.IsSoft(models.IdentifierTypeEmail, "shared@vetoffice.com"))
		assert.False(t, snap.IsHard(models.IdentifierTypeEmail, "shared@vetoffice.com"))
	})

	t.Run("unknown value", func(t *testing.T) {
		assert.Nil(t, snap.Lookup(models.IdentifierTypeEmail, "jane@gmail.com"))
	})

	t.Run("type mismatch does not leak", func(t *testing.T) {
		assert.Nil(t, snap.Lookup(models.IdentifierTypeEmail, "5551234567"))
	})

	t.Run("empty value", func(t *testing.T) {
		assert.Nil(t, snap.Lookup(models.IdentifierTypePhone, ""))
	})
}

func TestSnapshot_Empty(t *testing.T) {
	snap := EmptySnapshot()
	assert.Equal(t, 0, snap.Len())
	assert.Nil(t, snap.Lookup(models.IdentifierTypePhone, "5551234567"))
}

type fakeStore struct {
	shared   map[models.IdentifierType][]SharedIdentifier
	upserted []SharedIdentifier
}

func (f *fakeStore) FindSharedIdentifiers(_ context.Context, idType models.IdentifierType, _ int) ([]SharedIdentifier, error) {
	return f.shared[idType], nil
}

func (f *fakeStore) UpsertSoftEntry(_ context.Context, idType models.IdentifierType, value string, names []string) error {
	f.upserted = append(f.upserted, SharedIdentifier{Type: idType, Value: value, DistinctNames: names})
	return nil
}

func TestDetector_Run(t *testing.T) {
	store := &fakeStore{
		shared: map[models.IdentifierType][]SharedIdentifier{
			models.IdentifierTypeEmail: {
				{Type: models.IdentifierTypeEmail, Value: "frontdesk@clinic.com", DistinctNames: []string{"jane doe", "bob smith"}},
			},
			models.IdentifierTypePhone: {
				{Type: models.IdentifierTypePhone, Value: "5559876543", DistinctNames: []string{"a", "b", "c"}},
			},
		},
	}

	detector := NewDetector(store, testLogger())
	n, err := detector.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, store.upserted, 2)

	t.Run("rerun is idempotent at the store boundary", func(t *testing.T) {
		n, err := detector.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}
