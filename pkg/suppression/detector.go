package suppression

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/pawmark/trapper/pkg/models"
	"github.com/pawmark/trapper/pkg/tracing"
)

// Shared-identifier thresholds. Phones get a higher bar because family
// members legitimately share a phone more often than an email.
const (
	MinDistinctNamesEmail = 2
	MinDistinctNamesPhone = 3
)

// SharedIdentifier is one identifier value observed on multiple entities
// with distinct display names.
type SharedIdentifier struct {
	Type          models.IdentifierType `db:"id_type"`
	Value         string                `db:"value_normalized"`
	DistinctNames []string              `db:"-"`
}

// Store is the registry persistence the detector writes through
type Store interface {
	FindSharedIdentifiers(ctx context.Context, idType models.IdentifierType, minDistinctNames int) ([]SharedIdentifier, error)
	UpsertSoftEntry(ctx context.Context, idType models.IdentifierType, value string, distinctNames []string) error
}

// Detector populates the soft blacklist from identifiers shared across
// distinct display names. It runs as a periodic batch job, never on the
// online resolution path, and is idempotent.
type Detector struct {
	store  Store
	logger ectologger.Logger
}

// NewDetector creates a soft-blacklist detector
func NewDetector(store Store, logger ectologger.Logger) *Detector {
	return &Detector{store: store, logger: logger}
}

// Run scans for shared identifiers and upserts a soft entry for each. Hard
// entries are never touched; the upsert only creates or refreshes soft rows.
func (d *Detector) Run(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "suppression.Detector.Run")
	defer span.End()

	upserted := 0

	scans := []struct {
		idType models.IdentifierType
		min    int
	}{
		{models.IdentifierTypeEmail, MinDistinctNamesEmail},
		{models.IdentifierTypePhone, MinDistinctNamesPhone},
	}

	for _, scan := range scans {
		shared, err := d.store.FindSharedIdentifiers(ctx, scan.idType, scan.min)
		if err != nil {
			return upserted, err
		}

		for _, s := range shared {
			if err := d.store.UpsertSoftEntry(ctx, s.Type, s.Value, s.DistinctNames); err != nil {
				return upserted, err
			}
			upserted++
		}

		d.logger.WithContext(ctx).WithFields(map[string]any{
			"id_type": string(scan.idType),
			"count":   len(shared),
		}).Info("soft blacklist scan complete")
	}

	return upserted, nil
}

// NamesJSON renders the observed distinct names for storage on the entry
func NamesJSON(names []string) json.RawMessage {
	b, err := json.Marshal(names)
	if err != nil {
		return json.RawMessage("[]")
	}
	return b
}
