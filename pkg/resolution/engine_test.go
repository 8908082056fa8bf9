package resolution

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawmark/trapper/pkg/database"
	"github.com/pawmark/trapper/pkg/matching"
	"github.com/pawmark/trapper/pkg/models"
	"github.com/pawmark/trapper/pkg/suppression"
	"github.com/pawmark/trapper/pkg/survivorship"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeTx struct{}

func (fakeTx) IsOpen() bool { return true }
func (fakeTx) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return nil, nil
}
func (fakeTx) GetContext(context.Context, any, string, ...any) error {
	return errors.New("sql: no rows in result set")
}
func (fakeTx) SelectContext(context.Context, any, string, ...any) error { return nil }
func (fakeTx) Commit(context.Context) error                             { return nil }
func (fakeTx) Rollback(context.Context) error                           { return nil }

type fakeDB struct{}

func (fakeDB) GetTx(ctx context.Context, _ *sql.TxOptions) (context.Context, database.Tx, error) {
	return ctx, fakeTx{}, nil
}

type storedIdentifier struct {
	idType     models.IdentifierType
	value      string
	source     string
	confidence float64
}

type storedEntity struct {
	entity      models.CanonicalEntity
	identifiers []storedIdentifier
	addresses   []matching.CandidateAddress
}

type fakeEntities struct {
	byID    map[string]*storedEntity
	seq     int
	created int
}

func newFakeEntities() *fakeEntities {
	return &fakeEntities{byID: map[string]*storedEntity{}}
}

func (f *fakeEntities) seed(name, normalizedName string, ids []storedIdentifier, addrs []matching.CandidateAddress) string {
	f.seq++
	id := fmt.Sprintf("seed-%d", f.seq)
	prov, _ := json.Marshal(models.ProvenanceMap{
		"display_name": {Source: "legacy_spreadsheet", UpdatedAt: time.Now().UTC()},
	})
	f.byID[id] = &storedEntity{
		entity: models.CanonicalEntity{
			ID:             id,
			Kind:           models.EntityKindPerson,
			DisplayName:    name,
			NameNormalized: normalizedName,
			Provenance:     prov,
		},
		identifiers: ids,
		addresses:   addrs,
	}
	return id
}

func (f *fakeEntities) Get(_ context.Context, id string) (*models.CanonicalEntity, error) {
	stored, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("entity %s not found", id)
	}
	entity := stored.entity
	return &entity, nil
}

func (f *fakeEntities) ActiveIdentifierOwner(_ context.Context, idType models.IdentifierType, value string) (*models.CanonicalEntity, error) {
	for _, stored := range f.byID {
		for _, id := range stored.identifiers {
			if id.idType == idType && id.value == value {
				entity := stored.entity
				return &entity, nil
			}
		}
	}
	return nil, nil
}

func (f *fakeEntities) FindCandidates(_ context.Context, _ models.EntityKind, email, phone, address string) ([]matching.Candidate, error) {
	var out []matching.Candidate
	for _, stored := range f.byID {
		match := false
		for _, id := range stored.identifiers {
			if (email != "" && id.idType == models.IdentifierTypeEmail && id.value == email) ||
				(phone != "" && id.idType == models.IdentifierTypePhone && id.value == phone) {
				match = true
			}
		}
		if address != "" {
			for _, addr := range stored.addresses {
				if addr.AddressNormalized == address {
					match = true
				}
			}
		}
		if !match {
			continue
		}

		cand := matching.Candidate{
			EntityID:    stored.entity.ID,
			DisplayName: stored.entity.NameNormalized,
			Addresses:   stored.addresses,
		}
		for _, id := range stored.identifiers {
			switch id.idType {
			case models.IdentifierTypeEmail:
				cand.Emails = append(cand.Emails, id.value)
			case models.IdentifierTypePhone:
				cand.Phones = append(cand.Phones, id.value)
			}
		}
		out = append(out, cand)
	}
	return out, nil
}

func (f *fakeEntities) CreateWithDedup(ctx context.Context, req *models.CreateEntityRequest) (*models.CanonicalEntity, bool, error) {
	for _, check := range []struct {
		idType models.IdentifierType
		value  string
	}{
		{models.IdentifierTypeEmail, req.Email},
		{models.IdentifierTypePhone, req.Phone},
	} {
		if check.value == "" {
			continue
		}
		if existing, _ := f.ActiveIdentifierOwner(ctx, check.idType, check.value); existing != nil {
			return existing, false, nil
		}
	}

	f.seq++
	f.created++
	id := fmt.Sprintf("ent-%d", f.seq)
	prov, _ := json.Marshal(models.ProvenanceMap{
		"display_name": {Source: req.SourceSystem, UpdatedAt: time.Now().UTC()},
	})
	stored := &storedEntity{
		entity: models.CanonicalEntity{
			ID:             id,
			Kind:           req.Kind,
			DisplayName:    req.DisplayName,
			NameNormalized: strings.ToLower(req.DisplayName),
			Provenance:     prov,
		},
	}
	if req.Email != "" {
		stored.identifiers = append(stored.identifiers, storedIdentifier{models.IdentifierTypeEmail, req.Email, req.SourceSystem, 1.0})
	}
	if req.Phone != "" {
		stored.identifiers = append(stored.identifiers, storedIdentifier{models.IdentifierTypePhone, req.Phone, req.SourceSystem, 1.0})
	}
	if req.Address != "" {
		stored.addresses = append(stored.addresses, matching.CandidateAddress{AddressNormalized: req.Address, SourceSystem: req.SourceSystem})
	}
	f.byID[id] = stored
	entity := stored.entity
	return &entity, true, nil
}

func (f *fakeEntities) AttachIdentifier(_ context.Context, entityID string, idType models.IdentifierType, value, _, source string, confidence float64) error {
	stored, ok := f.byID[entityID]
	if !ok {
		return fmt.Errorf("entity %s not found", entityID)
	}
	for i, id := range stored.identifiers {
		if id.idType == idType && id.value == value && id.source == source {
			if confidence > id.confidence {
				stored.identifiers[i].confidence = confidence
			}
			return nil
		}
	}
	stored.identifiers = append(stored.identifiers, storedIdentifier{idType, value, source, confidence})
	return nil
}

func (f *fakeEntities) AddAddress(_ context.Context, entityID, normalized, _, source string) error {
	stored, ok := f.byID[entityID]
	if !ok {
		return fmt.Errorf("entity %s not found", entityID)
	}
	for _, addr := range stored.addresses {
		if addr.AddressNormalized == normalized && addr.SourceSystem == source {
			return nil
		}
	}
	stored.addresses = append(stored.addresses, matching.CandidateAddress{AddressNormalized: normalized, SourceSystem: source})
	return nil
}

func (f *fakeEntities) UpdateSurvivedFields(_ context.Context, entityID string, displayName *string, provenance models.ProvenanceMap) error {
	stored, ok := f.byID[entityID]
	if !ok {
		return fmt.Errorf("entity %s not found", entityID)
	}
	if displayName != nil {
		stored.entity.DisplayName = *displayName
	}
	prov, _ := json.Marshal(provenance)
	stored.entity.Provenance = prov
	return nil
}

type fakeDecisions struct {
	decisions []models.MatchDecision
	reviews   []models.ReviewItem
}

func (f *fakeDecisions) Create(_ context.Context, decision *models.MatchDecision) (*models.MatchDecision, error) {
	decision.ID = fmt.Sprintf("dec-%d", len(f.decisions)+1)
	decision.CreatedAt = time.Now().UTC()
	f.decisions = append(f.decisions, *decision)
	return decision, nil
}

func (f *fakeDecisions) EnqueueReview(_ context.Context, decisionID string, entityID *string, score float64) (*models.ReviewItem, error) {
	item := models.ReviewItem{
		ID:         fmt.Sprintf("rev-%d", len(f.reviews)+1),
		DecisionID: decisionID,
		EntityID:   entityID,
		Score:      score,
		Status:     models.ReviewStatusOpen,
	}
	f.reviews = append(f.reviews, item)
	return &item, nil
}

type fakeOrgs struct {
	byName map[string]*models.Organization
}

func (f *fakeOrgs) GetByName(_ context.Context, name string) (*models.Organization, error) {
	if f.byName == nil {
		return nil, nil
	}
	return f.byName[name], nil
}

type fakeRegistry struct {
	snapshot *suppression.Snapshot
}

func (f *fakeRegistry) Snapshot(context.Context) (*suppression.Snapshot, error) {
	return f.snapshot, nil
}

type testHarness struct {
	engine    *Engine
	entities  *fakeEntities
	decisions *fakeDecisions
	orgs      *fakeOrgs
}

func newHarness(snapshot *suppression.Snapshot) *testHarness {
	entities := newFakeEntities()
	decisions := &fakeDecisions{}
	orgs := &fakeOrgs{}
	engine := NewEngine(testLogger(), fakeDB{}, entities, decisions, orgs, &fakeRegistry{snapshot}, survivorship.DefaultRules())
	return &testHarness{engine: engine, entities: entities, decisions: decisions, orgs: orgs}
}

func TestEngine_NewEntityThenAutoMatch(t *testing.T) {
	h := newHarness(suppression.EmptySnapshot())
	req := &models.ResolveRequest{
		SourceSystem: "webform",
		FirstName:    "Jane",
		LastName:     "Doe",
		Email:        "j.doe@example.com",
	}

	first, err := h.engine.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeNewEntity, first.Outcome)
	require.NotNil(t, first.EntityID)
	assert.Equal(t, 1, h.entities.created)

	stored := h.entities.byID[*first.EntityID]
	require.Len(t, stored.identifiers, 1)
	assert.Equal(t, models.IdentifierTypeEmail, stored.identifiers[0].idType)
	assert.Equal(t, 1.0, stored.identifiers[0].confidence)

	second, err := h.engine.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAutoMatch, second.Outcome)
	assert.Equal(t, *first.EntityID, *second.EntityID)
	assert.GreaterOrEqual(t, second.Confidence, 0.95)
	assert.Equal(t, 1, h.entities.created, "repeat submission must not create a duplicate")

	assert.Len(t, h.decisions.decisions, 2, "every call writes exactly one decision")
}

func TestEngine_HardBlacklistedPhoneRejected(t *testing.T) {
	snapshot := suppression.NewSnapshot([]models.SuppressionEntry{
		{Type: models.IdentifierTypePhone, ValueNormalized: "7075767999", Tier: models.SuppressionTierHard},
	})
	h := newHarness(snapshot)

	res, err := h.engine.Resolve(context.Background(), &models.ResolveRequest{
		SourceSystem: "clinichq",
		FirstName:    "John",
		LastName:     "Smith",
		Phone:        "(707) 576-7999",
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeRejected, res.Outcome)
	assert.Nil(t, res.EntityID)
	assert.Equal(t, 0, h.entities.created)
	assert.Len(t, h.decisions.decisions, 1)
}

func TestEngine_HardBlacklistWithZeroThresholdStillRejects(t *testing.T) {
	// Rows read back from the registry can carry an explicit zero threshold
	// instead of NULL; that is not a corroboration override.
	zero := 0.0
	snapshot := suppression.NewSnapshot([]models.SuppressionEntry{
		{Type: models.IdentifierTypePhone, ValueNormalized: "7075767999", Tier: models.SuppressionTierHard, MinNameSimilarity: &zero},
	})
	h := newHarness(snapshot)

	res, err := h.engine.Resolve(context.Background(), &models.ResolveRequest{
		SourceSystem: "clinichq",
		FirstName:    "John",
		LastName:     "Smith",
		Phone:        "(707) 576-7999",
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeRejected, res.Outcome)
	assert.Nil(t, res.EntityID)
	assert.Equal(t, 0, h.entities.created)
}

func TestEngine_DuplicateGuardSameNameSameAddress(t *testing.T) {
	h := newHarness(suppression.EmptySnapshot())
	existingID := h.entities.seed("Jane B. Doe", "jane b doe", nil, []matching.CandidateAddress{
		{AddressNormalized: "123 main st", SourceSystem: "clinichq"},
	})

	res, err := h.engine.Resolve(context.Background(), &models.ResolveRequest{
		SourceSystem: "webform",
		FirstName:    "Jane",
		LastName:     "Doe",
		Address:      "123 Main Street",
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeNeedsReview, res.Outcome)
	require.NotNil(t, res.EntityID)
	assert.Equal(t, existingID, *res.EntityID)
	assert.Equal(t, 0, h.entities.created)
	assert.Empty(t, h.entities.byID[existingID].identifiers, "no identifiers fabricated")

	require.Len(t, h.decisions.reviews, 1)
	assert.Equal(t, existingID, *h.decisions.reviews[0].EntityID)
}

func TestEngine_OrganizationNameRejected(t *testing.T) {
	h := newHarness(suppression.EmptySnapshot())

	res, err := h.engine.Resolve(context.Background(), &models.ResolveRequest{
		SourceSystem: "airtable",
		FirstName:    "Forgotten Felines",
		LastName:     "Thrift Store",
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeRejected, res.Outcome)
	assert.Equal(t, 0, h.entities.created)
}

func TestEngine_OrganizationWithRepresentative(t *testing.T) {
	h := newHarness(suppression.EmptySnapshot())
	repID := h.entities.seed("Sarah Chen", "sarah chen", nil, nil)
	h.orgs.byName = map[string]*models.Organization{
		"westside spay clinic": {
			ID:               "org-1",
			Name:             "Westside Spay Clinic",
			PlaceEntityID:    "place-1",
			RepresentativeID: &repID,
		},
	}

	res, err := h.engine.Resolve(context.Background(), &models.ResolveRequest{
		SourceSystem: "clinichq",
		FirstName:    "Westside",
		LastName:     "Spay Clinic",
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeOrgRepresentative, res.Outcome)
	require.NotNil(t, res.EntityID)
	assert.Equal(t, repID, *res.EntityID)
	assert.Equal(t, 1.0, res.Confidence)
	require.NotNil(t, res.PlaceEntityID)
	assert.Equal(t, "place-1", *res.PlaceEntityID)
}

func TestEngine_AmbiguousOwnersGoToReview(t *testing.T) {
	h := newHarness(suppression.EmptySnapshot())
	janeID := h.entities.seed("Jane Doe", "jane doe", []storedIdentifier{
		{models.IdentifierTypeEmail, "jane@gmail.com", "clinichq", 1.0},
	}, nil)
	h.entities.seed("Mark Twain", "mark twain", []storedIdentifier{
		{models.IdentifierTypePhone, "5551234567", "shelterluv", 1.0},
	}, nil)

	// Email and phone point at different entities, so no direct match is
	// possible. Composite scoring puts Jane on top (email plus exact name)
	// in the review band.
	res, err := h.engine.Resolve(context.Background(), &models.ResolveRequest{
		SourceSystem: "webform",
		FirstName:    "Jane",
		LastName:     "Doe",
		Email:        "jane@gmail.com",
		Phone:        "555-123-4567",
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeNeedsReview, res.Outcome)
	require.NotNil(t, res.EntityID)
	assert.Equal(t, janeID, *res.EntityID)
	require.Len(t, h.decisions.reviews, 1)
	require.NotNil(t, res.ReviewItem)
	assert.Equal(t, h.decisions.reviews[0].ID, res.ReviewItem.ID)

	// Provisional link only: the existing entity keeps its fields.
	assert.Equal(t, "Jane Doe", h.entities.byID[janeID].entity.DisplayName)
}

func TestEngine_SoftBlacklistDowngradesBelowDirectMatch(t *testing.T) {
	snapshot := suppression.NewSnapshot([]models.SuppressionEntry{
		{Type: models.IdentifierTypePhone, ValueNormalized: "5559876543", Tier: models.SuppressionTierSoft},
	})
	h := newHarness(snapshot)
	ownerID := h.entities.seed("Maria Lopez", "maria lopez", []storedIdentifier{
		{models.IdentifierTypePhone, "5559876543", "clinichq", 1.0},
	}, nil)

	// A different person sharing the household phone must not auto-match.
	res, err := h.engine.Resolve(context.Background(), &models.ResolveRequest{
		SourceSystem: "webform",
		FirstName:    "Carlos",
		LastName:     "Ramirez",
		Phone:        "5559876543",
	})
	require.NoError(t, err)
	assert.NotEqual(t, models.OutcomeAutoMatch, res.Outcome)
	assert.Equal(t, models.OutcomeNeedsReview, res.Outcome)
	require.NotNil(t, res.EntityID)
	assert.Equal(t, ownerID, *res.EntityID)
}

func TestEngine_PlaceholderEmailExcluded(t *testing.T) {
	h := newHarness(suppression.EmptySnapshot())
	h.entities.seed("Front Desk", "front desk", []storedIdentifier{
		{models.IdentifierTypeEmail, "info@catclinic.com", "clinichq", 1.0},
	}, nil)

	res, err := h.engine.Resolve(context.Background(), &models.ResolveRequest{
		SourceSystem: "webform",
		FirstName:    "Dana",
		LastName:     "Whitfield",
		Email:        "info@catclinic.com",
	})
	require.NoError(t, err)

	// The placeholder email carries no signal, so this is a brand new person.
	assert.Equal(t, models.OutcomeNewEntity, res.Outcome)
	stored := h.entities.byID[*res.EntityID]
	assert.Empty(t, stored.identifiers, "placeholder email must not be stored as an identifier")
}

func TestEngine_RejectedRecordsStillAudit(t *testing.T) {
	h := newHarness(suppression.EmptySnapshot())

	res, err := h.engine.Resolve(context.Background(), &models.ResolveRequest{
		SourceSystem: "webform",
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeRejected, res.Outcome)
	require.Len(t, h.decisions.decisions, 1)
	assert.NotEmpty(t, h.decisions.decisions[0].Reason)
}

func TestEngine_MissingSourceSystemFailsValidation(t *testing.T) {
	h := newHarness(suppression.EmptySnapshot())

	_, err := h.engine.Resolve(context.Background(), &models.ResolveRequest{
		FirstName: "Jane",
		LastName:  "Doe",
	})
	assert.Error(t, err)
	assert.Empty(t, h.decisions.decisions, "validation failures do not audit")
}
