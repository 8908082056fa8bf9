// Package resolution implements the tiered identity resolution engine: one
// staged intake record in, one canonical entity id (or a rejection) out,
// with an audit row for every call.
package resolution

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"

	"github.com/pawmark/trapper/pkg/classify"
	"github.com/pawmark/trapper/pkg/database"
	"github.com/pawmark/trapper/pkg/matching"
	"github.com/pawmark/trapper/pkg/models"
	"github.com/pawmark/trapper/pkg/normalize"
	"github.com/pawmark/trapper/pkg/suppression"
	"github.com/pawmark/trapper/pkg/survivorship"
	"github.com/pawmark/trapper/pkg/tracing"
)

// Decision thresholds. Tuned empirically against historical intake data;
// treat as configuration, not derivable constants.
const (
	// PhoneDirectConfidence is the confidence of an exact phone hit
	PhoneDirectConfidence = 1.0
	// EmailDirectConfidence is the confidence of an exact email hit
	EmailDirectConfidence = 0.98
	// AutoMatchThreshold is the floor for auto-matching a composite score
	AutoMatchThreshold = 0.90
	// ReviewFloor is the lowest composite score that still links for review
	ReviewFloor = 0.50
	// DuplicateNameSimilarity is the near-exact name threshold for the
	// same-name-same-address duplicate guard
	DuplicateNameSimilarity = 0.85
	// ReducedIdentifierConfidence is assigned to identifiers attached
	// through the duplicate guard rather than a confirmed match
	ReducedIdentifierConfidence = 0.7
)

// EntityStore is the entity persistence the engine resolves against
type EntityStore interface {
	Get(ctx context.Context, id string) (*models.CanonicalEntity, error)
	ActiveIdentifierOwner(ctx context.Context, idType models.IdentifierType, value string) (*models.CanonicalEntity, error)
	FindCandidates(ctx context.Context, kind models.EntityKind, email, phone, address string) ([]matching.Candidate, error)
	CreateWithDedup(ctx context.Context, req *models.CreateEntityRequest) (*models.CanonicalEntity, bool, error)
	AttachIdentifier(ctx context.Context, entityID string, idType models.IdentifierType, value, raw, source string, confidence float64) error
	AddAddress(ctx context.Context, entityID, normalized, raw, source string) error
	UpdateSurvivedFields(ctx context.Context, entityID string, displayName *string, provenance models.ProvenanceMap) error
}

// DecisionStore is the audit log and review queue
type DecisionStore interface {
	Create(ctx context.Context, decision *models.MatchDecision) (*models.MatchDecision, error)
	EnqueueReview(ctx context.Context, decisionID string, entityID *string, score float64) (*models.ReviewItem, error)
}

// OrgDirectory looks up known institutions by normalized name
type OrgDirectory interface {
	GetByName(ctx context.Context, nameNormalized string) (*models.Organization, error)
}

// SnapshotSource loads the current suppression registry view
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*suppression.Snapshot, error)
}

// TxBeginner opens or joins the unit of work a resolution runs in
type TxBeginner interface {
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error)
}

// Engine is the identity resolution engine. Safe for concurrent use; each
// Resolve call is an independent unit of work.
type Engine struct {
	logger    ectologger.Logger
	db        TxBeginner
	entities  EntityStore
	decisions DecisionStore
	orgs      OrgDirectory
	registry  SnapshotSource
	rules     *survivorship.Rules
	validate  *validator.Validate
}

// NewEngine creates a resolution engine
func NewEngine(
	logger ectologger.Logger,
	db TxBeginner,
	entities EntityStore,
	decisions DecisionStore,
	orgs OrgDirectory,
	registry SnapshotSource,
	rules *survivorship.Rules,
) *Engine {
	return &Engine{
		logger:    logger,
		db:        db,
		entities:  entities,
		decisions: decisions,
		orgs:      orgs,
		registry:  registry,
		rules:     rules,
		validate:  validator.New(),
	}
}

// Resolve runs one record through the full tier ladder and returns the
// resolution. The whole call, side effects and audit row included, commits
// or rolls back as one transaction.
func (e *Engine) Resolve(ctx context.Context, req *models.ResolveRequest) (*models.Resolution, error) {
	ctx, span := tracing.StartSpan(ctx, "resolution.Engine.Resolve")
	defer span.End()

	if err := e.validate.StructCtx(ctx, req); err != nil {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid resolve request: %s", err.Error())
	}

	record := e.normalizeRecord(req)
	dc := newDecisionContext(req, record)

	ctx, tx, err := e.db.GetTx(ctx, nil)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin resolution")
	}
	defer database.RollbackTx(ctx, tx)

	snapshot, err := e.registry.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	scorer := matching.NewScorer(snapshot)

	if err := e.runTiers(ctx, dc, scorer, snapshot); err != nil {
		return nil, err
	}

	decision, err := dc.flush(ctx, e.decisions)
	if err != nil {
		return nil, err
	}

	var review *models.ReviewItem
	if dc.outcome == models.OutcomeNeedsReview {
		review, err = e.decisions.EnqueueReview(ctx, decision.ID, dc.entityID, dc.confidence)
		if err != nil {
			return nil, err
		}
	}

	if err := database.CommitTx(ctx, tx); err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit resolution")
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"outcome":     string(dc.outcome),
		"source":      req.SourceSystem,
		"decision_id": decision.ID,
		"duration_ms": decision.DurationMs,
	}).Info("Resolved identity")

	return &models.Resolution{
		EntityID:      dc.entityID,
		Outcome:       dc.outcome,
		Confidence:    dc.confidence,
		Reason:        dc.reason,
		DecisionID:    decision.ID,
		PlaceEntityID: dc.placeEntityID,
		ReviewItem:    review,
	}, nil
}

// runTiers walks the decision ladder in order; the first tier that decides
// wins and later tiers never run.
func (e *Engine) runTiers(ctx context.Context, dc *decisionContext, scorer *matching.Scorer, snapshot *suppression.Snapshot) error {
	tiers := []func(context.Context, *decisionContext, *matching.Scorer, *suppression.Snapshot) error{
		e.tierNoSignal,
		e.tierOrganization,
		e.tierNamePattern,
		e.tierSuppressedContact,
		e.tierDirectIdentifier,
		e.tierComposite,
		e.tierDuplicateGuard,
		e.tierNewEntity,
	}

	for _, tier := range tiers {
		if err := tier(ctx, dc, scorer, snapshot); err != nil {
			return err
		}
		if dc.decided() {
			return nil
		}
	}

	return httperror.NewHTTPError(http.StatusInternalServerError, "no tier decided the record")
}

// tierNoSignal rejects records carrying nothing to match or create on
func (e *Engine) tierNoSignal(_ context.Context, dc *decisionContext, _ *matching.Scorer, _ *suppression.Snapshot) error {
	if dc.record.Name == "" && dc.record.Email == "" && dc.record.Phone == "" {
		dc.decide(models.OutcomeRejected, "no usable identity signal after normalization", nil, 0)
	}
	return nil
}

// tierOrganization handles names found in the organization directory: route
// to the mapped representative when one exists, reject otherwise.
func (e *Engine) tierOrganization(ctx context.Context, dc *decisionContext, _ *matching.Scorer, _ *suppression.Snapshot) error {
	if dc.record.Name == "" {
		return nil
	}

	org, err := e.orgs.GetByName(ctx, dc.record.Name)
	if err != nil {
		return err
	}
	if org == nil {
		return nil
	}

	if org.RepresentativeID == nil {
		dc.decide(models.OutcomeRejected,
			fmt.Sprintf("known organization %q has no mapped representative", org.Name), nil, 0)
		return nil
	}

	rep, err := e.entities.Get(ctx, *org.RepresentativeID)
	if err != nil {
		return err
	}
	dc.decide(models.OutcomeOrgRepresentative,
		fmt.Sprintf("organization %q resolved to its representative", org.Name), &rep.ID, 1.0)
	if org.PlaceEntityID != "" {
		placeID := org.PlaceEntityID
		dc.placeEntityID = &placeID
	}
	return nil
}

// tierNamePattern rejects institutional, address-like, and business-like
// display names that slipped past the directory.
func (e *Engine) tierNamePattern(_ context.Context, dc *decisionContext, _ *matching.Scorer, _ *suppression.Snapshot) error {
	if dc.record.Name == "" {
		return nil
	}

	result := classify.DisplayName(dc.record.Name)
	switch result.Class {
	case classify.ClassOrganization:
		dc.decide(models.OutcomeRejected,
			fmt.Sprintf("display name matched %s pattern (%s)", result.Class, result.Rule), nil, 0)
	case classify.ClassAddress, classify.ClassApartmentComplex:
		dc.decide(models.OutcomeRejected,
			fmt.Sprintf("display name is address-like (%s)", result.Rule), nil, 0)
	}
	return nil
}

// tierSuppressedContact rejects records whose every supplied identifier is
// hard-blacklisted with no corroboration override configured. Such a record
// cannot match anything and must not mint an entity off a shared office line.
func (e *Engine) tierSuppressedContact(_ context.Context, dc *decisionContext, _ *matching.Scorer, snapshot *suppression.Snapshot) error {
	hardNoOverride := func(idType models.IdentifierType, value string) bool {
		if value == "" {
			return false
		}
		entry := snapshot.Lookup(idType, value)
		return entry != nil && entry.Tier == models.SuppressionTierHard && !entry.AllowsOverride()
	}

	emailHard := hardNoOverride(models.IdentifierTypeEmail, dc.record.Email)
	phoneHard := hardNoOverride(models.IdentifierTypePhone, dc.record.Phone)

	if (emailHard || phoneHard) &&
		(dc.record.Email == "" || emailHard) &&
		(dc.record.Phone == "" || phoneHard) {
		dc.decide(models.OutcomeRejected, "all supplied identifiers are hard-suppressed shared contacts", nil, 0)
	}
	return nil
}

// tierDirectIdentifier auto-matches an exact, unambiguous, non-suppressed
// email or phone hit against exactly one active entity.
func (e *Engine) tierDirectIdentifier(ctx context.Context, dc *decisionContext, _ *matching.Scorer, snapshot *suppression.Snapshot) error {
	type hit struct {
		entity     *models.CanonicalEntity
		confidence float64
	}
	var hits []hit

	if dc.record.Phone != "" && snapshot.Lookup(models.IdentifierTypePhone, dc.record.Phone) == nil {
		owner, err := e.entities.ActiveIdentifierOwner(ctx, models.IdentifierTypePhone, dc.record.Phone)
		if err != nil {
			return err
		}
		if owner != nil {
			hits = append(hits, hit{owner, PhoneDirectConfidence})
		}
	}
	if dc.record.Email != "" && snapshot.Lookup(models.IdentifierTypeEmail, dc.record.Email) == nil {
		owner, err := e.entities.ActiveIdentifierOwner(ctx, models.IdentifierTypeEmail, dc.record.Email)
		if err != nil {
			return err
		}
		if owner != nil {
			hits = append(hits, hit{owner, EmailDirectConfidence})
		}
	}

	if len(hits) == 0 {
		return nil
	}
	// Conflicting owners mean the hit is ambiguous; let composite scoring
	// weigh the evidence instead.
	if len(hits) == 2 && hits[0].entity.ID != hits[1].entity.ID {
		return nil
	}

	best := hits[0]
	if err := e.applyMatch(ctx, dc, best.entity, 1.0); err != nil {
		return err
	}
	dc.decide(models.OutcomeAutoMatch, "direct identifier hit on active entity", &best.entity.ID, best.confidence)
	return nil
}

// tierComposite ranks the candidate pool and auto-matches or queues for
// review based on the top score.
func (e *Engine) tierComposite(ctx context.Context, dc *decisionContext, scorer *matching.Scorer, _ *suppression.Snapshot) error {
	pool, err := e.entities.FindCandidates(ctx, models.EntityKindPerson, dc.record.Email, dc.record.Phone, dc.record.Address)
	if err != nil {
		return err
	}
	if len(pool) == 0 {
		return nil
	}

	ranked := scorer.Rank(dc.record, pool)
	dc.candidates = ranked
	if len(ranked) == 0 {
		return nil
	}

	top := ranked[0]
	switch {
	case top.Score >= AutoMatchThreshold:
		entity, err := e.entities.Get(ctx, top.EntityID)
		if err != nil {
			return err
		}
		if err := e.applyMatch(ctx, dc, entity, 1.0); err != nil {
			return err
		}
		dc.decide(models.OutcomeAutoMatch,
			fmt.Sprintf("composite score %.2f at or above auto-match threshold", top.Score), &entity.ID, top.Score)
	case top.Score >= ReviewFloor:
		// Provisional link only: no field overwrites until a human
		// confirms the match.
		entityID := top.EntityID
		dc.decide(models.OutcomeNeedsReview,
			fmt.Sprintf("composite score %.2f requires review", top.Score), &entityID, top.Score)
	}
	return nil
}

// tierDuplicateGuard catches the same person re-entering with fresh contact
// info at the same home address: a near-exact name at the incoming address
// links for review instead of forking a duplicate entity.
func (e *Engine) tierDuplicateGuard(ctx context.Context, dc *decisionContext, _ *matching.Scorer, _ *suppression.Snapshot) error {
	if dc.record.Address == "" || dc.record.Name == "" {
		return nil
	}

	pool, err := e.entities.FindCandidates(ctx, models.EntityKindPerson, "", "", dc.record.Address)
	if err != nil {
		return err
	}

	for _, cand := range pool {
		if !sharesAddress(cand, dc.record.Address) {
			continue
		}
		sim := matching.NameSimilarity(dc.record.Name, cand.DisplayName)
		if sim < DuplicateNameSimilarity {
			continue
		}

		if err := e.attachIdentifiers(ctx, dc, cand.EntityID, ReducedIdentifierConfidence); err != nil {
			return err
		}
		entityID := cand.EntityID
		dc.decide(models.OutcomeNeedsReview,
			fmt.Sprintf("near-exact name (similarity %.2f) at same address, possible duplicate", sim), &entityID, sim)
		return nil
	}
	return nil
}

// tierNewEntity is the floor of the ladder: nothing matched, create a
// canonical entity under the concurrency-safe protocol. The create may lose
// the identifier race to a concurrent call, in which case the outcome
// depends on how trustworthy the colliding identifier is.
func (e *Engine) tierNewEntity(ctx context.Context, dc *decisionContext, _ *matching.Scorer, snapshot *suppression.Snapshot) error {
	if dc.record.Name == "" {
		// An identifier with no name is not enough to mint a person.
		dc.decide(models.OutcomeRejected, "cannot create entity without a display name", nil, 0)
		return nil
	}

	createReq := &models.CreateEntityRequest{
		Kind:         models.EntityKindPerson,
		DisplayName:  displayName(dc.req),
		Email:        dc.record.Email,
		Phone:        dc.record.Phone,
		Address:      dc.record.Address,
		EmailRaw:     dc.req.Email,
		PhoneRaw:     dc.req.Phone,
		AddressRaw:   dc.req.Address,
		SourceSystem: dc.req.SourceSystem,
	}

	entity, created, err := e.entities.CreateWithDedup(ctx, createReq)
	if err != nil {
		return err
	}

	if created {
		dc.decide(models.OutcomeNewEntity, "no candidate matched, created new entity", &entity.ID, 1.0)
		return nil
	}

	// An active entity already owns one of the supplied identifiers. A
	// clean identifier is as good as a direct hit; a suppressed one must
	// not establish the match on its own.
	hard, soft := false, false
	for _, check := range []struct {
		idType models.IdentifierType
		value  string
	}{
		{models.IdentifierTypeEmail, dc.record.Email},
		{models.IdentifierTypePhone, dc.record.Phone},
	} {
		if check.value == "" {
			continue
		}
		if entry := snapshot.Lookup(check.idType, check.value); entry != nil {
			switch entry.Tier {
			case models.SuppressionTierHard:
				hard = true
			case models.SuppressionTierSoft:
				soft = true
			}
		}
	}

	switch {
	case hard:
		dc.decide(models.OutcomeRejected, "hard-suppressed identifier is owned by another entity", nil, 0)
	case soft:
		entityID := entity.ID
		dc.decide(models.OutcomeNeedsReview, "soft-suppressed identifier collided with an existing entity", &entityID, ReviewFloor)
	default:
		dc.decide(models.OutcomeAutoMatch, "identifier claimed by concurrent creation, matched existing entity", &entity.ID, 1.0)
	}
	return nil
}

// applyMatch runs survivorship and attaches the record's contact info to a
// matched entity.
func (e *Engine) applyMatch(ctx context.Context, dc *decisionContext, entity *models.CanonicalEntity, confidence float64) error {
	if err := e.attachIdentifiers(ctx, dc, entity.ID, confidence); err != nil {
		return err
	}

	incoming := displayName(dc.req)
	if incoming == "" {
		return nil
	}

	provenance := models.ProvenanceMap{}
	if len(entity.Provenance) > 0 {
		if err := json.Unmarshal(entity.Provenance, &provenance); err != nil {
			provenance = models.ProvenanceMap{}
		}
	}
	currentSource := provenance["display_name"].Source

	winner, result := e.rules.Resolve(entity.Kind, "display_name",
		survivorship.FieldValue{Value: entity.DisplayName, Source: currentSource},
		survivorship.FieldValue{Value: incoming, Source: dc.req.SourceSystem},
	)
	if !result.IncomingWon {
		return nil
	}

	provenance["display_name"] = models.FieldProvenance{Source: dc.req.SourceSystem, UpdatedAt: dc.start}
	return e.entities.UpdateSurvivedFields(ctx, entity.ID, &winner.Value, provenance)
}

// attachIdentifiers records the incoming contact info on an entity
func (e *Engine) attachIdentifiers(ctx context.Context, dc *decisionContext, entityID string, confidence float64) error {
	if dc.record.Email != "" {
		if err := e.entities.AttachIdentifier(ctx, entityID, models.IdentifierTypeEmail, dc.record.Email, dc.req.Email, dc.req.SourceSystem, confidence); err != nil {
			return err
		}
	}
	if dc.record.Phone != "" {
		if err := e.entities.AttachIdentifier(ctx, entityID, models.IdentifierTypePhone, dc.record.Phone, dc.req.Phone, dc.req.SourceSystem, confidence); err != nil {
			return err
		}
	}
	if dc.record.Address != "" {
		if err := e.entities.AddAddress(ctx, entityID, dc.record.Address, dc.req.Address, dc.req.SourceSystem); err != nil {
			return err
		}
	}
	return nil
}

// normalizeRecord canonicalizes the raw request into comparable signals.
// Placeholder emails are excluded from matching entirely.
func (e *Engine) normalizeRecord(req *models.ResolveRequest) matching.Record {
	email := normalize.Email(req.Email)
	if normalize.IsPlaceholderEmail(email) {
		email = ""
	}

	return matching.Record{
		SourceSystem: req.SourceSystem,
		Email:        email,
		Phone:        normalize.Phone(req.Phone),
		Name:         normalize.Name(displayName(req)),
		Address:      normalize.Address(req.Address),
	}
}

func displayName(req *models.ResolveRequest) string {
	return strings.TrimSpace(strings.TrimSpace(req.FirstName) + " " + strings.TrimSpace(req.LastName))
}

func sharesAddress(cand matching.Candidate, address string) bool {
	for _, addr := range cand.Addresses {
		if addr.AddressNormalized == address {
			return true
		}
	}
	return false
}
