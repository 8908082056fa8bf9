package resolution

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pawmark/trapper/pkg/matching"
	"github.com/pawmark/trapper/pkg/models"
)

// decisionContext accumulates everything the audit row needs as a resolution
// call moves through the tiers, and is flushed exactly once on exit. Every
// branch of the engine funnels through it, so there is exactly one
// MatchDecision per call no matter which tier decided.
type decisionContext struct {
	start      time.Time
	req        *models.ResolveRequest
	record     matching.Record
	candidates []models.CandidateInfo
	outcome    models.Outcome
	reason     string
	entityID   *string
	confidence float64
	// placeEntityID carries the organization's linked canonical place for
	// org_representative outcomes
	placeEntityID *string
	flushed       bool
}

func newDecisionContext(req *models.ResolveRequest, record matching.Record) *decisionContext {
	return &decisionContext{
		start:  time.Now().UTC(),
		req:    req,
		record: record,
	}
}

// decide records the terminal outcome for this call. Outcomes are write-once;
// a second decide is a programming error and is ignored in favor of the first.
func (dc *decisionContext) decide(outcome models.Outcome, reason string, entityID *string, confidence float64) {
	if dc.outcome != "" {
		return
	}
	dc.outcome = outcome
	dc.reason = reason
	dc.entityID = entityID
	dc.confidence = confidence
}

func (dc *decisionContext) decided() bool {
	return dc.outcome != ""
}

// auditInput is the normalized-signals snapshot stored on the decision row
type auditInput struct {
	SourceSystem string `json:"source_system"`
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Name         string `json:"name,omitempty"`
	Address      string `json:"address,omitempty"`
	RawFirstName string `json:"raw_first_name,omitempty"`
	RawLastName  string `json:"raw_last_name,omitempty"`
	RawEmail     string `json:"raw_email,omitempty"`
	RawPhone     string `json:"raw_phone,omitempty"`
	RawAddress   string `json:"raw_address,omitempty"`
}

// flush writes the single audit row for this call. Safe to call once only;
// the engine guards every exit path through it.
func (dc *decisionContext) flush(ctx context.Context, store DecisionStore) (*models.MatchDecision, error) {
	if dc.flushed {
		return nil, nil
	}
	dc.flushed = true

	input := auditInput{
		SourceSystem: dc.req.SourceSystem,
		Email:        dc.record.Email,
		Phone:        dc.record.Phone,
		Name:         dc.record.Name,
		Address:      dc.record.Address,
		RawFirstName: dc.req.FirstName,
		RawLastName:  dc.req.LastName,
		RawEmail:     dc.req.Email,
		RawPhone:     dc.req.Phone,
		RawAddress:   dc.req.Address,
	}
	inputJSON, err := json.Marshal(input)
	if err != nil {
		inputJSON = json.RawMessage("{}")
	}

	candidates := dc.candidates
	if candidates == nil {
		candidates = []models.CandidateInfo{}
	}
	candidatesJSON, err := json.Marshal(candidates)
	if err != nil {
		candidatesJSON = json.RawMessage("[]")
	}

	decision := &models.MatchDecision{
		SourceSystem:    dc.req.SourceSystem,
		StagedRecordRef: dc.req.StagedRecordRef,
		Input:           inputJSON,
		Candidates:      candidatesJSON,
		Outcome:         dc.outcome,
		Reason:          dc.reason,
		EntityID:        dc.entityID,
		Confidence:      dc.confidence,
		DurationMs:      time.Since(dc.start).Milliseconds(),
	}

	return store.Create(ctx, decision)
}
