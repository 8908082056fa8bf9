package models

import (
	"encoding/json"
	"time"
)

// Outcome is the closed set of terminal states a resolution can reach
type Outcome string

const (
	OutcomeRejected          Outcome = "rejected"
	OutcomeOrgRepresentative Outcome = "org_representative"
	OutcomeAutoMatch         Outcome = "auto_match"
	OutcomeNeedsReview       Outcome = "needs_review"
	OutcomeNewEntity         Outcome = "new_entity"
)

// CandidateInfo is the score breakdown for one candidate considered during a
// resolution. It is persisted verbatim into the decision's audit row so the
// scoring can be replayed.
type CandidateInfo struct {
	EntityID    string             `json:"entity_id"`
	DisplayName string             `json:"display_name"`
	Score       float64            `json:"score"`
	MatchedOn   []string           `json:"matched_on"`
	Components  map[string]float64 `json:"components"`
}

// MatchDecision is the append-only court record of one resolution call.
// Immutable once written.
type MatchDecision struct {
	ID              string          `json:"id" db:"id"`
	SourceSystem    string          `json:"source_system" db:"source_system"`
	StagedRecordRef *string         `json:"staged_record_ref,omitempty" db:"staged_record_ref"`
	Input           json.RawMessage `json:"input" db:"input"`
	Candidates      json.RawMessage `json:"candidates" db:"candidates"`
	Outcome         Outcome         `json:"outcome" db:"outcome"`
	Reason          string          `json:"reason" db:"reason"`
	EntityID        *string         `json:"entity_id,omitempty" db:"entity_id"`
	Confidence      float64         `json:"confidence" db:"confidence"`
	DurationMs      int64           `json:"duration_ms" db:"duration_ms"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// Review queue item statuses
const (
	ReviewStatusOpen      = "open"
	ReviewStatusConfirmed = "confirmed"
	ReviewStatusRejected  = "rejected"
	ReviewStatusMerged    = "merged"
)

// ReviewItem queues a needs_review decision for human disposition
type ReviewItem struct {
	ID         string     `json:"id" db:"id"`
	DecisionID string     `json:"decision_id" db:"decision_id"`
	EntityID   *string    `json:"entity_id,omitempty" db:"entity_id"`
	Score      float64    `json:"score" db:"score"`
	Status     string     `json:"status" db:"status"`
	ResolvedBy *string    `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Review disposition actions
const (
	ReviewActionConfirm = "confirm"
	ReviewActionReject  = "reject"
	ReviewActionMerge   = "merge"
)

// ReviewDisposition is a staff member's terminal action on a review item
type ReviewDisposition struct {
	Action string `json:"action" validate:"required,oneof=confirm reject merge"`
	// MergeIntoEntityID names the surviving entity for a manual merge
	MergeIntoEntityID *string `json:"merge_into_entity_id,omitempty"`
}
