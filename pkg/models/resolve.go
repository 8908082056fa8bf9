package models

// ResolveRequest carries one staged intake record through the resolution
// pipeline. SourceSystem is required; everything else is best effort and is
// normalized before use.
type ResolveRequest struct {
	SourceSystem    string  `json:"source_system" validate:"required"`
	StagedRecordRef *string `json:"staged_record_ref,omitempty"`
	FirstName       string  `json:"first_name"`
	LastName        string  `json:"last_name"`
	Email           string  `json:"email"`
	Phone           string  `json:"phone"`
	Address         string  `json:"address"`
}

// Resolution is the answer to a ResolveRequest. EntityID is set for
// auto_match, org_representative, and new_entity outcomes, carries the
// provisional link for needs_review, and is nil for rejected.
type Resolution struct {
	EntityID   *string `json:"entity_id,omitempty"`
	Outcome    Outcome `json:"outcome"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	DecisionID string  `json:"decision_id"`
	// PlaceEntityID is the organization's linked canonical place for
	// org_representative outcomes, when the directory maps one.
	PlaceEntityID *string `json:"place_entity_id,omitempty"`
	// ReviewItem is the queue item opened for needs_review outcomes
	ReviewItem *ReviewItem `json:"review_item,omitempty"`
}
