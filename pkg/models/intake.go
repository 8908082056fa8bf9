package models

import "time"

// IntakeMessage is the wire format source connectors publish for each staged
// intake record. Field names mirror the staging tables the connectors write.
type IntakeMessage struct {
	SourceSystem string    `json:"source_system"`
	RecordRef    string    `json:"record_ref,omitempty"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	Email        string    `json:"email,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Address      string    `json:"address,omitempty"`
	ReceivedAt   time.Time `json:"received_at,omitempty"`
}

// ToResolveRequest converts the wire message into a resolution request
func (m *IntakeMessage) ToResolveRequest() *ResolveRequest {
	req := &ResolveRequest{
		SourceSystem: m.SourceSystem,
		FirstName:    m.FirstName,
		LastName:     m.LastName,
		Email:        m.Email,
		Phone:        m.Phone,
		Address:      m.Address,
	}
	if m.RecordRef != "" {
		ref := m.RecordRef
		req.StagedRecordRef = &ref
	}
	return req
}
