package kafka

import (
	"encoding/json"
	"time"

	"github.com/pawmark/trapper/pkg/models"
)

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	// Parsed content
	IntakeMessage *models.IntakeMessage
}

// ParseIntakeMessage parses the message value as a staged intake record
func (m *IncomingMessage) ParseIntakeMessage() error {
	var msg models.IntakeMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		return err
	}
	m.IntakeMessage = &msg
	return nil
}

// GetSourceSystem returns the source system for this message, falling back to
// the header when the body omits it.
func (m *IncomingMessage) GetSourceSystem() string {
	if m.IntakeMessage != nil && m.IntakeMessage.SourceSystem != "" {
		return m.IntakeMessage.SourceSystem
	}
	return m.Headers["source_system"]
}

// GetRecordRef returns the staged record reference for this message
func (m *IncomingMessage) GetRecordRef() string {
	if m.IntakeMessage != nil && m.IntakeMessage.RecordRef != "" {
		return m.IntakeMessage.RecordRef
	}
	return m.Key
}
