package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChangeMessage announces that the data behind the statistics changed.
// It carries counts only; consumers refetch what they display.
type ChangeMessage struct {
	Source       string    `json:"source"`
	Transactions int       `json:"transactions"`
	AuditLog     int       `json:"audit_log"`
	SyncedAt     time.Time `json:"synced_at"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewChangeMessage creates a change notification stamped now.
func NewChangeMessage(source string, transactions, auditLog int, syncedAt time.Time) *ChangeMessage {
	return &ChangeMessage{
		Source:       source,
		Transactions: transactions,
		AuditLog:     auditLog,
		SyncedAt:     syncedAt,
		Timestamp:    time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ChangeMessageFromJSON parses a message and rejects ones without a source.
func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Source == "" {
		return nil, fmt.Errorf("change message without source")
	}
	return &msg, nil
}
