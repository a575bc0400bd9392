package amqp

import (
	"encoding/json"
	"time"

	"cpiweights/internal/core"
)

// RecomputeMessage asks the worker to recompute one month's weights.
// It carries only the month and the reason; the worker reads the tables
// itself, so a stale message never overwrites newer data.
type RecomputeMessage struct {
	Month     string    `json:"month"` // YYYY-MM
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewRecomputeMessage(m core.Month, reason string) *RecomputeMessage {
	return &RecomputeMessage{
		Month:     m.String(),
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// ParseMonth returns the month the message refers to.
func (m *RecomputeMessage) ParseMonth() (core.Month, error) {
	return core.ParseMonth(m.Month)
}

func (m *RecomputeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func RecomputeMessageFromJSON(data []byte) (*RecomputeMessage, error) {
	var msg RecomputeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
