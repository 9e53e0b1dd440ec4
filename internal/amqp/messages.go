package amqp

import (
	"encoding/json"
	"time"
)

// ExportMessage queues a recorded transaction for the export worker. It
// carries only identifiers; the worker fetches the full record from the
// backend so the sheet always reflects the stored state.
type ExportMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewExportMessage(id, userID string) *ExportMessage {
	return &ExportMessage{
		ID:        id,
		UserID:    userID,
		Timestamp: time.Now(),
	}
}

func (m *ExportMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ExportMessageFromJSON(data []byte) (*ExportMessage, error) {
	var msg ExportMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
