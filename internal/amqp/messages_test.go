package amqp

import (
	"testing"
	"time"
)

func TestNewExportMessage(t *testing.T) {
	msg := NewExportMessage("tx-1", "user-1")

	if msg.ID != "tx-1" {
		t.Errorf("NewExportMessage() ID = %v, want tx-1", msg.ID)
	}
	if msg.UserID != "user-1" {
		t.Errorf("NewExportMessage() UserID = %v, want user-1", msg.UserID)
	}
	if msg.Timestamp.IsZero() {
		t.Error("NewExportMessage() Timestamp should not be zero")
	}
	if time.Since(msg.Timestamp) > time.Second {
		t.Error("NewExportMessage() Timestamp should be recent")
	}
}

func TestExportMessage_JSON(t *testing.T) {
	timestamp := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	msg := &ExportMessage{
		ID:        "tx-1",
		UserID:    "user-1",
		Timestamp: timestamp,
	}

	jsonBytes, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}

	parsed, err := ExportMessageFromJSON(jsonBytes)
	if err != nil {
		t.Fatalf("ExportMessageFromJSON() error = %v", err)
	}

	if parsed.ID != msg.ID {
		t.Errorf("Parsed ID = %v, want %v", parsed.ID, msg.ID)
	}
	if parsed.UserID != msg.UserID {
		t.Errorf("Parsed UserID = %v, want %v", parsed.UserID, msg.UserID)
	}
	if !parsed.Timestamp.Equal(msg.Timestamp) {
		t.Errorf("Parsed Timestamp = %v, want %v", parsed.Timestamp, msg.Timestamp)
	}
}

func TestExportMessage_InvalidJSON(t *testing.T) {
	invalidJSON := []byte(`{"id": 42, "user_id": "user-1"}`)

	_, err := ExportMessageFromJSON(invalidJSON)
	if err == nil {
		t.Error("ExportMessageFromJSON() should fail with invalid JSON")
	}
}
