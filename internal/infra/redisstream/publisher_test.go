package redisstream

import (
	"encoding/json"
	"testing"

	"droc_go/internal/event"
)

func TestStreamValues(t *testing.T) {
	ev := &event.FillEvent{
		BaseEvent:    event.BaseEvent{Seq: 12, ID: "ev-1", Slot: 340},
		CommitmentID: "droc-1",
		Size:         5,
		Remaining:    3,
	}

	values, err := streamValues(ev)
	if err != nil {
		t.Fatalf("streamValues: %v", err)
	}
	if values["seq"] != "12" || values["slot"] != "340" || values["id"] != "ev-1" {
		t.Errorf("values = %v", values)
	}
	if values["type"] != "fill" {
		t.Errorf("type = %v, want fill", values["type"])
	}

	var decoded event.FillEvent
	if err := json.Unmarshal([]byte(values["payload"].(string)), &decoded); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if decoded.CommitmentID != "droc-1" || decoded.Remaining != 3 {
		t.Errorf("decoded = %+v", decoded)
	}
}
