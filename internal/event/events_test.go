package event

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBaseEvent_Stamp(t *testing.T) {
	ev := &SubmitEvent{BaseEvent: NewBase(42, time.Unix(1_700_000_000, 0))}
	if ev.GetID() == "" {
		t.Fatal("expected event id to be assigned")
	}
	ev.Stamp(7)
	if ev.GetSeq() != 7 {
		t.Errorf("seq = %d, want 7", ev.GetSeq())
	}
	if ev.GetSlot() != 42 {
		t.Errorf("slot = %d, want 42", ev.GetSlot())
	}
	if ev.GetTs() != 1_700_000_000_000_000 {
		t.Errorf("ts = %d", ev.GetTs())
	}
}

func TestDecode(t *testing.T) {
	orig := &FillEvent{
		BaseEvent:    BaseEvent{Seq: 3, ID: "a", Slot: 10},
		CommitmentID: "droc-1",
		Size:         50,
		Remaining:    0,
		Completed:    true,
	}
	payload, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	ev, err := Decode(orig.GetType(), payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	fill, ok := ev.(*FillEvent)
	if !ok {
		t.Fatalf("Decode returned %T", ev)
	}
	if fill.CommitmentID != "droc-1" || !fill.Completed || fill.GetSeq() != 3 {
		t.Errorf("decoded = %+v", fill)
	}

	if _, err := Decode(Type(999), payload); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestType_String(t *testing.T) {
	if EvJITRequest.String() != "jit_request" {
		t.Errorf("got %s", EvJITRequest)
	}
	if Type(0).String() != "unknown(0)" {
		t.Errorf("got %s", Type(0))
	}
}
