package protocol

import (
	"testing"
)

func TestDecodeInbound_BoxUpdate(t *testing.T) {
	raw := []byte(`{
		"type": "boxUpdate",
		"boxId": 3,
		"category": "juvenil",
		"initiated": true,
		"routeIndex": 2,
		"routesCount": 4,
		"holds": [12, 15, 9, 11],
		"climber": "Alice",
		"preparing": "Bob",
		"timerState": "running",
		"remainingSec": 180,
		"timeCriterion": true,
		"version": 17,
		"sessionToken": "tok-abc",
		"competitors": [
			{"name": "Alice", "scores": [10, null], "times": [62.5, null]},
			{"name": "Bob", "scores": [8], "marked": true}
		]
	}`)

	msg, err := DecodeInbound(raw)
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	snap, ok := msg.(*BoxSnapshot)
	if !ok {
		t.Fatalf("expected *BoxSnapshot, got %T", msg)
	}
	if snap.BoxID != 3 || snap.Version != 17 || snap.TimerState != TimerRunning {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if len(snap.Competitors) != 2 {
		t.Fatalf("expected 2 competitors, got %d", len(snap.Competitors))
	}
	if snap.Competitors[0].Scores[1] != nil {
		t.Fatalf("null score should decode as nil")
	}
	if got := *snap.Competitors[0].Scores[0]; got != 10 {
		t.Fatalf("score = %v, want 10", got)
	}
}

func TestDecodeInbound_Heartbeat(t *testing.T) {
	msg, err := DecodeInbound([]byte(`{"type":"heartbeat","ts":1724400000123}`))
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	hb, ok := msg.(*Heartbeat)
	if !ok {
		t.Fatalf("expected *Heartbeat, got %T", msg)
	}
	if hb.Timestamp != 1724400000123 {
		t.Fatalf("ts = %d", hb.Timestamp)
	}
}

func TestDecodeInbound_Rejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{"type":`},
		{"unknown type", `{"type":"zombo"}`},
		{"missing boxId", `{"type":"boxUpdate","version":1}`},
		{"boxId wrong type", `{"type":"boxUpdate","boxId":"three","version":1}`},
		{"heartbeat missing ts", `{"type":"heartbeat"}`},
		{"bad timer state", `{"type":"boxUpdate","boxId":1,"version":1,"timerState":"sprinting"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeInbound([]byte(tc.raw)); err == nil {
				t.Fatalf("expected error for %s", tc.raw)
			}
		})
	}
}

func TestNewCommand_Payload(t *testing.T) {
	cmd, err := NewCommand(CmdProgress, 7, ProgressPayload{Delta: 2})
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}
	if cmd.Type != CmdProgress || cmd.BoxID != 7 {
		t.Fatalf("unexpected envelope: %+v", cmd)
	}
	if string(cmd.Payload) != `{"delta":2}` {
		t.Fatalf("payload = %s", cmd.Payload)
	}

	bare, err := NewCommand(CmdStartTimer, 7, nil)
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}
	if bare.Payload != nil {
		t.Fatalf("expected empty payload, got %s", bare.Payload)
	}
}

func TestTieFingerprint_Stable(t *testing.T) {
	a := TieFingerprint(2, []string{"Alice", "Bob"}, 1.5)
	b := TieFingerprint(2, []string{"bob", "ALICE"}, 1.5)
	if a != b {
		t.Fatalf("fingerprint should ignore order and case: %s vs %s", a, b)
	}

	c := TieFingerprint(2, []string{"Alice", "Bob"}, 2.5)
	if a == c {
		t.Fatalf("different totals must fingerprint differently")
	}
	d := TieFingerprint(3, []string{"Alice", "Bob"}, 1.5)
	if a == d {
		t.Fatalf("different boxes must fingerprint differently")
	}
}
