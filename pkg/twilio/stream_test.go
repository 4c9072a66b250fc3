package twilio

import (
	"encoding/json"
	"testing"
)

func TestNewMediaFrameMarshal(t *testing.T) {
	frame := NewMediaFrame("MZ123", "cGF5bG9hZA==")

	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	want := `{"event":"media","streamSid":"MZ123","media":{"payload":"cGF5bG9hZA=="}}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}
}

func TestStartFrameDecode(t *testing.T) {
	raw := `{
		"event": "start",
		"sequenceNumber": "1",
		"start": {
			"accountSid": "AC000",
			"streamSid": "MZ123",
			"callSid": "CA456",
			"customParameters": {"persona": "99999"},
			"mediaFormat": {"encoding": "audio/x-mulaw", "sampleRate": 8000, "channels": 1}
		},
		"streamSid": "MZ123"
	}`

	var frame StartFrame
	if err := json.Unmarshal([]byte(raw), &frame); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if frame.Start.StreamSid != "MZ123" {
		t.Errorf("StreamSid = %q", frame.Start.StreamSid)
	}
	if frame.Start.CallSid != "CA456" {
		t.Errorf("CallSid = %q", frame.Start.CallSid)
	}
	if frame.Start.CustomParameters["persona"] != "99999" {
		t.Errorf("CustomParameters = %v", frame.Start.CustomParameters)
	}
}

func TestEnvelopeDecode(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"media", `{"event":"media","streamSid":"MZ1","media":{"payload":"aGk="}}`, EventMedia},
		{"stop", `{"event":"stop","streamSid":"MZ1"}`, EventStop},
		{"unknown event still decodes", `{"event":"mark","streamSid":"MZ1"}`, "mark"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var env Envelope
			if err := json.Unmarshal([]byte(tt.raw), &env); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if env.Event != tt.want {
				t.Errorf("Event = %q, want %q", env.Event, tt.want)
			}
		})
	}
}
