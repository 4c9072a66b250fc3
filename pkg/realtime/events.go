package realtime

// envelope is used for initial JSON parsing to determine the event type
// before unmarshaling into the specific event struct.
type envelope struct {
	Type string `json:"type"`
}

// Inbound event types the bridge acts on.
const (
	TypeSessionCreated = "session.created"
	TypeSessionUpdated = "session.updated"
	TypeAudioDelta     = "response.audio.delta"
	TypeError          = "error"
)

// diagnosticEvents is the fixed allow-list of inbound event types surfaced
// to observability. Anything not listed here and not handled above is
// ignored for forward compatibility.
var diagnosticEvents = map[string]bool{
	"response.content.done":             true,
	"rate_limits.updated":               true,
	"response.done":                     true,
	"input_audio_buffer.committed":      true,
	"input_audio_buffer.speech_stopped": true,
	"input_audio_buffer.speech_started": true,
}

// audioDeltaEvent carries one base64 G.711 µ-law chunk of assistant speech.
type audioDeltaEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
}

// errorEvent is an API-level error from the realtime engine.
type errorEvent struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type,omitempty"`
		Code    string `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// sessionUpdateEvent is the one-time outbound configuration event.
type sessionUpdateEvent struct {
	Type    string         `json:"type"`
	Session sessionPayload `json:"session"`
}

type sessionPayload struct {
	TurnDetection     turnDetection `json:"turn_detection"`
	InputAudioFormat  string        `json:"input_audio_format"`
	OutputAudioFormat string        `json:"output_audio_format"`
	Voice             string        `json:"voice"`
	Instructions      string        `json:"instructions"`
	Modalities        []string      `json:"modalities"`
	Temperature       float64       `json:"temperature"`
}

type turnDetection struct {
	Type string `json:"type"`
}

// audioAppendEvent forwards one caller audio payload to the engine.
type audioAppendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}
