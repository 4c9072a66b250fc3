// Package twilio holds the wire types for the two outward-facing Twilio
// surfaces: the JSON envelope framing of a media-stream WebSocket and the
// TwiML documents returned from call-control webhooks.
package twilio

// Media-stream event discriminators.
const (
	EventStart = "start"
	EventMedia = "media"
	EventStop  = "stop"
)

// Envelope is the outer frame of every media-stream message. Only the event
// discriminator is decoded up front; the full frame is re-decoded into the
// event-specific type once the discriminator is known.
type Envelope struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid,omitempty"`
}

// StartFrame announces a new media stream and carries the stream's
// correlation id plus any custom parameters set on the TwiML <Stream>.
type StartFrame struct {
	Event string `json:"event"`
	Start struct {
		StreamSid        string            `json:"streamSid"`
		CallSid          string            `json:"callSid,omitempty"`
		CustomParameters map[string]string `json:"customParameters,omitempty"`
	} `json:"start"`
}

// MediaFrame carries one base64 G.711 µ-law payload. Inbound frames omit
// StreamSid; outbound frames must carry the session's correlation id.
type MediaFrame struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"streamSid,omitempty"`
	Media     MediaPayload `json:"media"`
}

type MediaPayload struct {
	Payload string `json:"payload"`
}

// StopFrame signals the end of a media stream.
type StopFrame struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}

// NewMediaFrame builds an outbound media frame tagged with the stream's
// correlation id. The payload is forwarded verbatim, never re-encoded.
func NewMediaFrame(streamSid, payload string) MediaFrame {
	return MediaFrame{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     MediaPayload{Payload: payload},
	}
}
