// Package audio holds helpers for the G.711 µ-law payloads carried on both
// call legs. Audio crosses the bridge as base64 strings and is never
// transcoded; the bridge only validates that a payload is well-formed before
// forwarding it.
package audio

import "encoding/base64"

const (
	// SampleRate is the fixed rate of both legs (8 kHz telephony audio).
	SampleRate = 8000

	// SilenceByte is the µ-law encoding of a zero-level sample.
	SilenceByte = 0xFF
)

// DecodePayload decodes a base64 media payload into raw µ-law bytes.
func DecodePayload(payload string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(payload)
}

// ValidPayload reports whether payload is non-empty, well-formed base64.
// Malformed payloads are dropped per frame rather than forwarded.
func ValidPayload(payload string) bool {
	if payload == "" {
		return false
	}
	_, err := base64.StdEncoding.DecodeString(payload)
	return err == nil
}
