package twilio

import (
	"encoding/xml"
	"fmt"
)

// VoiceResponse is a TwiML <Response> document. Verbs marshal in field
// order, which matches every document this service renders.
type VoiceResponse struct {
	XMLName xml.Name `xml:"Response"`
	Gather  *Gather  `xml:"Gather,omitempty"`
	Say     []Say    `xml:"Say,omitempty"`
	Connect *Connect `xml:"Connect,omitempty"`
	Play    *Play    `xml:"Play,omitempty"`
}

type Say struct {
	Text string `xml:",chardata"`
}

// Gather collects DTMF digits and posts them to Action.
type Gather struct {
	Input     string `xml:"input,attr"`
	Action    string `xml:"action,attr"`
	Method    string `xml:"method,attr"`
	Timeout   int    `xml:"timeout,attr"`
	NumDigits int    `xml:"numDigits,attr"`
	Say       *Say   `xml:"Say,omitempty"`
}

// Connect bridges the call to a bidirectional media stream.
type Connect struct {
	Stream *Stream `xml:"Stream"`
}

type Stream struct {
	Name       string            `xml:"name,attr,omitempty"`
	URL        string            `xml:"url,attr"`
	Parameters []StreamParameter `xml:"Parameter"`
}

// StreamParameter is delivered back inside the media stream's start frame
// as a custom parameter, which is how the chosen persona key reaches the
// relay without any shared mutable state.
type StreamParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type Play struct {
	URL string `xml:",chardata"`
}

// Render marshals the document with the XML declaration Twilio expects.
func (r VoiceResponse) Render() (string, error) {
	body, err := xml.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal TwiML: %w", err)
	}
	return xml.Header + string(body), nil
}
