package handlers

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/troikatech/voice-bridge/internal/relay"
	"github.com/troikatech/voice-bridge/pkg/errors"
	"github.com/troikatech/voice-bridge/pkg/logger"
	"github.com/troikatech/voice-bridge/pkg/twilio"
	"github.com/troikatech/voice-bridge/pkg/webhook"
)

// IncomingCall handles the Twilio inbound-call webhook. It gathers DTMF
// digits for persona selection; if the caller enters nothing the call falls
// through to the default persona.
func (h *Handler) IncomingCall(c *gin.Context) {
	if !h.verifyTwilioRequest(c) {
		return
	}

	from := c.PostForm("From")
	h.logger.Info("Incoming call",
		zap.String("call_sid", c.PostForm("CallSid")),
		logger.MaskPhoneIfPresent("from", from),
	)

	response := twilio.VoiceResponse{
		Gather: &twilio.Gather{
			Input:     "dtmf",
			Action:    "/voice/gather",
			Method:    "POST",
			Timeout:   5,
			NumDigits: 5,
			Say:       &twilio.Say{Text: "Please enter the additional numbers followed by the pound sign."},
		},
		Say:     []twilio.Say{{Text: "We did not receive your input. Connecting you now."}},
		Connect: h.connectStream(c, ""),
	}

	h.renderTwiML(c, response)
}

// ProcessGather handles the gathered digits and bridges the call onto the
// media stream. The digits travel as a stream parameter so the relay can
// resolve the persona per session; nothing is stored between webhooks.
func (h *Handler) ProcessGather(c *gin.Context) {
	if !h.verifyTwilioRequest(c) {
		return
	}

	digits := c.PostForm("Digits")
	h.logger.Info("Gather received",
		zap.String("call_sid", c.PostForm("CallSid")),
		zap.Bool("digits_entered", digits != ""),
	)

	say := "Connecting you now."
	if digits == "" {
		say = "No input received. Connecting you now."
	}

	response := twilio.VoiceResponse{
		Say:     []twilio.Say{{Text: say}},
		Connect: h.connectStream(c, digits),
	}

	h.renderTwiML(c, response)
}

// PlayGeneratedAudio renders a TwiML document playing this process's
// pre-rendered audio file.
func (h *Handler) PlayGeneratedAudio(c *gin.Context) {
	if !h.verifyTwilioRequest(c) {
		return
	}

	response := twilio.VoiceResponse{
		Play: &twilio.Play{
			URL: fmt.Sprintf("%s/audio/%s", h.baseURL(c), h.audioFileName),
		},
	}

	h.renderTwiML(c, response)
}

// ServeAudio serves the pre-rendered audio file referenced by
// PlayGeneratedAudio. Only the per-process generated name is exposed.
func (h *Handler) ServeAudio(c *gin.Context) {
	name := c.Param("name")
	if name != h.audioFileName {
		errors.NotFound(c, "audio file not found")
		return
	}

	path := filepath.Join(h.cfg.AudioDir, name)
	c.Header("Content-Type", "audio/wav")
	c.File(path)
}

// connectStream builds the <Connect><Stream> verb pointing at the
// media-stream endpoint, carrying the persona selection when present.
func (h *Handler) connectStream(c *gin.Context, digits string) *twilio.Connect {
	stream := &twilio.Stream{
		Name: "Voice Bridge Audio Stream",
		URL:  h.wsBaseURL(c) + "/voice/stream",
	}
	if digits != "" {
		stream.Parameters = append(stream.Parameters, twilio.StreamParameter{
			Name:  relay.PersonaParameter,
			Value: digits,
		})
	}
	return &twilio.Connect{Stream: stream}
}

func (h *Handler) renderTwiML(c *gin.Context, response twilio.VoiceResponse) {
	body, err := response.Render()
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}
	c.Data(http.StatusOK, "text/xml", []byte(body))
}

// verifyTwilioRequest validates the X-Twilio-Signature header. A missing
// auth token skips verification (development only).
func (h *Handler) verifyTwilioRequest(c *gin.Context) bool {
	if err := c.Request.ParseForm(); err != nil {
		errors.BadRequest(c, "malformed form payload")
		return false
	}

	requestURL := h.baseURL(c) + c.Request.URL.RequestURI()
	signature := c.GetHeader("X-Twilio-Signature")

	if err := webhook.VerifyTwilioSignature(h.cfg.TwilioAuthToken, requestURL, c.Request.PostForm, signature); err != nil {
		h.logger.Warn("Rejected Twilio webhook",
			zap.String("path", c.Request.URL.Path),
			zap.String("remote_addr", c.Request.RemoteAddr),
			zap.Error(err),
		)
		errors.Forbidden(c, "invalid webhook signature")
		return false
	}
	return true
}

// baseURL prefers the configured public URL, falling back to request-based
// detection (works behind a reverse proxy).
func (h *Handler) baseURL(c *gin.Context) string {
	baseURL := h.cfg.PublicBaseURL
	if baseURL == "" {
		scheme := "https"
		if proto := c.GetHeader("X-Forwarded-Proto"); proto == "http" {
			scheme = "http"
		} else if proto == "" && c.Request.TLS == nil {
			scheme = "http"
		}

		host := c.GetHeader("X-Forwarded-Host")
		if host == "" {
			host = c.Request.Host
		}

		baseURL = fmt.Sprintf("%s://%s", scheme, host)
	}
	return strings.TrimSuffix(baseURL, "/")
}

// wsBaseURL rewrites the base URL scheme for WebSocket use. Production must
// end up on wss.
func (h *Handler) wsBaseURL(c *gin.Context) string {
	baseURL := h.baseURL(c)
	if strings.HasPrefix(baseURL, "https") {
		return "wss" + baseURL[len("https"):]
	}
	if strings.HasPrefix(baseURL, "http") {
		return "ws" + baseURL[len("http"):]
	}
	return baseURL
}
