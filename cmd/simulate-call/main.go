// Command simulate-call drives the media-stream endpoint the way a
// telephony provider would: start, a stretch of silence frames, stop. Useful
// for exercising a deployed bridge without placing a real call.
package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/troikatech/voice-bridge/pkg/audio"
)

func main() {
	var (
		wsURL   = flag.String("url", "ws://localhost:8080/voice/stream", "media-stream WebSocket URL")
		persona = flag.String("persona", "", "persona selection digits (empty for default)")
		frames  = flag.Int("frames", 250, "number of 20ms silence frames to send")
		sid     = flag.String("sid", fmt.Sprintf("MZ%d", time.Now().UnixNano()), "stream sid")
	)
	flag.Parse()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, resp, err := dialer.Dial(*wsURL, nil)
	if err != nil {
		if resp != nil {
			log.Fatalf("connection failed: %v (status %s)", err, resp.Status)
		}
		log.Fatalf("connection failed: %v", err)
	}
	defer conn.Close()

	log.Printf("connected to %s, stream sid %s", *wsURL, *sid)

	customParams := map[string]string{}
	if *persona != "" {
		customParams["persona"] = *persona
	}

	start := map[string]interface{}{
		"event":     "start",
		"streamSid": *sid,
		"start": map[string]interface{}{
			"streamSid":        *sid,
			"callSid":          "CA" + *sid,
			"customParameters": customParams,
		},
	}
	if err := conn.WriteJSON(start); err != nil {
		log.Fatalf("failed to send start: %v", err)
	}

	// Count frames the bridge sends back.
	var received atomic.Int64
	go func() {
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame struct {
				Event string `json:"event"`
			}
			if json.Unmarshal(message, &frame) == nil && frame.Event == "media" {
				received.Add(1)
			}
		}
	}()

	// One 20ms frame of u-law silence.
	silence := make([]byte, audio.SampleRate/50)
	for i := range silence {
		silence[i] = audio.SilenceByte
	}
	payload := base64.StdEncoding.EncodeToString(silence)

	for i := 0; i < *frames; i++ {
		media := map[string]interface{}{
			"event":     "media",
			"streamSid": *sid,
			"media":     map[string]string{"payload": payload},
		}
		if err := conn.WriteJSON(media); err != nil {
			log.Fatalf("failed to send media frame %d: %v", i, err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	stop := map[string]interface{}{
		"event":     "stop",
		"streamSid": *sid,
	}
	if err := conn.WriteJSON(stop); err != nil {
		log.Fatalf("failed to send stop: %v", err)
	}

	time.Sleep(500 * time.Millisecond)
	log.Printf("done: sent %d frames, received %d media frames back", *frames, received.Load())
}
