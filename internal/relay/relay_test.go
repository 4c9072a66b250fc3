package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/troikatech/voice-bridge/pkg/metrics"
	"github.com/troikatech/voice-bridge/pkg/persona"
	"github.com/troikatech/voice-bridge/pkg/realtime"
)

// fakeTeleConn records frames written toward the caller.
type fakeTeleConn struct {
	mu       sync.Mutex
	messages [][]byte
	closed   bool
	writeErr error
}

func (f *fakeTeleConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.messages = append(f.messages, cp)
	return nil
}

func (f *fakeTeleConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTeleConn) sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.messages))
	copy(out, f.messages)
	return out
}

func (f *fakeTeleConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeAILeg records everything the session sends toward the engine.
type fakeAILeg struct {
	mu        sync.Mutex
	handlers  realtime.Handlers
	updates   []realtime.SessionConfig
	payloads  []string
	closed    bool
	updateErr error
	appendErr error
}

func (f *fakeAILeg) Start(h realtime.Handlers) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = h
}

func (f *fakeAILeg) UpdateSession(cfg realtime.SessionConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, cfg)
	return f.updateErr
}

func (f *fakeAILeg) AppendAudio(payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeAILeg) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeAILeg) getHandlers() realtime.Handlers {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers
}

func (f *fakeAILeg) sentPayloads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.payloads))
	copy(out, f.payloads)
	return out
}

func (f *fakeAILeg) sessionUpdates() []realtime.SessionConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]realtime.SessionConfig, len(f.updates))
	copy(out, f.updates)
	return out
}

func (f *fakeAILeg) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeDialer hands out one fresh fake leg per dial.
type fakeDialer struct {
	mu   sync.Mutex
	legs []*fakeAILeg
	err  error
}

func (d *fakeDialer) dial(ctx context.Context) (AILeg, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	leg := &fakeAILeg{}
	d.legs = append(d.legs, leg)
	return leg, nil
}

func (d *fakeDialer) leg(i int) *fakeAILeg {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.legs) {
		return nil
	}
	return d.legs[i]
}

func testPersonas() *persona.Registry {
	return persona.NewRegistry(map[string]string{
		"123": "You are persona one.",
		"456": "You are persona two.",
	})
}

func newTestBridge(dialer *fakeDialer, settle time.Duration) *Bridge {
	cfg := Config{
		Voice:       "ash",
		Temperature: 0.8,
		SettleDelay: settle,
	}
	return NewBridge(cfg, testPersonas(), dialer.dial, zap.NewNop())
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func startFrame(sid, personaKey string) []byte {
	params := map[string]string{}
	if personaKey != "" {
		params["persona"] = personaKey
	}
	frame := map[string]interface{}{
		"event":     "start",
		"streamSid": sid,
		"start": map[string]interface{}{
			"streamSid":        sid,
			"callSid":          "CA" + sid,
			"customParameters": params,
		},
	}
	data, _ := json.Marshal(frame)
	return data
}

func mediaFrame(sid, payload string) []byte {
	frame := map[string]interface{}{
		"event":     "media",
		"streamSid": sid,
		"media":     map[string]string{"payload": payload},
	}
	data, _ := json.Marshal(frame)
	return data
}

func stopFrame(sid string) []byte {
	data, _ := json.Marshal(map[string]string{"event": "stop", "streamSid": sid})
	return data
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestCallLifecycle(t *testing.T) {
	dialer := &fakeDialer{}
	bridge := newTestBridge(dialer, time.Millisecond)
	tele := &fakeTeleConn{}
	sc := bridge.NewStreamConn(tele)

	sc.RouteFrame(startFrame("MZ100", "123"))

	waitFor(t, func() bool {
		s := bridge.Registry().Get("MZ100")
		return s != nil && s.State() == StateActive
	}, "session never became active")

	leg := dialer.leg(0)
	updates := leg.sessionUpdates()
	if len(updates) != 1 {
		t.Fatalf("expected 1 session update, got %d", len(updates))
	}
	if updates[0].Instructions != "You are persona one." {
		t.Errorf("wrong instructions: %q", updates[0].Instructions)
	}
	if updates[0].Voice != "ash" {
		t.Errorf("wrong voice: %q", updates[0].Voice)
	}

	// Caller audio passes through verbatim, in order.
	payloads := []string{b64("one"), b64("two"), b64("three")}
	for _, p := range payloads {
		sc.RouteFrame(mediaFrame("MZ100", p))
	}
	got := leg.sentPayloads()
	if len(got) != len(payloads) {
		t.Fatalf("expected %d forwarded payloads, got %d", len(payloads), len(got))
	}
	for i := range payloads {
		if got[i] != payloads[i] {
			t.Errorf("payload %d: got %q, want %q", i, got[i], payloads[i])
		}
	}

	// One assistant delta becomes exactly one tagged media frame.
	delta := b64("assistant audio")
	leg.getHandlers().AudioDelta(delta)

	frames := tele.sent()
	if len(frames) != 1 {
		t.Fatalf("expected 1 outbound frame, got %d", len(frames))
	}
	var out struct {
		Event     string `json:"event"`
		StreamSid string `json:"streamSid"`
		Media     struct {
			Payload string `json:"payload"`
		} `json:"media"`
	}
	if err := json.Unmarshal(frames[0], &out); err != nil {
		t.Fatalf("outbound frame is not valid JSON: %v", err)
	}
	if out.Event != "media" || out.StreamSid != "MZ100" || out.Media.Payload != delta {
		t.Errorf("unexpected outbound frame: %s", frames[0])
	}

	sc.RouteFrame(stopFrame("MZ100"))

	waitFor(t, func() bool { return bridge.Registry().Get("MZ100") == nil }, "session not removed after stop")
	if !leg.isClosed() {
		t.Error("AI leg not closed after stop")
	}
	if !tele.isClosed() {
		t.Error("telephony leg not closed after stop")
	}
}

func TestSessionActivatesOnEngineAck(t *testing.T) {
	dialer := &fakeDialer{}
	bridge := newTestBridge(dialer, time.Minute)
	tele := &fakeTeleConn{}
	sc := bridge.NewStreamConn(tele)

	sc.RouteFrame(startFrame("MZ200", ""))

	waitFor(t, func() bool { return dialer.leg(0) != nil && dialer.leg(0).getHandlers().SessionReady != nil },
		"AI leg never attached")

	s := bridge.Registry().Get("MZ200")
	if s.State() != StatePendingAIConnect {
		t.Fatalf("expected pending state before ack, got %s", s.State())
	}

	dialer.leg(0).getHandlers().SessionReady()

	if s.State() != StateActive {
		t.Errorf("expected active after ack, got %s", s.State())
	}
}

func TestAudioDroppedUntilActive(t *testing.T) {
	dialer := &fakeDialer{}
	bridge := newTestBridge(dialer, time.Minute)
	tele := &fakeTeleConn{}
	sc := bridge.NewStreamConn(tele)

	sc.RouteFrame(startFrame("MZ300", "123"))
	waitFor(t, func() bool { return dialer.leg(0) != nil && dialer.leg(0).getHandlers().SessionReady != nil },
		"AI leg never attached")
	leg := dialer.leg(0)

	// Caller audio while pending is dropped, never queued.
	sc.RouteFrame(mediaFrame("MZ300", b64("early")))
	if n := len(leg.sentPayloads()); n != 0 {
		t.Fatalf("expected no forwarded payloads while pending, got %d", n)
	}

	// Assistant audio while pending is dropped too.
	leg.getHandlers().AudioDelta(b64("early delta"))
	if n := len(tele.sent()); n != 0 {
		t.Fatalf("expected no outbound frames while pending, got %d", n)
	}

	leg.getHandlers().SessionReady()

	// Dropped frames are not replayed; only new audio flows.
	sc.RouteFrame(mediaFrame("MZ300", b64("late")))
	got := leg.sentPayloads()
	if len(got) != 1 || got[0] != b64("late") {
		t.Errorf("expected only the post-activation payload, got %v", got)
	}
}

func TestDuplicateStreamSidRejected(t *testing.T) {
	dialer := &fakeDialer{}
	bridge := newTestBridge(dialer, time.Millisecond)
	tele1 := &fakeTeleConn{}
	tele2 := &fakeTeleConn{}
	sc1 := bridge.NewStreamConn(tele1)
	sc2 := bridge.NewStreamConn(tele2)

	sc1.RouteFrame(startFrame("MZ400", "123"))
	waitFor(t, func() bool {
		s := bridge.Registry().Get("MZ400")
		return s != nil && s.State() == StateActive
	}, "first session never became active")
	original := bridge.Registry().Get("MZ400")

	sc2.RouteFrame(startFrame("MZ400", "456"))

	if bridge.Registry().Len() != 1 {
		t.Fatalf("expected 1 registered session, got %d", bridge.Registry().Len())
	}
	if bridge.Registry().Get("MZ400") != original {
		t.Error("duplicate start replaced the existing session")
	}
	if original.State() != StateActive {
		t.Errorf("existing session disturbed by duplicate start: %s", original.State())
	}
	if sc2.sid != "" {
		t.Error("rejected connection should not be bound to the stream")
	}
}

func TestMalformedFramesAreIgnored(t *testing.T) {
	dialer := &fakeDialer{}
	bridge := newTestBridge(dialer, time.Millisecond)
	tele := &fakeTeleConn{}
	sc := bridge.NewStreamConn(tele)

	sc.RouteFrame([]byte("{not json at all"))
	sc.RouteFrame([]byte(`{"event":"mark","streamSid":"MZ500"}`))
	sc.RouteFrame([]byte(`{"event":"media"`))

	// The connection still works afterwards.
	sc.RouteFrame(startFrame("MZ500", ""))
	waitFor(t, func() bool {
		s := bridge.Registry().Get("MZ500")
		return s != nil && s.State() == StateActive
	}, "session never became active after malformed frames")

	sc.RouteFrame(mediaFrame("MZ500", b64("audio")))
	if got := dialer.leg(0).sentPayloads(); len(got) != 1 {
		t.Errorf("expected 1 forwarded payload, got %d", len(got))
	}
}

func TestInvalidPayloadDroppedPerFrame(t *testing.T) {
	dialer := &fakeDialer{}
	bridge := newTestBridge(dialer, time.Millisecond)
	tele := &fakeTeleConn{}
	sc := bridge.NewStreamConn(tele)

	sc.RouteFrame(startFrame("MZ600", ""))
	waitFor(t, func() bool {
		s := bridge.Registry().Get("MZ600")
		return s != nil && s.State() == StateActive
	}, "session never became active")

	sc.RouteFrame(mediaFrame("MZ600", "%%% not base64 %%%"))

	s := bridge.Registry().Get("MZ600")
	if s == nil || s.State() != StateActive {
		t.Fatal("one bad payload must not end the session")
	}

	sc.RouteFrame(mediaFrame("MZ600", b64("good")))
	got := dialer.leg(0).sentPayloads()
	if len(got) != 1 || got[0] != b64("good") {
		t.Errorf("expected only the valid payload to be forwarded, got %v", got)
	}
}

func TestMediaWithoutSessionIsDropped(t *testing.T) {
	dialer := &fakeDialer{}
	bridge := newTestBridge(dialer, time.Millisecond)
	sc := bridge.NewStreamConn(&fakeTeleConn{})

	// Media before any start frame.
	sc.RouteFrame(mediaFrame("MZ700", b64("audio")))
	// Stop for a sid that never existed.
	sc.RouteFrame(stopFrame("MZ700"))

	if bridge.Registry().Len() != 0 {
		t.Errorf("expected empty registry, got %d", bridge.Registry().Len())
	}
}

func TestTransportDropTearsDownSession(t *testing.T) {
	dialer := &fakeDialer{}
	bridge := newTestBridge(dialer, time.Millisecond)
	tele := &fakeTeleConn{}
	sc := bridge.NewStreamConn(tele)

	sc.RouteFrame(startFrame("MZ800", ""))
	waitFor(t, func() bool {
		s := bridge.Registry().Get("MZ800")
		return s != nil && s.State() == StateActive
	}, "session never became active")
	leg := dialer.leg(0)

	sc.Teardown()

	if bridge.Registry().Get("MZ800") != nil {
		t.Error("session still registered after transport drop")
	}
	if !leg.isClosed() {
		t.Error("AI leg not closed after transport drop")
	}
}

func TestDialFailureFailsSession(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("engine unreachable")}
	bridge := newTestBridge(dialer, time.Millisecond)
	tele := &fakeTeleConn{}
	sc := bridge.NewStreamConn(tele)

	sc.RouteFrame(startFrame("MZ900", ""))

	waitFor(t, func() bool { return tele.isClosed() }, "telephony leg not closed after dial failure")
	waitFor(t, func() bool { return bridge.Registry().Get("MZ900") == nil }, "session not removed after dial failure")
}

func TestSessionConfigFailureFailsSession(t *testing.T) {
	leg := &fakeAILeg{updateErr: errors.New("update rejected")}
	dial := func(ctx context.Context) (AILeg, error) { return leg, nil }
	bridge := NewBridge(Config{SettleDelay: time.Millisecond}, testPersonas(), dial, zap.NewNop())
	tele := &fakeTeleConn{}
	sc := bridge.NewStreamConn(tele)

	sc.RouteFrame(startFrame("MZ910", ""))

	waitFor(t, func() bool { return tele.isClosed() && leg.isClosed() },
		"session not torn down after failed configuration")
}

func TestConcurrentCallsAreIndependent(t *testing.T) {
	dialer := &fakeDialer{}
	bridge := newTestBridge(dialer, time.Millisecond)
	tele1 := &fakeTeleConn{}
	tele2 := &fakeTeleConn{}
	sc1 := bridge.NewStreamConn(tele1)
	sc2 := bridge.NewStreamConn(tele2)

	sc1.RouteFrame(startFrame("MZ1000", "123"))
	sc2.RouteFrame(startFrame("MZ2000", "456"))

	waitFor(t, func() bool {
		a := bridge.Registry().Get("MZ1000")
		b := bridge.Registry().Get("MZ2000")
		return a != nil && a.State() == StateActive && b != nil && b.State() == StateActive
	}, "sessions never became active")

	// Each session got its own persona.
	var gotPrompts []string
	for i := 0; i < 2; i++ {
		gotPrompts = append(gotPrompts, dialer.leg(i).sessionUpdates()[0].Instructions)
	}
	want := map[string]bool{"You are persona one.": true, "You are persona two.": true}
	for _, p := range gotPrompts {
		if !want[p] {
			t.Errorf("unexpected instructions %q", p)
		}
		delete(want, p)
	}

	// Ending one call leaves the other flowing.
	sc1.RouteFrame(stopFrame("MZ1000"))
	waitFor(t, func() bool { return bridge.Registry().Get("MZ1000") == nil }, "first session not removed")

	s2 := bridge.Registry().Get("MZ2000")
	if s2 == nil || s2.State() != StateActive {
		t.Fatal("second session disturbed by first session's stop")
	}
	sc2.RouteFrame(mediaFrame("MZ2000", b64("still flowing")))

	var second *fakeAILeg
	for i := 0; i < 2; i++ {
		if dialer.leg(i).sessionUpdates()[0].Instructions == "You are persona two." {
			second = dialer.leg(i)
		}
	}
	if got := second.sentPayloads(); len(got) != 1 {
		t.Errorf("expected second session to keep forwarding, got %d payloads", len(got))
	}
}

func TestStopFromOtherConnectionIgnored(t *testing.T) {
	dialer := &fakeDialer{}
	bridge := newTestBridge(dialer, time.Millisecond)
	tele1 := &fakeTeleConn{}
	tele2 := &fakeTeleConn{}
	sc1 := bridge.NewStreamConn(tele1)
	sc2 := bridge.NewStreamConn(tele2)

	sc1.RouteFrame(startFrame("MZ4000", "123"))
	sc2.RouteFrame(startFrame("MZ4100", "456"))
	waitFor(t, func() bool {
		a := bridge.Registry().Get("MZ4000")
		b := bridge.Registry().Get("MZ4100")
		return a != nil && a.State() == StateActive && b != nil && b.State() == StateActive
	}, "sessions never became active")

	// A stop naming the first stream routed over the second connection
	// must not reach the first session.
	sc2.RouteFrame(stopFrame("MZ4000"))

	s1 := bridge.Registry().Get("MZ4000")
	if s1 == nil || s1.State() != StateActive {
		t.Fatal("stop on another connection tore down a foreign session")
	}
	if bridge.Registry().Get("MZ4100") == nil {
		t.Fatal("second session removed by its own connection's foreign stop")
	}

	// The owning connection's stop still works.
	sc1.RouteFrame(stopFrame("MZ4000"))
	waitFor(t, func() bool { return bridge.Registry().Get("MZ4000") == nil },
		"session not removed by its own connection's stop")

	s2 := bridge.Registry().Get("MZ4100")
	if s2 == nil || s2.State() != StateActive {
		t.Error("second session disturbed by first session's stop")
	}
}

// fakeWSConn drives handleConnection directly: reads come from a channel,
// data writes are instrumented to detect overlapping entries, and control
// frames are recorded separately.
type fakeWSConn struct {
	frames    chan []byte
	closeOnce sync.Once

	mu            sync.Mutex
	written       [][]byte
	pings         int
	pingsViaWrite int

	inWrite atomic.Bool
	overlap atomic.Bool
}

func newFakeWSConn() *fakeWSConn {
	return &fakeWSConn{frames: make(chan []byte, 16)}
}

func (f *fakeWSConn) ReadMessage() (int, []byte, error) {
	msg, ok := <-f.frames
	if !ok {
		return 0, nil, errors.New("use of closed connection")
	}
	return websocket.TextMessage, msg, nil
}

func (f *fakeWSConn) WriteMessage(messageType int, data []byte) error {
	if !f.inWrite.CompareAndSwap(false, true) {
		f.overlap.Store(true)
	}
	time.Sleep(100 * time.Microsecond)
	f.inWrite.Store(false)

	f.mu.Lock()
	defer f.mu.Unlock()
	if messageType == websocket.PingMessage {
		f.pingsViaWrite++
		return nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.written = append(f.written, cp)
	return nil
}

func (f *fakeWSConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if messageType == websocket.PingMessage {
		f.pings++
	}
	return nil
}

func (f *fakeWSConn) Close() error {
	f.closeOnce.Do(func() { close(f.frames) })
	return nil
}

func (f *fakeWSConn) SetReadDeadline(t time.Time) error { return nil }

func (f *fakeWSConn) SetPongHandler(h func(appData string) error) {}

func (f *fakeWSConn) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func (f *fakeWSConn) pingsThroughDataPath() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingsViaWrite
}

func TestKeepaliveDoesNotContendWithMediaWrites(t *testing.T) {
	dialer := &fakeDialer{}
	bridge := newTestBridge(dialer, time.Millisecond)
	conn := newFakeWSConn()

	done := make(chan struct{})
	go func() {
		bridge.handleConnection(conn, 2*time.Millisecond)
		close(done)
	}()

	conn.frames <- startFrame("MZ5000", "")
	waitFor(t, func() bool {
		s := bridge.Registry().Get("MZ5000")
		return s != nil && s.State() == StateActive
	}, "session never became active")
	leg := dialer.leg(0)

	// Stream assistant audio onto the connection while the keepalive
	// ticker fires repeatedly.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				leg.getHandlers().AudioDelta(b64("delta"))
				time.Sleep(50 * time.Microsecond)
			}
		}
	}()

	waitFor(t, func() bool { return conn.pingCount() >= 3 }, "no keepalive pings observed")
	close(stop)
	wg.Wait()

	if n := conn.pingsThroughDataPath(); n != 0 {
		t.Errorf("%d pings went through the data write path", n)
	}
	if conn.overlap.Load() {
		t.Error("overlapping data writes on the telephony connection")
	}

	conn.Close()
	<-done
}

func droppedFrameCounts(t *testing.T) map[string]int64 {
	t.Helper()
	frames, ok := metrics.GetMetrics()["frames"].(map[string]interface{})
	if !ok {
		t.Fatal("metrics snapshot missing frames section")
	}
	counts, ok := frames["dropped"].(map[string]int64)
	if !ok {
		t.Fatal("metrics snapshot missing dropped counts")
	}
	return counts
}

func TestDroppedFramesCountedByArrivalLeg(t *testing.T) {
	dialer := &fakeDialer{}
	bridge := newTestBridge(dialer, time.Minute)
	tele := &fakeTeleConn{}
	sc := bridge.NewStreamConn(tele)

	sc.RouteFrame(startFrame("MZ6000", ""))
	waitFor(t, func() bool { return dialer.leg(0) != nil && dialer.leg(0).getHandlers().SessionReady != nil },
		"AI leg never attached")
	leg := dialer.leg(0)

	before := droppedFrameCounts(t)

	// Caller audio dropped while pending arrived on the telephony leg.
	sc.RouteFrame(mediaFrame("MZ6000", b64("early")))
	// Assistant audio dropped while pending arrived on the AI leg.
	leg.getHandlers().AudioDelta(b64("early delta"))
	// Media on a connection with no session arrived on the telephony leg.
	orphan := bridge.NewStreamConn(&fakeTeleConn{})
	orphan.RouteFrame(mediaFrame("MZ6100", b64("orphan")))

	after := droppedFrameCounts(t)
	if got := after[metrics.LegTelephony] - before[metrics.LegTelephony]; got != 2 {
		t.Errorf("expected 2 telephony-leg drops, got %d", got)
	}
	if got := after[metrics.LegAI] - before[metrics.LegAI]; got != 1 {
		t.Errorf("expected 1 ai-leg drop, got %d", got)
	}
}

func TestManyFramesPassThroughInOrder(t *testing.T) {
	dialer := &fakeDialer{}
	bridge := newTestBridge(dialer, time.Millisecond)
	tele := &fakeTeleConn{}
	sc := bridge.NewStreamConn(tele)

	sc.RouteFrame(startFrame("MZ3000", ""))
	waitFor(t, func() bool {
		s := bridge.Registry().Get("MZ3000")
		return s != nil && s.State() == StateActive
	}, "session never became active")

	const n = 500
	for i := 0; i < n; i++ {
		sc.RouteFrame(mediaFrame("MZ3000", b64(fmt.Sprintf("frame-%d", i))))
	}

	got := dialer.leg(0).sentPayloads()
	if len(got) != n {
		t.Fatalf("expected %d forwarded payloads, got %d", n, len(got))
	}
	for i := 0; i < n; i++ {
		if got[i] != b64(fmt.Sprintf("frame-%d", i)) {
			t.Fatalf("payload %d out of order", i)
		}
	}
}
