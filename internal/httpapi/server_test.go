package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/roundtable/internal/archive"
	"github.com/antoniostano/roundtable/internal/brain"
	"github.com/antoniostano/roundtable/internal/config"
	"github.com/antoniostano/roundtable/internal/hub"
	"github.com/antoniostano/roundtable/internal/observability"
	"github.com/antoniostano/roundtable/internal/persona"
	"github.com/antoniostano/roundtable/internal/protocol"
	"github.com/antoniostano/roundtable/internal/scheduler"
	"github.com/antoniostano/roundtable/internal/session"
	"github.com/antoniostano/roundtable/internal/speech"
)

var metricsSeq atomic.Int64

func newTestServer(t *testing.T) (*httptest.Server, *session.Store) {
	t.Helper()

	cfg := config.Config{
		DefaultMaxDuration: time.Minute,
		DefaultMaxTurns:    50,
	}
	store := session.NewStore(time.Minute)
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", metricsSeq.Add(1)))
	h := hub.New(nil)
	registry := persona.DefaultPanel()
	sched := scheduler.New(
		store,
		registry,
		brain.NewMockAdapter(),
		speech.NewNoopRenderer(),
		speech.Estimator{WordsPerMinute: 600000, Floor: time.Millisecond},
		archive.NewInMemoryStore(),
		h,
		metrics,
		scheduler.Config{
			// A long gap keeps autonomous pacing out of the way; tests drive
			// every transition explicitly.
			InterTurnGap:      5 * time.Second,
			ResumeDelay:       5 * time.Second,
			UserResponseDelay: 5 * time.Millisecond,
		},
		nil,
	)
	srv := New(cfg, store, sched, h, registry, metrics)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, store
}

func postJSON(t *testing.T, url string, payload any) (*http.Response, map[string]any) {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	res, err := http.Post(url, "application/json", &body)
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	defer res.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(res.Body).Decode(&decoded)
	return res, decoded
}

func TestSessionLifecycleEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	res, created := postJSON(t, ts.URL+"/v1/panel/session", map[string]any{
		"topic":     "the future of urban transit",
		"max_turns": 10,
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	sessionID, _ := created["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("missing session_id in create response: %+v", created)
	}
	if created["status"] != string(session.StatusPrepared) {
		t.Fatalf("status = %v, want %v", created["status"], session.StatusPrepared)
	}
	if created["external_id"] != sessionID {
		t.Fatalf("external_id = %v, want session id default %q", created["external_id"], sessionID)
	}

	res, started := postJSON(t, ts.URL+"/v1/panel/session/"+sessionID+"/start", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if started["status"] != string(session.StatusActive) {
		t.Fatalf("status after start = %v, want %v", started["status"], session.StatusActive)
	}
	if tc, _ := started["turn_count"].(float64); tc < 1 {
		t.Fatalf("turn_count after start = %v, want >= 1 (opening turn)", started["turn_count"])
	}

	// A second start is rejected: only prepared sessions start.
	res, _ = postJSON(t, ts.URL+"/v1/panel/session/"+sessionID+"/start", nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("restart status = %d, want %d", res.StatusCode, http.StatusConflict)
	}

	res, paused := postJSON(t, ts.URL+"/v1/panel/session/"+sessionID+"/pause", nil)
	if res.StatusCode != http.StatusOK || paused["status"] != string(session.StatusPaused) {
		t.Fatalf("pause = %d %v, want 200 paused", res.StatusCode, paused["status"])
	}
	res, resumed := postJSON(t, ts.URL+"/v1/panel/session/"+sessionID+"/resume", nil)
	if res.StatusCode != http.StatusOK || resumed["status"] != string(session.StatusActive) {
		t.Fatalf("resume = %d %v, want 200 active", res.StatusCode, resumed["status"])
	}

	res, ended := postJSON(t, ts.URL+"/v1/panel/session/"+sessionID+"/end", nil)
	if res.StatusCode != http.StatusOK || ended["status"] != string(session.StatusEnded) {
		t.Fatalf("end = %d %v, want 200 ended", res.StatusCode, ended["status"])
	}

	getRes, err := http.Get(ts.URL + "/v1/panel/session/" + sessionID)
	if err != nil {
		t.Fatalf("GET session error = %v", err)
	}
	defer getRes.Body.Close()
	if getRes.StatusCode != http.StatusOK {
		t.Fatalf("GET session status = %d, want %d", getRes.StatusCode, http.StatusOK)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	res, _ := postJSON(t, ts.URL+"/v1/panel/session", map[string]any{"topic": "   "})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank topic status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}

	res, _ = postJSON(t, ts.URL+"/v1/panel/session", map[string]any{
		"session_id": "dup-1",
		"topic":      "first",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	res, _ = postJSON(t, ts.URL+"/v1/panel/session", map[string]any{
		"session_id": "dup-1",
		"topic":      "second",
	})
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate create status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, path := range []string{
		"/v1/panel/session/nope/start",
		"/v1/panel/session/nope/pause",
		"/v1/panel/session/nope/end",
	} {
		res, _ := postJSON(t, ts.URL+path, nil)
		if res.StatusCode != http.StatusNotFound {
			t.Fatalf("POST %s status = %d, want %d", path, res.StatusCode, http.StatusNotFound)
		}
	}

	res, err := http.Get(ts.URL + "/v1/panel/session/nope")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("GET status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestUserMessageEndpoint(t *testing.T) {
	ts, store := newTestServer(t)

	_, created := postJSON(t, ts.URL+"/v1/panel/session", map[string]any{"topic": "AI and privacy"})
	sessionID := created["session_id"].(string)
	postJSON(t, ts.URL+"/v1/panel/session/"+sessionID+"/start", nil)

	res, _ := postJSON(t, ts.URL+"/v1/panel/session/"+sessionID+"/message", map[string]any{"text": "   "})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank text status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}

	res, _ = postJSON(t, ts.URL+"/v1/panel/session/"+sessionID+"/message", map[string]any{
		"author": "Jo",
		"text":   "What about the economics of all this?",
	})
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("message status = %d, want %d", res.StatusCode, http.StatusAccepted)
	}

	// Opening turn + user turn, then a persona reply after the short delay.
	deadline := time.Now().Add(2 * time.Second)
	for {
		sess, err := store.Get(sessionID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if snap := sess.Snapshot(); snap.TurnCount >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("persona did not reply to the user message in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestListEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	postJSON(t, ts.URL+"/v1/panel/session", map[string]any{"topic": "one"})
	postJSON(t, ts.URL+"/v1/panel/session", map[string]any{"topic": "two"})

	res, err := http.Get(ts.URL + "/v1/panel/sessions")
	if err != nil {
		t.Fatalf("GET sessions error = %v", err)
	}
	defer res.Body.Close()
	var listed struct {
		Sessions []session.Snapshot `json:"sessions"`
	}
	if err := json.NewDecoder(res.Body).Decode(&listed); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(listed.Sessions) != 2 {
		t.Fatalf("len(sessions) = %d, want 2", len(listed.Sessions))
	}

	pres, err := http.Get(ts.URL + "/v1/panel/personas")
	if err != nil {
		t.Fatalf("GET personas error = %v", err)
	}
	defer pres.Body.Close()
	var panel struct {
		Personas []persona.Persona `json:"personas"`
	}
	if err := json.NewDecoder(pres.Body).Decode(&panel); err != nil {
		t.Fatalf("decode personas: %v", err)
	}
	if len(panel.Personas) == 0 {
		t.Fatal("GET personas returned an empty panel")
	}
}

func TestWebSocketSnapshotTurnsAndControls(t *testing.T) {
	ts, _ := newTestServer(t)

	_, created := postJSON(t, ts.URL+"/v1/panel/session", map[string]any{"topic": "deep sea mining"})
	sessionID := created["session_id"].(string)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/panel/session/ws?session_id=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial error = %v", err)
	}
	defer conn.Close()

	readEnvelope := func() (protocol.MessageType, []byte) {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("websocket read error = %v", err)
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		return env.Type, data
	}

	typ, data := readEnvelope()
	if typ != protocol.TypeStatusSnapshot {
		t.Fatalf("first message type = %q, want %q", typ, protocol.TypeStatusSnapshot)
	}
	var snap protocol.StatusSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.SessionID != sessionID || snap.Status != string(session.StatusPrepared) {
		t.Fatalf("snapshot = %+v, want prepared session %q", snap, sessionID)
	}

	postJSON(t, ts.URL+"/v1/panel/session/"+sessionID+"/start", nil)

	typ, data = readEnvelope()
	if typ != protocol.TypeTurnEvent {
		t.Fatalf("after start message type = %q, want %q", typ, protocol.TypeTurnEvent)
	}
	var turn protocol.TurnEvent
	if err := json.Unmarshal(data, &turn); err != nil {
		t.Fatalf("decode turn: %v", err)
	}
	if turn.Seq != 1 || turn.Text == "" {
		t.Fatalf("opening turn = %+v, want seq 1 with text", turn)
	}

	end := protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: sessionID,
		Action:    protocol.ActionEnd,
	}
	if err := conn.WriteJSON(end); err != nil {
		t.Fatalf("write control error = %v", err)
	}

	for {
		typ, _ = readEnvelope()
		if typ == protocol.TypeEndedEvent {
			break
		}
	}
}

func TestWebSocketRejectsUnknownSessionAndBadPayload(t *testing.T) {
	ts, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/panel/session/ws?session_id=missing"
	_, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dial succeeded for unknown session, want handshake failure")
	}
	if res == nil || res.StatusCode != http.StatusNotFound {
		t.Fatalf("handshake status = %v, want %d", res, http.StatusNotFound)
	}

	_, created := postJSON(t, ts.URL+"/v1/panel/session", map[string]any{"topic": "bad payloads"})
	sessionID := created["session_id"].(string)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/panel/session/ws?session_id="+sessionID, nil)
	if err != nil {
		t.Fatalf("websocket dial error = %v", err)
	}
	defer conn.Close()

	// Drain the snapshot first.
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read snapshot error = %v", err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"launch_missiles"}`)); err != nil {
		t.Fatalf("write error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read error event error = %v", err)
	}
	var evt protocol.ErrorEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("decode error event: %v", err)
	}
	if evt.Type != protocol.TypeErrorEvent || evt.Code != "invalid_client_message" {
		t.Fatalf("error event = %+v, want invalid_client_message", evt)
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want %d", path, res.StatusCode, http.StatusOK)
		}
	}
}
