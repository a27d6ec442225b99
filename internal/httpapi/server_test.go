package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trishajanath/AltX-sub003/internal/builderapi"
	"github.com/trishajanath/AltX-sub003/internal/builds"
	"github.com/trishajanath/AltX-sub003/internal/config"
	"github.com/trishajanath/AltX-sub003/internal/observability"
	"github.com/trishajanath/AltX-sub003/internal/protocol"
	"github.com/trishajanath/AltX-sub003/internal/session"
)

var testMetricsSeq atomic.Int64

func newTestServer(t *testing.T) (*Server, *session.Manager) {
	t.Helper()
	cfg := config.Config{
		SessionInactivityTimeout: 2 * time.Minute,
		BackendMode:              "mock",
		BackendTimeout:           5 * time.Second,
		VoiceLocale:              "en-US",
		AllowAnyOrigin:           true,
	}
	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", testMetricsSeq.Add(1)))
	backend, err := builderapi.New(builderapi.Config{Mode: "mock"})
	if err != nil {
		t.Fatalf("builderapi.New() error = %v", err)
	}
	return New(cfg, sessions, backend, builds.NewInMemoryStore(), nil, metrics, nil), sessions
}

func TestCreateAndEndSession(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body, _ := json.Marshal(map[string]string{"user_id": "user-1"})
	res, err := http.Post(ts.URL+"/v1/voice/session", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create session request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var created map[string]any
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	sessionID, _ := created["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("missing session_id in create response: %+v", created)
	}

	endRes, err := http.Post(ts.URL+"/v1/voice/session/"+sessionID+"/end", "application/json", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("end session request error = %v", err)
	}
	defer endRes.Body.Close()
	if endRes.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want %d", endRes.StatusCode, http.StatusOK)
	}
}

func TestListBuildsRequiresSessionID(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/v1/builds")
	if err != nil {
		t.Fatalf("GET /v1/builds error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestListBuildsReturnsRecords(t *testing.T) {
	srv, _ := newTestServer(t)
	if err := srv.builds.Save(context.Background(), builds.Record{
		ID:        "b1",
		SessionID: "s1",
		Idea:      "todo app",
		Status:    builds.StatusSucceeded,
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/v1/builds?session_id=s1")
	if err != nil {
		t.Fatalf("GET /v1/builds error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var payload struct {
		SessionID string          `json:"session_id"`
		Builds    []builds.Record `json:"builds"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Builds) != 1 || payload.Builds[0].ID != "b1" {
		t.Fatalf("builds = %+v, want the saved record", payload.Builds)
	}
}

func TestSessionWSTextInputRoundTrip(t *testing.T) {
	srv, sessions := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	sess := sessions.Create("user-1")
	wsURL := strings.Replace(ts.URL, "http://", "ws://", 1) + "/v1/voice/session/ws?session_id=" + sess.ID

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial error = %v", err)
	}
	defer conn.Close()

	control := protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: sess.ID,
		Action:    protocol.ActionTextInput,
		Text:      "I want a todo app",
	}
	if err := conn.WriteJSON(control); err != nil {
		t.Fatalf("write control error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	sawUser := false
	sawAssistant := false
	for !sawUser || !sawAssistant {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read error = %v (user=%v assistant=%v)", err, sawUser, sawAssistant)
		}
		if msg["type"] != string(protocol.TypeConversationMessage) {
			continue
		}
		switch msg["role"] {
		case "user":
			if msg["content"] != "I want a todo app" {
				t.Fatalf("user content = %v", msg["content"])
			}
			sawUser = true
		case "assistant":
			sawAssistant = true
		}
	}
}

func TestSessionWSRejectsUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/v1/voice/session/ws?session_id=nope")
	if err != nil {
		t.Fatalf("GET ws endpoint error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}
