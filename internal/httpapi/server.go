package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/trishajanath/AltX-sub003/internal/builderapi"
	"github.com/trishajanath/AltX-sub003/internal/builds"
	"github.com/trishajanath/AltX-sub003/internal/capture"
	"github.com/trishajanath/AltX-sub003/internal/config"
	"github.com/trishajanath/AltX-sub003/internal/conversation"
	"github.com/trishajanath/AltX-sub003/internal/observability"
	"github.com/trishajanath/AltX-sub003/internal/protocol"
	"github.com/trishajanath/AltX-sub003/internal/session"
	"github.com/trishajanath/AltX-sub003/internal/synth"
	"github.com/trishajanath/AltX-sub003/internal/voice"
)

type Server struct {
	cfg       config.Config
	sessions  *session.Manager
	backend   builderapi.Backend
	builds    builds.Store
	ttsClient synth.Client
	metrics   *observability.Metrics
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

func New(
	cfg config.Config,
	sessions *session.Manager,
	backend builderapi.Backend,
	buildStore builds.Store,
	ttsClient synth.Client,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttsClient == nil {
		ttsClient = synth.NewMockClient()
	}
	return &Server{
		cfg:       cfg,
		sessions:  sessions,
		backend:   backend,
		builds:    buildStore,
		ttsClient: ttsClient,
		metrics:   metrics,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Same-origin only unless explicitly opened up: another site
				// must not be able to drive the user's microphone session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/voice/session", s.handleCreateSession)
	r.Post("/v1/voice/session/{id}/end", s.handleEndSession)
	r.Get("/v1/voice/session/ws", s.handleSessionWS)
	r.Get("/v1/builds", s.handleListBuilds)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"backend_mode": s.cfg.BackendMode,
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}

	sess := s.sessions.Create(req.UserID)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		StartedAt:       sess.StartedAt,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.builds.BySession(r.Context(), sessionID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "builds_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"builds":     records,
	})
}

// wsSink forwards narration audio to the websocket writer as base64 chunks.
type wsSink struct {
	sessionID string
	turnID    func() string
	outbound  chan<- any
}

func (s *wsSink) PlayChunk(seq int, format string, audio []byte) {
	msg := protocol.AssistantAudioChunk{
		Type:        protocol.TypeAssistantAudioChunk,
		SessionID:   s.sessionID,
		TurnID:      s.turnID(),
		Seq:         seq,
		Format:      format,
		AudioBase64: base64.StdEncoding.EncodeToString(audio),
	}
	select {
	case s.outbound <- msg:
	default:
		// Keep playback non-blocking; a saturated socket loses the chunk.
	}
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if sess.Status != session.StatusActive {
		respondError(w, http.StatusConflict, "session_ended", "session is no longer active")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	s.logger.Info("websocket connected", zap.String("session_id", sess.ID))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)

	// Each connection gets its own conversation, capture lease, and
	// synthesizer. Nothing voice-related is shared across sessions.
	sink := &wsSink{sessionID: sess.ID, outbound: outbound}
	store := conversation.NewStore()
	captureMgr := capture.NewManager(capture.NewLease(), s.cfg.CaptureMaxClipBytes)
	synthesizer := synth.New(s.ttsClient, sink, s.cfg.VoiceLocale)

	orch := voice.NewOrchestrator(
		sess.ID,
		store,
		captureMgr,
		synthesizer,
		s.backend,
		s.builds,
		s.metrics,
		s.logger,
		s.cfg.BackendTimeout,
		outbound,
	)
	sink.turnID = orch.TurnID
	orch.SetTurnTracker(s.sessions)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = orch.Run(ctx, inbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			}
			select {
			case outbound <- errEvent:
			default:
				// Keep websocket writes single-threaded; drop when saturated.
			}
			continue
		}

		_ = s.sessions.Touch(sess.ID)
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
	s.logger.Info("websocket disconnected", zap.String("session_id", sess.ID))
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
