package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/roundtable/internal/config"
	"github.com/antoniostano/roundtable/internal/hub"
	"github.com/antoniostano/roundtable/internal/observability"
	"github.com/antoniostano/roundtable/internal/persona"
	"github.com/antoniostano/roundtable/internal/protocol"
	"github.com/antoniostano/roundtable/internal/scheduler"
	"github.com/antoniostano/roundtable/internal/session"
)

type Server struct {
	cfg      config.Config
	store    *session.Store
	sched    *scheduler.Scheduler
	hub      *hub.Hub
	registry *persona.Registry
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, store *session.Store, sched *scheduler.Scheduler, h *hub.Hub, registry *persona.Registry, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		sched:    sched,
		hub:      h,
		registry: registry,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser clients unless explicitly opened
				// up; non-browser clients without an Origin are allowed.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
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

	r.Post("/v1/panel/session", s.handleCreateSession)
	r.Post("/v1/panel/session/{id}/start", s.handleStart)
	r.Post("/v1/panel/session/{id}/pause", s.handlePause)
	r.Post("/v1/panel/session/{id}/resume", s.handleResume)
	r.Post("/v1/panel/session/{id}/end", s.handleEnd)
	r.Post("/v1/panel/session/{id}/message", s.handleUserMessage)
	r.Get("/v1/panel/session/ws", s.handleSessionWS)
	r.Get("/v1/panel/session/{id}", s.handleGetSession)
	r.Get("/v1/panel/sessions", s.handleListSessions)
	r.Get("/v1/panel/personas", s.handleListPersonas)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"panel_size": s.registry.Len(),
	})
}

type createSessionRequest struct {
	SessionID     string `json:"session_id"`
	Topic         string `json:"topic"`
	ExternalID    string `json:"external_id"`
	MaxTurns      int    `json:"max_turns"`
	MaxDurationMS int64  `json:"max_duration_ms"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		respondError(w, http.StatusBadRequest, "missing_topic", "topic is required")
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		req.SessionID = uuid.NewString()
	}
	if strings.TrimSpace(req.ExternalID) == "" {
		req.ExternalID = req.SessionID
	}

	budget := session.Budget{
		MaxDuration: s.cfg.DefaultMaxDuration,
		MaxTurns:    s.cfg.DefaultMaxTurns,
	}
	if req.MaxDurationMS > 0 {
		budget.MaxDuration = time.Duration(req.MaxDurationMS) * time.Millisecond
	}
	if req.MaxTurns > 0 {
		budget.MaxTurns = req.MaxTurns
	}

	sess, err := s.store.Create(req.SessionID, strings.TrimSpace(req.Topic), req.ExternalID, budget)
	if err != nil {
		respondError(w, http.StatusConflict, "session_exists", err.Error())
		return
	}
	s.metrics.SessionEvents.WithLabelValues("created").Inc()
	respondJSON(w, http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.sched.Start, "start")
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.sched.Pause, "pause")
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.sched.Resume, "resume")
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, func(id string) error {
		return s.sched.End(id, "ended by request")
	}, "end")
}

func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request, op func(string) error, name string) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	if err := op(id); err != nil {
		respondLifecycleError(w, name, err)
		return
	}
	sess, err := s.store.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess.Snapshot())
}

type userMessageRequest struct {
	Author string `json:"author"`
	Text   string `json:"text"`
}

func (s *Server) handleUserMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req userMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "missing_text", "text is required")
		return
	}
	if err := s.sched.UserMessage(id, req.Author, req.Text); err != nil {
		respondLifecycleError(w, "message", err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.store.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"sessions": s.store.List(),
	})
}

func (s *Server) handleListPersonas(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"personas": s.registry.List(),
	})
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	sess, err := s.store.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	sub := s.hub.Subscribe(sessionID)
	defer s.hub.Unsubscribe(sub)

	// Local events (snapshot, parse errors) merge into the same writer so
	// websocket writes stay single-threaded.
	local := make(chan any, 16)
	local <- snapshotEvent(sess.Snapshot())

	done := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-done:
				return
			case msg := <-local:
				if s.writeEvent(conn, msg) != nil {
					return
				}
			case msg, ok := <-sub.Events():
				if !ok {
					return
				}
				if s.writeEvent(conn, msg) != nil {
					return
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
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
			s.queueLocal(local, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Detail:    err.Error(),
			})
			continue
		}

		switch msg := parsed.(type) {
		case protocol.UserMessage:
			if err := s.sched.UserMessage(sessionID, msg.Author, msg.Text); err != nil {
				s.queueLocal(local, protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sessionID,
					Code:      "message_rejected",
					Detail:    err.Error(),
				})
			}
		case protocol.ClientControl:
			var opErr error
			switch msg.Action {
			case protocol.ActionPause:
				opErr = s.sched.Pause(sessionID)
			case protocol.ActionResume:
				opErr = s.sched.Resume(sessionID)
			case protocol.ActionEnd:
				opErr = s.sched.End(sessionID, "ended by request")
			}
			if opErr != nil {
				s.queueLocal(local, protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sessionID,
					Code:      "control_rejected",
					Detail:    opErr.Error(),
				})
			}
		}
	}

	close(done)
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

func (s *Server) writeEvent(conn *websocket.Conn, msg any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg)
}

func (s *Server) queueLocal(local chan any, evt any) {
	select {
	case local <- evt:
	default:
		s.metrics.BroadcastDrops.WithLabelValues(string(protocol.TypeErrorEvent)).Inc()
	}
}

func snapshotEvent(snap session.Snapshot) protocol.StatusSnapshot {
	return protocol.StatusSnapshot{
		Type:          protocol.TypeStatusSnapshot,
		SessionID:     snap.ID,
		Status:        string(snap.Status),
		Topic:         snap.Topic,
		TurnCount:     snap.TurnCount,
		MaxTurns:      snap.MaxTurns,
		ElapsedMS:     snap.ElapsedMS,
		MaxDurationMS: snap.MaxDurationMS,
		LastSpeakerID: snap.LastSpeakerID,
	}
}

func respondLifecycleError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, scheduler.ErrInvalidStatus):
		respondError(w, http.StatusConflict, "invalid_status", err.Error())
	case errors.Is(err, scheduler.ErrMissingConfig):
		respondError(w, http.StatusUnprocessableEntity, "missing_configuration", err.Error())
	default:
		respondError(w, http.StatusBadRequest, op+"_failed", err.Error())
	}
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
