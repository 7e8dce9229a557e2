package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/antoniostano/roundtable/internal/archive"
	"github.com/antoniostano/roundtable/internal/brain"
	"github.com/antoniostano/roundtable/internal/hub"
	"github.com/antoniostano/roundtable/internal/observability"
	"github.com/antoniostano/roundtable/internal/persona"
	"github.com/antoniostano/roundtable/internal/protocol"
	"github.com/antoniostano/roundtable/internal/session"
	"github.com/antoniostano/roundtable/internal/speech"
)

var (
	ErrInvalidStatus = errors.New("request not valid for current session status")
	ErrMissingConfig = errors.New("session is missing required configuration")
)

const (
	generateTimeout   = 45 * time.Second
	synthesizeTimeout = 30 * time.Second
	persistTimeout    = 2 * time.Second
)

// Config holds the pacing knobs for turn scheduling.
type Config struct {
	// InterTurnGap is added to the previous turn's estimated spoken duration
	// to form the autonomous pacing delay.
	InterTurnGap time.Duration
	// ResumeDelay paces the first turn after a resume.
	ResumeDelay time.Duration
	// UserResponseDelay paces the persona reply to a user message.
	UserResponseDelay time.Duration
	// TranscriptWindow bounds how much history the generator sees.
	TranscriptWindow int
}

// Scheduler drives the session state machine: who speaks next, when, and how
// the shared transcript and broadcast stream stay consistent under timer and
// user-driven events. All mutation of one session happens while holding that
// session's lock, including the blocking generation and synthesis calls, so
// lifecycle requests arriving mid-production wait for the in-flight attempt
// to finish and then see its result.
type Scheduler struct {
	store     *session.Store
	registry  *persona.Registry
	brain     brain.Adapter
	renderer  speech.Renderer
	estimator speech.Estimator
	archive   archive.Store
	hub       *hub.Hub
	metrics   *observability.Metrics
	cfg       Config

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(
	store *session.Store,
	registry *persona.Registry,
	brainAdapter brain.Adapter,
	renderer speech.Renderer,
	estimator speech.Estimator,
	archiveStore archive.Store,
	h *hub.Hub,
	metrics *observability.Metrics,
	cfg Config,
	rng *rand.Rand,
) *Scheduler {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.TranscriptWindow <= 0 {
		cfg.TranscriptWindow = 8
	}
	return &Scheduler{
		store:     store,
		registry:  registry,
		brain:     brainAdapter,
		renderer:  renderer,
		estimator: estimator,
		archive:   archiveStore,
		hub:       h,
		metrics:   metrics,
		cfg:       cfg,
		rng:       rng,
	}
}

// Start moves a prepared session to active and produces the seeded opening
// turn from the lead persona.
func (sc *Scheduler) Start(id string) error {
	s, err := sc.store.Get(id)
	if err != nil {
		return err
	}
	s.Lock()
	defer s.Unlock()

	if s.Status != session.StatusPrepared {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, s.Status)
	}
	if strings.TrimSpace(s.Topic) == "" || sc.registry.Len() == 0 {
		s.Status = session.StatusError
		s.EndedAt = time.Now().UTC()
		sc.hub.Publish(s.ID, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: s.ID,
			Code:      "missing_configuration",
			Detail:    "a topic and a non-empty panel are required to start",
		})
		sc.metrics.SessionEvents.WithLabelValues("error").Inc()
		sc.persistStatus(s)
		return ErrMissingConfig
	}

	s.Status = session.StatusActive
	s.StartedAt = time.Now().UTC()
	sc.metrics.SessionEvents.WithLabelValues("started").Inc()
	sc.metrics.ActiveSessions.Inc()
	sc.persistStatus(s)

	lead := sc.registry.Lead()
	sc.produceTurnLocked(s, &lead, "")
	return nil
}

// Pause cancels the pending timer and halts production until resumed.
func (sc *Scheduler) Pause(id string) error {
	s, err := sc.store.Get(id)
	if err != nil {
		return err
	}
	s.Lock()
	defer s.Unlock()

	if s.Status != session.StatusActive {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, s.Status)
	}
	s.CancelTimer()
	s.Status = session.StatusPaused
	sc.hub.Publish(s.ID, protocol.PausedEvent{Type: protocol.TypePausedEvent, SessionID: s.ID})
	sc.metrics.SessionEvents.WithLabelValues("paused").Inc()
	sc.persistStatus(s)
	return nil
}

// Resume schedules the next turn after a short fixed delay.
func (sc *Scheduler) Resume(id string) error {
	s, err := sc.store.Get(id)
	if err != nil {
		return err
	}
	s.Lock()
	defer s.Unlock()

	if s.Status != session.StatusPaused {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, s.Status)
	}
	s.Status = session.StatusActive
	sc.hub.Publish(s.ID, protocol.ResumedEvent{Type: protocol.TypeResumedEvent, SessionID: s.ID})
	sc.metrics.SessionEvents.WithLabelValues("resumed").Inc()
	sc.persistStatus(s)
	sc.armProductionLocked(s, sc.cfg.ResumeDelay, "")
	return nil
}

// UserMessage appends an audience turn out of band from the persona cadence
// and schedules a quick persona response.
func (sc *Scheduler) UserMessage(id, author, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("empty user message")
	}
	s, err := sc.store.Get(id)
	if err != nil {
		return err
	}
	s.Lock()
	defer s.Unlock()

	if s.Status != session.StatusActive {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, s.Status)
	}

	s.CancelTimer()

	name := strings.TrimSpace(author)
	if name == "" {
		name = "Audience"
	}
	dur := sc.estimator.Estimate(text)
	turn := s.Append(session.UserSpeakerID, name, session.TurnUser, text, dur)
	sc.hub.Publish(s.ID, turnEvent(s.ID, turn, nil))
	sc.metrics.TurnsProduced.WithLabelValues(string(session.TurnUser)).Inc()
	sc.persistTurn(s, turn)

	now := time.Now().UTC()
	if s.BudgetExhausted(now) {
		sc.endLocked(s, budgetReason(s))
		return nil
	}
	sc.armProductionLocked(s, sc.cfg.UserResponseDelay, text)
	return nil
}

// End terminates the session. Idempotent: a second end request is a no-op
// and produces no second broadcast.
func (sc *Scheduler) End(id, reason string) error {
	s, err := sc.store.Get(id)
	if err != nil {
		return err
	}
	s.Lock()
	defer s.Unlock()
	sc.endLocked(s, reason)
	return nil
}

func (sc *Scheduler) endLocked(s *session.Session, reason string) {
	if s.Status == session.StatusEnded || s.Status == session.StatusError {
		return
	}
	wasRunning := s.Status == session.StatusActive || s.Status == session.StatusPaused
	s.CancelTimer()
	s.Status = session.StatusEnded
	s.EndedAt = time.Now().UTC()
	if reason == "" {
		reason = "ended by request"
	}

	sc.hub.Publish(s.ID, protocol.EndedEvent{
		Type:      protocol.TypeEndedEvent,
		SessionID: s.ID,
		Reason:    reason,
		Closing:   fmt.Sprintf("That's all the time we have on %q. Thanks for listening.", s.Topic),
	})
	sc.metrics.SessionEvents.WithLabelValues("ended").Inc()
	if wasRunning {
		sc.metrics.ActiveSessions.Dec()
	}
	sc.persistStatus(s)
}

// produceTurnLocked runs one turn production attempt. The session lock is
// held throughout, including the generation and synthesis calls; that is the
// serialization the single-pending-timer invariant relies on.
func (sc *Scheduler) produceTurnLocked(s *session.Session, forced *persona.Persona, userInput string) {
	began := time.Now()
	now := began.UTC()
	if s.BudgetExhausted(now) {
		sc.endLocked(s, budgetReason(s))
		return
	}

	var speaker persona.Persona
	if forced != nil {
		speaker = *forced
	} else {
		speaker = sc.pickSpeaker(s.LastSpeakerID, userInput)
	}

	req := brain.TurnRequest{
		SessionID:    s.ID,
		PersonaID:    speaker.ID,
		PersonaName:  speaker.Name,
		PersonaStyle: speaker.Style,
		Topic:        s.Topic,
		UserInput:    userInput,
	}
	for _, t := range s.RecentWindow(sc.cfg.TranscriptWindow) {
		req.Transcript = append(req.Transcript, brain.Exchange{Speaker: t.SpeakerName, Text: t.Text})
	}

	genCtx, cancel := context.WithTimeout(context.Background(), generateTimeout)
	resp, err := sc.brain.Generate(genCtx, req)
	cancel()
	text := speech.SanitizeForSpeech(resp.Text)
	if err != nil || text == "" {
		// Fail-soft: abandon the attempt without appending, broadcasting or
		// re-arming. The session stalls in active until the next external
		// trigger (user message, pause/resume, end).
		log.Printf("session %s: turn generation for %s abandoned: %v", s.ID, speaker.ID, err)
		sc.metrics.GenerationFailures.Inc()
		return
	}

	dur := sc.estimator.Estimate(text)

	synthCtx, cancel := context.WithTimeout(context.Background(), synthesizeTimeout)
	clip, err := sc.renderer.Synthesize(synthCtx, text, speaker.VoiceID)
	cancel()
	if err != nil {
		// Synthesis failure degrades to a text-only turn.
		log.Printf("session %s: synthesis failed for %s, continuing without audio: %v", s.ID, speaker.ID, err)
		sc.metrics.SynthesisFailures.Inc()
		clip = nil
	}

	turn := s.Append(speaker.ID, speaker.Name, session.TurnPersona, text, dur)
	sc.hub.Publish(s.ID, turnEvent(s.ID, turn, clip))
	sc.metrics.TurnsProduced.WithLabelValues(string(session.TurnPersona)).Inc()
	sc.metrics.ObserveTurnProduction(time.Since(began))
	sc.persistTurn(s, turn)

	// Eligibility is re-checked here: a pause or end that landed during the
	// in-flight calls must not be overridden by a fresh timer.
	now = time.Now().UTC()
	if s.Status != session.StatusActive {
		return
	}
	if s.BudgetExhausted(now) {
		sc.endLocked(s, budgetReason(s))
		return
	}
	sc.armProductionLocked(s, dur+sc.cfg.InterTurnGap, "")
}

func (sc *Scheduler) armProductionLocked(s *session.Session, delay time.Duration, userInput string) {
	s.ArmTimer(delay, func() {
		if s.Status != session.StatusActive {
			return
		}
		sc.produceTurnLocked(s, nil, userInput)
	})
}

func (sc *Scheduler) pickSpeaker(lastSpeakerID, userText string) persona.Persona {
	sc.rngMu.Lock()
	defer sc.rngMu.Unlock()
	return SelectSpeaker(sc.registry.List(), lastSpeakerID, userText, sc.rng)
}

func (sc *Scheduler) persistTurn(s *session.Session, t session.Turn) {
	if sc.archive == nil || s.ExternalID == "" {
		return
	}
	rec := archive.TurnRecord{
		ExternalID:  s.ExternalID,
		SessionID:   s.ID,
		Seq:         t.Seq,
		SpeakerID:   t.SpeakerID,
		SpeakerName: t.SpeakerName,
		Kind:        string(t.Kind),
		Text:        t.Text,
		DurationMS:  t.Duration.Milliseconds(),
		CreatedAt:   t.CreatedAt,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := sc.archive.SaveTurn(ctx, rec); err != nil {
			log.Printf("session %s: archive turn %d failed: %v", rec.SessionID, rec.Seq, err)
		}
	}()
}

func (sc *Scheduler) persistStatus(s *session.Session) {
	if sc.archive == nil || s.ExternalID == "" {
		return
	}
	externalID := s.ExternalID
	sessionID := s.ID
	status := string(s.Status)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := sc.archive.SaveStatus(ctx, externalID, status); err != nil {
			log.Printf("session %s: archive status %s failed: %v", sessionID, status, err)
		}
	}()
}

func turnEvent(sessionID string, t session.Turn, clip *speech.Clip) protocol.TurnEvent {
	evt := protocol.TurnEvent{
		Type:        protocol.TypeTurnEvent,
		SessionID:   sessionID,
		Seq:         t.Seq,
		SpeakerID:   t.SpeakerID,
		SpeakerName: t.SpeakerName,
		Kind:        string(t.Kind),
		Text:        t.Text,
		DurationMS:  t.Duration.Milliseconds(),
		TSMs:        t.CreatedAt.UnixMilli(),
	}
	if clip != nil {
		evt.AudioBase64 = clip.AudioBase64
		evt.AudioFormat = clip.Format
	}
	return evt
}

func budgetReason(s *session.Session) string {
	if s.TurnCount >= s.Budget.MaxTurns {
		return "turn limit reached"
	}
	return "time limit reached"
}
