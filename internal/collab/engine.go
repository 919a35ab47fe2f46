// Package collab implements the real-time collaboration engine: per-document
// sessions, operational-transform merging of concurrent edits, participant
// presence, and update fan-out.
//
// Each session has one logical sequencer: transform, apply, and sequence
// assignment happen atomically under the session mutex, while different
// documents proceed fully in parallel. Broadcast delivery never blocks the
// sequencer; a subscriber whose buffer is full loses the update and is
// expected to resynchronize.
package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Engine errors besides ErrOperationRejected.
var (
	// ErrNotJoined is returned when a participant acts on a document it
	// has not joined.
	ErrNotJoined = errors.New("participant has not joined this document")

	// ErrSessionNotFound is returned for operations on unknown documents.
	ErrSessionNotFound = errors.New("session not found")
)

// EventType discriminates broadcast events.
type EventType string

const (
	// EventOperation carries an accepted, sequenced operation.
	EventOperation EventType = "broadcast_operation"
	// EventPresence carries a participant's cursor update.
	EventPresence EventType = "presence"
	// EventJoin announces a new participant.
	EventJoin EventType = "join"
	// EventLeave announces a departure (explicit or presence-expired).
	EventLeave EventType = "leave"
)

// Event is a single fan-out message delivered to session subscribers.
type Event struct {
	Type        EventType  `json:"type"`
	DocumentID  string     `json:"document_id"`
	Participant string     `json:"participant,omitempty"`
	Operation   *Operation `json:"operation,omitempty"`
	Cursor      int        `json:"cursor,omitempty"`
}

// PresenceRecord is ephemeral per-participant metadata. It is never
// persisted beyond the session's lifetime.
type PresenceRecord struct {
	Participant   string    `json:"participant"`
	Cursor        int       `json:"cursor"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// SessionInfo is the snapshot handed to a joining participant.
type SessionInfo struct {
	DocumentID   string   `json:"document_id"`
	Seq          int64    `json:"seq"`
	Document     string   `json:"document"`
	Participants []string `json:"participants"`
}

// Stats is a snapshot of engine counters for the health monitor.
type Stats struct {
	ActiveSessions int
	Participants   int
}

// Config holds session lifecycle settings.
type Config struct {
	// HeartbeatTimeout is how long a participant may be silent before it
	// is treated as having left.
	HeartbeatTimeout time.Duration

	// SessionIdleTimeout is the grace period an empty session survives
	// before it is destroyed.
	SessionIdleTimeout time.Duration

	// BroadcastBuffer is the per-subscriber event channel capacity.
	BroadcastBuffer int
}

// participant is one connected member of a session.
type participant struct {
	id            string
	cursor        int
	lastHeartbeat time.Time
	events        chan Event
}

// session is the engine's per-document state. All fields are guarded by mu.
type session struct {
	docID        string
	mu           sync.Mutex
	seq          int64
	log          []Operation
	doc          string
	participants map[string]*participant
	emptySince   time.Time // zero while occupied
}

// Engine manages all document sessions.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates a collaboration engine. Call Start to enable the
// presence/idle sweep and Stop to shut it down.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if cfg.BroadcastBuffer <= 0 {
		cfg.BroadcastBuffer = 16
	}
	return &Engine{
		cfg:      cfg,
		logger:   logger.With("component", "collab"),
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// Start launches the background sweep that expires silent participants and
// destroys idle sessions.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.wg.Add(1)
	go e.sweepLoop(ctx)
}

// Stop terminates the sweep and waits for it to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Join adds a participant to the document's session, creating the session on
// first join. It returns a snapshot of the current document state and the
// channel on which the participant receives broadcasts.
func (e *Engine) Join(docID, participantID string) (*SessionInfo, <-chan Event, error) {
	sess := e.getOrCreateSession(docID)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if _, ok := sess.participants[participantID]; ok {
		return nil, nil, fmt.Errorf("participant %q already joined document %q",
			participantID, docID)
	}

	p := &participant{
		id:            participantID,
		lastHeartbeat: e.now(),
		events:        make(chan Event, e.cfg.BroadcastBuffer),
	}
	sess.participants[participantID] = p
	sess.emptySince = time.Time{}

	info := &SessionInfo{
		DocumentID:   docID,
		Seq:          sess.seq,
		Document:     sess.doc,
		Participants: sess.participantIDs(),
	}

	sess.broadcast(participantID, Event{
		Type:        EventJoin,
		DocumentID:  docID,
		Participant: participantID,
	}, e.logger)

	e.logger.Info("participant joined",
		"document_id", docID,
		"participant", participantID,
		"participants", len(sess.participants))
	return info, p.events, nil
}

// SubmitOperation validates, transforms, sequences, applies, and broadcasts
// an operation. The returned operation carries its assigned sequence number.
// Rejections go to the sender only.
func (e *Engine) SubmitOperation(docID, participantID string, op Operation) (Operation, error) {
	sess, err := e.getSession(docID)
	if err != nil {
		return Operation{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if _, ok := sess.participants[participantID]; !ok {
		return Operation{}, ErrNotJoined
	}

	op.Author = participantID
	if err := op.validate(); err != nil {
		return Operation{}, err
	}
	if op.BaseSeq < 0 || op.BaseSeq > sess.seq {
		return Operation{}, fmt.Errorf("%w: base sequence %d ahead of session sequence %d",
			ErrOperationRejected, op.BaseSeq, sess.seq)
	}

	// Transform against everything applied since the author's base version.
	// log[i] holds the operation with sequence i+1, so the suffix starting
	// at index BaseSeq is exactly the set the author has not seen.
	transformed := op
	for _, applied := range sess.log[op.BaseSeq:] {
		transformed = transform(transformed, applied)
	}

	doc, err := apply(sess.doc, transformed)
	if err != nil {
		return Operation{}, err
	}

	sess.seq++
	transformed.Seq = sess.seq
	sess.doc = doc
	sess.log = append(sess.log, transformed)

	sess.broadcast(participantID, Event{
		Type:        EventOperation,
		DocumentID:  docID,
		Participant: participantID,
		Operation:   &transformed,
	}, e.logger)

	e.logger.Debug("operation accepted",
		"document_id", docID,
		"participant", participantID,
		"seq", transformed.Seq,
		"kind", transformed.Kind)
	return transformed, nil
}

// Heartbeat refreshes the participant's presence and broadcasts its cursor.
func (e *Engine) Heartbeat(docID, participantID string, cursor int) error {
	sess, err := e.getSession(docID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	p, ok := sess.participants[participantID]
	if !ok {
		return ErrNotJoined
	}
	p.cursor = cursor
	p.lastHeartbeat = e.now()

	sess.broadcast(participantID, Event{
		Type:        EventPresence,
		DocumentID:  docID,
		Participant: participantID,
		Cursor:      cursor,
	}, e.logger)
	return nil
}

// Leave removes the participant. The session itself lingers for the idle
// grace period so a quick rejoin does not lose the document.
func (e *Engine) Leave(docID, participantID string) error {
	sess, err := e.getSession(docID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return e.removeParticipant(sess, participantID, "leave")
}

// Presence returns the current presence records for a document.
func (e *Engine) Presence(docID string) ([]PresenceRecord, error) {
	sess, err := e.getSession(docID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	records := make([]PresenceRecord, 0, len(sess.participants))
	for _, p := range sess.participants {
		records = append(records, PresenceRecord{
			Participant:   p.id,
			Cursor:        p.cursor,
			LastHeartbeat: p.lastHeartbeat,
		})
	}
	return records, nil
}

// Stats returns current engine counters.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := Stats{}
	for _, sess := range e.sessions {
		sess.mu.Lock()
		if len(sess.participants) > 0 {
			stats.ActiveSessions++
			stats.Participants += len(sess.participants)
		}
		sess.mu.Unlock()
	}
	return stats
}

func (e *Engine) getOrCreateSession(docID string) *session {
	e.mu.RLock()
	sess, ok := e.sessions[docID]
	e.mu.RUnlock()
	if ok {
		return sess
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if sess, ok := e.sessions[docID]; ok {
		return sess
	}
	sess = &session{
		docID:        docID,
		participants: make(map[string]*participant),
	}
	e.sessions[docID] = sess
	e.logger.Info("session created", "document_id", docID)
	return sess
}

func (e *Engine) getSession(docID string) (*session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	sess, ok := e.sessions[docID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// removeParticipant drops a participant and closes its event channel.
// Caller holds the session mutex.
func (e *Engine) removeParticipant(sess *session, participantID, reason string) error {
	p, ok := sess.participants[participantID]
	if !ok {
		return ErrNotJoined
	}
	delete(sess.participants, participantID)
	close(p.events)

	if len(sess.participants) == 0 {
		sess.emptySince = e.now()
	}

	sess.broadcast(participantID, Event{
		Type:        EventLeave,
		DocumentID:  sess.docID,
		Participant: participantID,
	}, e.logger)

	e.logger.Info("participant left",
		"document_id", sess.docID,
		"participant", participantID,
		"reason", reason)
	return nil
}

// broadcast fans an event out to every participant except the sender.
// Sends never block the sequencer: a full subscriber buffer drops the event.
// Caller holds the session mutex.
func (s *session) broadcast(senderID string, event Event, logger *slog.Logger) {
	for id, p := range s.participants {
		if id == senderID {
			continue
		}
		select {
		case p.events <- event:
		default:
			logger.Warn("dropping broadcast for slow subscriber",
				"document_id", s.docID,
				"participant", id,
				"event_type", event.Type)
		}
	}
}

// participantIDs returns the member IDs. Caller holds the session mutex.
func (s *session) participantIDs() []string {
	ids := make([]string, 0, len(s.participants))
	for id := range s.participants {
		ids = append(ids, id)
	}
	return ids
}

// sweepLoop expires silent participants and destroys sessions that have
// been empty past the idle grace period.
func (e *Engine) sweepLoop(ctx context.Context) {
	defer e.wg.Done()

	interval := e.cfg.HeartbeatTimeout / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweep()
		}
	}
}

// sweep runs one expiry pass.
func (e *Engine) sweep() {
	now := e.now()

	e.mu.Lock()
	sessions := make([]*session, 0, len(e.sessions))
	for _, sess := range e.sessions {
		sessions = append(sessions, sess)
	}
	e.mu.Unlock()

	for _, sess := range sessions {
		sess.mu.Lock()
		for id, p := range sess.participants {
			if now.Sub(p.lastHeartbeat) > e.cfg.HeartbeatTimeout {
				// Presence expired: treated as a leave, not an error.
				_ = e.removeParticipant(sess, id, "heartbeat_timeout")
			}
		}
		empty := len(sess.participants) == 0
		expired := empty && !sess.emptySince.IsZero() &&
			now.Sub(sess.emptySince) > e.cfg.SessionIdleTimeout
		sess.mu.Unlock()

		if expired {
			e.mu.Lock()
			delete(e.sessions, sess.docID)
			e.mu.Unlock()
			e.logger.Info("session destroyed", "document_id", sess.docID)
		}
	}
}
