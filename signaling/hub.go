package signaling

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/codeclash/proctor/activity"
	"github.com/codeclash/proctor/logger"
	"github.com/codeclash/proctor/metrics"
)

// Archiver persists a session's full activity log at teardown.
type Archiver interface {
	Flush(ctx context.Context, contestID string, sessionID string, events []activity.Event) (string, error)
}

// Hub relays signaling frames between participants and proctors inside each
// contest room, forwards activity events to the configured sink, and hands
// the accumulated per-session log to the archiver when a participant leaves.
type Hub struct {
	rooms *xsync.MapOf[string, *room]

	sink     activity.Sink
	archiver Archiver // optional
	metrics  *metrics.RelayMetrics
}

type room struct {
	mu           sync.RWMutex
	participants map[string]*conn // userId -> socket
	proctors     map[string]*conn // proctorId -> socket
	logs         map[string][]activity.Event
	sessionIDs   map[string]string // userId -> sessionId
}

// conn wraps a websocket with a write lock; gorilla permits one writer at a
// time.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) writeMessage(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(msg)
}

func NewHub(sink activity.Sink, archiver Archiver, m *metrics.RelayMetrics) *Hub {
	if sink == nil {
		sink = activity.DiscardSink{}
	}
	return &Hub{
		rooms:    xsync.NewMapOf[string, *room](),
		sink:     sink,
		archiver: archiver,
		metrics:  m,
	}
}

func (h *Hub) getRoom(contestID string) *room {
	r, _ := h.rooms.LoadOrCompute(contestID, func() *room {
		return &room{
			participants: make(map[string]*conn),
			proctors:     make(map[string]*conn),
			logs:         make(map[string][]activity.Event),
			sessionIDs:   make(map[string]string),
		}
	})
	return r
}

// ServeParticipant owns a participant socket for its lifetime: it registers
// the participant in the contest room, announces presence to proctors, then
// relays frames until the socket closes.
func (h *Hub) ServeParticipant(ctx context.Context, contestID, userID, sessionID string, ws *websocket.Conn) {
	log := logger.FromContext(ctx)
	r := h.getRoom(contestID)

	c := &conn{ws: ws}
	r.mu.Lock()
	prev, reconnect := r.participants[userID]
	if reconnect {
		prev.ws.Close() // a reconnect supersedes the old socket
	}
	r.participants[userID] = c
	r.sessionIDs[userID] = sessionID
	r.mu.Unlock()

	// on reconnect the participant was never gone, so the gauge holds; the
	// join broadcast still goes out to carry the new session id
	if h.metrics != nil && !reconnect {
		h.metrics.ActiveParticipants.Inc()
	}
	h.broadcastPresence(r, MsgTypeParticipantJoin, contestID, userID, sessionID)
	log.Info("participant joined", "user_id", userID)

	defer func() {
		r.mu.Lock()
		departed := r.participants[userID] == c
		var events []activity.Event
		if departed {
			delete(r.participants, userID)
			events = r.logs[userID]
			delete(r.logs, userID)
			delete(r.sessionIDs, userID)
		}
		r.mu.Unlock()

		ws.Close()
		if !departed {
			// a reconnect superseded this socket; the participant is still
			// present, so no departure is announced and the gauge stays
			log.Info("participant socket superseded", "user_id", userID)
			return
		}

		if h.metrics != nil {
			h.metrics.ActiveParticipants.Dec()
		}
		h.broadcastPresence(r, MsgTypeParticipantLeft, contestID, userID, sessionID)
		log.Info("participant left", "user_id", userID)

		if h.archiver != nil && len(events) > 0 {
			url, err := h.archiver.Flush(context.Background(), contestID, sessionID, events)
			if err != nil {
				log.Warn("failed to archive activity log", "error", err)
			} else {
				log.Info("archived activity log", "url", url)
			}
		}
	}()

	for {
		var msg Message
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		h.handleParticipantFrame(ctx, log, r, contestID, userID, sessionID, msg)
	}
}

func (h *Hub) handleParticipantFrame(ctx context.Context, log *slog.Logger, r *room, contestID, userID, sessionID string, msg Message) {
	if h.metrics != nil {
		h.metrics.SignalFrames.WithLabelValues(msg.Type).Inc()
	}

	switch msg.Type {
	case MsgTypeAnswer:
		var answer Answer
		if err := json.Unmarshal(msg.Data, &answer); err != nil {
			log.Warn("dropping malformed answer", "error", err)
			return
		}
		answer.Sender = userID
		h.forwardToProctor(log, r, answer.Target, MsgTypeAnswer, answer)
	case MsgTypeIceCandidate:
		var cand IceCandidate
		if err := json.Unmarshal(msg.Data, &cand); err != nil {
			log.Warn("dropping malformed ice candidate", "error", err)
			return
		}
		cand.Sender = userID
		h.forwardToProctor(log, r, cand.Target, MsgTypeIceCandidate, cand)
	case MsgTypeActivity:
		var act Activity
		if err := json.Unmarshal(msg.Data, &act); err != nil {
			log.Warn("dropping malformed activity event", "error", err)
			return
		}
		r.mu.Lock()
		r.logs[userID] = append(r.logs[userID], act.Event)
		r.mu.Unlock()
		if h.metrics != nil {
			h.metrics.ActivityEvents.WithLabelValues(act.Event.Type).Inc()
			if act.Event.Type == activity.TypeExitFullscreen {
				h.metrics.Violations.Inc()
			}
		}
		h.sink.Record(ctx, contestID, sessionID, act.Event)
	case MsgTypeJoinContest:
		// already joined via the endpoint handshake; harmless repeat
	default:
		log.Debug("ignoring participant frame", "type", msg.Type)
	}
}

// ServeProctor owns a proctor socket: offers and candidates it sends are
// forwarded to the addressed participant, stamped with the proctor's id.
func (h *Hub) ServeProctor(ctx context.Context, contestID, proctorID string, ws *websocket.Conn) {
	log := logger.FromContext(ctx)
	r := h.getRoom(contestID)

	c := &conn{ws: ws}
	r.mu.Lock()
	if prev, ok := r.proctors[proctorID]; ok {
		prev.ws.Close()
	}
	r.proctors[proctorID] = c
	// snapshot of participants already present, so a late-joining proctor
	// knows whom to offer to
	present := make(map[string]string, len(r.participants))
	for uid := range r.participants {
		present[uid] = r.sessionIDs[uid]
	}
	r.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ActiveProctors.Inc()
	}
	log.Info("proctor joined", "proctor_id", proctorID)

	for uid, sid := range present {
		msg, err := NewMessage(MsgTypeParticipantJoin, ParticipantPresence{
			ContestID: contestID, UserID: uid, SessionID: sid,
		})
		if err == nil {
			c.writeMessage(msg)
		}
	}

	defer func() {
		r.mu.Lock()
		if r.proctors[proctorID] == c {
			delete(r.proctors, proctorID)
		}
		r.mu.Unlock()
		ws.Close()
		if h.metrics != nil {
			h.metrics.ActiveProctors.Dec()
		}
		log.Info("proctor left", "proctor_id", proctorID)
	}()

	for {
		var msg Message
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		h.handleProctorFrame(log, r, proctorID, msg)
	}
}

func (h *Hub) handleProctorFrame(log *slog.Logger, r *room, proctorID string, msg Message) {
	if h.metrics != nil {
		h.metrics.SignalFrames.WithLabelValues(msg.Type).Inc()
	}

	switch msg.Type {
	case MsgTypeOffer:
		var offer Offer
		if err := json.Unmarshal(msg.Data, &offer); err != nil {
			log.Warn("dropping malformed offer", "error", err)
			return
		}
		offer.Sender = proctorID
		h.forwardToParticipant(log, r, offer.Target, MsgTypeOffer, offer)
	case MsgTypeIceCandidate:
		var cand IceCandidate
		if err := json.Unmarshal(msg.Data, &cand); err != nil {
			log.Warn("dropping malformed ice candidate", "error", err)
			return
		}
		cand.Sender = proctorID
		h.forwardToParticipant(log, r, cand.Target, MsgTypeIceCandidate, cand)
	default:
		log.Debug("ignoring proctor frame", "type", msg.Type)
	}
}

func (h *Hub) forwardToParticipant(log *slog.Logger, r *room, userID string, msgType string, data any) {
	r.mu.RLock()
	c, ok := r.participants[userID]
	r.mu.RUnlock()
	if !ok {
		log.Debug("dropping frame for absent participant", "type", msgType, "user_id", userID)
		return
	}
	msg, err := NewMessage(msgType, data)
	if err != nil {
		log.Warn("failed to marshal relayed frame", "type", msgType, "error", err)
		return
	}
	if err := c.writeMessage(msg); err != nil {
		log.Warn("failed to forward frame to participant", "type", msgType, "error", err)
	}
}

func (h *Hub) forwardToProctor(log *slog.Logger, r *room, proctorID string, msgType string, data any) {
	r.mu.RLock()
	c, ok := r.proctors[proctorID]
	r.mu.RUnlock()
	if !ok {
		log.Debug("dropping frame for absent proctor", "type", msgType, "proctor_id", proctorID)
		return
	}
	msg, err := NewMessage(msgType, data)
	if err != nil {
		log.Warn("failed to marshal relayed frame", "type", msgType, "error", err)
		return
	}
	if err := c.writeMessage(msg); err != nil {
		log.Warn("failed to forward frame to proctor", "type", msgType, "error", err)
	}
}

func (h *Hub) broadcastPresence(r *room, msgType, contestID, userID, sessionID string) {
	msg, err := NewMessage(msgType, ParticipantPresence{
		ContestID: contestID,
		UserID:    userID,
		SessionID: sessionID,
	})
	if err != nil {
		return
	}
	r.mu.RLock()
	conns := make([]*conn, 0, len(r.proctors))
	for _, c := range r.proctors {
		conns = append(conns, c)
	}
	r.mu.RUnlock()
	for _, c := range conns {
		c.writeMessage(msg)
	}
}

// Participants returns the user ids currently connected in a contest room.
func (h *Hub) Participants(contestID string) []string {
	r, ok := h.rooms.Load(contestID)
	if !ok {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.participants))
	for uid := range r.participants {
		ids = append(ids, uid)
	}
	return ids
}
