// Package peermgr owns one outbound WebRTC connection per remote proctor
// viewer. Negotiation for different remotes is independent: every remote id
// has its own FIFO job queue, so a slow link never blocks events for another.
package peermgr

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/codeclash/proctor/logger"
)

// SignalSender carries answers and local ICE candidates back out over the
// signaling channel, addressed to one remote id.
type SignalSender interface {
	SendAnswer(target string, sdp webrtc.SessionDescription) error
	SendICECandidate(target string, candidate webrtc.ICECandidateInit) error
}

// TrackSource lends references to the currently granted local tracks. The
// manager attaches them to new connections but never stops or replaces them.
type TrackSource interface {
	GrantedTracks() []webrtc.TrackLocal
}

type LinkState string

const (
	LinkNegotiating LinkState = "negotiating"
	LinkConnected   LinkState = "connected"
	LinkClosed      LinkState = "closed"
)

// PeerLink is one connection to a single remote viewer.
type PeerLink struct {
	remoteID string
	pc       *webrtc.PeerConnection
	state    LinkState
}

type linkWorker struct {
	jobs chan func()
	done chan struct{}
}

type Manager struct {
	ctx context.Context
	cfg webrtc.Configuration

	tracks TrackSource
	out    SignalSender

	mu      sync.Mutex
	links   map[string]*PeerLink
	workers map[string]*linkWorker
	closed  bool
}

func NewManager(ctx context.Context, cfg webrtc.Configuration, tracks TrackSource, out SignalSender) *Manager {
	return &Manager{
		ctx:     ctx,
		cfg:     cfg,
		tracks:  tracks,
		out:     out,
		links:   make(map[string]*PeerLink),
		workers: make(map[string]*linkWorker),
	}
}

// dispatch enqueues a job on the remote's FIFO queue, creating the worker on
// first use. Jobs for different remotes run without any cross-ordering.
func (m *Manager) dispatch(remoteID string, job func()) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	w, ok := m.workers[remoteID]
	if !ok {
		w = &linkWorker{
			jobs: make(chan func(), 64),
			done: make(chan struct{}),
		}
		m.workers[remoteID] = w
		go func() {
			for {
				select {
				case job := <-w.jobs:
					job()
				case <-w.done:
					return
				}
			}
		}()
	}
	m.mu.Unlock()

	select {
	case w.jobs <- job:
	default:
		// queue overflow means the remote is flooding us; drop like a
		// late candidate
		logger.FromContext(m.ctx).Warn("dropping signaling job, queue full", "remote_id", remoteID)
	}
}

// HandleRemoteOffer builds (or replaces) the PeerLink for remoteID: attaches
// every granted local track, applies the offer, then answers over the
// signaling channel. On any failure the partially built connection is closed
// and no answer is sent; the proctor side retries.
func (m *Manager) HandleRemoteOffer(remoteID string, sdp webrtc.SessionDescription) {
	m.dispatch(remoteID, func() {
		log := logger.FromContext(m.ctx).With("remote_id", remoteID)
		if err := m.buildLink(remoteID, sdp); err != nil {
			log.Warn("offer handling failed, no answer sent", "error", err)
		}
	})
}

func (m *Manager) buildLink(remoteID string, sdp webrtc.SessionDescription) error {
	m.mu.Lock()
	if prev, ok := m.links[remoteID]; ok {
		// a second offer before teardown replaces the existing link
		prev.state = LinkClosed
		prev.pc.Close()
		delete(m.links, remoteID)
	}
	m.mu.Unlock()

	pc, err := webrtc.NewPeerConnection(m.cfg)
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}

	link := &PeerLink{remoteID: remoteID, pc: pc, state: LinkNegotiating}

	for _, track := range m.tracks.GrantedTracks() {
		if _, err := pc.AddTrack(track); err != nil {
			pc.Close()
			return fmt.Errorf("failed to attach local track: %w", err)
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := m.out.SendICECandidate(remoteID, c.ToJSON()); err != nil {
			logger.FromContext(m.ctx).Warn("dropping local ice candidate",
				"remote_id", remoteID, "error", err)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			m.setLinkState(remoteID, link, LinkConnected)
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateClosed:
			// remote went away; tear this link down on its own queue
			m.dispatch(remoteID, func() { m.closeLink(remoteID, link) })
		}
	})

	if err := pc.SetRemoteDescription(sdp); err != nil {
		pc.Close()
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("failed to create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return fmt.Errorf("failed to set local description: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		pc.Close()
		return fmt.Errorf("manager closed during negotiation")
	}
	m.links[remoteID] = link
	m.mu.Unlock()

	if err := m.out.SendAnswer(remoteID, answer); err != nil {
		return fmt.Errorf("failed to send answer: %w", err)
	}
	return nil
}

// HandleRemoteIceCandidate applies the candidate if a live link exists for
// remoteID. Unknown or late candidates are dropped silently; ICE races are
// expected, not an error.
func (m *Manager) HandleRemoteIceCandidate(remoteID string, candidate webrtc.ICECandidateInit) {
	m.dispatch(remoteID, func() {
		m.mu.Lock()
		link, ok := m.links[remoteID]
		closed := !ok || link.state == LinkClosed
		m.mu.Unlock()
		if closed {
			return
		}
		if err := link.pc.AddICECandidate(candidate); err != nil {
			logger.FromContext(m.ctx).Debug("dropping ice candidate",
				"remote_id", remoteID, "error", err)
		}
	})
}

func (m *Manager) setLinkState(remoteID string, link *PeerLink, state LinkState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.links[remoteID] == link && link.state != LinkClosed {
		link.state = state
	}
}

func (m *Manager) closeLink(remoteID string, link *PeerLink) {
	m.mu.Lock()
	if m.links[remoteID] != link {
		m.mu.Unlock()
		return
	}
	link.state = LinkClosed
	delete(m.links, remoteID)
	m.mu.Unlock()
	link.pc.Close()
	logger.FromContext(m.ctx).Info("peer link closed", "remote_id", remoteID)
}

// LinkState reports the state of the link for remoteID, or LinkClosed if
// none exists.
func (m *Manager) LinkState(remoteID string) LinkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if link, ok := m.links[remoteID]; ok {
		return link.state
	}
	return LinkClosed
}

// LinkCount reports how many links are currently open.
func (m *Manager) LinkCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links)
}

// TeardownAll closes every link synchronously and stops the per-remote
// workers. Called exactly once, at session coordinator teardown; no link
// survives it.
func (m *Manager) TeardownAll() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	links := m.links
	workers := m.workers
	m.links = make(map[string]*PeerLink)
	m.workers = make(map[string]*linkWorker)
	m.mu.Unlock()

	for _, w := range workers {
		close(w.done)
	}
	for _, link := range links {
		link.state = LinkClosed
		link.pc.Close()
	}
}
