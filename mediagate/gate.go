// Package mediagate acquires and owns the participant's local media streams.
// The gate is the exclusive owner of every captured stream; other components
// (the peer connection manager) only borrow track references and never stop
// or replace tracks themselves.
package mediagate

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
)

type Kind string

const (
	KindCamera     Kind = "camera"
	KindMicrophone Kind = "microphone"
	KindScreen     Kind = "screen"
)

type State string

const (
	StatePending State = "pending"
	StateGranted State = "granted"
	StateDenied  State = "denied"
)

// PermissionError reports a denied or failed capture request. It is always
// recoverable: the host re-offers the request action and the session stays
// in AwaitingMedia.
type PermissionError struct {
	Kind   Kind
	Reason string
	cause  error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("media permission %s: %s", e.Kind, e.Reason)
}

func (e *PermissionError) Unwrap() error {
	return e.cause
}

// MediaStream is one captured local stream: a set of tracks plus the hook to
// stop capture.
type MediaStream struct {
	Tracks []webrtc.TrackLocal

	stopOnce sync.Once
	stop     func()
}

func NewMediaStream(tracks []webrtc.TrackLocal, stop func()) *MediaStream {
	return &MediaStream{Tracks: tracks, stop: stop}
}

func (s *MediaStream) Stop() {
	s.stopOnce.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}

// CaptureBackend is the platform surface behind the gate: getUserMedia /
// getDisplayMedia in a browser host, a device or synthetic source in a
// native agent.
type CaptureBackend interface {
	// CaptureCameraAndMic acquires one combined audio+video stream.
	CaptureCameraAndMic(ctx context.Context) (*MediaStream, error)
	// CaptureScreen acquires a display stream. onEnded must be invoked if
	// the user stops sharing through OS or browser chrome rather than
	// through this API; that external cancellation is the one the gate has
	// to observe asynchronously.
	CaptureScreen(ctx context.Context, onEnded func()) (*MediaStream, error)
}

// Gate tracks one MediaPermissionState per capability and gates the
// session's AwaitingMedia -> Active transition.
type Gate struct {
	mu      sync.Mutex
	backend CaptureBackend

	states map[Kind]State
	camMic *MediaStream
	screen *MediaStream

	// onChange fires after any state transition, including the async
	// screen-share demotion; the coordinator re-evaluates AllGranted there.
	onChange func()
}

func NewGate(backend CaptureBackend, onChange func()) *Gate {
	return &Gate{
		backend: backend,
		states: map[Kind]State{
			KindCamera:     StatePending,
			KindMicrophone: StatePending,
			KindScreen:     StatePending,
		},
		onChange: onChange,
	}
}

// RequestCameraAndMicrophone invokes the backend's combined audio+video
// capture. Idempotent: when already granted it returns the cached stream
// without re-prompting. On failure both capabilities go to Denied.
func (g *Gate) RequestCameraAndMicrophone(ctx context.Context) (*MediaStream, error) {
	g.mu.Lock()
	if g.states[KindCamera] == StateGranted && g.camMic != nil {
		stream := g.camMic
		g.mu.Unlock()
		return stream, nil
	}
	g.mu.Unlock()

	stream, err := g.backend.CaptureCameraAndMic(ctx)
	if err != nil {
		g.setStates(map[Kind]State{KindCamera: StateDenied, KindMicrophone: StateDenied})
		return nil, &PermissionError{
			Kind:   KindCamera,
			Reason: "camera and microphone capture rejected",
			cause:  err,
		}
	}

	g.mu.Lock()
	g.camMic = stream
	g.mu.Unlock()
	g.setStates(map[Kind]State{KindCamera: StateGranted, KindMicrophone: StateGranted})
	return stream, nil
}

// RequestScreenShare invokes the backend's display capture. If the user later
// stops sharing outside this API, the state is demoted from Granted to Denied
// and the stream reference is cleared.
func (g *Gate) RequestScreenShare(ctx context.Context) (*MediaStream, error) {
	g.mu.Lock()
	if g.states[KindScreen] == StateGranted && g.screen != nil {
		stream := g.screen
		g.mu.Unlock()
		return stream, nil
	}
	g.mu.Unlock()

	stream, err := g.backend.CaptureScreen(ctx, g.screenEnded)
	if err != nil {
		g.setStates(map[Kind]State{KindScreen: StateDenied})
		return nil, &PermissionError{
			Kind:   KindScreen,
			Reason: "screen capture rejected",
			cause:  err,
		}
	}

	g.mu.Lock()
	g.screen = stream
	g.mu.Unlock()
	g.setStates(map[Kind]State{KindScreen: StateGranted})
	return stream, nil
}

// screenEnded is the external-cancellation path: sharing stopped via OS or
// browser chrome, not through the gate.
func (g *Gate) screenEnded() {
	g.mu.Lock()
	g.screen = nil
	g.mu.Unlock()
	g.setStates(map[Kind]State{KindScreen: StateDenied})
}

func (g *Gate) setStates(updates map[Kind]State) {
	g.mu.Lock()
	for kind, state := range updates {
		g.states[kind] = state
	}
	g.mu.Unlock()
	if g.onChange != nil {
		g.onChange()
	}
}

func (g *Gate) State(kind Kind) State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.states[kind]
}

// AllGranted reports whether every required capability is granted. Pure
// readout; the coordinator uses it to gate the Active transition.
func (g *Gate) AllGranted(required map[Kind]bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for kind, req := range required {
		if req && g.states[kind] != StateGranted {
			return false
		}
	}
	return true
}

// GrantedTracks lends references to every currently granted local track.
// Callers must not stop the tracks; ownership stays with the gate.
func (g *Gate) GrantedTracks() []webrtc.TrackLocal {
	g.mu.Lock()
	defer g.mu.Unlock()
	var tracks []webrtc.TrackLocal
	if g.camMic != nil {
		tracks = append(tracks, g.camMic.Tracks...)
	}
	if g.screen != nil {
		tracks = append(tracks, g.screen.Tracks...)
	}
	return tracks
}

// Teardown stops every owned stream. Called once at session teardown.
func (g *Gate) Teardown() {
	g.mu.Lock()
	camMic, screen := g.camMic, g.screen
	g.camMic, g.screen = nil, nil
	g.mu.Unlock()
	if camMic != nil {
		camMic.Stop()
	}
	if screen != nil {
		screen.Stop()
	}
}
