// Package session composes the media gate, peer connection manager, lockdown
// monitor, timer/task state and signaling channel into one per-participant
// proctored session. A participant's host instantiates one Coordinator per
// contest attempt and tears it down on completion or exit.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/codeclash/proctor/activity"
	"github.com/codeclash/proctor/conf"
	"github.com/codeclash/proctor/draftstore"
	"github.com/codeclash/proctor/judge"
	"github.com/codeclash/proctor/lockdown"
	"github.com/codeclash/proctor/logger"
	"github.com/codeclash/proctor/mediagate"
	"github.com/codeclash/proctor/peermgr"
	"github.com/codeclash/proctor/taskstate"
)

type Status string

const (
	StatusInitializing  Status = "initializing"
	StatusAwaitingMedia Status = "awaiting_media"
	StatusActive        Status = "active"
	StatusLocked        Status = "locked"
	StatusCompleted     Status = "completed"
	StatusAborted       Status = "aborted"
)

// ErrSessionLocked is returned for gameplay operations attempted while the
// lockdown overlay is up; only Remediate is reachable then.
var ErrSessionLocked = fmt.Errorf("session is locked until fullscreen is restored")

// Signaler is the outbound half of the signaling channel the coordinator
// needs: answers and candidates to the proctors, activity to the backend.
// Implemented by signaling.Client.
type Signaler interface {
	SendAnswer(target string, sdp webrtc.SessionDescription) error
	SendICECandidate(target string, candidate webrtc.ICECandidateInit) error
	SendActivity(ev activity.Event) error
}

// SettingsFetcher is implemented by conf.SettingsClient.
type SettingsFetcher interface {
	Fetch(ctx context.Context, contestID string) (conf.ContestSettings, error)
}

// JudgeClient is implemented by judge.Client.
type JudgeClient interface {
	Run(ctx context.Context, req judge.RunRequest) (judge.TestRun, error)
	Submit(ctx context.Context, req judge.RunRequest) (judge.TestRun, error)
}

// Deps are the collaborators a Coordinator is built from.
type Deps struct {
	ContestID string
	UserID    string

	Tasks []taskstate.Task

	Settings SettingsFetcher
	Capture  mediagate.CaptureBackend
	Display  lockdown.Display
	Signal   Signaler
	Judge    JudgeClient
	Drafts   draftstore.Store

	WebRTC webrtc.Configuration
}

// Summary is the end-of-session readout surfaced to the participant.
type Summary struct {
	SessionID      string
	ContestID      string
	CompletedTasks []string
	TotalTasks     int
	LastResults    map[string]judge.TestRun
	ViolationCount int
	TimedOut       bool
}

type Coordinator struct {
	mu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	sessionID uuid.UUID
	contestID string
	userID    string

	status   Status
	settings conf.ContestSettings

	gate  *mediagate.Gate
	peers *peermgr.Manager
	lock  *lockdown.Monitor
	tasks *taskstate.State

	signal Signaler
	judge  JudgeClient

	startedAt  time.Time
	expiresAt  time.Time
	timedOut   bool
	stopTicker chan struct{}

	teardownOnce sync.Once
}

// New builds a session in Initializing, fetches the contest settings (falling
// back to conf.PermissiveDefaults on failure) and leaves the session in
// AwaitingMedia. Media requests are host-driven; call TryActivate after each
// grant, or immediately when nothing is required.
func New(ctx context.Context, deps Deps) (*Coordinator, error) {
	sessionID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	ctx = logger.WithSessionID(logger.WithContestID(ctx, deps.ContestID), sessionID.String())
	ctx, cancel := context.WithCancel(ctx)

	c := &Coordinator{
		ctx:        ctx,
		cancel:     cancel,
		sessionID:  sessionID,
		contestID:  deps.ContestID,
		userID:     deps.UserID,
		status:     StatusInitializing,
		signal:     deps.Signal,
		judge:      deps.Judge,
		stopTicker: make(chan struct{}),
	}

	settings, err := deps.Settings.Fetch(ctx, deps.ContestID)
	if err != nil {
		// settings already hold the permissive fallback; the session
		// proceeds rather than blocking on an unreachable backend
		logger.FromContext(ctx).Warn("running with fallback contest settings", "error", err)
	}
	c.settings = settings

	c.gate = mediagate.NewGate(deps.Capture, c.TryActivate)
	c.peers = peermgr.NewManager(ctx, deps.WebRTC, c.gate, c)
	c.lock = lockdown.NewMonitor(settings.FullScreenModeEnabled, deps.Display, c.emitActivity, c.lockChanged)

	c.tasks, err = taskstate.NewState(deps.ContestID, settings, deps.Tasks, deps.Drafts, c.emitActivity, c.expiredPolicy)
	if err != nil {
		cancel()
		return nil, err
	}

	c.mu.Lock()
	c.status = StatusAwaitingMedia
	c.mu.Unlock()
	return c, nil
}

// AttachSignaling binds the signaling client. The session id is minted by
// New, so hosts that put it in the join-contest frame dial after construction
// and attach here before requesting media.
func (c *Coordinator) AttachSignaling(s Signaler) {
	c.mu.Lock()
	c.signal = s
	c.mu.Unlock()
}

func (c *Coordinator) signaler() Signaler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signal
}

// SendAnswer and SendICECandidate make the coordinator the peer manager's
// outbound signal path, so the signaling client can be attached late.
func (c *Coordinator) SendAnswer(target string, sdp webrtc.SessionDescription) error {
	s := c.signaler()
	if s == nil {
		return fmt.Errorf("signaling channel not attached")
	}
	return s.SendAnswer(target, sdp)
}

func (c *Coordinator) SendICECandidate(target string, candidate webrtc.ICECandidateInit) error {
	s := c.signaler()
	if s == nil {
		return fmt.Errorf("signaling channel not attached")
	}
	return s.SendICECandidate(target, candidate)
}

// emitActivity forwards one event over the signaling channel. Delivery is
// fire-and-forget: a failure logs and drops, gameplay continues.
func (c *Coordinator) emitActivity(ev activity.Event) {
	s := c.signaler()
	if s == nil {
		return
	}
	if err := s.SendActivity(ev); err != nil {
		logger.FromContext(c.ctx).Warn("dropping activity event", "type", ev.Type, "error", err)
	}
}

func (c *Coordinator) lockChanged(locked bool) {
	c.mu.Lock()
	if locked && c.status == StatusActive {
		c.status = StatusLocked
	} else if !locked && c.status == StatusLocked {
		c.status = StatusActive
	}
	c.mu.Unlock()
}

// RequiredMedia derives the capability gate from the contest settings.
func (c *Coordinator) RequiredMedia() map[mediagate.Kind]bool {
	return map[mediagate.Kind]bool{
		mediagate.KindCamera:     c.settings.RequireCamera,
		mediagate.KindMicrophone: c.settings.RequireMicrophone,
		mediagate.KindScreen:     c.settings.RequireScreenShare,
	}
}

func (c *Coordinator) RequestCameraAndMicrophone(ctx context.Context) (*mediagate.MediaStream, error) {
	return c.gate.RequestCameraAndMicrophone(ctx)
}

func (c *Coordinator) RequestScreenShare(ctx context.Context) (*mediagate.MediaStream, error) {
	return c.gate.RequestScreenShare(ctx)
}

// TryActivate transitions AwaitingMedia -> Active once every required
// capability is granted. Safe to call repeatedly; it also runs on every gate
// state change, including the async screen-share demotion.
func (c *Coordinator) TryActivate() {
	c.mu.Lock()
	if c.status != StatusAwaitingMedia || !c.gate.AllGranted(c.RequiredMedia()) {
		c.mu.Unlock()
		return
	}
	c.status = StatusActive
	c.startedAt = time.Now()
	c.expiresAt = c.startedAt.Add(time.Duration(c.settings.DurationSeconds) * time.Second)
	c.mu.Unlock()

	c.lock.Start(c.ctx)
	c.emitActivity(activity.New(activity.TypeSessionStarted, map[string]any{
		"sessionId": c.sessionID.String(),
		"expiresAt": c.expiresAt,
	}))

	go c.runClock()
	logger.FromContext(c.ctx).Info("session active", "expires_at", c.expiresAt)
}

func (c *Coordinator) runClock() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			running := c.status == StatusActive || c.status == StatusLocked
			c.mu.Unlock()
			if running {
				c.tasks.Tick()
			}
		case <-c.stopTicker:
			return
		case <-c.ctx.Done():
			return
		}
	}
}

// expiredPolicy runs once when remaining time hits zero: force-submit the
// flushed draft if configured, then complete the session. TimeoutExpired is
// terminal and always surfaced via the summary.
func (c *Coordinator) expiredPolicy(taskID string, code string) {
	c.mu.Lock()
	c.timedOut = true
	c.mu.Unlock()

	if c.settings.AutoSubmitOnTimeout {
		if err := c.tasks.CanSubmit(taskID); err == nil {
			res, err := c.judge.Submit(c.ctx, judge.RunRequest{
				ContestID:  c.contestID,
				TaskID:     taskID,
				UserID:     c.userID,
				LanguageID: c.tasks.Language(),
				Code:       code,
			})
			if err != nil {
				logger.FromContext(c.ctx).Warn("auto-submit on timeout failed", "error", err)
			} else {
				c.tasks.RecordSubmission(taskID, code, res)
			}
		}
	}
	c.finish(StatusCompleted)
}

// --- signaling inbound (implements signaling.Handler) ---

func (c *Coordinator) HandleRemoteOffer(sender string, sdp webrtc.SessionDescription) {
	c.peers.HandleRemoteOffer(sender, sdp)
}

func (c *Coordinator) HandleRemoteIceCandidate(sender string, candidate webrtc.ICECandidateInit) {
	c.peers.HandleRemoteIceCandidate(sender, candidate)
}

// --- lockdown notifications, forwarded from the host's platform events ---

func (c *Coordinator) FullscreenChanged(active bool) { c.lock.FullscreenChanged(active) }

func (c *Coordinator) VisibilityChanged(visible bool) { c.lock.VisibilityChanged(visible) }

func (c *Coordinator) KeyDown(key string) bool { return c.lock.KeyDown(key) }

func (c *Coordinator) Remediate() error { return c.lock.Remediate() }

// --- gameplay, inert while locked ---

func (c *Coordinator) SetEditorInput(text string) error {
	if c.lock.Locked() {
		return ErrSessionLocked
	}
	c.tasks.SetEditorInput(text)
	return nil
}

func (c *Coordinator) SwitchTask(ctx context.Context, targetIndex int, force bool) (*taskstate.ShiftDenied, error) {
	if c.lock.Locked() {
		return nil, ErrSessionLocked
	}
	return c.tasks.SwitchTask(ctx, targetIndex, force)
}

func (c *Coordinator) SelectLanguage(ctx context.Context, languageID string) error {
	if c.lock.Locked() {
		return ErrSessionLocked
	}
	c.tasks.SelectLanguage(ctx, languageID)
	return nil
}

// Run grades the current draft against the visible cases.
func (c *Coordinator) Run(ctx context.Context) (judge.TestRun, error) {
	if c.lock.Locked() {
		return judge.TestRun{}, ErrSessionLocked
	}
	task := c.tasks.ActiveTask()
	code := c.tasks.FlushDraft(ctx)
	return c.judge.Run(ctx, judge.RunRequest{
		ContestID:  c.contestID,
		TaskID:     task.ID,
		UserID:     c.userID,
		LanguageID: c.tasks.Language(),
		Code:       code,
	})
}

// Submit grades the current draft against the full case set and records the
// submission.
func (c *Coordinator) Submit(ctx context.Context) (judge.TestRun, error) {
	if c.lock.Locked() {
		return judge.TestRun{}, ErrSessionLocked
	}
	task := c.tasks.ActiveTask()
	if err := c.tasks.CanSubmit(task.ID); err != nil {
		return judge.TestRun{}, err
	}
	code := c.tasks.FlushDraft(ctx)
	res, err := c.judge.Submit(ctx, judge.RunRequest{
		ContestID:  c.contestID,
		TaskID:     task.ID,
		UserID:     c.userID,
		LanguageID: c.tasks.Language(),
		Code:       code,
	})
	if err != nil {
		return judge.TestRun{}, err
	}
	c.tasks.RecordSubmission(task.ID, code, res)
	return res, nil
}

// --- lifecycle ---

// Finish completes the session explicitly.
func (c *Coordinator) Finish() {
	c.finish(StatusCompleted)
}

// Abort ends the session without completion.
func (c *Coordinator) Abort() {
	c.finish(StatusAborted)
}

func (c *Coordinator) finish(status Status) {
	c.teardownOnce.Do(func() {
		c.mu.Lock()
		c.status = status
		c.mu.Unlock()

		close(c.stopTicker)
		c.peers.TeardownAll()
		c.lock.Teardown()
		c.gate.Teardown()
		c.tasks.Teardown()

		c.emitActivity(activity.New(activity.TypeSessionEnded, map[string]any{
			"sessionId": c.sessionID.String(),
			"status":    string(status),
		}))
		c.cancel()
		logger.FromContext(c.ctx).Info("session torn down", "status", status)
	})
}

// --- readouts ---

func (c *Coordinator) SessionID() string { return c.sessionID.String() }
func (c *Coordinator) ContestID() string { return c.contestID }

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Coordinator) Settings() conf.ContestSettings { return c.settings }

func (c *Coordinator) Remaining() int { return c.tasks.Remaining() }

func (c *Coordinator) ActiveTaskIndex() int { return c.tasks.ActiveTaskIndex() }

func (c *Coordinator) Code() string { return c.tasks.Code() }

func (c *Coordinator) ViolationCount() int { return c.lock.ViolationCount() }

func (c *Coordinator) Summary() Summary {
	c.mu.Lock()
	timedOut := c.timedOut
	c.mu.Unlock()

	completed := c.tasks.CompletedTaskIDs()
	ids := make([]string, 0, len(completed))
	for id := range completed {
		ids = append(ids, id)
	}
	return Summary{
		SessionID:      c.sessionID.String(),
		ContestID:      c.contestID,
		CompletedTasks: ids,
		TotalTasks:     c.tasks.TaskCount(),
		LastResults:    c.tasks.LastResults(),
		ViolationCount: c.lock.ViolationCount(),
		TimedOut:       timedOut,
	}
}
