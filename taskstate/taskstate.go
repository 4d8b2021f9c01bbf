// Package taskstate owns the countdown clock, the active-task pointer, the
// per-task draft and submitted-code caches, and the completion set. It is
// the single writer for all of those fields; every other component reads
// them through the session coordinator.
package taskstate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codeclash/proctor/activity"
	"github.com/codeclash/proctor/conf"
	"github.com/codeclash/proctor/draftstore"
	"github.com/codeclash/proctor/judge"
	"github.com/codeclash/proctor/logger"
)

// DebounceDelay is how long editor input must pause before the draft becomes
// the externally observable code value and is written to the draft store.
// Bursts of keystrokes inside one window coalesce into a single commit.
const DebounceDelay = 500 * time.Millisecond

// Task is one contest problem as the coordinator sees it.
type Task struct {
	ID          string
	Title       string
	Boilerplate map[string]string // language id -> starter code
}

func (t Task) BoilerplateFor(languageID string) string {
	if code, ok := t.Boilerplate[languageID]; ok {
		return code
	}
	return t.Boilerplate[""]
}

type ShiftReason string

const (
	ShiftBackwardAfterSubmit ShiftReason = "backward_after_submit"
	ShiftMustCompleteFirst   ShiftReason = "must_complete_first"
)

// ShiftDenied is a normal control-flow result, not an error: the caller may
// show a confirmation prompt and re-invoke with force for the soft reasons.
type ShiftDenied struct {
	Reason ShiftReason
}

// ErrSubmissionLimit is returned once maxSubmissionsAllowed submits have been
// recorded for a task.
type ErrSubmissionLimit struct {
	TaskID string
	Limit  int
}

func (e *ErrSubmissionLimit) Error() string {
	return fmt.Sprintf("submission limit of %d reached for task %s", e.Limit, e.TaskID)
}

// State is the session timer and task state. All methods are safe for the
// interleaved async callers of a session.
type State struct {
	mu sync.Mutex

	contestID string
	settings  conf.ContestSettings
	tasks     []Task

	active      int
	completed   map[string]bool
	submitted   map[string]string // task id -> last submitted source
	lastResult  map[string]judge.TestRun
	submitCount map[string]int
	language    map[string]string // task id -> selected language id

	remaining int // seconds
	expired   bool

	draftByTask map[string]string // immediate, pre-commit editor content
	committed   string            // observable code value for the active task
	lastSaved   map[string]string // last value written to the draft store
	debounce    *time.Timer

	drafts draftstore.Store
	emit   func(activity.Event)

	// onExpired runs the configured timeout policy exactly once. It receives
	// the active task and its flushed draft.
	onExpired func(taskID string, code string)
}

func NewState(
	contestID string,
	settings conf.ContestSettings,
	tasks []Task,
	drafts draftstore.Store,
	emit func(activity.Event),
	onExpired func(taskID string, code string),
) (*State, error) {
	if len(tasks) == 0 {
		return nil, fmt.Errorf("contest %s has no tasks", contestID)
	}
	if drafts == nil {
		drafts = draftstore.NewMemStore()
	}

	s := &State{
		contestID:   contestID,
		settings:    settings,
		tasks:       tasks,
		completed:   make(map[string]bool),
		submitted:   make(map[string]string),
		lastResult:  make(map[string]judge.TestRun),
		submitCount: make(map[string]int),
		language:    make(map[string]string),
		remaining:   settings.DurationSeconds,
		draftByTask: make(map[string]string),
		lastSaved:   make(map[string]string),
		drafts:      drafts,
		emit:        emit,
		onExpired:   onExpired,
	}

	s.committed = s.loadTaskCode(context.Background(), tasks[0])
	s.draftByTask[tasks[0].ID] = s.committed
	// the freshly loaded value counts as cached; opening a task must not by
	// itself produce a draft write
	s.lastSaved[tasks[0].ID] = s.committed
	return s, nil
}

// loadTaskCode resolves what the editor shows when a task is opened:
// previously submitted code wins, then a persisted draft, then boilerplate.
func (s *State) loadTaskCode(ctx context.Context, task Task) string {
	if code, ok := s.submitted[task.ID]; ok {
		return code
	}
	if code, ok, err := s.drafts.LoadCode(ctx, s.contestID, task.ID); err == nil && ok {
		return code
	}
	lang := s.language[task.ID]
	if lang == "" {
		if saved, ok, err := s.drafts.LoadLanguage(ctx, s.contestID, task.ID); err == nil && ok {
			lang = saved
			s.language[task.ID] = saved
		}
	}
	return task.BoilerplateFor(lang)
}

// Tick is invoked once per second while the session is active. Remaining
// time floors at zero; hitting zero runs the timeout policy exactly once and
// the clock never resumes.
func (s *State) Tick() {
	s.mu.Lock()
	if s.expired {
		s.mu.Unlock()
		return
	}
	if s.remaining > 0 {
		s.remaining--
	}
	if s.remaining > 0 {
		s.mu.Unlock()
		return
	}

	s.expired = true
	s.commitDraftLocked(context.Background())
	taskID := s.tasks[s.active].ID
	code := s.committed
	onExpired := s.onExpired
	s.mu.Unlock()

	if onExpired != nil {
		onExpired(taskID, code)
	}
}

func (s *State) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

func (s *State) Expired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expired
}

// SetEditorInput records raw editor content. The draft reference updates
// immediately; the observable value and the draft-store write are deferred
// until input has paused for DebounceDelay, last keystroke winning.
func (s *State) SetEditorInput(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired {
		return
	}
	s.draftByTask[s.tasks[s.active].ID] = text
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(DebounceDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.commitDraftLocked(context.Background())
	})
}

// commitDraftLocked makes the active draft observable and persists it if it
// changed since the last write. Callers hold s.mu.
func (s *State) commitDraftLocked(ctx context.Context) {
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	task := s.tasks[s.active]
	draft, ok := s.draftByTask[task.ID]
	if !ok {
		return
	}
	s.committed = draft
	if s.lastSaved[task.ID] != draft {
		if err := s.drafts.SaveCode(ctx, s.contestID, task.ID, draft); err != nil {
			logger.FromContext(ctx).Warn("failed to persist draft",
				"task_id", task.ID, "error", err)
		} else {
			s.lastSaved[task.ID] = draft
		}
	}
}

// Code is the externally observable editor value for the active task.
func (s *State) Code() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}

// SwitchTask moves the active-task pointer. The returned ShiftDenied is a
// prompt-worthy refusal, not an error; force bypasses MustCompleteFirst
// (after user confirmation) but never BackwardAfterSubmit.
func (s *State) SwitchTask(ctx context.Context, targetIndex int, force bool) (*ShiftDenied, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if targetIndex < 0 || targetIndex >= len(s.tasks) {
		return nil, fmt.Errorf("task index %d out of range [0,%d)", targetIndex, len(s.tasks))
	}
	if s.expired {
		return nil, fmt.Errorf("session time has expired")
	}
	if targetIndex == s.active {
		return nil, nil
	}

	current := s.tasks[s.active]
	if !s.settings.AllowTaskShift && !s.completed[current.ID] && !force {
		return &ShiftDenied{Reason: ShiftMustCompleteFirst}, nil
	}
	if s.settings.PreventBackwardShiftAfterSubmission && targetIndex < s.active {
		// a backward move is hard-denied if it lands on or crosses back
		// over any task that has already been submitted
		for i := targetIndex; i < s.active; i++ {
			if _, ok := s.submitted[s.tasks[i].ID]; ok {
				return &ShiftDenied{Reason: ShiftBackwardAfterSubmit}, nil
			}
		}
	}

	s.commitDraftLocked(ctx)

	target := s.tasks[targetIndex]
	if _, ok := s.draftByTask[target.ID]; !ok {
		code := s.loadTaskCode(ctx, target)
		s.draftByTask[target.ID] = code
		s.lastSaved[target.ID] = code
	}
	s.active = targetIndex
	s.committed = s.draftByTask[target.ID]
	return nil, nil
}

// CanSubmit checks the submission limit before code is shipped to the judge.
func (s *State) CanSubmit(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit := s.settings.MaxSubmissionsAllowed
	if limit > 0 && s.submitCount[taskID] >= limit {
		return &ErrSubmissionLimit{TaskID: taskID, Limit: limit}
	}
	return nil
}

// RecordSubmission caches the submitted source, marks the task completed iff
// every case (hidden included) passed, and emits one task_submitted event.
func (s *State) RecordSubmission(taskID string, code string, results judge.TestRun) {
	s.mu.Lock()
	s.submitted[taskID] = code
	s.lastResult[taskID] = results
	s.submitCount[taskID]++
	if results.AllPassed() {
		s.completed[taskID] = true
	}
	emit := s.emit
	s.mu.Unlock()

	if emit != nil {
		emit(activity.New(activity.TypeTaskSubmitted, map[string]any{
			"taskId": taskID,
			"passed": results.Passed,
			"total":  results.Total,
			"status": results.Status,
		}))
	}
}

// SelectLanguage records the language choice for the active task and
// persists it for resume.
func (s *State) SelectLanguage(ctx context.Context, languageID string) {
	s.mu.Lock()
	task := s.tasks[s.active]
	s.language[task.ID] = languageID
	s.mu.Unlock()

	if err := s.drafts.SaveLanguage(ctx, s.contestID, task.ID, languageID); err != nil {
		logger.FromContext(ctx).Warn("failed to persist language selection",
			"task_id", task.ID, "error", err)
	}
}

func (s *State) TaskCount() int {
	return len(s.tasks)
}

func (s *State) ActiveTaskIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *State) ActiveTask() Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[s.active]
}

func (s *State) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language[s.tasks[s.active].ID]
}

// CompletedTaskIDs returns a copy of the completion set.
func (s *State) CompletedTaskIDs() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.completed))
	for id := range s.completed {
		out[id] = true
	}
	return out
}

// LastResults returns a copy of each task's most recent submission verdict.
func (s *State) LastResults() map[string]judge.TestRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]judge.TestRun, len(s.lastResult))
	for id, res := range s.lastResult {
		out[id] = res
	}
	return out
}

// SubmittedCode returns the last submitted source for a task, if any.
func (s *State) SubmittedCode(taskID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.submitted[taskID]
	return code, ok
}

// Teardown stops the pending debounce timer without committing; the session
// is over and the final flush already happened through Tick or Finish.
func (s *State) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
}

// FlushDraft commits any pending editor input immediately. Used on explicit
// finish so the last keystrokes are not lost to the debounce window.
func (s *State) FlushDraft(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitDraftLocked(ctx)
	return s.committed
}
