package taskstate

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeclash/proctor/activity"
	"github.com/codeclash/proctor/conf"
	"github.com/codeclash/proctor/draftstore"
	"github.com/codeclash/proctor/judge"
)

func threeTasks() []Task {
	return []Task{
		{ID: "t0", Boilerplate: map[string]string{"": "// t0\n"}},
		{ID: "t1", Boilerplate: map[string]string{"": "// t1\n"}},
		{ID: "t2", Boilerplate: map[string]string{"": "// t2\n"}},
	}
}

func passing(n int) judge.TestRun {
	return judge.TestRun{Passed: n, Total: n, Status: "accepted"}
}

func failing(passed, total int) judge.TestRun {
	return judge.TestRun{Passed: passed, Total: total, Status: "wrong_answer"}
}

func newTestState(t *testing.T, settings conf.ContestSettings) *State {
	t.Helper()
	s, err := NewState("c1", settings, threeTasks(), draftstore.NewMemStore(), nil, nil)
	require.NoError(t, err)
	return s
}

func TestSwitchTaskBackwardAfterSubmitDenied(t *testing.T) {
	settings := conf.PermissiveDefaults()
	settings.PreventBackwardShiftAfterSubmission = true
	s := newTestState(t, settings)

	s.RecordSubmission("t0", "code0", passing(3))
	denied, err := s.SwitchTask(context.Background(), 1, false)
	require.NoError(t, err)
	require.Nil(t, denied)

	// task 0 is submitted; moving back onto its position is hard-denied
	denied, err = s.SwitchTask(context.Background(), 0, false)
	require.NoError(t, err)
	require.NotNil(t, denied)
	assert.Equal(t, ShiftBackwardAfterSubmit, denied.Reason)
	assert.Equal(t, 1, s.ActiveTaskIndex())

	// force does not bypass the hard rule
	denied, err = s.SwitchTask(context.Background(), 0, true)
	require.NoError(t, err)
	require.NotNil(t, denied)
	assert.Equal(t, ShiftBackwardAfterSubmit, denied.Reason)
}

func TestSwitchTaskBackwardAllowedWhenNotSubmitted(t *testing.T) {
	settings := conf.PermissiveDefaults()
	settings.PreventBackwardShiftAfterSubmission = true
	s := newTestState(t, settings)

	denied, err := s.SwitchTask(context.Background(), 2, false)
	require.NoError(t, err)
	require.Nil(t, denied)

	denied, err = s.SwitchTask(context.Background(), 0, false)
	require.NoError(t, err)
	require.Nil(t, denied)
	assert.Equal(t, 0, s.ActiveTaskIndex())
}

func TestSwitchTaskMustCompleteFirst(t *testing.T) {
	settings := conf.PermissiveDefaults()
	settings.AllowTaskShift = false
	s := newTestState(t, settings)

	denied, err := s.SwitchTask(context.Background(), 1, false)
	require.NoError(t, err)
	require.NotNil(t, denied)
	assert.Equal(t, ShiftMustCompleteFirst, denied.Reason)
	assert.Equal(t, 0, s.ActiveTaskIndex())

	// the soft denial is bypassed after user confirmation
	denied, err = s.SwitchTask(context.Background(), 1, true)
	require.NoError(t, err)
	require.Nil(t, denied)
	assert.Equal(t, 1, s.ActiveTaskIndex())
}

func TestSwitchTaskFreeAfterCompletion(t *testing.T) {
	settings := conf.PermissiveDefaults()
	settings.AllowTaskShift = false
	s := newTestState(t, settings)

	s.RecordSubmission("t0", "code0", passing(3))
	denied, err := s.SwitchTask(context.Background(), 1, false)
	require.NoError(t, err)
	require.Nil(t, denied)
}

func TestSwitchTaskOutOfRange(t *testing.T) {
	s := newTestState(t, conf.PermissiveDefaults())

	_, err := s.SwitchTask(context.Background(), 3, false)
	require.Error(t, err)
	_, err = s.SwitchTask(context.Background(), -1, false)
	require.Error(t, err)
	assert.Equal(t, 0, s.ActiveTaskIndex())
}

// for any sequence of switch attempts the active index stays valid, and once
// a task is submitted under preventBackwardShiftAfterSubmission no later call
// lands on its position
func TestSwitchTaskSequencesKeepIndexValid(t *testing.T) {
	settings := conf.PermissiveDefaults()
	settings.PreventBackwardShiftAfterSubmission = true

	for i := 0; i < 50; i++ {
		s := newTestState(t, settings)
		s.RecordSubmission("t0", "code0", passing(3))
		if _, err := s.SwitchTask(context.Background(), 1, false); err != nil {
			t.Fatalf("setup switch failed: %v", err)
		}

		for j := 0; j < 30; j++ {
			target := rand.Intn(5) - 1 // deliberately includes invalid indices
			s.SwitchTask(context.Background(), target, rand.Intn(2) == 0)

			active := s.ActiveTaskIndex()
			if active < 0 || active >= s.TaskCount() {
				t.Fatalf("active index %d out of range", active)
			}
			if active == 0 {
				t.Fatalf("landed on submitted task position after %d switches", j+1)
			}
		}
	}
}

// countingStore counts draft writes so the debounce law is observable.
type countingStore struct {
	draftstore.Store
	mu    sync.Mutex
	saves int
}

func (c *countingStore) SaveCode(ctx context.Context, contestID, taskID, code string) error {
	c.mu.Lock()
	c.saves++
	c.mu.Unlock()
	return c.Store.SaveCode(ctx, contestID, taskID, code)
}

func (c *countingStore) saveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saves
}

func TestDebounceCoalescesKeystrokes(t *testing.T) {
	store := &countingStore{Store: draftstore.NewMemStore()}
	s, err := NewState("c1", conf.PermissiveDefaults(), threeTasks(), store, nil, nil)
	require.NoError(t, err)
	before := store.saveCount()

	for i := 0; i < 20; i++ {
		s.SetEditorInput("keystroke " + string(rune('a'+i)))
		time.Sleep(5 * time.Millisecond)
	}
	s.SetEditorInput("final text")

	// nothing observable before the window elapses
	assert.NotEqual(t, "final text", s.Code())

	time.Sleep(DebounceDelay + 150*time.Millisecond)

	assert.Equal(t, "final text", s.Code(), "last keystroke wins")
	assert.Equal(t, 1, store.saveCount()-before, "one commit per burst")
}

func TestTickFloorsAtZeroAndExpiresOnce(t *testing.T) {
	settings := conf.PermissiveDefaults()
	settings.DurationSeconds = 2

	expirations := 0
	var expiredTask, expiredCode string
	s, err := NewState("c1", settings, threeTasks(), draftstore.NewMemStore(), nil,
		func(taskID, code string) {
			expirations++
			expiredTask, expiredCode = taskID, code
		})
	require.NoError(t, err)

	s.SetEditorInput("draft at the buzzer")
	s.Tick()
	assert.Equal(t, 1, s.Remaining())
	assert.False(t, s.Expired())

	s.Tick()
	assert.Equal(t, 0, s.Remaining())
	assert.True(t, s.Expired())
	assert.Equal(t, 1, expirations)
	assert.Equal(t, "t0", expiredTask)
	assert.Equal(t, "draft at the buzzer", expiredCode, "pending draft flushed before the policy runs")

	// repeated ticks after expiry are no-ops
	s.Tick()
	s.Tick()
	assert.Equal(t, 0, s.Remaining())
	assert.Equal(t, 1, expirations)
}

func TestRecordSubmissionCompletion(t *testing.T) {
	var events []activity.Event
	s, err := NewState("c1", conf.PermissiveDefaults(), threeTasks(), draftstore.NewMemStore(),
		func(ev activity.Event) { events = append(events, ev) }, nil)
	require.NoError(t, err)

	s.RecordSubmission("t0", "partial", failing(2, 3))
	assert.False(t, s.CompletedTaskIDs()["t0"], "hidden failures keep the task incomplete")

	s.RecordSubmission("t0", "full", passing(3))
	assert.True(t, s.CompletedTaskIDs()["t0"])

	code, ok := s.SubmittedCode("t0")
	require.True(t, ok)
	assert.Equal(t, "full", code)
	assert.Equal(t, "accepted", s.LastResults()["t0"].Status, "latest verdict replaces the earlier one")

	require.Len(t, events, 2)
	assert.Equal(t, activity.TypeTaskSubmitted, events[0].Type)
	assert.Equal(t, activity.TypeTaskSubmitted, events[1].Type)
}

func TestSubmissionLimit(t *testing.T) {
	settings := conf.PermissiveDefaults()
	settings.MaxSubmissionsAllowed = 2
	s := newTestState(t, settings)

	require.NoError(t, s.CanSubmit("t0"))
	s.RecordSubmission("t0", "a", failing(0, 3))
	require.NoError(t, s.CanSubmit("t0"))
	s.RecordSubmission("t0", "b", failing(1, 3))

	err := s.CanSubmit("t0")
	require.Error(t, err)
	limitErr, ok := err.(*ErrSubmissionLimit)
	require.True(t, ok)
	assert.Equal(t, 2, limitErr.Limit)

	// other tasks are unaffected
	require.NoError(t, s.CanSubmit("t1"))
}

func TestSwitchTaskLoadsSubmittedCodeOverDraft(t *testing.T) {
	s := newTestState(t, conf.PermissiveDefaults())

	s.RecordSubmission("t1", "submitted solution", passing(3))
	denied, err := s.SwitchTask(context.Background(), 1, false)
	require.NoError(t, err)
	require.Nil(t, denied)
	assert.Equal(t, "submitted solution", s.Code())
}

func TestSwitchTaskLoadsBoilerplateFirstOpen(t *testing.T) {
	s := newTestState(t, conf.PermissiveDefaults())

	denied, err := s.SwitchTask(context.Background(), 2, false)
	require.NoError(t, err)
	require.Nil(t, denied)
	assert.Equal(t, "// t2\n", s.Code())
}

func TestResumeDraftFromStore(t *testing.T) {
	store := draftstore.NewMemStore()
	require.NoError(t, store.SaveCode(context.Background(), "c1", "t0", "resumed draft"))

	s, err := NewState("c1", conf.PermissiveDefaults(), threeTasks(), store, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "resumed draft", s.Code())
}

func TestSwitchPersistsOutgoingDraft(t *testing.T) {
	store := &countingStore{Store: draftstore.NewMemStore()}
	s, err := NewState("c1", conf.PermissiveDefaults(), threeTasks(), store, nil, nil)
	require.NoError(t, err)

	s.SetEditorInput("work in progress")
	_, err = s.SwitchTask(context.Background(), 1, false)
	require.NoError(t, err)

	code, ok, err := store.LoadCode(context.Background(), "c1", "t0")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "work in progress", code)

	// switching again without edits writes nothing new
	saves := store.saveCount()
	_, err = s.SwitchTask(context.Background(), 0, false)
	require.NoError(t, err)
	_, err = s.SwitchTask(context.Background(), 1, false)
	require.NoError(t, err)
	assert.Equal(t, saves, store.saveCount())
}
