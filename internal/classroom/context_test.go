package classroom

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classsync/pkg/interfaces"
	"classsync/pkg/types"
)

// fakeChannel records sends and lets tests inject inbound frames.
type fakeChannel struct {
	mu   sync.Mutex
	sent []types.Frame
	subs map[string]map[interfaces.Subscription]interfaces.FrameHandler
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{subs: make(map[string]map[interfaces.Subscription]interfaces.FrameHandler)}
}

func (f *fakeChannel) Connect(context.Context) error { return nil }
func (f *fakeChannel) Disconnect() error             { return nil }
func (f *fakeChannel) Connected() bool               { return true }
func (f *fakeChannel) ConnectedAt() time.Time        { return time.Now() }

func (f *fakeChannel) Send(event string, payload interface{}) error {
	frame, err := types.EncodeFrame(event, payload)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, *frame)
	return nil
}

func (f *fakeChannel) Subscribe(event string, handler interfaces.FrameHandler) interfaces.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := interfaces.Subscription(uuid.New().String())
	if f.subs[event] == nil {
		f.subs[event] = make(map[interfaces.Subscription]interfaces.FrameHandler)
	}
	f.subs[event][sub] = handler
	return sub
}

func (f *fakeChannel) Unsubscribe(sub interfaces.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for event, handlers := range f.subs {
		delete(handlers, sub)
		if len(handlers) == 0 {
			delete(f.subs, event)
		}
	}
}

func (f *fakeChannel) push(t *testing.T, event string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	frame := types.Frame{Event: event, Payload: raw}

	f.mu.Lock()
	handlers := make([]interfaces.FrameHandler, 0, len(f.subs[event]))
	for _, h := range f.subs[event] {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(frame)
	}
}

func (f *fakeChannel) sentEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := make([]string, len(f.sent))
	for i, frame := range f.sent {
		events[i] = frame.Event
	}
	return events
}

func newTestContext(t *testing.T) (*SessionContext, *fakeChannel) {
	t.Helper()
	ch := newFakeChannel()
	sc := New(Options{Channel: ch})
	t.Cleanup(func() { _ = sc.Close() })
	return sc, ch
}

func TestTeacherLifecycle(t *testing.T) {
	sc, ch := newTestContext(t)
	require.NoError(t, sc.Sessions.SetIdentity(types.Identity{
		ID: "t-1", Role: types.RoleTeacher, DisplayName: "Mr. Petrov",
	}))

	// Create optimistically, then confirm with the server-assigned code.
	cls, err := sc.Sessions.Create("Physics 10A")
	require.NoError(t, err)
	assert.True(t, cls.Pending)

	ch.push(t, types.EventClassCreated, types.ClassCreatedPayload{
		ID: "class-1", Name: "Physics 10A", ClassCode: "PHY10A2024", TeacherID: "t-1",
	})
	active := sc.Sessions.Active()
	require.NotNil(t, active)
	assert.Equal(t, "class-1", active.ID)
	assert.False(t, active.Pending)

	// Publishing a homework with a due date grows the calendar.
	due := time.Now().Add(7 * 24 * time.Hour)
	hw, err := sc.Homework.Publish(types.HomeworkDraft{
		Title: "Lab report", DueAt: due,
	})
	require.NoError(t, err)

	events := sc.Calendar.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "hw-due-"+hw.ID, events[0].ID)
	assert.True(t, events[0].Derived())

	assert.Contains(t, ch.sentEvents(), types.EventTeacherCreateClass)
	assert.Contains(t, ch.sentEvents(), types.EventNewHomework)
}

func TestStudentJoinAppliesSnapshot(t *testing.T) {
	sc, ch := newTestContext(t)
	require.NoError(t, sc.Sessions.SetIdentity(types.Identity{
		ID: "s-1", Role: types.RoleStudent, DisplayName: "Anna",
	}))

	require.True(t, sc.Sessions.Join("PHY10A2024"))

	due := time.Date(2026, 9, 20, 23, 59, 0, 0, time.UTC)
	ch.push(t, types.EventClassState, types.ClassStatePayload{
		Class: types.ClassSession{ID: "class-1", Name: "Physics 10A", Code: "PHY10A2024", OwnerID: "t-1"},
		Students: []types.Member{
			{ID: "s-1", DisplayName: "Anna", Role: types.RoleStudent},
		},
		Lessons: []types.CalendarEvent{
			{ID: "lesson-1", ClassID: "class-1", Kind: types.EventKindLesson, Title: "Optics",
				Start: due.Add(-48 * time.Hour)},
		},
		Homeworks: []types.Homework{
			{ID: "hw-1", ClassID: "class-1", Title: "Lab report", DueAt: due, IsPublished: true},
		},
	})

	// The snapshot fans out to every store: roster, homeworks, lessons, and
	// the derived due-date entry.
	active := sc.Sessions.Active()
	require.NotNil(t, active)
	assert.Equal(t, "class-1", active.ID)
	require.Len(t, active.Members, 1)

	assert.Len(t, sc.Homework.Homeworks(), 1)

	events := sc.Calendar.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "lesson-1", events[0].ID)
	assert.Equal(t, "hw-due-hw-1", events[1].ID)

	// Submitting references the snapshot's homework.
	sub, err := sc.Homework.Submit("hw-1", "my answer")
	require.NoError(t, err)
	assert.Equal(t, "s-1", sub.StudentID)
}

func TestLeaveDiscardsScopedState(t *testing.T) {
	sc, ch := newTestContext(t)
	require.NoError(t, sc.Sessions.SetIdentity(types.Identity{
		ID: "s-1", Role: types.RoleStudent, DisplayName: "Anna",
	}))
	require.True(t, sc.Sessions.Join("PHY10A2024"))

	ch.push(t, types.EventClassState, types.ClassStatePayload{
		Class: types.ClassSession{ID: "class-1", Name: "Physics 10A", Code: "PHY10A2024"},
		Homeworks: []types.Homework{
			{ID: "hw-1", ClassID: "class-1", Title: "Lab", DueAt: time.Now(), IsPublished: true},
		},
	})
	require.NotEmpty(t, sc.Homework.Homeworks())
	require.NotEmpty(t, sc.Calendar.Events())

	sc.Sessions.Leave()

	assert.Nil(t, sc.Sessions.Active())
	assert.Empty(t, sc.Homework.Homeworks())
	assert.Empty(t, sc.Calendar.Events())
}

func TestJoinAnotherClassPurgesPriorClassState(t *testing.T) {
	sc, ch := newTestContext(t)
	require.NoError(t, sc.Sessions.SetIdentity(types.Identity{
		ID: "s-1", Role: types.RoleStudent, DisplayName: "Anna",
	}))

	require.True(t, sc.Sessions.Join("CODEA2026"))
	ch.push(t, types.EventClassState, types.ClassStatePayload{
		Class: types.ClassSession{ID: "class-a", Name: "Physics", Code: "CODEA2026"},
		Homeworks: []types.Homework{
			{ID: "hw-a", ClassID: "class-a", Title: "Lab", DueAt: time.Now(), IsPublished: true},
		},
	})
	_, err := sc.Calendar.CreateEvent(types.CalendarEvent{
		Title: "Field trip", Kind: types.EventKindMeeting, Start: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	require.NotEmpty(t, sc.Homework.Homeworks())
	require.NotEmpty(t, sc.Calendar.Events())

	require.True(t, sc.Sessions.Join("CODEB2026"))

	// Nothing of the first class survives the switch: not its homeworks, not
	// its derived entries, not its manual calendar entries.
	assert.Empty(t, sc.Homework.Homeworks())
	assert.Empty(t, sc.Calendar.Events())
	assert.Equal(t, "CODEB2026", sc.Sessions.ActiveCode())
}

func TestReconnectTriggersResync(t *testing.T) {
	sc, ch := newTestContext(t)
	require.NoError(t, sc.Sessions.SetIdentity(types.Identity{
		ID: "s-1", Role: types.RoleStudent, DisplayName: "Anna",
	}))
	require.True(t, sc.Sessions.Join("PHY10A2024"))
	ch.push(t, types.EventClassState, types.ClassStatePayload{
		Class: types.ClassSession{ID: "class-1", Name: "Physics 10A", Code: "PHY10A2024"},
	})

	before := len(ch.sentEvents())
	ch.push(t, types.EventConnectivityChanged, types.ConnectivityPayload{Connected: true, At: time.Now()})

	events := ch.sentEvents()
	require.Greater(t, len(events), before, "reconnect should request the active class again")
	assert.Equal(t, types.EventJoinClass, events[len(events)-1])
}

func TestCloseDetachesStores(t *testing.T) {
	ch := newFakeChannel()
	sc := New(Options{Channel: ch})
	require.NoError(t, sc.Sessions.SetIdentity(types.Identity{
		ID: "s-1", Role: types.RoleStudent, DisplayName: "Anna",
	}))
	require.NoError(t, sc.Close())

	ch.push(t, types.EventClassState, types.ClassStatePayload{
		Class: types.ClassSession{ID: "class-1", Name: "Physics 10A", Code: "PHY10A2024"},
	})
	assert.Nil(t, sc.Sessions.Active(), "a closed context ignores inbound frames")
}
