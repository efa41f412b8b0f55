// Package relay is an in-memory reference implementation of the wire
// contract the classroom sync core speaks: it assigns class codes, tracks
// authoritative class state, serves snapshots and rebroadcasts events to
// the right members. It backs integration tests and local development; it
// is not a production persistence layer.
package relay

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"classsync/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// classState is the authoritative record for one class.
type classState struct {
	class       types.ClassSession
	members     map[string]types.Member
	homeworks   map[string]types.Homework
	lessons     []types.CalendarEvent
	events      map[string]types.CalendarEvent
	submissions map[string]types.Submission
}

func (cs *classState) snapshot() *types.Snapshot {
	members := make([]types.Member, 0, len(cs.members))
	for _, m := range cs.members {
		members = append(members, m)
	}
	homeworks := make([]types.Homework, 0, len(cs.homeworks))
	for _, hw := range cs.homeworks {
		homeworks = append(homeworks, hw)
	}
	cls := cs.class
	cls.Members = members
	return &types.Snapshot{
		Class:     cls,
		Members:   members,
		Lessons:   append([]types.CalendarEvent(nil), cs.lessons...),
		Homeworks: homeworks,
	}
}

// Relay routes frames between the members of each class.
type Relay struct {
	log *zap.Logger

	mu          sync.RWMutex
	clients     map[string]*client     // userID -> connection
	byID        map[string]*classState // classID -> state
	byCode      map[string]*classState // classCode -> state
	memberClass map[string]string      // userID -> classID
}

// New creates an empty relay.
func New(log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{
		log:         log,
		clients:     make(map[string]*client),
		byID:        make(map[string]*classState),
		byCode:      make(map[string]*classState),
		memberClass: make(map[string]string),
	}
}

// Routes returns the relay's HTTP surface: the WebSocket endpoint, the
// snapshot fallback and a health probe.
func (r *Relay) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", r.handleWebSocket)
	mux.HandleFunc("/snapshot", r.handleSnapshot)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// handleWebSocket validates the caller's identity parameters, upgrades the
// connection and runs its read loop.
func (r *Relay) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	userID := req.URL.Query().Get("user_id")
	role := types.Role(req.URL.Query().Get("role"))
	displayName := req.URL.Query().Get("display_name")

	if !types.IsValidUserID(userID) {
		http.Error(w, "invalid user_id", http.StatusBadRequest)
		return
	}
	if role != types.RoleTeacher && role != types.RoleStudent {
		http.Error(w, "role must be 'teacher' or 'student'", http.StatusBadRequest)
		return
	}
	if displayName == "" {
		displayName = userID
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	c := newClient(conn, userID, role, displayName)
	r.register(c)
	r.log.Info("client connected", zap.String("user_id", userID), zap.String("role", string(role)))

	go r.readLoop(c)
}

func (r *Relay) register(c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.clients[c.userID]; ok {
		go existing.close()
	}
	r.clients[c.userID] = c
}

func (r *Relay) unregister(c *client) {
	r.mu.Lock()
	if current, ok := r.clients[c.userID]; ok && current == c {
		delete(r.clients, c.userID)
	}
	r.mu.Unlock()
	c.close()
}

func (r *Relay) readLoop(c *client) {
	defer r.unregister(c)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame types.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			r.log.Warn("malformed frame", zap.String("user_id", c.userID), zap.Error(err))
			continue
		}
		payload, err := types.DecodePayload(frame)
		if err != nil {
			r.log.Warn("unroutable frame",
				zap.String("user_id", c.userID), zap.String("event", frame.Event), zap.Error(err))
			continue
		}
		r.route(c, frame.Event, payload)
	}
}

// route applies one inbound event to the authoritative state and forwards
// it per the event's routing rule. Invalid senders and unknown references
// are logged and dropped; the relay never crashes a connection over them.
func (r *Relay) route(c *client, event string, payload interface{}) {
	switch event {
	case types.EventTeacherCreateClass:
		r.handleCreateClass(c, payload.(*types.CreateClassPayload))
	case types.EventJoinClass:
		r.handleJoinClass(c, payload.(*types.JoinClassPayload))
	case types.EventNewHomework:
		r.handleNewHomework(c, payload.(*types.NewHomeworkPayload))
	case types.EventSubmitHomework:
		r.handleSubmitHomework(c, payload.(*types.SubmitHomeworkPayload))
	case types.EventGradeSubmission:
		r.handleGradeSubmission(c, payload.(*types.GradeSubmissionPayload))
	case types.EventCalendarEventCreated, types.EventCalendarEventUpdated:
		r.handleCalendarEvent(c, event, payload.(*types.CalendarEventPayload))
	case types.EventCalendarEventDeleted:
		r.handleCalendarDelete(c, payload.(*types.CalendarEventDeletedPayload))
	default:
		r.log.Debug("event ignored", zap.String("event", event))
	}
}

func (r *Relay) handleCreateClass(c *client, p *types.CreateClassPayload) {
	if c.role != types.RoleTeacher {
		r.log.Warn("create_class from non-teacher", zap.String("user_id", c.userID))
		return
	}

	r.mu.Lock()
	code := generateCode(p.Name, time.Now().Year(), func(code string) bool {
		_, exists := r.byCode[code]
		return exists
	})
	cs := &classState{
		class: types.ClassSession{
			ID:        uuid.New().String(),
			Name:      p.Name,
			Code:      code,
			OwnerID:   c.userID,
			CreatedAt: time.Now(),
		},
		members:     map[string]types.Member{c.userID: c.member()},
		homeworks:   make(map[string]types.Homework),
		events:      make(map[string]types.CalendarEvent),
		submissions: make(map[string]types.Submission),
	}
	r.byID[cs.class.ID] = cs
	r.byCode[code] = cs
	r.memberClass[c.userID] = cs.class.ID
	r.mu.Unlock()

	c.send(types.EventClassCreated, types.ClassCreatedPayload{
		ID:        cs.class.ID,
		Name:      cs.class.Name,
		ClassCode: code,
		TeacherID: c.userID,
	})
	r.log.Info("class created", zap.String("class_id", cs.class.ID), zap.String("code", code))
}

func (r *Relay) handleJoinClass(c *client, p *types.JoinClassPayload) {
	r.mu.Lock()
	cs, ok := r.byCode[p.ClassCode]
	if !ok {
		r.mu.Unlock()
		r.log.Warn("join with unknown code",
			zap.String("user_id", c.userID), zap.String("code", p.ClassCode))
		return
	}
	cs.members[c.userID] = c.member()
	r.memberClass[c.userID] = cs.class.ID
	snap := cs.snapshot()
	r.mu.Unlock()

	// The roster changed; every member gets the fresh authoritative state.
	r.broadcastState(cs.class.ID, snap)
}

func (r *Relay) handleNewHomework(c *client, p *types.NewHomeworkPayload) {
	if c.role != types.RoleTeacher {
		r.log.Warn("new_homework from non-teacher", zap.String("user_id", c.userID))
		return
	}
	r.mu.Lock()
	cs, ok := r.byCode[p.ClassCode]
	if !ok {
		r.mu.Unlock()
		return
	}
	hw := p.Homework
	hw.ClassID = cs.class.ID
	hw.Pending = false
	cs.homeworks[hw.ID] = hw
	r.mu.Unlock()

	r.broadcast(cs.class.ID, types.EventNewHomework, types.NewHomeworkPayload{
		TeacherID: p.TeacherID,
		ClassCode: p.ClassCode,
		Homework:  hw,
	}, nil)
}

func (r *Relay) handleSubmitHomework(c *client, p *types.SubmitHomeworkPayload) {
	r.mu.Lock()
	classID, ok := r.memberClass[c.userID]
	cs := r.byID[classID]
	if !ok || cs == nil {
		r.mu.Unlock()
		return
	}
	sub := p.Submission
	sub.Pending = false
	cs.submissions[sub.ID] = sub
	r.mu.Unlock()

	forwarded := types.SubmitHomeworkPayload{
		StudentID:  p.StudentID,
		HomeworkID: p.HomeworkID,
		Submission: sub,
	}
	// Submissions route to the teachers of the class only.
	r.broadcast(classID, types.EventSubmitHomework, forwarded, func(m types.Member) bool {
		return m.Role == types.RoleTeacher
	})
}

func (r *Relay) handleGradeSubmission(c *client, p *types.GradeSubmissionPayload) {
	if c.role != types.RoleTeacher {
		r.log.Warn("grade from non-teacher", zap.String("user_id", c.userID))
		return
	}
	r.mu.Lock()
	classID := r.memberClass[c.userID]
	cs := r.byID[classID]
	if cs == nil {
		r.mu.Unlock()
		return
	}
	sub, ok := cs.submissions[p.SubmissionID]
	if !ok {
		r.mu.Unlock()
		r.log.Warn("grade for unknown submission", zap.String("submission_id", p.SubmissionID))
		return
	}
	now := time.Now()
	score := p.Score
	sub.Score = &score
	sub.Feedback = p.Feedback
	sub.GradedBy = c.userID
	sub.GradedAt = &now
	sub.IsGraded = true
	cs.submissions[sub.ID] = sub
	studentID := sub.StudentID
	r.mu.Unlock()

	// Grades route to the submitting student and the teachers.
	r.broadcast(classID, types.EventGradeSubmission, *p, func(m types.Member) bool {
		return m.Role == types.RoleTeacher || m.ID == studentID
	})
}

func (r *Relay) handleCalendarEvent(c *client, event string, p *types.CalendarEventPayload) {
	r.mu.Lock()
	classID := p.ClassID
	if classID == "" {
		classID = r.memberClass[c.userID]
	}
	cs := r.byID[classID]
	if cs == nil {
		r.mu.Unlock()
		return
	}
	entry := p.Event()
	entry.ClassID = classID
	cs.events[entry.ID] = entry
	r.mu.Unlock()

	r.broadcast(classID, event, types.CalendarEventPayloadFrom(entry), nil)
}

func (r *Relay) handleCalendarDelete(c *client, p *types.CalendarEventDeletedPayload) {
	r.mu.Lock()
	classID := p.ClassID
	if classID == "" {
		classID = r.memberClass[c.userID]
	}
	cs := r.byID[classID]
	if cs == nil {
		r.mu.Unlock()
		return
	}
	delete(cs.events, p.EventID)
	r.mu.Unlock()

	r.broadcast(classID, types.EventCalendarEventDeleted, types.CalendarEventDeletedPayload{
		EventID: p.EventID,
		ClassID: classID,
	}, nil)
}

// broadcast sends one event to every connected member of a class passing
// the filter. Delivery continues past individual slow or dead connections.
func (r *Relay) broadcast(classID, event string, payload interface{}, filter func(types.Member) bool) {
	r.mu.RLock()
	cs := r.byID[classID]
	if cs == nil {
		r.mu.RUnlock()
		return
	}
	recipients := make([]*client, 0, len(cs.members))
	for _, m := range cs.members {
		if filter != nil && !filter(m) {
			continue
		}
		if c, ok := r.clients[m.ID]; ok {
			recipients = append(recipients, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range recipients {
		if !c.send(event, payload) {
			r.log.Warn("frame not delivered",
				zap.String("user_id", c.userID), zap.String("event", event))
		}
	}
}

func (r *Relay) broadcastState(classID string, snap *types.Snapshot) {
	payload := types.ClassStatePayload{
		Class:     snap.Class,
		Students:  snap.Members,
		Lessons:   snap.Lessons,
		Homeworks: snap.Homeworks,
	}
	r.broadcast(classID, types.EventClassState, payload, nil)
}

// handleSnapshot is the request/response fallback for initial snapshots.
func (r *Relay) handleSnapshot(w http.ResponseWriter, req *http.Request) {
	code := req.URL.Query().Get("code")
	r.mu.RLock()
	cs, ok := r.byCode[code]
	var snap *types.Snapshot
	if ok {
		snap = cs.snapshot()
	}
	r.mu.RUnlock()

	if snap == nil {
		http.Error(w, "unknown class code", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		r.log.Warn("snapshot encode failed", zap.Error(err))
	}
}
