package attendance

import (
	"context"
	"slices"
	"sort"
	"time"

	"go.uber.org/zap"

	"classattend/internal/docstore"
	"classattend/internal/model"
	"classattend/internal/subs"
)

// OpenQuestion is a visible question in one of the user's classrooms.
type OpenQuestion struct {
	ClassroomID  string `json:"cid"`
	SessionID    string `json:"sessionId"`
	QuestionID   string `json:"questionId"`
	CourseLabel  string `json:"courseLabel"`
	QuestionText string `json:"questionText"`
}

type eventKind int

const (
	evProfile eventKind = iota
	evMember
	evClassroom
	evSessions
	evQuestions
)

type cascadeEvent struct {
	kind eventKind
	node *subs.Node
	cid  string
	sid  string
	snap docstore.Snapshot
}

type sessionKey struct{ cid, sid string }

// candidate is a visible question before the per-session tie-break.
type candidate struct {
	q   model.Question
	key sessionKey
}

// cascade tracks user -> membership -> classroom -> session subscriptions.
// A classroom's content is only watched while its membership document
// exists.
// All state is owned by the run goroutine; watchers only forward snapshots.
type cascade struct {
	s      *Service
	uid    string
	mgr    *subs.Manager
	user   *subs.Node
	events chan cascadeEvent

	labels  map[string]string
	visible map[sessionKey][]model.Question
}

// ObserveOpenQuestions watches every classroom the user is enrolled in as a
// student and emits the full list of currently visible questions whenever it
// changes. When a session shows more than one question at once, only the most
// recently shown one (then the highest sequence number) is reported. The
// channel closes when ctx ends.
func (s *Service) ObserveOpenQuestions(ctx context.Context, uid string) (<-chan []OpenQuestion, error) {
	if err := checkIDs(uid); err != nil {
		return nil, err
	}
	mgr := subs.NewManager(ctx, s.track)
	c := &cascade{
		s:       s,
		uid:     uid,
		mgr:     mgr,
		events:  make(chan cascadeEvent),
		labels:  map[string]string{},
		visible: map[sessionKey][]model.Question{},
	}
	c.user, _ = mgr.Root().Child(subs.ScopeEnrollment, uid)
	if err := c.watch(c.user, userPath(uid), evProfile, "", ""); err != nil {
		mgr.Close()
		return nil, storeErr("subscribe profile", err)
	}
	out := make(chan []OpenQuestion)
	go c.run(ctx, out)
	return out, nil
}

func (c *cascade) watch(n *subs.Node, path string, kind eventKind, cid, sid string) error {
	return n.Watch(c.s.store, path, func(snap docstore.Snapshot) {
		select {
		case c.events <- cascadeEvent{kind: kind, node: n, cid: cid, sid: sid, snap: snap}:
		case <-n.Context().Done():
		}
	})
}

func (c *cascade) run(ctx context.Context, out chan<- []OpenQuestion) {
	defer close(out)
	defer c.mgr.Close()

	var (
		last    []OpenQuestion
		pending []OpenQuestion
		dirty   bool
		started bool
	)
	for {
		var send chan<- []OpenQuestion
		if dirty {
			send = out
		}
		select {
		case <-ctx.Done():
			return
		case send <- pending:
			last, dirty = pending, false
		case ev := <-c.events:
			if ev.node.Done() {
				continue
			}
			if ev.snap.Err != nil {
				c.s.log.Warn("discovery snapshot failed",
					zap.String("uid", c.uid), zap.String("path", ev.snap.Path), zap.Error(ev.snap.Err))
				continue
			}
			switch ev.kind {
			case evProfile:
				c.onProfile(ev.snap)
			case evMember:
				c.onMember(ev.node, ev.cid, ev.snap)
			case evClassroom:
				c.onClassroom(ev.cid, ev.snap)
			case evSessions:
				c.onSessions(ev.node, ev.cid, ev.snap)
			case evQuestions:
				c.onQuestions(ev.cid, ev.sid, ev.snap)
			}
			next := c.open()
			if !started || !slices.Equal(next, last) {
				pending, dirty, started = next, true, true
			} else {
				dirty = false
			}
		}
	}
}

func (c *cascade) onProfile(snap docstore.Snapshot) {
	want := map[string]bool{}
	if d, ok := snap.Doc(); ok {
		var p model.UserProfile
		if err := model.Decode(d.Fields, &p); err != nil {
			c.s.log.Warn("profile decode failed", zap.String("uid", c.uid), zap.Error(err))
			return
		}
		for cid, e := range p.Classrooms {
			if e.Role == model.RoleStudent && checkIDs(cid) == nil {
				want[cid] = true
			}
		}
	}
	for _, cid := range c.user.Keys(subs.ScopeMembership) {
		if !want[cid] {
			c.user.Lookup(subs.ScopeMembership, cid).Cancel()
			c.dropClassroom(cid)
		}
	}
	for cid := range want {
		n, created := c.user.Child(subs.ScopeMembership, cid)
		if !created {
			continue
		}
		if err := c.watch(n, memberPath(cid, c.uid), evMember, cid, ""); err != nil {
			c.s.log.Warn("membership subscribe failed", zap.String("cid", cid), zap.Error(err))
		}
	}
}

// onMember starts watching a classroom's content once the membership
// document exists and tears it down as soon as it is removed, whatever the
// profile cache still says.
func (c *cascade) onMember(m *subs.Node, cid string, snap docstore.Snapshot) {
	if _, ok := snap.Doc(); !ok {
		if n := m.Lookup(subs.ScopeClassroom, cid); n != nil {
			n.Cancel()
		}
		c.dropClassroom(cid)
		return
	}
	n, created := m.Child(subs.ScopeClassroom, cid)
	if !created {
		return
	}
	if err := c.watch(n, classroomPath(cid), evClassroom, cid, ""); err != nil {
		c.s.log.Warn("classroom subscribe failed", zap.String("cid", cid), zap.Error(err))
	}
	if err := c.watch(n, sessionsPath(cid), evSessions, cid, ""); err != nil {
		c.s.log.Warn("session subscribe failed", zap.String("cid", cid), zap.Error(err))
	}
}

func (c *cascade) dropClassroom(cid string) {
	delete(c.labels, cid)
	for k := range c.visible {
		if k.cid == cid {
			delete(c.visible, k)
		}
	}
}

func (c *cascade) onClassroom(cid string, snap docstore.Snapshot) {
	d, ok := snap.Doc()
	if !ok {
		delete(c.labels, cid)
		return
	}
	var room model.Classroom
	if err := model.Decode(d.Fields, &room); err != nil {
		c.s.log.Warn("classroom decode failed", zap.String("cid", cid), zap.Error(err))
		return
	}
	c.labels[cid] = room.Label()
}

func (c *cascade) onSessions(n *subs.Node, cid string, snap docstore.Snapshot) {
	present := make(map[string]bool, len(snap.Docs))
	for _, d := range snap.Docs {
		present[d.ID] = true
	}
	for _, sid := range n.Keys(subs.ScopeSession) {
		if !present[sid] {
			n.Lookup(subs.ScopeSession, sid).Cancel()
			delete(c.visible, sessionKey{cid, sid})
		}
	}
	for sid := range present {
		child, created := n.Child(subs.ScopeSession, sid)
		if !created {
			continue
		}
		if err := c.watch(child, questionsPath(cid, sid), evQuestions, cid, sid); err != nil {
			c.s.log.Warn("question subscribe failed", zap.String("cid", cid), zap.String("sid", sid), zap.Error(err))
		}
	}
}

// onQuestions replaces everything known about one session with the visible
// questions of the latest snapshot.
func (c *cascade) onQuestions(cid, sid string, snap docstore.Snapshot) {
	qs, err := decodeQuestions(snap.Docs)
	if err != nil {
		c.s.log.Warn("question decode failed", zap.String("cid", cid), zap.String("sid", sid), zap.Error(err))
		return
	}
	var shown []model.Question
	for _, q := range qs {
		if q.Visible {
			shown = append(shown, q)
		}
	}
	key := sessionKey{cid, sid}
	if len(shown) == 0 {
		delete(c.visible, key)
		return
	}
	c.visible[key] = shown
}

// open builds the exposed list: one question per session, ordered by
// classroom then session.
func (c *cascade) open() []OpenQuestion {
	picks := make([]candidate, 0, len(c.visible))
	for key, qs := range c.visible {
		best := qs[0]
		for _, q := range qs[1:] {
			if shownLater(q, best) {
				best = q
			}
		}
		picks = append(picks, candidate{q: best, key: key})
	}
	sort.Slice(picks, func(i, j int) bool {
		if picks[i].key.cid != picks[j].key.cid {
			return picks[i].key.cid < picks[j].key.cid
		}
		return picks[i].key.sid < picks[j].key.sid
	})
	out := make([]OpenQuestion, 0, len(picks))
	for _, p := range picks {
		out = append(out, OpenQuestion{
			ClassroomID:  p.key.cid,
			SessionID:    p.key.sid,
			QuestionID:   p.q.ID,
			CourseLabel:  c.labels[p.key.cid],
			QuestionText: p.q.Text,
		})
	}
	return out
}

// shownLater reports whether a beats b in the multi-visible tie-break.
func shownLater(a, b model.Question) bool {
	at, bt := shownTime(a), shownTime(b)
	if !at.Equal(bt) {
		return at.After(bt)
	}
	return a.SequenceNo > b.SequenceNo
}

func shownTime(q model.Question) time.Time {
	if q.ShownAt == nil {
		return time.Time{}
	}
	return *q.ShownAt
}
