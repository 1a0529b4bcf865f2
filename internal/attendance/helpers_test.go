package attendance

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"classattend/internal/docstore"
	"classattend/internal/model"
)

type fixture struct {
	store *docstore.Memory
	svc   *Service

	mu    sync.Mutex
	clock time.Time
	ids   int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: docstore.NewMemory(),
		clock: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.store, zap.NewNop(),
		WithClock(f.now),
		WithIDs(f.nextID),
		WithSubscriptionTracker(func(int) {}),
	)
	return f
}

// now advances one second per call so every write gets a distinct time.
func (f *fixture) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fixture) nextID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids++
	return fmt.Sprintf("id%03d", f.ids)
}

func (f *fixture) mustUser(t *testing.T, name, studentID string) string {
	t.Helper()
	p, err := f.svc.RegisterUser(context.Background(), name, studentID)
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return p.ID
}

func (f *fixture) mustClassroom(t *testing.T, owner string, attend, late float64) string {
	t.Helper()
	c, err := f.svc.CreateClassroom(context.Background(), owner, ClassroomInput{
		Code: "CS101", Name: "Intro", Room: "B2", AttendScore: attend, LateScore: late,
	})
	if err != nil {
		t.Fatalf("create classroom: %v", err)
	}
	return c.ID
}

func (f *fixture) mustJoin(t *testing.T, uid, cid string) {
	t.Helper()
	if _, err := f.svc.JoinClassroom(context.Background(), uid, cid); err != nil {
		t.Fatalf("join %s: %v", cid, err)
	}
}

func (f *fixture) mustSession(t *testing.T, owner, cid, code string) string {
	t.Helper()
	s, err := f.svc.CreateSession(context.Background(), owner, cid, SessionInput{
		Code: code, ScheduledAt: time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s.ID
}

func (f *fixture) mustState(t *testing.T, owner, cid, sid string, st model.SessionState) {
	t.Helper()
	if err := f.svc.SetSessionState(context.Background(), owner, cid, sid, st); err != nil {
		t.Fatalf("set state %v: %v", st, err)
	}
}

func (f *fixture) record(t *testing.T, cid, sid, uid string) model.AttendanceRecord {
	t.Helper()
	var rec model.AttendanceRecord
	if err := f.svc.repo.get(context.Background(), "test", recordPath(cid, sid, uid), &rec); err != nil {
		t.Fatalf("record %s: %v", uid, err)
	}
	return rec
}

// class is a classroom with an owner, students and one session.
type class struct {
	owner    string
	students []string
	cid      string
	sid      string
}

func (f *fixture) mustClass(t *testing.T, students int) class {
	t.Helper()
	c := class{owner: f.mustUser(t, "Teacher", "")}
	c.cid = f.mustClassroom(t, c.owner, 1, 0.5)
	for i := 0; i < students; i++ {
		uid := f.mustUser(t, fmt.Sprintf("Student %d", i+1), fmt.Sprintf("65%02d", i+1))
		f.mustJoin(t, uid, c.cid)
		c.students = append(c.students, uid)
	}
	c.sid = f.mustSession(t, c.owner, c.cid, "ABC1")
	return c
}

// hookStore intercepts calls to an underlying store.
type hookStore struct {
	docstore.Store
	onGet  func(path string)
	failOn func(path string) error
}

func (h *hookStore) Get(ctx context.Context, path string) (docstore.Doc, error) {
	if h.onGet != nil {
		h.onGet(path)
	}
	return h.Store.Get(ctx, path)
}

func (h *hookStore) Set(ctx context.Context, path string, fields map[string]any, merge bool) error {
	if h.failOn != nil {
		if err := h.failOn(path); err != nil {
			return err
		}
	}
	return h.Store.Set(ctx, path, fields, merge)
}

// hooked returns a service over the fixture's store wrapped by h.
func (f *fixture) hooked(h *hookStore) *Service {
	h.Store = f.store
	return NewService(h, zap.NewNop(),
		WithClock(f.now),
		WithIDs(f.nextID),
		WithSubscriptionTracker(func(int) {}),
	)
}
