package attendance

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"classattend/internal/model"
)

func TestCreateClassroomValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.mustUser(t, "Teacher", "")

	cases := []struct {
		name string
		in   ClassroomInput
		want error
	}{
		{"ok", ClassroomInput{Code: "C1", Name: "N", AttendScore: 1, LateScore: 0.5}, nil},
		{"late above attend", ClassroomInput{Code: "C1", Name: "N", AttendScore: 1, LateScore: 2}, ErrValidation},
		{"negative", ClassroomInput{Code: "C1", Name: "N", AttendScore: -1, LateScore: -2}, ErrValidation},
		{"missing name", ClassroomInput{Code: "C1", AttendScore: 1}, ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateClassroom(ctx, owner, tc.in)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
	if _, err := f.svc.CreateClassroom(ctx, "nobody", ClassroomInput{Code: "C", Name: "N"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown owner: err = %v", err)
	}
}

func TestJoinClassroom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.mustClass(t, 1)
	noID := f.mustUser(t, "No ID", "")

	if _, err := f.svc.JoinClassroom(ctx, c.students[0], c.cid); !errors.Is(err, ErrAlreadyEnrolled) {
		t.Fatalf("rejoin: err = %v", err)
	}
	if _, err := f.svc.JoinClassroom(ctx, c.owner, c.cid); !errors.Is(err, ErrAlreadyEnrolled) {
		t.Fatalf("owner join: err = %v", err)
	}
	if _, err := f.svc.JoinClassroom(ctx, noID, c.cid); !errors.Is(err, ErrValidation) {
		t.Fatalf("no student id: err = %v", err)
	}
	if _, err := f.svc.JoinClassroom(ctx, c.students[0], "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing classroom: err = %v", err)
	}

	m, err := f.svc.repo.Member(ctx, c.cid, c.students[0])
	if err != nil {
		t.Fatal(err)
	}
	if m.StudentID != "6501" || m.Name != "Student 1" {
		t.Fatalf("member = %+v", m)
	}
	p, err := f.svc.Profile(ctx, c.students[0])
	if err != nil {
		t.Fatal(err)
	}
	if p.Classrooms[c.cid].Role != model.RoleStudent {
		t.Fatalf("cache = %+v", p.Classrooms)
	}
}

func TestJoinRestoresMissingCacheEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.mustClass(t, 1)
	student := c.students[0]

	if err := f.svc.repo.RemoveEnrollments(ctx, student, c.cid); err != nil {
		t.Fatal(err)
	}
	room, err := f.svc.JoinClassroom(ctx, student, c.cid)
	if err != nil {
		t.Fatalf("join with membership but no cache entry: %v", err)
	}
	if room.ID != c.cid {
		t.Fatalf("classroom = %+v", room)
	}
	p, err := f.svc.Profile(ctx, student)
	if err != nil {
		t.Fatal(err)
	}
	if p.Classrooms[c.cid].Role != model.RoleStudent {
		t.Fatalf("cache = %+v", p.Classrooms)
	}
	if _, err := f.svc.JoinClassroom(ctx, student, c.cid); !errors.Is(err, ErrAlreadyEnrolled) {
		t.Fatalf("second join: err = %v", err)
	}
}

func TestUpdateClassroom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.mustClass(t, 1)
	str := func(s string) *string { return &s }
	num := func(v float64) *float64 { return &v }

	room, err := f.svc.UpdateClassroom(ctx, c.owner, c.cid, ClassroomPatch{Code: str(" CS102 "), Name: str("Data Structures")})
	if err != nil {
		t.Fatal(err)
	}
	if room.Label() != "CS102 Data Structures" || room.Room != "B2" || room.AttendScore != 1 {
		t.Fatalf("updated = %+v", room)
	}
	stored, err := f.svc.repo.Classroom(ctx, c.cid)
	if err != nil {
		t.Fatal(err)
	}
	if stored != room {
		t.Fatalf("stored = %+v, returned %+v", stored, room)
	}

	cases := []struct {
		name  string
		actor string
		in    ClassroomPatch
		want  error
	}{
		{"late above attend", c.owner, ClassroomPatch{LateScore: num(2)}, ErrValidation},
		{"attend below late", c.owner, ClassroomPatch{AttendScore: num(0.25)}, ErrValidation},
		{"empty name", c.owner, ClassroomPatch{Name: str("  ")}, ErrValidation},
		{"not owner", c.students[0], ClassroomPatch{Room: str("A1")}, ErrUnauthorized},
		{"both scores", c.owner, ClassroomPatch{AttendScore: num(3), LateScore: num(2)}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.UpdateClassroom(ctx, tc.actor, c.cid, tc.in)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
	stored, err = f.svc.repo.Classroom(ctx, c.cid)
	if err != nil {
		t.Fatal(err)
	}
	if stored.AttendScore != 3 || stored.LateScore != 2 || stored.Name != "Data Structures" {
		t.Fatalf("rejected patches leaked: %+v", stored)
	}
}

func TestRosterSnapshotAtCreation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.mustClass(t, 2)
	late := f.mustUser(t, "Latecomer", "6599")
	f.mustJoin(t, late, c.cid)

	_, _, records, err := f.svc.Roster(ctx, c.owner, c.cid, c.sid)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("roster = %+v", records)
	}
	for _, r := range records {
		if r.StudentID == late {
			t.Fatal("later enrollee added to an existing session")
		}
	}

	f.mustState(t, c.owner, c.cid, c.sid, model.SessionOpen)
	if _, err := f.svc.Submit(ctx, SubmitRequest{ClassroomID: c.cid, SessionID: c.sid, StudentID: late, Code: "ABC1"}); err != nil {
		t.Fatalf("latecomer submit: %v", err)
	}

	next := f.mustSession(t, c.owner, c.cid, "NEXT")
	_, _, records, err = f.svc.Roster(ctx, c.owner, c.cid, next)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("next roster = %d records, want 3", len(records))
	}
}

func TestCreateSessionRemovesPartialRoster(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.mustClass(t, 3)
	broken := c.students[1]
	var records string
	svc := f.hooked(&hookStore{failOn: func(path string) error {
		if strings.Contains(path, "/checkin/") && strings.HasSuffix(path, "/students/"+broken) {
			records = strings.TrimSuffix(path, "/"+broken)
			return errors.New("disk full")
		}
		return nil
	}})

	if _, err := svc.CreateSession(ctx, c.owner, c.cid, SessionInput{Code: "X1", ScheduledAt: f.now()}); err == nil {
		t.Fatal("expected roster write failure")
	}
	sessions, err := f.svc.repo.Sessions(ctx, c.cid)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].ID != c.sid {
		t.Fatalf("sessions = %+v, want only the fixture session", sessions)
	}
	left, err := f.store.Scan(ctx, records, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Fatalf("%d records left under %s", len(left), records)
	}
}

func TestListSessionsCounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.mustClass(t, 3)
	earlier, err := f.svc.CreateSession(ctx, c.owner, c.cid, SessionInput{Code: "E", ScheduledAt: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatal(err)
	}
	f.mustState(t, c.owner, c.cid, c.sid, model.SessionOpen)
	for _, s := range c.students[:2] {
		if _, err := f.svc.Submit(ctx, SubmitRequest{ClassroomID: c.cid, SessionID: c.sid, StudentID: s, Code: "ABC1"}); err != nil {
			t.Fatal(err)
		}
	}

	list, err := f.svc.ListSessions(ctx, c.owner, c.cid)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != earlier.ID || list[1].ID != c.sid {
		t.Fatalf("order = %+v", list)
	}
	if list[1].Roster != 3 || list[1].Attending != 2 || list[0].Attending != 0 {
		t.Fatalf("counts = %+v", list)
	}
}

func TestLocateSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.mustClass(t, 1)

	cid, sess, err := f.svc.LocateSession(ctx, c.students[0], c.sid)
	if err != nil {
		t.Fatal(err)
	}
	if cid != c.cid || sess.Code != "ABC1" {
		t.Fatalf("located %s %+v", cid, sess)
	}
	if _, _, err := f.svc.LocateSession(ctx, c.students[0], "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("unknown session: err = %v", err)
	}
}

func TestDeleteClassroomCascades(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.mustClass(t, 2)
	mustQuestions(t, f, c, "q")

	if _, err := f.svc.DeleteClassroom(ctx, c.students[0], c.cid); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("student delete: err = %v", err)
	}
	if _, err := f.svc.DeleteClassroom(ctx, c.owner, c.cid); err != nil {
		t.Fatal(err)
	}
	for _, coll := range []string{membersPath(c.cid), sessionsPath(c.cid), recordsPath(c.cid, c.sid), questionsPath(c.cid, c.sid)} {
		docs, err := f.store.Scan(ctx, coll, "")
		if err != nil {
			t.Fatal(err)
		}
		if len(docs) != 0 {
			t.Fatalf("%s still has %d docs", coll, len(docs))
		}
	}
	p, err := f.svc.Profile(ctx, c.owner)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Classrooms) != 0 {
		t.Fatalf("owner cache = %+v", p.Classrooms)
	}
}
