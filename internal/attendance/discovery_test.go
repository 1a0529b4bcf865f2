package attendance

import (
	"context"
	"testing"
	"time"

	"classattend/internal/model"
)

func waitWatchers(t *testing.T, f *fixture, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for f.store.Watchers() != want {
		if time.Now().After(deadline) {
			t.Fatalf("watchers = %d, want %d", f.store.Watchers(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitOpen(t *testing.T, ch <-chan []OpenQuestion, what string, ok func([]OpenQuestion) bool) []OpenQuestion {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case got, open := <-ch:
			if !open {
				t.Fatalf("%s: stream closed", what)
			}
			if ok(got) {
				return got
			}
		case <-timeout:
			t.Fatalf("%s: timed out", what)
		}
	}
}

func only(qid string) func([]OpenQuestion) bool {
	return func(got []OpenQuestion) bool { return len(got) == 1 && got[0].QuestionID == qid }
}

func none(got []OpenQuestion) bool { return len(got) == 0 }

func TestObserveOpenQuestionsAcrossClassrooms(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t)

	a := f.mustClass(t, 1)
	student := a.students[0]
	b := class{owner: f.mustUser(t, "Teacher B", "")}
	c, err := f.svc.CreateClassroom(ctx, b.owner, ClassroomInput{Code: "MA201", Name: "Algebra", AttendScore: 2, LateScore: 1})
	if err != nil {
		t.Fatal(err)
	}
	b.cid = c.ID
	f.mustJoin(t, student, b.cid)
	b.sid = f.mustSession(t, b.owner, b.cid, "Q")
	qa := mustQuestions(t, f, a, "in A")
	qb := mustQuestions(t, f, b, "in B", "second in B")

	ch, err := f.svc.ObserveOpenQuestions(ctx, student)
	if err != nil {
		t.Fatal(err)
	}
	waitOpen(t, ch, "initial", none)

	if err := f.svc.SetQuestionVisible(ctx, b.owner, b.cid, b.sid, qb[0], true); err != nil {
		t.Fatal(err)
	}
	want := OpenQuestion{ClassroomID: b.cid, SessionID: b.sid, QuestionID: qb[0], CourseLabel: "MA201 Algebra", QuestionText: "in B"}
	waitOpen(t, ch, "shown in B", func(got []OpenQuestion) bool { return len(got) == 1 && got[0] == want })

	if err := f.svc.SetQuestionVisible(ctx, a.owner, a.cid, a.sid, qa[0], true); err != nil {
		t.Fatal(err)
	}
	waitOpen(t, ch, "shown in A and B", func(got []OpenQuestion) bool { return len(got) == 2 })

	if err := f.svc.SetQuestionVisible(ctx, a.owner, a.cid, a.sid, qa[0], false); err != nil {
		t.Fatal(err)
	}
	waitOpen(t, ch, "hidden in A", only(qb[0]))

	// Removing the membership alone drops B's question and its content
	// subscriptions, while the profile cache still lists B.
	before := f.store.Watchers()
	if err := f.svc.RemoveStudent(ctx, b.owner, b.cid, student); err != nil {
		t.Fatal(err)
	}
	waitOpen(t, ch, "membership removed", none)
	// classroom doc, session collection and one question collection.
	waitWatchers(t, f, before-3)
	p, err := f.svc.Profile(ctx, student)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.Classrooms[b.cid]; !ok {
		t.Fatal("cache entry already gone; membership removal not exercised")
	}

	if err := f.svc.SetQuestionVisible(ctx, b.owner, b.cid, b.sid, qb[1], true); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.SetQuestionVisible(ctx, a.owner, a.cid, a.sid, qa[0], true); err != nil {
		t.Fatal(err)
	}
	waitOpen(t, ch, "only A after removal", only(qa[0]))

	// Rejoining with the stale cache entry still present brings B back.
	f.mustJoin(t, student, b.cid)
	waitOpen(t, ch, "rejoined B", func(got []OpenQuestion) bool {
		return len(got) == 2 && got[0].QuestionID != got[1].QuestionID &&
			(got[0].QuestionID == qb[1] || got[1].QuestionID == qb[1])
	})
	waitWatchers(t, f, before)

	if err := f.svc.RemoveStudent(ctx, b.owner, b.cid, student); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.ReconcileEnrollment(ctx, student); err != nil {
		t.Fatal(err)
	}
	waitOpen(t, ch, "enrollment reconciled", only(qa[0]))
	// The membership watch goes with the cache entry.
	waitWatchers(t, f, before-4)

	cancel()
	for range ch {
	}
	waitWatchers(t, f, 0)
}

func TestObserveOpenQuestionsDropsDeletedSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t)
	c := f.mustClass(t, 1)
	q := mustQuestions(t, f, c, "q")

	ch, err := f.svc.ObserveOpenQuestions(ctx, c.students[0])
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.SetQuestionVisible(ctx, c.owner, c.cid, c.sid, q[0], true); err != nil {
		t.Fatal(err)
	}
	waitOpen(t, ch, "shown", only(q[0]))

	if err := f.svc.DeleteSession(ctx, c.owner, c.cid, c.sid); err != nil {
		t.Fatal(err)
	}
	waitOpen(t, ch, "session deleted", none)
}

func TestObserveOpenQuestionsTieBreak(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t)
	c := f.mustClass(t, 1)
	q := mustQuestions(t, f, c, "first", "second", "third")

	ch, err := f.svc.ObserveOpenQuestions(ctx, c.students[0])
	if err != nil {
		t.Fatal(err)
	}
	waitOpen(t, ch, "initial", none)

	// Simulate the window where two toggles have both landed.
	early := time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)
	late := early.Add(time.Minute)
	set := func(qid string, at *time.Time) {
		t.Helper()
		fields := map[string]any{"visible": true}
		if at != nil {
			fields["shownAt"] = at.Format(time.RFC3339Nano)
		}
		if err := f.store.Set(ctx, questionPath(c.cid, c.sid, qid), fields, true); err != nil {
			t.Fatal(err)
		}
	}
	set(q[2], &early)
	set(q[0], &late)
	waitOpen(t, ch, "latest shownAt wins", only(q[0]))

	if err := f.store.Set(ctx, questionPath(c.cid, c.sid, q[0]), map[string]any{"shownAt": early.Format(time.RFC3339Nano)}, true); err != nil {
		t.Fatal(err)
	}
	waitOpen(t, ch, "equal shownAt falls back to sequence", only(q[2]))
}

func TestObserveOpenQuestionsIgnoresOwnedClassrooms(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t)
	c := f.mustClass(t, 0)
	q := mustQuestions(t, f, c, "q")
	if err := f.svc.SetQuestionVisible(ctx, c.owner, c.cid, c.sid, q[0], true); err != nil {
		t.Fatal(err)
	}

	ch, err := f.svc.ObserveOpenQuestions(ctx, c.owner)
	if err != nil {
		t.Fatal(err)
	}
	got := waitOpen(t, ch, "initial", func([]OpenQuestion) bool { return true })
	if len(got) != 0 {
		t.Fatalf("owner sees own questions: %+v", got)
	}
	p, err := f.svc.Profile(ctx, c.owner)
	if err != nil {
		t.Fatal(err)
	}
	if p.Classrooms[c.cid].Role != model.RoleOwner {
		t.Fatalf("owner cache = %+v", p.Classrooms)
	}
}
