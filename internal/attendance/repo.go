package attendance

import (
	"context"
	"errors"
	"sort"

	"classattend/internal/docstore"
	"classattend/internal/model"
)

// Repository gives typed access to the classroom documents.
type Repository struct {
	store docstore.Store
}

// NewRepository creates a repo.
func NewRepository(store docstore.Store) *Repository {
	return &Repository{store: store}
}

func (r *Repository) get(ctx context.Context, op, path string, v any) error {
	d, err := r.store.Get(ctx, path)
	if err != nil {
		return storeErr(op, err)
	}
	return model.Decode(d.Fields, v)
}

// exists reports whether the document at path is present.
func (r *Repository) exists(ctx context.Context, op, path string) (bool, error) {
	_, err := r.store.Get(ctx, path)
	if errors.Is(err, docstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storeErr(op, err)
	}
	return true, nil
}

func (r *Repository) put(ctx context.Context, op, path string, v any) error {
	fields, err := model.Fields(v)
	if err != nil {
		return err
	}
	return storeErr(op, r.store.Set(ctx, path, fields, false))
}

func (r *Repository) patch(ctx context.Context, op, path string, fields map[string]any) error {
	return storeErr(op, r.store.Set(ctx, path, fields, true))
}

func (r *Repository) delete(ctx context.Context, op, path string) error {
	return storeErr(op, r.store.Delete(ctx, path))
}

func (r *Repository) scan(ctx context.Context, op, collection, orderBy string) ([]docstore.Doc, error) {
	docs, err := r.store.Scan(ctx, collection, orderBy)
	return docs, storeErr(op, err)
}

// Classroom loads classroom/{cid}.
func (r *Repository) Classroom(ctx context.Context, cid string) (model.Classroom, error) {
	var c model.Classroom
	if err := r.get(ctx, "get classroom", classroomPath(cid), &c); err != nil {
		return model.Classroom{}, err
	}
	c.ID = cid
	return c, nil
}

// Session loads one check-in session, failing with ErrSessionNotFound.
func (r *Repository) Session(ctx context.Context, cid, sid string) (model.CheckinSession, error) {
	var s model.CheckinSession
	if err := r.get(ctx, "get session", sessionPath(cid, sid), &s); err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.CheckinSession{}, ErrSessionNotFound
		}
		return model.CheckinSession{}, err
	}
	s.ID = sid
	return s, nil
}

// Sessions lists a classroom's sessions by schedule.
func (r *Repository) Sessions(ctx context.Context, cid string) ([]model.CheckinSession, error) {
	docs, err := r.scan(ctx, "scan sessions", sessionsPath(cid), "")
	if err != nil {
		return nil, err
	}
	out := make([]model.CheckinSession, 0, len(docs))
	for _, d := range docs {
		var s model.CheckinSession
		if err := model.Decode(d.Fields, &s); err != nil {
			return nil, err
		}
		s.ID = d.ID
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

// Profile loads users/{uid}.
func (r *Repository) Profile(ctx context.Context, uid string) (model.UserProfile, error) {
	var p model.UserProfile
	if err := r.get(ctx, "get profile", userPath(uid), &p); err != nil {
		return model.UserProfile{}, err
	}
	p.ID = uid
	return p, nil
}

// SetEnrollment writes one entry of a profile's cached classroom map.
// Other entries are left untouched.
func (r *Repository) SetEnrollment(ctx context.Context, uid, cid string, e model.Enrollment) error {
	v, err := model.Fields(e)
	if err != nil {
		return err
	}
	return storeErr("set enrollment", r.store.Update(ctx, userPath(uid), []docstore.FieldUpdate{
		{Path: []string{"classroom", cid}, Value: v},
	}))
}

// RemoveEnrollments deletes the given keys from a profile's cached
// classroom map in a single write.
func (r *Repository) RemoveEnrollments(ctx context.Context, uid string, cids ...string) error {
	if len(cids) == 0 {
		return nil
	}
	updates := make([]docstore.FieldUpdate, 0, len(cids))
	for _, cid := range cids {
		updates = append(updates, docstore.FieldUpdate{Path: []string{"classroom", cid}, Value: docstore.DeleteField})
	}
	return storeErr("remove enrollments", r.store.Update(ctx, userPath(uid), updates))
}

// Member loads classroom/{cid}/students/{uid}.
func (r *Repository) Member(ctx context.Context, cid, uid string) (model.Member, error) {
	var m model.Member
	if err := r.get(ctx, "get member", memberPath(cid, uid), &m); err != nil {
		return model.Member{}, err
	}
	m.ID = uid
	return m, nil
}

// Members lists a classroom's authoritative membership documents.
func (r *Repository) Members(ctx context.Context, cid string) ([]model.Member, error) {
	docs, err := r.scan(ctx, "scan members", membersPath(cid), "studentId")
	if err != nil {
		return nil, err
	}
	out := make([]model.Member, 0, len(docs))
	for _, d := range docs {
		var m model.Member
		if err := model.Decode(d.Fields, &m); err != nil {
			return nil, err
		}
		m.ID = d.ID
		out = append(out, m)
	}
	return out, nil
}

// Records lists the attendance records of a session by display id.
func (r *Repository) Records(ctx context.Context, cid, sid string) ([]model.AttendanceRecord, error) {
	docs, err := r.scan(ctx, "scan records", recordsPath(cid, sid), "studentDisplayId")
	if err != nil {
		return nil, err
	}
	return decodeRecords(docs)
}

func decodeRecords(docs []docstore.Doc) ([]model.AttendanceRecord, error) {
	out := make([]model.AttendanceRecord, 0, len(docs))
	for _, d := range docs {
		var rec model.AttendanceRecord
		if err := model.Decode(d.Fields, &rec); err != nil {
			return nil, err
		}
		if rec.StudentID == "" {
			rec.StudentID = d.ID
		}
		out = append(out, rec)
	}
	return out, nil
}

// Questions lists a session's questions by sequence number.
func (r *Repository) Questions(ctx context.Context, cid, sid string) ([]model.Question, error) {
	docs, err := r.scan(ctx, "scan questions", questionsPath(cid, sid), "sequenceNo")
	if err != nil {
		return nil, err
	}
	return decodeQuestions(docs)
}

func decodeQuestions(docs []docstore.Doc) ([]model.Question, error) {
	out := make([]model.Question, 0, len(docs))
	for _, d := range docs {
		var q model.Question
		if err := model.Decode(d.Fields, &q); err != nil {
			return nil, err
		}
		q.ID = d.ID
		out = append(out, q)
	}
	return out, nil
}

func decodeAnswers(docs []docstore.Doc) ([]model.Answer, error) {
	out := make([]model.Answer, 0, len(docs))
	for _, d := range docs {
		var a model.Answer
		if err := model.Decode(d.Fields, &a); err != nil {
			return nil, err
		}
		a.ID = d.ID
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}
