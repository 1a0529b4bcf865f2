package attendance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"classattend/internal/docstore"
	"classattend/internal/metrics"
	"classattend/internal/model"
)

// DefaultRemark is stored when a student submits without a remark.
const DefaultRemark = "-"

// SubmitRequest is one student's attempt to check in.
type SubmitRequest struct {
	ClassroomID string
	SessionID   string
	StudentID   string
	Code        string
	Remark      string
}

// Submit verifies the entered code against the session and writes the
// student's record. Re-submitting overwrites the previous record.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (model.AttendanceRecord, error) {
	rec, err := s.submit(ctx, req)
	metrics.Submissions.WithLabelValues(submitResult(err)).Inc()
	return rec, err
}

func (s *Service) submit(ctx context.Context, req SubmitRequest) (model.AttendanceRecord, error) {
	if err := checkIDs(req.ClassroomID, req.SessionID, req.StudentID); err != nil {
		return model.AttendanceRecord{}, err
	}
	sess, err := s.repo.Session(ctx, req.ClassroomID, req.SessionID)
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	if sess.State == model.SessionClosed {
		return model.AttendanceRecord{}, ErrSessionClosed
	}
	if req.Code != sess.Code {
		return model.AttendanceRecord{}, ErrCodeMismatch
	}
	c, err := s.repo.Classroom(ctx, req.ClassroomID)
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	m, err := s.repo.Member(ctx, req.ClassroomID, req.StudentID)
	if errors.Is(err, ErrNotFound) {
		return model.AttendanceRecord{}, ErrUnauthorized
	}
	if err != nil {
		return model.AttendanceRecord{}, err
	}

	score := c.LateScore
	if sess.State == model.SessionOpen {
		score = c.AttendScore
	}
	remark := strings.TrimSpace(req.Remark)
	if remark == "" {
		remark = DefaultRemark
	}
	now := s.now()
	rec := model.AttendanceRecord{
		StudentID:        req.StudentID,
		StudentDisplayID: m.StudentID,
		Name:             m.Name,
		SubmittedAt:      &now,
		AwardedScore:     score,
		Remark:           remark,
		State:            model.AttendanceFor(sess.State),
	}
	if err := s.repo.put(ctx, "submit attendance", recordPath(req.ClassroomID, req.SessionID, req.StudentID), rec); err != nil {
		return model.AttendanceRecord{}, err
	}
	s.log.Debug("attendance recorded",
		zap.String("cid", req.ClassroomID),
		zap.String("sid", req.SessionID),
		zap.String("uid", req.StudentID),
		zap.Stringer("state", rec.State))
	return rec, nil
}

func submitResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSessionClosed):
		return "closed"
	case errors.Is(err, ErrCodeMismatch):
		return "mismatch"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	}
	return "error"
}

// Editable attendance fields.
const (
	FieldScore  = "score"
	FieldRemark = "remark"
)

// UpdateAttendanceField lets the owner change one field of an existing
// record regardless of the session's state. value is a number (or numeric
// string) for FieldScore and a string for FieldRemark.
func (s *Service) UpdateAttendanceField(ctx context.Context, actor, cid, sid, studentID, field string, value any) error {
	if _, err := s.requireOwner(ctx, actor, cid); err != nil {
		return err
	}
	if err := checkIDs(sid, studentID); err != nil {
		return err
	}
	var patch map[string]any
	switch field {
	case FieldScore:
		score, err := toScore(value)
		if err != nil {
			return err
		}
		patch = map[string]any{"awardedScore": score}
	case FieldRemark:
		remark, ok := value.(string)
		if !ok {
			return invalid("remark must be a string")
		}
		patch = map[string]any{"remark": remark}
	default:
		return invalid("field %q is not editable", field)
	}
	ok, err := s.repo.exists(ctx, "get record", recordPath(cid, sid, studentID))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("record %s: %w", studentID, ErrNotFound)
	}
	return s.repo.patch(ctx, "update record", recordPath(cid, sid, studentID), patch)
}

func toScore(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, invalid("score %q is not a number", n)
		}
		f = parsed
	default:
		return 0, invalid("score must be a number")
	}
	if f < 0 {
		return 0, invalid("score must not be negative")
	}
	return f, nil
}

// Roster returns a session's records for the classroom owner.
func (s *Service) Roster(ctx context.Context, actor, cid, sid string) (model.Classroom, model.CheckinSession, []model.AttendanceRecord, error) {
	c, err := s.requireOwner(ctx, actor, cid)
	if err != nil {
		return model.Classroom{}, model.CheckinSession{}, nil, err
	}
	if err := checkIDs(sid); err != nil {
		return model.Classroom{}, model.CheckinSession{}, nil, err
	}
	sess, err := s.repo.Session(ctx, cid, sid)
	if err != nil {
		return model.Classroom{}, model.CheckinSession{}, nil, err
	}
	records, err := s.repo.Records(ctx, cid, sid)
	if err != nil {
		return model.Classroom{}, model.CheckinSession{}, nil, err
	}
	return c, sess, records, nil
}

// ObserveRoster streams the session's records to the owner on every change.
// The channel closes when ctx ends.
func (s *Service) ObserveRoster(ctx context.Context, actor, cid, sid string) (<-chan []model.AttendanceRecord, error) {
	if _, err := s.requireOwner(ctx, actor, cid); err != nil {
		return nil, err
	}
	if err := checkIDs(sid); err != nil {
		return nil, err
	}
	if _, err := s.repo.Session(ctx, cid, sid); err != nil {
		return nil, err
	}
	return observe(ctx, s, recordsPath(cid, sid), func(docs []docstore.Doc) ([]model.AttendanceRecord, error) {
		docstore.SortDocs(docs, "studentDisplayId")
		return decodeRecords(docs)
	})
}

// HistoryEntry is one session as seen by a student.
type HistoryEntry struct {
	Session model.CheckinSession   `json:"session"`
	Record  model.AttendanceRecord `json:"record"`
}

// History is a student's attendance in one classroom.
type History struct {
	Entries    []HistoryEntry `json:"entries"`
	TotalScore float64        `json:"totalScore"`
}

// AttendanceHistory lists the student's record in every session of the
// classroom whose roster included them, and the sum of awarded scores.
func (s *Service) AttendanceHistory(ctx context.Context, uid, cid string) (History, error) {
	if _, _, err := s.requireParticipant(ctx, uid, cid); err != nil {
		return History{}, err
	}
	sessions, err := s.repo.Sessions(ctx, cid)
	if err != nil {
		return History{}, err
	}
	h := History{Entries: []HistoryEntry{}}
	for _, sess := range sessions {
		var rec model.AttendanceRecord
		err := s.repo.get(ctx, "get record", recordPath(cid, sess.ID, uid), &rec)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return History{}, err
		}
		h.Entries = append(h.Entries, HistoryEntry{Session: sess, Record: rec})
		h.TotalScore += rec.AwardedScore
	}
	return h, nil
}

// observe subscribes to a collection and decodes each snapshot. Failed
// snapshots are logged and skipped; the stream resumes with the next one.
func observe[T any](ctx context.Context, s *Service, path string, decode func([]docstore.Doc) ([]T, error)) (<-chan []T, error) {
	ch, err := s.store.Subscribe(ctx, path)
	if err != nil {
		return nil, storeErr("subscribe", err)
	}
	s.track(1)
	out := make(chan []T)
	go func() {
		defer close(out)
		defer s.track(-1)
		for snap := range ch {
			if snap.Err != nil {
				s.log.Warn("snapshot failed", zap.String("path", path), zap.Error(snap.Err))
				continue
			}
			items, err := decode(snap.Docs)
			if err != nil {
				s.log.Warn("snapshot decode failed", zap.String("path", path), zap.Error(err))
				continue
			}
			select {
			case out <- items:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
