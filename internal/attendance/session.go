package attendance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"classattend/internal/model"
)

// SessionInput is what a teacher supplies for a new check-in session.
type SessionInput struct {
	Code        string    `json:"code"`
	ScheduledAt time.Time `json:"scheduledAt"`
}

// CreateSession stores a closed session and snapshots the current roster
// into one absent record per enrolled student. Students who enroll later are
// not added.
func (s *Service) CreateSession(ctx context.Context, actor, cid string, in SessionInput) (model.CheckinSession, error) {
	if _, err := s.requireOwner(ctx, actor, cid); err != nil {
		return model.CheckinSession{}, err
	}
	sess := model.CheckinSession{
		ID:          s.newID(),
		Code:        strings.TrimSpace(in.Code),
		ScheduledAt: in.ScheduledAt.UTC(),
		State:       model.SessionClosed,
		CreatedAt:   s.now(),
	}
	if err := model.Validate(sess); err != nil {
		return model.CheckinSession{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	members, err := s.repo.Members(ctx, cid)
	if err != nil {
		return model.CheckinSession{}, err
	}
	if err := s.repo.put(ctx, "create session", sessionPath(cid, sess.ID), sess); err != nil {
		return model.CheckinSession{}, err
	}

	var g errgroup.Group
	for _, m := range members {
		rec := model.AttendanceRecord{
			StudentID:        m.ID,
			StudentDisplayID: m.StudentID,
			Name:             m.Name,
			State:            model.Absent,
		}
		g.Go(func() error { return s.repo.put(ctx, "create record", recordPath(cid, sess.ID, m.ID), rec) })
	}
	if err := g.Wait(); err != nil {
		// A session must never exist with a partial roster.
		if cerr := s.deleteSessionTree(context.WithoutCancel(ctx), cid, sess.ID); cerr != nil {
			s.log.Error("remove partial session", zap.String("cid", cid), zap.String("sid", sess.ID), zap.Error(cerr))
		}
		return model.CheckinSession{}, fmt.Errorf("roster snapshot for session %s: %w", sess.ID, err)
	}
	s.log.Info("session created", zap.String("cid", cid), zap.String("sid", sess.ID), zap.Int("roster", len(members)))
	return sess, nil
}

// SetSessionState switches the check-in mode. Any state may follow any
// other; records already written are not touched.
func (s *Service) SetSessionState(ctx context.Context, actor, cid, sid string, state model.SessionState) error {
	if !state.Valid() {
		return invalid("unknown session state %d", int(state))
	}
	if _, err := s.requireOwner(ctx, actor, cid); err != nil {
		return err
	}
	if err := checkIDs(sid); err != nil {
		return err
	}
	if _, err := s.repo.Session(ctx, cid, sid); err != nil {
		return err
	}
	if err := s.repo.patch(ctx, "set session state", sessionPath(cid, sid), map[string]any{"state": int(state)}); err != nil {
		return err
	}
	s.log.Info("session state changed", zap.String("cid", cid), zap.String("sid", sid), zap.Stringer("state", state))
	return nil
}

// Session returns one session to a classroom participant.
func (s *Service) Session(ctx context.Context, uid, cid, sid string) (model.CheckinSession, error) {
	if _, _, err := s.requireParticipant(ctx, uid, cid); err != nil {
		return model.CheckinSession{}, err
	}
	if err := checkIDs(sid); err != nil {
		return model.CheckinSession{}, err
	}
	return s.repo.Session(ctx, cid, sid)
}

// DeleteSession removes a session after its records, questions and answers.
func (s *Service) DeleteSession(ctx context.Context, actor, cid, sid string) error {
	if _, err := s.requireOwner(ctx, actor, cid); err != nil {
		return err
	}
	if err := checkIDs(sid); err != nil {
		return err
	}
	if _, err := s.repo.Session(ctx, cid, sid); err != nil {
		return err
	}
	if err := s.deleteSessionTree(ctx, cid, sid); err != nil {
		return err
	}
	s.log.Info("session deleted", zap.String("cid", cid), zap.String("sid", sid))
	return nil
}

// deleteSessionTree deletes every child of the session and then the session
// itself. If any child delete fails the session document is kept so a retry
// can finish the job.
func (s *Service) deleteSessionTree(ctx context.Context, cid, sid string) error {
	records, err := s.repo.scan(ctx, "scan records", recordsPath(cid, sid), "")
	if err != nil {
		return err
	}
	questions, err := s.repo.scan(ctx, "scan questions", questionsPath(cid, sid), "")
	if err != nil {
		return err
	}
	var g errgroup.Group
	for _, r := range records {
		g.Go(func() error { return s.repo.delete(ctx, "delete record", r.Path) })
	}
	for _, q := range questions {
		g.Go(func() error { return s.deleteQuestionTree(ctx, cid, sid, q.ID) })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return s.repo.delete(ctx, "delete session", sessionPath(cid, sid))
}

// SessionSummary is one row of a classroom's session list.
type SessionSummary struct {
	model.CheckinSession
	ID        string `json:"id"`
	Roster    int    `json:"roster"`
	Attending int    `json:"attending"`
}

// ListSessions returns the classroom's sessions by schedule with roster and
// attendance counts.
func (s *Service) ListSessions(ctx context.Context, actor, cid string) ([]SessionSummary, error) {
	if _, err := s.requireOwner(ctx, actor, cid); err != nil {
		return nil, err
	}
	sessions, err := s.repo.Sessions(ctx, cid)
	if err != nil {
		return nil, err
	}
	out := make([]SessionSummary, len(sessions))
	g, gctx := errgroup.WithContext(ctx)
	for i, sess := range sessions {
		g.Go(func() error {
			records, err := s.repo.Records(gctx, cid, sess.ID)
			if err != nil {
				return err
			}
			sum := SessionSummary{CheckinSession: sess, ID: sess.ID, Roster: len(records)}
			for _, r := range records {
				if r.State != model.Absent {
					sum.Attending++
				}
			}
			out[i] = sum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// LocateSession finds which of the user's classrooms holds session sid. It
// backs the "cno" scan, which carries only the session id.
func (s *Service) LocateSession(ctx context.Context, uid, sid string) (string, model.CheckinSession, error) {
	if err := checkIDs(uid, sid); err != nil {
		return "", model.CheckinSession{}, err
	}
	p, err := s.repo.Profile(ctx, uid)
	if err != nil {
		return "", model.CheckinSession{}, err
	}
	cids := make([]string, 0, len(p.Classrooms))
	for cid, e := range p.Classrooms {
		if e.Role == model.RoleStudent {
			cids = append(cids, cid)
		}
	}
	sort.Strings(cids)
	for _, cid := range cids {
		sess, err := s.repo.Session(ctx, cid, sid)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return "", model.CheckinSession{}, err
		}
		enrolled, err := s.repo.exists(ctx, "get member", memberPath(cid, uid))
		if err != nil {
			return "", model.CheckinSession{}, err
		}
		if !enrolled {
			return "", model.CheckinSession{}, ErrUnauthorized
		}
		return cid, sess, nil
	}
	return "", model.CheckinSession{}, ErrSessionNotFound
}
