package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"classattend/internal/model"
)

// RegisterUser creates a profile and returns it with its new id.
func (s *Service) RegisterUser(ctx context.Context, name, studentID string) (model.UserProfile, error) {
	p := model.UserProfile{
		ID:        s.newID(),
		Name:      strings.TrimSpace(name),
		StudentID: strings.TrimSpace(studentID),
	}
	if err := model.Validate(p); err != nil {
		return model.UserProfile{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.repo.put(ctx, "register user", userPath(p.ID), p); err != nil {
		return model.UserProfile{}, err
	}
	s.log.Info("user registered", zap.String("uid", p.ID))
	return p, nil
}

// Profile returns the stored profile of uid.
func (s *Service) Profile(ctx context.Context, uid string) (model.UserProfile, error) {
	if err := checkIDs(uid); err != nil {
		return model.UserProfile{}, err
	}
	return s.repo.Profile(ctx, uid)
}

// ClassroomInput is what a teacher supplies for a new classroom.
type ClassroomInput struct {
	Code        string  `json:"code"`
	Name        string  `json:"name"`
	Room        string  `json:"room"`
	AttendScore float64 `json:"attendScore"`
	LateScore   float64 `json:"lateScore"`
}

// CreateClassroom stores a classroom owned by uid and caches the ownership
// on the owner's profile.
func (s *Service) CreateClassroom(ctx context.Context, uid string, in ClassroomInput) (model.Classroom, error) {
	if err := checkIDs(uid); err != nil {
		return model.Classroom{}, err
	}
	c := model.Classroom{
		ID:          s.newID(),
		OwnerID:     uid,
		Code:        strings.TrimSpace(in.Code),
		Name:        strings.TrimSpace(in.Name),
		Room:        strings.TrimSpace(in.Room),
		AttendScore: in.AttendScore,
		LateScore:   in.LateScore,
	}
	if err := model.Validate(c); err != nil {
		return model.Classroom{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if _, err := s.repo.Profile(ctx, uid); err != nil {
		return model.Classroom{}, err
	}
	if err := s.repo.put(ctx, "create classroom", classroomPath(c.ID), c); err != nil {
		return model.Classroom{}, err
	}
	if err := s.cacheEnrollment(ctx, uid, c.ID, &model.Enrollment{Role: model.RoleOwner}); err != nil {
		return model.Classroom{}, err
	}
	s.log.Info("classroom created", zap.String("cid", c.ID), zap.String("uid", uid))
	return c, nil
}

// ClassroomPatch lists the classroom fields to change. Nil fields are kept.
type ClassroomPatch struct {
	Code        *string  `json:"code"`
	Name        *string  `json:"name"`
	Room        *string  `json:"room"`
	AttendScore *float64 `json:"attendScore"`
	LateScore   *float64 `json:"lateScore"`
}

// UpdateClassroom edits a classroom's descriptive fields and scores. The
// result must still satisfy lateScore <= attendScore. Records already
// written keep their score.
func (s *Service) UpdateClassroom(ctx context.Context, uid, cid string, in ClassroomPatch) (model.Classroom, error) {
	c, err := s.requireOwner(ctx, uid, cid)
	if err != nil {
		return model.Classroom{}, err
	}
	fields := map[string]any{}
	setString := func(key string, dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
			fields[key] = *dst
		}
	}
	setString("code", &c.Code, in.Code)
	setString("name", &c.Name, in.Name)
	setString("room", &c.Room, in.Room)
	if in.AttendScore != nil {
		c.AttendScore = *in.AttendScore
		fields["attendScore"] = c.AttendScore
	}
	if in.LateScore != nil {
		c.LateScore = *in.LateScore
		fields["lateScore"] = c.LateScore
	}
	if len(fields) == 0 {
		return c, nil
	}
	if err := model.Validate(c); err != nil {
		return model.Classroom{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.repo.patch(ctx, "update classroom", classroomPath(cid), fields); err != nil {
		return model.Classroom{}, err
	}
	return c, nil
}

// DeleteClassroom removes a classroom together with its sessions and
// membership documents, children first. It returns the ids of the students
// whose cached enrollment now points at nothing; their caches heal on the
// next reconciliation.
func (s *Service) DeleteClassroom(ctx context.Context, uid, cid string) ([]string, error) {
	if _, err := s.requireOwner(ctx, uid, cid); err != nil {
		return nil, err
	}
	sessions, err := s.repo.Sessions(ctx, cid)
	if err != nil {
		return nil, err
	}
	members, err := s.repo.Members(ctx, cid)
	if err != nil {
		return nil, err
	}

	var g errgroup.Group
	for _, sess := range sessions {
		g.Go(func() error { return s.deleteSessionTree(ctx, cid, sess.ID) })
	}
	removed := make([]string, 0, len(members))
	for _, m := range members {
		removed = append(removed, m.ID)
		g.Go(func() error { return s.repo.delete(ctx, "delete member", memberPath(cid, m.ID)) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := s.repo.delete(ctx, "delete classroom", classroomPath(cid)); err != nil {
		return nil, err
	}
	if err := s.cacheEnrollment(ctx, uid, cid, nil); err != nil {
		return nil, err
	}
	s.log.Info("classroom deleted", zap.String("cid", cid), zap.Int("sessions", len(sessions)), zap.Int("members", len(members)))
	return removed, nil
}

// JoinClassroom enrolls uid as a student. The membership document is the
// source of truth and is written before the profile cache. Joining a
// classroom whose membership exists but whose cache entry is missing only
// rewrites the cache entry.
func (s *Service) JoinClassroom(ctx context.Context, uid, cid string) (model.Classroom, error) {
	if err := checkIDs(uid, cid); err != nil {
		return model.Classroom{}, err
	}
	p, err := s.repo.Profile(ctx, uid)
	if err != nil {
		return model.Classroom{}, err
	}
	if p.StudentID == "" {
		return model.Classroom{}, invalid("profile has no student id")
	}
	c, err := s.repo.Classroom(ctx, cid)
	if err != nil {
		return model.Classroom{}, err
	}
	if c.OwnerID == uid {
		return model.Classroom{}, ErrAlreadyEnrolled
	}
	enrolled, err := s.repo.exists(ctx, "get member", memberPath(cid, uid))
	if err != nil {
		return model.Classroom{}, err
	}
	if enrolled {
		if _, cached := p.Classrooms[cid]; cached {
			return model.Classroom{}, ErrAlreadyEnrolled
		}
		// Membership without a cache entry; restore the entry.
		if err := s.cacheEnrollment(ctx, uid, cid, &model.Enrollment{Role: model.RoleStudent}); err != nil {
			return model.Classroom{}, err
		}
		s.log.Info("enrollment cache restored", zap.String("cid", cid), zap.String("uid", uid))
		return c, nil
	}
	m := model.Member{StudentID: p.StudentID, Name: p.Name}
	if err := s.repo.put(ctx, "add member", memberPath(cid, uid), m); err != nil {
		return model.Classroom{}, err
	}
	if err := s.cacheEnrollment(ctx, uid, cid, &model.Enrollment{Role: model.RoleStudent}); err != nil {
		return model.Classroom{}, err
	}
	s.log.Info("student joined", zap.String("cid", cid), zap.String("uid", uid))
	return c, nil
}

// RemoveStudent deletes a membership document. The student's profile cache
// is left for the reconciler.
func (s *Service) RemoveStudent(ctx context.Context, actor, cid, uid string) error {
	if _, err := s.requireOwner(ctx, actor, cid); err != nil {
		return err
	}
	if err := checkIDs(uid); err != nil {
		return err
	}
	enrolled, err := s.repo.exists(ctx, "get member", memberPath(cid, uid))
	if err != nil {
		return err
	}
	if !enrolled {
		return fmt.Errorf("member %s: %w", uid, ErrNotFound)
	}
	if err := s.repo.delete(ctx, "remove member", memberPath(cid, uid)); err != nil {
		return err
	}
	s.log.Info("student removed", zap.String("cid", cid), zap.String("uid", uid))
	return nil
}

// Members lists the enrolled students of a classroom for its owner.
func (s *Service) Members(ctx context.Context, actor, cid string) ([]model.Member, error) {
	if _, err := s.requireOwner(ctx, actor, cid); err != nil {
		return nil, err
	}
	return s.repo.Members(ctx, cid)
}

// cacheEnrollment sets (or, for a nil e, removes) one entry of the profile's
// cached classroom map.
func (s *Service) cacheEnrollment(ctx context.Context, uid, cid string, e *model.Enrollment) error {
	if e != nil {
		return s.repo.SetEnrollment(ctx, uid, cid, *e)
	}
	err := s.repo.RemoveEnrollments(ctx, uid, cid)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
