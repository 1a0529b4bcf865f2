package attendance

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"classattend/internal/model"
)

// EnrolledClassroom is one entry of a user's classroom list.
type EnrolledClassroom struct {
	Classroom model.Classroom `json:"classroom"`
	ID        string          `json:"id"`
	Role      model.Role      `json:"role"`
}

// ReconcileEnrollment checks every classroom cached on the user's profile
// against the membership documents and drops entries that no longer hold.
// Entries are only ever removed here. The returned list holds the
// classrooms that survived, ordered by code.
func (s *Service) ReconcileEnrollment(ctx context.Context, uid string) ([]EnrolledClassroom, error) {
	if err := checkIDs(uid); err != nil {
		return nil, err
	}
	p, err := s.repo.Profile(ctx, uid)
	if err != nil {
		return nil, err
	}

	var (
		list  []EnrolledClassroom
		stale []string
	)
	for cid, e := range p.Classrooms {
		if checkIDs(cid) != nil {
			stale = append(stale, cid)
			continue
		}
		c, ok, err := s.stillEnrolled(ctx, uid, cid, e.Role)
		if err != nil {
			return nil, err
		}
		if !ok {
			stale = append(stale, cid)
			continue
		}
		list = append(list, EnrolledClassroom{Classroom: c, ID: cid, Role: e.Role})
	}

	if len(stale) > 0 {
		if err := s.repo.RemoveEnrollments(ctx, uid, stale...); err != nil {
			return nil, err
		}
		s.log.Info("stale enrollments removed", zap.String("uid", uid), zap.Strings("cids", stale))
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].Classroom.Code != list[j].Classroom.Code {
			return list[i].Classroom.Code < list[j].Classroom.Code
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

// stillEnrolled verifies one cached entry. Owners are checked against the
// classroom document, students against their membership document.
func (s *Service) stillEnrolled(ctx context.Context, uid, cid string, role model.Role) (model.Classroom, bool, error) {
	c, err := s.repo.Classroom(ctx, cid)
	if errors.Is(err, ErrNotFound) {
		return model.Classroom{}, false, nil
	}
	if err != nil {
		return model.Classroom{}, false, err
	}
	if role == model.RoleOwner {
		return c, c.OwnerID == uid, nil
	}
	ok, err := s.repo.exists(ctx, "get member", memberPath(cid, uid))
	if err != nil || !ok {
		return model.Classroom{}, false, err
	}
	return c, true, nil
}
