package attendance

import (
	"context"
	"fmt"
	"strings"

	"classattend/internal/docstore"
	"classattend/internal/model"
)

// SubmitAnswer appends an answer to a question. Students may answer as often
// as they like; the question need not be visible.
func (s *Service) SubmitAnswer(ctx context.Context, uid, cid, sid, qid, text string) (model.Answer, error) {
	_, member, err := s.requireParticipant(ctx, uid, cid)
	if err != nil {
		return model.Answer{}, err
	}
	if err := checkIDs(sid, qid); err != nil {
		return model.Answer{}, err
	}
	ok, err := s.repo.exists(ctx, "get question", questionPath(cid, sid, qid))
	if err != nil {
		return model.Answer{}, err
	}
	if !ok {
		return model.Answer{}, fmt.Errorf("question %s: %w", qid, ErrNotFound)
	}
	displayID := member.StudentID
	if displayID == "" {
		if p, err := s.repo.Profile(ctx, uid); err == nil {
			displayID = p.StudentID
		}
	}
	a := model.Answer{
		ID:               s.newID(),
		StudentID:        uid,
		StudentDisplayID: displayID,
		Text:             strings.TrimSpace(text),
		SubmittedAt:      s.now(),
	}
	if err := model.Validate(a); err != nil {
		return model.Answer{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.repo.put(ctx, "submit answer", docstore.Join(answersPath(cid, sid, qid), a.ID), a); err != nil {
		return model.Answer{}, err
	}
	return a, nil
}

// ObserveAnswers streams a question's answers in submission order.
func (s *Service) ObserveAnswers(ctx context.Context, uid, cid, sid, qid string) (<-chan []model.Answer, error) {
	if _, _, err := s.requireParticipant(ctx, uid, cid); err != nil {
		return nil, err
	}
	if err := checkIDs(sid, qid); err != nil {
		return nil, err
	}
	ok, err := s.repo.exists(ctx, "get question", questionPath(cid, sid, qid))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("question %s: %w", qid, ErrNotFound)
	}
	return observe(ctx, s, answersPath(cid, sid, qid), decodeAnswers)
}
