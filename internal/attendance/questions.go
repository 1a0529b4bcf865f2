package attendance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"classattend/internal/metrics"
	"classattend/internal/model"
)

// AddQuestion appends a hidden question numbered after the current last one.
func (s *Service) AddQuestion(ctx context.Context, actor, cid, sid, text string) (model.Question, error) {
	if _, err := s.requireOwner(ctx, actor, cid); err != nil {
		return model.Question{}, err
	}
	if err := checkIDs(sid); err != nil {
		return model.Question{}, err
	}
	if _, err := s.repo.Session(ctx, cid, sid); err != nil {
		return model.Question{}, err
	}
	existing, err := s.repo.Questions(ctx, cid, sid)
	if err != nil {
		return model.Question{}, err
	}
	next := 1
	for _, q := range existing {
		if q.SequenceNo >= next {
			next = q.SequenceNo + 1
		}
	}
	q := model.Question{ID: s.newID(), SequenceNo: next, Text: strings.TrimSpace(text)}
	if err := model.Validate(q); err != nil {
		return model.Question{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.repo.put(ctx, "add question", questionPath(cid, sid, q.ID), q); err != nil {
		return model.Question{}, err
	}
	return q, nil
}

// Questions lists a session's questions to a classroom participant.
func (s *Service) Questions(ctx context.Context, uid, cid, sid string) ([]model.Question, error) {
	if _, _, err := s.requireParticipant(ctx, uid, cid); err != nil {
		return nil, err
	}
	if err := checkIDs(sid); err != nil {
		return nil, err
	}
	if _, err := s.repo.Session(ctx, cid, sid); err != nil {
		return nil, err
	}
	return s.repo.Questions(ctx, cid, sid)
}

// SetQuestionVisible shows or hides a question. Showing one hides every
// other question of the session; the writes are independent and issued
// concurrently, so readers may briefly see two visible questions. Every
// write is attempted and the first failure is returned.
func (s *Service) SetQuestionVisible(ctx context.Context, actor, cid, sid, qid string, visible bool) error {
	if _, err := s.requireOwner(ctx, actor, cid); err != nil {
		return err
	}
	if err := checkIDs(sid, qid); err != nil {
		return err
	}
	if _, err := s.repo.Session(ctx, cid, sid); err != nil {
		return err
	}
	ok, err := s.repo.exists(ctx, "get question", questionPath(cid, sid, qid))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("question %s: %w", qid, ErrNotFound)
	}

	if !visible {
		if err := s.repo.patch(ctx, "hide question", questionPath(cid, sid, qid), map[string]any{"visible": false}); err != nil {
			return err
		}
		metrics.QuestionToggles.Inc()
		return nil
	}

	questions, err := s.repo.Questions(ctx, cid, sid)
	if err != nil {
		return err
	}
	shown := map[string]any{"visible": true, "shownAt": s.now().Format(time.RFC3339Nano)}
	var g errgroup.Group
	for _, q := range questions {
		if q.ID == qid {
			continue
		}
		g.Go(func() error {
			return s.repo.patch(ctx, "hide question", questionPath(cid, sid, q.ID), map[string]any{"visible": false})
		})
	}
	g.Go(func() error {
		return s.repo.patch(ctx, "show question", questionPath(cid, sid, qid), shown)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	metrics.QuestionToggles.Inc()
	s.log.Info("question shown", zap.String("cid", cid), zap.String("sid", sid), zap.String("qid", qid))
	return nil
}

// DeleteQuestion removes a question and its answers, then renumbers the
// remaining questions 1..N keeping their order.
func (s *Service) DeleteQuestion(ctx context.Context, actor, cid, sid, qid string) error {
	if _, err := s.requireOwner(ctx, actor, cid); err != nil {
		return err
	}
	if err := checkIDs(sid, qid); err != nil {
		return err
	}
	ok, err := s.repo.exists(ctx, "get question", questionPath(cid, sid, qid))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("question %s: %w", qid, ErrNotFound)
	}
	if err := s.deleteQuestionTree(ctx, cid, sid, qid); err != nil {
		return err
	}

	remaining, err := s.repo.Questions(ctx, cid, sid)
	if err != nil {
		return err
	}
	var g errgroup.Group
	for i, q := range remaining {
		want := i + 1
		if q.SequenceNo == want {
			continue
		}
		g.Go(func() error {
			return s.repo.patch(ctx, "renumber question", questionPath(cid, sid, q.ID), map[string]any{"sequenceNo": want})
		})
	}
	return g.Wait()
}

func (s *Service) deleteQuestionTree(ctx context.Context, cid, sid, qid string) error {
	answers, err := s.repo.scan(ctx, "scan answers", answersPath(cid, sid, qid), "")
	if err != nil {
		return err
	}
	var g errgroup.Group
	for _, a := range answers {
		g.Go(func() error { return s.repo.delete(ctx, "delete answer", a.Path) })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return s.repo.delete(ctx, "delete question", questionPath(cid, sid, qid))
}
