package attendance

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"classattend/internal/docstore"
	"classattend/internal/metrics"
	"classattend/internal/model"
)

// Service implements check-in sessions, attendance submission, the live
// question channel and enrollment upkeep on top of a document store.
type Service struct {
	repo  *Repository
	store docstore.Store
	log   *zap.Logger
	now   func() time.Time
	newID func() string
	track func(delta int)
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDs replaces the uuid generator used for new documents.
func WithIDs(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// WithSubscriptionTracker is told about every live subscription the service
// opens (+1) or closes (-1). Defaults to the active_subscriptions gauge.
func WithSubscriptionTracker(track func(delta int)) Option {
	return func(s *Service) { s.track = track }
}

// NewService creates a service backed by store.
func NewService(store docstore.Store, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		repo:  NewRepository(store),
		store: store,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
		track: metrics.TrackSubscriptions,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Repository exposes the typed document access used by the service.
func (s *Service) Repository() *Repository { return s.repo }

// requireOwner loads the classroom and checks uid owns it.
func (s *Service) requireOwner(ctx context.Context, uid, cid string) (model.Classroom, error) {
	if err := checkIDs(uid, cid); err != nil {
		return model.Classroom{}, err
	}
	c, err := s.repo.Classroom(ctx, cid)
	if err != nil {
		return model.Classroom{}, err
	}
	if c.OwnerID != uid {
		return model.Classroom{}, ErrUnauthorized
	}
	return c, nil
}

// requireParticipant admits the classroom owner and enrolled students. The
// member document is returned for students; owners get ok with a zero Member.
func (s *Service) requireParticipant(ctx context.Context, uid, cid string) (model.Classroom, model.Member, error) {
	if err := checkIDs(uid, cid); err != nil {
		return model.Classroom{}, model.Member{}, err
	}
	c, err := s.repo.Classroom(ctx, cid)
	if err != nil {
		return model.Classroom{}, model.Member{}, err
	}
	if c.OwnerID == uid {
		return c, model.Member{}, nil
	}
	m, err := s.repo.Member(ctx, cid, uid)
	if errors.Is(err, ErrNotFound) {
		return model.Classroom{}, model.Member{}, ErrUnauthorized
	}
	if err != nil {
		return model.Classroom{}, model.Member{}, err
	}
	return c, m, nil
}
