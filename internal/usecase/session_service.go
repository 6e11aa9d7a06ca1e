package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shopassist/internal/domain/entity"
	"shopassist/internal/domain/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type SessionService struct {
	repo   repository.SessionRepository
	mirror repository.RealtimeMirror
	log    *zap.Logger
}

func NewSessionService(repo repository.SessionRepository, mirror repository.RealtimeMirror, log *zap.Logger) *SessionService {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionService{repo: repo, mirror: mirror, log: log}
}

// ResolveSession maps a shop and identity to the durable session a turn belongs to.
//
// Guests are addressed only by the caller's session id. A known customer gets
// their most recent session; failing that, the caller's guest session is
// claimed, and failing that a new session is created.
func (s *SessionService) ResolveSession(ctx context.Context, shop, identity, sessionID string) (*entity.ResolvedSession, error) {
	if identity == "" || identity == entity.GuestIdentity {
		return s.resolveGuest(ctx, shop, sessionID)
	}

	customer, err := s.repo.UpsertCustomer(ctx, shop, identity)
	if err != nil {
		return nil, fmt.Errorf("upsert customer: %w", err)
	}

	latest, err := s.repo.LatestCustomerSession(ctx, shop, customer.ID)
	if err == nil {
		return &entity.ResolvedSession{Session: latest, CustomerID: customer.ID}, nil
	}
	if !errors.Is(err, entity.ErrResourceNotFound) {
		return nil, fmt.Errorf("latest customer session: %w", err)
	}

	existing, err := s.repo.FindSession(ctx, shop, sessionID)
	switch {
	case err == nil && existing.IsGuest:
		if err := s.repo.ClaimGuestSession(ctx, existing.ID, customer.ID); err != nil {
			return nil, fmt.Errorf("claim guest session: %w", err)
		}
		existing.IsGuest = false
		existing.CustomerID = &customer.ID
		return &entity.ResolvedSession{Session: existing, CustomerID: customer.ID}, nil
	case err != nil && !errors.Is(err, entity.ErrResourceNotFound):
		return nil, fmt.Errorf("find session: %w", err)
	}

	// The caller's id is taken by someone else's session or free to use.
	id := sessionID
	if existing != nil {
		id = uuid.NewString()
	}
	session := &entity.ChatSession{ID: id, Shop: shop, CustomerID: &customer.ID}
	if err := s.create(ctx, session); err != nil {
		return nil, err
	}
	return &entity.ResolvedSession{Session: session, CustomerID: customer.ID}, nil
}

func (s *SessionService) resolveGuest(ctx context.Context, shop, sessionID string) (*entity.ResolvedSession, error) {
	existing, err := s.repo.FindSession(ctx, shop, sessionID)
	if err == nil {
		return &entity.ResolvedSession{Session: existing, CustomerID: deref(existing.CustomerID)}, nil
	}
	if !errors.Is(err, entity.ErrResourceNotFound) {
		return nil, fmt.Errorf("find session: %w", err)
	}
	session := &entity.ChatSession{ID: sessionID, Shop: shop, IsGuest: true}
	if err := s.create(ctx, session); err != nil {
		return nil, err
	}
	return &entity.ResolvedSession{Session: session}, nil
}

// create falls back to a generated id when the requested one is taken in another shop.
func (s *SessionService) create(ctx context.Context, session *entity.ChatSession) error {
	err := s.repo.CreateSession(ctx, session)
	if errors.Is(err, entity.ErrConflict) {
		session.ID = uuid.NewString()
		err = s.repo.CreateSession(ctx, session)
	}
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// AppendTurn persists a user message and its reply atomically.
func (s *SessionService) AppendTurn(ctx context.Context, turn entity.TurnRecord) error {
	if err := s.repo.AppendTurn(ctx, turn); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// AppendUserMessage persists a user message that gets no AI reply.
func (s *SessionService) AppendUserMessage(ctx context.Context, sessionID, text string, at time.Time) error {
	msg := &entity.Message{SessionID: sessionID, Role: entity.RoleUser, Content: text, CreatedAt: at}
	if err := s.repo.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("append user message: %w", err)
	}
	return nil
}

func (s *SessionService) History(ctx context.Context, sessionID string, limit int) ([]entity.Message, error) {
	msgs, err := s.repo.History(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return msgs, nil
}

// MigrateGuestSession folds guestSessionID into the session resolved for
// identity and moves the guest's mirror data under the caller's new session id.
// A second call finds nothing left to move.
func (s *SessionService) MigrateGuestSession(ctx context.Context, shop, guestSessionID, identity, sessionID string) (*entity.ResolvedSession, error) {
	target, err := s.ResolveSession(ctx, shop, identity, sessionID)
	if err != nil {
		return nil, err
	}

	moved, err := s.repo.MoveMessages(ctx, shop, guestSessionID, target.Session.ID)
	if err != nil {
		return nil, fmt.Errorf("move guest messages: %w", err)
	}

	if err := s.mirror.Move(ctx, shop, guestSessionID, sessionID); err != nil {
		s.log.Warn("mirror migration failed",
			zap.String("shop", shop),
			zap.String("guest_session_id", guestSessionID),
			zap.Error(err))
	}

	s.log.Info("guest session migrated",
		zap.String("shop", shop),
		zap.String("guest_session_id", guestSessionID),
		zap.String("session_id", target.Session.ID),
		zap.Int64("messages", moved))
	return target, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
