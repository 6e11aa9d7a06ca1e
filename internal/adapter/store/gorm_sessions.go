package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"shopassist/internal/domain/entity"

	"gorm.io/gorm"
)

type SessionStore struct {
	db *gorm.DB
}

func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

// UpsertCustomer returns the customer keyed by (shop, email), creating it when
// missing. A concurrent insert of the same key is resolved by re-reading.
func (s *SessionStore) UpsertCustomer(ctx context.Context, shop, email string) (*entity.Customer, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	find := func() (*entity.Customer, error) {
		var c entity.Customer
		err := s.db.WithContext(ctx).Where("shop = ? AND email = ?", shop, email).First(&c).Error
		if err != nil {
			return nil, mapErr(err)
		}
		return &c, nil
	}

	c, err := find()
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, entity.ErrResourceNotFound) {
		return nil, err
	}

	created := &entity.Customer{Shop: shop, Email: email}
	err = mapErr(s.db.WithContext(ctx).Create(created).Error)
	if errors.Is(err, entity.ErrConflict) {
		return find()
	}
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *SessionStore) FindSession(ctx context.Context, shop, sessionID string) (*entity.ChatSession, error) {
	var session entity.ChatSession
	err := s.db.WithContext(ctx).Where("id = ? AND shop = ?", sessionID, shop).First(&session).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return &session, nil
}

func (s *SessionStore) LatestCustomerSession(ctx context.Context, shop, customerID string) (*entity.ChatSession, error) {
	var session entity.ChatSession
	err := s.db.WithContext(ctx).
		Where("shop = ? AND customer_id = ?", shop, customerID).
		Order("created_at DESC").
		First(&session).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return &session, nil
}

func (s *SessionStore) CreateSession(ctx context.Context, session *entity.ChatSession) error {
	return mapErr(s.db.WithContext(ctx).Create(session).Error)
}

func (s *SessionStore) ClaimGuestSession(ctx context.Context, sessionID, customerID string) error {
	res := s.db.WithContext(ctx).
		Model(&entity.ChatSession{}).
		Where("id = ? AND is_guest = ?", sessionID, true).
		Updates(map[string]any{"customer_id": customerID, "is_guest": false})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return entity.ErrResourceNotFound
	}
	return nil
}

// AppendTurn writes the user message and the assistant reply, with its product
// snapshots, in one transaction.
func (s *SessionStore) AppendTurn(ctx context.Context, turn entity.TurnRecord) error {
	userAt := turn.UserAt
	if userAt.IsZero() {
		userAt = time.Now().UTC()
	}
	assistantAt := turn.AssistantAt
	if !assistantAt.After(userAt) {
		assistantAt = userAt.Add(time.Microsecond)
	}

	products := make([]entity.RecommendedProduct, len(turn.Products))
	for i, p := range turn.Products {
		p.ID, p.MessageID = "", ""
		products[i] = p
	}

	return mapErr(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Select("id").Where("id = ?", turn.SessionID).First(&entity.ChatSession{}).Error; err != nil {
			return err
		}
		user := &entity.Message{
			SessionID: turn.SessionID,
			Role:      entity.RoleUser,
			Content:   turn.UserText,
			CreatedAt: userAt,
		}
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		assistant := &entity.Message{
			SessionID: turn.SessionID,
			Role:      entity.RoleAssistant,
			Content:   turn.AssistantText,
			CreatedAt: assistantAt,
			Products:  products,
		}
		if err := tx.Create(assistant).Error; err != nil {
			return err
		}
		return tx.Model(&entity.ChatSession{}).
			Where("id = ?", turn.SessionID).
			Update("updated_at", assistantAt).Error
	}))
}

func (s *SessionStore) AppendMessage(ctx context.Context, msg *entity.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	return mapErr(s.db.WithContext(ctx).Create(msg).Error)
}

// MoveMessages reassigns every message of fromSessionID to toSessionID and
// marks the source as merged. Messages keep their timestamps, so history reads
// interleave them by time.
func (s *SessionStore) MoveMessages(ctx context.Context, shop, fromSessionID, toSessionID string) (int64, error) {
	if fromSessionID == toSessionID {
		return 0, nil
	}
	var moved int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var source entity.ChatSession
		err := tx.Where("id = ? AND shop = ?", fromSessionID, shop).First(&source).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		res := tx.Model(&entity.Message{}).
			Where("session_id = ?", fromSessionID).
			Update("session_id", toSessionID)
		if res.Error != nil {
			return res.Error
		}
		moved = res.RowsAffected

		if source.MergedInto == nil {
			return tx.Model(&entity.ChatSession{}).
				Where("id = ?", fromSessionID).
				Update("merged_into", toSessionID).Error
		}
		return nil
	})
	return moved, err
}

// History returns up to limit most recent messages, oldest first.
func (s *SessionStore) History(ctx context.Context, sessionID string, limit int) ([]entity.Message, error) {
	var msgs []entity.Message
	q := s.db.WithContext(ctx).
		Preload("Products").
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
