package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// GuestIdentity is the sentinel identity of an anonymous shopper.
const GuestIdentity = "guest"

type Customer struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Shop      string    `gorm:"size:255;not null;uniqueIndex:idx_customers_shop_email" json:"shop"`
	Email     string    `gorm:"size:320;not null;uniqueIndex:idx_customers_shop_email" json:"email"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (c *Customer) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// ChatSession owns an ordered message history. MergedInto is set once a guest
// session has been folded into a customer session.
type ChatSession struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	Shop       string    `gorm:"index;size:255;not null" json:"shop"`
	CustomerID *string   `gorm:"index;size:36" json:"customerId,omitempty"`
	IsGuest    bool      `json:"isGuest"`
	MergedInto *string   `gorm:"size:64" json:"mergedInto,omitempty"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	Messages   []Message `gorm:"foreignKey:SessionID" json:"messages,omitempty"`
}

func (s *ChatSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

type Message struct {
	ID        string               `gorm:"primaryKey;size:36" json:"id"`
	SessionID string               `gorm:"index;size:64;not null" json:"sessionId"`
	Role      MessageRole          `gorm:"size:16;not null" json:"role"`
	Content   string               `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time            `gorm:"index" json:"createdAt"`
	Products  []RecommendedProduct `gorm:"foreignKey:MessageID" json:"products,omitempty"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// RecommendedProduct is a snapshot taken when the assistant message is sent,
// so transcripts stay stable when the catalog changes.
type RecommendedProduct struct {
	ID        string  `gorm:"primaryKey;size:36" json:"-"`
	MessageID string  `gorm:"index;size:36;not null" json:"-"`
	ProductID string  `gorm:"size:255;not null" json:"productId"`
	Title     string  `json:"title"`
	Price     string  `gorm:"size:32" json:"price"`
	Handle    string  `json:"handle"`
	ImageURL  string  `json:"imageUrl"`
	Score     float32 `json:"score"`
}

func (p *RecommendedProduct) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// TurnRecord is one user message and the reply it produced.
type TurnRecord struct {
	SessionID     string
	UserText      string
	UserAt        time.Time
	AssistantText string
	AssistantAt   time.Time
	Products      []RecommendedProduct
}

// ResolvedSession is the durable session a turn is recorded in. CustomerID is
// empty for guests.
type ResolvedSession struct {
	Session    *ChatSession
	CustomerID string
}
