package entity

import (
	"fmt"
	"strings"
	"time"
)

// TurnRequest is an inbound shopper message.
type TurnRequest struct {
	Shop              string            `json:"shop"`
	SessionID         string            `json:"sessionId"`
	Message           string            `json:"message"`
	Email             string            `json:"email,omitempty"`
	PreviousSessionID string            `json:"previousSessionId,omitempty"`
	MergeOnly         bool              `json:"mergeOnly,omitempty"`
	Preview           bool              `json:"preview,omitempty"`
	Settings          *SettingsOverride `json:"settings,omitempty"`

	ReceivedAt time.Time `json:"-"`
}

// Validate enforces the required fields. A merge-only request carries no message.
func (r TurnRequest) Validate() error {
	var missing []string
	if strings.TrimSpace(r.Shop) == "" {
		missing = append(missing, "shop")
	}
	if strings.TrimSpace(r.SessionID) == "" {
		missing = append(missing, "sessionId")
	}
	if !r.MergeOnly && strings.TrimSpace(r.Message) == "" {
		missing = append(missing, "message")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}

// Identity is the email when known, otherwise the guest sentinel.
func (r TurnRequest) Identity() string {
	email := strings.TrimSpace(r.Email)
	if email == "" {
		return GuestIdentity
	}
	return email
}

// WantsMigration reports whether a guest session must be folded in first.
func (r TurnRequest) WantsMigration() bool {
	return r.Identity() != GuestIdentity &&
		r.PreviousSessionID != "" &&
		r.PreviousSessionID != r.SessionID
}

// TurnResult tells the caller how the turn was served.
type TurnResult struct {
	Success   bool                 `json:"success"`
	Handoff   bool                 `json:"handoff,omitempty"`
	Merged    bool                 `json:"merged,omitempty"`
	Fallback  bool                 `json:"fallback,omitempty"`
	SessionID string               `json:"sessionId,omitempty"`
	Reply     string               `json:"reply,omitempty"`
	Products  []RecommendedProduct `json:"products,omitempty"`
}

type StreamEventType string

const (
	StreamText     StreamEventType = "text"
	StreamMetadata StreamEventType = "metadata"
	StreamError    StreamEventType = "error"
)

// StreamEvent is one SSE payload. A stream always ends with exactly one
// metadata or error event.
type StreamEvent struct {
	Type     StreamEventType      `json:"type"`
	Content  string               `json:"content,omitempty"`
	Products []RecommendedProduct `json:"products,omitempty"`
	Handoff  bool                 `json:"handoff,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// MirrorMessage is the realtime projection of a message.
type MirrorMessage struct {
	Role       MessageRole `json:"role"`
	Content    string      `json:"content"`
	ProductIDs []string    `json:"productIds,omitempty"`
	Timestamp  int64       `json:"timestamp"`
}

// SessionMetadata is the realtime mirror's per-session state.
type SessionMetadata struct {
	IsHumanSupport bool `json:"isHumanSupport"`
}
