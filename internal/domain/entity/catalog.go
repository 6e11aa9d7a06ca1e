package entity

import "time"

// Product is the local snapshot of a synced storefront product.
type Product struct {
	Shop        string    `gorm:"primaryKey;size:255" json:"shop"`
	ProductID   string    `gorm:"primaryKey;size:255" json:"productId"`
	Title       string    `gorm:"not null" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	Price       string    `gorm:"size:32" json:"price"`
	Handle      string    `json:"handle"`
	ImageURL    string    `json:"imageUrl"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type DocKind string

const (
	DocProduct  DocKind = "product"
	DocFAQ      DocKind = "faq"
	DocPolicy   DocKind = "policy"
	DocDiscount DocKind = "discount"
	DocBrand    DocKind = "brand"
)

func (k DocKind) Valid() bool {
	switch k {
	case DocProduct, DocFAQ, DocPolicy, DocDiscount, DocBrand:
		return true
	}
	return false
}

// ContextDoc is a piece of store knowledge, either being indexed or retrieved.
type ContextDoc struct {
	Shop     string   `json:"shop"`
	Kind     DocKind  `json:"kind"`
	RefID    string   `json:"refId"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords,omitempty"`
	Score    float32  `json:"score,omitempty"`
}

// FAQ backs the keyword responder used when AI is unavailable.
type FAQ struct {
	Shop      string    `gorm:"primaryKey;size:255" json:"shop"`
	RefID     string    `gorm:"primaryKey;size:255" json:"refId"`
	Question  string    `gorm:"type:text;not null" json:"question"`
	Answer    string    `gorm:"type:text;not null" json:"answer"`
	Keywords  []string  `gorm:"serializer:json" json:"keywords"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AssistantSettings shape the assistant's voice for one shop.
type AssistantSettings struct {
	Shop           string    `gorm:"primaryKey;size:255" json:"shop"`
	Personality    string    `json:"personality"`
	ResponseStyle  string    `json:"responseStyle"`
	Language       string    `gorm:"size:16" json:"language"`
	HandoffMessage string    `gorm:"type:text" json:"handoffMessage"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

const DefaultHandoffMessage = "Thanks for your message! A member of our team will reply here shortly."

func DefaultAssistantSettings(shop string) AssistantSettings {
	return AssistantSettings{
		Shop:           shop,
		Personality:    "friendly and knowledgeable store assistant",
		ResponseStyle:  "concise",
		Language:       "auto",
		HandoffMessage: DefaultHandoffMessage,
	}
}

// SettingsOverride is the preview-time patch sent with a turn.
type SettingsOverride struct {
	Personality   string `json:"personality,omitempty"`
	ResponseStyle string `json:"responseStyle,omitempty"`
	Language      string `json:"language,omitempty"`
}

// Apply returns s patched with the non-empty override fields.
func (s AssistantSettings) Apply(o *SettingsOverride) AssistantSettings {
	if o == nil {
		return s
	}
	if o.Personality != "" {
		s.Personality = o.Personality
	}
	if o.ResponseStyle != "" {
		s.ResponseStyle = o.ResponseStyle
	}
	if o.Language != "" {
		s.Language = o.Language
	}
	return s
}
