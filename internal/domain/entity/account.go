package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RequestType classifies a usage log entry.
type RequestType string

const (
	RequestAIChat          RequestType = "AI_CHAT"
	RequestKeywordResponse RequestType = "KEYWORD_RESPONSE"
	RequestManualHandoff   RequestType = "MANUAL_HANDOFF"
)

const DefaultPlanName = "Free"

// Plan is a billing tier. Features are free-form flags such as "analytics".
type Plan struct {
	Name           string    `gorm:"primaryKey;size:64" json:"name" mapstructure:"name"`
	MonthlyCredits int       `gorm:"not null" json:"monthlyCredits" mapstructure:"monthly_credits"`
	PriceCents     int64     `gorm:"not null;default:0" json:"priceCents" mapstructure:"price_cents"`
	Features       []string  `gorm:"serializer:json" json:"features" mapstructure:"features"`
	CreatedAt      time.Time `json:"-"`
	UpdatedAt      time.Time `json:"-"`
}

// DefaultPlans is the built-in catalog used when no plans file is present.
func DefaultPlans() []Plan {
	return []Plan{
		{Name: DefaultPlanName, MonthlyCredits: 1000, PriceCents: 0, Features: []string{"chat"}},
		{Name: "Starter", MonthlyCredits: 5000, PriceCents: 1900, Features: []string{"chat", "analytics"}},
		{Name: "Growth", MonthlyCredits: 20000, PriceCents: 4900, Features: []string{"chat", "analytics", "handoff"}},
		{Name: "Pro", MonthlyCredits: 100000, PriceCents: 14900, Features: []string{"chat", "analytics", "handoff", "priority_support"}},
	}
}

// MerchantCreditAccount is the per-shop usage allowance.
type MerchantCreditAccount struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	Shop             string    `gorm:"uniqueIndex;size:255;not null" json:"shop"`
	PlanName         string    `gorm:"size:64;not null" json:"planName"`
	TotalCredits     int       `gorm:"not null" json:"totalCredits"`
	UsedCredits      int       `gorm:"not null" json:"usedCredits"`
	RemainingCredits int       `gorm:"not null" json:"remainingCredits"`
	PeriodStart      time.Time `json:"periodStart"`
	PeriodEnd        time.Time `json:"periodEnd"`
	AIEnabled        bool      `json:"aiEnabled"`
	AutoRecharge     bool      `json:"autoRecharge"`
	TotalRequests    int64     `gorm:"not null" json:"totalRequests"`
	TotalUsers       int64     `gorm:"not null" json:"totalUsers"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func (a *MerchantCreditAccount) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// UsageLogEntry is append-only.
type UsageLogEntry struct {
	ID             string      `gorm:"primaryKey;size:36" json:"id"`
	AccountID      string      `gorm:"index;size:36;not null" json:"accountId"`
	RequestType    RequestType `gorm:"size:32;not null" json:"requestType"`
	CreditsUsed    int         `gorm:"not null" json:"creditsUsed"`
	SessionID      *string     `gorm:"size:64" json:"sessionId,omitempty"`
	CustomerID     *string     `gorm:"index;size:36" json:"customerId,omitempty"`
	UserMessage    string      `gorm:"type:text" json:"userMessage"`
	ResponseTimeMs int64       `json:"responseTimeMs"`
	TokensUsed     int         `json:"tokensUsed"`
	WasSuccessful  bool        `json:"wasSuccessful"`
	ErrorMessage   *string     `gorm:"type:text" json:"errorMessage,omitempty"`
	CreatedAt      time.Time   `gorm:"index" json:"createdAt"`
}

func (e *UsageLogEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// UsageMetrics describes one processed request for the ledger.
type UsageMetrics struct {
	RequestType    RequestType
	CreditsUsed    int
	ResponseTimeMs int64
	TokensUsed     int
	WasSuccessful  bool
	ErrorMessage   string
}

// Availability is the ledger's answer to "may the AI serve this request".
type Availability struct {
	Allowed       bool   `json:"allowed"`
	Remaining     int    `json:"remaining"`
	Reason        string `json:"reason,omitempty"`
	ShouldHandoff bool   `json:"shouldHandoff"`
}

const (
	ReasonManuallyDisabled = "AI responses are manually disabled"
	ReasonCreditsExhausted = "monthly credits exhausted"
)

// AccountSettings are the merchant-editable ledger switches.
type AccountSettings struct {
	AIEnabled    *bool `json:"aiEnabled,omitempty"`
	AutoRecharge *bool `json:"autoRecharge,omitempty"`
}

// UsageBreakdown aggregates usage logs of one request type.
type UsageBreakdown struct {
	RequestType     RequestType `json:"requestType"`
	Requests        int64       `json:"requests"`
	Successful      int64       `json:"successful"`
	Credits         int64       `json:"credits"`
	AvgResponseTime float64     `json:"avgResponseTimeMs"`
}

// UsageRef ties a usage log entry to the conversation that caused it.
type UsageRef struct {
	SessionID  string
	CustomerID string
	Message    string
}

// CreditStatus is the merchant-facing view of an account.
type CreditStatus struct {
	Credits  CreditCounters  `json:"credits"`
	Plan     Plan            `json:"plan"`
	Settings AccountSettings `json:"settings"`
	Usage    UsageSummary    `json:"usage"`
	Status   string          `json:"status"`
}

type CreditCounters struct {
	Total       int       `json:"total"`
	Used        int       `json:"used"`
	Remaining   int       `json:"remaining"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
}

// UsageSummary covers the trailing usage window plus lifetime totals.
type UsageSummary struct {
	WindowDays    int              `json:"windowDays"`
	Breakdown     []UsageBreakdown `json:"breakdown"`
	TotalRequests int64            `json:"totalRequests"`
	TotalUsers    int64            `json:"totalUsers"`
}

const (
	StatusActive    = "active"
	StatusDisabled  = "disabled"
	StatusExhausted = "exhausted"
)
