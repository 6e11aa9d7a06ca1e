package repository

import (
	"context"
	"time"

	"shopassist/internal/domain/entity"
)

// CreditRepository persists ledger accounts, plans and usage logs. Counter
// changes are applied by the storage layer, never read-modify-write.
type CreditRepository interface {
	FindAccount(ctx context.Context, shop string) (*entity.MerchantCreditAccount, error)
	CreateAccount(ctx context.Context, account *entity.MerchantCreditAccount) error
	ResetPeriod(ctx context.Context, accountID string, credits int, start, end time.Time) (bool, error)
	RecordUsage(ctx context.Context, entry *entity.UsageLogEntry, debit bool) error
	UpdateSettings(ctx context.Context, accountID string, settings entity.AccountSettings) error
	UsageSince(ctx context.Context, accountID string, since time.Time) ([]entity.UsageBreakdown, error)

	FindPlan(ctx context.Context, name string) (*entity.Plan, error)
	UpsertPlans(ctx context.Context, plans []entity.Plan) error
}

type SessionRepository interface {
	UpsertCustomer(ctx context.Context, shop, email string) (*entity.Customer, error)
	FindSession(ctx context.Context, shop, sessionID string) (*entity.ChatSession, error)
	LatestCustomerSession(ctx context.Context, shop, customerID string) (*entity.ChatSession, error)
	CreateSession(ctx context.Context, session *entity.ChatSession) error
	ClaimGuestSession(ctx context.Context, sessionID, customerID string) error
	AppendTurn(ctx context.Context, turn entity.TurnRecord) error
	AppendMessage(ctx context.Context, msg *entity.Message) error
	MoveMessages(ctx context.Context, shop, fromSessionID, toSessionID string) (int64, error)
	History(ctx context.Context, sessionID string, limit int) ([]entity.Message, error)
}

type CatalogRepository interface {
	FindProducts(ctx context.Context, shop string, ids []string) ([]entity.Product, error)
	UpsertProducts(ctx context.Context, products []entity.Product) error
	ListFAQs(ctx context.Context, shop string) ([]entity.FAQ, error)
	UpsertFAQ(ctx context.Context, faq entity.FAQ) error
	AssistantSettings(ctx context.Context, shop string) (entity.AssistantSettings, error)
	SaveAssistantSettings(ctx context.Context, settings entity.AssistantSettings) error
}

// RealtimeMirror is the low-latency projection the storefront widget and the
// merchant live view read from. It is not authoritative.
type RealtimeMirror interface {
	Append(ctx context.Context, shop, sessionID string, msg entity.MirrorMessage) error
	Messages(ctx context.Context, shop, sessionID string) ([]entity.MirrorMessage, error)
	Metadata(ctx context.Context, shop, sessionID string) (entity.SessionMetadata, error)
	SetHumanSupport(ctx context.Context, shop, sessionID string, enabled bool) error
	Move(ctx context.Context, shop, fromSessionID, toSessionID string) error
	Subscribe(ctx context.Context, shop, sessionID string) (<-chan entity.MirrorMessage, func(), error)
}

type VectorStore interface {
	Search(ctx context.Context, vector []float32, threshold float32, filters map[string]string, limit int) ([]entity.ContextDoc, error)
	Save(ctx context.Context, doc entity.ContextDoc, vector []float32) error
}

type TurnLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type AIProvider interface {
	Generate(ctx context.Context, req entity.ModelRequest) (*entity.ModelResponse, error)
	Stream(ctx context.Context, req entity.ModelRequest, onChunk func(string) error) (*entity.ModelResponse, error)
}

type Embedder interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// IntentJudge decides whether a shopper is explicitly asking for a human.
type IntentJudge interface {
	RequestsHuman(ctx context.Context, message string) bool
}

// RetrievalHinter narrows knowledge retrieval, e.g. {"kind": "policy"}.
type RetrievalHinter interface {
	ExtractHints(ctx context.Context, message string) map[string]string
}
