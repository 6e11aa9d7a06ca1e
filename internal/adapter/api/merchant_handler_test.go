package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"shopassist/internal/domain/entity"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCredits struct {
	aiEnabled bool
	settings  entity.AccountSettings
	plans     []entity.Plan
}

func (f *fakeCredits) Status(_ context.Context, shop string) (*entity.CreditStatus, error) {
	if shop == "unknown" {
		return nil, entity.ErrResourceNotFound
	}
	return &entity.CreditStatus{
		Credits: entity.CreditCounters{Total: 1000, Used: 1, Remaining: 999},
		Plan:    entity.Plan{Name: entity.DefaultPlanName, MonthlyCredits: 1000},
		Status:  entity.StatusActive,
	}, nil
}

func (f *fakeCredits) ToggleAI(context.Context, string) (bool, error) {
	f.aiEnabled = !f.aiEnabled
	return f.aiEnabled, nil
}

func (f *fakeCredits) UpdateSettings(_ context.Context, _ string, s entity.AccountSettings) error {
	f.settings = s
	return nil
}

func (f *fakeCredits) InitializePlans(_ context.Context, plans []entity.Plan) error {
	f.plans = plans
	return nil
}

type fakeIndexer struct {
	docs     []entity.ContextDoc
	products []entity.Product
}

func (f *fakeIndexer) Index(_ context.Context, doc entity.ContextDoc) error {
	if !doc.Kind.Valid() {
		return entity.ErrInvalidRequest
	}
	f.docs = append(f.docs, doc)
	return nil
}

func (f *fakeIndexer) SyncProducts(_ context.Context, _ string, products []entity.Product) (int, error) {
	f.products = append(f.products, products...)
	return len(products), nil
}

type fakeCatalog struct {
	settings map[string]entity.AssistantSettings
}

func (f *fakeCatalog) FindProducts(context.Context, string, []string) ([]entity.Product, error) {
	return nil, nil
}
func (f *fakeCatalog) UpsertProducts(context.Context, []entity.Product) error { return nil }
func (f *fakeCatalog) ListFAQs(context.Context, string) ([]entity.FAQ, error) { return nil, nil }
func (f *fakeCatalog) UpsertFAQ(context.Context, entity.FAQ) error { return nil }

func (f *fakeCatalog) AssistantSettings(_ context.Context, shop string) (entity.AssistantSettings, error) {
	if s, ok := f.settings[shop]; ok {
		return s, nil
	}
	return entity.DefaultAssistantSettings(shop), nil
}

func (f *fakeCatalog) SaveAssistantSettings(_ context.Context, s entity.AssistantSettings) error {
	f.settings[s.Shop] = s
	return nil
}

type fakeMirror struct {
	human   map[string]bool
	backlog []entity.MirrorMessage
	live    []entity.MirrorMessage
}

func (f *fakeMirror) Append(context.Context, string, string, entity.MirrorMessage) error { return nil }
func (f *fakeMirror) Messages(context.Context, string, string) ([]entity.MirrorMessage, error) {
	return f.backlog, nil
}
func (f *fakeMirror) Metadata(_ context.Context, _, sessionID string) (entity.SessionMetadata, error) {
	return entity.SessionMetadata{IsHumanSupport: f.human[sessionID]}, nil
}
func (f *fakeMirror) SetHumanSupport(_ context.Context, _, sessionID string, enabled bool) error {
	f.human[sessionID] = enabled
	return nil
}
func (f *fakeMirror) Move(context.Context, string, string, string) error { return nil }

// Subscribe replays live and then ends the subscription.
func (f *fakeMirror) Subscribe(context.Context, string, string) (<-chan entity.MirrorMessage, func(), error) {
	ch := make(chan entity.MirrorMessage, len(f.live))
	for _, m := range f.live {
		ch <- m
	}
	close(ch)
	return ch, func() {}, nil
}

type merchantFixture struct {
	app     *fiber.App
	credits *fakeCredits
	indexer *fakeIndexer
	catalog *fakeCatalog
	mirror  *fakeMirror
}

func newMerchantFixture(t *testing.T) *merchantFixture {
	t.Helper()
	f := &merchantFixture{
		credits: &fakeCredits{aiEnabled: true},
		indexer: &fakeIndexer{},
		catalog: &fakeCatalog{settings: map[string]entity.AssistantSettings{}},
		mirror:  &fakeMirror{human: map[string]bool{}},
	}
	plans := func() ([]entity.Plan, error) { return entity.DefaultPlans(), nil }
	merchant := NewMerchantHandler(f.credits, f.indexer, f.catalog, f.mirror, plans, zap.NewNop())
	chat := NewChatHandler(&fakeSubmitter{}, fakeStreamer{}, nil, time.Second, zap.NewNop())
	f.app = fiber.New()
	SetupRouter(f.app, chat, merchant, nil, "test")
	return f
}

func TestGetCredits(t *testing.T) {
	f := newMerchantFixture(t)

	resp, err := f.app.Test(httptest.NewRequest(http.MethodGet, "/api/credits?shop=s1", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var status entity.CreditStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, 999, status.Credits.Remaining)
	assert.Equal(t, entity.StatusActive, status.Status)

	resp, err = f.app.Test(httptest.NewRequest(http.MethodGet, "/api/credits", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, err = f.app.Test(httptest.NewRequest(http.MethodGet, "/api/credits?shop=unknown", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestPostCreditsActions(t *testing.T) {
	f := newMerchantFixture(t)

	resp, err := f.app.Test(jsonRequest(http.MethodPost, "/api/credits", `{"shop":"s1","action":"toggle_ai"}`))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decodeBody(t, resp)["aiEnabled"])

	resp, err = f.app.Test(jsonRequest(http.MethodPost, "/api/credits", `{"shop":"s1","action":"update_settings","settings":{"autoRecharge":true}}`))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.NotNil(t, f.credits.settings.AutoRecharge)
	assert.True(t, *f.credits.settings.AutoRecharge)
	assert.Nil(t, f.credits.settings.AIEnabled)

	resp, err = f.app.Test(jsonRequest(http.MethodPost, "/api/credits", `{"action":"initialize_plans"}`))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, f.credits.plans, len(entity.DefaultPlans()))

	resp, err = f.app.Test(jsonRequest(http.MethodPost, "/api/credits", `{"shop":"s1","action":"refund_everyone"}`))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, err = f.app.Test(jsonRequest(http.MethodPost, "/api/credits", `{"action":"toggle_ai"}`))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestSetHandoff(t *testing.T) {
	f := newMerchantFixture(t)

	resp, err := f.app.Test(jsonRequest(http.MethodPost, "/api/sessions/c1/handoff", `{"shop":"s1","enabled":true}`))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.True(t, f.mirror.human["c1"])

	resp, err = f.app.Test(jsonRequest(http.MethodPost, "/api/sessions/c1/handoff", `{"shop":"s1","enabled":false}`))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.False(t, f.mirror.human["c1"])
}

func TestLiveSessionRelaysBacklogThenUpdates(t *testing.T) {
	f := newMerchantFixture(t)
	f.mirror.backlog = []entity.MirrorMessage{{Role: entity.RoleUser, Content: "hi", Timestamp: 1}}
	f.mirror.live = []entity.MirrorMessage{{Role: entity.RoleAssistant, Content: "hello", Timestamp: 2}}

	resp, err := f.app.Test(httptest.NewRequest(http.MethodGet, "/api/sessions/c1/live?shop=s1", nil), 5000)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	frames := strings.Split(strings.TrimSpace(string(raw)), "\n\n")
	require.Len(t, frames, 2)
	assert.Contains(t, frames[0], `"content":"hi"`)
	assert.Contains(t, frames[1], `"content":"hello"`)
}

// racingMirror publishes while the backlog is being read: one message that the
// backlog already holds and one appended after the read.
type racingMirror struct {
	*fakeMirror
	sub chan entity.MirrorMessage
}

func (r *racingMirror) Subscribe(context.Context, string, string) (<-chan entity.MirrorMessage, func(), error) {
	r.sub = make(chan entity.MirrorMessage, 4)
	return r.sub, func() {}, nil
}

func (r *racingMirror) Messages(context.Context, string, string) ([]entity.MirrorMessage, error) {
	inBacklog := entity.MirrorMessage{Role: entity.RoleUser, Content: "hi", Timestamp: 1}
	if r.sub != nil {
		r.sub <- inBacklog
		r.sub <- entity.MirrorMessage{Role: entity.RoleAssistant, Content: "just now", Timestamp: 2}
		close(r.sub)
	}
	return []entity.MirrorMessage{inBacklog}, nil
}

func TestLiveSessionKeepsMessagesAppendedDuringBacklogRead(t *testing.T) {
	mirror := &racingMirror{fakeMirror: &fakeMirror{human: map[string]bool{}}}
	merchant := NewMerchantHandler(&fakeCredits{}, &fakeIndexer{}, &fakeCatalog{settings: map[string]entity.AssistantSettings{}}, mirror, nil, zap.NewNop())
	chat := NewChatHandler(&fakeSubmitter{}, fakeStreamer{}, nil, time.Second, zap.NewNop())
	app := fiber.New()
	SetupRouter(app, chat, merchant, nil, "test")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/sessions/c1/live?shop=s1", nil), 5000)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	frames := strings.Split(strings.TrimSpace(string(raw)), "\n\n")
	require.Len(t, frames, 2)
	assert.Contains(t, frames[0], `"content":"hi"`)
	assert.Contains(t, frames[1], `"content":"just now"`)
}

func TestSyncProductsAndKnowledge(t *testing.T) {
	f := newMerchantFixture(t)

	resp, err := f.app.Test(jsonRequest(http.MethodPut, "/api/products", `{"shop":"s1","products":[{"productId":"p1","title":"Red Runner"}]}`))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), decodeBody(t, resp)["indexed"])
	require.Len(t, f.indexer.products, 1)

	resp, err = f.app.Test(jsonRequest(http.MethodPost, "/api/knowledge", `{"shop":"s1","kind":"policy","refId":"returns","content":"30 days","score":0.9}`))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	require.Len(t, f.indexer.docs, 1)
	assert.Zero(t, f.indexer.docs[0].Score)

	resp, err = f.app.Test(jsonRequest(http.MethodPost, "/api/knowledge", `{"shop":"s1","kind":"blog","refId":"x","content":"y"}`))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestSaveAssistantSettings(t *testing.T) {
	f := newMerchantFixture(t)

	resp, err := f.app.Test(jsonRequest(http.MethodPut, "/api/assistant-settings", `{"shop":"s1","personality":"pirate","handoffMessage":"Ahoy, a human is coming."}`))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "pirate", body["personality"])
	assert.Equal(t, "Ahoy, a human is coming.", f.catalog.settings["s1"].HandoffMessage)

	resp, err = f.app.Test(jsonRequest(http.MethodPut, "/api/assistant-settings", `{"personality":"pirate"}`))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
