package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shopassist/internal/domain/entity"
	"shopassist/internal/domain/repository"
	"shopassist/internal/logger"
	"shopassist/internal/metrics"

	"go.uber.org/zap"
)

// cleanupTimeout bounds failure-path writes, which outlive an expired turn context.
const cleanupTimeout = 5 * time.Second

type OrchestratorConfig struct {
	CreditsPerChat   int
	HistoryLimit     int
	HandoffDetection bool
}

// Orchestrator runs one chat turn: guest migration, human handoff, credit
// gating, model call and persistence to the durable store and the mirror.
type Orchestrator struct {
	ledger    *CreditLedger
	sessions  *SessionService
	knowledge *KnowledgeService
	keywords  *KeywordResponder
	catalog   repository.CatalogRepository
	mirror    repository.RealtimeMirror
	provider  repository.AIProvider
	judge     repository.IntentJudge
	cfg       OrchestratorConfig
	metrics   *metrics.Metrics
	log       *zap.Logger
}

func NewOrchestrator(
	ledger *CreditLedger,
	sessions *SessionService,
	knowledge *KnowledgeService,
	keywords *KeywordResponder,
	catalog repository.CatalogRepository,
	mirror repository.RealtimeMirror,
	provider repository.AIProvider,
	judge repository.IntentJudge,
	cfg OrchestratorConfig,
	m *metrics.Metrics,
	log *zap.Logger,
) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.CreditsPerChat < 0 {
		cfg.CreditsPerChat = 0
	}
	return &Orchestrator{
		ledger:    ledger,
		sessions:  sessions,
		knowledge: knowledge,
		keywords:  keywords,
		catalog:   catalog,
		mirror:    mirror,
		provider:  provider,
		judge:     judge,
		cfg:       cfg,
		metrics:   m,
		log:       log,
	}
}

// ProcessTurn runs a turn to completion. On failure the shopper has been shown
// an apology through the mirror, and both a result with Success=false and the
// cause are returned.
func (o *Orchestrator) ProcessTurn(ctx context.Context, req entity.TurnRequest) (*entity.TurnResult, error) {
	return o.run(ctx, req, nil)
}

// turn carries per-turn state between the pipeline stages.
type turn struct {
	req      entity.TurnRequest
	log      *zap.Logger
	resolved *entity.ResolvedSession
	charged  bool // the ledger authorized this turn, so a failure is logged against it
	start    time.Time
}

func (t *turn) sessionID() string {
	if t.resolved == nil {
		return ""
	}
	return t.resolved.Session.ID
}

func (t *turn) usageRef() entity.UsageRef {
	ref := entity.UsageRef{SessionID: t.sessionID(), Message: t.req.Message}
	if t.resolved != nil {
		ref.CustomerID = t.resolved.CustomerID
	}
	return ref
}

// run is shared with the streaming path; onChunk is nil for blocking turns.
func (o *Orchestrator) run(ctx context.Context, req entity.TurnRequest, onChunk func(string) error) (*entity.TurnResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = time.Now().UTC()
	}
	t := &turn{
		req:   req,
		log:   o.log.With(logger.TurnFields(req.Shop, req.SessionID)...),
		start: time.Now(),
	}

	if req.WantsMigration() {
		resolved, err := o.sessions.MigrateGuestSession(ctx, req.Shop, req.PreviousSessionID, req.Identity(), req.SessionID)
		if err != nil {
			return o.fail(ctx, t, "migrate guest session", err)
		}
		if req.MergeOnly {
			o.metrics.TurnProcessed(metrics.OutcomeMerged)
			return &entity.TurnResult{Success: true, Merged: true, SessionID: resolved.Session.ID}, nil
		}
	}
	if req.MergeOnly {
		return &entity.TurnResult{Success: true}, nil
	}

	meta, err := o.mirror.Metadata(ctx, req.Shop, req.SessionID)
	if err != nil {
		t.log.Warn("session metadata unavailable, assuming AI mode", zap.Error(err))
	}
	if meta.IsHumanSupport {
		return o.passthrough(ctx, t)
	}

	// Live viewers see the question before the model answers.
	o.mirrorAppend(ctx, t, entity.MirrorMessage{Role: entity.RoleUser, Content: req.Message, Timestamp: req.ReceivedAt.UnixMilli()})

	t.resolved, err = o.sessions.ResolveSession(ctx, req.Shop, req.Identity(), req.SessionID)
	if err != nil {
		return o.fail(ctx, t, "resolve session", err)
	}

	if !req.Preview {
		avail, err := o.ledger.CheckAvailability(ctx, req.Shop)
		if err != nil {
			return o.fail(ctx, t, "check credits", err)
		}
		if !avail.Allowed {
			t.log.Info("ai unavailable for turn", zap.String("reason", avail.Reason))
			return o.serveWithoutAI(ctx, t, avail.Reason)
		}
		t.charged = true
	}

	if o.cfg.HandoffDetection && o.judge != nil && o.judge.RequestsHuman(ctx, req.Message) {
		t.charged = false
		return o.routeToHuman(ctx, t, "shopper asked for a human")
	}

	return o.answer(ctx, t, onChunk)
}

func (o *Orchestrator) answer(ctx context.Context, t *turn, onChunk func(string) error) (*entity.TurnResult, error) {
	req := t.req
	history, err := o.sessions.History(ctx, t.sessionID(), o.cfg.HistoryLimit)
	if err != nil {
		return o.fail(ctx, t, "load history", err)
	}
	settings := o.settings(ctx, t).Apply(req.Settings)
	docs := o.knowledge.Retrieve(ctx, req.Shop, req.Message)

	modelReq := entity.ModelRequest{
		Shop:         req.Shop,
		Instructions: BuildInstructions(settings),
		History:      history,
		Message:      req.Message,
		Context:      docs,
	}
	var resp *entity.ModelResponse
	if onChunk != nil {
		resp, err = o.provider.Stream(ctx, modelReq, onChunk)
	} else {
		resp, err = o.provider.Generate(ctx, modelReq)
	}
	if err != nil {
		return o.fail(ctx, t, "generate reply", err)
	}
	o.metrics.ModelLatency(resp.Model, resp.Latency)

	products := o.resolveProducts(ctx, t, resp.ProductIDs, docs)
	err = o.sessions.AppendTurn(ctx, entity.TurnRecord{
		SessionID:     t.sessionID(),
		UserText:      req.Message,
		UserAt:        req.ReceivedAt,
		AssistantText: resp.Content,
		AssistantAt:   time.Now().UTC(),
		Products:      products,
	})
	if err != nil {
		return o.fail(ctx, t, "persist turn", err)
	}

	o.mirrorAppend(ctx, t, entity.MirrorMessage{
		Role:       entity.RoleAssistant,
		Content:    resp.Content,
		ProductIDs: productIDs(products),
	})

	if t.charged {
		o.ledger.RecordUsage(ctx, req.Shop, entity.UsageMetrics{
			RequestType:    entity.RequestAIChat,
			CreditsUsed:    o.cfg.CreditsPerChat,
			ResponseTimeMs: time.Since(t.start).Milliseconds(),
			TokensUsed:     resp.TokenCount,
			WasSuccessful:  true,
		}, t.usageRef())
	}
	o.metrics.TurnProcessed(metrics.OutcomeAnswered)
	t.log.Info("turn answered",
		zap.String("model", resp.Model),
		zap.Int("tokens", resp.TokenCount),
		zap.Int("products", len(products)),
		zap.Duration("latency", time.Since(t.start)))

	return &entity.TurnResult{
		Success:   true,
		SessionID: t.sessionID(),
		Reply:     resp.Content,
		Products:  products,
	}, nil
}

// passthrough records a message for a session a human is handling. The model
// is not called.
func (o *Orchestrator) passthrough(ctx context.Context, t *turn) (*entity.TurnResult, error) {
	req := t.req
	o.mirrorAppend(ctx, t, entity.MirrorMessage{Role: entity.RoleUser, Content: req.Message, Timestamp: req.ReceivedAt.UnixMilli()})

	var err error
	t.resolved, err = o.sessions.ResolveSession(ctx, req.Shop, req.Identity(), req.SessionID)
	if err != nil {
		return o.fail(ctx, t, "resolve session", err)
	}
	if err := o.sessions.AppendUserMessage(ctx, t.sessionID(), req.Message, req.ReceivedAt); err != nil {
		return o.fail(ctx, t, "persist handoff message", err)
	}

	o.recordUnmetered(ctx, t, entity.RequestManualHandoff)
	o.metrics.TurnProcessed(metrics.OutcomeHandoff)
	return &entity.TurnResult{Success: true, Handoff: true, SessionID: t.sessionID()}, nil
}

// serveWithoutAI answers from the FAQs when possible and hands off otherwise.
func (o *Orchestrator) serveWithoutAI(ctx context.Context, t *turn, reason string) (*entity.TurnResult, error) {
	req := t.req
	faq, err := o.keywords.Match(ctx, req.Shop, req.Message)
	if err != nil {
		t.log.Warn("keyword lookup failed", zap.Error(err))
	}
	if faq == nil {
		return o.routeToHuman(ctx, t, reason)
	}

	err = o.sessions.AppendTurn(ctx, entity.TurnRecord{
		SessionID:     t.sessionID(),
		UserText:      req.Message,
		UserAt:        req.ReceivedAt,
		AssistantText: faq.Answer,
		AssistantAt:   time.Now().UTC(),
	})
	if err != nil {
		return o.fail(ctx, t, "persist keyword reply", err)
	}
	o.mirrorAppend(ctx, t, entity.MirrorMessage{Role: entity.RoleAssistant, Content: faq.Answer})

	o.recordUnmetered(ctx, t, entity.RequestKeywordResponse)
	o.metrics.TurnProcessed(metrics.OutcomeKeyword)
	return &entity.TurnResult{Success: true, Fallback: true, SessionID: t.sessionID(), Reply: faq.Answer}, nil
}

// routeToHuman flags the session for staff and keeps the shopper's message.
func (o *Orchestrator) routeToHuman(ctx context.Context, t *turn, reason string) (*entity.TurnResult, error) {
	req := t.req
	notice := o.settings(ctx, t).HandoffMessage
	if notice == "" {
		notice = entity.DefaultHandoffMessage
	}

	if err := o.sessions.AppendUserMessage(ctx, t.sessionID(), req.Message, req.ReceivedAt); err != nil {
		return o.fail(ctx, t, "persist handoff message", err)
	}
	if err := o.mirror.SetHumanSupport(ctx, req.Shop, req.SessionID, true); err != nil {
		t.log.Warn("failed to flag session for human support", zap.Error(err))
	}
	o.mirrorAppend(ctx, t, entity.MirrorMessage{Role: entity.RoleSystem, Content: notice})

	o.recordUnmetered(ctx, t, entity.RequestManualHandoff)
	o.metrics.TurnProcessed(metrics.OutcomeHandoff)
	t.log.Info("turn routed to human", zap.String("reason", reason))
	return &entity.TurnResult{Success: true, Handoff: true, SessionID: t.sessionID(), Reply: notice}, nil
}

// fail shows the shopper a generic apology and logs the turn as failed.
func (o *Orchestrator) fail(ctx context.Context, t *turn, stage string, cause error) (*entity.TurnResult, error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	t.log.Error("chat turn failed", zap.String("stage", stage), zap.Error(cause))
	o.mirrorAppend(cctx, t, entity.MirrorMessage{Role: entity.RoleSystem, Content: entity.UserFacingErrorMessage})

	if t.charged {
		o.ledger.RecordUsage(cctx, t.req.Shop, entity.UsageMetrics{
			RequestType:    entity.RequestAIChat,
			CreditsUsed:    0,
			ResponseTimeMs: time.Since(t.start).Milliseconds(),
			WasSuccessful:  false,
			ErrorMessage:   failureLabel(cause),
		}, t.usageRef())
	}
	o.metrics.TurnProcessed(metrics.OutcomeFailed)
	return &entity.TurnResult{Success: false, SessionID: t.sessionID()}, fmt.Errorf("%s: %w", stage, cause)
}

func (o *Orchestrator) recordUnmetered(ctx context.Context, t *turn, kind entity.RequestType) {
	if t.req.Preview {
		return
	}
	o.ledger.RecordUsage(ctx, t.req.Shop, entity.UsageMetrics{
		RequestType:    kind,
		CreditsUsed:    0,
		ResponseTimeMs: time.Since(t.start).Milliseconds(),
		WasSuccessful:  true,
	}, t.usageRef())
}

// mirrorAppend is best effort: the durable store is the source of truth.
func (o *Orchestrator) mirrorAppend(ctx context.Context, t *turn, msg entity.MirrorMessage) {
	if err := o.mirror.Append(ctx, t.req.Shop, t.req.SessionID, msg); err != nil {
		t.log.Warn("mirror write failed", zap.String("role", string(msg.Role)), zap.Error(err))
	}
}

func (o *Orchestrator) settings(ctx context.Context, t *turn) entity.AssistantSettings {
	settings, err := o.catalog.AssistantSettings(ctx, t.req.Shop)
	if err != nil {
		t.log.Warn("assistant settings unavailable, using defaults", zap.Error(err))
		return entity.DefaultAssistantSettings(t.req.Shop)
	}
	return settings
}

// resolveProducts keeps only ids present in the catalog, in the model's
// order, scored by retrieval relevance when the product was retrieved.
func (o *Orchestrator) resolveProducts(ctx context.Context, t *turn, ids []string, docs []entity.ContextDoc) []entity.RecommendedProduct {
	if len(ids) == 0 {
		return nil
	}
	found, err := o.catalog.FindProducts(ctx, t.req.Shop, ids)
	if err != nil {
		t.log.Warn("product lookup failed, reply sent without products", zap.Error(err))
		return nil
	}
	scores := make(map[string]float32, len(docs))
	for _, d := range docs {
		if d.Kind == entity.DocProduct {
			scores[d.RefID] = d.Score
		}
	}
	out := make([]entity.RecommendedProduct, 0, len(found))
	for _, p := range found {
		out = append(out, entity.RecommendedProduct{
			ProductID: p.ProductID,
			Title:     p.Title,
			Price:     p.Price,
			Handle:    p.Handle,
			ImageURL:  p.ImageURL,
			Score:     scores[p.ProductID],
		})
	}
	return out
}

func productIDs(products []entity.RecommendedProduct) []string {
	if len(products) == 0 {
		return nil
	}
	ids := make([]string, len(products))
	for i, p := range products {
		ids[i] = p.ProductID
	}
	return ids
}

// failureLabel names the common failures and bounds the rest.
func failureLabel(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, entity.ErrEmptyModelResponse):
		return "empty model response"
	}
	return truncateRunes(err.Error(), 200)
}
