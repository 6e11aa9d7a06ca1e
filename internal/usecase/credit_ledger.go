package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"shopassist/internal/domain/entity"
	"shopassist/internal/domain/repository"
	"shopassist/internal/metrics"

	"go.uber.org/zap"
)

const (
	maxLoggedMessageRunes = 500
	usageWindowDays       = 30
)

// CreditLedger gates AI-served requests on a shop's monthly allowance and
// records what each request cost.
type CreditLedger struct {
	repo    repository.CreditRepository
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewCreditLedger(repo repository.CreditRepository, log *zap.Logger, m *metrics.Metrics) *CreditLedger {
	if log == nil {
		log = zap.NewNop()
	}
	return &CreditLedger{
		repo:    repo,
		log:     log,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CheckAvailability never debits. Exhaustion and manual disablement are
// denials, not errors.
func (l *CreditLedger) CheckAvailability(ctx context.Context, shop string) (entity.Availability, error) {
	acc, err := l.account(ctx, shop)
	if err != nil {
		return entity.Availability{}, err
	}

	switch {
	case !acc.AIEnabled:
		return entity.Availability{
			Remaining:     acc.RemainingCredits,
			Reason:        entity.ReasonManuallyDisabled,
			ShouldHandoff: true,
		}, nil
	case acc.RemainingCredits <= 0:
		return entity.Availability{
			Remaining:     0,
			Reason:        entity.ReasonCreditsExhausted,
			ShouldHandoff: true,
		}, nil
	}
	return entity.Availability{Allowed: true, Remaining: acc.RemainingCredits}, nil
}

// RecordUsage appends a usage log entry and, for successful requests, applies
// the debit. It never fails the caller: problems are logged.
func (l *CreditLedger) RecordUsage(ctx context.Context, shop string, usage entity.UsageMetrics, ref entity.UsageRef) {
	acc, err := l.repo.FindAccount(ctx, shop)
	if err != nil {
		l.log.Warn("usage not recorded: no credit account",
			zap.String("shop", shop),
			zap.String("request_type", string(usage.RequestType)),
			zap.Error(err))
		return
	}

	entry := &entity.UsageLogEntry{
		AccountID:      acc.ID,
		RequestType:    usage.RequestType,
		CreditsUsed:    usage.CreditsUsed,
		SessionID:      optional(ref.SessionID),
		CustomerID:     optional(ref.CustomerID),
		UserMessage:    truncateRunes(ref.Message, maxLoggedMessageRunes),
		ResponseTimeMs: usage.ResponseTimeMs,
		TokensUsed:     usage.TokensUsed,
		WasSuccessful:  usage.WasSuccessful,
		ErrorMessage:   optional(usage.ErrorMessage),
	}
	if entry.CreditsUsed < 0 {
		entry.CreditsUsed = 0
	}
	if !usage.WasSuccessful {
		entry.CreditsUsed = 0
	}

	if err := l.repo.RecordUsage(ctx, entry, usage.WasSuccessful); err != nil {
		l.log.Error("failed to record usage",
			zap.String("shop", shop),
			zap.String("request_type", string(usage.RequestType)),
			zap.Error(err))
		return
	}
	if usage.WasSuccessful {
		l.metrics.CreditsDebited(entry.CreditsUsed)
	}
}

func (l *CreditLedger) Status(ctx context.Context, shop string) (*entity.CreditStatus, error) {
	acc, err := l.account(ctx, shop)
	if err != nil {
		return nil, err
	}
	plan, err := l.plan(ctx, acc.PlanName)
	if err != nil {
		return nil, err
	}
	since := l.now().AddDate(0, 0, -usageWindowDays)
	breakdown, err := l.repo.UsageSince(ctx, acc.ID, since)
	if err != nil {
		return nil, fmt.Errorf("usage breakdown: %w", err)
	}

	status := entity.StatusActive
	switch {
	case !acc.AIEnabled:
		status = entity.StatusDisabled
	case acc.RemainingCredits <= 0:
		status = entity.StatusExhausted
	}

	aiEnabled, autoRecharge := acc.AIEnabled, acc.AutoRecharge
	return &entity.CreditStatus{
		Credits: entity.CreditCounters{
			Total:       acc.TotalCredits,
			Used:        acc.UsedCredits,
			Remaining:   acc.RemainingCredits,
			PeriodStart: acc.PeriodStart,
			PeriodEnd:   acc.PeriodEnd,
		},
		Plan:     *plan,
		Settings: entity.AccountSettings{AIEnabled: &aiEnabled, AutoRecharge: &autoRecharge},
		Usage: entity.UsageSummary{
			WindowDays:    usageWindowDays,
			Breakdown:     breakdown,
			TotalRequests: acc.TotalRequests,
			TotalUsers:    acc.TotalUsers,
		},
		Status: status,
	}, nil
}

// ToggleAI flips the shop's AI switch and returns the new value.
func (l *CreditLedger) ToggleAI(ctx context.Context, shop string) (bool, error) {
	acc, err := l.account(ctx, shop)
	if err != nil {
		return false, err
	}
	enabled := !acc.AIEnabled
	if err := l.repo.UpdateSettings(ctx, acc.ID, entity.AccountSettings{AIEnabled: &enabled}); err != nil {
		return false, err
	}
	l.log.Info("ai toggled", zap.String("shop", shop), zap.Bool("ai_enabled", enabled))
	return enabled, nil
}

func (l *CreditLedger) UpdateSettings(ctx context.Context, shop string, settings entity.AccountSettings) error {
	acc, err := l.account(ctx, shop)
	if err != nil {
		return err
	}
	return l.repo.UpdateSettings(ctx, acc.ID, settings)
}

func (l *CreditLedger) InitializePlans(ctx context.Context, plans []entity.Plan) error {
	if len(plans) == 0 {
		plans = entity.DefaultPlans()
	}
	if err := l.repo.UpsertPlans(ctx, plans); err != nil {
		return fmt.Errorf("initialize plans: %w", err)
	}
	return nil
}

// account loads the shop's account, creating it on the default plan and
// rolling an elapsed billing period forward first.
func (l *CreditLedger) account(ctx context.Context, shop string) (*entity.MerchantCreditAccount, error) {
	acc, err := l.repo.FindAccount(ctx, shop)
	if errors.Is(err, entity.ErrResourceNotFound) {
		acc, err = l.createAccount(ctx, shop)
	}
	if err != nil {
		return nil, fmt.Errorf("load credit account: %w", err)
	}

	now := l.now()
	if !now.After(acc.PeriodEnd) {
		return acc, nil
	}

	credits := acc.TotalCredits
	if plan, err := l.plan(ctx, acc.PlanName); err == nil {
		credits = plan.MonthlyCredits
	}
	start, end := now, now.AddDate(0, 1, 0)
	reset, err := l.repo.ResetPeriod(ctx, acc.ID, credits, start, end)
	if err != nil {
		return nil, fmt.Errorf("reset billing period: %w", err)
	}
	if !reset {
		// Rolled forward concurrently; the stored counters may already carry debits.
		acc, err = l.repo.FindAccount(ctx, shop)
		if err != nil {
			return nil, fmt.Errorf("load credit account: %w", err)
		}
		return acc, nil
	}
	l.log.Info("billing period reset", zap.String("shop", shop), zap.Time("period_end", end))

	acc.TotalCredits = credits
	acc.UsedCredits = 0
	acc.RemainingCredits = credits
	acc.PeriodStart = start
	acc.PeriodEnd = end
	return acc, nil
}

func (l *CreditLedger) createAccount(ctx context.Context, shop string) (*entity.MerchantCreditAccount, error) {
	plan, err := l.plan(ctx, entity.DefaultPlanName)
	if err != nil {
		return nil, err
	}
	now := l.now()
	acc := &entity.MerchantCreditAccount{
		Shop:             shop,
		PlanName:         plan.Name,
		TotalCredits:     plan.MonthlyCredits,
		RemainingCredits: plan.MonthlyCredits,
		PeriodStart:      now,
		PeriodEnd:        now.AddDate(0, 1, 0),
		AIEnabled:        true,
	}
	err = l.repo.CreateAccount(ctx, acc)
	if errors.Is(err, entity.ErrConflict) {
		// Another turn created it first.
		return l.repo.FindAccount(ctx, shop)
	}
	if err != nil {
		return nil, err
	}
	l.log.Info("credit account created", zap.String("shop", shop), zap.String("plan", plan.Name))
	return acc, nil
}

// plan falls back to the built-in catalog when plans were never initialized.
func (l *CreditLedger) plan(ctx context.Context, name string) (*entity.Plan, error) {
	plan, err := l.repo.FindPlan(ctx, name)
	if err == nil {
		return plan, nil
	}
	if !errors.Is(err, entity.ErrResourceNotFound) {
		return nil, fmt.Errorf("load plan %s: %w", name, err)
	}
	for _, p := range entity.DefaultPlans() {
		if p.Name == name {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("plan %s: %w", name, entity.ErrResourceNotFound)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
