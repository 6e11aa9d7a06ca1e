package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"shopassist/internal/domain/entity"
	"shopassist/internal/domain/repository"

	"go.uber.org/zap"
)

type ResilienceConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	Timeout    time.Duration // cap per generation, retries and fallback included
}

type ResilientProvider struct {
	primary    repository.AIProvider
	fallback   repository.AIProvider // optional, tried once after primary retries
	maxRetries int
	baseDelay  time.Duration
	timeout    time.Duration
	log        *zap.Logger
}

func NewResilientProvider(primary, fallback repository.AIProvider, cfg ResilienceConfig, log *zap.Logger) *ResilientProvider {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 25 * time.Second
	}
	return &ResilientProvider{
		primary:    primary,
		fallback:   fallback,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		timeout:    cfg.Timeout,
		log:        log,
	}
}

func (r *ResilientProvider) Generate(ctx context.Context, req entity.ModelRequest) (*entity.ModelResponse, error) {
	resCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.executeWithRetry(resCtx, "primary", func() (*entity.ModelResponse, error) {
		return r.primary.Generate(resCtx, req)
	}, nil)
	if err == nil {
		return resp, nil
	}
	if r.fallback == nil || resCtx.Err() != nil {
		return nil, err
	}

	r.log.Warn("primary model exhausted, switching to fallback", zap.Error(err))
	resp, err = r.fallback.Generate(resCtx, req)
	if err != nil {
		return nil, fmt.Errorf("both primary and fallback failed: %w", err)
	}
	markFallback(resp)
	return resp, nil
}

// Stream retries and falls back only while nothing has reached onChunk, so a
// consumer never sees a reply restart.
func (r *ResilientProvider) Stream(ctx context.Context, req entity.ModelRequest, onChunk func(string) error) (*entity.ModelResponse, error) {
	resCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	delivered := false
	forward := func(chunk string) error {
		delivered = true
		return onChunk(chunk)
	}
	undelivered := func() bool { return !delivered }

	resp, err := r.executeWithRetry(resCtx, "primary", func() (*entity.ModelResponse, error) {
		return r.primary.Stream(resCtx, req, forward)
	}, undelivered)
	if err == nil {
		return resp, nil
	}
	if r.fallback == nil || delivered || resCtx.Err() != nil {
		return nil, err
	}

	r.log.Warn("primary model stream exhausted, switching to fallback", zap.Error(err))
	resp, err = r.fallback.Stream(resCtx, req, forward)
	if err != nil {
		return nil, fmt.Errorf("both primary and fallback failed: %w", err)
	}
	markFallback(resp)
	return resp, nil
}

func (r *ResilientProvider) executeWithRetry(ctx context.Context, label string, call func() (*entity.ModelResponse, error), canRetry func() bool) (*entity.ModelResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		resp, err := call()
		if err == nil {
			if resp.Metadata == nil {
				resp.Metadata = make(map[string]any)
			}
			resp.Metadata["retry_count"] = attempt
			return resp, nil
		}
		lastErr = err

		if !r.isRetryable(err) || attempt == r.maxRetries || (canRetry != nil && !canRetry()) {
			break
		}

		wait := r.calculateBackoff(attempt)
		r.log.Debug("retrying model call", zap.String("provider", label), zap.Int("attempt", attempt+1), zap.Duration("wait", wait), zap.Error(err))
		select {
		case <-time.After(wait):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (r *ResilientProvider) isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, entity.ErrEmptyModelResponse) {
		return true
	}
	msg := strings.ToLower(err.Error())
	// Rate limits (429) and server errors (5xx)
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "500") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "unavailable") ||
		strings.Contains(msg, "deadline")
}

func (r *ResilientProvider) calculateBackoff(attempt int) time.Duration {
	backoff := float64(r.baseDelay) * float64(int(1)<<attempt)
	jitter := (rand.Float64() * 0.2) * backoff // 20% jitter
	return time.Duration(backoff + jitter)
}

func markFallback(resp *entity.ModelResponse) {
	if resp.Metadata == nil {
		resp.Metadata = make(map[string]any)
	}
	resp.Metadata["fallback_used"] = true
}
