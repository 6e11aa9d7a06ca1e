package api

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"shopassist/internal/domain/entity"
	"shopassist/internal/domain/repository"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

type TurnSubmitter interface {
	Submit(req entity.TurnRequest) error
}

type TurnStreamer interface {
	ProcessStreamingTurn(ctx context.Context, req entity.TurnRequest) <-chan entity.StreamEvent
}

type ChatHandler struct {
	turns         TurnSubmitter
	streamer      TurnStreamer
	limiter       repository.TurnLimiter
	streamTimeout time.Duration
	log           *zap.Logger
}

func NewChatHandler(turns TurnSubmitter, streamer TurnStreamer, limiter repository.TurnLimiter, streamTimeout time.Duration, log *zap.Logger) *ChatHandler {
	if log == nil {
		log = zap.NewNop()
	}
	if streamTimeout <= 0 {
		streamTimeout = 60 * time.Second
	}
	return &ChatHandler{
		turns:         turns,
		streamer:      streamer,
		limiter:       limiter,
		streamTimeout: streamTimeout,
		log:           log,
	}
}

// HandleChat enqueues the turn and answers before it is processed. The reply
// reaches the shopper through the realtime mirror.
func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	if c.Method() != fiber.MethodPost {
		return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{"success": false, "error": "method not allowed"})
	}

	req, err := h.parseTurn(c)
	if err != nil {
		return writeError(c, err)
	}

	if err := h.turns.Submit(req); err != nil {
		h.log.Warn("turn not accepted", zap.String("shop", req.Shop), zap.Error(err))
		return writeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": true})
}

// HandleChatStream runs the turn inline and relays it as server-sent events.
func (h *ChatHandler) HandleChatStream(c *fiber.Ctx) error {
	if c.Method() != fiber.MethodPost {
		return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{"success": false, "error": "method not allowed"})
	}

	req, err := h.parseTurn(c)
	if err != nil {
		return writeError(c, err)
	}

	setSSEHeaders(c)
	timeout := h.streamTimeout
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		// The request context ends with the handler, so the stream owns its own.
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		for ev := range h.streamer.ProcessStreamingTurn(ctx, req) {
			if err := writeEvent(w, ev); err != nil {
				h.log.Debug("stream client went away", zap.String("shop", req.Shop), zap.Error(err))
				return
			}
		}
	}))
	return nil
}

// parseTurn decodes, validates and throttles an inbound turn.
func (h *ChatHandler) parseTurn(c *fiber.Ctx) (entity.TurnRequest, error) {
	var req entity.TurnRequest
	if err := c.BodyParser(&req); err != nil {
		return req, fmt.Errorf("%w: %v", entity.ErrInvalidRequest, err)
	}
	if err := req.Validate(); err != nil {
		return req, err
	}
	req.ReceivedAt = time.Now().UTC()

	if h.limiter != nil {
		allowed, err := h.limiter.Allow(c.UserContext(), req.Shop+":"+req.SessionID)
		if err != nil {
			// Fail open while Redis is unavailable.
			h.log.Warn("turn throttle unavailable", zap.Error(err))
		} else if !allowed {
			return req, entity.ErrRateLimitExceeded
		}
	}
	return req, nil
}
