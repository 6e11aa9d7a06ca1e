package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"

	"shopassist/internal/domain/entity"

	"github.com/gofiber/fiber/v2"
)

// writeError maps domain errors to HTTP statuses. Unknown errors are never
// echoed to the caller.
func writeError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	msg := "internal server error"

	switch {
	case errors.Is(err, entity.ErrInvalidRequest):
		status, msg = fiber.StatusBadRequest, err.Error()
	case errors.Is(err, entity.ErrRateLimitExceeded):
		status, msg = fiber.StatusTooManyRequests, entity.ErrRateLimitExceeded.Error()
	case errors.Is(err, entity.ErrResourceNotFound):
		status, msg = fiber.StatusNotFound, entity.ErrResourceNotFound.Error()
	case errors.Is(err, entity.ErrConflict):
		status, msg = fiber.StatusConflict, entity.ErrConflict.Error()
	case errors.Is(err, entity.ErrQueueFull), errors.Is(err, entity.ErrDispatcherClosed):
		status, msg = fiber.StatusServiceUnavailable, "assistant is busy, please retry shortly"
	}
	return c.Status(status).JSON(fiber.Map{"success": false, "error": msg})
}

func setSSEHeaders(c *fiber.Ctx) {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")
}

// writeEvent writes one SSE data frame and flushes it to the client.
func writeEvent(w *bufio.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return w.Flush()
}

// allowAnyOrigin answers preflights and echoes the caller's origin on every
// response.
func allowAnyOrigin(c *fiber.Ctx) error {
	if origin := c.Get(fiber.HeaderOrigin); origin != "" {
		c.Set(fiber.HeaderAccessControlAllowOrigin, origin)
		c.Set(fiber.HeaderVary, fiber.HeaderOrigin)
	} else {
		c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
	}
	c.Set(fiber.HeaderAccessControlAllowMethods, "GET, POST, PUT, OPTIONS")
	c.Set(fiber.HeaderAccessControlAllowHeaders, "Content-Type, Authorization")

	if c.Method() == fiber.MethodOptions {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.Next()
}
