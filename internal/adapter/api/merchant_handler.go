package api

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"shopassist/internal/domain/entity"
	"shopassist/internal/domain/repository"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

type CreditService interface {
	Status(ctx context.Context, shop string) (*entity.CreditStatus, error)
	ToggleAI(ctx context.Context, shop string) (bool, error)
	UpdateSettings(ctx context.Context, shop string, settings entity.AccountSettings) error
	InitializePlans(ctx context.Context, plans []entity.Plan) error
}

type KnowledgeIndexer interface {
	Index(ctx context.Context, doc entity.ContextDoc) error
	SyncProducts(ctx context.Context, shop string, products []entity.Product) (int, error)
}

// PlanLoader reads the plan catalog for the initialize_plans action.
type PlanLoader func() ([]entity.Plan, error)

// MerchantHandler serves the admin-side endpoints: credits, catalog and
// knowledge sync, assistant settings and the live conversation view.
type MerchantHandler struct {
	credits   CreditService
	knowledge KnowledgeIndexer
	catalog   repository.CatalogRepository
	mirror    repository.RealtimeMirror
	plans     PlanLoader
	heartbeat time.Duration
	log       *zap.Logger
}

func NewMerchantHandler(credits CreditService, knowledge KnowledgeIndexer, catalog repository.CatalogRepository, mirror repository.RealtimeMirror, plans PlanLoader, log *zap.Logger) *MerchantHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &MerchantHandler{
		credits:   credits,
		knowledge: knowledge,
		catalog:   catalog,
		mirror:    mirror,
		plans:     plans,
		heartbeat: 15 * time.Second,
		log:       log,
	}
}

func (h *MerchantHandler) GetCredits(c *fiber.Ctx) error {
	shop := strings.TrimSpace(c.Query("shop"))
	if shop == "" {
		return writeError(c, fmt.Errorf("%w: missing shop", entity.ErrInvalidRequest))
	}
	status, err := h.credits.Status(c.UserContext(), shop)
	if err != nil {
		h.log.Error("credit status failed", zap.String("shop", shop), zap.Error(err))
		return writeError(c, err)
	}
	return c.JSON(status)
}

type creditAction struct {
	Shop     string                 `json:"shop"`
	Action   string                 `json:"action"`
	Settings entity.AccountSettings `json:"settings"`
	Plans    []entity.Plan          `json:"plans,omitempty"`
}

func (h *MerchantHandler) PostCredits(c *fiber.Ctx) error {
	var body creditAction
	if err := c.BodyParser(&body); err != nil {
		return writeError(c, fmt.Errorf("%w: %v", entity.ErrInvalidRequest, err))
	}
	ctx := c.UserContext()

	if body.Action == "initialize_plans" {
		plans := body.Plans
		if len(plans) == 0 && h.plans != nil {
			loaded, err := h.plans()
			if err != nil {
				h.log.Error("plan catalog unreadable", zap.Error(err))
				return writeError(c, err)
			}
			plans = loaded
		}
		if err := h.credits.InitializePlans(ctx, plans); err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"success": true, "plans": len(plans)})
	}

	if strings.TrimSpace(body.Shop) == "" {
		return writeError(c, fmt.Errorf("%w: missing shop", entity.ErrInvalidRequest))
	}

	switch body.Action {
	case "toggle_ai":
		enabled, err := h.credits.ToggleAI(ctx, body.Shop)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"success": true, "aiEnabled": enabled})
	case "update_settings":
		if err := h.credits.UpdateSettings(ctx, body.Shop, body.Settings); err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"success": true})
	default:
		return writeError(c, fmt.Errorf("%w: unknown action %q", entity.ErrInvalidRequest, body.Action))
	}
}

type handoffToggle struct {
	Shop    string `json:"shop"`
	Enabled bool   `json:"enabled"`
}

// SetHandoff lets the merchant take over a conversation or give it back to
// the assistant.
func (h *MerchantHandler) SetHandoff(c *fiber.Ctx) error {
	var body handoffToggle
	if err := c.BodyParser(&body); err != nil {
		return writeError(c, fmt.Errorf("%w: %v", entity.ErrInvalidRequest, err))
	}
	sessionID := c.Params("sessionId")
	if body.Shop == "" || sessionID == "" {
		return writeError(c, fmt.Errorf("%w: missing shop or sessionId", entity.ErrInvalidRequest))
	}
	if err := h.mirror.SetHumanSupport(c.UserContext(), body.Shop, sessionID, body.Enabled); err != nil {
		h.log.Error("handoff toggle failed", zap.String("shop", body.Shop), zap.String("session_id", sessionID), zap.Error(err))
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "isHumanSupport": body.Enabled})
}

// LiveSession replays the mirrored conversation, then relays new messages as
// server-sent events until the client leaves.
func (h *MerchantHandler) LiveSession(c *fiber.Ctx) error {
	shop := strings.TrimSpace(c.Query("shop"))
	sessionID := c.Params("sessionId")
	if shop == "" || sessionID == "" {
		return writeError(c, fmt.Errorf("%w: missing shop or sessionId", entity.ErrInvalidRequest))
	}

	// Subscribe before reading the backlog so nothing appended in between is lost.
	ctx, cancel := context.WithCancel(context.Background())
	updates, closeSub, err := h.mirror.Subscribe(ctx, shop, sessionID)
	if err != nil {
		cancel()
		h.log.Error("live view subscribe failed", zap.String("shop", shop), zap.Error(err))
		return writeError(c, err)
	}
	backlog, err := h.mirror.Messages(ctx, shop, sessionID)
	if err != nil {
		closeSub()
		cancel()
		h.log.Error("live view backlog failed", zap.String("shop", shop), zap.Error(err))
		return writeError(c, err)
	}

	setSSEHeaders(c)
	heartbeat := h.heartbeat
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer closeSub()

		seen := make(map[string]struct{}, len(backlog))
		for _, msg := range backlog {
			seen[liveKey(msg)] = struct{}{}
			if err := writeEvent(w, msg); err != nil {
				return
			}
		}

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-updates:
				if !ok {
					return
				}
				if _, dup := seen[liveKey(msg)]; dup {
					delete(seen, liveKey(msg))
					continue
				}
				if err := writeEvent(w, msg); err != nil {
					return
				}
			case <-ticker.C:
				if _, err := w.WriteString(": ping\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))
	return nil
}

// liveKey identifies a mirrored message published while the backlog was read.
func liveKey(msg entity.MirrorMessage) string {
	return fmt.Sprintf("%d|%s|%s", msg.Timestamp, msg.Role, msg.Content)
}

type productSync struct {
	Shop     string           `json:"shop"`
	Products []entity.Product `json:"products"`
}

func (h *MerchantHandler) SyncProducts(c *fiber.Ctx) error {
	var body productSync
	if err := c.BodyParser(&body); err != nil {
		return writeError(c, fmt.Errorf("%w: %v", entity.ErrInvalidRequest, err))
	}
	if strings.TrimSpace(body.Shop) == "" {
		return writeError(c, fmt.Errorf("%w: missing shop", entity.ErrInvalidRequest))
	}
	indexed, err := h.knowledge.SyncProducts(c.UserContext(), body.Shop, body.Products)
	if err != nil {
		h.log.Error("product sync failed", zap.String("shop", body.Shop), zap.Error(err))
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "received": len(body.Products), "indexed": indexed})
}

func (h *MerchantHandler) IndexKnowledge(c *fiber.Ctx) error {
	var doc entity.ContextDoc
	if err := c.BodyParser(&doc); err != nil {
		return writeError(c, fmt.Errorf("%w: %v", entity.ErrInvalidRequest, err))
	}
	doc.Score = 0
	if err := h.knowledge.Index(c.UserContext(), doc); err != nil {
		h.log.Error("knowledge index failed", zap.String("shop", doc.Shop), zap.String("ref_id", doc.RefID), zap.Error(err))
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true})
}

func (h *MerchantHandler) SaveAssistantSettings(c *fiber.Ctx) error {
	var settings entity.AssistantSettings
	if err := c.BodyParser(&settings); err != nil {
		return writeError(c, fmt.Errorf("%w: %v", entity.ErrInvalidRequest, err))
	}
	if strings.TrimSpace(settings.Shop) == "" {
		return writeError(c, fmt.Errorf("%w: missing shop", entity.ErrInvalidRequest))
	}
	if err := h.catalog.SaveAssistantSettings(c.UserContext(), settings); err != nil {
		h.log.Error("assistant settings not saved", zap.String("shop", settings.Shop), zap.Error(err))
		return writeError(c, err)
	}
	saved, err := h.catalog.AssistantSettings(c.UserContext(), settings.Shop)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(saved)
}
