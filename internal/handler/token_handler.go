package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/selimacar/pushfanout/internal/domain"
)

type TokenService interface {
	Register(ctx context.Context, value string) (*domain.Token, bool, error)
	GetByID(ctx context.Context, id string) (*domain.Token, error)
}

type TokenHandler struct {
	service TokenService
}

func NewTokenHandler(service TokenService) (*TokenHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("token service is required")
	}
	return &TokenHandler{service: service}, nil
}

func RegisterTokenRoutes(router fiber.Router, service TokenService) error {
	h, err := NewTokenHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/tokens", h.RegisterToken)
	v1.Get("/tokens/:id", h.GetToken)

	return nil
}

type registerTokenRequest struct {
	Token string `json:"token"`
}

type tokenResponse struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// RegisterToken is idempotent: a known token value is reactivated and
// answered with 200 instead of 201.
func (h *TokenHandler) RegisterToken(c *fiber.Ctx) error {
	var req registerTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	token, created, err := h.service.Register(c.Context(), req.Token)
	if err != nil {
		return toHTTPError(err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}

	return c.Status(status).JSON(toTokenResponse(token))
}

func (h *TokenHandler) GetToken(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	token, err := h.service.GetByID(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toTokenResponse(token))
}

func toTokenResponse(t *domain.Token) tokenResponse {
	if t == nil {
		return tokenResponse{}
	}

	return tokenResponse{
		ID:        t.ID,
		Token:     t.Value,
		Active:    t.Active,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}
