package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/selimacar/pushfanout/internal/domain"
	"github.com/selimacar/pushfanout/internal/repository"
	"go.uber.org/zap"
)

type TokenService struct {
	tokens repository.TokenRepository
	logger *zap.Logger
}

func NewTokenService(tokens repository.TokenRepository, logger *zap.Logger) (*TokenService, error) {
	if tokens == nil {
		return nil, fmt.Errorf("token repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TokenService{
		tokens: tokens,
		logger: logger,
	}, nil
}

// Register records a device token. Registering the same value again is not an
// error: the existing row is reactivated, which is how a device recovers from
// an earlier DeviceNotRegistered deactivation.
func (s *TokenService) Register(ctx context.Context, value string) (*domain.Token, bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	candidate := domain.Token{Value: strings.TrimSpace(value)}
	if err := candidate.Validate(); err != nil {
		return nil, false, err
	}

	token, created, err := s.tokens.Upsert(ctx, candidate.Value)
	if err != nil {
		return nil, false, err
	}

	if created {
		s.logger.Info("token registered", zap.String("tokenId", token.ID))
	}

	return token, created, nil
}

func (s *TokenService) GetByID(ctx context.Context, id string) (*domain.Token, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: token id is required", domain.ErrValidation)
	}
	return s.tokens.GetByID(ctx, strings.TrimSpace(id))
}
