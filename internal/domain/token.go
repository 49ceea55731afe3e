package domain

import (
	"fmt"
	"strings"
	"time"
)

// MaxTokenLength bounds the stored Expo push token string.
const MaxTokenLength = 255

// Token is a device push endpoint. Tokens are flipped inactive when the
// gateway reports the destination permanently invalid; they are never deleted.
type Token struct {
	ID        string
	Value     string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t *Token) Validate() error {
	value := strings.TrimSpace(t.Value)
	if value == "" {
		return fmt.Errorf("%w: token is required", ErrValidation)
	}
	if len(value) > MaxTokenLength {
		return fmt.Errorf("%w: token exceeds %d characters", ErrValidation, MaxTokenLength)
	}
	return nil
}
