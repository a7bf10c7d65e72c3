package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/ayo6706/remit-board/internal/domain"
	"go.uber.org/zap"
)

// ErrUnavailable is returned when the SMS provider rejects a delivery.
var ErrUnavailable = errors.New("sms gateway temporarily unavailable")

// SMSGateway delivers one-time codes to a phone number.
type SMSGateway interface {
	SendCode(ctx context.Context, phone, code string) error
}

// MockSMSGateway simulates an SMS provider. Codes are written to the log
// instead of a handset, after a short random delay.
type MockSMSGateway struct {
	// FailureRate is the probability of failure (0.0 to 1.0).
	FailureRate float64
	// MaxDelay bounds the simulated provider latency.
	MaxDelay time.Duration

	logger *zap.Logger
}

func NewMockSMSGateway(failureRate float64) *MockSMSGateway {
	return &MockSMSGateway{
		FailureRate: failureRate,
		MaxDelay:    300 * time.Millisecond,
		logger:      zap.L().Named("sms"),
	}
}

func (g *MockSMSGateway) SendCode(ctx context.Context, phone, code string) error {
	if g.MaxDelay > 0 {
		delay := time.Duration(rand.Int63n(int64(g.MaxDelay)))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("sms delivery canceled: %w", ctx.Err())
		}
	}

	if rand.Float64() < g.FailureRate {
		return ErrUnavailable
	}

	g.logger.Info("sms code delivered",
		zap.String("phone", domain.MaskPhone(phone)),
		zap.String("code", code),
	)
	return nil
}
