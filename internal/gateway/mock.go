package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// MockGateway simulates the Pix provider for development and testing. Charges
// settle on their own after SettleAfter, and creation fails randomly based on
// FailureRate.
type MockGateway struct {
	// FailureRate is the probability of a create-charge failure (0.0 to 1.0).
	FailureRate float64
	// SettleAfter is how long a charge stays pending before it reports
	// approved. Zero means charges never settle by themselves.
	SettleAfter time.Duration

	mu      sync.Mutex
	charges map[string]*Charge
}

// NewMockGateway creates a mock that settles charges after 15 seconds and
// never fails.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		SettleAfter: 15 * time.Second,
		charges:     make(map[string]*Charge),
	}
}

func (g *MockGateway) CreateCharge(ctx context.Context, amountCents int64, description string) (*Charge, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("gateway call canceled: %w", err)
	}
	if rand.Float64() < g.FailureRate {
		return nil, fmt.Errorf("gateway temporarily unavailable")
	}

	id := fmt.Sprintf("MOCK-%s-%05d", time.Now().Format("20060102-150405"), rand.Intn(100000))
	charge := &Charge{
		ID:          id,
		QRPayload:   fmt.Sprintf("00020126MOCKPIX%s5204000053039865802BR", id),
		AmountCents: amountCents,
		CreatedAt:   time.Now(),
	}

	g.mu.Lock()
	g.charges[id] = charge
	g.mu.Unlock()

	return charge, nil
}

func (g *MockGateway) GetChargeStatus(ctx context.Context, id string) (*ChargeStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("gateway call canceled: %w", err)
	}

	g.mu.Lock()
	charge, ok := g.charges[id]
	g.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown charge: %s", id)
	}

	status := StatusPending
	if g.SettleAfter > 0 && time.Since(charge.CreatedAt) >= g.SettleAfter {
		status = StatusApproved
	}
	return &ChargeStatus{Status: status, AmountCents: charge.AmountCents}, nil
}
