package payments

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SimulatedGateway stands in for the card processor. It authorizes every
// capture and returns a processor reference; the capture confirmation
// arrives later through the webhook path, like a real processor.
type SimulatedGateway struct {
	provider string
	log      *zap.Logger
}

func NewSimulatedGateway(provider string, log *zap.Logger) *SimulatedGateway {
	if provider == "" {
		provider = "simulated"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SimulatedGateway{provider: provider, log: log}
}

// CreateCapture opens a capture intent with the processor.
func (g *SimulatedGateway) CreateCapture(ctx context.Context, customerID string, amount decimal.Decimal) (string, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return "", fmt.Errorf("payments: non-positive capture amount %s", amount)
	}
	ref := fmt.Sprintf("%s_%s", g.provider, uuid.NewString())
	g.log.Debug("capture intent created",
		zap.String("customer_id", customerID),
		zap.String("processor_ref", ref),
		zap.String("amount", amount.String()),
	)
	return ref, nil
}
