package payment

import (
	"context"
	"fmt"
	"sync"

	"troffee-auction-engine/internal/domain/shared"
	"troffee-auction-engine/internal/ports/outbound"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// SandboxHold is the sandbox's view of a hold
type SandboxHold struct {
	Ref       string
	BidderRef string
	Amount    decimal.Decimal
	Captured  bool
	Canceled  bool
}

// Sandbox is an in-process gateway used in development and tests. Failures
// are injected per operation with SetFailures.
type Sandbox struct {
	mu          sync.Mutex
	holds       map[string]*SandboxHold
	calls       map[string]int
	failHold    error
	failCapture error
	failCancel  error
	logger      zerolog.Logger
}

var _ outbound.PaymentGateway = (*Sandbox)(nil)

func NewSandbox(logger zerolog.Logger) *Sandbox {
	return &Sandbox{
		holds:  make(map[string]*SandboxHold),
		calls:  make(map[string]int),
		logger: logger.With().Str("component", "payment_sandbox").Logger(),
	}
}

func (s *Sandbox) CreateHold(ctx context.Context, bidderRef string, amount decimal.Decimal) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls["hold"]++
	if s.failHold != nil {
		return "", s.failHold
	}

	ref := "sbx_" + uuid.NewString()
	s.holds[ref] = &SandboxHold{Ref: ref, BidderRef: bidderRef, Amount: amount}
	s.logger.Debug().Str("bidder_id", bidderRef).Str("hold_ref", ref).Msg("Sandbox hold created")
	return ref, nil
}

func (s *Sandbox) Capture(ctx context.Context, holdRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls["capture"]++
	if s.failCapture != nil {
		return s.failCapture
	}

	h, ok := s.holds[holdRef]
	if !ok || h.Canceled {
		return fmt.Errorf("%w: unknown hold %s", shared.ErrGatewayDeclined, holdRef)
	}
	h.Captured = true
	return nil
}

func (s *Sandbox) Cancel(ctx context.Context, holdRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls["cancel"]++
	if s.failCancel != nil {
		return s.failCancel
	}

	h, ok := s.holds[holdRef]
	if !ok || h.Captured {
		return fmt.Errorf("%w: hold %s cannot be cancelled", shared.ErrGatewayDeclined, holdRef)
	}
	h.Canceled = true
	return nil
}

// Calls returns how many times operation ("hold", "capture", "cancel") was invoked
func (s *Sandbox) Calls(operation string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[operation]
}

// Hold returns a copy of the sandbox hold with ref
func (s *Sandbox) Hold(ref string) (SandboxHold, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[ref]
	if !ok {
		return SandboxHold{}, false
	}
	return *h, true
}

// SetFailures replaces the injected failures
func (s *Sandbox) SetFailures(hold, capture, cancel error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failHold, s.failCapture, s.failCancel = hold, capture, cancel
}
