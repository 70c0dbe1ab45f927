package payout

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Gateway represents a connector to the external payout processor. Results arrive later as
// payment callbacks, never as return values.
type Gateway interface {
	SubmitPayout(ctx context.Context, req Request) (Submission, error)
}

// Submission captures the processor's acknowledgement of a payout.
type Submission struct {
	Reference string
	Status    string
}

// StaticGateway simulates a processor that accepts every payout. Repeated submissions of the
// same withdrawal return the original reference.
type StaticGateway struct {
	mu        sync.Mutex
	submitted map[string]Submission
}

// SubmitPayout accepts the payout with a synthetic reference.
func (g *StaticGateway) SubmitPayout(_ context.Context, req Request) (Submission, error) {
	if err := req.validate(); err != nil {
		return Submission{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.submitted == nil {
		g.submitted = make(map[string]Submission)
	}
	if sub, ok := g.submitted[req.WithdrawalID]; ok {
		return sub, nil
	}
	sub := Submission{Reference: uuid.NewString(), Status: "accepted"}
	g.submitted[req.WithdrawalID] = sub
	return sub, nil
}

// Submitted returns how many distinct withdrawals were submitted.
func (g *StaticGateway) Submitted() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.submitted)
}
