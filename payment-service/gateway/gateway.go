// Package gateway abstracts the payment provider decision so the handler can
// run against the probabilistic simulator in development and a deterministic
// fake in tests.
package gateway

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

const declineReason = "Payment declined by provider"

type Result struct {
	Approved bool
	Reason   string // set only when declined
}

type Gateway interface {
	Authorize(ctx context.Context, orderID, userID int, amount float64) Result
}

type staticGateway struct {
	result Result
}

func (g staticGateway) Authorize(ctx context.Context, orderID, userID int, amount float64) Result {
	return g.result
}

// AlwaysApprove approves every authorization. Intended for tests.
func AlwaysApprove() Gateway {
	return staticGateway{result: Result{Approved: true}}
}

// AlwaysDecline declines every authorization. Intended for tests.
func AlwaysDecline() Gateway {
	return staticGateway{result: Result{Reason: declineReason}}
}

type randomGateway struct {
	rate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// Random approves each authorization independently with the given
// probability. This stands in for a real provider call.
func Random(rate float64) Gateway {
	return &randomGateway{
		rate: rate,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *randomGateway) Authorize(ctx context.Context, orderID, userID int, amount float64) Result {
	g.mu.Lock()
	approved := g.rng.Float64() < g.rate
	g.mu.Unlock()

	if approved {
		return Result{Approved: true}
	}
	return Result{Reason: declineReason}
}
