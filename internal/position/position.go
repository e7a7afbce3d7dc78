package position

import (
	"context"
	"errors"
	"time"

	"levels-trading-bot/internal/patterns"
)

var (
	// ErrPositionExists rejects a signal for a symbol that already has an
	// open position or a pending proposal.
	ErrPositionExists = errors.New("symbol already has an open position or pending proposal")
	// ErrZeroStopDistance refuses to size a position whose stop equals its
	// entry.
	ErrZeroStopDistance = errors.New("stop distance is zero")
	// ErrUnknownProposal is returned for confirm/reject of an unknown or
	// already-resolved proposal.
	ErrUnknownProposal = errors.New("unknown proposal")
	// ErrUnknownRiskKey rejects a risk-parameter update for a key that does
	// not exist.
	ErrUnknownRiskKey = errors.New("unknown risk parameter")
	// ErrInvalidRiskValue rejects an out-of-range risk-parameter value.
	ErrInvalidRiskValue = errors.New("invalid risk parameter value")
)

// ProposalStatus is the lifecycle state of a proposal
type ProposalStatus string

const (
	ProposalPending   ProposalStatus = "PENDING"
	ProposalConfirmed ProposalStatus = "CONFIRMED"
	ProposalRejected  ProposalStatus = "REJECTED"
	ProposalExpired   ProposalStatus = "EXPIRED"
)

// Proposal is a signal awaiting confirmation
type Proposal struct {
	ID        string
	Signal    patterns.Signal
	CreatedAt time.Time
	ExpiresAt time.Time
	Status    ProposalStatus
}

// PositionStatus is the lifecycle state of a position
type PositionStatus string

const (
	StatusOpen   PositionStatus = "OPEN"
	StatusClosed PositionStatus = "CLOSED"
)

// Position is one paper trade. Mutated only by the Manager under its lock.
type Position struct {
	Symbol      string
	Direction   patterns.Direction
	Entry       float64
	StopLoss    float64
	TakeProfit  float64
	Size        float64
	RiskAmount  float64
	Setup       string
	Session     patterns.Session
	OpenedAt    time.Time
	Status      PositionStatus
	ClosePrice  float64
	CloseReason string
	ClosedAt    time.Time
	RealizedPnL float64
	RMultiple   float64 // realized profit in units of initial risk
}

// Summary aggregates closed-trade performance over a period
type Summary struct {
	Trades  int
	Wins    int
	Losses  int
	WinRate float64
	NetPnL  float64
	TotalR  float64
}

// TradeLog records closed positions durably and answers summary queries
type TradeLog interface {
	AppendClosedTrade(ctx context.Context, p Position) error
	Summary(ctx context.Context, since time.Time) (Summary, error)
}

// SnapshotStore persists the current open-position set so an operator can
// see it after a restart. Best effort, never load-bearing.
type SnapshotStore interface {
	SaveOpenPositions(ctx context.Context, positions []Position) error
}

// PriceSource answers the latest known price for a symbol
type PriceSource interface {
	LastPrice(symbol string) (float64, bool)
}
