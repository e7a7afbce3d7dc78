package position

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"levels-trading-bot/internal/events"
	"levels-trading-bot/internal/logging"
	"levels-trading-bot/internal/patterns"
)

// Config holds risk and lifecycle settings
type Config struct {
	Balance     float64
	RiskPercent float64
	DefaultRR   float64
	AutoTrade   bool
	ProposalTTL time.Duration
}

// Manager owns the proposal and position lifecycle for all symbols. The
// active-positions map is the single source of truth for "does this symbol
// have an open position"; every mutation happens under one lock, and
// notification/journal I/O happens outside it via the event bus.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	prices  PriceSource
	bus     *events.Bus
	trades  TradeLog
	snaps   SnapshotStore
	log     *logging.Logger
	active  map[string]*Position
	pending map[string]*Proposal
}

// NewManager creates a manager. trades and snaps may be nil; bus and prices
// must not be.
func NewManager(cfg Config, prices PriceSource, bus *events.Bus, trades TradeLog, snaps SnapshotStore) *Manager {
	if cfg.DefaultRR <= 0 {
		cfg.DefaultRR = 2.0
	}
	if cfg.ProposalTTL <= 0 {
		cfg.ProposalTTL = 30 * time.Minute
	}
	return &Manager{
		cfg:     cfg,
		prices:  prices,
		bus:     bus,
		trades:  trades,
		snaps:   snaps,
		log:     logging.WithComponent("position"),
		active:  make(map[string]*Position),
		pending: make(map[string]*Proposal),
	}
}

// OnSignal handles a detector signal: rejected when the symbol is busy,
// opened immediately under auto-trade, otherwise turned into a proposal.
func (m *Manager) OnSignal(sig patterns.Signal) error {
	m.mu.Lock()

	if m.busyLocked(sig.Symbol) {
		m.mu.Unlock()
		m.log.Warn("signal dropped", "symbol", sig.Symbol, "setup", sig.Setup,
			"reason", "already has a position")
		return fmt.Errorf("%w: %s", ErrPositionExists, sig.Symbol)
	}

	if m.cfg.AutoTrade {
		pos, err := m.openLocked(sig)
		m.mu.Unlock()
		if err != nil {
			return err
		}
		m.afterOpen(*pos)
		return nil
	}

	prop := &Proposal{
		ID:        uuid.New().String(),
		Signal:    sig,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(m.cfg.ProposalTTL),
		Status:    ProposalPending,
	}
	m.pending[prop.ID] = prop
	m.mu.Unlock()

	m.log.Info("proposal created", "symbol", sig.Symbol, "setup", sig.Setup,
		"proposal_id", prop.ID, "direction", string(sig.Direction))
	m.bus.Publish(events.Event{Type: events.EventProposalCreated, Symbol: sig.Symbol, Data: *prop})
	return nil
}

// Confirm opens the position a pending proposal describes
func (m *Manager) Confirm(proposalID string) (Position, error) {
	m.mu.Lock()

	prop, ok := m.pending[proposalID]
	if !ok || prop.Status != ProposalPending {
		m.mu.Unlock()
		return Position{}, fmt.Errorf("%w: %s", ErrUnknownProposal, proposalID)
	}
	delete(m.pending, proposalID)

	if m.busyLocked(prop.Signal.Symbol) {
		prop.Status = ProposalRejected
		m.mu.Unlock()
		return Position{}, fmt.Errorf("%w: %s", ErrPositionExists, prop.Signal.Symbol)
	}

	prop.Status = ProposalConfirmed
	pos, err := m.openLocked(prop.Signal)
	m.mu.Unlock()
	if err != nil {
		return Position{}, err
	}

	m.afterOpen(*pos)
	return *pos, nil
}

// Reject discards a pending proposal
func (m *Manager) Reject(proposalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prop, ok := m.pending[proposalID]
	if !ok || prop.Status != ProposalPending {
		return fmt.Errorf("%w: %s", ErrUnknownProposal, proposalID)
	}
	prop.Status = ProposalRejected
	delete(m.pending, proposalID)
	return nil
}

// busyLocked reports whether the symbol has an open position or pending
// proposal.
func (m *Manager) busyLocked(symbol string) bool {
	if _, open := m.active[symbol]; open {
		return true
	}
	for _, prop := range m.pending {
		if prop.Signal.Symbol == symbol {
			return true
		}
	}
	return false
}

// openLocked sizes and records a new position. Callers hold the lock.
func (m *Manager) openLocked(sig patterns.Signal) (*Position, error) {
	size, riskAmount, err := m.sizePosition(sig.Entry, sig.StopLoss)
	if err != nil {
		return nil, err
	}

	takeProfit := sig.TakeProfit
	if takeProfit == 0 {
		riskDist := math.Abs(sig.Entry - sig.StopLoss)
		if sig.Direction == patterns.Long {
			takeProfit = sig.Entry + riskDist*m.cfg.DefaultRR
		} else {
			takeProfit = sig.Entry - riskDist*m.cfg.DefaultRR
		}
	}

	pos := &Position{
		Symbol:     sig.Symbol,
		Direction:  sig.Direction,
		Entry:      sig.Entry,
		StopLoss:   sig.StopLoss,
		TakeProfit: takeProfit,
		Size:       size,
		RiskAmount: riskAmount,
		Setup:      sig.Setup,
		Session:    sig.Session,
		OpenedAt:   time.Now().UTC(),
		Status:     StatusOpen,
	}
	m.active[sig.Symbol] = pos
	return pos, nil
}

// sizePosition computes size = risk amount / stop distance
func (m *Manager) sizePosition(entry, stop float64) (size, riskAmount float64, err error) {
	dist := math.Abs(entry - stop)
	if dist == 0 {
		return 0, 0, ErrZeroStopDistance
	}
	riskAmount = m.cfg.Balance * m.cfg.RiskPercent / 100
	return riskAmount / dist, riskAmount, nil
}

func (m *Manager) afterOpen(pos Position) {
	m.log.Info("position opened", "symbol", pos.Symbol, "direction", string(pos.Direction),
		"entry", pos.Entry, "stop", pos.StopLoss, "target", pos.TakeProfit, "size", pos.Size)
	m.bus.Publish(events.Event{Type: events.EventPositionOpened, Symbol: pos.Symbol, Data: pos})
	m.saveSnapshot()
}

// PollExitConditions checks every open position against the latest price
// with direction-correct comparisons and closes on the first trigger. It
// also garbage-collects expired proposals.
func (m *Manager) PollExitConditions() {
	// prices are read before taking the lock so the lock never spans
	// another component's accessor
	m.mu.Lock()
	symbols := make([]string, 0, len(m.active))
	for sym := range m.active {
		symbols = append(symbols, sym)
	}
	m.mu.Unlock()

	prices := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		if p, ok := m.prices.LastPrice(sym); ok {
			prices[sym] = p
		}
	}

	now := time.Now().UTC()
	var closed []Position
	var expired []Proposal

	m.mu.Lock()
	for sym, pos := range m.active {
		price, ok := prices[sym]
		if !ok {
			continue
		}
		if reason, hit := exitTrigger(pos, price); hit {
			closed = append(closed, *m.closeLocked(pos, price, reason))
		}
	}
	for id, prop := range m.pending {
		if now.After(prop.ExpiresAt) {
			prop.Status = ProposalExpired
			delete(m.pending, id)
			expired = append(expired, *prop)
		}
	}
	m.mu.Unlock()

	for _, pos := range closed {
		m.afterClose(pos)
	}
	for _, prop := range expired {
		m.log.Info("proposal expired", "symbol", prop.Signal.Symbol, "proposal_id", prop.ID)
		m.bus.Publish(events.Event{Type: events.EventProposalExpired, Symbol: prop.Signal.Symbol, Data: prop})
	}
}

// exitTrigger applies direction-correct stop/target comparisons
func exitTrigger(pos *Position, price float64) (string, bool) {
	if pos.Direction == patterns.Long {
		if price <= pos.StopLoss {
			return "stop_loss", true
		}
		if pos.TakeProfit > 0 && price >= pos.TakeProfit {
			return "take_profit", true
		}
		return "", false
	}
	if price >= pos.StopLoss {
		return "stop_loss", true
	}
	if pos.TakeProfit > 0 && price <= pos.TakeProfit {
		return "take_profit", true
	}
	return "", false
}

// closeLocked finalizes a position at the given price. Callers hold the
// lock.
func (m *Manager) closeLocked(pos *Position, price float64, reason string) *Position {
	pnl := (price - pos.Entry) * pos.Size
	if pos.Direction == patterns.Short {
		pnl = -pnl
	}

	pos.Status = StatusClosed
	pos.ClosePrice = price
	pos.CloseReason = reason
	pos.ClosedAt = time.Now().UTC()
	pos.RealizedPnL = pnl
	if pos.RiskAmount > 0 {
		pos.RMultiple = pnl / pos.RiskAmount
	}

	delete(m.active, pos.Symbol)
	return pos
}

func (m *Manager) afterClose(pos Position) {
	m.log.Info("position closed", "symbol", pos.Symbol, "reason", pos.CloseReason,
		"close", pos.ClosePrice, "pnl", pos.RealizedPnL, "r_multiple", pos.RMultiple)
	m.bus.Publish(events.Event{Type: events.EventPositionClosed, Symbol: pos.Symbol, Data: pos})

	if m.trades != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.trades.AppendClosedTrade(ctx, pos); err != nil {
			m.log.Error("failed to journal closed trade", "symbol", pos.Symbol, "error", err)
		}
		cancel()
	}
	m.saveSnapshot()
}

// CloseAll force-closes every open position at the last known price,
// falling back to the entry price when none is available.
func (m *Manager) CloseAll(reason string) {
	m.mu.Lock()
	symbols := make([]string, 0, len(m.active))
	for sym := range m.active {
		symbols = append(symbols, sym)
	}
	m.mu.Unlock()

	prices := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		if p, ok := m.prices.LastPrice(sym); ok {
			prices[sym] = p
		}
	}

	m.mu.Lock()
	var closed []Position
	for sym, pos := range m.active {
		price, ok := prices[sym]
		if !ok {
			price = pos.Entry
		}
		closed = append(closed, *m.closeLocked(pos, price, reason))
	}
	m.mu.Unlock()

	for _, pos := range closed {
		m.afterClose(pos)
	}
}

// SetRiskParam updates one risk setting, validating synchronously. Unknown
// keys and out-of-range values are echoed back in the error.
func (m *Manager) SetRiskParam(key string, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch key {
	case "balance":
		if value <= 0 {
			return fmt.Errorf("%w: balance=%v must be positive", ErrInvalidRiskValue, value)
		}
		m.cfg.Balance = value
	case "risk_percent":
		if value <= 0 || value > 100 {
			return fmt.Errorf("%w: risk_percent=%v must be in (0,100]", ErrInvalidRiskValue, value)
		}
		m.cfg.RiskPercent = value
	case "default_rr":
		if value <= 0 {
			return fmt.Errorf("%w: default_rr=%v must be positive", ErrInvalidRiskValue, value)
		}
		m.cfg.DefaultRR = value
	case "auto_trade":
		m.cfg.AutoTrade = value != 0
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRiskKey, key)
	}
	m.log.Info("risk parameter updated", "key", key, "value", value)
	return nil
}

// OpenPositions returns a snapshot of all open positions
func (m *Manager) OpenPositions() []Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Position, 0, len(m.active))
	for _, pos := range m.active {
		out = append(out, *pos)
	}
	return out
}

// PendingProposals returns a snapshot of pending proposals
func (m *Manager) PendingProposals() []Proposal {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Proposal, 0, len(m.pending))
	for _, prop := range m.pending {
		out = append(out, *prop)
	}
	return out
}

// PerformanceSummary aggregates closed trades since the given time
func (m *Manager) PerformanceSummary(ctx context.Context, since time.Time) (Summary, error) {
	if m.trades == nil {
		return Summary{}, nil
	}
	return m.trades.Summary(ctx, since)
}

func (m *Manager) saveSnapshot() {
	if m.snaps == nil {
		return
	}
	positions := m.OpenPositions()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.snaps.SaveOpenPositions(ctx, positions); err != nil {
		m.log.Warn("failed to save position snapshot", "error", err)
	}
}
