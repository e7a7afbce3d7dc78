package notification

import (
	"fmt"
	"strings"
	"sync"

	"levels-trading-bot/internal/events"
	"levels-trading-bot/internal/logging"
	"levels-trading-bot/internal/patterns"
	"levels-trading-bot/internal/position"
)

// Router turns system events into operator notifications. It remembers the
// refs of proposal messages so an expired proposal edits its original message
// instead of posting a new one. Delivery failures are logged, never
// propagated.
type Router struct {
	manager *Manager
	log     *logging.Logger

	mu        sync.Mutex
	proposals map[string][]Ref
}

// NewRouter wires a manager to the event bus
func NewRouter(manager *Manager, bus *events.Bus) *Router {
	r := &Router{
		manager:   manager,
		log:       logging.WithComponent("notification"),
		proposals: make(map[string][]Ref),
	}
	bus.Subscribe(events.EventProposalCreated, r.onProposalCreated)
	bus.Subscribe(events.EventProposalExpired, r.onProposalExpired)
	bus.Subscribe(events.EventPositionOpened, r.onPositionOpened)
	bus.Subscribe(events.EventPositionClosed, r.onPositionClosed)
	return r
}

func proposalNotification(prop position.Proposal) *Notification {
	sig := prop.Signal

	emoji := "🟢"
	if sig.Direction == patterns.Short {
		emoji = "🔴"
	}
	return &Notification{
		Type:  NotifyProposal,
		Title: fmt.Sprintf("%s Trade Proposal: %s", emoji, sig.Symbol),
		Message: fmt.Sprintf("%s %s @ %.4f\nSL: %.4f | TP: %.4f\nSetup: %s (%s)\n%s\nConfirm with id %s",
			sig.Direction, sig.Symbol, sig.Entry, sig.StopLoss, sig.TakeProfit,
			sig.Setup, sig.Session, strings.Join(sig.Reasons, "; "), prop.ID),
		Symbol: sig.Symbol,
		Price:  sig.Entry,
	}
}

func (r *Router) onProposalCreated(event events.Event) {
	prop, ok := event.Data.(position.Proposal)
	if !ok {
		return
	}

	n := proposalNotification(prop)
	n.Timestamp = event.Timestamp
	refs, err := r.manager.Send(n)
	if err != nil {
		r.log.Warn("notification delivery failed", "type", string(n.Type),
			"symbol", n.Symbol, "error", err)
	}
	if len(refs) > 0 {
		r.mu.Lock()
		r.proposals[prop.ID] = refs
		r.mu.Unlock()
	}
}

func (r *Router) onProposalExpired(event events.Event) {
	prop, ok := event.Data.(position.Proposal)
	if !ok {
		return
	}

	r.mu.Lock()
	refs := r.proposals[prop.ID]
	delete(r.proposals, prop.ID)
	r.mu.Unlock()

	n := proposalNotification(prop)
	n.Type = NotifyInfo
	n.Title = fmt.Sprintf("⌛ Proposal Expired: %s", prop.Signal.Symbol)
	n.Timestamp = event.Timestamp

	if len(refs) > 0 {
		if err := r.manager.Edit(refs, n); err != nil {
			r.log.Warn("notification edit failed", "symbol", n.Symbol, "error", err)
		}
		return
	}
	r.deliver(n)
}

func (r *Router) onPositionOpened(event events.Event) {
	pos, ok := event.Data.(position.Position)
	if !ok {
		return
	}
	r.deliver(&Notification{
		Type:  NotifyTradeOpen,
		Title: fmt.Sprintf("📈 Trade Opened: %s", pos.Symbol),
		Message: fmt.Sprintf("%s %s\nEntry: %.4f | SL: %.4f | TP: %.4f\nSize: %.6f (risk %.2f)\nSetup: %s (%s)",
			pos.Direction, pos.Symbol, pos.Entry, pos.StopLoss, pos.TakeProfit,
			pos.Size, pos.RiskAmount, pos.Setup, pos.Session),
		Symbol:    pos.Symbol,
		Price:     pos.Entry,
		Timestamp: event.Timestamp,
	})
}

func (r *Router) onPositionClosed(event events.Event) {
	pos, ok := event.Data.(position.Position)
	if !ok {
		return
	}

	emoji := "✅"
	if pos.RealizedPnL < 0 {
		emoji = "❌"
	}
	r.deliver(&Notification{
		Type:  NotifyTradeClose,
		Title: fmt.Sprintf("%s Trade Closed: %s", emoji, pos.Symbol),
		Message: fmt.Sprintf("Entry: %.4f → Exit: %.4f\nP&L: %.4f (%.2fR)\nReason: %s",
			pos.Entry, pos.ClosePrice, pos.RealizedPnL, pos.RMultiple, pos.CloseReason),
		Symbol:    pos.Symbol,
		Price:     pos.ClosePrice,
		PnL:       pos.RealizedPnL,
		Timestamp: event.Timestamp,
	})
}

func (r *Router) deliver(n *Notification) {
	if _, err := r.manager.Send(n); err != nil {
		r.log.Warn("notification delivery failed", "type", string(n.Type), "symbol", n.Symbol, "error", err)
	}
}

// LogNotifier writes notifications to the application log. Always enabled,
// so every notification is visible even with no external provider configured.
type LogNotifier struct {
	log *logging.Logger
}

// NewLogNotifier creates a log-backed notifier
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logging.WithComponent("notify")}
}

func (l *LogNotifier) Name() string { return "log" }

func (l *LogNotifier) IsEnabled() bool { return true }

func (l *LogNotifier) Send(n *Notification) (Handle, error) {
	l.log.Info(n.Title, "type", string(n.Type), "symbol", n.Symbol, "message", n.Message)
	return "", nil
}

func (l *LogNotifier) Edit(_ Handle, n *Notification) error {
	l.log.Info(n.Title, "type", string(n.Type), "symbol", n.Symbol, "message", n.Message)
	return nil
}
