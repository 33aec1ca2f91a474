package notification

import (
	"context"
	"fmt"
	"log"
	"time"

	"meanrev-trader/internal/model"
)

const sendTimeout = 10 * time.Second

// Dispatcher fans alerts out to all configured backends. Delivery is
// fire-and-forget: a slow or failing channel never blocks the trading path.
// Individual event kinds can be muted.
type Dispatcher struct {
	notifiers []Notifier
	muted     map[EventKind]bool
}

// NewDispatcher creates a dispatcher over the given backends. muted lists
// event kinds that should be dropped silently.
func NewDispatcher(notifiers []Notifier, muted []EventKind) *Dispatcher {
	m := make(map[EventKind]bool, len(muted))
	for _, k := range muted {
		m[k] = true
	}
	return &Dispatcher{notifiers: notifiers, muted: m}
}

// Dispatch sends the alert to every backend in the background.
func (d *Dispatcher) Dispatch(alert Alert) {
	if d == nil || d.muted[alert.Kind] {
		return
	}
	for _, n := range d.notifiers {
		go func(n Notifier) {
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()
			if err := n.Send(ctx, alert); err != nil {
				log.Printf("[notify] delivery failed: %v", err)
			}
		}(n)
	}
}

// EntryOpened reports a confirmed fill.
func (d *Dispatcher) EntryOpened(p *model.Position) {
	d.Dispatch(Alert{
		Kind:   EventEntryOpened,
		Level:  AlertInfo,
		Symbol: p.Symbol,
		Title:  fmt.Sprintf("Entry filled: %s %s", p.Symbol, p.Direction),
		Message: fmt.Sprintf("qty %.8g @ %.8g, target %.8g, stop %.8g",
			p.Quantity, p.EntryPrice, p.TargetPrice, p.StopLossPrice),
	})
}

// EntryCancelled reports an entry that expired unfilled.
func (d *Dispatcher) EntryCancelled(p *model.Position, reason string) {
	d.Dispatch(Alert{
		Kind:    EventEntryCancelled,
		Level:   AlertInfo,
		Symbol:  p.Symbol,
		Title:   fmt.Sprintf("Entry cancelled: %s %s", p.Symbol, p.Direction),
		Message: reason,
	})
}

// PositionClosed reports a terminal close with its reconciled P&L.
func (d *Dispatcher) PositionClosed(p *model.Position) {
	level := AlertInfo
	if p.RealizedPnL < 0 {
		level = AlertWarning
	}
	d.Dispatch(Alert{
		Kind:   EventPositionClosed,
		Level:  level,
		Symbol: p.Symbol,
		Title:  fmt.Sprintf("Closed %s %s via %s", p.Symbol, p.Direction, p.ExitType),
		Message: fmt.Sprintf("exit %.8g, realized P&L %.4f",
			p.ExitPrice, p.RealizedPnL),
	})
}

// InstrumentDeactivated reports a symbol removed from the universe.
func (d *Dispatcher) InstrumentDeactivated(symbol, reason string) {
	d.Dispatch(Alert{
		Kind:    EventInstrumentDeactivated,
		Level:   AlertWarning,
		Symbol:  symbol,
		Title:   fmt.Sprintf("Instrument deactivated: %s", symbol),
		Message: reason,
	})
}

// SystemError reports a condition needing operator attention.
func (d *Dispatcher) SystemError(symbol, title string, err error) {
	msg := title
	if err != nil {
		msg = err.Error()
	}
	d.Dispatch(Alert{
		Kind:    EventSystemError,
		Level:   AlertCritical,
		Symbol:  symbol,
		Title:   title,
		Message: msg,
	})
}
