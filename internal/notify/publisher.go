package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alanyoungcy/perpcore/internal/domain"
)

// Event types an alert can be filtered on.
const (
	EventRequestExecuted = "request_executed"
	EventPositionClosed  = "position_closed"
)

var _ domain.EventPublisher = (*Publisher)(nil)

// Publisher forwards execution events to an optional downstream publisher
// and raises an operator alert for each one published. Stream appends are
// forwarded only, so every event alerts once.
type Publisher struct {
	next     domain.EventPublisher
	notifier *Notifier
}

// NewPublisher wraps next, which may be nil.
func NewPublisher(next domain.EventPublisher, notifier *Notifier) *Publisher {
	return &Publisher{next: next, notifier: notifier}
}

type executionEvent struct {
	Event          string `json:"event"`
	Request        string `json:"request"`
	Position       string `json:"position"`
	User           string `json:"user"`
	IsLong         bool   `json:"is_long"`
	IsIncrease     bool   `json:"is_increase"`
	SizeDelta      string `json:"size_delta"`
	ExecutionPrice string `json:"execution_price"`
	PriceImpact    string `json:"price_impact"`
	Closed         bool   `json:"closed"`
}

// Publish forwards payload, then alerts. Only a downstream failure is
// returned; alert failures are logged by the Notifier.
func (p *Publisher) Publish(ctx context.Context, channel string, payload []byte) error {
	var err error
	if p.next != nil {
		err = p.next.Publish(ctx, channel, payload)
	}

	var evt executionEvent
	if jerr := json.Unmarshal(payload, &evt); jerr == nil && evt.Event != "" {
		event, title, message := render(evt)
		_ = p.notifier.Notify(ctx, event, title, message)
	}
	return err
}

// StreamAppend forwards to the downstream publisher.
func (p *Publisher) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	if p.next == nil {
		return nil
	}
	return p.next.StreamAppend(ctx, stream, payload)
}

func render(evt executionEvent) (event, title, message string) {
	side := "short"
	if evt.IsLong {
		side = "long"
	}
	action := "decrease"
	if evt.IsIncrease {
		action = "increase"
	}

	event = evt.Event
	title = fmt.Sprintf("%s %s executed", side, action)
	if evt.Closed {
		event = EventPositionClosed
		title = fmt.Sprintf("%s position closed", side)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "position %s\n", evt.Position)
	fmt.Fprintf(&b, "user %s\n", evt.User)
	fmt.Fprintf(&b, "size delta %s at %s (impact %s)", evt.SizeDelta, evt.ExecutionPrice, evt.PriceImpact)
	return event, title, b.String()
}
