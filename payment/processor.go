// Package payment turns verified payment provider events into order
// settlements.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dawitel/storefront-edge/cache"
	"github.com/rs/zerolog"
)

// DefaultDedupTTL is how long a settled event ID is remembered.
const DefaultDedupTTL = 24 * time.Hour

// ErrMissingOrderID is returned when a checkout session carries no order id.
var ErrMissingOrderID = errors.New("checkout session has no order id")

// SettlementHandler is a callback for settled checkouts.
//
// Delivery is at-least-once. Redeliveries of one event are serialized within
// a Processor, but two instances sharing a Redis store can both run the
// handler before either marks the event processed, so handlers must be
// idempotent per Settlement.EventID.
type SettlementHandler func(ctx context.Context, s Settlement) error

// Processor processes payment events
type Processor struct {
	logger  zerolog.Logger
	cache   cache.Cache
	handler SettlementHandler
	ttl     time.Duration
	locks   eventLocks
}

// eventLocks hands out one mutex per in-flight event ID.
type eventLocks struct {
	mu   sync.Mutex
	held map[string]*eventLock
}

type eventLock struct {
	mu   sync.Mutex
	refs int
}

func (l *eventLocks) lock(id string) func() {
	l.mu.Lock()
	if l.held == nil {
		l.held = make(map[string]*eventLock)
	}
	el, ok := l.held[id]
	if !ok {
		el = &eventLock{}
		l.held[id] = el
	}
	el.refs++
	l.mu.Unlock()

	el.mu.Lock()
	return func() {
		el.mu.Unlock()
		l.mu.Lock()
		el.refs--
		if el.refs == 0 {
			delete(l.held, id)
		}
		l.mu.Unlock()
	}
}

// NewProcessor creates a new payment event processor
func NewProcessor(logger zerolog.Logger, c cache.Cache, handler SettlementHandler, ttl time.Duration) *Processor {
	if c == nil {
		c = cache.NewNoOpCache()
	}
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &Processor{
		logger:  logger,
		cache:   c,
		handler: handler,
		ttl:     ttl,
	}
}

// ParseEvent decodes a webhook body. Call it only after the signature over
// the same bytes has been verified.
func ParseEvent(body []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return Event{}, fmt.Errorf("failed to parse payment event: %w", err)
	}
	if evt.ID == "" {
		return Event{}, errors.New("payment event has no id")
	}
	return evt, nil
}

// ProcessEvent settles a single event. Events already processed are skipped.
// Unhandled event types are acknowledged and ignored. Concurrent calls for
// the same event ID run one at a time, so a redelivery that arrives while the
// first delivery is still settling waits and then sees it as processed.
func (p *Processor) ProcessEvent(ctx context.Context, evt Event) error {
	status, handled := statusFor(evt.Type)
	if !handled {
		p.logger.Debug().
			Str("event_id", evt.ID).
			Str("event_type", evt.Type).
			Msg("Ignoring unhandled payment event type")
		return nil
	}

	unlock := p.locks.lock(evt.ID)
	defer unlock()

	processed, err := p.cache.IsProcessed(ctx, evt.ID)
	if err != nil {
		p.logger.Warn().
			Err(err).
			Str("event_id", evt.ID).
			Msg("Failed to check if event is processed, continuing")
	} else if processed {
		p.logger.Debug().
			Str("event_id", evt.ID).
			Msg("Event already processed, skipping")
		return nil
	}

	var session CheckoutSession
	if err := json.Unmarshal(evt.Data.Object, &session); err != nil {
		return fmt.Errorf("failed to parse checkout session: %w", err)
	}

	settlement, err := settlementFrom(evt, session, status)
	if err != nil {
		return err
	}

	if p.handler != nil {
		if err := p.handler(ctx, settlement); err != nil {
			return fmt.Errorf("settlement handler failed for order %s: %w", settlement.OrderID, err)
		}
	}

	if err := p.cache.MarkProcessed(ctx, evt.ID, p.ttl); err != nil {
		p.logger.Warn().
			Err(err).
			Str("event_id", evt.ID).
			Msg("Failed to mark event as processed")
	}

	p.logger.Info().
		Str("event_id", evt.ID).
		Str("order_id", settlement.OrderID).
		Str("status", settlement.Status).
		Msg("Payment event settled")

	return nil
}

func statusFor(eventType string) (string, bool) {
	switch eventType {
	case EventCheckoutCompleted:
		return "", true
	case EventAsyncPaymentSucceeded:
		return StatusPaid, true
	case EventAsyncPaymentFailed:
		return StatusFailed, true
	case EventCheckoutExpired:
		return StatusExpired, true
	default:
		return "", false
	}
}

func settlementFrom(evt Event, session CheckoutSession, status string) (Settlement, error) {
	orderID := session.Metadata["order_id"]
	if orderID == "" {
		orderID = session.ClientReferenceID
	}
	if orderID == "" {
		return Settlement{}, ErrMissingOrderID
	}

	// A completed session may still be awaiting an async payment method.
	if status == "" {
		if session.PaymentStatus == StatusPaid {
			status = StatusPaid
		} else {
			status = StatusUnpaid
		}
	}

	email := session.CustomerEmail
	if email == "" && session.CustomerDetails != nil {
		email = session.CustomerDetails.Email
	}

	return Settlement{
		EventID:       evt.ID,
		EventType:     evt.Type,
		OrderID:       orderID,
		SessionID:     session.ID,
		PaymentIntent: session.PaymentIntent,
		Email:         strings.ToLower(strings.TrimSpace(email)),
		AmountTotal:   session.AmountTotal,
		Currency:      strings.ToUpper(session.Currency),
		Status:        status,
	}, nil
}
