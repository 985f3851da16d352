// Package journal records billing events for operators. It is write-only:
// billing decisions never read from it.
package journal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"podpiska-billing/internal/common/logger"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/google/uuid"
)

type EventType string

const (
	EventCheckoutCreated EventType = "checkout.created"
	EventCheckoutFailed  EventType = "checkout.failed"
	EventWebhookApplied  EventType = "webhook.applied"
	EventWebhookIgnored  EventType = "webhook.ignored"
	EventChargeSucceeded EventType = "charge.succeeded"
	EventChargeDeclined  EventType = "charge.declined"
	EventAccessRevoked   EventType = "access.revoked"
	EventTokenCleared    EventType = "token.cleared"
)

type Event struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	UserID        int64     `json:"userId,omitempty"`
	TrackingID    string    `json:"trackingId,omitempty"`
	TransactionID string    `json:"transactionId,omitempty"`
	Amount        int64     `json:"amount,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	CycleID       string    `json:"cycleId,omitempty"`
	At            time.Time `json:"at"`
}

// Journal records events. Record never fails the caller.
type Journal interface {
	Record(ctx context.Context, event Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, Event) {}

// Elasticsearch indexes each event as one document.
type Elasticsearch struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewElasticsearch(client *elasticsearch.Client, index string, log logger.Logger) *Elasticsearch {
	return &Elasticsearch{
		client: client,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "journal"}),
	}
}

func (e *Elasticsearch) Record(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	if err := e.indexEvent(ctx, event); err != nil {
		e.logger.Warn("failed to record billing event", map[string]interface{}{
			"type":   string(event.Type),
			"userId": event.UserID,
			"error":  err.Error(),
		})
	}
}

func (e *Elasticsearch) indexEvent(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	res, err := e.client.Index(
		e.index,
		bytes.NewReader(body),
		e.client.Index.WithContext(ctx),
		e.client.Index.WithDocumentID(event.ID),
	)
	if err != nil {
		return fmt.Errorf("index request failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("index error %s: %s", res.Status(), string(detail))
	}
	return nil
}
