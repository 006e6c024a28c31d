package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/tenant-provisioning-service/internal/model"
)

// LifecycleEvent is published whenever a tenant changes lifecycle state
type LifecycleEvent struct {
	TenantID uuid.UUID    `json:"tenant_id"`
	Slug     string       `json:"slug"`
	Status   model.Status `json:"status"`
	Error    string       `json:"error,omitempty"`
	At       time.Time    `json:"at"`
}

// Notifier turns tenant changes into lifecycle events on
// <subject>.<status>, e.g. tenants.lifecycle.active
type Notifier struct {
	publisher Publisher
	subject   string
	clock     clock.Clock
}

// NewNotifier creates a Notifier. A nil clock uses wall time.
func NewNotifier(p Publisher, subject string, clk clock.Clock) *Notifier {
	if clk == nil {
		clk = clock.New()
	}
	return &Notifier{publisher: p, subject: strings.TrimSuffix(subject, "."), clock: clk}
}

// Subject returns the subject events for status are published on
func (n *Notifier) Subject(status model.Status) string {
	return n.subject + "." + strings.ToLower(string(status))
}

// TenantChanged publishes the tenant's current state. Delivery is best
// effort; failures are logged and never reach the caller.
func (n *Notifier) TenantChanged(ctx context.Context, t *model.Tenant) {
	if n == nil || n.publisher == nil || t == nil {
		return
	}
	payload, err := json.Marshal(LifecycleEvent{
		TenantID: t.ID,
		Slug:     t.Slug,
		Status:   t.Status,
		Error:    t.LastError,
		At:       n.clock.Now().UTC(),
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode lifecycle event")
		return
	}
	subject := n.Subject(t.Status)
	if err := n.publisher.Publish(ctx, subject, payload); err != nil {
		log.Warn().Err(err).Str("subject", subject).Str("tenant_id", t.ID.String()).Msg("Failed to publish lifecycle event")
	}
}
